// Package store implements the append-only persistence layer: every packet
// the engine observes is written once, keyed by a monotonic sequence number,
// and readable back by a client polling for rows newer than a checkpoint or
// rows from the last 24 hours.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS mesh_packets (
	sequence_number INTEGER PRIMARY KEY AUTOINCREMENT,
	log_time TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	id INTEGER NOT NULL,
	from_node TEXT NOT NULL,
	to_node TEXT NOT NULL,
	channel INTEGER NOT NULL,
	rx_time INTEGER NOT NULL,
	rx_snr REAL NOT NULL,
	rx_rssi INTEGER NOT NULL,
	hop_limit INTEGER NOT NULL,
	hop_start INTEGER NOT NULL,
	want_ack INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	via_mqtt INTEGER NOT NULL,
	pki_encrypted INTEGER NOT NULL,
	next_hop INTEGER NOT NULL,
	relay_node INTEGER NOT NULL,
	public_key BLOB,
	channel_name TEXT,
	port_num TEXT,
	data BLOB,
	connection_name TEXT NOT NULL,
	connection_hint TEXT,
	gateway TEXT NOT NULL
)`

// Packet is one row of the append-only store: a MeshPacket's fields plus the
// engine's decrypt/ingest-time annotations. Sequence is set by the store on
// insert and ignored on input.
type Packet struct {
	Sequence       int64
	LogTime        time.Time
	ID             uint32
	From           string // canonical textual NodeId
	To             string
	Channel        uint32
	RxTime         int64
	RxSNR          float32
	RxRSSI         int32
	HopLimit       uint32
	HopStart       uint32
	WantAck        bool
	Priority       int32
	ViaMQTT        bool
	PKIEncrypted   bool
	NextHop        uint32
	RelayNode      uint32
	PublicKey      []byte
	ChannelName    string // empty/NULL for PKI packets
	PortNum        string // empty/NULL when the payload could not be decrypted
	Data           []byte // decoded Data bytes if PortNum is set, else raw ciphertext
	ConnectionName string // which configured transport this arrived on
	ConnectionHint string // e.g. MQTT channel/topic hint, if any
	Gateway        string // canonical textual NodeId of the reporting gateway
}

// Store wraps a SQLite database holding the mesh_packets table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertPacket appends p to the store, returning the sequence number it was
// assigned. Insert failures are the caller's to log; the engine treats
// persistence as best-effort and keeps forwarding packets regardless.
func (s *Store) InsertPacket(ctx context.Context, p Packet) (int64, error) {
	var nullablePortNum, nullableChannelName any
	if p.PortNum != "" {
		nullablePortNum = p.PortNum
	}
	if p.ChannelName != "" {
		nullableChannelName = p.ChannelName
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mesh_packets (
			id, from_node, to_node, channel, rx_time, rx_snr, rx_rssi,
			hop_limit, hop_start, want_ack, priority, via_mqtt, pki_encrypted,
			next_hop, relay_node, public_key, channel_name, port_num, data,
			connection_name, connection_hint, gateway
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.From, p.To, p.Channel, p.RxTime, p.RxSNR, p.RxRSSI,
		p.HopLimit, p.HopStart, p.WantAck, p.Priority, p.ViaMQTT, p.PKIEncrypted,
		p.NextHop, p.RelayNode, p.PublicKey, nullableChannelName, nullablePortNum, p.Data,
		p.ConnectionName, p.ConnectionHint, p.Gateway,
	)
	if err != nil {
		return 0, fmt.Errorf("store: inserting packet: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: reading assigned sequence number: %w", err)
	}
	return id, nil
}

const queryColumns = `sequence_number, log_time, id, from_node, to_node, channel, rx_time,
	rx_snr, rx_rssi, hop_limit, hop_start, want_ack, priority, via_mqtt, pki_encrypted,
	next_hop, relay_node, public_key, channel_name, port_num, data,
	connection_name, connection_hint, gateway`

// QuerySince returns up to limit rows with sequence_number > start, ascending.
func (s *Store) QuerySince(ctx context.Context, start int64, limit int) ([]Packet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queryColumns+` FROM mesh_packets WHERE sequence_number > ? ORDER BY sequence_number ASC LIMIT ?`,
		start, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying since %d: %w", start, err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

// QueryRecent returns up to limit rows logged within the last `since`
// duration, ascending by sequence_number. Used when a client omits `start`.
func (s *Store) QueryRecent(ctx context.Context, since time.Duration, limit int) ([]Packet, error) {
	cutoff := time.Now().Add(-since).UTC().Format("2006-01-02 15:04:05")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queryColumns+` FROM mesh_packets WHERE log_time >= ? ORDER BY sequence_number ASC LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying recent rows: %w", err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

func scanPackets(rows *sql.Rows) ([]Packet, error) {
	var out []Packet
	for rows.Next() {
		var p Packet
		var logTime string
		var channelName, portNum sql.NullString
		var wantAck, viaMQTT, pkiEncrypted int
		if err := rows.Scan(
			&p.Sequence, &logTime, &p.ID, &p.From, &p.To, &p.Channel, &p.RxTime,
			&p.RxSNR, &p.RxRSSI, &p.HopLimit, &p.HopStart, &wantAck, &p.Priority, &viaMQTT, &pkiEncrypted,
			&p.NextHop, &p.RelayNode, &p.PublicKey, &channelName, &portNum, &p.Data,
			&p.ConnectionName, &p.ConnectionHint, &p.Gateway,
		); err != nil {
			return nil, fmt.Errorf("store: scanning row: %w", err)
		}
		p.WantAck = wantAck != 0
		p.ViaMQTT = viaMQTT != 0
		p.PKIEncrypted = pkiEncrypted != 0
		p.ChannelName = channelName.String
		p.PortNum = portNum.String
		if parsed, err := time.Parse("2006-01-02 15:04:05", logTime); err == nil {
			p.LogTime = parsed
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating rows: %w", err)
	}
	return out, nil
}

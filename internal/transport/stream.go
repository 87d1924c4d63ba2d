package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/charmbracelet/log"

	"github.com/soft-mesh/meshgate/internal/framing"
)

const defaultHeartbeatInterval = 5 * time.Second

// Dialer opens the underlying byte connection a Stream transport frames
// messages over: a TCP *net.TCPConn or a serial.Port, both satisfying
// io.ReadWriteCloser.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Stream is the framed byte-stream transport shared by TCP and serial
// connections: it writes the wakeup sequence and a WantConfigId(0) request
// on connect, runs a heartbeat ticker so the radio doesn't time the link
// out, and surfaces both decoded FromRadio packets and unstructured
// boot-log bytes.
type Stream struct {
	dial              Dialer
	heartbeatInterval time.Duration
	log               *log.Logger

	conn      io.ReadWriteCloser
	writeMu   sync.Mutex
	dec       framing.Decoder
	inbound   chan streamItem
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type streamItem struct {
	recv framing.Recv
	err  error
}

// NewStream builds a Stream transport, dialing its connection lazily at
// Connect time via dial.
func NewStream(dial Dialer) *Stream {
	return &Stream{
		dial:              dial,
		heartbeatInterval: defaultHeartbeatInterval,
		log:               log.Default().WithPrefix("transport.stream"),
	}
}

func (s *Stream) String() string {
	return "stream"
}

// Connect dials the connection, writes the wakeup magic followed by a
// WantConfigId(0) request, then starts the background reader and heartbeat
// goroutines.
func (s *Stream) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("stream: dialing: %w", err)
	}

	if _, err := conn.Write(framing.Wakeup[:]); err != nil {
		conn.Close()
		return fmt.Errorf("stream: writing wakeup sequence: %w", err)
	}

	wantConfig, err := framing.EncodeToRadio(&meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_WantConfigId{WantConfigId: 0},
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("stream: encoding WantConfigId: %w", err)
	}
	if _, err := conn.Write(wantConfig); err != nil {
		conn.Close()
		return fmt.Errorf("stream: writing WantConfigId: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.inbound = make(chan streamItem, 16)

	go s.readLoop(runCtx)
	go s.heartbeatLoop(runCtx)
	return nil
}

func (s *Stream) readLoop(ctx context.Context) {
	buf := make([]byte, framing.MaxPacketSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			select {
			case s.inbound <- streamItem{err: fmt.Errorf("stream: reading: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		items, err := s.dec.Feed(buf[:n])
		if err != nil {
			select {
			case s.inbound <- streamItem{err: fmt.Errorf("stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		for _, item := range items {
			select {
			case s.inbound <- streamItem{recv: item}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Stream) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := framing.EncodeToRadio(&meshtastic.ToRadio{
				PayloadVariant: &meshtastic.ToRadio_Heartbeat{Heartbeat: &meshtastic.Heartbeat{}},
			})
			if err != nil {
				s.log.Warn("encoding heartbeat", "err", err)
				continue
			}
			if err := s.write(frame); err != nil {
				s.log.Warn("writing heartbeat", "err", err)
			}
		}
	}
}

func (s *Stream) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(frame)
	return err
}

// recvRaw waits for the next decoded framing.Recv, without filtering down to
// mesh packets. Used directly by MqttStream, which also cares about
// MqttClientProxyMessage frames.
func (s *Stream) recvRaw(ctx context.Context) (framing.Recv, error) {
	if s.inbound == nil {
		return framing.Recv{}, ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return framing.Recv{}, ctx.Err()
	case item := <-s.inbound:
		if item.err != nil {
			return framing.Recv{}, item.err
		}
		return item.recv, nil
	}
}

// Recv waits for the next decoded item: a structured FromRadio packet, or a
// run of unstructured bytes.
func (s *Stream) Recv(ctx context.Context) (Inbound, error) {
	for {
		recv, err := s.recvRaw(ctx)
		if err != nil {
			return Inbound{}, err
		}
		if !recv.IsStructured() {
			return Inbound{Unstructured: recv.Unstructured}, nil
		}
		packetVariant, ok := recv.FromRadio.PayloadVariant.(*meshtastic.FromRadio_Packet)
		if !ok {
			// Administrative message (config, node info, log record, ...):
			// nothing for the router to forward.
			continue
		}
		return Inbound{Packet: packetVariant.Packet}, nil
	}
}

// Send frames packet as a ToRadio_Packet and writes it.
func (s *Stream) Send(ctx context.Context, packet *meshtastic.MeshPacket) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	frame, err := framing.EncodeToRadio(&meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_Packet{Packet: packet},
	})
	if err != nil {
		return fmt.Errorf("stream: encoding packet: %w", err)
	}
	if err := s.write(frame); err != nil {
		return fmt.Errorf("stream: writing packet: %w", err)
	}
	return nil
}

// Disconnect sends a Disconnect(true) notice, stops the background
// goroutines, and closes the connection.
func (s *Stream) Disconnect(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	frame, err := framing.EncodeToRadio(&meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_Disconnect{Disconnect: true},
	})
	if err == nil {
		_ = s.write(frame)
	}

	var closeErr error
	s.closeOnce.Do(func() {
		s.cancel()
		closeErr = s.conn.Close()
	})
	return closeErr
}

// Package engine wires the scheduler, router, keyring and persistence layer
// into the soft node's single cooperative loop: beacons fire on schedule,
// packets flow in from any transport, get decrypted, persisted, and fanned
// back out to every other transport.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/charmbracelet/log"
	"google.golang.org/protobuf/proto"

	"github.com/soft-mesh/meshgate/internal/config"
	"github.com/soft-mesh/meshgate/internal/keyring"
	"github.com/soft-mesh/meshgate/internal/router"
	"github.com/soft-mesh/meshgate/internal/scheduler"
	"github.com/soft-mesh/meshgate/internal/store"
)

// Engine owns the soft node's run loop: besides the router's per-transport
// readers, its only concurrency is one goroutine that feeds Router.Recv
// results into the loop, which processes one event (a timer fire or a
// received packet) at a time.
type Engine struct {
	router *router.Router
	keys   *keyring.Keyring
	store  *store.Store
	sched  *scheduler.Scheduler

	soft            config.SoftNodeConfig
	beaconSlots     [][]beaconSlot
	connectionNames []string

	log *log.Logger
}

// New builds an Engine. connectionNames must have one entry per transport
// held by r, in the same order, used to label persisted rows.
func New(r *router.Router, keys *keyring.Keyring, st *store.Store, soft config.SoftNodeConfig, connectionNames []string) *Engine {
	slots := buildBeaconSlots(soft.Channels)

	var ids []scheduler.BeaconID
	for channelIdx, channelSlots := range slots {
		for slotIdx := range channelSlots {
			ids = append(ids, scheduler.BeaconID{ChannelIndex: channelIdx, BeaconIndex: slotIdx})
		}
	}

	return &Engine{
		router:          r,
		keys:            keys,
		store:           st,
		sched:           scheduler.New(ids, time.Now()),
		soft:            soft,
		beaconSlots:     slots,
		connectionNames: connectionNames,
		log:             log.Default().WithPrefix("engine"),
	}
}

// Run drives the loop until ctx is canceled or the router's receive side
// fails terminally. Scheduler and persistence errors never terminate the
// loop; they are logged and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	recvCh := make(chan router.Received)
	errCh := make(chan error, 1)

	go func() {
		for {
			received, err := e.router.Recv(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case recvCh <- received:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var timer *time.Timer
		var timerC <-chan time.Time
		if wakeup, ok := e.sched.NextWakeup(); ok {
			d := time.Until(wakeup)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-timerC:
			e.handleTimerEvent(ctx)
		case received := <-recvCh:
			stopTimer(timer)
			e.handleNetworkEvent(ctx, received)
		case err := <-errCh:
			stopTimer(timer)
			return fmt.Errorf("engine: router receive failed: %w", err)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (e *Engine) handleTimerEvent(ctx context.Context) {
	now := time.Now()
	for {
		id, ok := e.sched.PopReady(now)
		if !ok {
			return
		}
		e.publishBeacon(ctx, id)
		if interval := e.beaconSlots[id.ChannelIndex][id.BeaconIndex].interval; interval > 0 {
			e.sched.Reinsert(id, now, interval)
		}
	}
}

func (e *Engine) publishBeacon(ctx context.Context, id scheduler.BeaconID) {
	channelCfg := e.soft.Channels[id.ChannelIndex]
	slot := e.beaconSlots[id.ChannelIndex][id.BeaconIndex]

	portNum, payload, err := packBeacon(slot, e.soft)
	if err != nil {
		e.log.Error("failed to pack beacon payload", "channel", channelCfg.Name, "err", err)
		return
	}

	selfID, err := keyring.ParseNodeId(e.soft.NodeID)
	if err != nil {
		e.log.Error("failed to parse soft node id", "err", err)
		return
	}
	packetID, err := randomPacketID()
	if err != nil {
		e.log.Error("failed to generate beacon packet id", "err", err)
		return
	}

	data := &meshtastic.Data{Portnum: portNum, Payload: payload}
	decoded, err := proto.Marshal(data)
	if err != nil {
		e.log.Error("failed to marshal beacon Data", "err", err)
		return
	}

	cryptor, hash, ok := e.keys.CryptorForChannel(selfID, channelCfg.Name)
	if !ok {
		e.log.Error("no cryptor configured for beacon channel, skipping", "channel", channelCfg.Name)
		return
	}
	encrypted, err := cryptor.Encrypt(packetID, decoded)
	if err != nil {
		e.log.Error("failed to encrypt beacon payload", "channel", channelCfg.Name, "err", err)
		return
	}

	packet := &meshtastic.MeshPacket{
		From:           selfID.Uint32(),
		To:             keyring.Broadcast.Uint32(),
		Id:             packetID,
		Channel:        hash,
		HopLimit:       channelCfg.HopStart,
		HopStart:       channelCfg.HopStart,
		Priority:       meshtastic.MeshPacket_DEFAULT,
		PayloadVariant: &meshtastic.MeshPacket_Encrypted{Encrypted: encrypted},
	}

	e.persist(ctx, persistInput{
		packet:         packet,
		channelName:    channelCfg.Name,
		portNum:        portNum.String(),
		data:           decoded,
		connectionName: "beacon",
		gateway:        selfID,
	})

	e.router.Send(ctx, -1, packet)
}

func randomPacketID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generating packet id: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (e *Engine) handleNetworkEvent(ctx context.Context, received router.Received) {
	inbound := received.Inbound
	if !inbound.IsPacket() {
		if len(inbound.Unstructured) > 0 {
			e.log.Debug("received unstructured bytes", "transport", received.TransportIndex, "len", len(inbound.Unstructured))
		}
		return
	}
	packet := inbound.Packet
	from := keyring.NodeId(packet.From)
	to := keyring.NodeId(packet.To)

	var portNum, channelName string
	var data []byte

	switch variant := packet.PayloadVariant.(type) {
	case *meshtastic.MeshPacket_Decoded:
		portNum = variant.Decoded.Portnum.String()
		if marshaled, err := proto.Marshal(variant.Decoded); err == nil {
			data = marshaled
		}
		e.observeIfNodeInfo(from, variant.Decoded)

	case *meshtastic.MeshPacket_Encrypted:
		ciphertext := variant.Encrypted
		data = ciphertext
		if cryptor, name, ok := e.keys.DecryptorFor(from, to, packet.Channel); ok {
			plaintext, err := cryptor.Decrypt(packet.Id, ciphertext)
			if err != nil {
				e.log.Warn("failed to decrypt packet", "from", from, "to", to, "err", err)
				break
			}
			var decoded meshtastic.Data
			if err := proto.Unmarshal(plaintext, &decoded); err != nil {
				e.log.Warn("failed to parse decrypted packet payload", "from", from, "err", err)
				break
			}
			portNum = decoded.Portnum.String()
			channelName = name
			data = plaintext
			e.observeIfNodeInfo(from, &decoded)
		} else {
			e.log.Debug("no decryptor for packet", "from", from, "to", to, "channel", packet.Channel)
		}
	}

	gateway := from
	if inbound.GatewayID != 0 {
		gateway = keyring.NodeId(inbound.GatewayID)
	}
	connectionName := "unknown"
	if received.TransportIndex >= 0 && received.TransportIndex < len(e.connectionNames) {
		connectionName = e.connectionNames[received.TransportIndex]
	}

	e.persist(ctx, persistInput{
		packet:         packet,
		channelName:    channelName,
		portNum:        portNum,
		data:           data,
		connectionName: connectionName,
		connectionHint: inbound.ChannelName,
		gateway:        gateway,
	})

	e.router.Send(ctx, received.TransportIndex, packet)
}

func (e *Engine) observeIfNodeInfo(from keyring.NodeId, data *meshtastic.Data) {
	if data.Portnum != meshtastic.PortNum_NODEINFO_APP {
		return
	}
	var user meshtastic.User
	if err := proto.Unmarshal(data.Payload, &user); err != nil {
		e.log.Warn("failed to parse NodeInfo user record", "from", from, "err", err)
		return
	}
	e.keys.ObserveNodeInfo(from, user.PublicKey)
}

type persistInput struct {
	packet         *meshtastic.MeshPacket
	channelName    string
	portNum        string
	data           []byte
	connectionName string
	connectionHint string
	gateway        keyring.NodeId
}

func (e *Engine) persist(ctx context.Context, in persistInput) {
	p := store.Packet{
		ID:             in.packet.Id,
		From:           keyring.NodeId(in.packet.From).String(),
		To:             keyring.NodeId(in.packet.To).String(),
		Channel:        in.packet.Channel,
		RxTime:         int64(in.packet.RxTime),
		RxSNR:          in.packet.RxSnr,
		RxRSSI:         in.packet.RxRssi,
		HopLimit:       in.packet.HopLimit,
		HopStart:       in.packet.HopStart,
		WantAck:        in.packet.WantAck,
		Priority:       int32(in.packet.Priority),
		ViaMQTT:        in.packet.ViaMqtt,
		PKIEncrypted:   in.packet.PkiEncrypted,
		NextHop:        in.packet.NextHop,
		RelayNode:      in.packet.RelayNode,
		PublicKey:      in.packet.PublicKey,
		ChannelName:    in.channelName,
		PortNum:        in.portNum,
		Data:           in.data,
		ConnectionName: in.connectionName,
		ConnectionHint: in.connectionHint,
		Gateway:        in.gateway.String(),
	}
	if _, err := e.store.InsertPacket(ctx, p); err != nil {
		e.log.Error("failed to persist packet, forwarding anyway", "id", in.packet.Id, "err", err)
	}
}

package engine

import (
	"fmt"
	"math"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"github.com/soft-mesh/meshgate/internal/config"
	"github.com/soft-mesh/meshgate/internal/keyring"
)

type beaconKind int

const (
	beaconKindNodeInfo beaconKind = iota
	beaconKindPosition
)

// beaconSlot is one scheduled publication on one channel: either the soft
// node's own NodeInfo or a fixed Position, re-fired on its own interval.
type beaconSlot struct {
	kind     beaconKind
	interval time.Duration
	position *config.BeaconConfig
}

// buildBeaconSlots flattens each channel's publish descriptors into the
// slot list the scheduler indexes by (channelIndex, beaconIndex).
func buildBeaconSlots(channels []config.ChannelConfig) [][]beaconSlot {
	slots := make([][]beaconSlot, len(channels))
	for i, ch := range channels {
		var s []beaconSlot
		if ch.Publish.NodeInfo != nil {
			s = append(s, beaconSlot{kind: beaconKindNodeInfo, interval: ch.Publish.NodeInfo.Interval})
		}
		if ch.Publish.Position != nil {
			s = append(s, beaconSlot{kind: beaconKindPosition, interval: ch.Publish.Position.Interval, position: ch.Publish.Position})
		}
		slots[i] = s
	}
	return slots
}

// packBeacon encodes a beacon slot's payload, following the firmware's own
// NodeInfo/Position wire shapes.
func packBeacon(slot beaconSlot, soft config.SoftNodeConfig) (meshtastic.PortNum, []byte, error) {
	switch slot.kind {
	case beaconKindNodeInfo:
		return packNodeInfo(soft)
	case beaconKindPosition:
		return packPosition(slot.position)
	default:
		return 0, nil, fmt.Errorf("engine: unknown beacon kind %d", slot.kind)
	}
}

func packNodeInfo(soft config.SoftNodeConfig) (meshtastic.PortNum, []byte, error) {
	selfID, err := keyring.ParseNodeId(soft.NodeID)
	if err != nil {
		return 0, nil, fmt.Errorf("engine: parsing soft node id for NodeInfo beacon: %w", err)
	}
	privateKey, err := keyring.ParseKey(soft.PrivateKey)
	if err != nil {
		return 0, nil, fmt.Errorf("engine: parsing soft node private key for NodeInfo beacon: %w", err)
	}
	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return 0, nil, fmt.Errorf("engine: deriving public key for NodeInfo beacon: %w", err)
	}

	user := &meshtastic.User{
		Id:             selfID.String(),
		LongName:       soft.Name,
		ShortName:      soft.ShortName,
		HwModel:        meshtastic.HardwareModel_ANDROID_SIM,
		PublicKey:      publicKey.AsBytes(),
		IsUnmessagable: proto.Bool(false),
	}
	payload, err := proto.Marshal(user)
	if err != nil {
		return 0, nil, fmt.Errorf("engine: marshaling NodeInfo beacon: %w", err)
	}
	return meshtastic.PortNum_NODEINFO_APP, payload, nil
}

func packPosition(cfg *config.BeaconConfig) (meshtastic.PortNum, []byte, error) {
	pos := &meshtastic.Position{
		LatitudeI:      proto.Int32(int32(math.Round(cfg.Latitude / 1e-7))),
		LongitudeI:     proto.Int32(int32(math.Round(cfg.Longitude / 1e-7))),
		AltitudeHae:    proto.Int32(cfg.Altitude),
		LocationSource: meshtastic.Position_LOC_MANUAL,
		AltitudeSource: meshtastic.Position_ALT_MANUAL,
		Time:           uint32(time.Now().Unix()),
	}
	payload, err := proto.Marshal(pos)
	if err != nil {
		return 0, nil, fmt.Errorf("engine: marshaling Position beacon: %w", err)
	}
	return meshtastic.PortNum_POSITION_APP, payload, nil
}

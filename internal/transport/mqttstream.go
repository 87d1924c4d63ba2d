package transport

import (
	"context"
	"fmt"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"github.com/soft-mesh/meshgate/internal/framing"
	"github.com/soft-mesh/meshgate/internal/keyring"
)

// MqttStream tunnels MQTT ServiceEnvelopes through a radio's stream link
// using MqttClientProxyMessage, for devices whose MQTT module proxies
// through the host rather than connecting to a broker directly.
type MqttStream struct {
	Stream    *Stream
	Gateway   keyring.NodeId
	RootTopic string
}

// NewMqttStream wraps an already-constructed Stream transport.
func NewMqttStream(stream *Stream, gateway keyring.NodeId, rootTopic string) *MqttStream {
	return &MqttStream{Stream: stream, Gateway: gateway, RootTopic: rootTopic}
}

func (m *MqttStream) String() string {
	return "mqtt-stream"
}

// Connect delegates to the underlying Stream.
func (m *MqttStream) Connect(ctx context.Context) error {
	return m.Stream.Connect(ctx)
}

// Recv waits for the next mesh packet, whether it arrived directly from the
// radio or was proxied in from the radio's own MQTT connection, or for the
// next run of unstructured bytes.
func (m *MqttStream) Recv(ctx context.Context) (Inbound, error) {
	for {
		recv, err := m.Stream.recvRaw(ctx)
		if err != nil {
			return Inbound{}, err
		}
		if !recv.IsStructured() {
			return Inbound{Unstructured: recv.Unstructured}, nil
		}

		switch variant := recv.FromRadio.PayloadVariant.(type) {
		case *meshtastic.FromRadio_Packet:
			return Inbound{Packet: variant.Packet}, nil
		case *meshtastic.FromRadio_MqttClientProxyMessage:
			inbound, ok, err := decodeProxyMessage(variant.MqttClientProxyMessage)
			if err != nil {
				return Inbound{}, err
			}
			if !ok {
				continue
			}
			return inbound, nil
		default:
			continue
		}
	}
}

func decodeProxyMessage(proxy *meshtastic.MqttClientProxyMessage) (Inbound, bool, error) {
	data, ok := proxy.GetPayloadVariant().(*meshtastic.MqttClientProxyMessage_Data)
	if !ok {
		// Text payloads carry diagnostic strings, not mesh traffic.
		return Inbound{}, false, nil
	}

	var envelope meshtastic.ServiceEnvelope
	if err := proto.Unmarshal(data.Data, &envelope); err != nil {
		return Inbound{}, false, fmt.Errorf("mqtt-stream: decoding proxied ServiceEnvelope: %w", err)
	}
	if envelope.Packet == nil {
		return Inbound{}, false, fmt.Errorf("mqtt-stream: proxied ServiceEnvelope has no packet")
	}
	gatewayID, err := keyring.ParseNodeId(envelope.GetGatewayId())
	if err != nil {
		return Inbound{}, false, fmt.Errorf("mqtt-stream: invalid proxied gateway id %q: %w", envelope.GetGatewayId(), err)
	}
	return Inbound{
		Packet:      envelope.Packet,
		ChannelName: envelope.GetChannelId(),
		GatewayID:   gatewayID.Uint32(),
	}, true, nil
}

// Send publishes packet over MQTT proxied through the radio's stream link
// under the "PKI" direct-message channel segment.
func (m *MqttStream) Send(ctx context.Context, packet *meshtastic.MeshPacket) error {
	return m.SendOnChannel(ctx, "", packet)
}

// SendOnChannel is like Send but lets the caller name the channel segment of
// the topic explicitly.
func (m *MqttStream) SendOnChannel(ctx context.Context, channelName string, packet *meshtastic.MeshPacket) error {
	if channelName == "" {
		channelName = "PKI"
	}
	envelope := &meshtastic.ServiceEnvelope{
		Packet:    packet,
		ChannelId: channelName,
		GatewayId: m.Gateway.String(),
	}
	payload, err := proto.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("mqtt-stream: encoding ServiceEnvelope: %w", err)
	}

	topic := fmt.Sprintf("%s/2/e/%s/%s", m.RootTopic, channelName, m.Gateway)
	proxy := &meshtastic.MqttClientProxyMessage{
		Topic:    topic,
		Retained: false,
		PayloadVariant: &meshtastic.MqttClientProxyMessage_Data{
			Data: payload,
		},
	}
	frame, err := framing.EncodeToRadio(&meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_MqttClientProxyMessage{MqttClientProxyMessage: proxy},
	})
	if err != nil {
		return fmt.Errorf("mqtt-stream: encoding proxy frame: %w", err)
	}
	return m.Stream.write(frame)
}

// Disconnect delegates to the underlying Stream.
func (m *MqttStream) Disconnect(ctx context.Context) error {
	return m.Stream.Disconnect(ctx)
}

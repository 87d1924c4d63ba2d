package transport

import (
	"context"
	"fmt"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"google.golang.org/protobuf/proto"

	"github.com/soft-mesh/meshgate/internal/keyring"
)

const mqttConnectTimeout = 10 * time.Second

// MQTT bridges a soft node onto a Meshtastic MQTT broker, subscribing to
// every channel/gateway under RootTopic and publishing ServiceEnvelope
// messages under RootTopic/2/e/<channel>/<from>.
type MQTT struct {
	BrokerURL string
	Username  string
	Password  string
	RootTopic string
	Gateway   keyring.NodeId

	client  mqtt.Client
	inbound chan mqttItem
}

type mqttItem struct {
	envelope *meshtastic.ServiceEnvelope
	err      error
}

// NewMQTT builds an MQTT transport. brokerURL is a full paho URL, e.g.
// "tcp://mqtt.meshtastic.org:1883".
func NewMQTT(brokerURL, username, password, rootTopic string, gateway keyring.NodeId) *MQTT {
	return &MQTT{
		BrokerURL: brokerURL,
		Username:  username,
		Password:  password,
		RootTopic: rootTopic,
		Gateway:   gateway,
	}
}

func (m *MQTT) String() string {
	return fmt.Sprintf("mqtt(%s)", m.BrokerURL)
}

// Connect dials the broker and subscribes to every channel/gateway topic
// under RootTopic.
func (m *MQTT) Connect(ctx context.Context) error {
	m.inbound = make(chan mqttItem, 32)

	opts := mqtt.NewClientOptions().
		AddBroker(m.BrokerURL).
		SetClientID(m.Gateway.String()).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt: connecting to %s timed out", m.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connecting to %s: %w", m.BrokerURL, err)
	}

	topic := m.RootTopic + "/2/e/+/+"
	subToken := m.client.Subscribe(topic, 0, m.onMessage)
	if !subToken.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt: subscribing to %s timed out", topic)
	}
	if err := subToken.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribing to %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var envelope meshtastic.ServiceEnvelope
	if err := proto.Unmarshal(msg.Payload(), &envelope); err != nil {
		m.inbound <- mqttItem{err: fmt.Errorf("mqtt: decoding ServiceEnvelope: %w", err)}
		return
	}
	m.inbound <- mqttItem{envelope: &envelope}
}

// Recv waits for the next ServiceEnvelope and surfaces its packet along with
// the channel name and gateway id it arrived with.
func (m *MQTT) Recv(ctx context.Context) (Inbound, error) {
	if m.inbound == nil {
		return Inbound{}, ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	case item := <-m.inbound:
		if item.err != nil {
			return Inbound{}, item.err
		}
		gatewayID, err := keyring.ParseNodeId(item.envelope.GetGatewayId())
		if err != nil {
			return Inbound{}, fmt.Errorf("mqtt: invalid gateway id %q: %w", item.envelope.GetGatewayId(), err)
		}
		return Inbound{
			Packet:      item.envelope.GetPacket(),
			ChannelName: item.envelope.GetChannelId(),
			GatewayID:   gatewayID.Uint32(),
		}, nil
	}
}

// Send wraps packet in a ServiceEnvelope and publishes it under
// RootTopic/2/e/PKI/<from>: it always uses the literal "PKI" channel
// segment. SendOnChannel names the channel segment instead.
func (m *MQTT) Send(ctx context.Context, packet *meshtastic.MeshPacket) error {
	return m.publish(ctx, "", packet)
}

// SendOnChannel is like Send but lets the caller name the channel segment of
// the topic explicitly. An empty channelName publishes under "PKI".
func (m *MQTT) SendOnChannel(ctx context.Context, channelName string, packet *meshtastic.MeshPacket) error {
	return m.publish(ctx, channelName, packet)
}

func (m *MQTT) publish(ctx context.Context, channelName string, packet *meshtastic.MeshPacket) error {
	if m.client == nil {
		return ErrNotConnected
	}
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
		return fmt.Errorf("mqtt: encoding ServiceEnvelope: %w", err)
	}
	topic := fmt.Sprintf("%s/2/e/%s/%d", m.RootTopic, channelName, packet.GetFrom())
	token := m.client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publishing to %s: %w", topic, err)
	}
	return nil
}

// Disconnect gracefully closes the broker connection.
func (m *MQTT) Disconnect(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	m.client.Disconnect(250)
	m.client = nil
	return nil
}

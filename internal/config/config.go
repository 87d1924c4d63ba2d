// Package config loads and bootstraps the soft node's YAML configuration:
// its identity, the channels it beacons on, how it talks to the mesh, and
// the keyring material needed to decrypt what it hears.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soft-mesh/meshgate/internal/keyring"
)

// TransportVariant selects which concrete transport the engine dials.
type TransportVariant string

const (
	TransportUDP        TransportVariant = "udp"
	TransportTCP        TransportVariant = "tcp"
	TransportSerial     TransportVariant = "serial"
	TransportMQTT       TransportVariant = "mqtt"
	TransportMQTTStream TransportVariant = "mqtt_stream"
)

// BeaconConfig describes one periodic beacon a channel publishes.
type BeaconConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Latitude/Longitude/Altitude are only meaningful for Position beacons.
	Latitude  float64 `yaml:"latitude,omitempty"`
	Longitude float64 `yaml:"longitude,omitempty"`
	Altitude  int32   `yaml:"altitude,omitempty"`
}

// PublishConfig names the beacons a channel publishes. A nil entry means that
// beacon kind is not published on this channel; a zero Interval means it is
// published once at startup and not repeated.
type PublishConfig struct {
	NodeInfo *BeaconConfig `yaml:"node_info,omitempty"`
	Position *BeaconConfig `yaml:"position,omitempty"`
}

// ChannelConfig is one entry in soft_node.channels.
type ChannelConfig struct {
	Name     string        `yaml:"name"`
	Publish  PublishConfig `yaml:"publish"`
	HopStart uint32        `yaml:"hop_start"`
}

// SoftNodeConfig is the soft node's own identity and channel list.
type SoftNodeConfig struct {
	NodeID     string          `yaml:"node_id"`
	Name       string          `yaml:"name"`
	ShortName  string          `yaml:"short_name"`
	PrivateKey string          `yaml:"private_key"`
	Channels   []ChannelConfig `yaml:"channels"`
}

// TransportConfig selects and parameterizes the link to the mesh. Address is
// the UDP bind address, the TCP dial address, or the serial port path,
// depending on Variant; for MQTTStream it is the stream link (TCP or serial,
// per StreamIsSerial) the radio's own MQTT proxy is tunneled over.
type TransportConfig struct {
	Variant           TransportVariant `yaml:"variant"`
	Address           string           `yaml:"address,omitempty"`
	Port              string           `yaml:"port,omitempty"`
	StreamIsSerial    bool             `yaml:"stream_is_serial,omitempty"`
	BrokerURL         string           `yaml:"broker_url,omitempty"`
	Username          string           `yaml:"username,omitempty"`
	Password          string           `yaml:"password,omitempty"`
	RootTopic         string           `yaml:"root_topic,omitempty"`
	HeartbeatInterval time.Duration    `yaml:"heartbeat_interval,omitempty"`
}

// KeyChannelConfig is one known channel's name and key, used to populate the keyring.
type KeyChannelConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// KeyPeerConfig is one known peer's identity and key material.
type KeyPeerConfig struct {
	NodeID     string `yaml:"node_id"`
	PublicKey  string `yaml:"public_key,omitempty"`
	PrivateKey string `yaml:"private_key,omitempty"`
}

// KeysConfig is the keyring bootstrap section.
type KeysConfig struct {
	Channels []KeyChannelConfig `yaml:"channels"`
	Peers    []KeyPeerConfig    `yaml:"peers"`
}

// Config is the full soft_node.yaml document.
type Config struct {
	SoftNode  SoftNodeConfig   `yaml:"soft_node"`
	Transport TransportConfig  `yaml:"transport"`
	Keys      KeysConfig       `yaml:"keys"`
	Database  string           `yaml:"database"`
	HTTPAddr  string           `yaml:"http_addr,omitempty"`
}

// Default returns a config with sane out-of-the-box values: a fresh random
// identity, the LongFast default channel, and UDP multicast transport --
// matching the firmware's own defaults.
func Default() (Config, error) {
	nodeID, err := keyring.RandomNodeId()
	if err != nil {
		return Config{}, fmt.Errorf("config: generating default node id: %w", err)
	}
	privateKey, err := keyring.GenerateK256()
	if err != nil {
		return Config{}, fmt.Errorf("config: generating default private key: %w", err)
	}

	return Config{
		SoftNode: SoftNodeConfig{
			NodeID:     nodeID.String(),
			Name:       "SoftNode",
			ShortName:  "SOFT",
			PrivateKey: privateKey.String(),
			Channels: []ChannelConfig{
				{
					Name:     "LongFast",
					HopStart: 3,
					Publish: PublishConfig{
						NodeInfo: &BeaconConfig{Interval: 15 * time.Minute},
					},
				},
			},
		},
		Transport: TransportConfig{
			Variant:           TransportUDP,
			Address:           "224.0.0.69:4403",
			HeartbeatInterval: 5 * time.Minute,
		},
		Keys: KeysConfig{
			Channels: []KeyChannelConfig{
				{Name: "LongFast", Key: base64.StdEncoding.EncodeToString(keyring.DefaultPSK[:])},
			},
		},
		Database: "softnode.db",
		HTTPAddr: ":8080",
	}, nil
}

// Load reads the YAML config at path. If the file does not exist, it writes
// a freshly generated default config to path and returns that, so a first
// run bootstraps its own identity instead of failing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg, err := Default()
		if err != nil {
			return Config{}, err
		}
		if writeErr := Write(path, cfg); writeErr != nil {
			return Config{}, writeErr
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Write serializes cfg as YAML to path.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// BuildKeyring constructs a Keyring from the config's soft node identity and
// keys section: the soft node's own private key is registered as a local
// peer, configured channels get their symmetric keys, and each configured
// peer is registered as a local peer when it lists a private key, otherwise
// as a remote peer with its public key (or no key). A peer whose node id is
// already registered is left as it is.
func BuildKeyring(cfg Config) (*keyring.Keyring, error) {
	k := keyring.New()

	selfID, err := keyring.ParseNodeId(cfg.SoftNode.NodeID)
	if err != nil {
		return nil, fmt.Errorf("config: parsing soft_node.node_id: %w", err)
	}
	selfKey, err := keyring.ParseKey(cfg.SoftNode.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("config: parsing soft_node.private_key: %w", err)
	}
	if _, err := k.AddPeer(selfID, selfKey); err != nil {
		return nil, fmt.Errorf("config: registering soft node as local peer: %w", err)
	}

	for _, ch := range cfg.Keys.Channels {
		key, err := keyring.ParseKey(ch.Key)
		if err != nil {
			return nil, fmt.Errorf("config: parsing key for channel %q: %w", ch.Name, err)
		}
		k.AddChannel(ch.Name, key)
	}

	for _, peer := range cfg.Keys.Peers {
		nodeID, err := keyring.ParseNodeId(peer.NodeID)
		if err != nil {
			return nil, fmt.Errorf("config: parsing peer node_id %q: %w", peer.NodeID, err)
		}
		switch {
		case peer.PrivateKey != "":
			key, err := keyring.ParseKey(peer.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("config: parsing private key for peer %q: %w", peer.NodeID, err)
			}
			if _, err := k.AddPeer(nodeID, key); err != nil {
				return nil, fmt.Errorf("config: registering peer %q: %w", peer.NodeID, err)
			}
		case peer.PublicKey != "":
			key, err := keyring.ParseKey(peer.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("config: parsing public key for peer %q: %w", peer.NodeID, err)
			}
			k.AddRemotePeer(nodeID, key)
		default:
			k.AddRemotePeer(nodeID, keyring.EmptyKey)
		}
	}

	return k, nil
}

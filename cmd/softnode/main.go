// Command softnode runs a Meshtastic "soft node" gateway: a virtual mesh
// participant that beacons its own presence, observes and relays traffic
// across its configured transports, and journals everything it sees to
// SQLite behind an HTTP sync endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soft-mesh/meshgate/internal/api"
	"github.com/soft-mesh/meshgate/internal/config"
	"github.com/soft-mesh/meshgate/internal/engine"
	"github.com/soft-mesh/meshgate/internal/keyring"
	"github.com/soft-mesh/meshgate/internal/router"
	"github.com/soft-mesh/meshgate/internal/store"
	"github.com/soft-mesh/meshgate/internal/transport"
)

func main() {
	configPath := flag.String("config", "soft_node.yaml", "path to the soft node's YAML config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		log.Fatal("softnode exited with error", "err", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	keys, err := config.BuildKeyring(cfg)
	if err != nil {
		return fmt.Errorf("building keyring: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	tr, connectionName, err := buildTransport(cfg)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}

	r := router.New(tr)
	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	defer cancelConnect()
	if err := r.Connect(connectCtx); err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}
	defer r.Disconnect(context.Background())

	if cfg.HTTPAddr != "" {
		go serveSyncAPI(ctx, cfg.HTTPAddr, st)
	}

	e := engine.New(r, keys, st, cfg.SoftNode, []string{connectionName})
	log.Info("softnode running", "node_id", cfg.SoftNode.NodeID, "transport", connectionName)

	if err := e.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	return nil
}

func serveSyncAPI(ctx context.Context, addr string, st *store.Store) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(st).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("sync API server failed", "err", err)
	}
}

func buildTransport(cfg config.Config) (transport.Transport, string, error) {
	switch cfg.Transport.Variant {
	case config.TransportUDP:
		bindAddr, err := net.ResolveUDPAddr("udp", cfg.Transport.Address)
		if err != nil {
			return nil, "", fmt.Errorf("resolving udp bind address %q: %w", cfg.Transport.Address, err)
		}
		var multicast *transport.Multicast
		remoteAddr := bindAddr
		if host, _, err := net.SplitHostPort(cfg.Transport.Address); err == nil {
			if ip := net.ParseIP(host); ip != nil && ip.IsMulticast() {
				multicast = &transport.Multicast{GroupAddr: bindAddr}
			}
		}
		return transport.NewUDP(bindAddr, remoteAddr, multicast), "udp", nil

	case config.TransportTCP:
		addr := cfg.Transport.Address
		dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
		return transport.NewStream(dial), "tcp", nil

	case config.TransportSerial:
		port := cfg.Transport.Address
		dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
			return transport.OpenSerial(port)
		}
		return transport.NewStream(dial), "serial", nil

	case config.TransportMQTT:
		selfID, err := keyring.ParseNodeId(cfg.SoftNode.NodeID)
		if err != nil {
			return nil, "", fmt.Errorf("parsing soft_node.node_id: %w", err)
		}
		mqtt := transport.NewMQTT(cfg.Transport.BrokerURL, cfg.Transport.Username, cfg.Transport.Password, cfg.Transport.RootTopic, selfID)
		return mqtt, "mqtt", nil

	case config.TransportMQTTStream:
		selfID, err := keyring.ParseNodeId(cfg.SoftNode.NodeID)
		if err != nil {
			return nil, "", fmt.Errorf("parsing soft_node.node_id: %w", err)
		}
		addr := cfg.Transport.Address
		var dial transport.Dialer
		if cfg.Transport.StreamIsSerial {
			dial = func(ctx context.Context) (io.ReadWriteCloser, error) {
				return transport.OpenSerial(addr)
			}
		} else {
			dial = func(ctx context.Context) (io.ReadWriteCloser, error) {
				var d net.Dialer
				return d.DialContext(ctx, "tcp", addr)
			}
		}
		stream := transport.NewStream(dial)
		return transport.NewMqttStream(stream, selfID, cfg.Transport.RootTopic), "mqtt_stream", nil

	default:
		return nil, "", fmt.Errorf("unknown transport variant %q", cfg.Transport.Variant)
	}
}

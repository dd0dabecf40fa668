package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Bus is the embedded NATS server carrying swarm events and submissions.
// Messages are fire-and-forget; nothing is persisted by the broker.
type Bus struct {
	server *natsserver.Server
}

func serverOptions(cfg config.NATSConfig) *natsserver.Options {
	opts := &natsserver.Options{
		ServerName: "swarmbot",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		StoreDir:   cfg.DataDir,
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = natsserver.RANDOM_PORT
	}
	return opts
}

// New starts the server and waits until it accepts connections.
func New(cfg config.NATSConfig) (*Bus, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
	}

	ns, err := natsserver.NewServer(serverOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}
	return &Bus{server: ns}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// NumClients reports connected clients, including the gateway's own.
func (b *Bus) NumClients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}

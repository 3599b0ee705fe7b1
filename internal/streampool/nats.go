package streampool

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// natsConn wraps one NATS connection plus its JetStream context. *nats.Conn
// is safe for concurrent publish, which is what lets Acquire hand out shared
// handles.
type natsConn struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// dialNATS is the default DialFunc. The pool owns reconnection, so client
// auto-reconnect is disabled.
func dialNATS(cfg *models.StreamConfig) (Conn, error) {
	opts := []nats.Option{
		nats.Name("event-delivery"),
		nats.NoReconnect(),
	}

	switch cfg.AuthMode {
	case models.StreamAuthNone, "":
	case models.StreamAuthToken:
		opts = append(opts, nats.Token(cfg.Token))
	case models.StreamAuthNkey:
		nkey, err := nats.NkeyOptionFromSeed(cfg.NkeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load nkey seed: %w", err)
		}
		opts = append(opts, nkey)
	case models.StreamAuthCredsFile:
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	default:
		return nil, fmt.Errorf("unknown stream auth mode %q", cfg.AuthMode)
	}

	nc, err := nats.Connect(cfg.URLs, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream cluster: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &natsConn{nc: nc, js: js}, nil
}

func (c *natsConn) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("jetstream publish failed: %w", err)
	}
	return nil
}

func (c *natsConn) IsConnected() bool {
	return c.nc.IsConnected()
}

func (c *natsConn) Close() {
	c.nc.Close()
}

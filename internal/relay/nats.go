package relay

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

type natsConnection interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type NATSPublisher struct {
	conn natsConnection
}

func NewNATSPublisher(address string) (*NATSPublisher, error) {
	if address == "" {
		address = nats.DefaultURL
	}
	conn, err := nats.Connect(address, nats.Name("autoboard-relay"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p == nil || p.conn == nil {
		return fmt.Errorf("nats publisher is nil")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return p.conn.Publish(subject, payload)
}

// Close flushes pending messages before closing the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

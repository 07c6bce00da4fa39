// Package relay republishes run events to an external broker so other
// processes can follow card runs without polling the daemon.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"autoboard/internal/types"
)

const (
	BackendRedis = "redis"
	BackendNATS  = "nats"

	DefaultSubjectPrefix = "autoboard"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// Envelope is the wire form of a relayed run event.
type Envelope struct {
	Kind        types.RunEventKind `json:"kind"`
	CardID      string             `json:"cardId"`
	PublishedAt time.Time          `json:"publishedAt"`
	Payload     json.RawMessage    `json:"payload"`
}

func NewEnvelope(event types.RunEvent, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Kind:        event.Kind,
		CardID:      event.CardID,
		PublishedAt: now.UTC(),
		Payload:     payload,
	}, nil
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.CardID == "" || env.Kind == "" {
		return Envelope{}, fmt.Errorf("relay envelope is missing card id or kind")
	}
	return env, nil
}

// Subject names the channel for a card event: <prefix>.cards.<cardId>.<kind>.
func Subject(prefix, cardID string, kind types.RunEventKind) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ".cards." + cardID + "." + string(kind)
}

// Open connects the publisher for backend. An empty backend disables the relay
// and returns a nil publisher.
func Open(backend, url string) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "":
		return nil, nil
	case BackendRedis:
		pub, err := NewRedisPublisher(url)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case BackendNATS:
		pub, err := NewNATSPublisher(url)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported relay backend: %s", backend)
	}
}

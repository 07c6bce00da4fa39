package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

const (
	defaultForwarderBuffer = 1024
	publishTimeout         = 5 * time.Second
)

// Forwarder buffers run events handed to Handle and publishes them from Run.
// Events are dropped, and counted, when the buffer is full.
type Forwarder struct {
	publisher Publisher
	prefix    string
	events    chan types.RunEvent
	logger    logging.Logger
	now       func() time.Time
	dropped   atomic.Int64
	published atomic.Int64
}

type ForwarderOption func(*Forwarder)

func WithForwarderLogger(logger logging.Logger) ForwarderOption {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithForwarderBuffer(size int) ForwarderOption {
	return func(f *Forwarder) {
		if size > 0 {
			f.events = make(chan types.RunEvent, size)
		}
	}
}

func NewForwarder(publisher Publisher, prefix string, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		publisher: publisher,
		prefix:    prefix,
		events:    make(chan types.RunEvent, defaultForwarderBuffer),
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Handle never blocks; it is registered as a run event tap.
func (f *Forwarder) Handle(event types.RunEvent) {
	select {
	case f.events <- event:
	default:
		if f.dropped.Add(1) == 1 {
			f.logger.Warn("relay_buffer_full", logging.F("card_id", event.CardID))
		}
	}
}

// Run publishes until ctx is done, then closes the publisher.
func (f *Forwarder) Run(ctx context.Context) error {
	defer func() {
		if err := f.publisher.Close(); err != nil {
			f.logger.Warn("relay_close_failed", logging.Err(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-f.events:
			f.forward(ctx, event)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, event types.RunEvent) {
	env, err := NewEnvelope(event, f.now())
	if err != nil {
		f.logger.Warn("relay_encode_failed", logging.F("card_id", event.CardID), logging.Err(err))
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		f.logger.Warn("relay_encode_failed", logging.F("card_id", event.CardID), logging.Err(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	subject := Subject(f.prefix, event.CardID, event.Kind)
	if err := f.publisher.Publish(publishCtx, subject, raw); err != nil {
		f.logger.Warn("relay_publish_failed", logging.F("subject", subject), logging.Err(err))
		return
	}
	f.published.Add(1)
}

func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

func (f *Forwarder) Published() int64 {
	return f.published.Load()
}

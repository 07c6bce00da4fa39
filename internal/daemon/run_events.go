package daemon

import (
	"fmt"
	"sync"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

type RunEventHandler func(types.RunEvent)

type runListener struct {
	id      int
	kind    types.RunEventKind
	handler RunEventHandler
}

// runEventHub fans run events out to per-card listeners and global taps.
// Handlers run on the publishing goroutine and must not block.
type runEventHub struct {
	mu     sync.Mutex
	nextID int
	byCard map[string][]*runListener
	taps   []*runListener
	logger logging.Logger
}

func newRunEventHub(logger logging.Logger) *runEventHub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &runEventHub{
		byCard: make(map[string][]*runListener),
		logger: logger,
	}
}

// subscribe registers handler for events of cardID. An empty kind matches
// every kind.
func (h *runEventHub) subscribe(cardID string, kind types.RunEventKind, handler RunEventHandler) func() {
	if handler == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	listener := &runListener{id: h.nextID, kind: kind, handler: handler}
	h.byCard[cardID] = append(h.byCard[cardID], listener)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			remaining := removeListener(h.byCard[cardID], listener.id)
			if len(remaining) == 0 {
				delete(h.byCard, cardID)
				return
			}
			h.byCard[cardID] = remaining
		})
	}
}

func (h *runEventHub) tap(handler RunEventHandler) func() {
	if handler == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	listener := &runListener{id: h.nextID, handler: handler}
	h.taps = append(h.taps, listener)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.taps = removeListener(h.taps, listener.id)
			h.mu.Unlock()
		})
	}
}

func (h *runEventHub) publish(event types.RunEvent) {
	h.mu.Lock()
	listeners := make([]*runListener, 0, len(h.byCard[event.CardID])+len(h.taps))
	for _, listener := range h.byCard[event.CardID] {
		if listener.kind == "" || listener.kind == event.Kind {
			listeners = append(listeners, listener)
		}
	}
	listeners = append(listeners, h.taps...)
	h.mu.Unlock()

	for _, listener := range listeners {
		h.invoke(listener, event)
	}
}

func (h *runEventHub) listenerCount(cardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byCard[cardID])
}

func (h *runEventHub) invoke(listener *runListener, event types.RunEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("run_event_handler_panic",
				logging.F("card_id", event.CardID),
				logging.F("kind", string(event.Kind)),
				logging.F("panic", fmt.Sprint(r)),
			)
		}
	}()
	listener.handler(event)
}

// removeListener returns a fresh slice so snapshots taken by publish stay valid.
func removeListener(listeners []*runListener, id int) []*runListener {
	out := make([]*runListener, 0, len(listeners))
	for _, listener := range listeners {
		if listener.id != id {
			out = append(out, listener)
		}
	}
	return out
}

package daemon

import (
	"context"
	"sync"

	"autoboard/internal/types"
)

// eventQueue is an unbounded FIFO filled by hub callbacks and drained by a
// single stream writer, so slow clients never block publishers.
type eventQueue struct {
	mu     sync.Mutex
	items  []types.RunEvent
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(event types.RunEvent) {
	q.mu.Lock()
	q.items = append(q.items, event)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []types.RunEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *eventQueue) ready() <-chan struct{} {
	return q.notify
}

// cardStream replays persisted logs of a card and then follows its live
// events. Logs are delivered once each, in sequence order.
type cardStream struct {
	cardID      string
	logs        CardLogStore
	queue       *eventQueue
	unsubscribe func()
	lastSeq     int64
	snapshot    RunSnapshot
	hasRun      bool
}

// openCardStream subscribes before reading the store so no log falls
// between the replay and the live feed.
func (a *API) openCardStream(ctx context.Context, cardID string, after int64) (*cardStream, []*types.CardLog, error) {
	if a.Runs == nil || a.Runs.Registry() == nil || a.Stores == nil || a.Stores.CardLogs == nil {
		return nil, nil, unavailableError("runs not available", nil)
	}
	if _, err := a.board().GetCard(ctx, cardID); err != nil {
		return nil, nil, err
	}
	registry := a.Runs.Registry()
	queue := newEventQueue()
	stream := &cardStream{
		cardID:      cardID,
		logs:        a.Stores.CardLogs,
		queue:       queue,
		unsubscribe: registry.Subscribe(cardID, queue.push),
		lastSeq:     after,
	}
	stream.snapshot, stream.hasRun = registry.Snapshot(cardID)
	replay, err := stream.logs.ListAfterSequence(ctx, cardID, after)
	if err != nil {
		stream.Close()
		return nil, nil, err
	}
	return stream, replay, nil
}

// accept reports whether a log with seq is new to the client and advances
// the cursor.
func (s *cardStream) accept(seq int64) bool {
	if seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}

// finishedAtOpen reports whether the card's run had already ended when the
// stream opened.
func (s *cardStream) finishedAtOpen() bool {
	return s.hasRun && s.snapshot.Status.Terminal()
}

// catchUp returns logs persisted after the cursor; used once the run ended
// to pick up records written after the terminal status.
func (s *cardStream) catchUp(ctx context.Context) []*types.CardLog {
	logs, err := s.logs.ListAfterSequence(ctx, s.cardID, s.lastSeq)
	if err != nil {
		return nil
	}
	return logs
}

func (s *cardStream) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

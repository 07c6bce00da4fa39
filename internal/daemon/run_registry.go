package daemon

import (
	"context"
	"strings"
	"sync"
	"time"

	"autoboard/internal/agent"
	"autoboard/internal/logging"
	"autoboard/internal/types"
)

const cancelledByUserMessage = "Cancelled by user"

// LogAppender persists emitted log records.
type LogAppender interface {
	CreateLog(ctx context.Context, record *types.CardLog) (*types.CardLog, error)
}

type runState struct {
	cardID     string
	cancel     context.CancelFunc
	messages   []agent.Message
	status     types.RunStatus
	err        string
	session    agent.Session
	needsInput bool

	// emitMu serialises sequence allocation, persistence and publication.
	emitMu   sync.Mutex
	sequence int64
}

// RunSnapshot is a read-only copy of a card's run.
type RunSnapshot struct {
	CardID     string
	Status     types.RunStatus
	Error      string
	NeedsInput bool
	Messages   []agent.Message
	Sequence   int64
	HasSession bool
}

// RunRegistry tracks at most one run per card and publishes its events.
type RunRegistry struct {
	mu     sync.Mutex
	runs   map[string]*runState
	hub    *runEventHub
	logs   LogAppender
	logger logging.Logger
	now    func() time.Time
}

type RunRegistryOption func(*RunRegistry)

func WithRunRegistryLogger(logger logging.Logger) RunRegistryOption {
	return func(r *RunRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRunRegistryClock(now func() time.Time) RunRegistryOption {
	return func(r *RunRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunRegistry(logs LogAppender, opts ...RunRegistryOption) *RunRegistry {
	r := &RunRegistry{
		runs:   make(map[string]*runState),
		logs:   logs,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.hub = newRunEventHub(r.logger)
	return r
}

// CreateRun replaces any run of cardID with a fresh running one whose
// sequence counter starts at initialSequence.
func (r *RunRegistry) CreateRun(cardID string, cancel context.CancelFunc, initialSequence int64) {
	r.mu.Lock()
	r.runs[cardID] = newRunState(cardID, cancel, initialSequence)
	r.mu.Unlock()
	r.publishStatus(cardID, types.RunStatusRunning, "")
}

// CreateRunIfIdle creates the run only when cardID has none running.
func (r *RunRegistry) CreateRunIfIdle(cardID string, cancel context.CancelFunc, initialSequence int64) bool {
	r.mu.Lock()
	if existing, ok := r.runs[cardID]; ok && existing.status == types.RunStatusRunning {
		r.mu.Unlock()
		return false
	}
	r.runs[cardID] = newRunState(cardID, cancel, initialSequence)
	r.mu.Unlock()
	r.publishStatus(cardID, types.RunStatusRunning, "")
	return true
}

func newRunState(cardID string, cancel context.CancelFunc, initialSequence int64) *runState {
	if initialSequence < 0 {
		initialSequence = 0
	}
	return &runState{
		cardID:   cardID,
		cancel:   cancel,
		status:   types.RunStatusRunning,
		sequence: initialSequence,
	}
}

func (r *RunRegistry) IsRunning(cardID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[cardID]
	return ok && run.status == types.RunStatusRunning
}

func (r *RunRegistry) Has(cardID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[cardID]
	return ok
}

// UpdateStatus records status and err. Terminal runs keep their status.
func (r *RunRegistry) UpdateStatus(cardID string, status types.RunStatus, errMessage string) {
	r.mu.Lock()
	run, ok := r.runs[cardID]
	if !ok || run.status.Terminal() {
		r.mu.Unlock()
		return
	}
	run.status = status
	run.err = errMessage
	if status.Terminal() {
		run.needsInput = false
	}
	r.mu.Unlock()
	r.publishStatus(cardID, status, errMessage)
}

func (r *RunRegistry) AddMessage(cardID string, msg agent.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[cardID]; ok {
		run.messages = append(run.messages, msg)
	}
}

func (r *RunRegistry) SetSession(cardID string, session agent.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[cardID]; ok {
		run.session = session
	}
}

func (r *RunRegistry) Session(cardID string) (agent.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[cardID]
	if !ok {
		return nil, false
	}
	return run.session, true
}

// SetNeedsInput waits for an in-flight emit so a flag raised together with
// an ask_user log cannot overwrite a later answer.
func (r *RunRegistry) SetNeedsInput(cardID string, needsInput bool) {
	r.mu.Lock()
	run, ok := r.runs[cardID]
	r.mu.Unlock()
	if !ok {
		return
	}
	run.emitMu.Lock()
	defer run.emitMu.Unlock()
	r.mu.Lock()
	if needsInput && run.status != types.RunStatusRunning {
		r.mu.Unlock()
		return
	}
	run.needsInput = needsInput
	r.mu.Unlock()
	r.hub.publish(types.RunEvent{
		Kind:       types.RunEventNeedsInput,
		CardID:     cardID,
		NeedsInput: &types.RunNeedsInputEvent{CardID: cardID, NeedsInput: needsInput},
	})
}

// EmitLog assigns the next sequence, persists the record and publishes it.
// It returns 0 when cardID has no run. A persistence failure rolls the
// counter back and publishes nothing.
func (r *RunRegistry) EmitLog(ctx context.Context, cardID string, content types.LogContent) (int64, error) {
	return r.emit(ctx, cardID, content, false)
}

// EmitInputRequest emits content like EmitLog and raises needsInput before
// the record reaches any listener.
func (r *RunRegistry) EmitInputRequest(ctx context.Context, cardID string, content types.LogContent) (int64, error) {
	return r.emit(ctx, cardID, content, true)
}

func (r *RunRegistry) emit(ctx context.Context, cardID string, content types.LogContent, needsInput bool) (int64, error) {
	r.mu.Lock()
	run, ok := r.runs[cardID]
	r.mu.Unlock()
	if !ok {
		return 0, nil
	}

	run.emitMu.Lock()
	defer run.emitMu.Unlock()
	run.sequence++
	record := &types.CardLog{
		CardID:    cardID,
		Type:      content.Type,
		Content:   content.Encode(),
		Sequence:  run.sequence,
		CreatedAt: r.now().UTC(),
	}
	if r.logs != nil {
		saved, err := r.logs.CreateLog(ctx, record)
		if err != nil {
			run.sequence--
			r.logger.Warn("card_log_persist_failed",
				logging.F("card_id", cardID),
				logging.F("sequence", record.Sequence),
				logging.Err(err),
			)
			return 0, err
		}
		record = saved
	}
	if needsInput {
		r.mu.Lock()
		if run.status == types.RunStatusRunning {
			run.needsInput = true
		} else {
			needsInput = false
		}
		r.mu.Unlock()
	}
	event := types.LogEventFromRecord(record)
	r.hub.publish(types.RunEvent{Kind: types.RunEventLog, CardID: cardID, Log: &event})
	if needsInput {
		r.hub.publish(types.RunEvent{
			Kind:       types.RunEventNeedsInput,
			CardID:     cardID,
			NeedsInput: &types.RunNeedsInputEvent{CardID: cardID, NeedsInput: true},
		})
	}
	return record.Sequence, nil
}

// Sequence returns the last sequence allocated for cardID, 0 without a run.
func (r *RunRegistry) Sequence(cardID string) int64 {
	r.mu.Lock()
	run, ok := r.runs[cardID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	run.emitMu.Lock()
	defer run.emitMu.Unlock()
	return run.sequence
}

// CancelRun stops a running run and marks it as cancelled. It reports
// whether the card has a run at all.
func (r *RunRegistry) CancelRun(cardID string) bool {
	return r.cancelRun(cardID, cancelledByUserMessage)
}

func (r *RunRegistry) cancelRun(cardID, reason string) bool {
	r.mu.Lock()
	run, ok := r.runs[cardID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if run.status != types.RunStatusRunning {
		r.mu.Unlock()
		return true
	}
	run.status = types.RunStatusError
	run.err = reason
	run.needsInput = false
	cancel := run.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.publishStatus(cardID, types.RunStatusError, reason)
	return true
}

// CancelAll cancels every running run with reason.
func (r *RunRegistry) CancelAll(reason string) int {
	if strings.TrimSpace(reason) == "" {
		reason = cancelledByUserMessage
	}
	r.mu.Lock()
	ids := make([]string, 0, len(r.runs))
	for id, run := range r.runs {
		if run.status == types.RunStatusRunning {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.cancelRun(id, reason)
	}
	return len(ids)
}

func (r *RunRegistry) RemoveRun(cardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, cardID)
}

func (r *RunRegistry) Snapshot(cardID string) (RunSnapshot, bool) {
	r.mu.Lock()
	run, ok := r.runs[cardID]
	if !ok {
		r.mu.Unlock()
		return RunSnapshot{}, false
	}
	snapshot := RunSnapshot{
		CardID:     cardID,
		Status:     run.status,
		Error:      run.err,
		NeedsInput: run.needsInput,
		Messages:   append([]agent.Message(nil), run.messages...),
		HasSession: run.session != nil,
	}
	r.mu.Unlock()
	snapshot.Sequence = r.Sequence(cardID)
	return snapshot, true
}

// RunningCardIDs lists the cards whose run is still running.
func (r *RunRegistry) RunningCardIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id, run := range r.runs {
		if run.status == types.RunStatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *RunRegistry) OnLog(cardID string, handler func(types.RunLogEvent)) func() {
	if handler == nil {
		return func() {}
	}
	return r.hub.subscribe(cardID, types.RunEventLog, func(event types.RunEvent) {
		if event.Log != nil {
			handler(*event.Log)
		}
	})
}

func (r *RunRegistry) OnStatusChange(cardID string, handler func(types.RunStatusEvent)) func() {
	if handler == nil {
		return func() {}
	}
	return r.hub.subscribe(cardID, types.RunEventStatus, func(event types.RunEvent) {
		if event.Status != nil {
			handler(*event.Status)
		}
	})
}

func (r *RunRegistry) OnNeedsInput(cardID string, handler func(types.RunNeedsInputEvent)) func() {
	if handler == nil {
		return func() {}
	}
	return r.hub.subscribe(cardID, types.RunEventNeedsInput, func(event types.RunEvent) {
		if event.NeedsInput != nil {
			handler(*event.NeedsInput)
		}
	})
}

// Subscribe delivers every event kind of cardID to handler.
func (r *RunRegistry) Subscribe(cardID string, handler RunEventHandler) func() {
	return r.hub.subscribe(cardID, "", handler)
}

// Tap delivers the events of every card to handler.
func (r *RunRegistry) Tap(handler RunEventHandler) func() {
	return r.hub.tap(handler)
}

func (r *RunRegistry) publishStatus(cardID string, status types.RunStatus, errMessage string) {
	r.hub.publish(types.RunEvent{
		Kind:   types.RunEventStatus,
		CardID: cardID,
		Status: &types.RunStatusEvent{CardID: cardID, Status: status, Error: errMessage},
	})
}

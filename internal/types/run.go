package types

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusNotFound  RunStatus = "not_found"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError
}

type RunEventKind string

const (
	RunEventStatus     RunEventKind = "status"
	RunEventLog        RunEventKind = "log"
	RunEventNeedsInput RunEventKind = "needsInput"
)

type RunStatusEvent struct {
	CardID string    `json:"cardId"`
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

type RunLogEvent struct {
	CardID    string    `json:"cardId"`
	ID        string    `json:"id,omitempty"`
	Type      LogType   `json:"type"`
	Content   string    `json:"content"`
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
}

type RunNeedsInputEvent struct {
	CardID     string `json:"cardId"`
	NeedsInput bool   `json:"needsInput"`
}

// RunEvent wraps exactly one of the payloads according to Kind.
type RunEvent struct {
	Kind       RunEventKind        `json:"kind"`
	CardID     string              `json:"cardId"`
	Status     *RunStatusEvent     `json:"status,omitempty"`
	Log        *RunLogEvent        `json:"log,omitempty"`
	NeedsInput *RunNeedsInputEvent `json:"needsInput,omitempty"`
}

func (e RunEvent) Payload() any {
	switch e.Kind {
	case RunEventStatus:
		return e.Status
	case RunEventLog:
		return e.Log
	case RunEventNeedsInput:
		return e.NeedsInput
	default:
		return nil
	}
}

func LogEventFromRecord(record *CardLog) RunLogEvent {
	return RunLogEvent{
		CardID:    record.CardID,
		ID:        record.ID,
		Type:      record.Type,
		Content:   record.Content,
		Sequence:  record.Sequence,
		CreatedAt: record.CreatedAt,
	}
}

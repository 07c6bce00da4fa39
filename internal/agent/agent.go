// Package agent defines the coding-agent session contract the run
// orchestrator consumes, plus the Claude CLI implementation.
package agent

import (
	"context"
	"encoding/json"
)

type MessageKind string

const (
	MessageAssistant MessageKind = "assistant"
	MessageResult    MessageKind = "result"
	MessageSystem    MessageKind = "system"
	MessageUser      MessageKind = "user"
)

type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

type ContentBlock struct {
	Type  BlockType       `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message is one item of the agent stream. Content is set for assistant
// messages, Result and IsError for result messages.
type Message struct {
	Kind      MessageKind     `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Content   []ContentBlock  `json:"content,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type OpenRequest struct {
	Prompt          string
	Cwd             string
	Model           string
	Resume          string
	EnableUserInput bool
}

// Opener starts agent sessions. Cancelling ctx stops the session.
type Opener interface {
	Open(ctx context.Context, req OpenRequest) (Session, error)
}

type Session interface {
	// Recv returns the next message, io.EOF once the stream ended cleanly.
	Recv() (Message, error)
	SubmitInput(ctx context.Context, text string) error
	Close() error
}

type OpenerFunc func(ctx context.Context, req OpenRequest) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, req OpenRequest) (Session, error) {
	return f(ctx, req)
}

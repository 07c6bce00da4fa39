package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"autoboard/internal/agent"
)

const fakeWaitTimeout = 5 * time.Second

// FakeOpener hands out FakeSessions. Tests either drive each session by hand
// through Next, or install a script that plays automatically.
type FakeOpener struct {
	mu       sync.Mutex
	requests []agent.OpenRequest
	openErr  error
	script   func(req agent.OpenRequest) Script
	opened   chan *FakeSession
}

// Script is a canned transcript. Err, when set, ends the session with that
// error instead of io.EOF. Hold blocks the session after the messages until
// its context is cancelled.
type Script struct {
	Messages []agent.Message
	Err      error
	Hold     bool
}

func NewFakeOpener() *FakeOpener {
	return &FakeOpener{opened: make(chan *FakeSession, 64)}
}

func (o *FakeOpener) Open(ctx context.Context, req agent.OpenRequest) (agent.Session, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	openErr := o.openErr
	script := o.script
	o.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}
	session := newFakeSession(ctx, req)
	if script != nil {
		go session.play(script(req))
	}
	select {
	case o.opened <- session:
	default:
	}
	return session, nil
}

func (o *FakeOpener) FailOpen(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr = err
}

func (o *FakeOpener) SetScript(fn func(req agent.OpenRequest) Script) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.script = fn
}

func (o *FakeOpener) Requests() []agent.OpenRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]agent.OpenRequest(nil), o.requests...)
}

// Next waits for the next opened session.
func (o *FakeOpener) Next(t testing.TB) *FakeSession {
	t.Helper()
	select {
	case session := <-o.opened:
		return session
	case <-time.After(fakeWaitTimeout):
		t.Fatal("timed out waiting for agent session")
		return nil
	}
}

type fakeEvent struct {
	msg agent.Message
	err error
	end bool
}

type FakeSession struct {
	Request agent.OpenRequest

	ctx    context.Context
	events chan fakeEvent
	input  chan string

	mu       sync.Mutex
	inputs   []string
	finished    bool
	finalErr    error
	closed      bool
	inputClosed bool
}

func newFakeSession(ctx context.Context, req agent.OpenRequest) *FakeSession {
	return &FakeSession{
		Request: req,
		ctx:     ctx,
		events:  make(chan fakeEvent, 256),
		input:   make(chan string, 16),
	}
}

func (s *FakeSession) play(script Script) {
	for _, msg := range script.Messages {
		s.Send(msg)
	}
	if script.Hold {
		return
	}
	s.Finish(script.Err)
}

func (s *FakeSession) Send(msg agent.Message) {
	s.events <- fakeEvent{msg: msg}
}

// Finish ends the transcript; nil means a clean end.
func (s *FakeSession) Finish(err error) {
	s.events <- fakeEvent{err: err, end: true}
}

func (s *FakeSession) Recv() (agent.Message, error) {
	s.mu.Lock()
	if s.finished {
		err := s.finalErr
		s.mu.Unlock()
		return agent.Message{}, err
	}
	s.mu.Unlock()

	select {
	case ev := <-s.events:
		if !ev.end {
			return ev.msg, nil
		}
		err := ev.err
		if err == nil {
			err = io.EOF
		}
		s.mu.Lock()
		s.finished = true
		s.finalErr = err
		s.mu.Unlock()
		return agent.Message{}, err
	case <-s.ctx.Done():
		return agent.Message{}, s.ctx.Err()
	}
}

func (s *FakeSession) SubmitInput(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.finished || s.closed || s.inputClosed {
		s.mu.Unlock()
		return agent.ErrInputClosed
	}
	s.inputs = append(s.inputs, text)
	s.mu.Unlock()
	select {
	case s.input <- text:
	default:
	}
	return nil
}

// CloseInput stops accepting input while the transcript keeps running, as
// the CLI does after its result message.
func (s *FakeSession) CloseInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputClosed = true
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FakeSession) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

// WaitInput waits for the next submitted input.
func (s *FakeSession) WaitInput(t testing.TB) string {
	t.Helper()
	select {
	case text := <-s.input:
		return text
	case <-time.After(fakeWaitTimeout):
		t.Fatal("timed out waiting for user input")
		return ""
	}
}

func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Text builds an assistant message with a single text block.
func Text(text string) agent.Message {
	return agent.Message{
		Kind:    agent.MessageAssistant,
		Content: []agent.ContentBlock{{Type: agent.BlockText, Text: text}},
	}
}

// ToolUse builds an assistant message with a single tool_use block.
func ToolUse(name, input string) agent.Message {
	return agent.Message{
		Kind:    agent.MessageAssistant,
		Content: []agent.ContentBlock{{Type: agent.BlockToolUse, Name: name, Input: []byte(input)}},
	}
}

func Result(text string) agent.Message {
	return agent.Message{Kind: agent.MessageResult, Result: text}
}

func Init(sessionID string) agent.Message {
	return agent.Message{Kind: agent.MessageSystem, Subtype: "init", SessionID: sessionID}
}

var ErrScripted = errors.New("scripted agent failure")

package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"autoboard/internal/logging"
)

const (
	claudeMaxLineBytes = 1024 * 1024
	stderrTailBytes    = 4 * 1024
	stopGracePeriod    = 3 * time.Second
)

var ErrInputClosed = errors.New("agent input is closed")

// ClaudeOpener runs the claude CLI in print mode with stream-json on both
// stdin and stdout.
type ClaudeOpener struct {
	Command        string
	PermissionMode string
	Env            []string
	Logger         logging.Logger
}

func NewClaudeOpener(command, permissionMode string, logger logging.Logger) *ClaudeOpener {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ClaudeOpener{
		Command:        strings.TrimSpace(command),
		PermissionMode: strings.TrimSpace(permissionMode),
		Logger:         logger,
	}
}

func (o *ClaudeOpener) Open(ctx context.Context, req OpenRequest) (Session, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	command := o.Command
	if command == "" {
		command = "claude"
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, command, claudeArgs(req, o.PermissionMode)...)
	cmd.Cancel = func() error { return signalTerminate(cmd.Process) }
	cmd.WaitDelay = stopGracePeriod
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if len(o.Env) > 0 {
		cmd.Env = append(os.Environ(), o.Env...)
	}
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	s := &claudeSession{
		ctx:      runCtx,
		cancel:   cancel,
		cmd:      cmd,
		stdin:    stdin,
		stderr:   stderr,
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
		logger:   logger.With(logging.F("component", "claude"), logging.F("pid", cmd.Process.Pid)),
	}
	if err := s.writeUser(req.Prompt); err != nil {
		s.closeInput()
		cancel()
		_ = cmd.Wait()
		return nil, err
	}
	if !req.EnableUserInput {
		s.closeInput()
	}
	go s.readLoop(stdout)
	return s, nil
}

func claudeArgs(req OpenRequest, permissionMode string) []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	}
	if model := strings.TrimSpace(req.Model); model != "" {
		args = append(args, "--model", model)
	}
	if resume := strings.TrimSpace(req.Resume); resume != "" {
		args = append(args, "--resume", resume)
	}
	if permissionMode != "" {
		args = append(args, "--permission-mode", permissionMode)
	}
	return args
}

type claudeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stderr *tailBuffer
	logger logging.Logger

	inputMu     sync.Mutex
	stdin       io.WriteCloser
	inputClosed bool

	messages chan Message
	done     chan struct{}
	err      error
}

func (s *claudeSession) Recv() (Message, error) {
	msg, ok := <-s.messages
	if ok {
		return msg, nil
	}
	<-s.done
	if s.err != nil {
		return Message{}, s.err
	}
	return Message{}, io.EOF
}

func (s *claudeSession) SubmitInput(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("text is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeUser(text)
}

func (s *claudeSession) Close() error {
	s.closeInput()
	s.cancel()
	<-s.done
	return nil
}

func (s *claudeSession) writeUser(text string) error {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	if s.inputClosed {
		return ErrInputClosed
	}
	payload := append(buildClaudeUserPayload(text), '\n')
	if _, err := s.stdin.Write(payload); err != nil {
		return fmt.Errorf("write agent input: %w", err)
	}
	return nil
}

func (s *claudeSession) closeInput() {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	if s.inputClosed {
		return
	}
	s.inputClosed = true
	_ = s.stdin.Close()
}

func (s *claudeSession) readLoop(stdout io.ReadCloser) {
	defer close(s.done)
	defer close(s.messages)

	// Children of the CLI can hold the pipe open after it is killed.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-s.ctx.Done():
			_ = stdout.Close()
		case <-stopWatch:
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), claudeMaxLineBytes)
	for scanner.Scan() {
		msg, ok, err := ParseClaudeLine(scanner.Text())
		if err != nil {
			s.logger.Debug("claude_parse_error", logging.Err(err))
			continue
		}
		if !ok {
			continue
		}
		// The CLI waits for more stdin after a result; closing it ends the turn.
		if msg.Kind == MessageResult {
			s.closeInput()
		}
		select {
		case s.messages <- msg:
		case <-s.ctx.Done():
		}
	}
	scanErr := scanner.Err()
	// Drain so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := s.cmd.Wait()

	switch {
	case s.ctx.Err() != nil:
		s.err = s.ctx.Err()
	case scanErr != nil:
		s.err = fmt.Errorf("read agent output: %w", scanErr)
	case waitErr != nil:
		if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
			s.err = fmt.Errorf("agent exited: %w: %s", waitErr, tail)
		} else {
			s.err = fmt.Errorf("agent exited: %w", waitErr)
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if overflow := len(b.buf) - b.max; overflow > 0 {
		b.buf = b.buf[overflow:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

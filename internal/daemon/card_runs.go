package daemon

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"autoboard/internal/agent"
	"autoboard/internal/logging"
	"autoboard/internal/types"
)

type StartRunOptions struct {
	Prompt *string `json:"prompt,omitempty"`
	Model  string  `json:"model,omitempty"`
}

type StartRunResult struct {
	Success     bool   `json:"success"`
	CardID      string `json:"cardId"`
	Status      string `json:"status"`
	ProjectPath string `json:"projectPath"`
	Prompt      string `json:"prompt"`
}

type CancelRunResult struct {
	Success bool            `json:"success"`
	Status  types.RunStatus `json:"status"`
}

type RunStatusView struct {
	Status       types.RunStatus `json:"status"`
	MessageCount int             `json:"messageCount"`
	Messages     []agent.Message `json:"messages"`
	Error        string          `json:"error,omitempty"`
	NeedsInput   bool            `json:"needsInput"`
}

// CardRunService starts agent runs for cards and records their output.
type CardRunService struct {
	registry     *RunRegistry
	projects     ProjectStore
	cards        CardStore
	logs         CardLogStore
	opener       agent.Opener
	defaultModel string
	logger       logging.Logger
	wg           sync.WaitGroup
}

type CardRunOption func(*CardRunService)

func WithCardRunLogger(logger logging.Logger) CardRunOption {
	return func(s *CardRunService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithDefaultModel(model string) CardRunOption {
	return func(s *CardRunService) {
		s.defaultModel = strings.TrimSpace(model)
	}
}

func NewCardRunService(stores *Stores, registry *RunRegistry, opener agent.Opener, opts ...CardRunOption) *CardRunService {
	s := &CardRunService{
		registry: registry,
		opener:   opener,
		logger:   logging.Nop(),
	}
	if stores != nil {
		s.projects = stores.Projects
		s.cards = stores.Cards
		s.logs = stores.CardLogs
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *CardRunService) Registry() *RunRegistry {
	return s.registry
}

func (s *CardRunService) IsRunning(cardID string) bool {
	return s.registry != nil && s.registry.IsRunning(cardID)
}

type cardRun struct {
	card    *types.Card
	project *types.Project
	prompt  string
	model   string
}

// StartRun launches the agent for cardID in the background and returns as
// soon as the run is registered.
func (s *CardRunService) StartRun(ctx context.Context, cardID string, opts StartRunOptions) (*StartRunResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return nil, invalidError("card id is required", nil)
	}
	if s.registry.IsRunning(cardID) {
		return nil, conflictError("Card already has an active run", nil)
	}
	card, ok, err := s.cards.Get(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("Card not found", nil)
	}
	if strings.TrimSpace(card.ProjectID) == "" {
		return nil, invalidError("Card has no project", nil)
	}
	project, ok, err := s.projects.Get(ctx, card.ProjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("Project not found", nil)
	}
	prompt := resolvePrompt(opts.Prompt, card)
	if prompt == "" {
		return nil, invalidError("Card has no prompt: set a title, a description or pass a prompt", nil)
	}
	stored, err := s.logs.MaxSequence(ctx, cardID)
	if err != nil {
		return nil, err
	}
	seed := max(stored, s.registry.Sequence(cardID))

	runCtx, cancel := context.WithCancel(context.Background())
	if !s.registry.CreateRunIfIdle(cardID, cancel, seed) {
		cancel()
		return nil, conflictError("Card already has an active run", nil)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = s.defaultModel
	}
	s.logger.Info("card_run_started",
		logging.F("card_id", cardID),
		logging.F("project_id", project.ID),
		logging.F("resume", card.SessionID != ""),
		logging.F("sequence_seed", seed),
	)

	s.wg.Add(1)
	go s.execute(runCtx, cancel, cardRun{card: card, project: project, prompt: prompt, model: model})

	return &StartRunResult{
		Success:     true,
		CardID:      cardID,
		Status:      "started",
		ProjectPath: project.Path,
		Prompt:      prompt,
	}, nil
}

func resolvePrompt(override *string, card *types.Card) string {
	candidates := []string{card.Description, card.Title}
	if override != nil {
		candidates = append([]string{*override}, candidates...)
	}
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (s *CardRunService) execute(ctx context.Context, cancel context.CancelFunc, run cardRun) {
	defer s.wg.Done()
	defer cancel()

	cardID := run.card.ID
	logger := s.logger.With(logging.F("card_id", cardID))
	// Bookkeeping outlives cancellation of the run itself.
	bookkeeping := context.WithoutCancel(ctx)

	sessionID, err := s.drive(ctx, bookkeeping, run, logger)
	if err == nil {
		s.completeRun(bookkeeping, cardID, sessionID, logger)
		return
	}
	message := err.Error()
	if ctx.Err() != nil {
		message = cancelledByUserMessage
		if snapshot, ok := s.registry.Snapshot(cardID); ok && snapshot.Error != "" {
			message = snapshot.Error
		}
	}
	s.failRun(bookkeeping, cardID, sessionID, message, logger)
}

func (s *CardRunService) drive(ctx, bookkeeping context.Context, run cardRun, logger logging.Logger) (string, error) {
	cardID := run.card.ID
	session, err := s.opener.Open(ctx, agent.OpenRequest{
		Prompt:          run.prompt,
		Cwd:             run.project.Path,
		Model:           run.model,
		Resume:          run.card.SessionID,
		EnableUserInput: true,
	})
	if err != nil {
		return "", err
	}
	defer session.Close()
	s.registry.SetSession(cardID, session)
	defer s.registry.SetSession(cardID, nil)

	var sessionID string
	for {
		msg, err := session.Recv()
		if errors.Is(err, io.EOF) {
			return sessionID, nil
		}
		if err != nil {
			return sessionID, err
		}
		s.registry.AddMessage(cardID, msg)
		if sessionID == "" && strings.TrimSpace(msg.SessionID) != "" {
			sessionID = strings.TrimSpace(msg.SessionID)
		}
		for _, record := range classifyMessage(msg) {
			emit := s.registry.EmitLog
			if record.needsInput {
				emit = s.registry.EmitInputRequest
			}
			if _, err := emit(bookkeeping, cardID, record.content); err != nil {
				logger.Warn("card_run_log_dropped", logging.F("type", string(record.content.Type)), logging.Err(err))
			}
		}
	}
}

func (s *CardRunService) completeRun(ctx context.Context, cardID, sessionID string, logger logging.Logger) {
	if _, err := s.registry.EmitLog(ctx, cardID, types.SystemLog("Agent run completed")); err != nil {
		logger.Warn("card_run_log_dropped", logging.Err(err))
	}
	s.moveToReview(ctx, cardID, sessionID, logger)
	s.registry.UpdateStatus(cardID, types.RunStatusCompleted, "")
	logger.Info("card_run_completed", logging.F("session_id", sessionID))
}

func (s *CardRunService) failRun(ctx context.Context, cardID, sessionID, message string, logger logging.Logger) {
	if _, err := s.registry.EmitLog(ctx, cardID, types.ErrorLog(message)); err != nil {
		logger.Warn("card_run_log_dropped", logging.Err(err))
	}
	if _, err := s.registry.EmitLog(ctx, cardID, types.SystemLog("Agent run failed: "+message)); err != nil {
		logger.Warn("card_run_log_dropped", logging.Err(err))
	}
	s.moveToReview(ctx, cardID, sessionID, logger)
	s.registry.UpdateStatus(cardID, types.RunStatusError, message)
	logger.Warn("card_run_failed", logging.F("error", message))
}

// moveToReview parks the card for a human and records the agent session so
// the next run resumes it.
func (s *CardRunService) moveToReview(ctx context.Context, cardID, sessionID string, logger logging.Logger) {
	patch := types.ColumnPatch(types.ColumnManualReview)
	if sessionID != "" {
		patch.SessionID = &sessionID
	}
	if _, err := s.cards.Update(ctx, cardID, patch); err != nil {
		logger.Warn("card_run_move_failed", logging.F("column", string(types.ColumnManualReview)), logging.Err(err))
	}
}

func (s *CardRunService) CancelRun(cardID string) (*CancelRunResult, error) {
	if s.registry == nil || !s.registry.CancelRun(cardID) {
		return nil, notFoundError("No active run found", nil)
	}
	snapshot, _ := s.registry.Snapshot(cardID)
	return &CancelRunResult{Success: true, Status: snapshot.Status}, nil
}

func (s *CardRunService) SubmitUserInput(ctx context.Context, cardID, message string) error {
	if s.registry == nil {
		return notFoundError("No active run found", nil)
	}
	session, ok := s.registry.Session(cardID)
	if !ok {
		return notFoundError("No active run found", nil)
	}
	if session == nil {
		return invalidError("No query reference available", nil)
	}
	if strings.TrimSpace(message) == "" {
		return invalidError("message is required", nil)
	}
	if err := session.SubmitInput(ctx, message); err != nil {
		if errors.Is(err, agent.ErrInputClosed) {
			return conflictError("Agent is no longer accepting input", err)
		}
		return err
	}
	s.registry.SetNeedsInput(cardID, false)
	if _, err := s.registry.EmitLog(ctx, cardID, types.UserInput(message)); err != nil {
		s.logger.Warn("card_run_log_dropped", logging.F("card_id", cardID), logging.Err(err))
	}
	return nil
}

func (s *CardRunService) RunStatus(cardID string) RunStatusView {
	if s.registry == nil {
		return RunStatusView{Status: types.RunStatusNotFound, Messages: []agent.Message{}}
	}
	snapshot, ok := s.registry.Snapshot(cardID)
	if !ok {
		return RunStatusView{Status: types.RunStatusNotFound, Messages: []agent.Message{}}
	}
	return RunStatusView{
		Status:       snapshot.Status,
		MessageCount: len(snapshot.Messages),
		Messages:     snapshot.Messages,
		Error:        snapshot.Error,
		NeedsInput:   snapshot.NeedsInput,
	}
}

// Shutdown cancels every running run and waits for the runs to record
// their outcome.
func (s *CardRunService) Shutdown(reason string) {
	if s.registry != nil {
		s.registry.CancelAll(reason)
	}
	s.Wait()
}

// Wait blocks until every background run has finished.
func (s *CardRunService) Wait() {
	s.wg.Wait()
}

func (s *CardRunService) ready() error {
	switch {
	case s.registry == nil:
		return unavailableError("run registry not available", nil)
	case s.opener == nil:
		return unavailableError("agent not available", nil)
	case s.projects == nil || s.cards == nil || s.logs == nil:
		return unavailableError("board store not available", nil)
	default:
		return nil
	}
}

package daemon

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

const defaultAutoModeInterval = 3 * time.Second

// CardRunner is the slice of the run orchestrator auto mode drives.
type CardRunner interface {
	StartRun(ctx context.Context, cardID string, opts StartRunOptions) (*StartRunResult, error)
	IsRunning(cardID string) bool
	RunStatus(cardID string) RunStatusView
}

// AutoModeService keeps up to maxConcurrency todo cards of a project running.
type AutoModeService struct {
	settings AutoModeSettingsStore
	projects ProjectStore
	cards    CardStore
	runner   CardRunner
	interval time.Duration
	logger   logging.Logger

	mu    sync.Mutex
	loops map[string]*autoModeLoop
	wg    sync.WaitGroup
}

type autoModeLoop struct {
	projectID  string
	cancel     context.CancelFunc
	processing atomic.Bool

	mu     sync.Mutex
	active map[string]struct{}
}

type AutoModeOption func(*AutoModeService)

func WithAutoModeInterval(interval time.Duration) AutoModeOption {
	return func(s *AutoModeService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithAutoModeLogger(logger logging.Logger) AutoModeOption {
	return func(s *AutoModeService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewAutoModeService(stores *Stores, runner CardRunner, opts ...AutoModeOption) *AutoModeService {
	s := &AutoModeService{
		runner:   runner,
		interval: defaultAutoModeInterval,
		logger:   logging.Nop(),
		loops:    make(map[string]*autoModeLoop),
	}
	if stores != nil {
		s.settings = stores.AutoMode
		s.projects = stores.Projects
		s.cards = stores.Cards
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// StartLoop starts the ticker for projectID unless it already runs.
func (s *AutoModeService) StartLoop(projectID string) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loops[projectID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &autoModeLoop{
		projectID: projectID,
		cancel:    cancel,
		active:    make(map[string]struct{}),
	}
	s.loops[projectID] = loop
	s.wg.Add(1)
	go s.run(ctx, loop)
	s.logger.Info("auto_mode_loop_started", logging.F("project_id", projectID), logging.F("interval", s.interval.String()))
}

// StopLoop cancels the loop of projectID without waiting for an in-flight
// tick. Runs it started keep going.
func (s *AutoModeService) StopLoop(projectID string) {
	s.mu.Lock()
	loop, ok := s.loops[projectID]
	if ok {
		delete(s.loops, projectID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	loop.cancel()
	s.logger.Info("auto_mode_loop_stopped", logging.F("project_id", projectID))
}

// EnsureInitialized starts a loop for every enabled project.
func (s *AutoModeService) EnsureInitialized(ctx context.Context) error {
	if s.settings == nil {
		return unavailableError("auto mode store not available", nil)
	}
	enabled, err := s.settings.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, settings := range enabled {
		if settings != nil && settings.Enabled {
			s.StartLoop(settings.ProjectID)
		}
	}
	return nil
}

func (s *AutoModeService) run(ctx context.Context, loop *autoModeLoop) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx, loop); err != nil && ctx.Err() == nil {
				s.logger.Warn("auto_mode_tick_failed", logging.F("project_id", loop.projectID), logging.Err(err))
			}
		}
	}
}

// Tick runs one pass for projectID. It does nothing when the project has no
// loop or a pass is already in progress.
func (s *AutoModeService) Tick(ctx context.Context, projectID string) error {
	loop := s.loop(projectID)
	if loop == nil {
		return nil
	}
	return s.tick(ctx, loop)
}

func (s *AutoModeService) tick(ctx context.Context, loop *autoModeLoop) error {
	if !loop.processing.CompareAndSwap(false, true) {
		return nil
	}
	defer loop.processing.Store(false)

	if s.settings == nil || s.cards == nil || s.runner == nil {
		return unavailableError("auto mode dependencies not available", nil)
	}
	settings, ok, err := s.settings.Get(ctx, loop.projectID)
	if err != nil {
		return err
	}
	if !ok || !settings.Enabled {
		s.StopLoop(loop.projectID)
		return nil
	}
	logger := s.logger.With(logging.F("project_id", loop.projectID))

	s.reconcile(ctx, loop, logger)

	slots := settings.MaxConcurrency - loop.activeCount()
	if slots <= 0 {
		return nil
	}
	todo, err := s.cards.List(ctx, CardFilter{ProjectID: loop.projectID, Column: types.ColumnTodo})
	if err != nil {
		return err
	}
	if len(todo) > slots {
		todo = todo[:slots]
	}
	for _, card := range todo {
		if ctx.Err() != nil {
			return nil
		}
		s.promote(ctx, loop, card, logger)
	}
	return nil
}

// reconcile drops finished runs from the active set and files their cards.
func (s *AutoModeService) reconcile(ctx context.Context, loop *autoModeLoop, logger logging.Logger) {
	for _, cardID := range loop.activeIDs() {
		status := s.runner.RunStatus(cardID).Status
		var column types.ColumnID
		switch status {
		case types.RunStatusRunning:
			continue
		case types.RunStatusError:
			column = types.ColumnManualReview
		default:
			column = types.ColumnDone
		}
		loop.untrack(cardID)
		if _, err := s.cards.Update(ctx, cardID, types.ColumnPatch(column)); err != nil {
			logger.Warn("auto_mode_move_failed",
				logging.F("card_id", cardID),
				logging.F("column", string(column)),
				logging.Err(err),
			)
			continue
		}
		logger.Info("auto_mode_run_finished",
			logging.F("card_id", cardID),
			logging.F("status", string(status)),
			logging.F("column", string(column)),
		)
	}
}

func (s *AutoModeService) promote(ctx context.Context, loop *autoModeLoop, card *types.Card, logger logging.Logger) {
	if card == nil {
		return
	}
	if s.runner.IsRunning(card.ID) {
		loop.track(card.ID)
		return
	}
	if _, err := s.cards.Update(ctx, card.ID, types.ColumnPatch(types.ColumnInProgress)); err != nil {
		logger.Warn("auto_mode_move_failed", logging.F("card_id", card.ID), logging.Err(err))
		return
	}
	if _, err := s.runner.StartRun(ctx, card.ID, StartRunOptions{}); err != nil {
		logger.Warn("auto_mode_start_failed", logging.F("card_id", card.ID), logging.Err(err))
		if _, moveErr := s.cards.Update(ctx, card.ID, types.ColumnPatch(types.ColumnTodo)); moveErr != nil {
			logger.Warn("auto_mode_move_failed", logging.F("card_id", card.ID), logging.Err(moveErr))
		}
		return
	}
	loop.track(card.ID)
	logger.Info("auto_mode_run_started", logging.F("card_id", card.ID))
}

func (s *AutoModeService) GetStatus(projectID string) types.AutoModeStatus {
	status := types.AutoModeStatus{ProjectID: projectID, ActiveCardIDs: []string{}}
	loop := s.loop(projectID)
	if loop == nil {
		return status
	}
	status.LoopRunning = true
	status.ActiveCardIDs = loop.activeIDs()
	status.ActiveRunCount = len(status.ActiveCardIDs)
	return status
}

// Statuses reports every running loop ordered by project id.
func (s *AutoModeService) Statuses() []types.AutoModeStatus {
	s.mu.Lock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	out := make([]types.AutoModeStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.GetStatus(id))
	}
	return out
}

func (s *AutoModeService) Settings(ctx context.Context, projectID string) (*types.AutoModeSettings, error) {
	if s.settings == nil {
		return nil, unavailableError("auto mode store not available", nil)
	}
	settings, ok, err := s.settings.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.AutoModeSettings{ProjectID: projectID, MaxConcurrency: types.MinAutoModeConcurrency}, nil
	}
	return settings, nil
}

// UpdateSettings persists the settings of projectID and starts or stops its
// loop to match.
func (s *AutoModeService) UpdateSettings(ctx context.Context, projectID string, enabled bool, maxConcurrency int) (*types.AutoModeSettings, error) {
	if s.settings == nil || s.projects == nil {
		return nil, unavailableError("auto mode store not available", nil)
	}
	if maxConcurrency < types.MinAutoModeConcurrency || maxConcurrency > types.MaxAutoModeConcurrency {
		return nil, invalidError("maxConcurrency must be between 1 and 10", nil)
	}
	if _, ok, err := s.projects.Get(ctx, projectID); err != nil {
		return nil, err
	} else if !ok {
		return nil, notFoundError("Project not found", nil)
	}
	saved, err := s.settings.Upsert(ctx, &types.AutoModeSettings{
		ProjectID:      projectID,
		Enabled:        enabled,
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		return nil, storeError(err, "Project not found")
	}
	if enabled {
		s.StartLoop(projectID)
	} else {
		s.StopLoop(projectID)
	}
	return saved, nil
}

// Close stops every loop and waits for the loop goroutines to exit.
func (s *AutoModeService) Close() {
	s.mu.Lock()
	loops := make([]*autoModeLoop, 0, len(s.loops))
	for id, loop := range s.loops {
		loops = append(loops, loop)
		delete(s.loops, id)
	}
	s.mu.Unlock()
	for _, loop := range loops {
		loop.cancel()
	}
	s.wg.Wait()
}

func (s *AutoModeService) loop(projectID string) *autoModeLoop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loops[projectID]
}

func (l *autoModeLoop) track(cardID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[cardID] = struct{}{}
}

func (l *autoModeLoop) untrack(cardID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, cardID)
}

func (l *autoModeLoop) activeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

func (l *autoModeLoop) activeIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"autoboard/internal/agent"
	"autoboard/internal/logging"
	"autoboard/internal/relay"
	"autoboard/internal/store"
	"autoboard/internal/types"
)

const (
	shutdownTimeout        = 5 * time.Second
	shutdownCancelledRun   = "Daemon shutting down"
	defaultStreamKeepAlive = 15 * time.Second
)

type Stores struct {
	Projects ProjectStore
	Cards    CardStore
	CardLogs CardLogStore
	AutoMode AutoModeSettingsStore
}

type CardFilter = store.CardFilter

type ProjectStore interface {
	List(ctx context.Context) ([]*types.Project, error)
	Get(ctx context.Context, id string) (*types.Project, bool, error)
	Create(ctx context.Context, project *types.Project) (*types.Project, error)
	Update(ctx context.Context, id string, patch types.ProjectPatch) (*types.Project, error)
	Delete(ctx context.Context, id string) error
}

type CardStore interface {
	List(ctx context.Context, filter CardFilter) ([]*types.Card, error)
	Get(ctx context.Context, id string) (*types.Card, bool, error)
	Create(ctx context.Context, card *types.Card) (*types.Card, error)
	Update(ctx context.Context, id string, patch types.CardPatch) (*types.Card, error)
	Delete(ctx context.Context, id string) error
}

type CardLogStore interface {
	CreateLog(ctx context.Context, record *types.CardLog) (*types.CardLog, error)
	ListByCard(ctx context.Context, cardID string) ([]*types.CardLog, error)
	ListAfterSequence(ctx context.Context, cardID string, after int64) ([]*types.CardLog, error)
	MaxSequence(ctx context.Context, cardID string) (int64, error)
}

type AutoModeSettingsStore interface {
	Get(ctx context.Context, projectID string) (*types.AutoModeSettings, bool, error)
	Upsert(ctx context.Context, settings *types.AutoModeSettings) (*types.AutoModeSettings, error)
	ListEnabled(ctx context.Context) ([]*types.AutoModeSettings, error)
	Delete(ctx context.Context, projectID string) error
}

// StoresFromRepository exposes a repository through the daemon's store
// contracts.
func StoresFromRepository(repo store.Repository) *Stores {
	if repo == nil {
		return nil
	}
	return &Stores{
		Projects: repo.Projects(),
		Cards:    repo.Cards(),
		CardLogs: repo.CardLogs(),
		AutoMode: repo.AutoMode(),
	}
}

type Options struct {
	Addr             string
	Version          string
	Stores           *Stores
	Opener           agent.Opener
	DefaultModel     string
	TickInterval     time.Duration
	ReconcileOnStart bool
	Relay            *relay.Forwarder
	Logger           logging.Logger
	StreamKeepAlive  time.Duration
}

type Daemon struct {
	opts     Options
	logger   logging.Logger
	registry *RunRegistry
	runs     *CardRunService
	autoMode *AutoModeService

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	ready    chan struct{}
}

func New(opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.StreamKeepAlive <= 0 {
		opts.StreamKeepAlive = defaultStreamKeepAlive
	}
	stores := opts.Stores
	if stores == nil {
		stores = &Stores{}
	}
	var logs LogAppender
	if stores.CardLogs != nil {
		logs = stores.CardLogs
	}
	registry := NewRunRegistry(logs, WithRunRegistryLogger(logger.With(logging.F("component", "runs"))))
	runs := NewCardRunService(stores, registry, opts.Opener,
		WithCardRunLogger(logger.With(logging.F("component", "card_runs"))),
		WithDefaultModel(opts.DefaultModel),
	)
	autoMode := NewAutoModeService(stores, runs,
		WithAutoModeInterval(opts.TickInterval),
		WithAutoModeLogger(logger.With(logging.F("component", "auto_mode"))),
	)
	return &Daemon{
		opts:     opts,
		logger:   logger,
		registry: registry,
		runs:     runs,
		autoMode: autoMode,
		ready:    make(chan struct{}),
	}
}

func (d *Daemon) Runs() *CardRunService {
	return d.runs
}

func (d *Daemon) AutoMode() *AutoModeService {
	return d.autoMode
}

// Ready is closed once the daemon accepts connections.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the bound listen address once Ready is closed.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *Daemon) Handler() http.Handler {
	api := &API{
		Version:   d.opts.Version,
		Stores:    d.opts.Stores,
		Runs:      d.runs,
		AutoMode:  d.autoMode,
		Logger:    d.logger.With(logging.F("component", "api")),
		KeepAlive: d.opts.StreamKeepAlive,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	return LoggingMiddleware(d.logger.With(logging.F("component", "http")), mux)
}

func (d *Daemon) Run(ctx context.Context) error {
	addr := strings.TrimSpace(d.opts.Addr)
	if addr == "" {
		return errors.New("listen address is required")
	}
	if d.opts.ReconcileOnStart {
		if _, err := d.runs.ReconcileStaleRuns(ctx); err != nil {
			d.logger.Warn("stale_run_reconcile_failed", logging.Err(err))
		}
	}
	if err := d.autoMode.EnsureInitialized(ctx); err != nil {
		d.logger.Warn("auto_mode_init_failed", logging.Err(err))
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		d.autoMode.Close()
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	server := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the daemon instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return groupCtx },
	}
	d.mu.Lock()
	d.server = server
	d.listener = listener
	d.mu.Unlock()
	close(d.ready)

	if forwarder := d.opts.Relay; forwarder != nil {
		untap := d.registry.Tap(forwarder.Handle)
		group.Go(func() error {
			defer untap()
			return forwarder.Run(groupCtx)
		})
	}
	group.Go(func() error {
		d.logger.Info("daemon_listening", logging.F("addr", listener.Addr().String()), logging.F("version", d.opts.Version))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		d.autoMode.Close()
		d.runs.Shutdown(shutdownCancelledRun)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err = group.Wait()
	d.logger.Info("daemon_stopped")
	return err
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"autoboard/internal/agent"
	"autoboard/internal/config"
	"autoboard/internal/daemon"
	"autoboard/internal/logging"
	"autoboard/internal/relay"
	"autoboard/internal/store"
)

type serveOptions struct {
	addr       string
	background bool
	reconcile  bool
	version    string
	stderr     io.Writer
}

func newServeCmd(env *commandEnv) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.addr = env.addr
			opts.version = env.wiring.version
			opts.stderr = env.wiring.stderr
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return env.wiring.runDaemon(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.background, "background", false, "write logs to the daemon log file")
	cmd.Flags().BoolVar(&opts.reconcile, "reconcile", false, "move cards left in progress by a previous daemon to manual review")
	return cmd
}

func runDaemonProcess(ctx context.Context, opts serveOptions) error {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return err
	}

	logOut := opts.stderr
	if opts.background {
		file, err := openDaemonLog()
		if err != nil {
			return err
		}
		defer file.Close()
		logOut = file
	}
	logger := logging.NewWithFormat(logOut, logging.ParseLevel(cfg.LogLevel()), logging.ParseFormat(cfg.LogFormat()))

	dbPath, err := cfg.StoragePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return err
	}
	repo, err := store.OpenRepository(cfg.StorageBackend(), dbPath)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StorageBackend(), err)
	}
	defer repo.Close()

	publisher, err := relay.Open(cfg.RelayBackend(), cfg.RelayURL())
	if err != nil {
		return fmt.Errorf("open relay: %w", err)
	}
	var forwarder *relay.Forwarder
	if publisher != nil {
		forwarder = relay.NewForwarder(publisher, cfg.RelaySubjectPrefix(),
			relay.WithForwarderLogger(logger.With(logging.F("component", "relay"))))
	}

	addr := cfg.ServerAddress()
	if opts.addr != "" {
		addr = opts.addr
	}
	d := daemon.New(daemon.Options{
		Addr:             addr,
		Version:          opts.version,
		Stores:           daemon.StoresFromRepository(repo),
		Opener:           agent.NewClaudeOpener(cfg.AgentCommand(), cfg.AgentPermissionMode(), logger.With(logging.F("component", "agent"))),
		DefaultModel:     cfg.AgentDefaultModel(),
		TickInterval:     cfg.AutoModeTickInterval(),
		ReconcileOnStart: cfg.ReconcileOnStart() || opts.reconcile,
		Relay:            forwarder,
		Logger:           logger,
	})
	logger.Info("daemon_starting",
		logging.F("addr", addr),
		logging.F("storage", cfg.StorageBackend()),
		logging.F("db", dbPath),
		logging.F("relay", cfg.RelayBackend()),
	)
	return d.Run(ctx)
}

func openDaemonLog() (*os.File, error) {
	logPath, err := config.DaemonLogPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

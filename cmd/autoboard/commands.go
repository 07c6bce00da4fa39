package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"autoboard/internal/config"
)

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	newClient  clientFactory
	loadConfig func() (config.CoreConfig, error)
	runDaemon  func(ctx context.Context, opts serveOptions) error
	copyText   func(text string) error
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:     stdout,
		stderr:     stderr,
		newClient:  newBoardClient,
		loadConfig: config.LoadCoreConfig,
		runDaemon:  runDaemonProcess,
		copyText:   copyTextToClipboard,
		version:    buildVersion(),
	}
}

func newRootCmd(wiring commandWiring) *cobra.Command {
	env := &commandEnv{wiring: wiring}
	root := &cobra.Command{
		Use:           "autoboard",
		Short:         "Kanban board whose cards are worked by a coding agent",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       wiring.version,
	}
	root.SetOut(wiring.stdout)
	root.SetErr(wiring.stderr)
	root.PersistentFlags().StringVar(&env.addr, "addr", "", "daemon address (defaults to server.address)")

	root.AddCommand(
		newServeCmd(env),
		newConfigCmd(env),
		newProjectsCmd(env),
		newCardsCmd(env),
		newRunCmd(env),
		newLogsCmd(env),
		newAutoModeCmd(env),
	)
	return root
}

// commandEnv carries the wiring plus values resolved from global flags.
type commandEnv struct {
	wiring commandWiring
	addr   string
}

// connect returns a client for the configured daemon. A local daemon is
// started on demand unless --addr points somewhere explicit.
func (e *commandEnv) connect(ctx context.Context) (commandClient, error) {
	baseURL := e.addr
	if baseURL == "" {
		cfg, err := e.wiring.loadConfig()
		if err != nil {
			return nil, err
		}
		baseURL = cfg.ServerBaseURL()
	} else {
		baseURL = normalizeBaseURL(baseURL)
	}
	client := e.wiring.newClient(baseURL)
	if e.addr == "" {
		if err := client.EnsureDaemon(ctx); err != nil {
			return nil, err
		}
	}
	return client, nil
}

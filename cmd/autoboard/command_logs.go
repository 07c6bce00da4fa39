package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"autoboard/internal/types"
)

type logsOptions struct {
	follow   bool
	after    int64
	markdown bool
	copy     bool
}

func newLogsCmd(env *commandEnv) *cobra.Command {
	opts := logsOptions{}
	cmd := &cobra.Command{
		Use:   "logs <card-id>",
		Short: "Print the agent log of a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.connect(cmd.Context())
			if err != nil {
				return err
			}
			printer := &logPrinter{out: cmd.OutOrStdout(), markdown: opts.markdown}
			if opts.follow {
				events, stop, err := client.FollowCard(cmd.Context(), args[0], opts.after)
				if err != nil {
					return err
				}
				defer stop()
				for event := range events {
					printer.event(event)
				}
			} else {
				logs, err := client.CardLogs(cmd.Context(), args[0], opts.after)
				if err != nil {
					return err
				}
				for _, record := range logs {
					printer.log(record.Type, record.Content, record.Sequence)
				}
			}
			if opts.copy {
				if err := env.wiring.copyText(printer.plainText()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render(fmt.Sprintf("copied %d log entries", printer.count)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "stream new entries until the run ends")
	cmd.Flags().Int64Var(&opts.after, "after", 0, "only entries with a sequence above this value")
	cmd.Flags().BoolVar(&opts.markdown, "markdown", false, "render assistant text as markdown")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "copy the printed entries to the clipboard")
	return cmd
}

type logPrinter struct {
	out      io.Writer
	markdown bool
	count    int
	plain    []string
}

func (p *logPrinter) event(event types.RunEvent) {
	switch event.Kind {
	case types.RunEventLog:
		if event.Log != nil {
			p.log(event.Log.Type, event.Log.Content, event.Log.Sequence)
		}
	case types.RunEventStatus:
		if event.Status == nil {
			return
		}
		line := "run " + runStatusBadge(event.Status.Status)
		if event.Status.Error != "" {
			line += " " + errorStyle.Render(event.Status.Error)
		}
		fmt.Fprintln(p.out, line)
	case types.RunEventNeedsInput:
		if event.NeedsInput != nil && event.NeedsInput.NeedsInput {
			fmt.Fprintln(p.out, logTypeStyles[types.LogTypeAskUser].Render("agent is waiting for input (autoboard run input <card-id> <message>)"))
		}
	}
}

func (p *logPrinter) log(logType types.LogType, content string, sequence int64) {
	p.count++
	p.plain = append(p.plain, content)
	if p.markdown && logType == types.LogTypeAssistantText {
		fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("#%d %s", sequence, logType)))
		fmt.Fprintln(p.out, renderMarkdown(content, 0))
		return
	}
	fmt.Fprintln(p.out, formatLog(logType, content, sequence))
}

func (p *logPrinter) plainText() string {
	return strings.Join(p.plain, "\n\n")
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	boardclient "autoboard/internal/client"
	"autoboard/internal/types"
)

func newRunCmd(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Control the agent run of a card",
	}
	cmd.AddCommand(
		newRunStartCmd(env),
		&cobra.Command{
			Use:   "status <card-id>",
			Short: "Show the run status of a card",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				status, err := client.RunStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "status:   %s\n", runStatusBadge(status.Status))
				fmt.Fprintf(out, "messages: %d\n", status.MessageCount)
				if status.NeedsInput {
					fmt.Fprintln(out, logTypeStyles[types.LogTypeAskUser].Render("waiting for input"))
				}
				if status.Error != "" {
					fmt.Fprintf(out, "error:    %s\n", errorStyle.Render(status.Error))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "cancel <card-id>",
			Short: "Cancel a running agent",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				result, err := client.CancelRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", runStatusBadge(result.Status))
				return nil
			},
		},
		&cobra.Command{
			Use:   "input <card-id> <message...>",
			Short: "Answer an agent waiting for input",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				return client.SubmitInput(cmd.Context(), args[0], strings.Join(args[1:], " "))
			},
		},
	)
	return cmd
}

func newRunStartCmd(env *commandEnv) *cobra.Command {
	var prompt, model string
	cmd := &cobra.Command{
		Use:   "start <card-id>",
		Short: "Start the agent on a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := boardclient.StartRunRequest{Model: model}
			if cmd.Flags().Changed("prompt") {
				req.Prompt = &prompt
			}
			client, err := env.connect(cmd.Context())
			if err != nil {
				return err
			}
			result, err := client.StartRun(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "started %s in %s\n", result.CardID, result.ProjectPath)
			fmt.Fprintln(out, dimStyle.Render(truncateTitle(result.Prompt)))
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt to use instead of the card title and description")
	cmd.Flags().StringVar(&model, "model", "", "model passed to the agent")
	return cmd
}

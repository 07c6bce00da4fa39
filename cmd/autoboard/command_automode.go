package main

import (
	"fmt"

	"github.com/spf13/cobra"

	boardclient "autoboard/internal/client"
	"autoboard/internal/types"
)

func newAutoModeCmd(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "automode",
		Aliases: []string{"auto-mode"},
		Short:   "Let the board pull todo cards into progress automatically",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status [project-id]",
			Short: "Show auto mode loops",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					loops, err := client.AutoModeLoops(cmd.Context())
					if err != nil {
						return err
					}
					printAutoModeStatuses(out, loops)
					return nil
				}
				resp, err := client.GetAutoMode(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printAutoMode(cmd, resp)
				return nil
			},
		},
		newAutoModeEnableCmd(env),
		&cobra.Command{
			Use:   "disable <project-id>",
			Short: "Stop auto mode for a project",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				resp, err := client.UpdateAutoMode(cmd.Context(), args[0], boardclient.UpdateAutoModeRequest{Enabled: false})
				if err != nil {
					return err
				}
				printAutoMode(cmd, resp)
				return nil
			},
		},
	)
	return cmd
}

func newAutoModeEnableCmd(env *commandEnv) *cobra.Command {
	var maxConcurrency int
	cmd := &cobra.Command{
		Use:   "enable <project-id>",
		Short: "Start auto mode for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := boardclient.UpdateAutoModeRequest{Enabled: true}
			if cmd.Flags().Changed("max") {
				if maxConcurrency < types.MinAutoModeConcurrency || maxConcurrency > types.MaxAutoModeConcurrency {
					return fmt.Errorf("--max must be between %d and %d", types.MinAutoModeConcurrency, types.MaxAutoModeConcurrency)
				}
				req.MaxConcurrency = &maxConcurrency
			}
			client, err := env.connect(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := client.UpdateAutoMode(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			printAutoMode(cmd, resp)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxConcurrency, "max", 1, "maximum concurrent agent runs")
	return cmd
}

func printAutoMode(cmd *cobra.Command, resp *boardclient.AutoModeResponse) {
	out := cmd.OutOrStdout()
	if resp.Settings != nil {
		state := dimStyle.Render("disabled")
		if resp.Settings.Enabled {
			state = successStyle.Render("enabled")
		}
		fmt.Fprintf(out, "auto mode %s (max %d)\n", state, resp.Settings.MaxConcurrency)
	}
	printAutoModeStatuses(out, []types.AutoModeStatus{resp.Status})
}

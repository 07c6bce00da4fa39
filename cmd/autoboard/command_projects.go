package main

import (
	"fmt"

	"github.com/spf13/cobra"

	boardclient "autoboard/internal/client"
)

func newProjectsCmd(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project"},
		Short:   "Manage projects",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List projects",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				projects, err := client.ListProjects(cmd.Context())
				if err != nil {
					return err
				}
				printProjects(cmd.OutOrStdout(), projects)
				return nil
			},
		},
		newProjectCreateCmd(env),
		&cobra.Command{
			Use:   "show <project-id>",
			Short: "Show a project and its cards",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				project, err := client.GetProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cards, err := client.ListCards(cmd.Context(), project.ID, "", false)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", headerStyle.Render(project.Name), dimStyle.Render("("+project.ID+")"))
				fmt.Fprintf(out, "path: %s\n\n", project.Path)
				printCards(out, cards)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <project-id>",
			Short: "Delete a project with its cards and logs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				if err := client.DeleteProject(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted project %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newProjectCreateCmd(env *commandEnv) *cobra.Command {
	var req boardclient.CreateProjectRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := env.connect(cmd.Context())
			if err != nil {
				return err
			}
			project, err := client.CreateProject(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), project.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "project name")
	cmd.Flags().StringVar(&req.Path, "path", "", "absolute path of the project directory")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

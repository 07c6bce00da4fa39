package main

import (
	"fmt"

	"github.com/spf13/cobra"

	boardclient "autoboard/internal/client"
	"autoboard/internal/types"
)

func newCardsCmd(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cards",
		Aliases: []string{"card"},
		Short:   "Manage cards",
	}
	cmd.AddCommand(
		newCardListCmd(env),
		newCardCreateCmd(env),
		&cobra.Command{
			Use:   "show <card-id>",
			Short: "Show a card",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				card, err := client.GetCard(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printCard(cmd.OutOrStdout(), card)
				return nil
			},
		},
		newCardMoveCmd(env),
		&cobra.Command{
			Use:   "delete <card-id>",
			Short: "Delete a card and its logs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := env.connect(cmd.Context())
				if err != nil {
					return err
				}
				if err := client.DeleteCard(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted card %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newCardListCmd(env *commandEnv) *cobra.Command {
	var projectID, column string
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			columnID, err := parseColumnFlag(column, true)
			if err != nil {
				return err
			}
			client, err := env.connect(cmd.Context())
			if err != nil {
				return err
			}
			cards, err := client.ListCards(cmd.Context(), projectID, columnID, archived)
			if err != nil {
				return err
			}
			printCards(cmd.OutOrStdout(), cards)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&column, "column", "", "only cards in this column")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived cards")
	return cmd
}

func newCardCreateCmd(env *commandEnv) *cobra.Command {
	var req boardclient.CreateCardRequest
	var column string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			columnID, err := parseColumnFlag(column, true)
			if err != nil {
				return err
			}
			req.ColumnID = columnID
			client, err := env.connect(cmd.Context())
			if err != nil {
				return err
			}
			card, err := client.CreateCard(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), card.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&req.Title, "title", "", "card title")
	cmd.Flags().StringVar(&req.Description, "description", "", "card description, used in the agent prompt")
	cmd.Flags().StringVar(&column, "column", "", "initial column (default todo)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newCardMoveCmd(env *commandEnv) *cobra.Command {
	var position int
	cmd := &cobra.Command{
		Use:   "move <card-id> <column>",
		Short: "Move a card; moving to in-progress starts the agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			columnID, err := parseColumnFlag(args[1], false)
			if err != nil {
				return err
			}
			req := boardclient.MoveCardRequest{ColumnID: columnID}
			if cmd.Flags().Changed("position") {
				req.Position = &position
			}
			client, err := env.connect(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := client.MoveCard(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s -> %s\n", resp.Card.ID, columnBadge(resp.Card.ColumnID))
			switch {
			case resp.RunError != "":
				fmt.Fprintln(out, errorStyle.Render("agent not started: "+resp.RunError))
			case resp.Run != nil:
				fmt.Fprintln(out, successStyle.Render("agent started"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&position, "position", 0, "position within the column")
	return cmd
}

func parseColumnFlag(raw string, allowEmpty bool) (types.ColumnID, error) {
	if raw == "" && allowEmpty {
		return "", nil
	}
	column, ok := types.ParseColumnID(raw)
	if !ok {
		return "", fmt.Errorf("unknown column %q (expected todo, in-progress, manual-review or done)", raw)
	}
	return column, nil
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"homora/internal/backend"
	"homora/internal/trash"
)

var (
	trashProject string
	trashAll     bool
	trashYes     bool
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect, restore and purge deleted documents and conversations",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's trash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, view, err := openTrash(cmd)
		if err != nil {
			return err
		}
		items := view.Items()
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Trash is empty.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tDELETED")
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, item.Type, item.Title, item.DeletedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore [id...]",
	Short: "Restore items, or every item with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, view, err := openTrash(cmd)
		if err != nil {
			return err
		}
		if trashAll {
			if err := view.ToggleSelectAll(); err != nil {
				return err
			}
		} else {
			for _, id := range args {
				if err := view.Toggle(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
		}
		res, err := view.BulkRestore(cmd.Context())
		if err != nil {
			return err
		}
		printFailures(cmd.ErrOrStderr(), res)
		return nil
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Permanently delete one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, view, err := openTrash(cmd)
		if err != nil {
			return err
		}
		for _, item := range view.Items() {
			if item.ID != args[0] {
				continue
			}
			if !trashYes && !confirm(cmd, trash.PurgePrompt(item)) {
				return trash.ErrConfirmationRequired
			}
			return view.Purge(cmd.Context(), item.ID, trash.Confirmation{Confirmed: true, Title: item.Title})
		}
		return trash.ErrUnknownItem
	},
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Permanently delete everything in the trash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, view, err := openTrash(cmd)
		if err != nil {
			return err
		}
		n := len(view.Items())
		prompt := fmt.Sprintf("%d item(s) will be permanently deleted. This action cannot be undone.", n)
		ok := trashYes || (n > 0 && confirm(cmd, prompt))
		res, err := view.EmptyTrash(cmd.Context(), trash.Confirmation{Confirmed: ok})
		if err != nil {
			return err
		}
		printFailures(cmd.ErrOrStderr(), res)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show conversations, documents and deletions by day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, view, err := openTrash(cmd)
		if err != nil {
			return err
		}
		convs, err := client.ListConversations(cmd.Context(), trashProject)
		if err != nil {
			return err
		}
		docs, err := client.ListDocuments(cmd.Context(), trashProject)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, g := range trash.Timeline(time.Now(), convs, docs, view.Items()) {
			fmt.Fprintf(out, "%s\n", g.Label)
			for _, item := range g.Items {
				suffix := ""
				if item.DeletedAt != nil {
					suffix = " (deleted)"
				}
				fmt.Fprintf(out, "  %-12s %s%s\n", item.Type, item.Title, suffix)
			}
		}
		return nil
	},
}

func init() {
	trashCmd.PersistentFlags().StringVarP(&trashProject, "project", "p", "", "project id")
	_ = trashCmd.MarkPersistentFlagRequired("project")
	trashRestoreCmd.Flags().BoolVar(&trashAll, "all", false, "restore every item")
	trashPurgeCmd.Flags().BoolVarP(&trashYes, "yes", "y", false, "skip the confirmation prompt")
	trashEmptyCmd.Flags().BoolVarP(&trashYes, "yes", "y", false, "skip the confirmation prompt")
	trashCmd.AddCommand(trashListCmd, trashRestoreCmd, trashPurgeCmd, trashEmptyCmd, historyCmd)
}

func openTrash(cmd *cobra.Command) (*backend.Client, *trash.View, error) {
	client, err := newBackendClient()
	if err != nil {
		return nil, nil, err
	}
	view, err := trash.NewView(trashProject, trash.Deps{
		Backend:  client,
		Notifier: printNotifier{w: cmd.ErrOrStderr()},
	}, trash.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	items, err := client.ListTrash(cmd.Context(), trashProject)
	if err != nil {
		return nil, nil, err
	}
	view.SetItems(items)
	return client, view, nil
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s Continue? [y/N] ", prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printFailures(w io.Writer, res trash.Result) {
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s %q: %s\n", e.Type, e.Title, e.Message)
	}
}

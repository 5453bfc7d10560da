package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"homora/internal/chat"
	"homora/internal/models"
)

var (
	askProject      string
	askConversation string
	askMarkdown     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about a project's documents",
	Long: `Runs one chat turn against the backend. The answer streams to stdout as it
arrives; with --markdown it is rendered once complete. Pass --conversation to
continue an existing conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askProject, "project", "p", "", "project id")
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "conversation id to continue")
	askCmd.Flags().BoolVar(&askMarkdown, "markdown", false, "render the answer as markdown")
	_ = askCmd.MarkFlagRequired("project")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client, err := newBackendClient()
	if err != nil {
		return err
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ctrl, err := chat.NewController(askProject, chat.Deps{
		Transport: client,
		Store:     client,
		Notifier:  printNotifier{w: errOut},
	}, chat.WithLogger(logger))
	if err != nil {
		return err
	}
	if askConversation != "" {
		if _, err := ctrl.LoadConversation(ctx, models.ConversationSummary{ID: askConversation}); err != nil {
			return err
		}
	}

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	done := make(chan error, 1)
	go func() {
		turnCtx, cancel := context.WithTimeout(ctx, cfg.BasicConfig.StreamTimeout())
		defer cancel()
		done <- ctrl.SendMessage(turnCtx, strings.Join(args, " "))
	}()

	sent := ""
	for {
		select {
		case u := <-updates:
			if askMarkdown || u.Kind != chat.UpdatePartial {
				continue
			}
			partial := u.Snapshot.PartialContent
			if strings.HasPrefix(partial, sent) {
				fmt.Fprint(out, partial[len(sent):])
			}
			sent = partial
		case err := <-done:
			if err != nil {
				return err
			}
			return printAnswer(out, errOut, ctrl, sent)
		}
	}
}

func printAnswer(out, errOut io.Writer, ctrl *chat.Controller, streamed string) error {
	snap := ctrl.Snapshot()
	if len(snap.Messages) == 0 {
		return errors.New("no answer received")
	}
	answer := snap.Messages[len(snap.Messages)-1]
	if answer.Role != models.RoleAssistant {
		return errors.New("no answer received")
	}
	switch {
	case askMarkdown:
		fmt.Fprint(out, renderMarkdown(answer.Content))
	case strings.HasPrefix(answer.Content, streamed):
		fmt.Fprintln(out, answer.Content[len(streamed):])
	default:
		fmt.Fprintln(out)
	}

	for i, c := range answer.Citations {
		line := fmt.Sprintf("[%d] %s", i+1, c.DocumentName)
		if c.Page != nil {
			line += fmt.Sprintf(", p. %d", *c.Page)
		}
		if c.Section != "" {
			line += ", " + c.Section
		}
		fmt.Fprintln(out, line)
	}
	if followups := ctrl.SuggestedFollowups(); len(followups) > 0 {
		fmt.Fprintln(out, "\nYou could also ask:")
		for _, f := range followups {
			fmt.Fprintf(out, "  - %s\n", f)
		}
	}
	if models.IsIncompleteID(answer.ID) {
		fmt.Fprintln(errOut, "(answer incomplete: the stream ended early)")
	}
	if snap.ConversationID != "" {
		fmt.Fprintf(errOut, "conversation: %s\n", snap.ConversationID)
	}
	return nil
}

func renderMarkdown(content string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

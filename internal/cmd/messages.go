package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/operiq/support-sync/internal/dryrun"
	"github.com/operiq/support-sync/internal/iocontext"
	"github.com/operiq/support-sync/internal/since"
	"github.com/operiq/support-sync/internal/support"
	"github.com/operiq/support-sync/internal/validation"
)

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg", "m"},
		Short:   "Read and send conversation messages",
	}
	cmd.AddCommand(newMessagesListCmd())
	cmd.AddCommand(newMessagesSendCmd())
	return cmd
}

func newMessagesListCmd() *cobra.Command {
	var (
		limit    int
		sinceArg string
	)

	cmd := &cobra.Command{
		Use:   "list <conversation>",
		Short: "Show a conversation's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			var cutoff time.Time
			if sinceArg != "" {
				t, err := since.Parse(sinceArg, time.Now())
				if err != nil {
					return fmt.Errorf("invalid --since value: %w", err)
				}
				cutoff = t
			}
			ctx := cmd.Context()
			h, err := newClientFactory().newController(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := loadDirectory(ctx, h.ctrl); err != nil {
				return err
			}
			conv, err := resolveConversation(h.ctrl, args[0])
			if err != nil {
				return err
			}
			history, err := h.client.ListMessages(ctx, conv.ID)
			if err != nil {
				return err
			}
			// the store applies the same ordering and duplicate rules as a
			// live session
			now := time.Now()
			for _, w := range history {
				h.ctrl.Store().Ingest(conv.ID, support.MessageFromAPI(w, conv.ID, now))
			}
			msgs := h.ctrl.Messages(conv.ID)
			if !cutoff.IsZero() {
				kept := msgs[:0]
				for _, m := range msgs {
					if !m.SentAt.Before(cutoff) {
						kept = append(kept, m)
					}
				}
				msgs = kept
			}
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}

			if isJSON(cmd) {
				return printJSON(cmd, msgs)
			}
			if len(msgs) == 0 {
				_, _ = fmt.Fprintln(iocontext.GetIO(ctx).ErrOut, "No messages")
				return nil
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				_, _ = fmt.Fprintln(out, messageLine(m))
			}
			return nil
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the newest N messages")
	cmd.Flags().StringVar(&sinceArg, "since", "", "Only messages sent since (e.g., 30m, 2h ago, yesterday)")
	return cmd
}

func newMessagesSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <text...>",
		Short: "Send a message as the configured admin",
		Long:  "Send a message as the configured admin. Use - as the text to read it from stdin.",
		Example: `  supportctl messages send c-123 "Your refund was issued"
  echo "On it" | supportctl messages send "Acme Transport" -`,
		Args: cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args[1:], " ")
			if body == "-" {
				data, err := io.ReadAll(iocontext.GetIO(cmd.Context()).In)
				if err != nil {
					return fmt.Errorf("read message from stdin: %w", err)
				}
				body = strings.TrimRight(string(data), "\r\n")
			}
			if strings.TrimSpace(body) == "" {
				return support.ErrEmptyMessage
			}
			if err := validation.ValidateMessageContent(body); err != nil {
				return err
			}

			ctx := cmd.Context()
			h, err := newClientFactory().newController(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := loadDirectory(ctx, h.ctrl); err != nil {
				return err
			}
			conv, err := resolveConversation(h.ctrl, args[0])
			if err != nil {
				return err
			}
			// opening the conversation marks it read, so preview first
			if ok, err := maybeDryRun(cmd, &dryrun.Preview{
				Action:  "send",
				Target:  "message to conversation " + conv.ID,
				Request: "POST /support/messages",
				Details: map[string]any{
					"message": body,
					"admin":   h.settings.AdminName,
					"status":  fmt.Sprintf("%s -> %s", conv.Status, support.StatusInProgress),
				},
			}); ok {
				return err
			}
			if _, err := h.ctrl.Select(ctx, conv.ID); err != nil {
				return err
			}
			sent, err := h.ctrl.Send(ctx, body)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, sent)
			}
			printAction(cmd, "Sent message %s to conversation %s", sent.ID, conv.ID)
			return nil
		}),
	}
}

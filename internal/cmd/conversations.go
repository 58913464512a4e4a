package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/dryrun"
	"github.com/operiq/support-sync/internal/resolve"
	"github.com/operiq/support-sync/internal/since"
	"github.com/operiq/support-sync/internal/support"
	"github.com/operiq/support-sync/internal/validation"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "List, open and manage support conversations",
	}
	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsOpenCmd())
	cmd.AddCommand(newConversationsStatusCmd())
	cmd.AddCommand(newConversationsReadCmd())
	cmd.AddCommand(newConversationsVerifyCmd())
	cmd.AddCommand(newConversationsCreateCmd())
	return cmd
}

// loadDirectory fills the directory from the backend, falling back to the
// cached snapshot when the backend is unreachable.
func loadDirectory(ctx context.Context, ctrl *support.Controller) error {
	warmed := ctrl.Directory().Warm(ctx)
	if err := ctrl.Directory().Refresh(ctx); err != nil {
		if !warmed {
			return err
		}
		slog.Warn("backend unreachable, showing cached conversations", "error", err)
	}
	return nil
}

// resolveConversation accepts an id, a title or a customer name.
func resolveConversation(ctrl *support.Controller, ref string) (support.Conversation, error) {
	dir := ctrl.Directory()
	if conv, ok := dir.Get(strings.TrimSpace(ref)); ok {
		return conv, nil
	}
	id, err := resolve.Conversation(ref, dir.List())
	if err != nil {
		var ambiguous *resolve.AmbiguousError
		if errors.As(err, &ambiguous) || errors.Is(err, resolve.ErrEmptyQuery) {
			return support.Conversation{}, err
		}
		return support.Conversation{}, fmt.Errorf("%w: %s", support.ErrUnknownConversation, ref)
	}
	conv, _ := dir.Get(id)
	return conv, nil
}

func newConversationsListCmd() *cobra.Command {
	var (
		criteria support.Criteria
		sinceArg string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		Example: `  supportctl conversations list
  supportctl conversations list --status open --priority urgent
  supportctl conversations list --kind company --search refund -o json`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
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
			convs := h.ctrl.Conversations(criteria)
			if !cutoff.IsZero() {
				kept := convs[:0]
				for _, c := range convs {
					if !c.UpdatedAt.Before(cutoff) {
						kept = append(kept, c)
					}
				}
				convs = kept
			}

			f := newFormatter(cmd)
			if done, err := f.Result(convs); done {
				return err
			}
			if len(convs) == 0 {
				f.Notice("No conversations found")
				return nil
			}
			table := f.Table("ID", "STATUS", "PRIORITY", "UNREAD", "CUSTOMER", "LAST MESSAGE", "UPDATED")
			for _, c := range convs {
				last := ""
				if c.LastMessage != nil {
					last = truncate(c.LastMessage.Body, 40)
				}
				counterpart := c.Counterpart()
				customer := counterpart.DisplayName
				if counterpart.CompanyName != "" {
					customer += " (" + counterpart.CompanyName + ")"
				}
				table.Row(c.ID, c.Status, c.Priority, c.UnreadCount, customer, last, formatTime(c.UpdatedAt))
			}
			return table.Flush()
		}),
	}

	cmd.Flags().StringVar(&criteria.Status, "status", "", "Filter by status: open|in_progress|resolved|closed|all")
	cmd.Flags().StringVar(&criteria.Priority, "priority", "", "Filter by priority: low|medium|high|urgent|all")
	cmd.Flags().StringVar(&criteria.Category, "category", "", "Filter by category")
	cmd.Flags().StringVar(&criteria.Source, "source", "", "Filter by source: web|app_client|app_driver|email|internal")
	cmd.Flags().StringVar(&criteria.AccountKind, "kind", "", "Filter by customer kind: individual|company|client|driver")
	cmd.Flags().StringVarP(&criteria.Query, "search", "s", "", "Search titles, names and message text")
	cmd.Flags().StringVar(&sinceArg, "since", "", "Only conversations updated since (e.g., 2h, 7d, yesterday, 2024-05-01)")
	return cmd
}

func newConversationsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <conversation> <status>",
		Short: "Change a conversation's status",
		Long:  "Change a conversation's status to one of: open, in_progress, resolved, closed.",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			st, err := support.ParseStatus(args[1])
			if err != nil {
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
			if ok, err := maybeDryRun(cmd, &dryrun.Preview{
				Action:  "set",
				Target:  fmt.Sprintf("conversation %s status to %s", conv.ID, st),
				Request: "PUT /support/conversations/" + conv.ID + "/status",
				Details: map[string]any{"from": conv.Status, "to": st},
			}); ok {
				return err
			}
			if err := h.ctrl.UpdateStatus(ctx, conv.ID, string(st)); err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"id": conv.ID, "status": st})
			}
			printAction(cmd, "Conversation %s is now %s", conv.ID, st)
			return nil
		}),
	}
}

func newConversationsReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
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
			if ok, err := maybeDryRun(cmd, &dryrun.Preview{
				Action:  "mark",
				Target:  fmt.Sprintf("conversation %s as read", conv.ID),
				Request: "PUT /support/conversations/" + conv.ID + "/read",
				Details: map[string]any{"unread": conv.UnreadCount},
			}); ok {
				return err
			}
			if err := h.ctrl.MarkRead(ctx, conv.ID); err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"id": conv.ID, "unreadCount": 0})
			}
			printAction(cmd, "Marked conversation %s as read", conv.ID)
			return nil
		}),
	}
}

func newConversationsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <conversation-id>",
		Short: "Check that a conversation exists and accepts messages",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			client, _, err := getClient()
			if err != nil {
				return err
			}
			v, err := client.VerifyConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, v)
			}
			out := cmd.OutOrStdout()
			switch {
			case !v.Exists:
				_, _ = fmt.Fprintf(out, "Conversation %s does not exist\n", args[0])
			case !v.Valid:
				_, _ = fmt.Fprintf(out, "Conversation %s exists but is %s\n", args[0], v.Status)
			default:
				_, _ = fmt.Fprintf(out, "Conversation %s is %s and accepts messages\n", args[0], v.Status)
			}
			return nil
		}),
	}
}

func newConversationsCreateCmd() *cobra.Command {
	var req api.CreateConversationRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a conversation on behalf of a user",
		Example: `  supportctl conversations create --name "Ana Lima" --email ana@example.com
  supportctl conversations create --name Fleet --email ops@acme.test --user-type company --company "Acme"`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			req.Name = strings.TrimSpace(req.Name)
			req.Email = strings.TrimSpace(req.Email)
			if req.Name == "" || req.Email == "" {
				return fmt.Errorf("--name and --email are required")
			}
			if err := validation.ValidateName(req.Name); err != nil {
				return err
			}
			if err := validation.ValidateEmail(req.Email); err != nil {
				return err
			}
			if ok, err := maybeDryRun(cmd, &dryrun.Preview{
				Action:  "create",
				Target:  "conversation for " + req.Email,
				Request: "POST /support/conversations",
				Details: map[string]any{
					"name":      req.Name,
					"email":     req.Email,
					"user_type": req.UserType,
					"company":   req.CompanyName,
					"source":    req.Source,
				},
			}); ok {
				return err
			}
			ctx := cmd.Context()
			h, err := newClientFactory().newController(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			id, err := h.ctrl.CreateConversation(ctx, req)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"id": id})
			}
			printAction(cmd, "Created conversation %s", id)
			return nil
		}),
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "User display name (required)")
	cmd.Flags().StringVar(&req.Email, "email", "", "User email (required)")
	cmd.Flags().StringVar(&req.UserType, "user-type", "", "User type: client|driver|company")
	cmd.Flags().StringVar(&req.CompanyName, "company", "", "Company name")
	cmd.Flags().StringVar(&req.Source, "source", "", "Source channel")
	return cmd
}

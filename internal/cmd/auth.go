package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/config"
	"github.com/operiq/support-sync/internal/outfmt"
	"github.com/operiq/support-sync/internal/validation"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage backend credentials",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthStatusCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		account  config.Account
		profile  string
		noVerify bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store backend credentials in the system keyring",
		Example: `  supportctl auth login --base-url https://api.example.com --token $TOKEN --admin-name "Marta"
  supportctl auth login --profile staging --base-url https://staging.example.com --token $TOKEN`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			account.BaseURL = strings.TrimSuffix(strings.TrimSpace(flags.BaseURL), "/")
			account.APIToken = strings.TrimSpace(flags.Token)
			if account.APIToken == "" {
				account.APIToken = strings.TrimSpace(os.Getenv("SUPPORT_API_TOKEN"))
			}
			if account.BaseURL == "" {
				return fmt.Errorf("--base-url is required")
			}
			if err := validation.ValidateBackendURL(account.BaseURL); err != nil {
				return fmt.Errorf("invalid --base-url: %w", err)
			}
			if account.SocketURL != "" {
				if err := validation.ValidateSocketURL(account.SocketURL); err != nil {
					return fmt.Errorf("invalid --socket-url: %w", err)
				}
			}
			if err := validation.ValidateName(account.AdminName); err != nil {
				return fmt.Errorf("invalid --admin-name: %w", err)
			}
			if err := validation.ValidateEmail(account.AdminEmail); err != nil {
				return fmt.Errorf("invalid --admin-email: %w", err)
			}

			if !noVerify {
				client := newClientFactory().newClient(config.Settings{BaseURL: account.BaseURL, Token: account.APIToken})
				if _, err := client.ListConversations(cmd.Context()); err != nil {
					return fmt.Errorf("credentials rejected by %s: %w", account.BaseURL, err)
				}
			}
			if err := config.SaveProfile(profile, account); err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"profile": profileName(profile), "base_url": account.BaseURL})
			}
			printAction(cmd, "Logged in to %s (profile %s)", account.BaseURL, profileName(profile))
			return nil
		}),
	}

	cmd.Flags().StringVar(&account.SocketURL, "socket-url", "", "Push channel URL (defaults to the base URL)")
	cmd.Flags().StringVar(&account.AdminID, "admin-id", "", "Sender id used for outgoing messages (default admin)")
	cmd.Flags().StringVar(&account.AdminName, "admin-name", "", "Display name used for outgoing messages")
	cmd.Flags().StringVar(&account.AdminEmail, "admin-email", "", "Email used for outgoing messages")
	cmd.Flags().StringVar(&profile, "profile", "", "Profile name (default profile when empty)")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Save without checking the credentials against the backend")
	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if profile == "" {
				current, err := config.CurrentProfile()
				if err != nil {
					return err
				}
				profile = current
			}
			if err := config.DeleteProfile(profile); err != nil {
				return err
			}
			printAction(cmd, "Removed credentials for profile %s", profile)
			return nil
		}),
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Profile to remove (default: current)")
	return cmd
}

// authStatus is the effective configuration with the token masked.
type authStatus struct {
	Profile    string `json:"profile"`
	BaseURL    string `json:"base_url"`
	SocketURL  string `json:"socket_url"`
	AdminID    string `json:"admin_id"`
	AdminName  string `json:"admin_name"`
	AdminEmail string `json:"admin_email,omitempty"`
	Token      string `json:"token"`
	Cache      string `json:"cache"`
	Reachable  *bool  `json:"reachable,omitempty"`
}

func newAuthStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the effective backend configuration",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			client, s, err := getClient()
			if err != nil {
				return err
			}
			profile, err := config.CurrentProfile()
			if err != nil {
				// env-only setups work without a keyring
				profile = "-"
			}
			st := authStatus{
				Profile:    profile,
				BaseURL:    s.BaseURL,
				SocketURL:  s.SocketURL,
				AdminID:    s.AdminID,
				AdminName:  s.AdminName,
				AdminEmail: s.AdminEmail,
				Token:      maskToken(s.Token),
				Cache:      s.Cache,
			}
			if check {
				_, err := client.ListConversations(cmd.Context())
				ok := err == nil
				st.Reachable = &ok
				if err != nil && api.IsAuthError(err) {
					return err
				}
			}

			f := newFormatter(cmd)
			if done, err := f.Result(st); done {
				return err
			}
			var reachable any
			if st.Reachable != nil {
				reachable = *st.Reachable
			}
			return f.Fields(
				outfmt.Field{Label: "Profile", Value: st.Profile},
				outfmt.Field{Label: "Backend", Value: st.BaseURL},
				outfmt.Field{Label: "Push channel", Value: st.SocketURL},
				outfmt.Field{Label: "Admin", Value: fmt.Sprintf("%s (%s)", st.AdminName, st.AdminID)},
				outfmt.Field{Label: "Token", Value: st.Token},
				outfmt.Field{Label: "Cache", Value: st.Cache},
				outfmt.Field{Label: "Reachable", Value: reachable},
			)
		}),
	}

	cmd.Flags().BoolVar(&check, "check", false, "Also call the backend to confirm it is reachable")
	return cmd
}

func profileName(profile string) string {
	if profile == "" {
		return "default"
	}
	return profile
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "(none)"
	case len(token) <= 8:
		return strings.Repeat("*", len(token))
	default:
		return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
	}
}

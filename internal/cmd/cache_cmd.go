package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/operiq/support-sync/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the conversation snapshot cache",
	}

	cmd.AddCommand(newCacheClearCmd())
	cmd.AddCommand(newCachePathCmd())
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear cached conversation snapshots",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			dir, err := cache.DefaultDir()
			if err != nil {
				return fmt.Errorf("could not determine cache directory: %w", err)
			}
			removed := cache.ClearAll(dir)
			printAction(cmd, "Cache cleared: %s (%d files)", dir, removed)

			// a configured redis cache is shared, so only this backend's key goes
			s, err := newClientFactory().settings()
			if err != nil || !strings.HasPrefix(s.Cache, "redis") {
				return nil
			}
			store, err := cache.Open(cmd.Context(), s.Cache, conversationCacheKey, s.BaseURL)
			if err != nil {
				return err
			}
			if closer, ok := store.(io.Closer); ok {
				defer func() { _ = closer.Close() }()
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear redis cache: %w", err)
			}
			printAction(cmd, "Redis cache cleared for %s", s.BaseURL)
			return nil
		}),
	}
}

func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the cache directory path",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			dir, err := cache.DefaultDir()
			if err != nil {
				return fmt.Errorf("could not determine cache directory: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		}),
	}
}

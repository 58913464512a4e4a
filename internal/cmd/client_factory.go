package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/cache"
	"github.com/operiq/support-sync/internal/config"
	"github.com/operiq/support-sync/internal/socketio"
	"github.com/operiq/support-sync/internal/support"
)

const (
	socketNamespace      = "/support"
	conversationCacheKey = "conversations"
)

type clientFactory struct {
	timeout   time.Duration
	userAgent string
}

func newClientFactory() *clientFactory {
	return &clientFactory{
		timeout:   flags.Timeout,
		userAgent: fmt.Sprintf("supportctl/%s", version),
	}
}

func (f *clientFactory) settings() (config.Settings, error) {
	return config.Load(config.LoadOptions{
		EnvFile: flags.EnvFile,
		BaseURL: flags.BaseURL,
		Token:   flags.Token,
	})
}

func (f *clientFactory) newClient(s config.Settings) *api.Client {
	client := api.New(s.BaseURL, s.Token)
	if f.timeout > 0 {
		client.HTTP.Timeout = f.timeout
	}
	client.UserAgent = f.userAgent
	switch key := strings.TrimSpace(flags.IdempotencyKey); {
	case key == "":
	case strings.EqualFold(key, "auto"):
		client.IdempotencyKeyFunc = uuid.NewString
	default:
		client.IdempotencyKeyFunc = func() string { return key }
	}
	return client
}

// getClient creates an API client from the resolved settings
func getClient() (*api.Client, config.Settings, error) {
	f := newClientFactory()
	s, err := f.settings()
	if err != nil {
		return nil, config.Settings{}, err
	}
	return f.newClient(s), s, nil
}

// controllerHandle bundles a controller with the resources it borrows.
type controllerHandle struct {
	ctrl     *support.Controller
	client   *api.Client
	settings config.Settings
	closers  []io.Closer
}

// Close shuts the controller down and releases the cache connection.
func (h *controllerHandle) Close() {
	h.ctrl.Shutdown()
	for _, c := range h.closers {
		_ = c.Close()
	}
}

// newController wires the full sync engine: REST client, push channel and
// snapshot cache.
func (f *clientFactory) newController(ctx context.Context) (*controllerHandle, error) {
	s, err := f.settings()
	if err != nil {
		return nil, err
	}
	client := f.newClient(s)

	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	channel, err := socketio.New(s.SocketURL, socketio.Options{
		Namespace: socketNamespace,
		Header:    header,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	h := &controllerHandle{client: client, settings: s}
	var snapshots support.SnapshotCache
	if !flags.NoCache {
		store, err := cache.Open(ctx, s.Cache, conversationCacheKey, s.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		if store != nil {
			snapshots = store
			if closer, ok := store.(io.Closer); ok {
				h.closers = append(h.closers, closer)
			}
		}
	}

	h.ctrl = support.NewController(support.Config{
		API:     client,
		Channel: channel,
		Cache:   snapshots,
		Identity: support.Identity{
			ID:    s.AdminID,
			Name:  s.AdminName,
			Email: s.AdminEmail,
		},
		PollInterval:      s.PollInterval,
		DirectoryInterval: s.DirectoryInterval,
		Logger:            slog.Default(),
	})
	return h, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the synchronization loops.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultDirectoryInterval = 30 * time.Second
	DefaultAdminName         = "Support"
)

// Settings is everything the console needs to run.
type Settings struct {
	BaseURL           string
	SocketURL         string
	Token             string
	AdminID           string
	AdminName         string
	AdminEmail        string
	PollInterval      time.Duration
	DirectoryInterval time.Duration
	// Cache is "file", "off" or a redis:// URL.
	Cache string
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// EnvFile is loaded before reading the environment. Missing files are
	// ignored unless the path was given explicitly.
	EnvFile string
	// BaseURL and Token override everything else when set.
	BaseURL string
	Token   string
}

// Load resolves Settings. Precedence, lowest first: stored keyring account,
// .env file, process environment, explicit overrides.
func Load(opts LoadOptions) (Settings, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Settings{}, err
	}

	var s Settings
	account, err := LoadAccount()
	switch {
	case err == nil:
		s = Settings{
			BaseURL:    account.BaseURL,
			SocketURL:  account.SocketURL,
			Token:      account.APIToken,
			AdminID:    account.AdminID,
			AdminName:  account.AdminName,
			AdminEmail: account.AdminEmail,
		}
	case errors.Is(err, ErrNotConfigured):
	default:
		// an unreadable keyring only matters when the environment does not
		// provide a backend either
		if strings.TrimSpace(os.Getenv("SUPPORT_BASE_URL")) == "" && opts.BaseURL == "" {
			return Settings{}, err
		}
	}

	envString(&s.BaseURL, "SUPPORT_BASE_URL")
	envString(&s.SocketURL, "SUPPORT_SOCKET_URL")
	envString(&s.Token, "SUPPORT_API_TOKEN")
	envString(&s.AdminID, "SUPPORT_ADMIN_ID")
	envString(&s.AdminName, "SUPPORT_ADMIN_NAME")
	envString(&s.AdminEmail, "SUPPORT_ADMIN_EMAIL")
	envString(&s.Cache, "SUPPORT_CACHE")
	if s.PollInterval, err = envDuration("SUPPORT_POLL_INTERVAL", DefaultPollInterval); err != nil {
		return Settings{}, err
	}
	if s.DirectoryInterval, err = envDuration("SUPPORT_DIRECTORY_INTERVAL", DefaultDirectoryInterval); err != nil {
		return Settings{}, err
	}

	if opts.BaseURL != "" {
		s.BaseURL = opts.BaseURL
	}
	if opts.Token != "" {
		s.Token = opts.Token
	}

	s.BaseURL = strings.TrimSuffix(s.BaseURL, "/")
	if s.BaseURL == "" {
		return Settings{}, ErrNotConfigured
	}
	if s.SocketURL == "" {
		s.SocketURL = s.BaseURL
	}
	if s.AdminID == "" {
		s.AdminID = "admin"
	}
	if s.AdminName == "" {
		s.AdminName = DefaultAdminName
	}
	if s.Cache == "" {
		s.Cache = "file"
	}
	return s, nil
}

// loadEnvFile applies path (or ./.env) without overriding variables that
// are already exported.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file %q: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read env file %q: %w", path, err)
	}
	return nil
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration like 2s, got %q", key, raw)
	}
	return d, nil
}

// Package cache persists small JSON snapshots between runs, such as the
// conversation directory used for warm starts.
//
// Entries are scoped per resource key and server URL. The file backend is
// the default; a Redis backend can be shared by several consoles. Disable
// caching with SUPPORT_NO_CACHE=1.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTTL bounds how stale a warm-start snapshot may be.
const DefaultTTL = 24 * time.Hour

// Cache stores one JSON value under a fixed key.
type Cache interface {
	Get(ctx context.Context, dst any) bool
	Put(ctx context.Context, v any) error
	Clear(ctx context.Context) error
}

type entry struct {
	CachedAt time.Time       `json:"cached_at"`
	Items    json.RawMessage `json:"items"`
}

// Store is the file backend: one JSON file per key and server.
type Store struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewStore creates a file Store with DefaultTTL.
// dir is the cache directory (typically from DefaultDir), key the resource
// (e.g. "conversations") and baseURL the support backend.
func NewStore(dir, key, baseURL string) *Store {
	return NewStoreWithTTL(dir, key, baseURL, DefaultTTL)
}

// NewStoreWithTTL creates a file Store with a custom TTL.
func NewStoreWithTTL(dir, key, baseURL string, ttl time.Duration) *Store {
	filename := fmt.Sprintf("%s_%s.json", sanitizeKey(key), serverHash(baseURL))
	return &Store{
		path: filepath.Join(dir, filename),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get loads the cached value into dst. It returns false on miss (no file,
// expired, unreadable or disabled).
func (s *Store) Get(_ context.Context, dst any) bool {
	if disabled() {
		return false
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	return decodeEntry(data, dst, s.ttl, s.now())
}

// Put writes v. It is a no-op when caching is disabled.
func (s *Store) Put(_ context.Context, v any) error {
	if disabled() {
		return nil
	}
	data, err := encodeEntry(v, s.now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// Atomic-ish write: write temp then rename.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write cache: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the cache file.
func (s *Store) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ClearAll removes all cache files from the directory.
// For safety, it only removes files matching this project's cache filename scheme.
func ClearAll(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isCacheFilename(e.Name()) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}

// DefaultDir returns "$XDG_CACHE_HOME/support-sync" or the platform
// equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "support-sync"), nil
}

func encodeEntry(v any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	return json.Marshal(entry{CachedAt: now, Items: raw})
}

func decodeEntry(data []byte, dst any, ttl time.Duration, now time.Time) bool {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return false
	}
	if ttl > 0 && now.Sub(e.CachedAt) > ttl {
		return false
	}
	return json.Unmarshal(e.Items, dst) == nil
}

func disabled() bool {
	return os.Getenv("SUPPORT_NO_CACHE") != ""
}

// serverHash is the first 6 bytes of sha1(baseURL), hex encoded.
func serverHash(baseURL string) string {
	hash := sha1.Sum([]byte(strings.TrimRight(baseURL, "/")))
	return hex.EncodeToString(hash[:6])
}

func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "cache"
	}
	key = strings.ReplaceAll(key, "/", "-")
	key = strings.ReplaceAll(key, "\\", "-")
	key = strings.ReplaceAll(key, "_", "-")
	return key
}

func isCacheFilename(name string) bool {
	// Expected: "<key>_<12hex>.json"
	if filepath.Ext(name) != ".json" {
		return false
	}
	key, hash, ok := strings.Cut(strings.TrimSuffix(name, ".json"), "_")
	if !ok || key == "" || strings.Contains(hash, "_") {
		return false
	}
	return len(hash) == 12 && isHex(hash)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

package cache

import (
	"context"
	"fmt"
	"strings"
)

// Open builds the cache named by setting:
//
//	"" or "file"   file store under DefaultDir
//	"off"          no cache (nil, nil)
//	"redis://..."  Redis store
func Open(ctx context.Context, setting, key, baseURL string) (Cache, error) {
	setting = strings.TrimSpace(setting)
	switch {
	case setting == "" || strings.EqualFold(setting, "file"):
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		return NewStore(dir, key, baseURL), nil
	case strings.EqualFold(setting, "off") || strings.EqualFold(setting, "none"):
		return nil, nil
	case strings.HasPrefix(setting, "redis://") || strings.HasPrefix(setting, "rediss://"):
		client, err := DialRedis(ctx, setting)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, key, baseURL, DefaultTTL), nil
	default:
		return nil, fmt.Errorf("unknown cache setting %q (use file, off or a redis:// URL)", setting)
	}
}

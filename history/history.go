package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pixiedraw-relay/domain"
)

var ErrClosed = errors.New("history store closed")

// Open connects to the store named by dsn. Supported schemes: postgres,
// postgresql, sqlite, redis, rediss and memory.
func Open(ctx context.Context, dsn string) (domain.HistoryStore, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, errors.New("history: connection string has no scheme")
	}

	switch strings.ToLower(scheme) {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		store, err := OpenSQL(ctx, Postgres, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("history: sqlite connection string needs a path")
		}
		store, err := OpenSQL(ctx, SQLite, rest)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis", "rediss":
		store, err := OpenRedis(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("history: unsupported scheme %q", scheme)
	}
}

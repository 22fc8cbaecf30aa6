package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixiedraw-relay/domain"
)

func backends(t *testing.T) map[string]func(t *testing.T) domain.HistoryStore {
	return map[string]func(t *testing.T) domain.HistoryStore{
		"memory": func(t *testing.T) domain.HistoryStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) domain.HistoryStore {
			store, err := OpenSQL(context.Background(), SQLite, ":memory:")
			require.NoError(t, err)
			return store
		},
		"redis": func(t *testing.T) domain.HistoryStore {
			mr := miniredis.RunT(t)
			return NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
		},
	}
}

func TestStore_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()

			first, err := store.Append(ctx, 7, "user-a", `{"kind":"pen","pts":[[0,0],[1,1]]}`)
			require.NoError(t, err)
			second, err := store.Append(ctx, 7, "user-b", `{"kind":"rect"}`)
			require.NoError(t, err)
			_, err = store.Append(ctx, 8, "user-a", `{"kind":"circle"}`)
			require.NoError(t, err)

			assert.Greater(t, second.ID, first.ID)
			assert.Equal(t, int64(7), first.RoomID)
			assert.Equal(t, "user-a", first.UserID)
			assert.False(t, first.CreatedAt.IsZero())

			events, err := store.Recent(ctx, 7, 50)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, second.ID, events[0].ID)
			assert.Equal(t, `{"kind":"rect"}`, events[0].Message)
			assert.Equal(t, "user-b", events[0].UserID)
			assert.Equal(t, first.ID, events[1].ID)
			assert.Equal(t, `{"kind":"pen","pts":[[0,0],[1,1]]}`, events[1].Message)
			assert.Equal(t, first.CreatedAt.UnixMilli(), events[1].CreatedAt.UnixMilli())
		})
	}
}

func TestStore_RecentLimits(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()

			for i := 0; i < 60; i++ {
				_, err := store.Append(ctx, 1, "user", fmt.Sprintf(`{"n":%d}`, i))
				require.NoError(t, err)
			}

			events, err := store.Recent(ctx, 1, 50)
			require.NoError(t, err)
			require.Len(t, events, 50)
			assert.Equal(t, `{"n":59}`, events[0].Message)
			assert.Equal(t, `{"n":10}`, events[49].Message)

			events, err = store.Recent(ctx, 1, 0)
			require.NoError(t, err)
			assert.Empty(t, events)

			events, err = store.Recent(ctx, 99, 50)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestRedisStore_Retention(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 3)
	defer store.Close()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, 1, "user", fmt.Sprintf(`{"n":%d}`, i))
		require.NoError(t, err)
	}

	events, err := store.Recent(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, `{"n":4}`, events[0].Message)
	assert.Equal(t, `{"n":2}`, events[2].Message)
}

func TestRedisStore_AppendFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), 0)
	defer store.Close()
	mr.Close()

	_, err := store.Append(context.Background(), 1, "user", `{}`)
	assert.Error(t, err)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Append(context.Background(), 1, "user", `{}`)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Recent(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Append(ctx, 1, "user", `{}`)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")

	tests := []struct {
		name    string
		dsn     string
		want    any
		wantErr string
	}{
		{name: "memory", dsn: "memory://", want: &MemoryStore{}},
		{name: "sqlite file", dsn: "sqlite://" + dbPath, want: &SQLStore{}},
		{name: "sqlite in memory", dsn: "sqlite://:memory:", want: &SQLStore{}},
		{name: "redis", dsn: "redis://" + mr.Addr() + "/0", want: &RedisStore{}},
		{name: "no scheme", dsn: "localhost:5432", wantErr: "no scheme"},
		{name: "unknown scheme", dsn: "mongodb://localhost", wantErr: "unsupported scheme"},
		{name: "sqlite without path", dsn: "sqlite://", wantErr: "needs a path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(ctx, tt.dsn)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)

			_, err = store.Append(ctx, 3, "user", `{"ok":true}`)
			require.NoError(t, err)
			events, err := store.Recent(ctx, 3, 1)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, `{"ok":true}`, events[0].Message)
		})
	}
}

func TestSQLStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := OpenSQL(ctx, SQLite, path)
	require.NoError(t, err)
	_, err = store.Append(ctx, 5, "user", `{"kind":"pen"}`)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenSQL(ctx, SQLite, path)
	require.NoError(t, err)
	defer store.Close()

	events, err := store.Recent(ctx, 5, 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, `{"kind":"pen"}`, events[0].Message)
}

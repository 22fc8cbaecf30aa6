package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"pixiedraw-relay/domain"
)

// Dialect captures what differs between the SQL backends.
type Dialect struct {
	Name        string
	Driver      string
	Schema      string
	Placeholder func(n int) string
	// MaxOpenConns of zero leaves the database/sql default.
	MaxOpenConns int
}

var Postgres = Dialect{
	Name:   "postgres",
	Driver: "pgx",
	Schema: `CREATE TABLE IF NOT EXISTS chats (
		id BIGSERIAL PRIMARY KEY,
		room_id BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS chats_room_id_id ON chats (room_id, id DESC)`,
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// SQLite serializes writers anyway; a single connection also keeps
// ":memory:" databases shared across calls.
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	Schema: `CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS chats_room_id_id ON chats (room_id, id DESC)`,
	Placeholder:  func(int) string { return "?" },
	MaxOpenConns: 1,
}

type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	insert  string
	recent  string
}

// OpenSQL opens dsn with the dialect's driver, checks connectivity and
// creates the chats table if needed.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", dialect.Name, err)
	}
	if dialect.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dialect.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: connecting to %s: %w", dialect.Name, err)
	}
	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	p := dialect.Placeholder
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		insert: fmt.Sprintf(
			"INSERT INTO chats (room_id, user_id, message, created_at) VALUES (%s, %s, %s, %s) RETURNING id",
			p(1), p(2), p(3), p(4)),
		recent: fmt.Sprintf(
			"SELECT id, room_id, user_id, message, created_at FROM chats WHERE room_id = %s ORDER BY id DESC LIMIT %s",
			p(1), p(2)),
	}

	slog.Info("history store opened", "backend", dialect.Name)
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range splitStatements(dialect.Schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: creating %s schema: %w", dialect.Name, err)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (s *SQLStore) Append(ctx context.Context, roomID int64, userID, payload string) (domain.Event, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	event := domain.Event{
		RoomID:    roomID,
		UserID:    userID,
		Message:   payload,
		CreatedAt: now,
	}
	err := s.db.QueryRowContext(ctx, s.insert, roomID, userID, payload, now.UnixMilli()).Scan(&event.ID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("history: appending to room %d: %w", roomID, err)
	}
	return event, nil
}

func (s *SQLStore) Recent(ctx context.Context, roomID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return []domain.Event{}, nil
	}

	rows, err := s.db.QueryContext(ctx, s.recent, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying room %d: %w", roomID, err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, limit)
	for rows.Next() {
		var (
			event     domain.Event
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.RoomID, &event.UserID, &event.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scanning room %d: %w", roomID, err)
		}
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: reading room %d: %w", roomID, err)
	}
	return events, nil
}

func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: closing %s: %w", s.dialect.Name, err)
	}
	return nil
}

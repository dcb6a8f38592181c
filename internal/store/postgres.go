package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

// PostgresStore 是基于 pgx 连接池的 Store 实现。
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres 建立连接池、检查连通性并执行迁移。
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			text TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			seen BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, ts);
		CREATE TABLE IF NOT EXISTS users (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		);`)
	return errors.Wrap(err, "postgres migrate")
}

func (s *PostgresStore) InsertMessage(ctx context.Context, from, to, text string, ts time.Time) (*Message, error) {
	msg := &Message{
		ID:        newID(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: normalizeTimestamp(ts),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, sender, recipient, text, ts, seen)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`, msg.ID, msg.From, msg.To, msg.Text, msg.Timestamp)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PostgresStore) MarkSeen(ctx context.Context, from, to string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET seen = TRUE
		WHERE sender = $1 AND recipient = $2 AND seen = FALSE
	`, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) FindMessages(ctx context.Context, userA, userB string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, recipient, text, ts, seen FROM messages
		WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)
		ORDER BY ts ASC, seq ASC
	`, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Timestamp, &m.Seen); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) FindOrCreateUser(ctx context.Context, username string) (*User, bool, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO NOTHING
		RETURNING id, username, created_at
	`, newID(), username, normalizeTimestamp(time.Now())).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err == nil {
		u.CreatedAt = u.CreatedAt.UTC()
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := s.GetUser(ctx, username)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, username, created_at FROM users ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*User, 0)
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, merr.WrapErrUserNotFound(username)
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

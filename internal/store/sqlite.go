package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

// SQLiteStore 是基于 modernc.org/sqlite 的 Store 实现。
//
// 时间戳以 unix 毫秒整数存储；seq 为自增主键，用于同一毫秒内保持写入顺序。
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite 打开（或创建）path 处的数据库并执行迁移。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := "file:" + filepath.ToSlash(path) + "?cache=shared" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// 单连接串行化写入，避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			text TEXT NOT NULL,
			ts INTEGER NOT NULL,
			seen INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, ts);`,
		`CREATE TABLE IF NOT EXISTS users (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "sqlite migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, from, to, text string, ts time.Time) (*Message, error) {
	msg := &Message{
		ID:        newID(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: normalizeTimestamp(ts),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, recipient, text, ts, seen) VALUES (?, ?, ?, ?, ?, 0)`,
		msg.ID, msg.From, msg.To, msg.Text, msg.Timestamp.UnixMilli())
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) MarkSeen(ctx context.Context, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET seen = 1 WHERE sender = ? AND recipient = ? AND seen = 0`, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) FindMessages(ctx context.Context, userA, userB string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, recipient, text, ts, seen FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY ts ASC, seq ASC`, userA, userB, userB, userA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var (
			m    Message
			ts   int64
			seen int
		)
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &ts, &seen); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		m.Seen = seen != 0
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) FindOrCreateUser(ctx context.Context, username string) (*User, bool, error) {
	candidate := &User{ID: newID(), Username: username, CreatedAt: normalizeTimestamp(time.Now())}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?) ON CONFLICT(username) DO NOTHING`,
		candidate.ID, candidate.Username, candidate.CreatedAt.UnixMilli())
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		return candidate, true, nil
	}
	user, err := s.GetUser(ctx, username)
	if err != nil {
		return nil, false, err
	}
	return user, false, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, created_at FROM users ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*User, 0)
	for rows.Next() {
		var (
			u       User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.WrapErrUserNotFound(username)
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

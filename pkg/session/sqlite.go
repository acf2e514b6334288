package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// スキーマ定義。messagesのidはセッション内の追記順を与える。
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    owner_client_id TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session
    ON messages(session_id, id);
`

// SQLiteStore はSQLiteを保存先とするセッションストア。
// プロセス再起動をまたいでセッションを保持したい単一ノード構成向け。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewSQLiteStore は指定パスのSQLiteデータベースを開き、スキーマを適用する。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// 同一接続上でAppendを直列化し、セッション内の追記順を保証する
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create は新しいセッションを登録する。
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("セッションの存在確認に失敗: %w", err)
	}
	if exists > 0 {
		return ErrSessionExists
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_client_id, created_at) VALUES (?, ?, ?)`,
		sess.ID, sess.OwnerClientID, sess.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("セッションの登録に失敗: %w", err)
	}
	return nil
}

// Get はセッションと履歴をスナップショットとして読み出す。
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var (
		sess      Session
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_client_id, created_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &sess.OwnerClientID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("作成時刻のパースに失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("履歴の取得に失敗: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg Message
			ts  string
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("履歴行の読み取りに失敗: %w", err)
		}
		if msg.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("追記時刻のパースに失敗: %w", err)
		}
		sess.History = append(sess.History, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("履歴の走査に失敗: %w", err)
	}
	return &sess, nil
}

// Append はセッション履歴の末尾にメッセージを追記する。
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg Message) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("セッションの存在確認に失敗: %w", err)
	}
	if exists == 0 {
		return ErrUnknownSession
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("メッセージの追記に失敗: %w", err)
	}
	return nil
}

// Delete はセッションと履歴を削除する。
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("履歴の削除に失敗: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

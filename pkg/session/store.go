package session

import (
	"context"
	"errors"
	"time"
)

// Role はメッセージの発話者種別を表す。
type Role string

const (
	// RoleUser は利用者の発話を表す。
	RoleUser Role = "user"
	// RoleAssistant はアシスタントの応答を表す。
	RoleAssistant Role = "assistant"
)

// ErrUnknownSession は存在しないセッションIDが指定されたことを表す。
// 他クライアント所有のセッションへのアクセスも、存在の有無を
// 漏らさないためこのエラーに集約する。
var ErrUnknownSession = errors.New("セッションが存在しません")

// ErrSessionExists はセッションIDの衝突を表す。
// IDは暗号論的乱数から生成されるため衝突確率は無視できるほど低く、
// 発生した場合はリトライせず不変条件違反として扱う。
var ErrSessionExists = errors.New("セッションIDが既に存在します")

// Message は会話履歴の1エントリを表す。追記のみで変更・並べ替えは行わない。
type Message struct {
	// Role は発話者種別（user / assistant）。
	Role Role `json:"role"`
	// Content は発話内容。
	Content string `json:"content"`
	// Timestamp は追記時刻。
	Timestamp time.Time `json:"timestamp"`
}

// Session は1つの会話セッションを表す。
type Session struct {
	// ID はセッションの一意識別子（UUID）。
	ID string `json:"session_id"`
	// OwnerClientID はセッションを作成したクライアントのID。
	// 履歴は所有クライアント以外には公開しない。
	OwnerClientID string `json:"owner_client_id"`
	// CreatedAt はセッション作成時刻。
	CreatedAt time.Time `json:"created_at"`
	// History は到着順に全順序付けられたメッセージ履歴。
	History []Message `json:"history"`
}

// Store はセッションの保存先を抽象化する。
// プロセス起動時に生成し、シャットダウン時にCloseする。
// Appendは同一セッションに対して直列化され、履歴の全順序を保証する。
type Store interface {
	// Create は新しいセッションを登録する。IDが既に存在する場合は
	// ErrSessionExistsを返し、既存セッションを上書きしない。
	Create(ctx context.Context, sess *Session) error
	// Get はセッションの現在のスナップショットを返す。
	// 存在しない場合はErrUnknownSessionを返す。
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Append はセッション履歴の末尾にメッセージを追記する。
	// 存在しない場合はErrUnknownSessionを返す。
	Append(ctx context.Context, sessionID string, msg Message) error
	// Delete はセッションを削除する。存在しない場合は何もしない。
	Delete(ctx context.Context, sessionID string) error
	// Close は保存先との接続を解放する。
	Close() error
}

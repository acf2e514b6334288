package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/rin-gateway/pkg/token"
)

// ErrUnauthorized はアクセストークンの検証に失敗したことを表す。
var ErrUnauthorized = errors.New("認証に失敗しました")

// Bridge はセッションのライフサイクルと履歴の整合性を管理する。
// 呼び出し側の認証はトークンサービスに委譲する。
type Bridge struct {
	// store はセッションの保存先。
	store Store
	// tokens は呼び出し側認証に使うトークンサービス。
	tokens *token.Service
	// mu はlocksを保護する。
	mu sync.Mutex
	// locks はセッションごとのターン直列化ロック。
	locks map[string]*sync.Mutex
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// NewBridge は新しいセッションブリッジを生成する。
func NewBridge(store Store, tokens *token.Service) *Bridge {
	return &Bridge{
		store:  store,
		tokens: tokens,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// Initialize は呼び出し側クライアントに紐づく新しいセッションを作成し、
// セッションIDを返す。IDはUUID v4であり、衝突した場合は上書きせず
// 不変条件違反としてエラーを返す。
func (b *Bridge) Initialize(ctx context.Context, ownerClientID string) (string, error) {
	sess := &Session{
		ID:            uuid.New().String(),
		OwnerClientID: ownerClientID,
		CreatedAt:     b.now(),
	}
	if err := b.store.Create(ctx, sess); err != nil {
		if errors.Is(err, ErrSessionExists) {
			return "", fmt.Errorf("セッションIDが衝突しました（不変条件違反）: %w", err)
		}
		return "", fmt.Errorf("セッションの作成に失敗: %w", err)
	}
	return sess.ID, nil
}

// AuthenticateCaller はBearerトークンをアクセストークンとして検証する。
// 検証失敗はすべてErrUnauthorizedに集約する。
func (b *Bridge) AuthenticateCaller(tokenString string) (*token.Claims, error) {
	claims, err := b.tokens.Verify(tokenString, token.TypeAccess)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Append はセッション履歴の末尾にメッセージを追記する。
// 追記順はストアが到着順に直列化する。
func (b *Bridge) Append(ctx context.Context, sessionID string, role Role, content string) error {
	return b.store.Append(ctx, sessionID, Message{
		Role:      role,
		Content:   content,
		Timestamp: b.now(),
	})
}

// History はセッション履歴のスナップショットを返す。
// 所有クライアント以外からの参照は、セッションの存在を漏らさないよう
// ErrUnknownSessionとして扱う。
func (b *Bridge) History(ctx context.Context, sessionID, callerClientID string) ([]Message, error) {
	sess, err := b.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerClientID != callerClientID {
		return nil, ErrUnknownSession
	}
	return sess.History, nil
}

// Owns はセッションが指定クライアントの所有であるかを返す。
// セッションが存在しない場合はErrUnknownSessionを返す。
func (b *Bridge) Owns(ctx context.Context, sessionID, callerClientID string) error {
	sess, err := b.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.OwnerClientID != callerClientID {
		return ErrUnknownSession
	}
	return nil
}

// Acquire はセッションごとのターン直列化ロックを取得し、解放関数を返す。
// 1つのチャットターン（利用者発話の追記 → 下流呼び出し → 応答の追記）を
// この区間で囲むことで、同一セッションへの同時ターンが履歴上で
// 交錯しないことを保証する。
func (b *Bridge) Acquire(sessionID string) func() {
	b.mu.Lock()
	lock, ok := b.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[sessionID] = lock
	}
	b.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

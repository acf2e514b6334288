package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore はRedisを保存先とするセッションストア。
// 複数ゲートウェイインスタンスでセッションを共有する構成向け。
// 履歴はRPUSHによるリスト追記で全順序を保証する。
type RedisStore struct {
	// client はRedisクライアント。
	client *redis.Client
	// ttl はセッションキーの有効期間。0の場合は無期限。
	ttl time.Duration
}

// redisMeta はRedis上に保存するセッションのメタ情報。
type redisMeta struct {
	OwnerClientID string    `json:"owner_client_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewRedisStore は新しいRedisセッションストアを生成する。
// 接続確認のためPINGを送信し、失敗した場合はエラーを返す。
func NewRedisStore(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// metaKey はセッションメタ情報のキーを返す。
func metaKey(sessionID string) string {
	return "rin:session:" + sessionID
}

// historyKey はセッション履歴リストのキーを返す。
func historyKey(sessionID string) string {
	return "rin:session:" + sessionID + ":history"
}

// Create は新しいセッションを登録する。
// SETNXで登録するため、既存セッションを上書きすることはない。
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	meta, err := json.Marshal(redisMeta{
		OwnerClientID: sess.OwnerClientID,
		CreatedAt:     sess.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("セッションメタ情報のシリアライズに失敗: %w", err)
	}

	ok, err := s.client.SetNX(ctx, metaKey(sess.ID), meta, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("セッションの登録に失敗: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

// Get はセッションと履歴をスナップショットとして読み出す。
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, metaKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}

	var meta redisMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("セッションメタ情報のパースに失敗: %w", err)
	}

	entries, err := s.client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("履歴の取得に失敗: %w", err)
	}

	sess := &Session{
		ID:            sessionID,
		OwnerClientID: meta.OwnerClientID,
		CreatedAt:     meta.CreatedAt,
	}
	for _, entry := range entries {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("履歴エントリのパースに失敗: %w", err)
		}
		sess.History = append(sess.History, msg)
	}
	return sess, nil
}

// Append はセッション履歴の末尾にメッセージを追記する。
func (s *RedisStore) Append(ctx context.Context, sessionID string, msg Message) error {
	exists, err := s.client.Exists(ctx, metaKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("セッションの存在確認に失敗: %w", err)
	}
	if exists == 0 {
		return ErrUnknownSession
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("メッセージのシリアライズに失敗: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey(sessionID), data).Err(); err != nil {
		return fmt.Errorf("メッセージの追記に失敗: %w", err)
	}
	if s.ttl > 0 {
		// メタ情報と履歴の有効期限をそろえる
		s.client.Expire(ctx, metaKey(sessionID), s.ttl)
		s.client.Expire(ctx, historyKey(sessionID), s.ttl)
	}
	return nil
}

// Delete はセッションと履歴を削除する。
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, metaKey(sessionID), historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

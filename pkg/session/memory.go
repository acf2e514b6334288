package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリ上のセッション保存先。
// デフォルトの保存先であり、プロセス再起動で履歴は失われる。
// 全操作はミューテックスで保護され、同一セッションへの並行追記は
// 到着順に直列化される。
type MemoryStore struct {
	// mu はsessionsを保護する。
	mu sync.Mutex
	// sessions はセッションIDから実体への索引。
	sessions map[string]*Session
	// ttl はセッションの保持期間。0の場合は無期限。
	ttl time.Duration
	// done は掃除ゴルーチンの停止シグナル。
	done chan struct{}
	// closeOnce はCloseの多重呼び出しを防ぐ。
	closeOnce sync.Once
}

// NewMemoryStore は新しいインメモリセッションストアを生成する。
// ttlに正の値を指定すると、作成からttlを経過したセッションを
// 定期的に破棄する。0を指定すると破棄しない。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

// Create は新しいセッションを登録する。
func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	cp := *sess
	cp.History = append([]Message(nil), sess.History...)
	s.sessions[sess.ID] = &cp
	return nil
}

// Get はセッションのスナップショットを返す。
// 内部状態と履歴スライスを共有しないようコピーを返す。
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	cp := *sess
	cp.History = append([]Message(nil), sess.History...)
	return &cp, nil
}

// Append はセッション履歴の末尾にメッセージを追記する。
func (s *MemoryStore) Append(_ context.Context, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	sess.History = append(sess.History, msg)
	return nil
}

// Delete はセッションを削除する。
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Close は掃除ゴルーチンを停止する。
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// sweep はTTLを経過したセッションを定期的に破棄する。
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, sess := range s.sessions {
				if now.Sub(sess.CreatedAt) > s.ttl {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

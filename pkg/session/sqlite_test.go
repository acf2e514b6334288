package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// newTestSQLiteStore はテスト用のSQLiteストアを生成する。
func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("SQLiteストアの生成に失敗: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestSQLiteStoreCreateAndGet はセッションの登録と取得のテスト。
func TestSQLiteStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	t.Run("登録したセッションを取得できる", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		ctx := context.Background()

		created := time.Now().UTC().Truncate(time.Millisecond)
		sess := &Session{ID: "sess-1", OwnerClientID: "rin-chat", CreatedAt: created}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		got, err := store.Get(ctx, "sess-1")
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got.OwnerClientID != "rin-chat" {
			t.Errorf("OwnerClientID: got %q, want %q", got.OwnerClientID, "rin-chat")
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, created)
		}
		if len(got.History) != 0 {
			t.Errorf("新規セッションの履歴が空でない: %d件", len(got.History))
		}
	})

	t.Run("存在しないセッションはErrUnknownSessionを返す", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrUnknownSession) {
			t.Errorf("error: got %v, want ErrUnknownSession", err)
		}
	})

	t.Run("同一IDの再登録はErrSessionExistsを返す", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		ctx := context.Background()

		sess := &Session{ID: "dup", OwnerClientID: "rin-chat", CreatedAt: time.Now()}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
		if err := store.Create(ctx, sess); !errors.Is(err, ErrSessionExists) {
			t.Errorf("error: got %v, want ErrSessionExists", err)
		}
	})
}

// TestSQLiteStoreAppend は履歴追記のテスト。
func TestSQLiteStoreAppend(t *testing.T) {
	t.Parallel()

	t.Run("追記した順序で履歴が返る", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		ctx := context.Background()

		sess := &Session{ID: "sess-order", OwnerClientID: "rin-chat", CreatedAt: time.Now()}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		now := time.Now().UTC()
		for i := 0; i < 5; i++ {
			msg := Message{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i), Timestamp: now}
			if err := store.Append(ctx, "sess-order", msg); err != nil {
				t.Fatalf("Append()でエラーが発生: %v", err)
			}
		}

		got, err := store.Get(ctx, "sess-order")
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if len(got.History) != 5 {
			t.Fatalf("履歴件数: got %d, want %d", len(got.History), 5)
		}
		for i, msg := range got.History {
			if want := fmt.Sprintf("msg-%d", i); msg.Content != want {
				t.Errorf("履歴[%d]: got %q, want %q", i, msg.Content, want)
			}
		}
	})

	t.Run("存在しないセッションへの追記はErrUnknownSessionを返す", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		msg := Message{Role: RoleUser, Content: "hello", Timestamp: time.Now()}
		if err := store.Append(context.Background(), "missing", msg); !errors.Is(err, ErrUnknownSession) {
			t.Errorf("error: got %v, want ErrUnknownSession", err)
		}
	})

	t.Run("並行追記で欠落も重複も発生しない", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		ctx := context.Background()

		sess := &Session{ID: "sess-conc", OwnerClientID: "rin-chat", CreatedAt: time.Now()}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				msg := Message{Role: RoleUser, Content: fmt.Sprintf("c-%d", i), Timestamp: time.Now()}
				if err := store.Append(ctx, "sess-conc", msg); err != nil {
					t.Errorf("Append()でエラーが発生: %v", err)
				}
			}(i)
		}
		wg.Wait()

		got, err := store.Get(ctx, "sess-conc")
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if len(got.History) != n {
			t.Errorf("履歴件数: got %d, want %d", len(got.History), n)
		}
	})
}

// TestSQLiteStoreDelete はセッション削除のテスト。
func TestSQLiteStoreDelete(t *testing.T) {
	t.Parallel()

	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := &Session{ID: "sess-del", OwnerClientID: "rin-chat", CreatedAt: time.Now()}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create()でエラーが発生: %v", err)
	}
	msg := Message{Role: RoleUser, Content: "bye", Timestamp: time.Now()}
	if err := store.Append(ctx, "sess-del", msg); err != nil {
		t.Fatalf("Append()でエラーが発生: %v", err)
	}

	if err := store.Delete(ctx, "sess-del"); err != nil {
		t.Fatalf("Delete()でエラーが発生: %v", err)
	}
	if _, err := store.Get(ctx, "sess-del"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("error: got %v, want ErrUnknownSession", err)
	}

	// 削除は冪等
	if err := store.Delete(ctx, "sess-del"); err != nil {
		t.Errorf("2回目のDelete()でエラーが発生: %v", err)
	}
}

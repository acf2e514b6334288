// Package ratelimit はエンドポイント種別ごとの固定ウィンドウ方式の
// 流量制限を提供する。
//
// ウィンドウ境界をまたいだ瞬間にカウンタがゼロに戻るため、境界付近で
// 最大2倍のバーストを許容する。これはスライディングウィンドウや
// トークンバケットより単純さを優先した既知のトレードオフである。
package ratelimit

import (
	"sync"
	"time"
)

// Class は流量制限のエンドポイント種別を表す。
type Class string

const (
	// ClassAuth はトークン発行・再発行エンドポイント。
	ClassAuth Class = "auth"
	// ClassSession はセッション作成エンドポイント。
	ClassSession Class = "session"
	// ClassChat はチャットエンドポイント。
	ClassChat Class = "chat"
	// ClassHistory は履歴取得エンドポイント。
	ClassHistory Class = "history"
)

// Policy はエンドポイント種別ごとの制限値を表す。
type Policy struct {
	// Window はカウント対象のウィンドウ幅。
	Window time.Duration
	// Max はウィンドウ内で許可する最大リクエスト数。
	Max int
}

// DefaultPolicies は既定の制限値一覧を返す。
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassAuth:    {Window: 5 * time.Minute, Max: 20},
		ClassSession: {Window: 5 * time.Minute, Max: 20},
		ClassChat:    {Window: time.Minute, Max: 30},
		ClassHistory: {Window: time.Minute, Max: 30},
	}
}

// window は (種別, キー) ごとの固定ウィンドウカウンタ。
type window struct {
	// start は現在のウィンドウの開始時刻。
	start time.Time
	// count は現在のウィンドウ内のリクエスト数。
	count int
}

// Limiter は (エンドポイント種別, キー) ごとの流量制限を管理する。
type Limiter struct {
	// mu はwindowsを保護する。
	mu sync.Mutex
	// policies は種別ごとの制限値。
	policies map[Class]Policy
	// windows は (種別, キー) からカウンタへの索引。
	windows map[string]*window
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// New は既定の制限値で新しいリミッタを生成する。
func New() *Limiter {
	return NewWithPolicies(DefaultPolicies())
}

// NewWithPolicies は指定した制限値で新しいリミッタを生成する。
func NewWithPolicies(policies map[Class]Policy) *Limiter {
	return &Limiter{
		policies: policies,
		windows:  make(map[string]*window),
		now:      time.Now,
	}
}

// Admit はリクエストの受け入れ可否を判定する。
// 拒否した場合は次のウィンドウ開始までの待機時間を併せて返す。
// 未定義の種別は制限なしとして扱う。
func (l *Limiter) Admit(class Class, key string) (bool, time.Duration) {
	policy, ok := l.policies[class]
	if !ok {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := string(class) + ":" + key
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) >= policy.Window {
		// ウィンドウ境界を越えた瞬間にカウントをリセットする
		l.windows[id] = &window{start: now, count: 1}
		l.dropStale(now)
		return true, 0
	}

	if w.count >= policy.Max {
		retryAfter := policy.Window - now.Sub(w.start)
		return false, retryAfter
	}
	w.count++
	return true, 0
}

// dropStale は期限切れのカウンタを破棄する。
// 呼び出し側がmuを保持していること。
func (l *Limiter) dropStale(now time.Time) {
	for id, w := range l.windows {
		class, _, ok := splitID(id)
		if !ok {
			delete(l.windows, id)
			continue
		}
		policy, ok := l.policies[class]
		if !ok || now.Sub(w.start) >= policy.Window {
			delete(l.windows, id)
		}
	}
}

// splitID は索引キーを (種別, キー) に分解する。
func splitID(id string) (Class, string, bool) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return Class(id[:i]), id[i+1:], true
		}
	}
	return "", "", false
}

package token

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrUnknownClient は未登録のAPIキーが指定されたことを表す。
// 「キーが間違っている」と「キーが存在しない」を呼び出し側から
// 区別できないよう、失敗理由はこのエラーに集約する。
var ErrUnknownClient = errors.New("未登録のクライアントです")

// ClientIdentity は登録済みクライアントの認証情報を表す。
// プロセス起動時にレジストリへロードされた後は不変として扱う。
type ClientIdentity struct {
	// ClientID はクライアントの一意識別子。
	ClientID string `json:"client_id"`
	// APIKey はトークン発行時にクライアントが提示する認証キー。
	APIKey string `json:"api_key"`
	// SigningSecret はこのクライアント専用のJWT署名秘密鍵。
	SigningSecret string `json:"signing_secret"`
	// Scopes はアクセストークンに埋め込む権限の一覧。
	Scopes []string `json:"scopes"`
	// AccessTokenTTLSeconds はアクセストークンの有効期間（秒）。
	AccessTokenTTLSeconds int64 `json:"access_token_ttl_seconds"`
	// RefreshTokenTTLSeconds はリフレッシュトークンの有効期間（秒）。
	RefreshTokenTTLSeconds int64 `json:"refresh_token_ttl_seconds"`
}

// AccessTokenTTL はアクセストークンの有効期間を返す。
func (c *ClientIdentity) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

// RefreshTokenTTL はリフレッシュトークンの有効期間を返す。
func (c *ClientIdentity) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLSeconds) * time.Second
}

// Registry は登録済みクライアントの静的な一覧。
// ロード後は読み取り専用であり、ロックなしで並行参照できる。
type Registry struct {
	// byAPIKey はAPIキーからクライアントへの索引。APIキーとクライアントは1対1。
	byAPIKey map[string]*ClientIdentity
	// byClientID はクライアントIDからクライアントへの索引。検証時の秘密鍵選択に使う。
	byClientID map[string]*ClientIdentity
}

// NewRegistry はクライアント一覧からレジストリを構築する。
// APIキーまたはクライアントIDが重複している場合はエラーを返す。
func NewRegistry(clients []ClientIdentity) (*Registry, error) {
	r := &Registry{
		byAPIKey:   make(map[string]*ClientIdentity, len(clients)),
		byClientID: make(map[string]*ClientIdentity, len(clients)),
	}
	for i := range clients {
		c := &clients[i]
		if c.ClientID == "" || c.APIKey == "" || c.SigningSecret == "" {
			return nil, fmt.Errorf("クライアント定義が不完全です: client_id=%q", c.ClientID)
		}
		if _, ok := r.byAPIKey[c.APIKey]; ok {
			return nil, fmt.Errorf("APIキーが重複しています: client_id=%q", c.ClientID)
		}
		if _, ok := r.byClientID[c.ClientID]; ok {
			return nil, fmt.Errorf("クライアントIDが重複しています: client_id=%q", c.ClientID)
		}
		r.byAPIKey[c.APIKey] = c
		r.byClientID[c.ClientID] = c
	}
	return r, nil
}

// LoadRegistry はJSONファイルからクライアント一覧を読み込みレジストリを構築する。
// ファイル形式はClientIdentityの配列。
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("クライアント定義ファイルの読み込みに失敗: %w", err)
	}
	var clients []ClientIdentity
	if err := json.Unmarshal(data, &clients); err != nil {
		return nil, fmt.Errorf("クライアント定義ファイルのパースに失敗: %w", err)
	}
	return NewRegistry(clients)
}

// Resolve はAPIキーに対応するクライアントを返す。
// タイミング攻撃でキーの存在有無を推測されないよう、
// 全エントリに対して定数時間比較を行う。
func (r *Registry) Resolve(apiKey string) (*ClientIdentity, error) {
	var found *ClientIdentity
	for key, c := range r.byAPIKey {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			found = c
		}
	}
	if found == nil {
		return nil, ErrUnknownClient
	}
	return found, nil
}

// ResolveID はクライアントIDに対応するクライアントを返す。
// トークン検証時の秘密鍵選択と、リフレッシュ時のスコープ再導出に使用する。
func (r *Registry) ResolveID(clientID string) (*ClientIdentity, error) {
	c, ok := r.byClientID[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return c, nil
}

// DefaultDevRegistry は開発用の組み込みレジストリを返す。
// CLIENTS_FILEが未設定の場合のフォールバックであり、本番環境では使用しないこと。
func DefaultDevRegistry() *Registry {
	r, err := NewRegistry([]ClientIdentity{
		{
			ClientID:               "rin-chat",
			APIKey:                 "dev-rin-chat-api-key",
			SigningSecret:          "dev-rin-chat-signing-secret",
			Scopes:                 []string{"chat", "history"},
			AccessTokenTTLSeconds:  900,
			RefreshTokenTTLSeconds: 86400,
		},
	})
	if err != nil {
		// 組み込み定義が不正な場合はプログラミングエラー
		panic(err)
	}
	return r
}

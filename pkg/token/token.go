package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type はトークンの用途種別を表す。
type Type string

const (
	// TypeAccess はAPI呼び出しを許可する短命なアクセストークン。
	TypeAccess Type = "access"
	// TypeRefresh はトークンペアの再発行のみに使うリフレッシュトークン。
	TypeRefresh Type = "refresh"
)

const (
	// Issuer は本ゲートウェイが発行するトークンのiss固定値。
	Issuer = "rin-gateway"
	// Audience は本ゲートウェイが発行するトークンのaud固定値。
	Audience = "rin-api"
)

// ErrInvalidCredential は未登録または不正なAPIキーによる発行要求を表す。
var ErrInvalidCredential = errors.New("認証情報が無効です")

// ErrInvalidToken は署名・有効期限・種別・発行者・対象者のいずれかが
// 不正なトークンを表す。失敗理由の詳細は呼び出し側に開示しない。
var ErrInvalidToken = errors.New("トークンが無効です")

// Claims はトークンのペイロードを表す。
// subにはクライアントIDを格納し、検証時の秘密鍵選択に使用する。
type Claims struct {
	jwt.RegisteredClaims
	// TokenType はトークンの用途種別（access / refresh）。
	// アクセストークンが要求される場面でリフレッシュトークンを
	// 受理しない（その逆も同様）ための構造的な区別。
	TokenType Type `json:"token_type"`
	// Scopes はクライアントに許可された権限。アクセストークンのみ持つ。
	Scopes []string `json:"scopes,omitempty"`
}

// ClientID はトークンの主体であるクライアントIDを返す。
func (c *Claims) ClientID() string {
	return c.Subject
}

// Pair は発行されたトークンペアを表す。
type Pair struct {
	// AccessToken はAPI呼び出し用のアクセストークン。
	AccessToken string `json:"access_token"`
	// RefreshToken はペア再発行用のリフレッシュトークン。
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn はアクセストークンの有効期間（秒）。
	ExpiresIn int64 `json:"expires_in"`
}

// Service はトークンの発行・検証・再発行を行う。
// クライアントごとの署名秘密鍵はレジストリから引く。
type Service struct {
	// registry は登録済みクライアントの静的な一覧。
	registry *Registry
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// NewService は新しいトークンサービスを生成する。
func NewService(registry *Registry) *Service {
	return &Service{
		registry: registry,
		now:      time.Now,
	}
}

// Issue はAPIキーを検証し、アクセス・リフレッシュトークンのペアを発行する。
// 未登録のAPIキーの場合はErrInvalidCredentialを返す。
func (s *Service) Issue(apiKey string) (*Pair, error) {
	identity, err := s.registry.Resolve(apiKey)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issueFor(identity)
}

// issueFor はクライアントに対してトークンペアを発行する内部処理。
// アクセストークンにはスコープを埋め込み、リフレッシュトークンには
// 埋め込まない（スコープは再発行時にレジストリから再導出する）。
func (s *Service) issueFor(identity *ClientIdentity) (*Pair, error) {
	accessToken, err := s.sign(identity, TypeAccess, identity.Scopes, identity.AccessTokenTTL())
	if err != nil {
		return nil, fmt.Errorf("アクセストークンの発行に失敗: %w", err)
	}
	refreshToken, err := s.sign(identity, TypeRefresh, nil, identity.RefreshTokenTTL())
	if err != nil {
		return nil, fmt.Errorf("リフレッシュトークンの発行に失敗: %w", err)
	}
	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(identity.AccessTokenTTL().Seconds()),
	}, nil
}

// sign はクライアント専用の秘密鍵でHS256署名付きトークンを生成する。
func (s *Service) sign(identity *ClientIdentity, tokenType Type, scopes []string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ClientID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		TokenType: tokenType,
		Scopes:    scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(identity.SigningSecret))
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はトークンを二段階で検証し、成功時はクレームを返す。
//
// 第一段階では署名を検証せずにデコードし、主体クライアントIDを取り出す。
// この結果は検証用秘密鍵の選択のみに使い、認可判断には一切使わない。
// 第二段階で該当クライアントの秘密鍵を用いて署名・アルゴリズム・発行者・
// 対象者・有効期限を検証し、最後にトークン種別の一致を確認する。
// いずれかの段階で失敗した場合はErrInvalidTokenを返す。
func (s *Service) Verify(tokenString string, expectedType Type) (*Claims, error) {
	// 第一段階: 未検証デコードで主体を特定する（信用しない）
	unverified, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claimed, ok := unverified.Claims.(*Claims)
	if !ok || claimed.Subject == "" {
		return nil, ErrInvalidToken
	}

	identity, err := s.registry.ResolveID(claimed.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	// 第二段階: 該当クライアントの秘密鍵で署名とクレームを検証する
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) {
			return []byte(identity.SigningSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expectedType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh はリフレッシュトークンを検証し、新しいトークンペアを発行する。
// スコープと有効期間はレジストリの現在のエントリから再導出するため、
// レジストリ更新は次回のリフレッシュから反映される。
func (s *Service) Refresh(refreshToken string) (*Pair, error) {
	claims, err := s.Verify(refreshToken, TypeRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}
	identity, err := s.registry.ResolveID(claims.ClientID())
	if err != nil {
		return nil, ErrInvalidToken
	}
	return s.issueFor(identity)
}

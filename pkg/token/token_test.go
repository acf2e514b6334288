package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// newTestService はテスト用のトークンサービスを生成する。
func newTestService(t *testing.T) *Service {
	t.Helper()

	r, err := NewRegistry(testClients())
	if err != nil {
		t.Fatalf("レジストリ構築に失敗: %v", err)
	}
	return NewService(r)
}

// TestServiceIssue はトークン発行のテスト。
func TestServiceIssue(t *testing.T) {
	t.Parallel()

	t.Run("登録済みAPIキーでトークンペアを発行できる", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		if pair.AccessToken == "" {
			t.Error("AccessTokenが空")
		}
		if pair.RefreshToken == "" {
			t.Error("RefreshTokenが空")
		}
		if pair.ExpiresIn != 900 {
			t.Errorf("ExpiresIn: got %d, want %d", pair.ExpiresIn, 900)
		}
	})

	t.Run("未登録APIキーはErrInvalidCredentialを返す", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("no-such-key")
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("error: got %v, want ErrInvalidCredential", err)
		}
		if pair != nil {
			t.Error("失敗時にトークンペアが生成されている")
		}
	})
}

// TestServiceVerify はトークン検証のテスト。
func TestServiceVerify(t *testing.T) {
	t.Parallel()

	t.Run("発行したアクセストークンを検証できる", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		claims, err := s.Verify(pair.AccessToken, TypeAccess)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if claims.ClientID() != "rin-chat" {
			t.Errorf("ClientID: got %q, want %q", claims.ClientID(), "rin-chat")
		}
		if claims.TokenType != TypeAccess {
			t.Errorf("TokenType: got %q, want %q", claims.TokenType, TypeAccess)
		}
		if len(claims.Scopes) != 2 {
			t.Errorf("Scopes: got %v, want 2件", claims.Scopes)
		}
	})

	t.Run("リフレッシュトークンにはスコープが含まれない", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		claims, err := s.Verify(pair.RefreshToken, TypeRefresh)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if len(claims.Scopes) != 0 {
			t.Errorf("リフレッシュトークンにスコープが含まれている: %v", claims.Scopes)
		}
	})

	t.Run("アクセストークンをリフレッシュとして検証すると拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		if _, err := s.Verify(pair.AccessToken, TypeRefresh); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("リフレッシュトークンをアクセスとして検証すると拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		if _, err := s.Verify(pair.RefreshToken, TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("有効期限切れのトークンは署名が正しくても拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		// 検証時刻をアクセストークンTTL（900秒）より先に進める
		s.now = func() time.Time { return time.Now().Add(1 * time.Hour) }
		if _, err := s.Verify(pair.AccessToken, TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("別クライアントの秘密鍵で署名されたトークンは拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)

		// rin-chatを主体としつつops-consoleの秘密鍵で署名する
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "rin-chat",
				Issuer:    Issuer,
				Audience:  jwt.ClaimStrings{Audience},
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TokenType: TypeAccess,
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
			SignedString([]byte("ops-console-secret"))
		if err != nil {
			t.Fatalf("テスト用トークンの署名に失敗: %v", err)
		}

		if _, err := s.Verify(forged, TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("発行者が異なるトークンは拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "rin-chat",
				Issuer:    "other-issuer",
				Audience:  jwt.ClaimStrings{Audience},
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TokenType: TypeAccess,
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
			SignedString([]byte("rin-chat-secret"))
		if err != nil {
			t.Fatalf("テスト用トークンの署名に失敗: %v", err)
		}

		if _, err := s.Verify(signed, TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("対象者が異なるトークンは拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "rin-chat",
				Issuer:    Issuer,
				Audience:  jwt.ClaimStrings{"other-audience"},
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TokenType: TypeAccess,
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
			SignedString([]byte("rin-chat-secret"))
		if err != nil {
			t.Fatalf("テスト用トークンの署名に失敗: %v", err)
		}

		if _, err := s.Verify(signed, TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("未登録クライアントを主体とするトークンは拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "ghost-client",
				Issuer:    Issuer,
				Audience:  jwt.ClaimStrings{Audience},
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TokenType: TypeAccess,
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
			SignedString([]byte("some-secret"))
		if err != nil {
			t.Fatalf("テスト用トークンの署名に失敗: %v", err)
		}

		if _, err := s.Verify(signed, TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("トークンとして解釈できない文字列は拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		if _, err := s.Verify("not-a-jwt", TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})
}

// TestServiceRefresh はトークン再発行のテスト。
func TestServiceRefresh(t *testing.T) {
	t.Parallel()

	t.Run("リフレッシュトークンで新しいペアを発行できる", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		renewed, err := s.Refresh(pair.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}

		claims, err := s.Verify(renewed.AccessToken, TypeAccess)
		if err != nil {
			t.Fatalf("再発行トークンの検証に失敗: %v", err)
		}
		if claims.ClientID() != "rin-chat" {
			t.Errorf("ClientID: got %q, want %q", claims.ClientID(), "rin-chat")
		}
	})

	t.Run("アクセストークンによるリフレッシュは拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		if _, err := s.Refresh(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("不正なトークンによるリフレッシュは拒否される", func(t *testing.T) {
		t.Parallel()

		s := newTestService(t)
		if _, err := s.Refresh("broken-token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("error: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("再発行されるスコープはレジストリの現在値から導出される", func(t *testing.T) {
		t.Parallel()

		clients := testClients()
		r, err := NewRegistry(clients)
		if err != nil {
			t.Fatalf("レジストリ構築に失敗: %v", err)
		}
		s := NewService(r)

		pair, err := s.Issue("rin-chat-api-key")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		// スコープを縮小した新しいレジストリに差し替えてからリフレッシュする
		clients[0].Scopes = []string{"chat"}
		updated, err := NewRegistry(clients)
		if err != nil {
			t.Fatalf("レジストリ再構築に失敗: %v", err)
		}
		s.registry = updated

		renewed, err := s.Refresh(pair.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh()でエラーが発生: %v", err)
		}
		claims, err := s.Verify(renewed.AccessToken, TypeAccess)
		if err != nil {
			t.Fatalf("再発行トークンの検証に失敗: %v", err)
		}
		if len(claims.Scopes) != 1 || claims.Scopes[0] != "chat" {
			t.Errorf("Scopes: got %v, want [chat]", claims.Scopes)
		}
	})
}

package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/rin-gateway/pkg/downstream"
	"github.com/nao1215/rin-gateway/pkg/middleware"
	"github.com/nao1215/rin-gateway/pkg/ratelimit"
	"github.com/nao1215/rin-gateway/pkg/session"
	"github.com/nao1215/rin-gateway/pkg/token"
)

// Server は認証・セッション中継ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// tokens はトークンの発行・検証サービス。
	tokens *token.Service
	// bridge はセッションのライフサイクルと履歴を管理する。
	bridge *session.Bridge
	// limiter はエンドポイント種別ごとの流量制限を行う。
	limiter *ratelimit.Limiter
	// downstream は下流処理サービスとの通信クライアント。
	downstream *downstream.Client
	// store はセッションの保存先。シャットダウン時に閉じる。
	store session.Store
}

// NewServer は環境変数から設定を読み込み、新しいゲートウェイサーバーを生成する。
func NewServer(port string) (*Server, error) {
	registry, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	tokens := token.NewService(registry)

	store, err := newSessionStore()
	if err != nil {
		return nil, err
	}

	timeout := 30 * time.Second
	if v := os.Getenv("DOWNSTREAM_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			store.Close()
			return nil, fmt.Errorf("DOWNSTREAM_TIMEOUT_MSが不正です: %q", v)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	downstreamClient := downstream.New(
		getEnvOr("DOWNSTREAM_URL", "http://localhost:8000"),
		getEnvOr("DOWNSTREAM_API_KEY", "dev-downstream-api-key"),
		timeout,
	)

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:     router,
		port:       port,
		tokens:     tokens,
		bridge:     session.NewBridge(store, tokens),
		limiter:    ratelimit.New(),
		downstream: downstreamClient,
		store:      store,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はセッションストアとの接続を解放する。
func (s *Server) Close() error {
	return s.store.Close()
}

// setupRoutes はAPIルーティングを設定する。
//
// 流量制限は認証処理より前に適用し、拒否されたリクエストに署名検証の
// コストをかけない。認証前のエンドポイントは送信元アドレスを、
// 認証後のチャット・履歴エンドポイントは認証済みクライアントIDを
// 制限キーとして使う。
func (s *Server) setupRoutes() {
	// トークン発行・再発行エンドポイント（認証不要・APIキーで認証）
	auth := s.router.Group("/auth")
	auth.Use(middleware.RateLimit(s.limiter, ratelimit.ClassAuth, middleware.KeyByClientIP))
	{
		auth.POST("/token", s.handleIssueToken())
		auth.POST("/refresh", s.handleRefreshToken())
	}

	// セッション作成（流量制限 → Bearer認証の順）
	sessionGroup := s.router.Group("/api/session")
	sessionGroup.Use(middleware.RateLimit(s.limiter, ratelimit.ClassSession, middleware.KeyByClientIP))
	sessionGroup.Use(middleware.BearerAuth(s.tokens))
	{
		sessionGroup.POST("/init", s.handleSessionInit())
	}

	// チャット・履歴（Bearer認証後にクライアントIDで流量制限）
	api := s.router.Group("/api")
	api.Use(middleware.BearerAuth(s.tokens))
	{
		api.POST("/chat",
			middleware.RateLimit(s.limiter, ratelimit.ClassChat, middleware.KeyByClient),
			s.handleChat())
		api.GET("/history/:session_id",
			middleware.RateLimit(s.limiter, ratelimit.ClassHistory, middleware.KeyByClient),
			s.handleHistory())
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
}

// loadRegistry はクライアントレジストリをロードする。
// CLIENTS_FILEが未設定の場合は開発用の組み込みレジストリを使う。
func loadRegistry() (*token.Registry, error) {
	path := os.Getenv("CLIENTS_FILE")
	if path == "" {
		log.Printf("CLIENTS_FILEが未設定のため開発用レジストリを使用します")
		return token.DefaultDevRegistry(), nil
	}
	registry, err := token.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("クライアントレジストリのロードに失敗: %w", err)
	}
	return registry, nil
}

// newSessionStore はSESSION_STOREの設定に応じたセッションストアを生成する。
func newSessionStore() (session.Store, error) {
	ttl := time.Duration(0)
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("SESSION_TTL_SECONDSが不正です: %q", v)
		}
		ttl = time.Duration(seconds) * time.Second
	}

	switch kind := getEnvOr("SESSION_STORE", "memory"); kind {
	case "memory":
		return session.NewMemoryStore(ttl), nil
	case "sqlite":
		store, err := session.NewSQLiteStore(getEnvOr("SESSION_DB_PATH", "/data/rin-sessions.db"))
		if err != nil {
			return nil, fmt.Errorf("SQLiteセッションストアの初期化に失敗: %w", err)
		}
		return store, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := session.NewRedisStore(ctx,
			getEnvOr("REDIS_ADDR", "localhost:6379"),
			os.Getenv("REDIS_PASSWORD"),
			ttl)
		if err != nil {
			return nil, fmt.Errorf("Redisセッションストアの初期化に失敗: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("SESSION_STOREが不正です: %q", kind)
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

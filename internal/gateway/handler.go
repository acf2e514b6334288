package gateway

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/rin-gateway/pkg/downstream"
	"github.com/nao1215/rin-gateway/pkg/middleware"
	"github.com/nao1215/rin-gateway/pkg/session"
)

// issueTokenRequest はトークン発行リクエストのボディ。
type issueTokenRequest struct {
	APIKey string `json:"api_key"`
}

// refreshTokenRequest はトークン再発行リクエストのボディ。
type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// chatRequest はチャットリクエストのボディ。
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleIssueToken はAPIキーを検証してトークンペアを発行するハンドラを返す。
func (s *Server) handleIssueToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req issueTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "VALIDATION_ERROR",
				"error": "api_keyが必要です",
			})
			return
		}

		pair, err := s.tokens.Issue(req.APIKey)
		if err != nil {
			log.Printf("トークン発行を拒否: api_key=%s", maskCredential(req.APIKey))
			// 「キーが間違っている」と「キーが存在しない」は区別して返さない
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_CREDENTIAL",
				"error": "認証情報が無効です",
			})
			return
		}

		c.JSON(http.StatusOK, pair)
	}
}

// handleRefreshToken はリフレッシュトークンから新しいトークンペアを
// 発行するハンドラを返す。
func (s *Server) handleRefreshToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "VALIDATION_ERROR",
				"error": "refresh_tokenが必要です",
			})
			return
		}

		pair, err := s.tokens.Refresh(req.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "トークンが無効です",
			})
			return
		}

		c.JSON(http.StatusOK, pair)
	}
}

// handleSessionInit は新しい会話セッションを作成するハンドラを返す。
//
// 下流サービスへのセッション作成通知はソフトフェイル対象であり、
// 失敗してもセッション作成自体は成功する。通知結果は
// downstream_notifiedフラグとして呼び出し側に開示する。
func (s *Server) handleSessionInit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := middleware.GetClientID(c)
		sessionID, err := s.bridge.Initialize(c.Request.Context(), clientID)
		if err != nil {
			log.Printf("セッション作成エラー: client_id=%s, %v", clientID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "セッションの作成に失敗しました",
			})
			return
		}

		notified := true
		if err := s.downstream.NotifySessionInit(c.Request.Context(), sessionID); err != nil {
			// ソフトフェイル: ログに残し、セッション作成は成功として扱う
			log.Printf("下流へのセッション作成通知に失敗（継続）: session_id=%s, %v", sessionID, err)
			notified = false
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id":          sessionID,
			"downstream_notified": notified,
		})
	}
}

// handleChat はチャットメッセージを下流サービスに中継するハンドラを返す。
//
// 1ターン（利用者発話の追記 → 下流呼び出し → 応答の追記）はセッション
// ごとのロックで直列化し、同一セッションへの同時ターンが履歴上で
// 交錯しないことを保証する。下流の失敗はクリティカルであり、応答の
// 追記は行わず呼び出し側にエラーを返す。
func (s *Server) handleChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "VALIDATION_ERROR",
				"error": "session_idとmessageが必要です",
			})
			return
		}

		ctx := c.Request.Context()
		clientID := middleware.GetClientID(c)
		if err := s.bridge.Owns(ctx, req.SessionID, clientID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "UNKNOWN_SESSION",
				"error": "セッションが存在しません",
			})
			return
		}

		release := s.bridge.Acquire(req.SessionID)
		defer release()

		if err := s.bridge.Append(ctx, req.SessionID, session.RoleUser, req.Message); err != nil {
			log.Printf("利用者発話の追記に失敗: session_id=%s, %v", req.SessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "メッセージの保存に失敗しました",
			})
			return
		}

		reply, err := s.downstream.Chat(ctx, req.SessionID, req.Message)
		if err != nil {
			// 応答が得られなかったターンにアシスタント発話は追記しない
			s.respondUpstreamError(c, req.SessionID, err)
			return
		}

		if err := s.bridge.Append(ctx, req.SessionID, session.RoleAssistant, reply); err != nil {
			log.Printf("応答の追記に失敗: session_id=%s, %v", req.SessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "応答の保存に失敗しました",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"response": reply})
	}
}

// handleHistory はセッション履歴を返すハンドラを返す。
// 所有クライアント以外にはセッションの存在自体を開示しない。
func (s *Server) handleHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		clientID := middleware.GetClientID(c)

		history, err := s.bridge.History(c.Request.Context(), sessionID, clientID)
		if err != nil {
			if errors.Is(err, session.ErrUnknownSession) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":  "UNKNOWN_SESSION",
					"error": "セッションが存在しません",
				})
				return
			}
			log.Printf("履歴取得エラー: session_id=%s, %v", sessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "履歴の取得に失敗しました",
			})
			return
		}

		if history == nil {
			history = []session.Message{}
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"history":    history,
		})
	}
}

// handleHealth はゲートウェイと下流サービスの状態を返すハンドラを返す。
// 下流の不調はdegradedとして報告し、ヘルスチェック自体は失敗させない。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		downstreamConnected := true
		if err := s.downstream.Health(c.Request.Context()); err != nil {
			status = "degraded"
			downstreamConnected = false
		}

		c.JSON(http.StatusOK, gin.H{
			"status":               status,
			"service":              "rin-gateway",
			"downstream_connected": downstreamConnected,
		})
	}
}

// respondUpstreamError は下流失敗を呼び出し側向けのエラーに変換する。
// 下流のステータスコードは可能な範囲で保存し、内部の失敗詳細は
// ログにのみ残す。
func (s *Server) respondUpstreamError(c *gin.Context, sessionID string, err error) {
	log.Printf("下流チャット呼び出しに失敗: session_id=%s, %v", sessionID, err)

	status := http.StatusBadGateway
	if ue, ok := downstream.AsUpstreamError(err); ok && ue.StatusCode >= 400 && ue.StatusCode < 600 {
		status = ue.StatusCode
	}
	c.JSON(status, gin.H{
		"code":  "UPSTREAM_ERROR",
		"error": "下流サービスの呼び出しに失敗しました",
	})
}

// maskCredential はログ出力用にクレデンシャルの先頭数文字だけを残す。
// トークンやAPIキーを完全な形でログに残してはならない。
func maskCredential(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:8] + "..."
}

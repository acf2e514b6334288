package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/rin-gateway/pkg/ratelimit"
)

// KeyFunc はリクエストから流量制限のキーを導出する関数。
type KeyFunc func(c *gin.Context) string

// KeyByClientIP は呼び出し元のネットワークアドレスをキーとして返す。
// 認証前のエンドポイントなど、より強い識別子が無い場合に使用する。
func KeyByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByClient は認証済みクライアントIDをキーとして返す。
// 未認証の場合は呼び出し元アドレスにフォールバックする。
func KeyByClient(c *gin.Context) string {
	if clientID := GetClientID(c); clientID != "" {
		return clientID
	}
	return c.ClientIP()
}

// RateLimit は指定した種別の流量制限を適用するGinミドルウェアを返す。
// 認証処理より前に適用し、拒否されたリクエストに認証コストを
// かけないようにする。拒否時はRetry-Afterヘッダーを設定する。
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := limiter.Admit(class, keyFn(c))
		if !ok {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "RATE_LIMIT_EXCEEDED",
				"error": "リクエスト数が上限を超えました",
			})
			return
		}
		c.Next()
	}
}

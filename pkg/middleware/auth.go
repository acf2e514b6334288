package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/rin-gateway/pkg/token"
)

// contextKeyClaims はGinコンテキストに検証済みクレームを格納するキー。
const contextKeyClaims = "auth_claims"

// BearerAuth はAuthorizationヘッダーのBearerトークンをアクセストークンとして
// 検証するGinミドルウェアを返す。検証はクライアントごとの秘密鍵で行われる。
// 成功した場合はコンテキストに検証済みクレームを設定する。
func BearerAuth(svc *token.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "UNAUTHORIZED",
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "UNAUTHORIZED",
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := svc.Verify(tokenString, token.TypeAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "UNAUTHORIZED",
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims はGinコンテキストから検証済みクレームを取得する。
// BearerAuthミドルウェアが事前に適用されている必要がある。
func GetClaims(c *gin.Context) *token.Claims {
	v, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, ok := v.(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetClientID はGinコンテキストから認証済みクライアントIDを取得する。
// 未認証の場合は空文字列を返す。
func GetClientID(c *gin.Context) string {
	claims := GetClaims(c)
	if claims == nil {
		return ""
	}
	return claims.ClientID()
}

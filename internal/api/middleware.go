package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"StrikeRate/internal/auth"

	"github.com/gin-gonic/gin"
)

const (
	defaultCookieName = "strikerate_session"
	sessionKey        = "session"
)

// RequireSession 校验会话 token（cookie 或 Authorization: Bearer），通过后写入上下文
func RequireSession(secret []byte, cookieName string) gin.HandlerFunc {
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(cookieName)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
			return
		}
		claims, err := auth.ParseToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		c.Set(sessionKey, claims)
		c.Next()
	}
}

// RequireAdmin 需在 RequireSession 之后使用
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := session(c)
		if s == nil || !s.Admin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

// RequestTimeout 为请求上下文设置超时
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func session(c *gin.Context) *auth.SessionClaims {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*auth.SessionClaims)
	return s
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

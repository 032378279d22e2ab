package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const adminKey = "admin"

// AdminAuth requires "Authorization: Bearer <token>". The comparison is
// constant time. An empty token rejects everything.
func AdminAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := bearer(c.GetHeader("Authorization"))
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="rolegate"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid admin token",
			})
			return
		}
		c.Set(adminKey, true)
		c.Next()
	}
}

// IsAdmin reports whether AdminAuth accepted the request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(adminKey)
}

func bearer(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

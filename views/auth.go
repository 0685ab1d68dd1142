package views

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// EditorCheck tells whether a request may change layers.
type EditorCheck func(c *gin.Context) bool

// BearerToken accepts requests carrying "Authorization: Bearer <token>".
// An empty token rejects everything.
func BearerToken(token string) EditorCheck {
	return func(c *gin.Context) bool {
		if token == "" {
			return false
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) == 1
	}
}

// RequireEditor aborts with 403 unless check passes.
func RequireEditor(check EditorCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !check(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "editor access required"})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderPrincipal carries the authenticated principal. Authentication itself
// happens upstream (gateway or session layer); this service trusts the header.
const HeaderPrincipal = "X-User-ID"

// ctxKeyPrincipal is shared with the logger and rate limiter.
const ctxKeyPrincipal = "userID"

// RequirePrincipal rejects requests without a principal with 401 and stores
// the principal in the Gin context otherwise.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderPrincipal))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing " + HeaderPrincipal + " header",
			})
			return
		}
		c.Set(ctxKeyPrincipal, id)
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by RequirePrincipal.
func PrincipalFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

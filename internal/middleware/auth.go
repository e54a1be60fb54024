package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
)

// ContextAdminKey holds the validated *model.AdminToken in the gin context.
const ContextAdminKey = "admin_token"

// Authenticator validates admin bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.AdminToken, error)
}

// RequireAdmin rejects requests without a valid, non-expired admin token.
// The token is read from "Authorization: Bearer <token>" or, for WebSocket
// clients that cannot set headers, from the "token" query parameter.
func RequireAdmin(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := auth.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil {
			if errors.Is(err, errs.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "Unauthorized",
					"message": "valid admin token required",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token validation unavailable"})
			return
		}
		c.Set(ContextAdminKey, tok)
		c.Next()
	}
}

// AdminFromContext returns the token stored by RequireAdmin.
func AdminFromContext(c *gin.Context) (*model.AdminToken, bool) {
	v, ok := c.Get(ContextAdminKey)
	if !ok {
		return nil, false
	}
	tok, ok := v.(*model.AdminToken)
	return tok, ok
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.Query("token")
}

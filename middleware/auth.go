package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	UserContextKey = "userID"
	HeaderUserID   = "X-User-ID"

	identityCookie    = "user_id"
	maxIdentityLength = 64
)

var ErrNoIdentity = errors.New("no caller identity on request")

// AuthMiddleware trusts the identity the API gateway resolved upstream. The
// header wins over the cookie. Oversized values are refused, not truncated.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetHeader(HeaderUserID)
		if identity == "" {
			identity, _ = c.Cookie(identityCookie)
		}

		if identity == "" || len(identity) > maxIdentityLength {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(UserContextKey, identity)
		c.Next()
	}
}

// GetUserID returns the identity stored by AuthMiddleware.
func GetUserID(c *gin.Context) (string, error) {
	identity := c.GetString(UserContextKey)
	if identity == "" {
		return "", ErrNoIdentity
	}
	return identity, nil
}

package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"user_directory/internal/model"
	"user_directory/internal/service"

	"github.com/gin-gonic/gin"
)

const AuthUserKey = "authUser"

// Authenticator resolves a session token to its user
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// bearerToken accepts both "Bearer <token>" and a bare token.
func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return strings.TrimSpace(header)
}

// TokenAuthMiddleware rejects requests without a current session token and
// stores the resolved *model.User under AuthUserKey.
func TokenAuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.WebResponse{Errors: "Authorization header required"})
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), bearerToken(authHeader))
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, model.WebResponse{Errors: "Unauthorized"})
				return
			}
			log.Printf("ERROR: resolving session token: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, model.WebResponse{Errors: "Failed to authenticate"})
			return
		}

		c.Set(AuthUserKey, user)
		c.Next()
	}
}

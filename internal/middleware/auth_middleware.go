package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smarttransit/booking-engine/pkg/jwt"
)

// UserContextKey is the gin context key holding the caller's UserContext
const UserContextKey = "user_context"

// UserContext is the authenticated caller
type UserContext struct {
	UserID uuid.UUID
	Phone  string
	Roles  []string
}

// AuthMiddleware rejects requests without a valid bearer token
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		token, ok := bearerToken(authHeader)
		if !ok {
			abortUnauthorized(c, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abortUnauthorized(c, "INVALID_TOKEN", "Access token is invalid")
			return
		}

		setUserContext(c, claims)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is present and lets
// guests through otherwise. A present but invalid token is still rejected.
func OptionalAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		AuthMiddleware(jwtService)(c)
	}
}

// RequireRole allows the request when the caller has any of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "MISSING_USER_CONTEXT", "Authentication is required")
			return
		}

		for _, have := range userCtx.Roles {
			for _, want := range roles {
				if have == want {
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"code":    "INSUFFICIENT_PERMISSIONS",
			"message": "You do not have permission to access this resource",
		})
		c.Abort()
	}
}

// GetUserContext returns the authenticated caller if any
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}
	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}
	return userCtx, true
}

// MustGetUserContext panics when no caller is attached; use behind AuthMiddleware only
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("user context not found")
	}
	return userCtx
}

// UserIDPtr returns the caller's id for recording on a booking, nil for guests
func UserIDPtr(c *gin.Context) *string {
	userCtx, exists := GetUserContext(c)
	if !exists {
		return nil
	}
	id := userCtx.UserID.String()
	return &id
}

func setUserContext(c *gin.Context, claims *jwt.Claims) {
	c.Set(UserContextKey, UserContext{
		UserID: claims.UserID,
		Phone:  claims.Phone,
		Roles:  claims.Roles,
	})
	c.Set("user_id", claims.UserID.String())
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"code":    code,
		"message": message,
	})
	c.Abort()
}

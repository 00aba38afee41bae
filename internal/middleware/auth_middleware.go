package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/internal/services"
	"github.com/smarttransit/busticket-backend/pkg/jwt"
)

// UserContextKey is the gin context key holding the authenticated UserContext
const UserContextKey = "user_context"

// UserContext is the staff member behind a request, taken from the access token
type UserContext struct {
	UserID      uuid.UUID
	Username    string
	Role        string
	Permissions []string
}

// HasPermission reports whether the token granted the permission
func (u UserContext) HasPermission(permission models.Permission) bool {
	for _, p := range u.Permissions {
		if p == string(permission) {
			return true
		}
	}
	return false
}

// Session adapts the user to the services layer
func (u UserContext) Session() services.AuthSession {
	return services.StaticSession{ID: u.UserID.String(), Name: u.Username, Permissions: u.Permissions}
}

// AuthMiddleware validates the bearer token, stores the UserContext on the gin
// context and attaches the caller's session to the request context
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			abort(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := jwtService.ValidateAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, gojwt.ErrTokenExpired) {
				abort(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid access token")
			return
		}

		userCtx := UserContext{
			UserID:      claims.UserID,
			Username:    claims.Username,
			Role:        claims.Role,
			Permissions: claims.Permissions,
		}
		c.Set(UserContextKey, userCtx)
		c.Set("user_id", claims.UserID.String())
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Request = c.Request.WithContext(services.WithSession(c.Request.Context(), userCtx.Session()))

		c.Next()
	}
}

// GetUserContext returns the UserContext set by AuthMiddleware
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

// MustGetUserContext returns the UserContext and panics when it is missing
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("user context not found - AuthMiddleware not applied")
	}
	return userCtx
}

// RequireRole allows the request only for one of the given roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abort(c, http.StatusUnauthorized, "MISSING_USER_CONTEXT", "User context not found")
			return
		}
		for _, role := range roles {
			if userCtx.Role == role {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "You do not have access to this resource")
	}
}

// RequirePermission allows the request only when the token carries the permission
func RequirePermission(permission models.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abort(c, http.StatusUnauthorized, "MISSING_USER_CONTEXT", "User context not found")
			return
		}
		if !userCtx.HasPermission(permission) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "forbidden",
				"message":    "Missing permission " + string(permission),
				"code":       "INSUFFICIENT_PERMISSIONS",
				"permission": permission,
			})
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   strings.ToLower(http.StatusText(status)),
		"message": message,
		"code":    code,
	})
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// UserIDKey is the context key for the caller's user ID
	UserIDKey = "user_id"
	// UserIDHeader carries the principal resolved by the upstream gateway
	UserIDHeader = "X-User-ID"
)

// Identity extracts the caller's user ID from the gateway-supplied header
// and stores it in the context. Requests without a parseable ID proceed
// anonymously; endpoints that need a principal reject them individually.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(UserIDHeader); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				c.Set(UserIDKey, id)
			}
		}
		c.Next()
	}
}

// GetUserID retrieves the caller's user ID from the Gin context.
// The second return value reports whether a principal was present.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	if v, exists := c.Get(UserIDKey); exists {
		if id, ok := v.(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

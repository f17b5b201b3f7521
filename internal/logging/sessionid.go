package logging

import (
	"context"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SessionIDField is the logrus field that carries the login session identifier.
const SessionIDField = "session_id"

type sessionIDKey struct{}

const ginSessionIDKey = "__session_id__"

// ShortSessionID returns the first eight characters of id for the log column.
func ShortSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// WithSessionID returns a new context with the session ID attached.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// GetSessionID retrieves the session ID from the context.
// Returns empty string if not found.
func GetSessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Entry returns a logrus entry tagged with the session ID carried by ctx, if any.
func Entry(ctx context.Context) *log.Entry {
	if id := GetSessionID(ctx); id != "" {
		return log.WithField(SessionIDField, id)
	}
	return log.NewEntry(log.StandardLogger())
}

// SetGinSessionID stores the session ID in the Gin context.
func SetGinSessionID(c *gin.Context, sessionID string) {
	if c != nil && sessionID != "" {
		c.Set(ginSessionIDKey, sessionID)
	}
}

// GetGinSessionID retrieves the session ID from the Gin context.
func GetGinSessionID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if id, exists := c.Get(ginSessionIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

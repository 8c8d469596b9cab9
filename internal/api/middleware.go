package api

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kurihiro0119/ci-api/internal/auth"
	"github.com/kurihiro0119/ci-api/internal/domain"
)

const (
	callerKey    = "caller"
	requestIDKey = "request_id"
)

// UserFinder is what the auth middleware needs to confirm a token's user still exists
type UserFinder interface {
	FindUser(ctx context.Context, id int64) (*domain.User, error)
}

// OptionalAuth resolves the caller from the Authorization header when one is
// present. Requests without a usable token continue anonymously; each
// operation decides whether that is enough.
func OptionalAuth(secret string, users UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, ok := auth.FromHeader(header)
		if !ok {
			log.Printf("request %s: unsupported authorization scheme", c.GetString(requestIDKey))
			c.Next()
			return
		}

		caller, err := auth.Parse(secret, token)
		if err != nil {
			log.Printf("request %s: rejected token: %v", c.GetString(requestIDKey), err)
			c.Next()
			return
		}

		user, err := users.FindUser(c.Request.Context(), caller.UserID)
		if err != nil {
			log.Printf("request %s: token user %d not usable: %v", c.GetString(requestIDKey), caller.UserID, err)
			c.Next()
			return
		}

		caller.Login = user.Login
		c.Set(callerKey, caller)
		c.Next()
	}
}

// callerFrom returns the authenticated caller, or nil for anonymous requests
func callerFrom(c *gin.Context) *domain.Caller {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	caller, _ := v.(*domain.Caller)
	return caller
}

// RequestID tags every request with an id, reusing X-Request-ID when the client sent one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// CORS returns a middleware that handles CORS
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Travis-API-Version, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Recovery returns a middleware that recovers from panics
func Recovery() gin.HandlerFunc {
	return gin.Recovery()
}

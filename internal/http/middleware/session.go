package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// UserLookup returns the id of the logged-in user, or "" before login.
type UserLookup func(ctx context.Context) string

// Session stores the current user id under the "userID" context key for the
// rate limiter, idempotency lookups and access logs. It never rejects a
// request; handlers decide what needs a session.
func Session(lookup UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lookup != nil {
			if uid := lookup(c.Request.Context()); uid != "" {
				c.Set("userID", uid)
			}
		}
		c.Next()
	}
}

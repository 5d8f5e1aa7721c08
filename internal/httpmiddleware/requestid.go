package httpmiddleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"

	// Longer client-supplied ids are replaced so they cannot bloat logs.
	requestIDMaxLen = 64
)

// RequestID reads X-Request-ID or generates one, stores it on the context
// and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > requestIDMaxLen {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id RequestID stored, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

package logging

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// GinLogger is an access-log middleware backed by the process logger.
// Health checks stay at debug to keep the log readable.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		if path == "/health" {
			base.Debugf("%s %s -> %d (%s)", c.Request.Method, path, status, elapsed.Round(time.Millisecond))
			return
		}
		if status >= 500 {
			base.Errorf("%s %s -> %d (%s)", c.Request.Method, path, status, elapsed.Round(time.Millisecond))
		} else {
			base.Infof("%s %s -> %d (%s)", c.Request.Method, path, status, elapsed.Round(time.Millisecond))
		}
	}
}

// GinRecovery converts handler panics into a 500 with a logged stack.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				base.Errorf("panic serving %s %s: %v\n%s", c.Request.Method, c.Request.URL.Path, r, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"message": "internal server error"},
				})
			}
		}()
		c.Next()
	}
}

package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LocalOnly lets only loopback clients (127.0.0.1, ::1) through.
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: local access only"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request through log.
func RequestLogger(log interface {
	Info(msg string, args ...interface{})
}) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Info("%s %s %d %s", c.Request.Method, c.FullPath(), c.Writer.Status(), c.ClientIP())
	}
}

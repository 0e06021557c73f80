package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dessources/PantherKolab-sub001/pkg/env"
)

// AllowedOrigins returns the origin allowlist: localhost development origins
// plus any comma-separated entries in CORS_ALLOWED_ORIGINS. The WebSocket
// upgrader shares this list.
func AllowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	if extra := env.GetString("CORS_ALLOWED_ORIGINS", ""); extra != "" {
		for _, origin := range strings.Split(extra, ",") {
			origins[strings.TrimSpace(origin)] = true
		}
	}

	return origins
}

func CORSMiddleware() gin.HandlerFunc {
	allowedOrigins := AllowedOrigins()

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if origin != "" {
			c.AbortWithStatus(403)
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

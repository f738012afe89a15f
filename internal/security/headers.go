// Package security provides response hardening and CORS middleware.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiCSP forbids every resource type; the service only returns JSON.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// HeadersMiddleware adds security headers to all responses.
// Risk verdicts are per-account and must not be cached by intermediaries.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", apiCSP)
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		h.Set("Cache-Control", "no-store")

		c.Next()
	}
}

// CORSMiddleware handles CORS for API endpoints. An empty list or "*"
// allows any origin, without credentials.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimRight(o, "/")] = true
	}
	wildcard := len(allowedOrigins) == 0 || origins["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := origin == "" || wildcard || origins[origin]

		if origin != "" && allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Risk-Clamped-Fields, Retry-After")
			h.Set("Access-Control-Max-Age", "86400")
			// wildcard plus credentials is rejected by browsers
			if !wildcard {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			if !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

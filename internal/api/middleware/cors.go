// Package middleware holds HTTP middleware for the gateway's API surface.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin behavior.
type CORSConfig struct {
	// AllowedOrigins is the explicit allow-list used on protected
	// endpoints. Wildcard subdomain patterns ("*.example.com") are
	// supported.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// CORSMiddleware serves two policies: protected endpoints answer unknown
// origins with a literal "null" allow-origin so browsers deny the response,
// while public discovery and auth endpoints echo any requesting origin.
type CORSMiddleware struct {
	config CORSConfig
}

// NewCORSMiddleware builds the middleware with defaults filled in.
func NewCORSMiddleware(config *CORSConfig) *CORSMiddleware {
	if len(config.AllowedMethods) == 0 {
		config.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(config.AllowedHeaders) == 0 {
		config.AllowedHeaders = []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		}
	}
	if config.MaxAge == 0 {
		config.MaxAge = 86400
	}
	return &CORSMiddleware{config: *config}
}

// Protected applies the allow-list policy.
func (c *CORSMiddleware) Protected(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if c.isOriginAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "null")
			}
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			c.writePreflight(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Public echoes the requesting origin; discovery and OAuth endpoints must
// be reachable from any client origin.
func (c *CORSMiddleware) Public(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			c.writePreflight(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CORSMiddleware) writePreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(c.config.AllowedMethods, ", "))
	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		w.Header().Set("Access-Control-Allow-Headers", requested)
	} else {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(c.config.AllowedHeaders, ", "))
	}
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(c.config.MaxAge))
	w.WriteHeader(http.StatusNoContent)
}

func (c *CORSMiddleware) isOriginAllowed(origin string) bool {
	for _, allowed := range c.config.AllowedOrigins {
		if allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, allowed[1:]) {
			return true
		}
	}
	return false
}

package middleware

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

const skipLoggingKey = "skip_logging"

// Prefixes and extensions that only vulnerability scanners ask for
var (
	scannerPrefixes = []string{
		"/.env", "/.git", "/.aws", "/.well-known",
		"/wp-admin", "/wp-login", "/phpmyadmin", "/cgi-bin",
		"/actuator", "/console", "/manager", "/backup",
		"/robots.txt", "/favicon.ico", "/sitemap.xml",
	}
	scannerExtensions = map[string]bool{
		".php": true, ".asp": true, ".aspx": true, ".jsp": true,
		".bak": true, ".old": true, ".sql": true,
		".zip": true, ".tar": true, ".gz": true,
	}
)

// NoiseFilter keeps the request log readable. Successful probes (health
// checks, metric scrapes) and unauthenticated scanner traffic are marked
// so Logging drops them. It must be registered after Logging.
func NoiseFilter(logger *slog.Logger, probePaths ...string) gin.HandlerFunc {
	probes := make(map[string]bool, len(probePaths))
	for _, p := range probePaths {
		if p != "" {
			probes[p] = true
		}
	}

	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		requestPath := c.Request.URL.Path
		switch {
		case probes[requestPath] && status < http.StatusBadRequest:
			c.Set(skipLoggingKey, true)
		case c.GetBool(authenticatedKey):
		case status == http.StatusMethodNotAllowed || (status >= http.StatusBadRequest && isScannerPath(requestPath)):
			c.Set(skipLoggingKey, true)
			logger.Debug("Scanner request filtered",
				"path", requestPath,
				"method", c.Request.Method,
				"status", status,
				"client_ip", c.ClientIP())
		}
	}
}

func isScannerPath(requestPath string) bool {
	lower := strings.ToLower(requestPath)
	if scannerExtensions[path.Ext(lower)] {
		return true
	}
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

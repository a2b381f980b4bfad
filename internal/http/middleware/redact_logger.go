// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured access logger. It never
// logs bodies; it scrubs obvious PII from the query string and header values,
// and fully masks credentials, including the webhook signature header.
//
// Usage:
//
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    KeepHeaders: []string{middleware.HeaderGitHubDelivery},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra headers whose values are replaced with "[REDACTED]".
// They are merged with the built-in set (Authorization, Cookie, Set-Cookie,
// X-Hub-Signature-256).
//
// KeepHeaders lists headers logged verbatim, skipping pattern redaction. Use
// it for correlation ids that look like UUIDs, such as X-GitHub-Delivery.
// Matching is case-insensitive for both lists; masking wins over keeping.
type RedactOptions struct {
	MaskHeaders []string
	KeepHeaders []string
}

// RedactingLogger returns a Gin middleware that logs each request with
// sensitive values scrubbed: method, route, redacted query, status, size,
// latency and headers. Level is info, warn for 4xx and error for 5xx.
//
// UUIDs are redacted before phone numbers so the loose phone pattern does not
// eat UUID segments.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs inside ids never match.
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
		out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
		return out
	}

	maskHeaders := headerSet(opts.MaskHeaders, "authorization", "cookie", "set-cookie", strings.ToLower(HeaderHubSignature))
	keepHeaders := headerSet(opts.KeepHeaders)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redact(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			keyLower := strings.ToLower(k)
			val := strings.Join(vv, ", ")
			if _, ok := maskHeaders[keyLower]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			if _, ok := keepHeaders[keyLower]; ok {
				safeHeaders[k] = truncate(val, maxHeaderLogLength)
				continue
			}
			safeHeaders[k] = redact(val)
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}

// headerSet lower-cases and trims names into a lookup set.
func headerSet(names []string, builtin ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names)+len(builtin))
	for _, h := range append(builtin, names...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

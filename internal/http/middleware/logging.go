// Package middleware contains the Gin middleware of the ops/admin API.
//
// This file provides the correlation id, the access log and panic recovery.
// Install them in that order so panics and errors are logged with the
// request id:
//
//	r.Use(middleware.RequestID(), middleware.AccessLog(opts), middleware.Recovery())
//
// The access log never records bodies. Credential headers are masked and
// query values under sensitive keys are replaced before the line is
// written. The request-scoped logger is stored under the "logger" key and
// retrieved with LoggerFrom.
package middleware

import (
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the logged query string in bytes.
	maxQueryLogLength = 2048

	redacted = "[REDACTED]"
)

// RequestID reuses an incoming X-Request-ID or generates a UUIDv4, echoes it
// on the response and stores it in the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// LogOptions extends the built-in scrub lists of AccessLog. Matching is
// case-insensitive.
type LogOptions struct {
	// MaskHeaders are logged as [REDACTED] in addition to Authorization,
	// Cookie and Set-Cookie.
	MaskHeaders []string
	// MaskQuery are query keys whose values are replaced, in addition to
	// token and key.
	MaskQuery []string
}

// AccessLog writes one structured line per request and attaches a
// request-scoped logger for handlers. Level follows the outcome: error for
// 5xx or recorded gin errors, warn for 4xx, info otherwise.
func AccessLog(opts LogOptions) gin.HandlerFunc {
	headers := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	queries := lowerSet([]string{"token", "key"}, opts.MaskQuery)

	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(scrubQuery(c.Request.URL.RawQuery, queries), maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()
		c.Set(loggerKey, &l)

		safeHeaders := scrubHeaders(c.Request.Header, headers)

		c.Next()

		status := c.Writer.Status()
		ev := l.With().
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Bool("admin", IsAdmin(c)).
			Interface("headers", safeHeaders).
			Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery turns a panic into the standard JSON 500 envelope and logs the
// stack with the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", asString(rid)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// AccessLog did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func scrubHeaders(h http.Header, mask map[string]struct{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := mask[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = strings.Join(vv, ", ")
	}
	return out
}

// scrubQuery replaces the values of masked keys. Unparseable queries are
// dropped entirely.
func scrubQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	for k := range vals {
		if _, ok := mask[strings.ToLower(k)]; ok {
			vals[k] = []string{redacted}
		}
	}
	return vals.Encode()
}

func lowerSet(base, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for _, s := range append(base, extra...) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

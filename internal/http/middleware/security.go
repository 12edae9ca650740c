// Package middleware – Security headers
//
// This file sets the hardening headers for the JSON API, optional HSTS
// behind TLS or a TLS-terminating proxy, and merges the headers browsers
// may read into Access-Control-Expose-Headers.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// HSTS enables Strict-Transport-Security on HTTPS requests.
	HSTS       bool
	HSTSMaxAge time.Duration // 180 days when zero
	// NoStore marks every response uncacheable. Conditional GETs still work
	// through ETag.
	NoStore bool
	// Expose lists response headers browsers may read, merged into
	// Access-Control-Expose-Headers.
	Expose []string
}

// SecurityHeaders hardens JSON responses. The service never serves HTML, so
// the content policy denies everything.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Permissions-Policy", "camera=(), geolocation=(), microphone=()")

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}
		if opt.HSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if len(opt.Expose) > 0 {
			mergeExpose(h, opt.Expose)
		}
		c.Next()
	}
}

// mergeExpose appends names missing from Access-Control-Expose-Headers.
func mergeExpose(h http.Header, names []string) {
	const key = "Access-Control-Expose-Headers"
	var have []string
	for _, v := range h.Values(key) {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				have = append(have, p)
			}
		}
	}
	out := have
	for _, n := range names {
		dup := false
		for _, e := range have {
			if strings.EqualFold(e, n) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, n)
		}
	}
	h.Set(key, strings.Join(out, ", "))
}

// isHTTPS reports direct TLS or X-Forwarded-Proto: https from the proxy.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

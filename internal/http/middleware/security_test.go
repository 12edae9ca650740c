package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecured(opt SecurityOptions, prep func(*gin.Context), req *http.Request) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if prep != nil {
		r.Use(func(c *gin.Context) { prep(c); c.Next() })
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/payment/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecured(SecurityOptions{}, nil, httptest.NewRequest(http.MethodGet, "/payment/stats", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for k, v := range want {
		if h.Get(k) != v {
			t.Fatalf("%s = %q, want %q", k, h.Get(k), v)
		}
	}
	for _, k := range []string{"Cache-Control", "Strict-Transport-Security", "Access-Control-Expose-Headers"} {
		if h.Get(k) != "" {
			t.Fatalf("unexpected %s: %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_NoStoreAndHSTS(t *testing.T) {
	opt := SecurityOptions{HSTS: true, HSTSMaxAge: 24 * time.Hour, NoStore: true}

	req := httptest.NewRequest(http.MethodGet, "/payment/stats", nil)
	req.TLS = &tls.ConnectionState{}
	h := serveSecured(opt, nil, req)
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" {
		t.Fatalf("cache headers: %v", h)
	}
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains" {
		t.Fatalf("HSTS = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/payment/stats", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	if h := serveSecured(SecurityOptions{HSTS: true}, nil, req); h.Get("Strict-Transport-Security") != "max-age=15552000; includeSubDomains" {
		t.Fatalf("proxied HSTS = %q", h.Get("Strict-Transport-Security"))
	}

	plain := httptest.NewRequest(http.MethodGet, "/payment/stats", nil)
	if h := serveSecured(opt, nil, plain); h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS sent over plain HTTP")
	}
}

func TestSecurityHeaders_ExposeMerged(t *testing.T) {
	opt := SecurityOptions{Expose: []string{"X-Request-ID", "Idempotency-Replayed"}}

	h := serveSecured(opt, nil, httptest.NewRequest(http.MethodGet, "/payment/stats", nil))
	if got := h.Get("Access-Control-Expose-Headers"); got != "X-Request-ID, Idempotency-Replayed" {
		t.Fatalf("expose = %q", got)
	}

	prep := func(c *gin.Context) { c.Header("Access-Control-Expose-Headers", "ETag, x-request-id") }
	h = serveSecured(opt, prep, httptest.NewRequest(http.MethodGet, "/payment/stats", nil))
	if got := h.Get("Access-Control-Expose-Headers"); got != "ETag, x-request-id, Idempotency-Replayed" {
		t.Fatalf("merged expose = %q", got)
	}
}

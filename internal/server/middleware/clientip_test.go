package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustedProxiesIsTrusted(t *testing.T) {
	tp := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5", " ", "bogus", "::1"})

	assert.True(t, tp.IsTrusted("10.1.2.3"))
	assert.True(t, tp.IsTrusted("192.168.1.5"))
	assert.True(t, tp.IsTrusted("::ffff:192.168.1.5"))
	assert.True(t, tp.IsTrusted("::1"))
	assert.False(t, tp.IsTrusted("192.168.1.6"))
	assert.False(t, tp.IsTrusted("not-an-ip"))

	var none *TrustedProxies
	assert.False(t, none.IsTrusted("10.1.2.3"))
}

func TestClientIDStripsPort(t *testing.T) {
	tp := NewTrustedProxies(nil)

	tests := []struct {
		remote string
		want   string
	}{
		{"1.2.3.4:5678", "1.2.3.4"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[::ffff:1.2.3.4]:80", "1.2.3.4"},
		{"1.2.3.4", "1.2.3.4"},
		{"", "unknown"},
		{"pipe", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			assert.Equal(t, tt.want, tp.ClientID(req))
		})
	}
}

func TestClientIDForwardingHeaders(t *testing.T) {
	tp := NewTrustedProxies([]string{"10.0.0.0/8"})

	t.Run("UntrustedPeerIgnoresHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "1.2.3.4:1000"
		req.Header.Set("X-Forwarded-For", "9.9.9.9")
		req.Header.Set("X-Real-IP", "8.8.8.8")
		assert.Equal(t, "1.2.3.4", tp.ClientID(req))
	})

	t.Run("TrustedPeerUsesFirstForwardedFor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:1000"
		req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
		assert.Equal(t, "9.9.9.9", tp.ClientID(req))
	})

	t.Run("TrustedPeerFallsBackToRealIP", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:1000"
		req.Header.Set("X-Forwarded-For", "garbage")
		req.Header.Set("X-Real-IP", "8.8.8.8")
		assert.Equal(t, "8.8.8.8", tp.ClientID(req))
	})

	t.Run("TrustedPeerWithoutHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:1000"
		assert.Equal(t, "10.0.0.2", tp.ClientID(req))
	})
}

func TestClientIPMiddleware(t *testing.T) {
	var got string
	handler := ClientIP(func(r *http.Request) string { return "custom-id" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetClientID(r)
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "custom-id", got)

	// Without the middleware the peer address is used.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "5.6.7.8:99"
	assert.Equal(t, "5.6.7.8", GetClientID(req))

	handler = ClientIP(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClientID(r)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "5.6.7.8", got)
}

package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP_Resolve(t *testing.T) {
	proxies, err := NewClientIP([]string{"10.0.0.0/8", "::1"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		resolver   *ClientIP
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "no proxies ignores forwarded header",
			resolver:   nil,
			remoteAddr: "198.51.100.7:4711",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:       "198.51.100.7",
		},
		{
			name:       "untrusted peer ignores forwarded header",
			resolver:   proxies,
			remoteAddr: "198.51.100.7:4711",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "203.0.113.6"},
			want:       "198.51.100.7",
		},
		{
			name:       "trusted peer uses forwarded client",
			resolver:   proxies,
			remoteAddr: "10.1.2.3:4711",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:       "203.0.113.5",
		},
		{
			name:       "spoofed left hop is skipped",
			resolver:   proxies,
			remoteAddr: "10.1.2.3:4711",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5, 10.9.9.9"},
			want:       "203.0.113.5",
		},
		{
			name:       "all hops trusted returns leftmost",
			resolver:   proxies,
			remoteAddr: "10.1.2.3:4711",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.8, 10.0.0.9"},
			want:       "10.0.0.8",
		},
		{
			name:       "trusted peer falls back to X-Real-IP",
			resolver:   proxies,
			remoteAddr: "10.1.2.3:4711",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "ipv6 loopback proxy",
			resolver:   proxies,
			remoteAddr: "[::1]:4711",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::1"},
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			resolver:   proxies,
			remoteAddr: "198.51.100.7",
			want:       "198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, tt.resolver.Resolve(r))
		})
	}
}

func TestNewClientIP(t *testing.T) {
	c, err := NewClientIP([]string{" 172.16.0.0/12 ", "", "192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.TrustedCount())
	assert.Zero(t, (*ClientIP)(nil).TrustedCount())

	for _, bad := range []string{"not-an-ip", "10.0.0.0/99"} {
		_, err := NewClientIP([]string{bad})
		assert.Error(t, err, bad)
	}
}

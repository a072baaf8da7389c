package main

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, body string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	fixed := time.UnixMilli(1760000000000)
	original := signatureNow
	signatureNow = func() time.Time { return fixed }
	t.Cleanup(func() { signatureNow = original })

	const secret = "s3cret"
	const body = `{"event":"message"}`
	now := strconv.FormatInt(fixed.UnixMilli(), 10)

	tests := []struct {
		name      string
		secret    string
		signature string
		timestamp string
		wantErr   string
	}{
		{name: "valid", secret: secret, signature: sign(secret, body), timestamp: now},
		{name: "no secret configured", secret: ""},
		{name: "missing signature", secret: secret, timestamp: now, wantErr: "missing signature header"},
		{name: "missing timestamp", secret: secret, signature: sign(secret, body), wantErr: "missing X-Webhook-Timestamp"},
		{name: "bad timestamp", secret: secret, signature: sign(secret, body), timestamp: "yesterday", wantErr: "invalid X-Webhook-Timestamp"},
		{
			name:      "timestamp too old",
			secret:    secret,
			signature: sign(secret, body),
			timestamp: strconv.FormatInt(fixed.Add(-10*time.Minute).UnixMilli(), 10),
			wantErr:   "outside allowed window",
		},
		{
			name:      "timestamp in the future",
			secret:    secret,
			signature: sign(secret, body),
			timestamp: strconv.FormatInt(fixed.Add(10*time.Minute).UnixMilli(), 10),
			wantErr:   "outside allowed window",
		},
		{name: "wrong secret", secret: secret, signature: sign("other", body), timestamp: now, wantErr: "signature mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(wahaSignatureHeader, tt.signature)
			}
			if tt.timestamp != "" {
				req.Header.Set(wahaTimestampHeader, tt.timestamp)
			}

			got, err := verifySignature(req, tt.secret, wahaSignatureHeader)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, string(got))

			// The body stays readable for later handlers.
			again, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, body, string(again))
		})
	}
}

func TestVerifySignature_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("WHATSTOPIC_ENV", "production")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{}"))
	_, err := verifySignature(req, "", wahaSignatureHeader)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "required in production")
}

package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	wahaTimestampHeader = "X-Webhook-Timestamp"
	maxWebhookClockSkew = 5 * time.Minute
)

var signatureNow = time.Now

// verifySignature checks WAHA's HMAC-SHA512 over the raw body and returns the
// body. Without a secret every request passes, except in production.
func verifySignature(r *http.Request, secretKey string, signatureHeaderName string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if os.Getenv("WHATSTOPIC_ENV") == "production" {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	signatureHex := r.Header.Get(signatureHeaderName)
	if signatureHex == "" {
		return nil, fmt.Errorf("missing signature header: %s", signatureHeaderName)
	}

	timestamp := r.Header.Get(wahaTimestampHeader)
	if timestamp == "" {
		return nil, fmt.Errorf("missing %s header", wahaTimestampHeader)
	}
	if err := checkTimestamp(timestamp); err != nil {
		return nil, err
	}

	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(signatureHex)) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return body, nil
}

// checkTimestamp rejects replays outside the skew window. WAHA sends
// milliseconds since the epoch.
func checkTimestamp(value string) error {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s header: %w", wahaTimestampHeader, err)
	}
	skew := signatureNow().Sub(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxWebhookClockSkew {
		return fmt.Errorf("webhook timestamp outside allowed window (%s)", skew.Round(time.Second))
	}
	return nil
}

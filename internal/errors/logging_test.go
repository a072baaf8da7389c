package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	assert.NotNil(t, logger.Logger)
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	err := NewMediaTooLargeError("video", 30<<20, 16<<20)
	logger.LogError(err, "Failed to publish media", logrus.Fields{"chat_id": "****1234"})

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"error_code":"MEDIA_TOO_LARGE"`)
	assert.Contains(t, out, `"error_class":"permanent_content"`)
	assert.Contains(t, out, `"media_type":"video"`)
	assert.Contains(t, out, `"chat_id":"****1234"`)
}

func TestLogger_LogRetryableError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"retryable goes to warn", WrapRetryable(errors.New("flood"), ErrCodeTelegramAPI, "api"), `"level":"warning"`},
		{"permanent goes to error", New(ErrCodeInvalidConfig, "bad"), `"level":"error"`},
		{"plain goes to error", errors.New("plain"), `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger()
			logger.SetOutput(&buf)

			logger.LogRetryableError(tt.err, "delivery failed")
			assert.Contains(t, buf.String(), tt.level)
		})
	}
}

func TestWrapLogger(t *testing.T) {
	base := logrus.New()
	wrapped := WrapLogger(base)
	assert.Same(t, base, wrapped.Logger)
}

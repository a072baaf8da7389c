package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"whatstopic/internal/httputil"
	"whatstopic/internal/metrics"
	"whatstopic/internal/service"
	"whatstopic/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RequestIDHeader echoes the request id back to the caller.
const RequestIDHeader = "X-Request-Id"

// ObservabilityMiddleware adds a request id, a span, request metrics and a
// completion log line to every request.
func ObservabilityMiddleware(logger *logrus.Logger, clientIP *httputil.ClientIP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), "http_request",
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", clientIP.Resolve(r)),
			)
			defer span.End()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = tracing.GenerateRequestID()
			}
			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)
			w.Header().Set(RequestIDHeader, requestID)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			metrics.IncrementCounter("http_requests_total", map[string]string{
				"method":   r.Method,
				"endpoint": r.URL.Path,
			}, "Total HTTP requests")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			span.SetAttributes(
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			metrics.RecordTimer("http_request_duration", duration, map[string]string{
				"method":      r.Method,
				"endpoint":    r.URL.Path,
				"status_code": status,
			}, "HTTP request duration")
			metrics.IncrementCounter("http_responses_total", map[string]string{
				"method":      r.Method,
				"endpoint":    r.URL.Path,
				"status_code": status,
			}, "HTTP responses by status code")

			level := logrus.DebugLevel
			switch {
			case wrapper.statusCode >= 500:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= 400:
				level = logrus.WarnLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestID,
				service.LogFieldTraceID:    tracing.GetOtelTraceID(ctx),
				service.LogFieldMethod:     r.Method,
				service.LogFieldURL:        r.URL.Path,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP.Resolve(r),
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(level, "HTTP request completed")
		})
	}
}

// WebhookObservabilityMiddleware counts and times webhook deliveries by type.
func WebhookObservabilityMiddleware(logger *logrus.Logger, webhookType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracing.StartSpan(r.Context(), "webhook_request",
				attribute.String("webhook.type", webhookType),
				attribute.Int64("http.request.content_length", r.ContentLength),
			)
			defer span.End()
			r = r.WithContext(ctx)

			metrics.IncrementCounter("webhook_requests_total", map[string]string{
				"type": webhookType,
			}, "Total webhook requests by type")

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			elapsed := time.Since(start)
			status := strconv.Itoa(wrapper.statusCode)
			metrics.RecordTimer("webhook_processing_duration", elapsed, map[string]string{
				"type":        webhookType,
				"status_code": status,
			}, "Webhook processing duration")

			fields := logrus.Fields{
				service.LogFieldRequestID:  tracing.GetRequestID(ctx),
				service.LogFieldComponent:  webhookType,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   elapsed.Milliseconds(),
			}
			if wrapper.statusCode >= 400 {
				span.SetStatus(codes.Error, fmt.Sprintf("webhook failed with HTTP %d", wrapper.statusCode))
				metrics.IncrementCounter("webhook_errors_total", map[string]string{
					"type":        webhookType,
					"status_code": status,
				}, "Webhook processing errors")
				logger.WithFields(fields).Warn("Webhook request rejected")
				return
			}
			metrics.IncrementCounter("webhook_success_total", map[string]string{
				"type": webhookType,
			}, "Successful webhook processing")
			logger.WithFields(fields).Debug("Webhook request accepted")
		})
	}
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	size, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(size)
	return size, err
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/httputil"
	"whatstopic/internal/middleware"
	"whatstopic/internal/models"
	"whatstopic/internal/service"
	"whatstopic/internal/tracing"
	"whatstopic/internal/validation"
	"whatstopic/pkg/whatsapp/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	wahaSignatureHeader = "X-Webhook-Hmac"
	maxWebhookBodyBytes = 4 << 20
	webhookRatePerMin   = 600
)

// EventHandler accepts one WAHA event from the webhook.
type EventHandler interface {
	Handle(ctx context.Context, event *types.WebhookEvent) error
}

// Operator is the control surface of the bridge exposed over HTTP.
type Operator interface {
	Enable()
	Disable()
	IsEnabled() bool
	Resync(ctx context.Context, sourceChatID string) (*models.ChatMapping, error)
	Suspend(ctx context.Context, sourceChatID, reason string) (*models.ChatMapping, error)
	Resume(ctx context.Context, sourceChatID string) (*models.ChatMapping, error)
	Purge(ctx context.Context, sourceChatID string) error
	Counts(ctx context.Context) (models.MappingCounts, error)
	QueueStats() service.QueueStats
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      models.ServerConfig
	secret   string
	events   EventHandler
	operator Operator
	server   *http.Server
	clientIP *httputil.ClientIP
}

func NewServer(cfg *models.Config, events EventHandler, operator Operator, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg.Server,
		secret:   cfg.WhatsApp.WebhookSecret,
		events:   events,
		operator: operator,
	}
	clientIP, err := httputil.NewClientIP(cfg.Server.TrustedProxies)
	if err != nil {
		// LoadConfig rejects bad entries; only hand-built configs land here.
		logger.WithError(err).Warn("Ignoring trusted proxies; forwarding headers will not be trusted")
	}
	s.clientIP = clientIP
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.clientIP))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	limiter := middleware.NewRateLimiter(webhookRatePerMin, time.Minute)
	whatsapp := s.router.PathPrefix("/webhook/whatsapp").Subrouter()
	whatsapp.Use(limiter.Middleware(s.clientIP), middleware.WebhookObservabilityMiddleware(s.logger, "whatsapp"))
	whatsapp.HandleFunc("", s.handleWhatsAppWebhook()).Methods(http.MethodPost)

	operator := s.router.PathPrefix("/operator").Subrouter()
	operator.Use(middleware.RequireBearerToken(s.cfg.OperatorToken))
	operator.HandleFunc("/enable", s.handleEnable()).Methods(http.MethodPost)
	operator.HandleFunc("/disable", s.handleDisable()).Methods(http.MethodPost)
	operator.HandleFunc("/counts", s.handleCounts()).Methods(http.MethodGet)
	operator.HandleFunc("/queues", s.handleQueues()).Methods(http.MethodGet)
	operator.HandleFunc("/conversations/{chatID}/resync", s.handleResync()).Methods(http.MethodPost)
	operator.HandleFunc("/conversations/{chatID}/suspend", s.handleSuspend()).Methods(http.MethodPost)
	operator.HandleFunc("/conversations/{chatID}/resume", s.handleResume()).Methods(http.MethodPost)
	operator.HandleFunc("/conversations/{chatID}", s.handlePurge()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = constants.DefaultListenAddr
	}
	readTimeout := s.cfg.ReadTimeoutSec
	if readTimeout <= 0 {
		readTimeout = constants.DefaultServerReadTimeoutSec
	}
	writeTimeout := s.cfg.WriteTimeoutSec
	if writeTimeout <= 0 {
		writeTimeout = constants.DefaultServerWriteTimeoutSec
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("addr", addr).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if !s.operator.IsEnabled() {
			status = "disabled"
		}
		stats := s.operator.QueueStats()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      status,
			"active_keys": stats.ActiveKeys,
			"backlog":     stats.Backlog,
		})
	}
}

func (s *Server) handleWhatsAppWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
		body, err := verifySignature(r, s.secret, wahaSignatureHeader)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected WhatsApp webhook")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var event types.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil || event.Event == "" {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}

		if err := s.events.Handle(r.Context(), &event); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleEnable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.operator.Enable()
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
	}
}

func (s *Server) handleDisable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.operator.Disable()
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
	}
}

func (s *Server) handleCounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.operator.Counts(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func (s *Server) handleQueues() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.operator.QueueStats())
	}
}

func (s *Server) handleResync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := s.chatIDParam(w, r)
		if !ok {
			return
		}
		m, err := s.operator.Resync(r.Context(), chatID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (s *Server) handleSuspend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := s.chatIDParam(w, r)
		if !ok {
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "suspended by operator"
		}
		m, err := s.operator.Suspend(r.Context(), chatID, req.Reason)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (s *Server) handleResume() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := s.chatIDParam(w, r)
		if !ok {
			return
		}
		m, err := s.operator.Resume(r.Context(), chatID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (s *Server) handlePurge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := s.chatIDParam(w, r)
		if !ok {
			return
		}
		if err := s.operator.Purge(r.Context(), chatID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) chatIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	chatID := mux.Vars(r)["chatID"]
	if err := validation.ValidateChatID(chatID); err != nil {
		s.writeError(w, r, err)
		return "", false
	}
	return chatID, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField(service.LogFieldURL, r.URL.Path).Error("Request failed")
	}
	writeJSON(w, status, apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

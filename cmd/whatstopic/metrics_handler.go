package main

import (
	"encoding/json"
	"net/http"

	"whatstopic/internal/metrics"
	"whatstopic/internal/service"
	"whatstopic/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns the in-process metrics registry as JSON
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				"error":                   err,
			}).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

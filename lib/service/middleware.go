// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder captures the response status code so the logging
// middleware can report it after the handler runs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LogRequests wraps a handler so every request is logged with its
// method, path, status, and duration.
func LogRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

// LimitInFlight bounds the number of requests executing in next
// concurrently. Requests beyond the limit receive 503 Service
// Unavailable immediately rather than queueing; submitters retry
// with backoff.
func LimitInFlight(limit int, next http.Handler) http.Handler {
	if limit <= 0 {
		panic("service.LimitInFlight: limit must be positive")
	}
	slots := make(chan struct{}, limit)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Retry-After", "1")
			http.Error(w, "server busy", http.StatusServiceUnavailable)
		}
	})
}

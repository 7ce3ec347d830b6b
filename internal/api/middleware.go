package api

import (
	"context"
	"net/http"
	"time"

	"github.com/FairForge/roomd/internal/auth"
	"github.com/FairForge/roomd/internal/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware tags each request with an id, logs it and records metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), common.RequestIDKey, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.IncrementRequest(r.Method, route, rec.status)
		s.metrics.RecordLatency(r.Method, route, elapsed.Seconds())

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", elapsed),
		)
	})
}

// requireOperator admits requests that carry a valid operator bearer token
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			respondError(w, http.StatusServiceUnavailable, "admin api disabled: no jwt secret configured")
			return
		}

		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="roomd"`)
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			s.logger.Warn("operator token rejected", zap.Error(err))
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), common.OperatorKey, claims.Operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func operatorFrom(ctx context.Context) string {
	op, _ := ctx.Value(common.OperatorKey).(string)
	return op
}

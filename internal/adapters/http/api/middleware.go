// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/pkg/metrics"
)

// HTTP status code constants.
const (
	statusBadRequest      = 400
	statusNotFound        = 404
	statusTooManyRequests = 429
	statusInternalError   = 500
)

// requestIDHeader carries the caller-supplied correlation id, if any.
const requestIDHeader = "X-Request-ID"

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		statusCodeStr := strconv.Itoa(wrapped.statusCode)

		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)

		if wrapped.statusCode >= statusBadRequest {
			errorType := getErrorType(wrapped.statusCode)
			severity := getErrorSeverity(wrapped.statusCode)
			metrics.RecordErrorByEndpoint(endpoint, r.Method, errorType)
			metrics.RecordErrorByType(errorType, severity)
			metrics.RecordErrorLatency("http", errorType, durationMs)
		}
	}
}

// AuditMiddleware captures a signed audit event for every decision and hands
// it to the recorder. Auditing is best-effort: a full queue drops the event
// and bumps a counter, never the response.
func AuditMiddleware(next http.HandlerFunc, endpoint string, recorder AuditRecorder) http.HandlerFunc {
	if recorder == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		entityID := entityFromRequest(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		event := model.AuditEvent{
			DecisionID: uuid.NewString(),
			RequestID:  r.Header.Get(requestIDHeader),
			EntityID:   entityID,
			Action:     r.Method + " " + r.URL.Path,
			StatusCode: wrapped.statusCode,
			LatencyMS:  float64(time.Since(start).Milliseconds()),
			BodySize:   wrapped.written,
			ActorIP:    clientIP(r),
			ActorAgent: r.UserAgent(),
			Timestamp:  time.Now().UTC(),
		}
		if err := event.Sign(); err != nil {
			metrics.RecordAuditDropped()
			metrics.RecordErrorByComponent("audit", "sign_error")
			return
		}
		if !recorder.RecordAudit(r.Context(), event) {
			metrics.RecordAuditDropped()
		}
	}
}

// entityFromRequest resolves which entity a request concerns: entity-scoped
// read paths carry it as the trailing segment, mutating requests carry an
// entity_id in the JSON body. The body is restored for the handler.
func entityFromRequest(r *http.Request) string {
	for _, prefix := range []string{
		"/scores/entity/",
		"/sentinela/assessments/",
		"/sherlock/results/",
		"/gasmonitor/records/",
	} {
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		if rest != r.URL.Path && rest != "" && !strings.Contains(rest, "/") {
			return rest
		}
	}

	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	body, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var payload struct {
		EntityID string `json:"entity_id"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return payload.EntityID
}

// clientIP extracts the caller address, honoring reverse-proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getErrorType returns a standardized error type based on HTTP status code.
func getErrorType(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "server_error"
	case statusCode == statusTooManyRequests:
		return "rate_limit"
	case statusCode == statusNotFound:
		return "not_found"
	case statusCode >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// getErrorSeverity returns error severity based on HTTP status code.
func getErrorSeverity(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "high"
	case statusCode >= statusBadRequest:
		return "medium"
	default:
		return "low"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"redline/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.PingBridge(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["eventBridge"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/events" {
		s.handleEvents(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/actors" {
		actors, err := s.service.Actors(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list actors", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"actors": actors})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/status" {
		payload, err := s.service.Status(r.Context(), r.URL.Query().Get("documentId"), r.URL.Query().Get("actorId"))
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/state-matrix" {
		payload, err := s.service.StateMatrix(
			r.Context(),
			r.URL.Query().Get("documentId"),
			r.URL.Query().Get("actorId"),
			r.URL.Query().Get("platform"),
		)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/audit-events" {
		limit := 100
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		auditEvents, err := s.service.AuditEvents(r.Context(), r.URL.Query().Get("documentId"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list audit events", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": auditEvents})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/checkout" {
		var body struct {
			DocumentID string `json:"documentId"`
			ActorID    string `json:"actorId"`
			Platform   string `json:"platform"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Checkout(r.Context(), body.DocumentID, body.ActorID, body.Platform)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/save-progress" {
		var body struct {
			DocumentID string `json:"documentId"`
			ActorID    string `json:"actorId"`
			DOCX       string `json:"docx"`
			Filename   string `json:"filename"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SaveProgress(r.Context(), body.DocumentID, body.ActorID, body.DOCX, body.Filename)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/checkin" {
		var body struct {
			DocumentID string `json:"documentId"`
			ActorID    string `json:"actorId"`
			DOCX       string `json:"docx"`
			Filename   string `json:"filename"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CheckIn(r.Context(), body.DocumentID, body.ActorID, body.DOCX, body.Filename)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/cancel-checkout" {
		var body struct {
			DocumentID string `json:"documentId"`
			ActorID    string `json:"actorId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CancelCheckout(r.Context(), body.DocumentID, body.ActorID)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/override" {
		var body struct {
			DocumentID string `json:"documentId"`
			ActorID    string `json:"actorId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Override(r.Context(), body.DocumentID, body.ActorID)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodPost && (r.URL.Path == "/api/finalize" || r.URL.Path == "/api/unfinalize") {
		var body struct {
			DocumentID string `json:"documentId"`
			ActorID    string `json:"actorId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var payload map[string]any
		var err error
		if r.URL.Path == "/api/finalize" {
			payload, err = s.service.Finalize(r.Context(), body.DocumentID, body.ActorID)
		} else {
			payload, err = s.service.Unfinalize(r.Context(), body.DocumentID, body.ActorID)
		}
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/vendor/invite" {
		var body struct {
			DocumentID string `json:"documentId"`
			ActorID    string `json:"actorId"`
			VendorID   string `json:"vendorId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.VendorInvite(r.Context(), body.DocumentID, body.ActorID, body.VendorID)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/approvals/state" {
		payload, err := s.service.ApprovalsState(r.Context(), r.URL.Query().Get("documentId"))
		s.respond(w, payload, err)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "approvals" && r.Method == http.MethodPost {
		s.handleApprovalAction(w, r, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "documents" && parts[3] == "history" && r.Method == http.MethodGet {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		revisions, err := s.service.History(r.Context(), parts[2], limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleApprovalAction(w http.ResponseWriter, r *http.Request, action string) {
	var body struct {
		DocumentID string        `json:"documentId"`
		ActorID    string        `json:"actorId"`
		TargetID   string        `json:"targetId"`
		Comment    string        `json:"comment"`
		Notes      string        `json:"notes"`
		Name       string        `json:"name"`
		Email      string        `json:"email"`
		Items      []ReorderItem `json:"items"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var payload map[string]any
	var err error
	switch action {
	case "approve":
		payload, err = s.service.Approve(r.Context(), body.DocumentID, body.ActorID, body.TargetID, body.Comment)
	case "reject":
		payload, err = s.service.Reject(r.Context(), body.DocumentID, body.ActorID, body.TargetID, body.Comment)
	case "update-notes":
		payload, err = s.service.UpdateNotes(r.Context(), body.DocumentID, body.ActorID, body.TargetID, body.Notes)
	case "add-user":
		payload, err = s.service.AddApprover(r.Context(), body.DocumentID, body.ActorID, body.Name, body.Email)
	case "delete-user":
		payload, err = s.service.DeleteApprover(r.Context(), body.DocumentID, body.ActorID, body.TargetID)
	case "reorder":
		payload, err = s.service.Reorder(r.Context(), body.DocumentID, body.ActorID, body.Items)
	case "remind":
		payload, err = s.service.Remind(r.Context(), body.DocumentID, body.ActorID, body.TargetID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	s.respond(w, payload, err)
}

// handleEvents is the SSE stream. A new subscriber receives one connected
// acknowledgment and then live events only; there is no replay.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	platform := r.URL.Query().Get("platform")
	_, ch, cancel := s.service.Subscribe(platform)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				// Evicted by the broadcaster after a stalled push.
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("event marshal failed: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, payload map[string]any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the SSE handler stream through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

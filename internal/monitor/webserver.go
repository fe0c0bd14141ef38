// Package monitor serves the HTTP status interface: JSON endpoints over the
// live router and the journal, a pool usage chart, and the journal debug
// routes.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/anchorplace/internal/journal"
	"github.com/banshee-data/anchorplace/internal/monitoring"
	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/banshee-data/anchorplace/internal/stream"
)

var logf = monitoring.Tagged("Monitor")

// StatusSource reports live session state.
type StatusSource interface {
	Stats() session.Stats
}

// StreamSource reports event stream counters.
type StreamSource interface {
	Stats() stream.Stats
}

// WebServer handles the HTTP interface.
type WebServer struct {
	address string
	server  *http.Server
	status  StatusSource
	stream  StreamSource
	journal *journal.Journal
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Status  StatusSource
	// Stream and Journal are optional.
	Stream  StreamSource
	Journal *journal.Journal
}

// NewWebServer creates a web server. Attaching the journal debug routes
// can fail; the error is returned.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address: config.Address,
		status:  config.Status,
		stream:  config.Stream,
		journal: config.Journal,
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the root handler, for tests and embedding.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/events", ws.handleEvents)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/api/placements", ws.handlePlacements)
	mux.HandleFunc("/charts/pool", ws.handlePoolChart)

	if ws.journal != nil {
		if err := ws.journal.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach journal admin routes: %w", err)
		}
	}
	return mux, nil
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf("encode response: %v", err)
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "anchorplace", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

type statusResponse struct {
	Session session.Stats `json:"session"`
	Stream  *stream.Stats `json:"stream,omitempty"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.status == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no active session")
		return
	}
	resp := statusResponse{Session: ws.status.Stats()}
	if ws.stream != nil {
		s := ws.stream.Stats()
		resp.Stream = &s
	}
	ws.writeJSON(w, resp)
}

// sessionParam returns the session_id query parameter, defaulting to the
// live session.
func (ws *WebServer) sessionParam(r *http.Request) string {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	if ws.status != nil {
		return ws.status.Stats().SessionID
	}
	return ""
}

// handleEvents lists journaled events.
// Query params:
//   - session_id (optional; defaults to the live session, "all" for every session)
//   - kind (optional)
//   - limit (optional, 1..5000, default 500)
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.journal == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}

	f := journal.EventFilter{SessionID: ws.sessionParam(r)}
	if f.SessionID == "all" {
		f.SessionID = ""
	}
	if k := r.URL.Query().Get("kind"); k != "" {
		if !knownKind(session.Kind(k)) {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown event kind %q", k))
			return
		}
		f.Kind = session.Kind(k)
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 5000 {
			ws.writeJSONError(w, http.StatusBadRequest, "'limit' must be between 1 and 5000")
			return
		}
		f.Limit = n
	}

	events, err := ws.journal.ListEvents(r.Context(), f)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list events: %v", err))
		return
	}
	if events == nil {
		events = []session.Event{}
	}
	ws.writeJSON(w, events)
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.journal == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	sessions, err := ws.journal.ListSessions(r.Context())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []journal.Session{}
	}
	ws.writeJSON(w, sessions)
}

type placementsResponse struct {
	SessionID  string               `json:"session_id"`
	Placements []journal.Placement  `json:"placements"`
	Counts     map[session.Kind]int `json:"counts"`
}

func (ws *WebServer) handlePlacements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.journal == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	id := ws.sessionParam(r)
	if id == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'session_id' parameter")
		return
	}
	placements, err := ws.journal.ListPlacements(r.Context(), id)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list placements: %v", err))
		return
	}
	counts, err := ws.journal.CountByKind(r.Context(), id)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count events: %v", err))
		return
	}
	if placements == nil {
		placements = []journal.Placement{}
	}
	ws.writeJSON(w, placementsResponse{SessionID: id, Placements: placements, Counts: counts})
}

func knownKind(k session.Kind) bool {
	for _, kind := range session.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

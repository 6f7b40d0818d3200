// Package api implements the reference sync server: a single-mutation sync
// endpoint with idempotent replay, optimistic-concurrency conflict
// detection, and a force flag for resolution writes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/offsync/internal/serverdb"
)

// Config holds the server configuration.
type Config struct {
	ListenAddr string
	// APIKey, when non-empty, is required as a Bearer token on /v1 routes.
	APIKey string
}

// Server is the HTTP API server for offsync.
type Server struct {
	config Config
	http   *http.Server
	store  *serverdb.DB
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.DB) *Server {
	s := &Server{config: cfg, store: store}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests running under httptest.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/sync", s.requireAuth(s.handleSync))
	mux.HandleFunc("GET /v1/resources/{kind}/{id}", s.requireAuth(s.handleGetResource))
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.config.APIKey {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SyncRequest is the JSON body for POST /v1/sync.
type SyncRequest struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	ResourceKind string          `json:"resource_kind"`
	Payload      json.RawMessage `json:"payload"`
	RecordedAt   time.Time       `json:"recorded_at"`
	DeviceID     string          `json:"device_id,omitempty"`
	Force        bool            `json:"force,omitempty"`
}

// SyncResponse is the JSON response for a sync request. Success carries
// data; a conflict carries type, server_data, and the divergent fields.
type SyncResponse struct {
	Type            string               `json:"type,omitempty"`
	Data            json.RawMessage      `json:"data,omitempty"`
	Conflicts       []serverdb.FieldDiff `json:"conflicts,omitempty"`
	ServerData      json.RawMessage      `json:"server_data,omitempty"`
	ServerUpdatedAt time.Time            `json:"server_updated_at,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Kind == "" || req.ResourceKind == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "id, kind, and resource_kind are required")
		return
	}

	resourceID := resourceIDFromPayload(req.Payload)
	if resourceID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "payload must carry a resource id")
		return
	}

	outcome, err := s.store.Apply(&serverdb.ApplyRequest{
		MutationID:   req.ID,
		Kind:         req.Kind,
		ResourceKind: req.ResourceKind,
		ResourceID:   resourceID,
		Payload:      req.Payload,
		RecordedAt:   req.RecordedAt,
		Force:        req.Force,
	})
	if err != nil {
		slog.Error("apply mutation", "mutation", req.ID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "apply failed")
		return
	}

	if outcome.Conflict {
		writeJSON(w, http.StatusConflict, SyncResponse{
			Type:            "conflict",
			Conflicts:       outcome.Conflicts,
			ServerData:      outcome.ServerData,
			ServerUpdatedAt: outcome.ServerUpdatedAt,
		})
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Data: outcome.Data})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	id := r.PathValue("id")

	data, updatedAt, err := s.store.GetResource(kind, id)
	if err != nil {
		slog.Error("get resource", "kind", kind, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "lookup failed")
		return
	}
	if data == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       json.RawMessage(data),
		"updated_at": updatedAt,
	})
}

func resourceIDFromPayload(payload json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(payload, &probe) != nil {
		return ""
	}
	return probe.ID
}

package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(srv *httptest.Server) *Client {
	c := New(srv.URL, "test-key", "dev-abc123")
	c.HTTP = srv.Client()
	return c
}

func testRequest() *SyncRequest {
	return &SyncRequest{
		ID:           "mu-1",
		Kind:         "update",
		ResourceKind: "note",
		Payload:      []byte(`{"id":"n1","title":"hello"}`),
		RecordedAt:   time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSyncSuccess(t *testing.T) {
	var gotAuth string
	var gotBody SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(SyncResponse{Data: []byte(`{"id":"n1","title":"hello"}`)})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Sync(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if resp.Conflict() {
		t.Error("success response misread as conflict")
	}
	if string(resp.Data) != `{"id":"n1","title":"hello"}` {
		t.Errorf("data: got %s", resp.Data)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header: got %q, want Bearer test-key", gotAuth)
	}
	if gotBody.ID != "mu-1" {
		t.Errorf("request id: got %s, want mu-1", gotBody.ID)
	}
	// Client injects its device id when the caller leaves it empty.
	if gotBody.DeviceID != "dev-abc123" {
		t.Errorf("device id: got %q, want dev-abc123", gotBody.DeviceID)
	}
	if gotBody.Force {
		t.Error("force must default to false")
	}
}

func TestSyncConflictIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(SyncResponse{
			Type:            ResponseTypeConflict,
			ServerData:      []byte(`{"id":"n1","title":"server"}`),
			ServerUpdatedAt: time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC),
		})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Sync(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("conflict must not be an error, got %v", err)
	}
	if !resp.Conflict() {
		t.Fatal("response should report a conflict")
	}
	if string(resp.ServerData) != `{"id":"n1","title":"server"}` {
		t.Errorf("server data: got %s", resp.ServerData)
	}
}

func TestSync409WithoutConflictBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Sync(context.Background(), testRequest())
	if !errors.Is(err, ErrTransient) {
		t.Errorf("got %v, want ErrTransient", err)
	}
}

func TestSyncErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"server error", http.StatusInternalServerError, ErrTransient},
		{"rate limited", http.StatusTooManyRequests, ErrTransient},
		{"bad gateway", http.StatusBadGateway, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"code":"nope","message":"nope"}}`))
			}))
			defer srv.Close()

			_, err := newTestClient(srv).Sync(context.Background(), testRequest())
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSyncConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	_, err := New(srv.URL, "", "").Sync(context.Background(), testRequest())
	if !errors.Is(err, ErrTransient) {
		t.Errorf("got %v, want ErrTransient", err)
	}
}

func TestSyncForceFlagSerialized(t *testing.T) {
	var gotBody SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(SyncResponse{Data: []byte(`{}`)})
	}))
	defer srv.Close()

	req := testRequest()
	req.Force = true
	if _, err := newTestClient(srv).Sync(context.Background(), req); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !gotBody.Force {
		t.Error("force flag not serialized")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("path: got %s, want /healthz", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	if err := newTestClient(srv).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestHealthCheckFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := newTestClient(srv).HealthCheck(context.Background()); !errors.Is(err, ErrTransient) {
		t.Errorf("got %v, want ErrTransient", err)
	}
}

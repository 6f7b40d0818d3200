package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/models"
	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	st, err := NewWithConn(conn)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testMutation(id string, recordedAt time.Time) *models.MutationRecord {
	return &models.MutationRecord{
		ID:           id,
		Kind:         models.KindUpdate,
		ResourceKind: "note",
		Payload:      []byte(`{"id":"n1","title":"hello"}`),
		RecordedAt:   recordedAt,
		Status:       models.StatusPending,
	}
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	st, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer st.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); os.IsNotExist(err) {
		t.Error("database file not created")
	}
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("expected error opening uninitialized database")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	parsed, err := parseTimestamp(formatTime(ts))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("round trip: got %v, want %v", parsed, ts)
	}
}

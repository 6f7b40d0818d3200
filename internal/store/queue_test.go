package store

import (
	"testing"
	"time"

	"github.com/marcus/offsync/internal/models"
)

func TestAddAndGetMutation(t *testing.T) {
	st := setupStore(t)

	recorded := time.Now().UTC().Truncate(time.Millisecond)
	m := testMutation("mu-1", recorded)
	m.PriorPayload = []byte(`{"id":"n1","title":"old"}`)

	if err := st.AddMutation(m); err != nil {
		t.Fatalf("AddMutation failed: %v", err)
	}

	got, err := st.GetMutation("mu-1")
	if err != nil {
		t.Fatalf("GetMutation failed: %v", err)
	}
	if got == nil {
		t.Fatal("mutation not found")
	}
	if got.Kind != models.KindUpdate {
		t.Errorf("kind: got %s, want %s", got.Kind, models.KindUpdate)
	}
	if got.ResourceKind != "note" {
		t.Errorf("resource kind: got %s, want note", got.ResourceKind)
	}
	if !got.RecordedAt.Equal(recorded) {
		t.Errorf("recorded at: got %v, want %v", got.RecordedAt, recorded)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status: got %s, want pending", got.Status)
	}
	if string(got.PriorPayload) != `{"id":"n1","title":"old"}` {
		t.Errorf("prior payload mismatch: %s", got.PriorPayload)
	}
}

func TestGetMutationMissing(t *testing.T) {
	st := setupStore(t)

	got, err := st.GetMutation("mu-nope")
	if err != nil {
		t.Fatalf("GetMutation failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing mutation, got %+v", got)
	}
}

func TestAddMutationDuplicateID(t *testing.T) {
	st := setupStore(t)

	m := testMutation("mu-dup", time.Now())
	if err := st.AddMutation(m); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := st.AddMutation(m); err == nil {
		t.Fatal("expected error on duplicate id")
	}
}

func TestPutMutation(t *testing.T) {
	st := setupStore(t)

	m := testMutation("mu-2", time.Now())
	if err := st.AddMutation(m); err != nil {
		t.Fatalf("add: %v", err)
	}

	m.Status = models.StatusSyncing
	m.RetryCount = 2
	if err := st.PutMutation(m); err != nil {
		t.Fatalf("PutMutation failed: %v", err)
	}

	got, err := st.GetMutation("mu-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusSyncing {
		t.Errorf("status: got %s, want syncing", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry count: got %d, want 2", got.RetryCount)
	}
}

func TestPutMutationMissing(t *testing.T) {
	st := setupStore(t)

	m := testMutation("mu-ghost", time.Now())
	if err := st.PutMutation(m); err == nil {
		t.Fatal("expected error updating missing mutation")
	}
}

func TestMutationsByStatusOrdering(t *testing.T) {
	st := setupStore(t)

	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	// Insert out of causal order; reads must come back recorded_at ascending.
	for _, m := range []*models.MutationRecord{
		testMutation("mu-c", base.Add(2*time.Second)),
		testMutation("mu-a", base),
		testMutation("mu-b", base.Add(time.Second)),
	} {
		if err := st.AddMutation(m); err != nil {
			t.Fatalf("add %s: %v", m.ID, err)
		}
	}

	got, err := st.MutationsByStatus(models.StatusPending)
	if err != nil {
		t.Fatalf("MutationsByStatus failed: %v", err)
	}
	want := []string{"mu-a", "mu-b", "mu-c"}
	if len(got) != len(want) {
		t.Fatalf("count: got %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("order[%d]: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMutationsByStatusTieBreaksOnID(t *testing.T) {
	st := setupStore(t)

	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"mu-z", "mu-a"} {
		if err := st.AddMutation(testMutation(id, at)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	got, err := st.MutationsByStatus(models.StatusPending)
	if err != nil {
		t.Fatalf("MutationsByStatus failed: %v", err)
	}
	if got[0].ID != "mu-a" || got[1].ID != "mu-z" {
		t.Errorf("tie break: got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestCountByStatus(t *testing.T) {
	st := setupStore(t)

	now := time.Now()
	for i, status := range []models.Status{
		models.StatusPending, models.StatusPending, models.StatusCompleted, models.StatusConflicted,
	} {
		m := testMutation(models.NewID("mu-"), now.Add(time.Duration(i)*time.Second))
		m.Status = status
		if err := st.AddMutation(m); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	counts, err := st.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.StatusPending] != 2 {
		t.Errorf("pending: got %d, want 2", counts[models.StatusPending])
	}
	if counts[models.StatusCompleted] != 1 {
		t.Errorf("completed: got %d, want 1", counts[models.StatusCompleted])
	}
	if counts[models.StatusConflicted] != 1 {
		t.Errorf("conflicted: got %d, want 1", counts[models.StatusConflicted])
	}
	if counts[models.StatusSyncing] != 0 {
		t.Errorf("syncing: got %d, want 0", counts[models.StatusSyncing])
	}
}

func TestPruneCompleted(t *testing.T) {
	st := setupStore(t)

	now := time.Now()
	done := testMutation("mu-done", now)
	done.Status = models.StatusCompleted
	pending := testMutation("mu-open", now.Add(time.Second))
	for _, m := range []*models.MutationRecord{done, pending} {
		if err := st.AddMutation(m); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	n, err := st.PruneCompleted()
	if err != nil {
		t.Fatalf("PruneCompleted failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}

	if got, _ := st.GetMutation("mu-done"); got != nil {
		t.Error("completed mutation should be gone")
	}
	if got, _ := st.GetMutation("mu-open"); got == nil {
		t.Error("pending mutation should survive prune")
	}
}

func TestDeleteMutation(t *testing.T) {
	st := setupStore(t)

	if err := st.AddMutation(testMutation("mu-del", time.Now())); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.DeleteMutation("mu-del"); err != nil {
		t.Fatalf("DeleteMutation failed: %v", err)
	}
	if got, _ := st.GetMutation("mu-del"); got != nil {
		t.Error("mutation should be deleted")
	}

	// Deleting a missing id is a no-op.
	if err := st.DeleteMutation("mu-del"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

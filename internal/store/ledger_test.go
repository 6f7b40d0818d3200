package store

import (
	"testing"
	"time"

	"github.com/marcus/offsync/internal/models"
)

func testConflict(id, mutationID string, at time.Time) *models.ConflictLedgerEntry {
	return &models.ConflictLedgerEntry{
		ID:         id,
		MutationID: mutationID,
		FieldConflicts: []models.FieldConflict{
			{
				Field:       "title",
				LocalValue:  []byte(`"mine"`),
				ServerValue: []byte(`"theirs"`),
			},
		},
		CreatedAt: at,
	}
}

func TestAddAndGetConflict(t *testing.T) {
	st := setupStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := st.AddConflict(testConflict("cf-1", "mu-1", now)); err != nil {
		t.Fatalf("AddConflict failed: %v", err)
	}

	got, err := st.GetConflict("cf-1")
	if err != nil {
		t.Fatalf("GetConflict failed: %v", err)
	}
	if got == nil {
		t.Fatal("conflict not found")
	}
	if got.MutationID != "mu-1" {
		t.Errorf("mutation id: got %s, want mu-1", got.MutationID)
	}
	if len(got.FieldConflicts) != 1 || got.FieldConflicts[0].Field != "title" {
		t.Errorf("field conflicts mismatch: %+v", got.FieldConflicts)
	}
	if got.Resolved() {
		t.Error("fresh conflict should be unresolved")
	}
}

func TestResolveConflict(t *testing.T) {
	st := setupStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := st.AddConflict(testConflict("cf-1", "mu-1", now)); err != nil {
		t.Fatalf("add: %v", err)
	}

	res := models.Resolution{Choice: models.ChoiceLocal}
	if err := st.ResolveConflict("cf-1", res, now.Add(time.Minute)); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}

	got, err := st.GetConflict("cf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Resolved() {
		t.Fatal("conflict should be resolved")
	}
	if got.Resolution.Choice != models.ChoiceLocal {
		t.Errorf("choice: got %s, want local", got.Resolution.Choice)
	}
	if !got.ResolvedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("resolved at: got %v, want %v", got.ResolvedAt, now.Add(time.Minute))
	}
}

func TestResolveConflictTwice(t *testing.T) {
	st := setupStore(t)
	now := time.Now().UTC()

	if err := st.AddConflict(testConflict("cf-1", "mu-1", now)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.ResolveConflict("cf-1", models.Resolution{Choice: models.ChoiceServer}, now); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := st.ResolveConflict("cf-1", models.Resolution{Choice: models.ChoiceLocal}, now); err == nil {
		t.Fatal("second resolve should fail")
	}

	// First resolution must stand.
	got, _ := st.GetConflict("cf-1")
	if got.Resolution.Choice != models.ChoiceServer {
		t.Errorf("choice overwritten: got %s, want server", got.Resolution.Choice)
	}
}

func TestResolveConflictMissing(t *testing.T) {
	st := setupStore(t)

	err := st.ResolveConflict("cf-ghost", models.Resolution{Choice: models.ChoiceLocal}, time.Now())
	if err == nil {
		t.Fatal("expected error resolving missing conflict")
	}
}

func TestUnresolvedConflictsOrdering(t *testing.T) {
	st := setupStore(t)
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	for _, c := range []*models.ConflictLedgerEntry{
		testConflict("cf-b", "mu-2", base.Add(time.Second)),
		testConflict("cf-a", "mu-1", base),
		testConflict("cf-c", "mu-3", base.Add(2*time.Second)),
	} {
		if err := st.AddConflict(c); err != nil {
			t.Fatalf("add %s: %v", c.ID, err)
		}
	}
	if err := st.ResolveConflict("cf-b", models.Resolution{Choice: models.ChoiceLocal}, base.Add(time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	open, err := st.UnresolvedConflicts()
	if err != nil {
		t.Fatalf("UnresolvedConflicts failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open count: got %d, want 2", len(open))
	}
	if open[0].ID != "cf-a" || open[1].ID != "cf-c" {
		t.Errorf("order: got %s, %s", open[0].ID, open[1].ID)
	}

	all, err := st.AllConflicts()
	if err != nil {
		t.Fatalf("AllConflicts failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all count: got %d, want 3", len(all))
	}
}

func TestConflictByMutation(t *testing.T) {
	st := setupStore(t)
	now := time.Now().UTC()

	if err := st.AddConflict(testConflict("cf-1", "mu-1", now)); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := st.ConflictByMutation("mu-1")
	if err != nil {
		t.Fatalf("ConflictByMutation failed: %v", err)
	}
	if got == nil || got.ID != "cf-1" {
		t.Errorf("got %+v, want cf-1", got)
	}

	none, err := st.ConflictByMutation("mu-other")
	if err != nil {
		t.Fatalf("ConflictByMutation failed: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for unknown mutation, got %+v", none)
	}
}

func TestLedgerSurvivesQueuePrune(t *testing.T) {
	st := setupStore(t)
	now := time.Now().UTC()

	m := testMutation("mu-1", now)
	m.Status = models.StatusCompleted
	if err := st.AddMutation(m); err != nil {
		t.Fatalf("add mutation: %v", err)
	}
	if err := st.AddConflict(testConflict("cf-1", "mu-1", now)); err != nil {
		t.Fatalf("add conflict: %v", err)
	}

	if _, err := st.PruneCompleted(); err != nil {
		t.Fatalf("prune: %v", err)
	}

	got, err := st.GetConflict("cf-1")
	if err != nil {
		t.Fatalf("get conflict: %v", err)
	}
	if got == nil {
		t.Error("ledger entry should outlive its pruned mutation")
	}
}

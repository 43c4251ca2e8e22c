package runstore

import (
	"errors"
	"testing"
	"time"

	"clawflow/internal/orchestrator"
)

func testRun(id string, startedAt time.Time) *orchestrator.Run {
	return &orchestrator.Run{
		RunID:     id,
		Goal:      "goal for " + id,
		State:     orchestrator.StateDone,
		StartedAt: startedAt,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	run := testRun("r1", time.Now())
	run.FinalAnswer = "the answer"
	run.Steps = []*orchestrator.Step{{
		StepNumber: 1,
		Tasks:      []*orchestrator.StepTask{{ID: "t", Task: "x", Status: orchestrator.TaskDone}},
	}}

	if err := store.Save(run); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Get("r1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Goal != run.Goal || got.FinalAnswer != "the answer" {
		t.Errorf("run fields lost: %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Tasks[0].ID != "t" {
		t.Errorf("steps lost: %+v", got.Steps)
	}
}

func TestFileStoreUpsert(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	run := testRun("r1", time.Now())
	store.Save(run)

	run.FinalAnswer = "updated"
	store.Save(run)

	got, err := store.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.FinalAnswer != "updated" {
		t.Errorf("upsert lost: %q", got.FinalAnswer)
	}
}

func TestFileStoreGetNotFound(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	if _, err := store.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreListOrderAndLimit(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	base := time.Now()
	for i := 0; i < 5; i++ {
		store.Save(testRun(
			string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Minute),
		))
	}

	runs, err := store.List(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Error("list not sorted by startedAt descending")
		}
	}
	if runs[0].RunID != "e" {
		t.Errorf("most recent run first expected, got %s", runs[0].RunID)
	}
}

func TestFileStoreDelete(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	store.Save(testRun("r1", time.Now()))

	if err := store.Delete("r1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get("r1"); !errors.Is(err, ErrNotFound) {
		t.Error("run still present after delete")
	}
	if err := store.Delete("r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete should report not found, got %v", err)
	}
}

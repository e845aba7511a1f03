package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bellmanlabs/bellman/internal/model"
)

func testCommand(id string) model.Command {
	return model.Command{
		ExecutionID:               id,
		TenantID:                  "tenant_a",
		CorrelationID:             "corr_1",
		CommandType:               model.CommandSendSMS,
		AuthorizedByCore:          true,
		PermissionManifestVersion: "v1",
		Payload:                   map[string]any{"to": "+15550001111"},
	}
}

func runQueueContract(t *testing.T, q CommandQueue) {
	t.Helper()

	if err := q.Enqueue(testCommand("exec_1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending, err := q.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending entry, got %d", len(pending))
	}
	entry := pending[0]
	if entry.Attempts != 0 || entry.Status != model.StatusPending || entry.Command.ExecutionID != "exec_1" {
		t.Errorf("fresh entry wrong: %+v", entry)
	}

	// unknown-id mutations are silent no-ops
	if err := q.MarkAttempted("exec_unknown", "boom"); err != nil {
		t.Errorf("MarkAttempted unknown: %v", err)
	}
	if err := q.MarkDelivered("exec_unknown"); err != nil {
		t.Errorf("MarkDelivered unknown: %v", err)
	}
	if err := q.MarkDLQ("exec_unknown", "boom"); err != nil {
		t.Errorf("MarkDLQ unknown: %v", err)
	}
	if pending, _ = q.ListPending(); len(pending) != 1 {
		t.Errorf("no-op mutations changed state: %d pending", len(pending))
	}

	// attempts accounting
	if err := q.MarkAttempted("exec_1", "executor timeout"); err != nil {
		t.Fatal(err)
	}
	got, ok, err := q.Get("exec_1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Attempts != 1 || got.LastAttemptAt == nil {
		t.Errorf("attempt not counted: %+v", got)
	}
	if got.LastError == nil || *got.LastError != "executor timeout" {
		t.Errorf("last error = %v", got.LastError)
	}

	// empty reason clears LastError
	if err := q.MarkAttempted("exec_1", ""); err != nil {
		t.Fatal(err)
	}
	got, _, _ = q.Get("exec_1")
	if got.Attempts != 2 || got.LastError != nil {
		t.Errorf("empty reason should clear LastError: %+v", got)
	}

	// delivered leaves pending set, entry retained for audit
	if err := q.MarkDelivered("exec_1"); err != nil {
		t.Fatal(err)
	}
	if pending, _ = q.ListPending(); len(pending) != 0 {
		t.Errorf("delivered entry still pending")
	}
	got, ok, _ = q.Get("exec_1")
	if !ok || got.Status != model.StatusDelivered {
		t.Errorf("delivered entry not retained: ok=%v %+v", ok, got)
	}

	// dlq terminal
	if err := q.Enqueue(testCommand("exec_2")); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkDLQ("exec_2", "attempts exhausted"); err != nil {
		t.Fatal(err)
	}
	got, _, _ = q.Get("exec_2")
	if got.Status != model.StatusDLQ || got.LastError == nil || *got.LastError != "attempts exhausted" {
		t.Errorf("dlq entry wrong: %+v", got)
	}
}

func TestMemoryQueue(t *testing.T) {
	runQueueContract(t, NewMemory())
}

func TestFileQueue(t *testing.T) {
	q, err := NewFile(filepath.Join(t.TempDir(), "commands.json"))
	if err != nil {
		t.Fatal(err)
	}
	runQueueContract(t, q)
}

func TestEnqueueOrderPreserved(t *testing.T) {
	q := NewMemory()
	for _, id := range []string{"exec_c", "exec_a", "exec_b"} {
		if err := q.Enqueue(testCommand(id)); err != nil {
			t.Fatal(err)
		}
	}
	pending, _ := q.ListPending()
	want := []string{"exec_c", "exec_a", "exec_b"}
	for i, entry := range pending {
		if entry.Command.ExecutionID != want[i] {
			t.Fatalf("order violated at %d: got %s want %s", i, entry.Command.ExecutionID, want[i])
		}
	}
}

func TestReEnqueueResetsEntry(t *testing.T) {
	q := NewMemory()
	if err := q.Enqueue(testCommand("exec_1")); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkAttempted("exec_1", "fail"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(testCommand("exec_1")); err != nil {
		t.Fatal(err)
	}
	got, _, _ := q.Get("exec_1")
	if got.Attempts != 0 || got.Status != model.StatusPending || got.LastError != nil {
		t.Errorf("re-enqueue should reset: %+v", got)
	}
}

func TestFileQueueReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.json")

	q1, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// deterministic enqueue times so reload order is exact
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	i := 0
	q1.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Millisecond)
	}
	for _, id := range []string{"exec_z", "exec_a", "exec_m"} {
		if err := q1.Enqueue(testCommand(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := q1.MarkAttempted("exec_z", "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := q1.MarkDelivered("exec_a"); err != nil {
		t.Fatal(err)
	}

	q2, err := NewFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	pending, _ := q2.ListPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending after reload, got %d", len(pending))
	}
	if pending[0].Command.ExecutionID != "exec_z" || pending[1].Command.ExecutionID != "exec_m" {
		t.Errorf("reload order wrong: %s, %s", pending[0].Command.ExecutionID, pending[1].Command.ExecutionID)
	}
	if pending[0].Attempts != 1 {
		t.Errorf("attempts lost on reload: %+v", pending[0])
	}
	got, ok, _ := q2.Get("exec_a")
	if !ok || got.Status != model.StatusDelivered {
		t.Errorf("delivered entry lost on reload: %+v", got)
	}
}

func TestFileQueueCorruptSnapshotQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commands.json")
	if err := os.WriteFile(path, []byte("{{{{"), 0644); err != nil {
		t.Fatal(err)
	}

	q, err := NewFile(path)
	if err != nil {
		t.Fatalf("corrupt snapshot must not fail construction: %v", err)
	}
	if pending, _ := q.ListPending(); len(pending) != 0 {
		t.Error("queue should start empty after quarantine")
	}
	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	if err != nil || len(entries) != 1 {
		t.Errorf("expected quarantined file, err=%v entries=%v", err, entries)
	}
}

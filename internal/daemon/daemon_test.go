package daemon

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bellmanlabs/bellman/internal/config"
	"github.com/bellmanlabs/bellman/internal/dispatch"
	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/uds"
)

// Data dirs live under /tmp directly so the daemon socket path stays below
// the unix socket length limit.
func testDataDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "bellmand-test-*")
	if err != nil {
		t.Fatalf("create data dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Stream.JournalEnabled = false
	return cfg
}

func startTestDaemon(t *testing.T, dataDir string, opts ...func(*Daemon)) *Daemon {
	t.Helper()
	d, err := newDaemon(dataDir, testConfig(), io.Discard, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.start(); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(d.Shutdown)
	return d
}

func testClient(t *testing.T, dataDir string) *uds.Client {
	t.Helper()
	client := uds.NewClient(filepath.Join(dataDir, uds.DefaultSocketName))
	client.SetTimeout(5 * time.Second)
	return client
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonSingleInstance(t *testing.T) {
	dataDir := testDataDir(t)
	startTestDaemon(t, dataDir)

	second, err := newDaemon(dataDir, testConfig(), io.Discard, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	if err := second.start(); err == nil {
		second.Shutdown()
		t.Fatal("second daemon acquired the lock")
	}
}

func TestEnqueueAndDispatchOverUDS(t *testing.T) {
	dataDir := testDataDir(t)
	d := startTestDaemon(t, dataDir)
	client := testClient(t, dataDir)

	resp, err := client.Do("ping", nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !resp.Success {
		t.Fatalf("ping error: %+v", resp.Error)
	}

	resp, err = client.Do("enqueue", EnqueueParams{
		TenantID:    "tenant_a",
		CommandType: string(model.CommandSendSMS),
		Payload:     map[string]any{"to": "+15550100"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !resp.Success {
		t.Fatalf("enqueue error: %+v", resp.Error)
	}
	var enqueued map[string]string
	if err := json.Unmarshal(resp.Data, &enqueued); err != nil {
		t.Fatalf("unmarshal enqueue data: %v", err)
	}
	if enqueued["execution_id"] == "" {
		t.Fatal("no execution_id returned")
	}

	resp, _ = client.Do("queue_status", nil)
	var status struct {
		Pending int `json:"pending"`
	}
	json.Unmarshal(resp.Data, &status)
	if status.Pending != 1 {
		t.Errorf("pending = %d, want 1", status.Pending)
	}

	// Drive one dispatch tick directly; the outbox dispatcher delivers.
	d.worker.Tick(context.Background())

	resp, _ = client.Do("queue_status", nil)
	json.Unmarshal(resp.Data, &status)
	if status.Pending != 0 {
		t.Errorf("pending after tick = %d, want 0", status.Pending)
	}

	if _, err := os.Stat(filepath.Join(dataDir, "outbox", enqueued["execution_id"]+".json")); err != nil {
		t.Errorf("outbox file missing: %v", err)
	}

	resp, _ = client.Do("events_list", EventsListParams{TenantID: "tenant_a"})
	var eventData struct {
		Events []model.EventEnvelope `json:"events"`
	}
	json.Unmarshal(resp.Data, &eventData)
	// SMS success emits the result event plus the derived message_sent.
	if len(eventData.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(eventData.Events))
	}
	if eventData.Events[1].EventType != model.EventMessageSent {
		t.Errorf("second event type = %q, want message_sent", eventData.Events[1].EventType)
	}
}

func TestEnqueueValidation(t *testing.T) {
	dataDir := testDataDir(t)
	startTestDaemon(t, dataDir)
	client := testClient(t, dataDir)

	resp, err := client.Do("enqueue", EnqueueParams{TenantID: "tenant_a"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if resp.Success || resp.Error.Code != uds.ErrCodeValidation {
		t.Errorf("response = %+v, want validation error", resp)
	}
}

func TestSubscriptionReplayOverUDS(t *testing.T) {
	dataDir := testDataDir(t)
	d := startTestDaemon(t, dataDir)
	client := testClient(t, dataDir)

	for i := 0; i < 3; i++ {
		d.stream.Append(model.EventMessageSent, "tenant_a", "", nil)
	}
	d.stream.Append(model.EventMessageSent, "tenant_b", "", nil)

	resp, err := client.Do("sub_create", SubCreateParams{TenantID: "tenant_a"})
	if err != nil {
		t.Fatalf("sub_create: %v", err)
	}
	var sub model.Subscription
	if err := json.Unmarshal(resp.Data, &sub); err != nil {
		t.Fatalf("unmarshal subscription: %v", err)
	}

	resp, err = client.Do("sub_replay", SubReplayParams{SubscriptionID: sub.ID})
	if err != nil {
		t.Fatalf("sub_replay: %v", err)
	}
	var replay struct {
		Events []model.EventEnvelope `json:"events"`
	}
	json.Unmarshal(resp.Data, &replay)
	if len(replay.Events) != 3 {
		t.Errorf("replayed %d events, want 3 (tenant scoped)", len(replay.Events))
	}

	resp, _ = client.Do("sub_replay", SubReplayParams{SubscriptionID: "sub_missing"})
	if resp.Success || resp.Error.Code != uds.ErrCodeNotFound {
		t.Errorf("response = %+v, want not found", resp)
	}
}

func TestIngressFileEnqueued(t *testing.T) {
	dataDir := testDataDir(t)
	d := startTestDaemon(t, dataDir)

	cmd := model.NewCommand("tenant_a", "corr_1", model.CommandConfirmAppointment, "v1", nil)
	data, _ := json.Marshal(cmd)
	path := filepath.Join(dataDir, "ingress", cmd.ExecutionID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("drop ingress file: %v", err)
	}

	waitFor(t, 3*time.Second, "ingress enqueue", func() bool {
		_, ok, _ := d.queue.Get(cmd.ExecutionID)
		return ok
	})

	// The processed file is removed.
	waitFor(t, 3*time.Second, "ingress file removal", func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestIngressRejectsGarbage(t *testing.T) {
	dataDir := testDataDir(t)
	startTestDaemon(t, dataDir)

	path := filepath.Join(dataDir, "ingress", "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("drop ingress file: %v", err)
	}

	waitFor(t, 3*time.Second, "ingress rejection", func() bool {
		_, err := os.Stat(path + ".rejected")
		return err == nil
	})
}

func TestIngressScanOnStartup(t *testing.T) {
	dataDir := testDataDir(t)

	// Command dropped while no daemon was running.
	if err := os.MkdirAll(filepath.Join(dataDir, "ingress"), 0755); err != nil {
		t.Fatalf("mkdir ingress: %v", err)
	}
	cmd := model.NewCommand("tenant_a", "", model.CommandSendPaymentLink, "v1", nil)
	data, _ := json.Marshal(cmd)
	if err := os.WriteFile(filepath.Join(dataDir, "ingress", "pending.json"), data, 0644); err != nil {
		t.Fatalf("drop ingress file: %v", err)
	}

	d := startTestDaemon(t, dataDir)
	waitFor(t, 3*time.Second, "startup ingress scan", func() bool {
		_, ok, _ := d.queue.Get(cmd.ExecutionID)
		return ok
	})
}

func TestQueueSurvivesRestart(t *testing.T) {
	dataDir := testDataDir(t)

	d := startTestDaemon(t, dataDir, func(d *Daemon) {
		d.SetDispatcher(dispatch.DispatcherFunc(func(context.Context, model.Command) (model.ResultEvent, error) {
			return model.ResultEvent{}, &model.DispatchError{Code: "UNAVAILABLE", Err: os.ErrDeadlineExceeded}
		}))
	})

	cmd := model.NewCommand("tenant_a", "", model.CommandSendSMS, "v1", nil)
	if err := d.queue.Enqueue(cmd); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.worker.Tick(context.Background())
	d.Shutdown()

	d2 := startTestDaemon(t, dataDir)
	entry, ok, err := d2.queue.Get(cmd.ExecutionID)
	if err != nil || !ok {
		t.Fatalf("entry lost across restart: ok=%v err=%v", ok, err)
	}
	if entry.Status != model.StatusPending {
		t.Errorf("status after restart = %q, want pending", entry.Status)
	}
	if entry.Attempts != 1 {
		t.Errorf("attempts after restart = %d, want 1", entry.Attempts)
	}
}

func TestDLQListOverUDS(t *testing.T) {
	dataDir := testDataDir(t)
	d := startTestDaemon(t, dataDir)
	client := testClient(t, dataDir)

	ctx := context.Background()
	a, _ := d.deadLetters.Add(ctx, "wf_1", "send_reminder", nil, "boom", 3)
	d.deadLetters.Add(ctx, "wf_2", "escalate", nil, "boom", 3)
	d.deadLetters.Archive(ctx, a.ID)

	resp, err := client.Do("dlq_list", DLQListParams{ActiveOnly: true})
	if err != nil {
		t.Fatalf("dlq_list: %v", err)
	}
	var data struct {
		Entries []model.DeadLetterEntry `json:"entries"`
	}
	json.Unmarshal(resp.Data, &data)
	if len(data.Entries) != 1 {
		t.Errorf("active entries = %d, want 1", len(data.Entries))
	}

	resp, _ = client.Do("dlq_list", nil)
	json.Unmarshal(resp.Data, &data)
	if len(data.Entries) != 2 {
		t.Errorf("all entries = %d, want 2", len(data.Entries))
	}
}

func TestShutdownViaUDS(t *testing.T) {
	dataDir := testDataDir(t)
	startTestDaemon(t, dataDir)
	client := testClient(t, dataDir)

	resp, err := client.Do("shutdown", nil)
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !resp.Success {
		t.Fatalf("shutdown error: %+v", resp.Error)
	}

	waitFor(t, 5*time.Second, "socket removal", func() bool {
		_, err := os.Stat(filepath.Join(dataDir, uds.DefaultSocketName))
		return os.IsNotExist(err)
	})
}

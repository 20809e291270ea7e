package ipc_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"distill/internal/fault"
	"distill/internal/ipc"
	"distill/internal/logging"
	"distill/internal/task"
	"distill/internal/testsupport"
)

func startServer(t *testing.T) string {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	srv, err := ipc.NewServer(context.Background(), "127.0.0.1:0", st, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return srv.Addr()
}

func TestClientRoundTrip(t *testing.T) {
	addr := startServer(t)
	client := ipc.NewClient(addr, 5*time.Second)

	if _, err := client.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	created, err := client.BeginStage1("file-1", "model-a")
	if err != nil {
		t.Fatalf("BeginStage1: %v", err)
	}
	if created.Stage1Status != task.StatusPending {
		t.Fatalf("stage1 status = %s, want pending", created.Stage1Status)
	}

	if _, err := client.MarkProcessing(created.ID, task.StageExtraction); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	completed, err := client.CompleteStage(created.ID, task.StageExtraction, "out.json")
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if completed.Stage1Output != "out.json" {
		t.Fatalf("stage1 output = %q", completed.Stage1Output)
	}

	if _, err := client.BeginStage2(created.ID); err != nil {
		t.Fatalf("BeginStage2: %v", err)
	}

	got, err := client.GetTask(created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Stage2Status != task.StatusPending {
		t.Fatalf("stage2 status = %s, want pending", got.Stage2Status)
	}

	tasks, err := client.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("tasks = %+v", tasks)
	}

	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestClientDecodesTypedFailures(t *testing.T) {
	addr := startServer(t)
	client := ipc.NewClient(addr, 5*time.Second)

	if _, err := client.BeginStage1("", "model-a"); !errors.Is(err, fault.ErrInvalidParams) {
		t.Fatalf("expected invalid_params, got %v", err)
	}
	if _, err := client.BeginStage2("no-such-task"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if _, err := client.MarkProcessing("whatever", task.Stage("stage9")); !errors.Is(err, fault.ErrInvalidParams) {
		t.Fatalf("expected invalid_params for bad stage, got %v", err)
	}
	if _, err := client.ResetStuck(0); !errors.Is(err, fault.ErrInvalidParams) {
		t.Fatalf("expected invalid_params for reset cutoff, got %v", err)
	}

	created, err := client.BeginStage1("file-1", "model-a")
	if err != nil {
		t.Fatalf("BeginStage1: %v", err)
	}
	if _, err := client.BeginStage2(created.ID); !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Fatalf("expected precondition_failed, got %v", err)
	}
	if _, err := client.MarkProcessing(created.ID, task.StageExtraction); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := client.MarkProcessing(created.ID, task.StageExtraction); !errors.Is(err, fault.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestClientSurfacesStoreUnavailable(t *testing.T) {
	// Grab a port that nothing is listening on anymore.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client := ipc.NewClient(addr, time.Second)
	_, err = client.Ping()
	if !errors.Is(err, fault.ErrStoreUnavailable) {
		t.Fatalf("expected store_unavailable, got %v", err)
	}
}

func TestCloseSeversIdleConnections(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	srv, err := ipc.NewServer(context.Background(), "127.0.0.1:0", st, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.Serve()

	// A client that connects and then never sends a request.
	idle, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer idle.Close()

	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on an idle connection")
	}

	_ = idle.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := idle.Read(buf); err == nil {
		t.Fatal("idle connection still open after Close")
	}
}

func TestClientRecoversAfterServerRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	srv, err := ipc.NewServer(context.Background(), "127.0.0.1:0", st, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.Serve()
	addr := srv.Addr()

	client := ipc.NewClient(addr, 2*time.Second)
	created, err := client.BeginStage1("file-1", "model-a")
	if err != nil {
		t.Fatalf("BeginStage1: %v", err)
	}

	srv.Close()
	if _, err := client.GetTask(created.ID); !errors.Is(err, fault.ErrStoreUnavailable) {
		t.Fatalf("expected store_unavailable while down, got %v", err)
	}

	restarted, err := ipc.NewServer(context.Background(), addr, st, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer restart: %v", err)
	}
	restarted.Serve()
	t.Cleanup(restarted.Close)

	got, err := client.GetTask(created.ID)
	if err != nil {
		t.Fatalf("GetTask after restart: %v", err)
	}
	if got.Stage1Status != task.StatusPending {
		t.Fatalf("stage1 status = %s, want pending", got.Stage1Status)
	}
}

package supervisor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"distill/internal/config"
	"distill/internal/fault"
	"distill/internal/logging"
	"distill/internal/supervisor"
	"distill/internal/testsupport"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func fileExists(path string) func(context.Context) error {
	return func(context.Context) error {
		_, err := os.Stat(path)
		return err
	}
}

func waitForState(t *testing.T, s *supervisor.Supervisor, want supervisor.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", s.State(), want)
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Supervisor.StartupTimeout = 2
	cfg.Supervisor.ShutdownGrace = 2
	return cfg
}

func TestChildrenStartInOrderAndStopInReverse(t *testing.T) {
	cfg := newTestConfig(t)
	dir := t.TempDir()
	stops := filepath.Join(dir, "stops.txt")

	storeReady := filepath.Join(dir, "store.ready")
	apiReady := filepath.Join(dir, "api.ready")

	// The second script refuses to come up unless the first is already
	// ready, so out-of-order startup would time out.
	storeScript := writeScript(t, dir, "store.sh",
		"trap 'echo store >> "+stops+"; exit 0' TERM\n"+
			"touch "+storeReady+"\n"+
			"while true; do sleep 0.1; done\n")
	apiScript := writeScript(t, dir, "api.sh",
		"trap 'echo api >> "+stops+"; exit 0' TERM\n"+
			"[ -f "+storeReady+" ] && touch "+apiReady+"\n"+
			"while true; do sleep 0.1; done\n")

	specs := []supervisor.ChildSpec{
		{Name: "store", Command: storeScript, Ready: fileExists(storeReady), StateAfterReady: supervisor.StateStoreReady},
		{Name: "api", Command: apiScript, Ready: fileExists(apiReady), StateAfterReady: supervisor.StateServicesUp},
	}

	s := supervisor.New(cfg, logging.NewNop(), specs)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForState(t, s, supervisor.StateMonitoring)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	data, err := os.ReadFile(stops)
	if err != nil {
		t.Fatalf("read stop order: %v", err)
	}
	order := strings.Fields(string(data))
	if len(order) != 2 || order[0] != "api" || order[1] != "store" {
		t.Fatalf("stop order = %v, want [api store]", order)
	}
}

func TestStartupTimeoutTerminatesFleet(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Supervisor.StartupTimeout = 1
	dir := t.TempDir()

	script := writeScript(t, dir, "never-ready.sh",
		"trap 'exit 0' TERM\nwhile true; do sleep 0.1; done\n")
	specs := []supervisor.ChildSpec{
		{Name: "store", Command: script, Ready: fileExists(filepath.Join(dir, "no-such-marker"))},
	}

	s := supervisor.New(cfg, logging.NewNop(), specs)
	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded, want startup timeout")
	}
	if !errors.Is(err, fault.ErrStartupTimeout) {
		t.Fatalf("err = %v, want startup_timeout", err)
	}
	if s.State() != supervisor.StateCrashed {
		t.Fatalf("state = %q, want crashed", s.State())
	}
}

func TestChildExitDuringStartupFailsFast(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Supervisor.StartupTimeout = 30
	dir := t.TempDir()

	script := writeScript(t, dir, "dies.sh", "exit 7\n")
	specs := []supervisor.ChildSpec{
		{Name: "store", Command: script, Ready: fileExists(filepath.Join(dir, "no-such-marker"))},
	}

	s := supervisor.New(cfg, logging.NewNop(), specs)
	start := time.Now()
	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded, want failure")
	}
	if !errors.Is(err, fault.ErrStartupTimeout) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "exited during startup") {
		t.Fatalf("err = %v, want early-exit detail", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("fail-fast took %s", elapsed)
	}
}

func TestChildCrashStopsRemainingChildren(t *testing.T) {
	cfg := newTestConfig(t)
	dir := t.TempDir()

	storeReady := filepath.Join(dir, "store.ready")
	apiReady := filepath.Join(dir, "api.ready")
	apiStopped := filepath.Join(dir, "api.stopped")

	storeScript := writeScript(t, dir, "store.sh",
		"touch "+storeReady+"\nsleep 1\nexit 3\n")
	apiScript := writeScript(t, dir, "api.sh",
		"trap 'touch "+apiStopped+"; exit 0' TERM\n"+
			"touch "+apiReady+"\n"+
			"while true; do sleep 0.1; done\n")

	specs := []supervisor.ChildSpec{
		{Name: "store", Command: storeScript, Ready: fileExists(storeReady), StateAfterReady: supervisor.StateStoreReady},
		{Name: "api", Command: apiScript, Ready: fileExists(apiReady), StateAfterReady: supervisor.StateServicesUp},
	}

	s := supervisor.New(cfg, logging.NewNop(), specs)
	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded, want crash error")
	}
	if !strings.Contains(err.Error(), "store") {
		t.Fatalf("err = %v, want crashed child name", err)
	}
	if s.State() != supervisor.StateCrashed {
		t.Fatalf("state = %q, want crashed", s.State())
	}
	if _, statErr := os.Stat(apiStopped); statErr != nil {
		t.Fatalf("surviving child was not terminated: %v", statErr)
	}
}

func TestSecondSupervisorRefusesToStart(t *testing.T) {
	cfg := newTestConfig(t)
	dir := t.TempDir()

	ready := filepath.Join(dir, "store.ready")
	script := writeScript(t, dir, "store.sh",
		"trap 'exit 0' TERM\ntouch "+ready+"\nwhile true; do sleep 0.1; done\n")
	specs := []supervisor.ChildSpec{
		{Name: "store", Command: script, Ready: fileExists(ready), StateAfterReady: supervisor.StateStoreReady},
	}

	first := supervisor.New(cfg, logging.NewNop(), specs)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- first.Run(ctx) }()
	waitForState(t, first, supervisor.StateMonitoring)

	second := supervisor.New(cfg, logging.NewNop(), specs)
	if err := second.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "another distill supervisor") {
		t.Fatalf("second Run err = %v, want lock refusal", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("first Run returned %v", err)
	}
}

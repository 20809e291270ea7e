package task

import (
	"testing"
	"time"
)

func TestParseStageStatus(t *testing.T) {
	cases := []struct {
		in   string
		want StageStatus
		ok   bool
	}{
		{"pending", StatusPending, true},
		{" Processing ", StatusProcessing, true},
		{"NOT_STARTED", StatusNotStarted, true},
		{"completed", StatusCompleted, true},
		{"failed", StatusFailed, true},
		{"", "", false},
		{"bogus", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseStageStatus(tc.in)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("ParseStageStatus(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestOverallStatus(t *testing.T) {
	cases := []struct {
		name string
		t    Task
		want StageStatus
	}{
		{"fresh", Task{Stage1Status: StatusPending, Stage2Status: StatusNotStarted}, StatusPending},
		{"extracting", Task{Stage1Status: StatusProcessing, Stage2Status: StatusNotStarted}, StatusProcessing},
		{"extracted", Task{Stage1Status: StatusCompleted, Stage2Status: StatusNotStarted}, StatusCompleted},
		{"report queued", Task{Stage1Status: StatusCompleted, Stage2Status: StatusPending}, StatusPending},
		{"reporting", Task{Stage1Status: StatusCompleted, Stage2Status: StatusProcessing}, StatusProcessing},
		{"done", Task{Stage1Status: StatusCompleted, Stage2Status: StatusCompleted}, StatusCompleted},
		{"stage1 failed", Task{Stage1Status: StatusFailed, Stage2Status: StatusNotStarted}, StatusFailed},
		{"stage2 failed", Task{Stage1Status: StatusCompleted, Stage2Status: StatusFailed}, StatusFailed},
	}
	for _, tc := range cases {
		if got := tc.t.OverallStatus(); got != tc.want {
			t.Errorf("%s: OverallStatus() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestCheckInvariants(t *testing.T) {
	good := Task{
		ID:           "t1",
		Stage1Status: StatusCompleted,
		Stage1Output: "out.json",
		Stage2Status: StatusProcessing,
	}
	if err := good.CheckInvariants(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	bad := []Task{
		{ID: "t2", Stage1Status: StatusCompleted, Stage2Status: StatusNotStarted},
		{ID: "t3", Stage1Status: StatusFailed, Stage1Output: "out", Stage1Error: "boom", Stage2Status: StatusNotStarted},
		{ID: "t4", Stage1Status: StatusPending, Stage1Error: "boom", Stage2Status: StatusNotStarted},
		{ID: "t5", Stage1Status: StatusPending, Stage2Status: StatusPending},
		{ID: "t6", Stage1Status: StatusNotStarted, Stage2Status: StatusNotStarted},
	}
	for _, tc := range bad {
		if err := tc.CheckInvariants(); err == nil {
			t.Errorf("task %s: expected invariant violation", tc.ID)
		}
	}
}

func TestStuckSince(t *testing.T) {
	now := time.Now()
	stuck := Task{Stage1Status: StatusProcessing, Stage2Status: StatusNotStarted, UpdatedAt: now.Add(-2 * time.Hour)}
	if !stuck.StuckSince(now.Add(-time.Hour)) {
		t.Fatal("old processing task should be stuck")
	}
	fresh := Task{Stage1Status: StatusProcessing, Stage2Status: StatusNotStarted, UpdatedAt: now}
	if fresh.StuckSince(now.Add(-time.Hour)) {
		t.Fatal("recent processing task should not be stuck")
	}
	done := Task{Stage1Status: StatusCompleted, Stage1Output: "o", Stage2Status: StatusNotStarted, UpdatedAt: now.Add(-2 * time.Hour)}
	if done.StuckSince(now.Add(-time.Hour)) {
		t.Fatal("terminal task should not be stuck")
	}
}

package task

import (
	"fmt"
	"strings"
	"time"
)

// StageStatus represents the lifecycle of a single analysis stage.
type StageStatus string

const (
	StatusNotStarted StageStatus = "not_started"
	StatusPending    StageStatus = "pending"
	StatusProcessing StageStatus = "processing"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

var allStatuses = []StageStatus{
	StatusNotStarted,
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[StageStatus]struct{} {
	set := make(map[StageStatus]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Stage identifies one of the two pipeline stages.
type Stage string

const (
	StageExtraction Stage = "stage1"
	StageReport     Stage = "stage2"
)

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	switch Stage(strings.ToLower(strings.TrimSpace(value))) {
	case StageExtraction:
		return StageExtraction, true
	case StageReport:
		return StageReport, true
	default:
		return "", false
	}
}

// ParseStageStatus converts a string into a known StageStatus.
func ParseStageStatus(value string) (StageStatus, bool) {
	normalized := StageStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// AllStatuses returns the ordered list of known stage statuses.
func AllStatuses() []StageStatus {
	cp := make([]StageStatus, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// IsTerminal reports whether a stage status is final for the current run.
// A failed stage can still be restarted by an explicit retry request.
func (s StageStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task represents one analysis task persisted by the store service.
//
// Stage output references and error messages are mutually exclusive: when a
// stage status is completed exactly the output reference is set, when it is
// failed exactly the error message is set, and both are empty otherwise. The
// store service enforces this by committing every transition as a single
// multi-field update.
type Task struct {
	ID           string
	SourceRef    string
	ModelName    string
	Stage1Status StageStatus
	Stage1Output string
	Stage1Error  string
	Stage2Status StageStatus
	Stage2Output string
	Stage2Error  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StatusFor returns the status of the given stage.
func (t *Task) StatusFor(stage Stage) StageStatus {
	if stage == StageReport {
		return t.Stage2Status
	}
	return t.Stage1Status
}

// OverallStatus collapses the two stage statuses into a single task-level
// status for presentation: a failure in either stage wins, then an in-flight
// stage, then report completion, otherwise the furthest pending stage.
func (t *Task) OverallStatus() StageStatus {
	if t.Stage1Status == StatusFailed || t.Stage2Status == StatusFailed {
		return StatusFailed
	}
	if t.Stage1Status == StatusProcessing || t.Stage2Status == StatusProcessing {
		return StatusProcessing
	}
	if t.Stage2Status == StatusCompleted {
		return StatusCompleted
	}
	if t.Stage2Status == StatusPending {
		return StatusPending
	}
	if t.Stage1Status == StatusCompleted {
		return StatusCompleted
	}
	return StatusPending
}

// IsProcessing reports whether either stage is currently in flight.
func (t *Task) IsProcessing() bool {
	return t.Stage1Status == StatusProcessing || t.Stage2Status == StatusProcessing
}

// StuckSince reports whether the task has been in a processing state without
// an update since before the cutoff. Used by the operator-triggered reset.
func (t *Task) StuckSince(cutoff time.Time) bool {
	return t.IsProcessing() && t.UpdatedAt.Before(cutoff)
}

// CheckInvariants verifies the stage field exclusivity rules and the stage-2
// gating rule. The store enforces these on every write; this check exists for
// tests and for defensive validation after decode.
func (t *Task) CheckInvariants() error {
	if err := checkStageFields(StageExtraction, t.Stage1Status, t.Stage1Output, t.Stage1Error); err != nil {
		return err
	}
	if err := checkStageFields(StageReport, t.Stage2Status, t.Stage2Output, t.Stage2Error); err != nil {
		return err
	}
	if t.Stage1Status == StatusNotStarted {
		return fmt.Errorf("task %s: extraction stage cannot be not_started", t.ID)
	}
	if t.Stage2Status != StatusNotStarted && t.Stage1Status != StatusCompleted {
		return fmt.Errorf("task %s: report stage %s requires completed extraction, have %s", t.ID, t.Stage2Status, t.Stage1Status)
	}
	return nil
}

func checkStageFields(stage Stage, status StageStatus, output, errMsg string) error {
	switch status {
	case StatusCompleted:
		if output == "" || errMsg != "" {
			return fmt.Errorf("%s completed requires output set and error empty", stage)
		}
	case StatusFailed:
		if errMsg == "" || output != "" {
			return fmt.Errorf("%s failed requires error set and output empty", stage)
		}
	default:
		if output != "" || errMsg != "" {
			return fmt.Errorf("%s %s requires both output and error empty", stage, status)
		}
	}
	return nil
}

// Summary is the status snapshot served to dashboards and the CLI.
type Summary struct {
	TaskID       string      `json:"task_id"`
	SourceRef    string      `json:"source_ref"`
	ModelName    string      `json:"model_name"`
	Stage1Status StageStatus `json:"stage1_status"`
	Stage1Error  string      `json:"stage1_error,omitempty"`
	Stage2Status StageStatus `json:"stage2_status"`
	Stage2Error  string      `json:"stage2_error,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Summarize builds the status snapshot for a task.
func (t *Task) Summarize() Summary {
	return Summary{
		TaskID:       t.ID,
		SourceRef:    t.SourceRef,
		ModelName:    t.ModelName,
		Stage1Status: t.Stage1Status,
		Stage1Error:  t.Stage1Error,
		Stage2Status: t.Stage2Status,
		Stage2Error:  t.Stage2Error,
		UpdatedAt:    t.UpdatedAt,
	}
}

// Stats aggregates task counts by overall status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Tally counts a task into the stats by its overall status.
func (s *Stats) Tally(t *Task) {
	s.Total++
	switch t.OverallStatus() {
	case StatusPending:
		s.Pending++
	case StatusProcessing:
		s.Processing++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	}
}

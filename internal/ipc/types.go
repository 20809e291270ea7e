package ipc

import (
	"time"

	"distill/internal/task"
)

// TaskView is the wire representation of a task.
type TaskView struct {
	ID           string    `json:"id"`
	SourceRef    string    `json:"source_ref"`
	ModelName    string    `json:"model_name"`
	Stage1Status string    `json:"stage1_status"`
	Stage1Output string    `json:"stage1_output,omitempty"`
	Stage1Error  string    `json:"stage1_error,omitempty"`
	Stage2Status string    `json:"stage2_status"`
	Stage2Output string    `json:"stage2_output,omitempty"`
	Stage2Error  string    `json:"stage2_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FromTask converts a task into its wire representation.
func FromTask(t *task.Task) TaskView {
	if t == nil {
		return TaskView{}
	}
	return TaskView{
		ID:           t.ID,
		SourceRef:    t.SourceRef,
		ModelName:    t.ModelName,
		Stage1Status: string(t.Stage1Status),
		Stage1Output: t.Stage1Output,
		Stage1Error:  t.Stage1Error,
		Stage2Status: string(t.Stage2Status),
		Stage2Output: t.Stage2Output,
		Stage2Error:  t.Stage2Error,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// ToTask converts a wire view back into a task.
func (v TaskView) ToTask() *task.Task {
	return &task.Task{
		ID:           v.ID,
		SourceRef:    v.SourceRef,
		ModelName:    v.ModelName,
		Stage1Status: task.StageStatus(v.Stage1Status),
		Stage1Output: v.Stage1Output,
		Stage1Error:  v.Stage1Error,
		Stage2Status: task.StageStatus(v.Stage2Status),
		Stage2Output: v.Stage2Output,
		Stage2Error:  v.Stage2Error,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

// PingRequest checks store liveness.
type PingRequest struct{}

// PingResponse reports the store endpoint identity.
type PingResponse struct {
	DatabasePath string `json:"database_path"`
}

// BeginStage1Request creates or resets the task for a source/model pair.
type BeginStage1Request struct {
	SourceRef string `json:"source_ref"`
	ModelName string `json:"model_name"`
}

// BeginStage2Request queues the report stage of an existing task.
type BeginStage2Request struct {
	TaskID string `json:"task_id"`
}

// StageRequest addresses one stage of one task.
type StageRequest struct {
	TaskID string `json:"task_id"`
	Stage  string `json:"stage"`
}

// CompleteStageRequest records a successful stage run.
type CompleteStageRequest struct {
	TaskID    string `json:"task_id"`
	Stage     string `json:"stage"`
	OutputRef string `json:"output_ref"`
}

// FailStageRequest records a failed stage run.
type FailStageRequest struct {
	TaskID  string `json:"task_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// GetTaskRequest fetches a task by identifier.
type GetTaskRequest struct {
	TaskID string `json:"task_id"`
}

// TaskResponse carries a single committed task state.
type TaskResponse struct {
	Task TaskView `json:"task"`
}

// ListTasksRequest fetches all tasks.
type ListTasksRequest struct{}

// ListTasksResponse carries the committed state of every task.
type ListTasksResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// StatsRequest fetches aggregate task counts.
type StatsRequest struct{}

// StatsResponse carries task counts by overall status.
type StatsResponse struct {
	Stats task.Stats `json:"stats"`
}

// ResetStuckRequest returns long-stuck processing stages to pending.
type ResetStuckRequest struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

// ResetStuckResponse reports how many stages were reset.
type ResetStuckResponse struct {
	Updated int64 `json:"updated"`
}

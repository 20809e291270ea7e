package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"distill/internal/fault"
	"distill/internal/task"
)

// maxErrorBytes caps persisted stage error messages so a runaway handler
// cannot bloat the database or status payloads.
const maxErrorBytes = 2000

// CreateOrResetStage1 creates a task for (source_ref, model_name) with the
// extraction stage pending, or resets the existing task for that pair back to
// a fresh pending extraction. A task with either stage in flight is not reset;
// the caller gets a conflict and must wait for the run to finish.
func (s *Store) CreateOrResetStage1(ctx context.Context, sourceRef, modelName string) (*task.Task, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	modelName = strings.TrimSpace(modelName)
	if sourceRef == "" {
		return nil, fault.Wrap(fault.ErrInvalidParams, "source_ref is required")
	}
	if modelName == "" {
		return nil, fault.Wrap(fault.ErrInvalidParams, "model_name is required")
	}

	existing, err := s.FindBySource(ctx, sourceRef, modelName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if existing == nil {
		id := uuid.NewString()
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO analysis_tasks (
                id, source_ref, model_name, stage1_status, stage2_status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id,
			sourceRef,
			modelName,
			task.StatusPending,
			task.StatusNotStarted,
			now,
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		return s.GetTask(ctx, id)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE analysis_tasks
         SET stage1_status = ?, stage1_output = '', stage1_error = '',
             stage2_status = ?, stage2_output = '', stage2_error = '',
             updated_at = ?
         WHERE id = ? AND stage1_status != ? AND stage2_status != ?`,
		task.StatusPending,
		task.StatusNotStarted,
		now,
		existing.ID,
		task.StatusProcessing,
		task.StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("reset task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fault.Wrapf(fault.ErrConflict, "task %s is processing", existing.ID)
	}
	return s.GetTask(ctx, existing.ID)
}

// BeginStage2 moves a task's report stage to pending. The extraction stage
// must have completed, and a report run must not already be queued or in
// flight. A previously failed report stage is cleared, so an explicit retry is
// just another begin request.
func (s *Store) BeginStage2(ctx context.Context, id string) (*task.Task, error) {
	if _, err := s.GetTask(ctx, id); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE analysis_tasks
         SET stage2_status = ?, stage2_output = '', stage2_error = '', updated_at = ?
         WHERE id = ? AND stage1_status = ? AND stage2_status NOT IN (?, ?)`,
		task.StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		task.StatusCompleted,
		task.StatusPending,
		task.StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("begin report stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.classifyStage2Refusal(ctx, id)
	}
	return s.GetTask(ctx, id)
}

func (s *Store) classifyStage2Refusal(ctx context.Context, id string) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Stage2Status == task.StatusPending || t.Stage2Status == task.StatusProcessing {
		return fault.Wrapf(fault.ErrConflict, "task %s report stage is %s", id, t.Stage2Status)
	}
	return fault.Wrapf(fault.ErrPreconditionFailed, "task %s extraction is %s, expected completed", id, t.Stage1Status)
}

// MarkProcessing claims a pending stage for execution. Exactly one caller wins
// when two runners race for the same stage; the loser's guarded update matches
// zero rows.
func (s *Store) MarkProcessing(ctx context.Context, id string, stage task.Stage) (*task.Task, error) {
	cols, err := stageCols(stage)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`UPDATE analysis_tasks
         SET %[1]s = ?, %[2]s = '', %[3]s = '', updated_at = ?
         WHERE id = ? AND %[1]s = ?`,
		cols.status, cols.output, cols.errMsg,
	)
	res, err := s.db.ExecContext(
		ctx,
		query,
		task.StatusProcessing,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		task.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.classifyStageRefusal(ctx, id, stage, task.StatusPending)
	}
	return s.GetTask(ctx, id)
}

// CompleteStage records a successful stage run, setting the output reference
// and clearing the error field in the same commit.
func (s *Store) CompleteStage(ctx context.Context, id string, stage task.Stage, outputRef string) (*task.Task, error) {
	outputRef = strings.TrimSpace(outputRef)
	if outputRef == "" {
		return nil, fault.Wrap(fault.ErrInvalidParams, "output_ref is required")
	}
	return s.finishStage(ctx, id, stage, task.StatusCompleted, outputRef, "")
}

// FailStage records a failed stage run, setting the error message and clearing
// the output field in the same commit. Messages are truncated to a bounded
// length.
func (s *Store) FailStage(ctx context.Context, id string, stage task.Stage, message string) (*task.Task, error) {
	message = truncateError(message)
	if message == "" {
		message = "stage failed"
	}
	return s.finishStage(ctx, id, stage, task.StatusFailed, "", message)
}

func (s *Store) finishStage(ctx context.Context, id string, stage task.Stage, status task.StageStatus, outputRef, errMsg string) (*task.Task, error) {
	cols, err := stageCols(stage)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`UPDATE analysis_tasks
         SET %[1]s = ?, %[2]s = ?, %[3]s = ?, updated_at = ?
         WHERE id = ? AND %[1]s = ?`,
		cols.status, cols.output, cols.errMsg,
	)
	res, err := s.db.ExecContext(
		ctx,
		query,
		status,
		outputRef,
		errMsg,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		task.StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("finish stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.classifyStageRefusal(ctx, id, stage, task.StatusProcessing)
	}
	return s.GetTask(ctx, id)
}

func (s *Store) classifyStageRefusal(ctx context.Context, id string, stage task.Stage, expected task.StageStatus) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	current := t.StatusFor(stage)
	if expected == task.StatusPending && current == task.StatusProcessing {
		return fault.Wrapf(fault.ErrConflict, "task %s %s is processing", id, stage)
	}
	return fault.Wrapf(fault.ErrPreconditionFailed, "task %s %s is %s, expected %s", id, stage, current, expected)
}

// ResetStuck returns stages that have been processing without an update since
// before the cutoff back to pending. This is operator-triggered; the services
// never reset a stuck stage on their own.
func (s *Store) ResetStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	cut := cutoff.UTC().Format(time.RFC3339Nano)

	var total int64
	for _, cols := range []stageColumns{stage1Cols, stage2Cols} {
		query := fmt.Sprintf(
			`UPDATE analysis_tasks
             SET %[1]s = ?, %[2]s = '', %[3]s = '', updated_at = ?
             WHERE %[1]s = ? AND updated_at < ?`,
			cols.status, cols.output, cols.errMsg,
		)
		res, err := s.db.ExecContext(ctx, query, task.StatusPending, now, task.StatusProcessing, cut)
		if err != nil {
			return total, fmt.Errorf("reset stuck stages: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

type stageColumns struct {
	status string
	output string
	errMsg string
}

var (
	stage1Cols = stageColumns{status: "stage1_status", output: "stage1_output", errMsg: "stage1_error"}
	stage2Cols = stageColumns{status: "stage2_status", output: "stage2_output", errMsg: "stage2_error"}
)

func stageCols(stage task.Stage) (stageColumns, error) {
	switch stage {
	case task.StageExtraction:
		return stage1Cols, nil
	case task.StageReport:
		return stage2Cols, nil
	default:
		return stageColumns{}, fault.Wrapf(fault.ErrInvalidParams, "unknown stage %q", string(stage))
	}
}

func truncateError(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxErrorBytes {
		return message
	}
	return strings.ToValidUTF8(message[:maxErrorBytes], "")
}

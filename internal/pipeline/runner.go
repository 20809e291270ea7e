package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"log/slog"

	"distill/internal/config"
	"distill/internal/fault"
	"distill/internal/ipc"
	"distill/internal/logging"
	"distill/internal/pushhub"
	"distill/internal/task"
)

// Runner schedules stage executions and owns their lifecycle transitions.
type Runner struct {
	cfg      *config.Config
	client   *ipc.Client
	resolver SourceResolver
	stage1   Stage1Handler
	stage2   Stage2Handler
	hub      *pushhub.Hub
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner constructs a runner over the given store client and handlers.
func NewRunner(cfg *config.Config, client *ipc.Client, resolver SourceResolver, stage1 Stage1Handler, stage2 Stage2Handler, hub *pushhub.Hub, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		stage1:   stage1,
		stage2:   stage2,
		hub:      hub,
		logger:   logging.WithComponent(logger, "pipeline"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop cancels in-flight handlers and waits for their transitions to settle.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// StartStage1 creates or resets the task for a source/model pair and schedules
// the extraction handler. The source reference must resolve before any task
// state is touched.
func (r *Runner) StartStage1(sourceRef, modelName string) (*task.Task, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = r.cfg.Analysis.DefaultModel
	}

	source, err := r.resolver.Resolve(sourceRef)
	if err != nil {
		return nil, fault.Wrapf(fault.ErrInvalidInput, "source_ref %q: %v", sourceRef, err)
	}

	t, err := r.client.BeginStage1(sourceRef, modelName)
	if err != nil {
		return nil, err
	}
	r.hub.Publish(t.ID)
	r.logger.Info("extraction queued",
		logging.String(logging.FieldTaskID, t.ID),
		logging.String("source_ref", sourceRef),
		logging.String("model", modelName),
		logging.String(logging.FieldEventType, "stage1_queued"))

	r.schedule(Request{TaskID: t.ID, SourceRef: sourceRef, Source: source, ModelName: modelName}, task.StageExtraction)
	return t, nil
}

// StartStage2 queues the report stage for an existing task and schedules the
// report handler. The store enforces the extraction-completed precondition and
// the one-run-at-a-time rule at commit time, so two racing starts resolve by
// true commit order.
func (r *Runner) StartStage2(taskID string) (*task.Task, error) {
	t, err := r.client.BeginStage2(strings.TrimSpace(taskID))
	if err != nil {
		return nil, err
	}
	r.hub.Publish(t.ID)
	r.logger.Info("report queued",
		logging.String(logging.FieldTaskID, t.ID),
		logging.String(logging.FieldEventType, "stage2_queued"))

	r.schedule(Request{
		TaskID:       t.ID,
		SourceRef:    t.SourceRef,
		ModelName:    t.ModelName,
		Stage1Output: t.Stage1Output,
	}, task.StageReport)
	return t, nil
}

// Status returns the committed summary of every task.
func (r *Runner) Status() ([]task.Summary, error) {
	tasks, err := r.client.ListTasks()
	if err != nil {
		return nil, err
	}
	summaries := make([]task.Summary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, t.Summarize())
	}
	return summaries, nil
}

// Stage1Output returns the extraction output reference for a task.
func (r *Runner) Stage1Output(taskID string) (string, error) {
	t, err := r.client.GetTask(strings.TrimSpace(taskID))
	if err != nil {
		return "", err
	}
	if t.Stage1Status != task.StatusCompleted {
		return "", fault.Wrapf(fault.ErrNotReady, "task %s extraction is %s", t.ID, t.Stage1Status)
	}
	return t.Stage1Output, nil
}

// Stats returns aggregate task counts.
func (r *Runner) Stats() (task.Stats, error) {
	return r.client.Stats()
}

// StuckCount reports how many tasks sit in processing past the operator-reset
// cutoff, for health reporting.
func (r *Runner) StuckCount() (int, error) {
	tasks, err := r.client.ListTasks()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-time.Duration(r.cfg.Pipeline.StuckResetMinutes) * time.Minute)
	stuck := 0
	for _, t := range tasks {
		if t.StuckSince(cutoff) {
			stuck++
		}
	}
	return stuck, nil
}

// ResetStuck returns stages stuck in processing beyond the configured cutoff
// back to pending. Reset stages are not rescheduled; each needs a new start
// request.
func (r *Runner) ResetStuck() (int64, error) {
	updated, err := r.client.ResetStuck(r.cfg.Pipeline.StuckResetMinutes)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		r.hub.Publish("")
	}
	return updated, nil
}

func (r *Runner) schedule(req Request, stage task.Stage) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runStage(req, stage)
	}()
}

func (r *Runner) runStage(req Request, stage task.Stage) {
	log := r.logger.With(
		logging.String(logging.FieldTaskID, req.TaskID),
		logging.String(logging.FieldStage, string(stage)))

	if _, err := r.client.MarkProcessing(req.TaskID, stage); err != nil {
		if errors.Is(err, fault.ErrConflict) || errors.Is(err, fault.ErrPreconditionFailed) {
			log.Debug("stage already claimed", logging.Error(err))
			return
		}
		log.Error("claim stage failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_claim_failed"),
			logging.String(logging.FieldImpact, "stage will not run"),
			logging.String(logging.FieldErrorHint, "check the store service, then start the stage again"))
		return
	}
	r.hub.Publish(req.TaskID)

	outputRef, handlerErr := r.invoke(req, stage)
	if handlerErr != nil {
		message := handlerErr.Error()
		if errors.Is(handlerErr, context.DeadlineExceeded) {
			message = "handler timed out after " + r.stageTimeout(stage).String()
		}
		if _, err := r.client.FailStage(req.TaskID, stage, message); err != nil {
			log.Error("record stage failure failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "stage_persist_failed"),
				logging.String(logging.FieldImpact, "task stays processing until an operator resets it"))
			return
		}
		log.Warn("stage failed",
			logging.String("reason", message),
			logging.String(logging.FieldEventType, "stage_failed"))
		r.hub.Publish(req.TaskID)
		return
	}

	if _, err := r.client.CompleteStage(req.TaskID, stage, outputRef); err != nil {
		log.Error("record stage completion failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_persist_failed"),
			logging.String(logging.FieldImpact, "task stays processing until an operator resets it"))
		return
	}
	log.Info("stage completed",
		logging.String("output_ref", outputRef),
		logging.String(logging.FieldEventType, "stage_completed"))
	r.hub.Publish(req.TaskID)
}

// invoke runs the stage handler under the runner-enforced timeout and converts
// panics into ordinary failures. The bound holds even when a handler ignores
// its context: the handler runs in its own goroutine, and on expiry the run is
// abandoned and the stage fails. A late result from an abandoned handler is
// discarded; a late CompleteStage could not commit anyway once the stage has
// left processing.
func (r *Runner) invoke(req Request, stage task.Stage) (string, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.stageTimeout(stage))
	defer cancel()

	type handlerResult struct {
		outputRef string
		err       error
	}
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- handlerResult{err: fault.Wrapf(fault.ErrInternal, "handler panic: %v", rec)}
			}
		}()
		var res handlerResult
		switch stage {
		case task.StageReport:
			res.outputRef, res.err = r.stage2.GenerateReport(ctx, req)
		default:
			res.outputRef, res.err = r.stage1.Extract(ctx, req)
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.outputRef, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Runner) stageTimeout(stage task.Stage) time.Duration {
	seconds := r.cfg.Pipeline.Stage1Timeout
	if stage == task.StageReport {
		seconds = r.cfg.Pipeline.Stage2Timeout
	}
	if seconds <= 0 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

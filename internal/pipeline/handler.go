package pipeline

import "context"

// Request carries everything a stage handler needs about its task.
type Request struct {
	TaskID    string
	SourceRef string
	// Source is the resolved location of SourceRef.
	Source    string
	ModelName string
	// Stage1Output is set for report-stage requests only.
	Stage1Output string
}

// Stage1Handler produces the extraction artifact for a source and returns its
// reference. The context carries the mandatory stage timeout; a handler that
// outlives it is failed.
type Stage1Handler interface {
	Extract(ctx context.Context, req Request) (string, error)
}

// Stage2Handler produces the report artifact from a completed extraction and
// returns its reference.
type Stage2Handler interface {
	GenerateReport(ctx context.Context, req Request) (string, error)
}

// SourceResolver checks that a source reference names real input before a
// task is created for it, and returns the resolved location.
type SourceResolver interface {
	Resolve(sourceRef string) (string, error)
}

// Package pipeline runs the two-stage analysis state machine. The runner
// accepts start requests, persists every transition through the store client,
// and executes stage handlers asynchronously under a mandatory timeout. A
// handler failure is captured into the task's error field; it never propagates
// as a process-level fault, and nothing is retried without a new explicit
// start request.
package pipeline

// Package task defines the analysis task model shared by the store service,
// the pipeline runner, and the presentation layers. A task carries two stage
// records (extraction, then report) whose statuses advance through a fixed
// lifecycle persisted by the store service.
package task

// Package analysis provides the stage handlers that do the actual media
// analysis work: an extractor that distills a source file into a JSON
// intermediate, and a reporter that renders that intermediate into an HTML
// report. Both can shell out to an external command when one is configured,
// and fall back to a built-in implementation when not.
package analysis

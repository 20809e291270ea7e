// Package main hosts the distill CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the api service: starting analysis stages, reading task
// status, fetching extraction output, watching the push channel, and
// configuration scaffolding. It centralizes configuration resolution and
// endpoint discovery so subcommands can focus on user experience instead of
// wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main

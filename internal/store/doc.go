// Package store persists analysis tasks in SQLite. The store service is the
// only process that opens the database for writing; every stage transition is
// a single guarded UPDATE whose WHERE clause re-checks the expected current
// status, so concurrent callers are serialized into commit order and a stale
// request fails its precondition instead of clobbering newer state.
package store

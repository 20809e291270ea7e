// Package ipc carries the action-dispatch protocol between the store service
// and its clients, as JSON-RPC over TCP. The action registry is closed: every
// action is a typed method on the Store service, and a request naming anything
// else is rejected rather than routed dynamically.
//
// Application failures travel as coded strings and are decoded back into the
// fault package's typed failures on the client side. Transport failures never
// reach that path; they always surface as fault.ErrStoreUnavailable so callers
// can tell "the store refused" from "the store is gone".
package ipc

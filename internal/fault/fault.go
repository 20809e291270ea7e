// Package fault defines the failure taxonomy shared by the store service, the
// store client, and the request-facing service. Failures are tagged with a
// sentinel marker whose text doubles as the wire code, so an error can cross
// the RPC boundary as a string and come back as the same typed failure.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidInput marks caller errors on the request-facing surface,
	// such as a source_ref that does not resolve.
	ErrInvalidInput = errors.New("invalid_input")
	// ErrInvalidParams marks malformed parameters on a store action.
	ErrInvalidParams = errors.New("invalid_params")
	// ErrUnknownAction marks a request naming an action outside the registry.
	ErrUnknownAction = errors.New("unknown_action")
	// ErrNotFound marks lookups of unknown tasks.
	ErrNotFound = errors.New("not_found")
	// ErrPreconditionFailed marks stage-ordering violations.
	ErrPreconditionFailed = errors.New("precondition_failed")
	// ErrConflict marks a start request racing an in-flight execution of the
	// same stage.
	ErrConflict = errors.New("conflict")
	// ErrNotReady marks reads of output that has not been produced yet.
	ErrNotReady = errors.New("not_ready")
	// ErrStoreUnavailable marks transport-level failures reaching the store
	// service. It is never produced by the store service itself, so callers
	// can retry on it without re-examining application state.
	ErrStoreUnavailable = errors.New("store_unavailable")
	// ErrInternal marks handler crashes surfaced by the store service.
	ErrInternal = errors.New("internal_error")
	// ErrStartupTimeout marks a child service that never signalled readiness.
	ErrStartupTimeout = errors.New("startup_timeout")
)

var markers = []error{
	ErrInvalidInput,
	ErrInvalidParams,
	ErrUnknownAction,
	ErrNotFound,
	ErrPreconditionFailed,
	ErrConflict,
	ErrNotReady,
	ErrStoreUnavailable,
	ErrInternal,
	ErrStartupTimeout,
}

// Wrap tags detail text with a marker. A nil marker defaults to ErrInternal.
func Wrap(marker error, detail string) error {
	if marker == nil {
		marker = ErrInternal
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return marker
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Wrapf tags a formatted detail with a marker.
func Wrapf(marker error, format string, args ...any) error {
	return Wrap(marker, fmt.Sprintf(format, args...))
}

// Code returns the wire code for err, or "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return marker.Error()
		}
	}
	return ErrInternal.Error()
}

// Detail strips the code prefix from err's message, leaving the human detail.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := Code(err) + ": "
	if strings.HasPrefix(msg, prefix) {
		return msg[len(prefix):]
	}
	return msg
}

// Decode reconstructs a typed failure from its wire form ("code: detail").
// Messages with an unrecognized prefix come back tagged ErrInternal so callers
// never mistake a remote application failure for a transport failure.
func Decode(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrInternal
	}
	for _, marker := range markers {
		code := marker.Error()
		if message == code {
			return marker
		}
		if strings.HasPrefix(message, code+": ") {
			return Wrap(marker, message[len(code)+2:])
		}
	}
	return Wrap(ErrInternal, message)
}

// HTTPStatus maps a failure to the status code the request-facing service
// returns for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

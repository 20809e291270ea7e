package fault_test

import (
	"errors"
	"net/http"
	"testing"

	"distill/internal/fault"
)

func TestWrapAndCode(t *testing.T) {
	err := fault.Wrapf(fault.ErrConflict, "stage %s already running", "stage1")
	if !errors.Is(err, fault.ErrConflict) {
		t.Fatalf("wrapped error lost its marker: %v", err)
	}
	if got := fault.Code(err); got != "conflict" {
		t.Fatalf("Code = %q, want conflict", got)
	}
	if got := fault.Detail(err); got != "stage stage1 already running" {
		t.Fatalf("Detail = %q", got)
	}
}

func TestCodeDefaultsToInternal(t *testing.T) {
	if got := fault.Code(errors.New("disk on fire")); got != "internal_error" {
		t.Fatalf("Code = %q, want internal_error", got)
	}
	if got := fault.Code(nil); got != "" {
		t.Fatalf("Code(nil) = %q", got)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	markers := []error{
		fault.ErrInvalidInput,
		fault.ErrInvalidParams,
		fault.ErrUnknownAction,
		fault.ErrNotFound,
		fault.ErrPreconditionFailed,
		fault.ErrConflict,
		fault.ErrNotReady,
		fault.ErrStoreUnavailable,
		fault.ErrInternal,
		fault.ErrStartupTimeout,
	}
	for _, marker := range markers {
		wire := fault.Wrap(marker, "some detail").Error()
		decoded := fault.Decode(wire)
		if !errors.Is(decoded, marker) {
			t.Fatalf("Decode(%q) lost marker %v", wire, marker)
		}
		if got := fault.Detail(decoded); got != "some detail" {
			t.Fatalf("Decode(%q) detail = %q", wire, got)
		}

		// Bare codes decode to the marker itself.
		if !errors.Is(fault.Decode(marker.Error()), marker) {
			t.Fatalf("bare code %q did not decode", marker.Error())
		}
	}
}

func TestDecodeUnknownMessageIsInternal(t *testing.T) {
	decoded := fault.Decode("unexpected EOF")
	if !errors.Is(decoded, fault.ErrInternal) {
		t.Fatalf("Decode = %v, want internal_error", decoded)
	}
	if errors.Is(decoded, fault.ErrStoreUnavailable) {
		t.Fatal("remote failure decoded as transport failure")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fault.ErrInvalidInput, http.StatusBadRequest},
		{fault.ErrInvalidParams, http.StatusBadRequest},
		{fault.ErrNotFound, http.StatusNotFound},
		{fault.ErrUnknownAction, http.StatusNotFound},
		{fault.ErrPreconditionFailed, http.StatusPreconditionFailed},
		{fault.ErrConflict, http.StatusConflict},
		{fault.ErrNotReady, http.StatusConflict},
		{fault.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{fault.ErrInternal, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := fault.HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NotFound("missing")); got != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected UNKNOWN for plain errors, got %s", got)
	}
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("handler: %w", Forbidden("nope"))
	if got := CodeOf(err); got != CodePermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED through wrapping, got %s", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Unavailable("store unreachable", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable via errors.Is")
	}
	if MessageOf(err) != "store unreachable" {
		t.Fatalf("expected message without cause, got %q", MessageOf(err))
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{InvalidArg("bad"), http.StatusBadRequest},
		{Unauthorized("who"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{AlreadyExists("dup"), http.StatusConflict},
		{Unavailable("down", nil), http.StatusServiceUnavailable},
		{Internal("boom"), http.StatusInternalServerError},
		{stderrors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

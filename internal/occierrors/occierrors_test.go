package occierrors

import (
	"errors"
	"testing"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Input("bad format", "", nil), 400},
		{Catalog("unknown script", "", nil), 404},
		{Dispatch("no workers", "", nil), 500},
		{Compute("script failed", "", nil), 404},
		{Cache("write failed", "", nil), 500},
		{Publish("name too short", "", nil), 400},
	}
	for _, c := range cases {
		if got := c.err.HTTPStatus(); got != c.want {
			t.Errorf("%s: got status %d, want %d", c.err.Kind, got, c.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Cache("write failed", "", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Input("bad value", "", errors.New("out of range"))
	if err.Error() == "" {
		t.Fatalf("expected non-empty message")
	}
}

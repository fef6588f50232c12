package status

import (
	"testing"

	"github.com/pkg/errors"
)

func TestKindOf(t *testing.T) {
	err := New(ParseFailed, "bad bytes")
	if KindOf(err) != ParseFailed {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if KindOf(nil) != OK {
		t.Fatalf("nil kind = %v", KindOf(nil))
	}
	if KindOf(errors.New("plain")) != SubstrateError {
		t.Fatalf("foreign error kind = %v", KindOf(errors.New("plain")))
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("root")
	err := Wrap(Conflict, cause, "commit")
	if KindOf(err) != Conflict {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if Wrap(Conflict, nil, "x") != nil {
		t.Fatalf("wrapping nil produced an error")
	}
}

func TestKindsThroughChains(t *testing.T) {
	inner := New(NotFound, "missing key")
	outer := Wrap(SubstrateError, inner, "outer")
	// outermost kind wins
	if KindOf(outer) != SubstrateError {
		t.Fatalf("outer kind = %v", KindOf(outer))
	}
	if !Is(inner, NotFound) {
		t.Fatalf("Is failed")
	}
}

func TestKindStrings(t *testing.T) {
	want := map[Kind]string{
		OK: "ok", InvalidArgument: "invalid_argument", ParseFailed: "parse_failed",
		NotFound: "not_found", Conflict: "conflict", OutOfMemory: "out_of_memory",
		SubstrateError: "substrate_error", Unsupported: "unsupported",
	}
	for k, s := range want {
		if k.String() != s {
			t.Fatalf("%d.String() = %q", k, k.String())
		}
	}
}

package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ardanlabs/unbg/sdk/errs"
)

func Test_Kinds(t *testing.T) {
	base := errors.New("boom")

	t.Run("wrapped kind survives context labels", func(t *testing.T) {
		err := fmt.Errorf("install: model[rmbg-1.4]: %w", errs.New(errs.Integrity, base))

		if !errs.IsKind(err, errs.Integrity) {
			t.Fatalf("expected integrity kind, got: %s", errs.KindOf(err))
		}

		if !errors.Is(err, base) {
			t.Fatal("expected the base error to be reachable")
		}
	})

	t.Run("plain errors are unknown", func(t *testing.T) {
		if k := errs.KindOf(base); k != errs.Unknown {
			t.Fatalf("expected unknown kind, got: %s", k)
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		if err := errs.New(errs.Execution, nil); err != nil {
			t.Fatalf("expected nil error, got: %v", err)
		}
	})

	t.Run("newf formats", func(t *testing.T) {
		err := errs.Newf(errs.Configuration, "missing credential for %s", "rmbg-2.0")
		if err.Error() != "missing credential for rmbg-2.0" {
			t.Fatalf("unexpected message: %s", err)
		}

		if errs.KindOf(err).String() != "configuration" {
			t.Fatalf("unexpected kind name: %s", errs.KindOf(err))
		}
	})
}

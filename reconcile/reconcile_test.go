package reconcile

import (
	"context"
	"testing"

	"netguardd/compiler"
	"netguardd/engine"
	cerrors "netguardd/errors"
)

func filters(keys ...string) []compiler.CompiledFilter {
	out := make([]compiler.CompiledFilter, 0, len(keys))
	for _, k := range keys {
		out = append(out, compiler.CompiledFilter{FilterKey: k, DisplayName: k})
	}
	return out
}

func TestCompute_AddsRemovesAndUnchanged(t *testing.T) {
	desired := filters("a", "b", "c")
	installed := []engine.ExistingFilter{
		{FilterKey: "b"},
		{FilterKey: "d"},
	}

	diff := Compute(desired, installed)

	if len(diff.ToAdd) != 2 {
		t.Fatalf("ToAdd = %+v; want 2 entries (a, c)", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].FilterKey != "d" {
		t.Fatalf("ToRemove = %+v; want [d]", diff.ToRemove)
	}
	if diff.UnchangedCount != 1 {
		t.Fatalf("UnchangedCount = %d; want 1", diff.UnchangedCount)
	}
}

func TestCompute_ToAddPreservesCompilerOutputOrder(t *testing.T) {
	desired := filters("z", "m", "a", "q")
	installed := []engine.ExistingFilter{{FilterKey: "m"}}

	diff := Compute(desired, installed)

	want := []string{"z", "a", "q"}
	if len(diff.ToAdd) != len(want) {
		t.Fatalf("ToAdd = %+v; want %d entries", diff.ToAdd, len(want))
	}
	for i, k := range want {
		if diff.ToAdd[i].FilterKey != k {
			t.Fatalf("ToAdd[%d] = %q; want %q (compiler output order must be preserved)", i, diff.ToAdd[i].FilterKey, k)
		}
	}
}

func TestCompute_EmptyDesiredRemovesEverything(t *testing.T) {
	installed := []engine.ExistingFilter{{FilterKey: "x"}, {FilterKey: "y"}}
	diff := Compute(nil, installed)

	if len(diff.ToAdd) != 0 {
		t.Fatalf("ToAdd = %+v; want none", diff.ToAdd)
	}
	if len(diff.ToRemove) != 2 {
		t.Fatalf("ToRemove = %+v; want both installed filters", diff.ToRemove)
	}
}

func TestApply_FirstApplyInstallsEverything(t *testing.T) {
	ctx := context.Background()
	a := engine.NewFakeAdapter()

	result, err := Apply(ctx, a, filters("a", "b"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.Committed {
		t.Fatal("expected first apply to commit")
	}
	if len(result.Diff.ToAdd) != 2 || len(result.Diff.ToRemove) != 0 {
		t.Fatalf("Diff = %+v; want 2 adds, 0 removes", result.Diff)
	}

	installed, err := a.EnumerateFilters(ctx)
	if err != nil {
		t.Fatalf("EnumerateFilters: %v", err)
	}
	if len(installed) != 2 {
		t.Fatalf("installed = %+v; want 2 filters", installed)
	}
}

func TestApply_RepeatedApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := engine.NewFakeAdapter()
	desired := filters("a", "b", "c")

	if _, err := Apply(ctx, a, desired); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	result, err := Apply(ctx, a, desired)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if result.Committed {
		t.Fatal("repeated apply with unchanged desired set should not open a transaction")
	}
	if len(result.Diff.ToAdd) != 0 || len(result.Diff.ToRemove) != 0 {
		t.Fatalf("Diff = %+v; want no changes on reapply", result.Diff)
	}
	if result.Diff.UnchangedCount != 3 {
		t.Fatalf("UnchangedCount = %d; want 3", result.Diff.UnchangedCount)
	}
}

func TestApply_ChangedDesiredSetAddsAndRemoves(t *testing.T) {
	ctx := context.Background()
	a := engine.NewFakeAdapter()

	if _, err := Apply(ctx, a, filters("a", "b")); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	result, err := Apply(ctx, a, filters("b", "c"))
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if len(result.Diff.ToAdd) != 1 || result.Diff.ToAdd[0].FilterKey != "c" {
		t.Fatalf("ToAdd = %+v; want [c]", result.Diff.ToAdd)
	}
	if len(result.Diff.ToRemove) != 1 || result.Diff.ToRemove[0].FilterKey != "a" {
		t.Fatalf("ToRemove = %+v; want [a]", result.Diff.ToRemove)
	}

	installed, err := a.EnumerateFilters(ctx)
	if err != nil {
		t.Fatalf("EnumerateFilters: %v", err)
	}
	got := map[string]bool{}
	for _, f := range installed {
		got[f.FilterKey] = true
	}
	if !got["b"] || !got["c"] || got["a"] {
		t.Fatalf("installed = %+v; want exactly {b, c}", installed)
	}
}

func TestApply_FailedFlushRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	a := engine.NewFakeAdapter()

	if _, err := Apply(ctx, a, filters("a", "b")); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	injected := cerrors.New(cerrors.KernelError, "flush", "simulated commit failure")
	a.FlushErr = injected

	_, err := Apply(ctx, a, filters("b", "c"))
	if err != injected {
		t.Fatalf("Apply() = %v; want injected flush error", err)
	}

	installed, err := a.EnumerateFilters(ctx)
	if err != nil {
		t.Fatalf("EnumerateFilters: %v", err)
	}
	got := map[string]bool{}
	for _, f := range installed {
		got[f.FilterKey] = true
	}
	if len(got) != 2 || !got["a"] || !got["b"] {
		t.Fatalf("installed after failed apply = %+v; want unchanged prior state {a, b}", installed)
	}

	// A subsequent apply with the same desired set as the failed attempt
	// should succeed cleanly now that FlushErr has been consumed.
	result, err := Apply(ctx, a, filters("b", "c"))
	if err != nil {
		t.Fatalf("retry Apply: %v", err)
	}
	if !result.Committed {
		t.Fatal("expected retry apply to commit")
	}
}

// Package reconcile computes the difference between a compiled policy's
// desired filter set and what is actually installed in the kernel, and
// drives that difference through a transaction scope so an apply either
// lands completely or leaves the prior installed state untouched.
package reconcile

import (
	"context"

	mapset "github.com/deckarep/golang-set"

	"netguardd/compiler"
	"netguardd/engine"
	"netguardd/txn"
)

// Diff is the three-way split between a desired filter set and the
// installed one, keyed by filter_key.
type Diff struct {
	ToAdd          []compiler.CompiledFilter
	ToRemove       []engine.ExistingFilter
	UnchangedCount int
}

// Compute produces the Diff needed to bring the installed set in line with
// desired. It never mutates anything; callers drive the result through
// Apply or their own transaction.
func Compute(desired []compiler.CompiledFilter, installed []engine.ExistingFilter) Diff {
	installedByKey := make(map[string]engine.ExistingFilter, len(installed))
	installedSet := mapset.NewThreadUnsafeSet()
	for _, f := range installed {
		installedByKey[f.FilterKey] = f
		installedSet.Add(f.FilterKey)
	}

	desiredSet := mapset.NewThreadUnsafeSet()
	for _, f := range desired {
		desiredSet.Add(f.FilterKey)
	}

	var diff Diff

	// to_add is built by walking desired in compiler output order (spec.md
	// §4.5), not by iterating a set — golang-set's iteration order is
	// unordered and would make filter installation order nondeterministic.
	for _, f := range desired {
		if !installedSet.Contains(f.FilterKey) {
			diff.ToAdd = append(diff.ToAdd, f)
		}
	}
	for key := range installedSet.Difference(desiredSet).Iter() {
		diff.ToRemove = append(diff.ToRemove, installedByKey[key.(string)])
	}
	diff.UnchangedCount = desiredSet.Intersect(installedSet).Cardinality()

	return diff
}

// Result is the outcome of a single Apply call.
type Result struct {
	Diff      Diff
	Committed bool
}

// Apply ensures the provider and sublayer exist, enumerates what is
// currently installed, computes the Diff against desired, and — if there is
// any change at all — drives every add/remove through a single transaction
// scope. An empty Diff is a no-op: no scope is opened, matching the
// idempotent-reapply property (repeating an apply with the same desired set
// changes nothing and reports zero adds/removes).
func Apply(ctx context.Context, adapter engine.Adapter, desired []compiler.CompiledFilter) (Result, error) {
	if err := ensureTopology(ctx, adapter); err != nil {
		return Result{}, err
	}

	installed, err := adapter.EnumerateFilters(ctx)
	if err != nil {
		return Result{}, err
	}

	diff := Compute(desired, installed)
	if len(diff.ToAdd) == 0 && len(diff.ToRemove) == 0 {
		return Result{Diff: diff, Committed: false}, nil
	}

	scope, err := txn.Begin(ctx, adapter)
	if err != nil {
		return Result{}, err
	}

	scopedAdapter, err := scope.Adapter()
	if err != nil {
		_ = scope.Abort()
		return Result{}, err
	}

	for _, f := range diff.ToRemove {
		if err := scopedAdapter.DeleteFilterByKey(ctx, f.FilterKey); err != nil {
			_ = scope.Abort()
			return Result{}, err
		}
	}
	for _, f := range diff.ToAdd {
		if _, err := scopedAdapter.AddFilter(ctx, f); err != nil {
			_ = scope.Abort()
			return Result{}, err
		}
	}

	if err := scope.Commit(); err != nil {
		return Result{Diff: diff, Committed: false}, err
	}

	return Result{Diff: diff, Committed: true}, nil
}

func ensureTopology(ctx context.Context, adapter engine.Adapter) error {
	if ok, err := adapter.ProviderExists(ctx); err != nil {
		return err
	} else if !ok {
		if err := adapter.ProviderAdd(ctx); err != nil {
			return err
		}
	}
	if ok, err := adapter.SublayerExists(ctx); err != nil {
		return err
	} else if !ok {
		if err := adapter.SublayerAdd(ctx); err != nil {
			return err
		}
	}
	return nil
}

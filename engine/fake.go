package engine

import (
	"context"

	"netguardd/compiler"
	cerrors "netguardd/errors"
)

type opKind int

const (
	opProviderAdd opKind = iota
	opProviderDelete
	opSublayerAdd
	opSublayerDelete
	opAddFilter
	opDeleteFilter
)

type pendingOp struct {
	kind   opKind
	filter compiler.CompiledFilter
	key    string
	handle uint64
}

// FakeAdapter is an in-memory Adapter used by reconciler and transaction
// tests so they never touch a real kernel filter table. It mirrors the
// batching behavior of the real nftables-backed adapter: mutating calls
// only queue a pending operation, and reads (ProviderExists, FilterExists,
// EnumerateFilters, ...) see the last-flushed state, not anything still
// pending. Only Flush makes pending operations visible; Abort of the
// transaction scope that queued them never calls Flush, so they're simply
// dropped, leaving the previously committed state untouched.
type FakeAdapter struct {
	providerExists bool
	sublayerExists bool
	filters        map[string]ExistingFilter
	nextHandle     uint64

	pending []pendingOp

	// FlushErr, when set, is returned by the next Flush call and then
	// cleared, letting tests exercise the abort-restores-prior-state path:
	// the pending queue is discarded without being applied.
	FlushErr error
}

// NewFakeAdapter returns a FakeAdapter with no provider, sublayer, or
// filters installed.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{filters: make(map[string]ExistingFilter)}
}

func (a *FakeAdapter) ProviderExists(ctx context.Context) (bool, error) { return a.providerExists, nil }

func (a *FakeAdapter) ProviderAdd(ctx context.Context) error {
	a.pending = append(a.pending, pendingOp{kind: opProviderAdd})
	return nil
}

func (a *FakeAdapter) ProviderDelete(ctx context.Context) error {
	a.pending = append(a.pending, pendingOp{kind: opProviderDelete})
	return nil
}

func (a *FakeAdapter) SublayerExists(ctx context.Context) (bool, error) { return a.sublayerExists, nil }

func (a *FakeAdapter) SublayerAdd(ctx context.Context) error {
	a.pending = append(a.pending, pendingOp{kind: opSublayerAdd})
	return nil
}

func (a *FakeAdapter) SublayerDelete(ctx context.Context) error {
	if len(a.filters) > 0 {
		return cerrors.ErrSublayerInUse
	}
	a.pending = append(a.pending, pendingOp{kind: opSublayerDelete})
	return nil
}

func (a *FakeAdapter) EnumerateFilters(ctx context.Context) ([]ExistingFilter, error) {
	out := make([]ExistingFilter, 0, len(a.filters))
	for _, f := range a.filters {
		out = append(out, f)
	}
	return out, nil
}

func (a *FakeAdapter) AddFilter(ctx context.Context, f compiler.CompiledFilter) (uint64, error) {
	a.nextHandle++
	handle := a.nextHandle
	a.pending = append(a.pending, pendingOp{kind: opAddFilter, filter: f, handle: handle})
	return handle, nil
}

func (a *FakeAdapter) DeleteFilterByKey(ctx context.Context, filterKey string) error {
	a.pending = append(a.pending, pendingOp{kind: opDeleteFilter, key: filterKey})
	return nil
}

func (a *FakeAdapter) FilterExists(ctx context.Context, filterKey string) (bool, error) {
	_, ok := a.filters[filterKey]
	return ok, nil
}

// Flush applies every queued operation atomically, in order. If FlushErr is
// set, nothing is applied, the pending queue is discarded (mirroring a
// kernel-rejected batch leaving prior state intact), and the error is
// returned once.
func (a *FakeAdapter) Flush() error {
	if a.FlushErr != nil {
		err := a.FlushErr
		a.FlushErr = nil
		a.pending = nil
		return err
	}

	for _, op := range a.pending {
		switch op.kind {
		case opProviderAdd:
			a.providerExists = true
		case opProviderDelete:
			a.providerExists = false
			a.sublayerExists = false
			a.filters = make(map[string]ExistingFilter)
		case opSublayerAdd:
			a.providerExists = true
			a.sublayerExists = true
		case opSublayerDelete:
			a.sublayerExists = false
		case opAddFilter:
			a.filters[op.filter.FilterKey] = ExistingFilter{
				FilterKey:   op.filter.FilterKey,
				RuntimeID:   op.handle,
				DisplayName: op.filter.DisplayName,
			}
		case opDeleteFilter:
			delete(a.filters, op.key)
		}
	}
	a.pending = nil
	return nil
}

var _ Adapter = (*FakeAdapter)(nil)

// Package txn provides a scoped transaction wrapper over an engine.Adapter's
// batch lifecycle: one open scope at a time, owned by a single goroutine,
// closing exactly once — either Commit or Abort, never both, never neither
// left pending.
//
// The discipline is the same one utils.SyncPipe/Fifo used in the original
// tree for parent/child handoff: a resource is opened, signaled or waited on
// exactly once, and closed exactly once regardless of which path finished
// it. Here the "signal" is Commit (flush the batch) or Abort (drop it
// unflushed), and the "open resource" is the adapter's pending batch.
package txn

import (
	"context"
	"runtime"
	"sync"

	"netguardd/engine"
	cerrors "netguardd/errors"
)

// state is the scope's lifecycle stage.
type state int32

const (
	stateOpen state = iota
	stateCommitted
	stateAborted
)

// Scope is a single logical unit of kernel-filter mutation: some sequence of
// AddFilter/DeleteFilterByKey/Sublayer/Provider calls against one adapter,
// finalized by exactly one Commit or Abort call. A Scope is not safe for use
// from more than one goroutine, and at most one Scope may be open against a
// given adapter at a time.
type Scope struct {
	adapter engine.Adapter
	ownerID string

	mu sync.Mutex
	st state
}

var (
	openMu   sync.Mutex
	openByAd = make(map[engine.Adapter]*Scope)
)

// Begin opens a new transaction scope against adapter. It fails with
// ErrNestedScope if a scope is already open against the same adapter; the
// caller must Commit or Abort the existing one first.
func Begin(ctx context.Context, adapter engine.Adapter) (*Scope, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if _, exists := openByAd[adapter]; exists {
		return nil, cerrors.ErrNestedScope
	}

	s := &Scope{
		adapter: adapter,
		ownerID: goroutineID(),
		st:      stateOpen,
	}
	openByAd[adapter] = s
	return s, nil
}

// Adapter returns the underlying adapter, for issuing AddFilter/
// DeleteFilterByKey/Sublayer/Provider calls within the scope.
func (s *Scope) Adapter() (engine.Adapter, error) {
	if err := s.checkOwner(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateOpen {
		return nil, cerrors.ErrScopeClosed
	}
	return s.adapter, nil
}

// Commit flushes every call issued against the scope's adapter as one
// atomic batch. If the flush fails, the scope finalizes to aborted — a
// failed commit is itself a form of abort, never a half-applied state — and
// the flush error is returned. A second Commit or Abort call after either
// outcome returns ErrScopeClosed.
func (s *Scope) Commit() error {
	if err := s.checkOwner(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateOpen {
		return cerrors.ErrScopeClosed
	}

	err := s.adapter.Flush()
	if err != nil {
		s.st = stateAborted
		s.release()
		return err
	}
	s.st = stateCommitted
	s.release()
	return nil
}

// Abort discards the scope without flushing. Safe to call on an already
// committed or aborted scope only in the sense that it reports
// ErrScopeClosed rather than panicking; it never un-commits a commit that
// already happened.
func (s *Scope) Abort() error {
	if err := s.checkOwner(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateOpen {
		return cerrors.ErrScopeClosed
	}
	s.st = stateAborted
	s.release()
	return nil
}

// release removes this scope from the open-scope registry so a new Begin
// against the same adapter can succeed. Caller must hold s.mu.
func (s *Scope) release() {
	openMu.Lock()
	defer openMu.Unlock()
	if openByAd[s.adapter] == s {
		delete(openByAd, s.adapter)
	}
}

func (s *Scope) checkOwner() error {
	if s.ownerID != goroutineID() {
		return cerrors.ErrCrossGoroutineScope
	}
	return nil
}

// goroutineID extracts the calling goroutine's numeric id from its stack
// trace header ("goroutine 123 [running]:"). It exists only to catch a
// Scope being Commit/Abort'd from a different goroutine than created it;
// nothing here depends on the id's value beyond equality.
func goroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// Skip the "goroutine " prefix.
	const prefix = "goroutine "
	if len(b) > len(prefix) {
		b = b[len(prefix):]
	}
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	return string(b[:i])
}

package ipc

import (
	"context"
	"testing"
	"time"

	"netguardd/audit"
	cerrors "netguardd/errors"
	"netguardd/policy"
	"netguardd/watch"
)

// fakeHandlers is a hand-written capability set standing in for the
// lifecycle orchestrator, the substitutable-capability pattern this wire
// layer is built around instead of an interface-mocking framework.
type fakeHandlers struct {
	pingVersion string
	journal     uint64

	validateErrs []policy.ValidationError

	applyResult ApplyResult
	applyErrs   []policy.ValidationError
	applyErr    error

	rollbackResult RollbackResult
	rollbackErr    error

	teardownErr error

	watchSetErr     error
	watchInitialErr error
	watchStatus     watch.Status
	lkgInfo         LKGInfo
	lkgErr          error

	gotTail int
}

func (f *fakeHandlers) Ping(ctx context.Context) (string, uint64) {
	return f.pingVersion, f.journal
}

func (f *fakeHandlers) Validate(ctx context.Context, raw []byte) (*policy.Policy, []policy.ValidationError) {
	return nil, f.validateErrs
}

func (f *fakeHandlers) ApplyPath(ctx context.Context, path string) (ApplyResult, []policy.ValidationError, error) {
	return f.applyResult, f.applyErrs, f.applyErr
}

func (f *fakeHandlers) ApplyBytes(ctx context.Context, raw []byte) (ApplyResult, []policy.ValidationError, error) {
	return f.applyResult, f.applyErrs, f.applyErr
}

func (f *fakeHandlers) Rollback(ctx context.Context) (RollbackResult, error) {
	return f.rollbackResult, f.rollbackErr
}

func (f *fakeHandlers) Teardown(ctx context.Context) (RollbackResult, error) {
	return f.rollbackResult, f.teardownErr
}

func (f *fakeHandlers) RevertLKG(ctx context.Context) (ApplyResult, []policy.ValidationError, error) {
	return f.applyResult, f.applyErrs, f.applyErr
}

func (f *fakeHandlers) WatchSet(ctx context.Context, path string) (error, error) {
	return f.watchInitialErr, f.watchSetErr
}

func (f *fakeHandlers) WatchStatus(ctx context.Context) watch.Status {
	return f.watchStatus
}

func (f *fakeHandlers) GetLKG(ctx context.Context, includeBody bool) (LKGInfo, error) {
	return f.lkgInfo, f.lkgErr
}

func (f *fakeHandlers) GetLogs(ctx context.Context, tail int, sinceMinutes *int) ([]audit.Event, error) {
	f.gotTail = tail
	return nil, nil
}

var _ Handlers = (*fakeHandlers)(nil)

func newTestServer(h Handlers) *Server {
	return NewServer(Config{MaxFrameBytes: 1 << 20}, h)
}

func TestDispatchPing(t *testing.T) {
	s := newTestServer(&fakeHandlers{pingVersion: "1.0.0", journal: 2})
	r := s.dispatch(context.Background(), []byte(`{"type":"ping"}`))
	if !r.OK || r.Version != "1.0.0" || r.JournalFailed != 2 {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	s := newTestServer(&fakeHandlers{})
	r := s.dispatch(context.Background(), []byte(`{"type":"nonsense"}`))
	if r.OK || r.ErrorCode != cerrors.InvalidArgument.String() {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestDispatchMalformedJSON(t *testing.T) {
	s := newTestServer(&fakeHandlers{})
	r := s.dispatch(context.Background(), []byte(`{not json`))
	if r.OK {
		t.Fatal("expected malformed JSON to fail")
	}
}

func TestDispatchValidateFailurePassesThroughErrors(t *testing.T) {
	s := newTestServer(&fakeHandlers{validateErrs: []policy.ValidationError{{Path: "version", Message: "bad"}}})
	r := s.dispatch(context.Background(), []byte(`{"type":"validate","policy":"{}"}`))
	if r.OK {
		t.Fatal("expected validate to fail")
	}
	if len(r.Errors) != 1 || r.Errors[0].Path != "version" {
		t.Fatalf("expected validation errors on the wire, got %+v", r.Errors)
	}
}

func TestDispatchApplyMissingPath(t *testing.T) {
	s := newTestServer(&fakeHandlers{})
	r := s.dispatch(context.Background(), []byte(`{"type":"apply"}`))
	if r.OK || r.ErrorCode != cerrors.InvalidArgument.String() {
		t.Fatalf("expected policy_path-required error, got %+v", r)
	}
}

func TestDispatchApplySuccess(t *testing.T) {
	h := &fakeHandlers{applyResult: ApplyResult{FiltersCreated: 2, PolicyVersion: "1.0.0"}}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"apply","policy_path":"/tmp/p.json"}`))
	if !r.OK || r.FiltersCreated != 2 || r.PolicyVersion != "1.0.0" {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestDispatchApplyFailureCarriesValidationErrors(t *testing.T) {
	h := &fakeHandlers{
		applyErrs: []policy.ValidationError{{Path: "rules[0].id", Message: "empty"}},
		applyErr:  policy.Err([]policy.ValidationError{{Path: "rules[0].id", Message: "empty"}}),
	}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"apply_bytes","policy":"{}"}`))
	if r.OK {
		t.Fatal("expected apply_bytes to fail")
	}
	if len(r.Errors) != 1 {
		t.Fatalf("expected validation errors attached, got %+v", r.Errors)
	}
}

func TestDispatchRollback(t *testing.T) {
	h := &fakeHandlers{rollbackResult: RollbackResult{FiltersRemoved: 4}}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"rollback"}`))
	if !r.OK || r.FiltersRemoved != 4 {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestDispatchTeardownError(t *testing.T) {
	h := &fakeHandlers{teardownErr: cerrors.ErrMutatorBusy}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"teardown"}`))
	if r.OK || r.ErrorCode != cerrors.Busy.String() {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestDispatchWatchSetNullClears(t *testing.T) {
	h := &fakeHandlers{}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"watch_set","path":null}`))
	if !r.OK {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestDispatchWatchSetInvalidPathType(t *testing.T) {
	h := &fakeHandlers{}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"watch_set","path":42}`))
	if r.OK {
		t.Fatal("expected a non-string, non-null path to be rejected")
	}
}

func TestDispatchWatchStatus(t *testing.T) {
	h := &fakeHandlers{watchStatus: watch.Status{Watching: true, Path: "/etc/p.json", ApplyCount: 3}}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"watch_status"}`))
	if !r.OK || !r.Watching || r.WatchPath != "/etc/p.json" || r.ApplyCount != 3 {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestDispatchGetLKGIncludesSavedAtOnlyWhenSet(t *testing.T) {
	h := &fakeHandlers{lkgInfo: LKGInfo{Exists: true, Version: "1.0.0", RuleCount: 2}}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"get_lkg"}`))
	if !r.OK || !r.LKGExists || r.LKGSavedAt != nil {
		t.Fatalf("unexpected reply: %+v", r)
	}

	h.lkgInfo.SavedAt = time.Now()
	r2 := s.dispatch(context.Background(), []byte(`{"type":"get_lkg"}`))
	if r2.LKGSavedAt == nil {
		t.Fatal("expected saved_at to be populated once SavedAt is non-zero")
	}
}

func TestDispatchGetLogsDefaultsTail(t *testing.T) {
	h := &fakeHandlers{}
	s := newTestServer(h)
	r := s.dispatch(context.Background(), []byte(`{"type":"get_logs"}`))
	if !r.OK {
		t.Fatalf("unexpected reply: %+v", r)
	}
	if h.gotTail != 50 {
		t.Fatalf("tail passed to GetLogs = %d, want default 50", h.gotTail)
	}
}

func TestSerializedTypesMatchesSpecSet(t *testing.T) {
	want := map[string]bool{
		TypeApply: true, TypeApplyBytes: true, TypeRollback: true,
		TypeTeardown: true, TypeRevertLKG: true, TypeWatchSet: true,
	}
	for typ := range want {
		if !SerializedTypes[typ] {
			t.Errorf("expected %q to be marked serialized", typ)
		}
	}
	for typ, v := range SerializedTypes {
		if v && !want[typ] {
			t.Errorf("unexpected serialized type %q", typ)
		}
	}
}

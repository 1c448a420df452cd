// Package lifecycle sequences startup and shutdown and implements
// ipc.Handlers: it is the one place that wires the validator, compiler,
// reconciler, LKG store, audit journal, and hot-reload watcher into the
// single apply pipeline every trigger (IPC request, hot-reload, startup,
// LKG revert) drives.
//
// Startup/shutdown sequencing follows the teacher's cmd/root.go
// GetContext() signal-aware context plus container.Load/New's fail-soft
// error handling: a missing or corrupt LKG is logged and the service
// starts with zero filters enforced (I7, fail-open) rather than refusing
// to start.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"netguardd/audit"
	"netguardd/compiler"
	"netguardd/config"
	cerrors "netguardd/errors"
	"netguardd/engine"
	"netguardd/ipc"
	"netguardd/lkg"
	"netguardd/logging"
	"netguardd/mutator"
	"netguardd/policy"
	"netguardd/reconcile"
	"netguardd/watch"
)

// Version is the daemon's reported version, surfaced via `ping` and
// `apply`'s policy_version echo is independent of this — this is the
// netguardd binary version, not the policy document's.
const Version = "1.0.0"

// Orchestrator is the lifecycle owner: one adapter handle, one mutator
// lock, one journal, one watcher, for the life of the process.
type Orchestrator struct {
	cfg     config.Config
	fs      afero.Fs
	adapter engine.Adapter
	journal *audit.Journal
	lock    *mutator.Lock
	watcher *watch.Watcher
}

// New constructs an Orchestrator. adapter may be nil if the filter engine
// could not be opened at startup (fail-open); operations that need it then
// report ErrEngineUnavailable instead of panicking.
func New(cfg config.Config, fs afero.Fs, adapter engine.Adapter) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		fs:      fs,
		adapter: adapter,
		journal: audit.New(fs, cfg.DataDir),
		lock:    mutator.New(),
	}
	o.watcher = watch.New(o.watchApply, cfg.HotReloadDebounce.Duration)
	return o
}

// Startup runs the sequence from spec.md §4.9: the adapter is assumed
// already opened (or nil) by the caller; Startup loads the LKG and, if
// valid, applies it tagged "startup". A missing or corrupt LKG is audited
// and the service starts unfiltered rather than refusing to run.
func (o *Orchestrator) Startup(ctx context.Context) {
	o.journal.Started("startup", "startup")

	if o.adapter == nil {
		o.journal.Finished("startup", "startup", "failure", cerrors.ErrEngineUnavailable, nil)
		logging.Warn("startup: filter engine unavailable, remaining unfiltered")
		return
	}

	p, err := lkg.Load(o.fs, o.cfg.DataDir)
	if err != nil {
		o.journal.Finished("startup", "startup", "failure", err, map[string]string{"lkg": "corrupt-or-missing"})
		logging.Info("startup: no usable last-known-good policy, remaining unfiltered")
		return
	}

	raw, merr := policyJSON(p)
	if merr != nil {
		o.journal.Finished("startup", "startup", "failure", merr, nil)
		return
	}

	if _, _, err := o.applyPipeline(ctx, raw, "startup", ""); err != nil {
		o.journal.Finished("startup", "startup", "failure", err, nil)
		logging.Error("startup: applying last-known-good policy failed", "error", err)
		return
	}
	o.journal.Finished("startup", "startup", "success", nil, nil)
}

// Shutdown stops the watcher. It does not drain the IPC server (the caller
// closes that separately), and it deliberately never touches installed
// filters (spec.md §4.9: only explicit teardown or
// external uninstall does that).
func (o *Orchestrator) Shutdown(ctx context.Context) {
	_ = o.watcher.SetPath(ctx, "")
}

// --- ipc.Handlers ---

func (o *Orchestrator) Ping(ctx context.Context) (string, uint64) {
	return Version, o.journal.FailedCount()
}

func (o *Orchestrator) Validate(ctx context.Context, raw []byte) (*policy.Policy, []policy.ValidationError) {
	return policy.Validate(raw)
}

func (o *Orchestrator) ApplyPath(ctx context.Context, path string) (ipc.ApplyResult, []policy.ValidationError, error) {
	raw, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return ipc.ApplyResult{}, nil, cerrors.Wrap(err, cerrors.IoError, "apply: read policy file")
	}
	return o.applyPipeline(ctx, raw, "ipc", path)
}

func (o *Orchestrator) ApplyBytes(ctx context.Context, raw []byte) (ipc.ApplyResult, []policy.ValidationError, error) {
	return o.applyPipeline(ctx, raw, "ipc", "")
}

func (o *Orchestrator) RevertLKG(ctx context.Context) (ipc.ApplyResult, []policy.ValidationError, error) {
	p, err := lkg.Load(o.fs, o.cfg.DataDir)
	if err != nil {
		return ipc.ApplyResult{}, nil, err
	}
	raw, err := policyJSON(p)
	if err != nil {
		return ipc.ApplyResult{}, nil, err
	}
	return o.applyPipeline(ctx, raw, "lkg-revert", "")
}

func (o *Orchestrator) Rollback(ctx context.Context) (ipc.RollbackResult, error) {
	if !o.lock.TryAcquire(ctx, o.cfg.MutatorLockTimeout.Duration) {
		return ipc.RollbackResult{}, cerrors.ErrMutatorBusy
	}
	defer o.lock.Release()

	o.journal.Started("rollback", "ipc")
	if o.adapter == nil {
		err := cerrors.ErrEngineUnavailable
		o.journal.Finished("rollback", "ipc", "failure", err, nil)
		return ipc.RollbackResult{}, err
	}

	res, err := reconcile.Apply(ctx, o.adapter, nil)
	if err != nil {
		o.journal.Finished("rollback", "ipc", "failure", err, nil)
		return ipc.RollbackResult{}, err
	}
	o.journal.Finished("rollback", "ipc", "success", nil, map[string]int{"filters_removed": len(res.Diff.ToRemove)})
	return ipc.RollbackResult{FiltersRemoved: len(res.Diff.ToRemove)}, nil
}

func (o *Orchestrator) Teardown(ctx context.Context) (ipc.RollbackResult, error) {
	if !o.lock.TryAcquire(ctx, o.cfg.MutatorLockTimeout.Duration) {
		return ipc.RollbackResult{}, cerrors.ErrMutatorBusy
	}
	defer o.lock.Release()

	o.journal.Started("teardown", "ipc")
	if o.adapter == nil {
		err := cerrors.ErrEngineUnavailable
		o.journal.Finished("teardown", "ipc", "failure", err, nil)
		return ipc.RollbackResult{}, err
	}

	res, err := reconcile.Apply(ctx, o.adapter, nil)
	if err != nil {
		o.journal.Finished("teardown", "ipc", "failure", err, nil)
		return ipc.RollbackResult{}, err
	}

	if err := o.adapter.SublayerDelete(ctx); err != nil {
		o.journal.Finished("teardown", "ipc", "failure", err, nil)
		return ipc.RollbackResult{}, err
	}
	if err := o.adapter.ProviderDelete(ctx); err != nil {
		o.journal.Finished("teardown", "ipc", "failure", err, nil)
		return ipc.RollbackResult{}, err
	}
	if err := o.adapter.Flush(); err != nil {
		o.journal.Finished("teardown", "ipc", "failure", err, nil)
		return ipc.RollbackResult{}, err
	}

	o.journal.Finished("teardown", "ipc", "success", nil, map[string]int{"filters_removed": len(res.Diff.ToRemove)})
	return ipc.RollbackResult{FiltersRemoved: len(res.Diff.ToRemove)}, nil
}

func (o *Orchestrator) WatchSet(ctx context.Context, path string) (error, error) {
	if path == "" {
		return nil, o.watcher.SetPath(ctx, "")
	}
	initialErr := o.watcher.SetPath(ctx, path)
	return initialErr, nil
}

func (o *Orchestrator) WatchStatus(ctx context.Context) watch.Status {
	return o.watcher.Status()
}

func (o *Orchestrator) GetLKG(ctx context.Context, includeBody bool) (ipc.LKGInfo, error) {
	meta := lkg.Stat(o.fs, o.cfg.DataDir)
	info := ipc.LKGInfo{
		Exists:    meta.Exists,
		Corrupt:   meta.Corrupt,
		Version:   meta.Version,
		RuleCount: meta.RuleCount,
		SavedAt:   meta.SavedAt,
	}
	if includeBody && meta.Exists && !meta.Corrupt {
		raw, err := lkg.RawPolicyJSON(o.fs, o.cfg.DataDir)
		if err == nil {
			info.PolicyRaw = string(raw)
		}
	}
	return info, nil
}

func (o *Orchestrator) GetLogs(ctx context.Context, tail int, sinceMinutes *int) ([]audit.Event, error) {
	if sinceMinutes != nil {
		cutoff := time.Now().Add(-time.Duration(*sinceMinutes) * time.Minute)
		return audit.Since(o.fs, o.cfg.DataDir, cutoff)
	}
	return audit.Tail(o.fs, o.cfg.DataDir, tail)
}

// --- pipeline ---

// watchApply is the ApplyFunc passed to the watcher: every watch-triggered
// apply (the enable-time initial one and every subsequent debounced one)
// acquires the mutator lock itself, since none of them run inside an IPC
// dispatch that already holds it.
func (o *Orchestrator) watchApply(ctx context.Context, path string, source string) error {
	raw, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return cerrors.Wrap(err, cerrors.IoError, "hot-reload: read policy file")
	}
	_, _, err = o.applyPipeline(ctx, raw, source, path)
	return err
}

// applyPipeline is the one path every trigger funnels through: validate,
// compile, reconcile, persist LKG, audit. It acquires the mutator lock
// itself (I4) so IPC-triggered and watch-triggered applies serialize
// against the exact same lock.
func (o *Orchestrator) applyPipeline(ctx context.Context, raw []byte, source string, sourcePath string) (ipc.ApplyResult, []policy.ValidationError, error) {
	if !o.lock.TryAcquire(ctx, o.cfg.MutatorLockTimeout.Duration) {
		return ipc.ApplyResult{}, nil, cerrors.ErrMutatorBusy
	}
	defer o.lock.Release()

	// Validation runs before the first audit record: spec.md §8 Scenario 4
	// requires a validation failure to leave no apply-started/apply-finished
	// trail at all, since nothing was ever attempted against kernel state.
	p, verrs := policy.Validate(raw)
	if len(verrs) > 0 {
		err := cerrors.WrapWithDetail(nil, cerrors.ValidationFailed, "apply", fmt.Sprintf("%d error(s)", len(verrs)))
		return ipc.ApplyResult{}, verrs, err
	}

	o.journal.Started("apply", source)

	if o.adapter == nil {
		err := cerrors.ErrEngineUnavailable
		o.journal.Finished("apply", source, "failure", err, nil)
		return ipc.ApplyResult{}, nil, err
	}

	result := compiler.Compile(p)

	res, err := reconcile.Apply(ctx, o.adapter, result.Filters)
	if err != nil {
		o.journal.Finished("apply", source, "failure", err, nil)
		return ipc.ApplyResult{}, nil, err
	}

	if err := lkg.Save(o.fs, o.cfg.DataDir, raw, sourcePath); err != nil {
		o.journal.Finished("apply", source, "failure", err, nil)
		return ipc.ApplyResult{}, nil, err
	}

	compileErrs := make([]ipc.CompileErrorInfo, 0, len(result.Errors))
	for _, ce := range result.Errors {
		compileErrs = append(compileErrs, ipc.CompileErrorInfo{RuleID: ce.RuleID, Message: ce.Message})
	}

	out := ipc.ApplyResult{
		FiltersCreated:    len(res.Diff.ToAdd),
		FiltersRemoved:    len(res.Diff.ToRemove),
		RulesSkipped:      result.SkippedCount,
		TotalRules:        len(p.Rules),
		PolicyVersion:     p.Version,
		CompilationErrors: compileErrs,
	}

	o.journal.Finished("apply", source, "success", nil, map[string]int{
		"filters_created": out.FiltersCreated,
		"filters_removed": out.FiltersRemoved,
	})
	return out, nil, nil
}

// policyJSON re-serializes a parsed policy (the form lkg.Load and
// lkg.Stat/RevertLKG hand back) so it can be fed through applyPipeline,
// which always takes raw bytes so it re-validates and re-persists the LKG
// envelope identically regardless of trigger.
func policyJSON(p *policy.Policy) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.IoError, "marshal policy")
	}
	return raw, nil
}

var _ ipc.Handlers = (*Orchestrator)(nil)

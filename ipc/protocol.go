// Package ipc is the control plane: a length-framed, JSON-over-Unix-socket
// local privileged endpoint. Only callers whose peer credentials resolve to
// root (the Linux realization of "local-administrator-equivalent identity")
// may connect; every request carries a "type" tag dispatched to one handler.
//
// Framing follows spec.md §9's resolved open question: a big-endian uint32
// length prefix, validated against the configured maximum before any
// payload buffer is allocated (P6), followed by that many bytes of UTF-8
// request JSON. Replies are framed identically.
package ipc

import (
	"context"
	"encoding/json"
	"time"

	"netguardd/audit"
	"netguardd/policy"
	"netguardd/watch"
)

// Request types, matching spec.md §6.1 verbatim.
const (
	TypePing        = "ping"
	TypeValidate    = "validate"
	TypeApply       = "apply"
	TypeApplyBytes  = "apply_bytes"
	TypeRollback    = "rollback"
	TypeTeardown    = "teardown"
	TypeRevertLKG   = "revert_lkg"
	TypeWatchSet    = "watch_set"
	TypeWatchStatus = "watch_status"
	TypeGetLKG      = "get_lkg"
	TypeGetLogs     = "get_logs"
)

// SerializedTypes documents which request types acquire the lifecycle
// orchestrator's mutator lock (§4.7: "serialized"); everything else may
// proceed concurrently. The dispatcher itself doesn't consult this map —
// each Handlers method acquires the lock on its own — but tests assert
// against it to keep the wire contract and the implementation in sync.
var SerializedTypes = map[string]bool{
	TypeApply:      true,
	TypeApplyBytes: true,
	TypeRollback:   true,
	TypeTeardown:   true,
	TypeRevertLKG:  true,
	TypeWatchSet:   true,
}

// rawRequest is the envelope every request shares: a type tag plus
// whatever type-specific fields json.RawMessage defers parsing of.
type rawRequest struct {
	Type string `json:"type"`

	PolicyPath     string          `json:"policy_path,omitempty"`
	Policy         string          `json:"policy,omitempty"`
	Path           json.RawMessage `json:"path,omitempty"`
	IncludeBody    bool            `json:"include_body,omitempty"`
	Tail           int             `json:"tail,omitempty"`
	SinceMinutes   *int            `json:"since_minutes,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
}

// Reply is the envelope every response shares.
type Reply struct {
	OK                bool               `json:"ok"`
	ErrorCode         string             `json:"error_code,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	FiltersCreated    int                `json:"filters_created,omitempty"`
	FiltersRemoved    int                `json:"filters_removed,omitempty"`
	RulesSkipped      int                `json:"rules_skipped,omitempty"`
	TotalRules        int                `json:"total_rules,omitempty"`
	PolicyVersion     string             `json:"policy_version,omitempty"`
	CompilationErrors []CompileErrorInfo `json:"compilation_errors,omitempty"`
	Errors            []policy.ValidationError `json:"errors,omitempty"`
	Version           string             `json:"version,omitempty"`
	JournalFailed     uint64             `json:"journal_failed_count,omitempty"`
	Watching          bool               `json:"watching,omitempty"`
	WatchPath         string             `json:"path,omitempty"`
	ApplyCount        uint64             `json:"apply_count,omitempty"`
	ErrorCount        uint64             `json:"error_count,omitempty"`
	LastError         string             `json:"last_error,omitempty"`
	LKGExists         bool               `json:"exists,omitempty"`
	LKGCorrupt        bool               `json:"is_corrupt,omitempty"`
	LKGVersion        string             `json:"version_saved,omitempty"`
	LKGRuleCount      int                `json:"rule_count,omitempty"`
	LKGSavedAt        *time.Time         `json:"saved_at,omitempty"`
	LKGPolicy         string             `json:"policy,omitempty"`
	Logs              []audit.Event      `json:"logs,omitempty"`
}

// CompileErrorInfo is the wire shape of one per-rule compilation failure.
type CompileErrorInfo struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// ApplyResult is the outcome of an apply/revert_lkg pipeline run, shared by
// the `apply`, `apply_bytes`, and `revert_lkg` handlers.
type ApplyResult struct {
	FiltersCreated    int
	FiltersRemoved    int
	RulesSkipped      int
	TotalRules        int
	PolicyVersion     string
	CompilationErrors []CompileErrorInfo
}

// RollbackResult is the outcome of `rollback`/`teardown`.
type RollbackResult struct {
	FiltersRemoved int
}

// LKGInfo is the outcome of `get_lkg`.
type LKGInfo struct {
	Exists    bool
	Corrupt   bool
	Version   string
	RuleCount int
	SavedAt   time.Time
	PolicyRaw string // only populated when IncludeBody was requested
}

// Handlers is the capability set the IPC dispatcher is driven against —
// the substitutable-capability pattern spec.md §9 calls for in place of
// interface-based mocking. The lifecycle orchestrator implements this.
type Handlers interface {
	Ping(ctx context.Context) (version string, journalFailed uint64)
	Validate(ctx context.Context, raw []byte) (*policy.Policy, []policy.ValidationError)
	ApplyPath(ctx context.Context, path string) (ApplyResult, []policy.ValidationError, error)
	ApplyBytes(ctx context.Context, raw []byte) (ApplyResult, []policy.ValidationError, error)
	Rollback(ctx context.Context) (RollbackResult, error)
	Teardown(ctx context.Context) (RollbackResult, error)
	RevertLKG(ctx context.Context) (ApplyResult, []policy.ValidationError, error)
	WatchSet(ctx context.Context, path string) (initialApplyErr error, err error)
	WatchStatus(ctx context.Context) watch.Status
	GetLKG(ctx context.Context, includeBody bool) (LKGInfo, error)
	GetLogs(ctx context.Context, tail int, sinceMinutes *int) ([]audit.Event, error)
}

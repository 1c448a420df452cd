package errors

// Policy and validation errors.
var (
	// ErrPolicyTooLarge indicates the policy document exceeds the configured
	// byte limit.
	ErrPolicyTooLarge = &Error{Kind: InvalidArgument, Detail: "policy exceeds maximum size"}

	// ErrMalformedPolicy indicates the policy bytes failed to parse as JSON.
	ErrMalformedPolicy = &Error{Kind: InvalidArgument, Detail: "malformed policy document"}

	// ErrDuplicateRuleID indicates two rules share the same id.
	ErrDuplicateRuleID = &Error{Kind: ValidationFailed, Detail: "duplicate rule id"}
)

// Compiler errors.
var (
	// ErrUnsupportedFeature indicates a rule uses a feature the baseline
	// compiler does not support (direction=both, protocol=any, etc).
	ErrUnsupportedFeature = &Error{Kind: CompilationFailed, Detail: "unsupported rule feature"}
)

// Transaction scope errors.
var (
	// ErrNestedScope indicates a transaction scope was begun while another
	// was already open.
	ErrNestedScope = &Error{Kind: InvalidState, Detail: "nested transaction scope"}

	// ErrScopeClosed indicates commit or abort was called on an already
	// finalized scope.
	ErrScopeClosed = &Error{Kind: InvalidState, Detail: "transaction scope already closed"}

	// ErrCrossGoroutineScope indicates a scope was used from a goroutine
	// other than the one that created it.
	ErrCrossGoroutineScope = &Error{Kind: InvalidState, Detail: "transaction scope used across goroutines"}
)

// Mutator lock / concurrency errors.
var (
	// ErrMutatorBusy indicates the mutator lock could not be acquired
	// within the configured timeout.
	ErrMutatorBusy = &Error{Kind: Busy, Detail: "mutator lock busy"}
)

// Filter-platform adapter errors.
var (
	// ErrProviderNotFound indicates the provider table does not exist.
	ErrProviderNotFound = &Error{Kind: NotFound, Detail: "provider not found"}

	// ErrSublayerNotFound indicates the sublayer chain does not exist.
	ErrSublayerNotFound = &Error{Kind: NotFound, Detail: "sublayer not found"}

	// ErrFilterNotFound indicates a filter rule does not exist.
	ErrFilterNotFound = &Error{Kind: NotFound, Detail: "filter not found"}

	// ErrSublayerInUse indicates a sublayer delete was attempted while
	// filters remain inside it.
	ErrSublayerInUse = &Error{Kind: InUse, Detail: "sublayer has remaining filters"}

	// ErrEngineUnavailable indicates the kernel filter engine could not be
	// opened at startup.
	ErrEngineUnavailable = &Error{Kind: KernelError, Detail: "filter engine unavailable"}
)

// LKG store errors.
var (
	// ErrLKGMissing indicates no last-known-good policy file exists.
	ErrLKGMissing = &Error{Kind: NotFound, Detail: "last-known-good policy not found"}

	// ErrLKGCorrupt indicates the LKG envelope failed checksum or
	// re-validation.
	ErrLKGCorrupt = &Error{Kind: IoError, Detail: "last-known-good policy corrupt"}
)

// IPC / control plane errors.
var (
	// ErrUnknownRequestType indicates the request's "type" field was not
	// recognized.
	ErrUnknownRequestType = &Error{Kind: InvalidArgument, Detail: "unknown request type"}

	// ErrFrameTooLarge indicates a frame's length prefix exceeded the
	// configured maximum before any payload was read.
	ErrFrameTooLarge = &Error{Kind: InvalidArgument, Detail: "frame exceeds maximum size"}

	// ErrUnauthorizedCaller indicates the connecting peer is not local-admin
	// equivalent.
	ErrUnauthorizedCaller = &Error{Kind: Unauthorized, Detail: "caller is not authorized"}

	// ErrRateLimited indicates the caller's token bucket was exhausted.
	ErrRateLimited = &Error{Kind: Busy, Detail: "rate limit exceeded"}
)

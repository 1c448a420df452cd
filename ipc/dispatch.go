package ipc

import (
	"context"
	"encoding/json"

	cerrors "netguardd/errors"
	"netguardd/policy"
)

// dispatch parses the top-level type tag, routes to the matching handler,
// and always returns a Reply carrying ok plus, on failure,
// error_code/error_message. Handlers for serialized request types (§4.7)
// acquire the shared mutator lock themselves.
func (s *Server) dispatch(ctx context.Context, payload []byte) Reply {
	var req rawRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errReply(cerrors.New(cerrors.InvalidArgument, "ipc: dispatch", "malformed request JSON"))
	}

	switch req.Type {
	case TypePing:
		return s.handlePing(ctx)
	case TypeValidate:
		return s.handleValidate(ctx, req)
	case TypeApply:
		return s.handleApply(ctx, req)
	case TypeApplyBytes:
		return s.handleApplyBytes(ctx, req)
	case TypeRollback:
		return s.handleRollback(ctx)
	case TypeTeardown:
		return s.handleTeardown(ctx)
	case TypeRevertLKG:
		return s.handleRevertLKG(ctx)
	case TypeWatchSet:
		return s.handleWatchSet(ctx, req)
	case TypeWatchStatus:
		return s.handleWatchStatus(ctx)
	case TypeGetLKG:
		return s.handleGetLKG(ctx, req)
	case TypeGetLogs:
		return s.handleGetLogs(ctx, req)
	default:
		return errReply(cerrors.ErrUnknownRequestType)
	}
}

func errReply(err error) Reply {
	kind, ok := cerrors.GetKind(err)
	code := cerrors.KernelError.String()
	if ok {
		code = kind.String()
	}
	return Reply{OK: false, ErrorCode: code, ErrorMessage: err.Error()}
}

func applyReply(res ApplyResult) Reply {
	return Reply{
		OK:                true,
		FiltersCreated:    res.FiltersCreated,
		FiltersRemoved:    res.FiltersRemoved,
		RulesSkipped:      res.RulesSkipped,
		TotalRules:        res.TotalRules,
		PolicyVersion:     res.PolicyVersion,
		CompilationErrors: res.CompilationErrors,
	}
}

func (s *Server) handlePing(ctx context.Context) Reply {
	version, journalFailed := s.handlers.Ping(ctx)
	return Reply{OK: true, Version: version, JournalFailed: journalFailed}
}

func (s *Server) handleValidate(ctx context.Context, req rawRequest) Reply {
	_, verrs := s.handlers.Validate(ctx, []byte(req.Policy))
	if len(verrs) > 0 {
		return Reply{
			OK:           false,
			ErrorCode:    cerrors.ValidationFailed.String(),
			ErrorMessage: "validation failed",
			Errors:       verrs,
		}
	}
	return Reply{OK: true}
}

func (s *Server) handleApply(ctx context.Context, req rawRequest) Reply {
	if req.PolicyPath == "" {
		return errReply(cerrors.New(cerrors.InvalidArgument, "ipc: apply", "policy_path is required"))
	}
	res, verrs, err := s.handlers.ApplyPath(ctx, req.PolicyPath)
	if err != nil {
		return applyFailureReply(verrs, err)
	}
	return applyReply(res)
}

func (s *Server) handleApplyBytes(ctx context.Context, req rawRequest) Reply {
	res, verrs, err := s.handlers.ApplyBytes(ctx, []byte(req.Policy))
	if err != nil {
		return applyFailureReply(verrs, err)
	}
	return applyReply(res)
}

// applyFailureReply renders an apply/revert_lkg failure, attaching the
// accumulated validation errors (scenario 4 of spec.md §8) when the
// failure was ValidationFailed rather than a kernel/compilation error.
func applyFailureReply(verrs []policy.ValidationError, err error) Reply {
	r := errReply(err)
	if len(verrs) > 0 {
		r.Errors = verrs
	}
	return r
}

func (s *Server) handleRollback(ctx context.Context) Reply {
	res, err := s.handlers.Rollback(ctx)
	if err != nil {
		return errReply(err)
	}
	return Reply{OK: true, FiltersRemoved: res.FiltersRemoved}
}

func (s *Server) handleTeardown(ctx context.Context) Reply {
	res, err := s.handlers.Teardown(ctx)
	if err != nil {
		return errReply(err)
	}
	return Reply{OK: true, FiltersRemoved: res.FiltersRemoved}
}

func (s *Server) handleRevertLKG(ctx context.Context) Reply {
	res, verrs, err := s.handlers.RevertLKG(ctx)
	if err != nil {
		return applyFailureReply(verrs, err)
	}
	return applyReply(res)
}

func (s *Server) handleWatchSet(ctx context.Context, req rawRequest) Reply {
	path, err := decodeWatchPath(req.Path)
	if err != nil {
		return errReply(err)
	}

	initialErr, err := s.handlers.WatchSet(ctx, path)
	if err != nil {
		return errReply(err)
	}
	if initialErr != nil {
		return Reply{OK: false, ErrorCode: cerrors.KernelError.String(), ErrorMessage: initialErr.Error()}
	}
	return Reply{OK: true}
}

func (s *Server) handleWatchStatus(ctx context.Context) Reply {
	st := s.handlers.WatchStatus(ctx)
	return Reply{
		OK:         true,
		Watching:   st.Watching,
		WatchPath:  st.Path,
		ApplyCount: st.ApplyCount,
		ErrorCount: st.ErrorCount,
		LastError:  st.LastError,
	}
}

func (s *Server) handleGetLKG(ctx context.Context, req rawRequest) Reply {
	info, err := s.handlers.GetLKG(ctx, req.IncludeBody)
	if err != nil {
		return errReply(err)
	}
	r := Reply{
		OK:           true,
		LKGExists:    info.Exists,
		LKGCorrupt:   info.Corrupt,
		LKGVersion:   info.Version,
		LKGRuleCount: info.RuleCount,
	}
	if !info.SavedAt.IsZero() {
		r.LKGSavedAt = &info.SavedAt
	}
	if req.IncludeBody {
		r.LKGPolicy = info.PolicyRaw
	}
	return r
}

func (s *Server) handleGetLogs(ctx context.Context, req rawRequest) Reply {
	tail := req.Tail
	if tail <= 0 {
		tail = 50
	}
	logs, err := s.handlers.GetLogs(ctx, tail, req.SinceMinutes)
	if err != nil {
		return errReply(err)
	}
	return Reply{OK: true, Logs: logs}
}

// decodeWatchPath accepts either a JSON string or null for the watch_set
// request's "path" field: null clears the watch, a string sets it.
func decodeWatchPath(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var path string
	if err := json.Unmarshal(raw, &path); err != nil {
		return "", cerrors.New(cerrors.InvalidArgument, "ipc: watch_set", "path must be a string or null")
	}
	return path, nil
}

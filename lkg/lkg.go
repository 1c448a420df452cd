// Package lkg persists the last policy that was both validated and
// successfully applied, so the daemon can fail open on startup instead of
// refusing to run when it cannot reach a control channel yet.
//
// Reads and writes go through an afero.Fs rather than the os package
// directly, the same testability seam the teacher keeps around container
// state I/O in spec.State.Save: tests exercise the atomic temp+rename path
// and the corruption/tamper path against an in-memory filesystem, never the
// real disk.
package lkg

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	cerrors "netguardd/errors"
	"netguardd/policy"
)

// FileName is the LKG envelope's file name within the service data
// directory.
const FileName = "lkg_policy.json"

// envelope is the single on-disk document: a checksum of the raw policy
// JSON alongside the policy JSON itself, so re-validation on Load can
// detect tampering before the bytes are trusted.
type envelope struct {
	Checksum   string    `json:"checksum"`
	PolicyJSON string    `json:"policy_json"`
	SavedAt    time.Time `json:"saved_at"`
	SourcePath string    `json:"source_path,omitempty"`
}

// Metadata summarizes an LKG envelope without requiring the caller to parse
// the embedded policy.
type Metadata struct {
	Exists    bool
	Corrupt   bool
	Version   string
	RuleCount int
	SavedAt   time.Time
}

// Save writes policyJSON as the new LKG envelope, atomically, via a
// sibling .tmp file followed by a rename. sourcePath records where the
// policy bytes originated (a file path for `apply`, empty for
// `apply_bytes`), for diagnostics only.
//
// Callers MUST only call Save with policy bytes that already validated and
// applied successfully (I6); Save itself does not re-validate.
func Save(fs afero.Fs, dir string, policyJSON []byte, sourcePath string) error {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return cerrors.Wrap(err, cerrors.IoError, "lkg: mkdir")
	}

	sum := sha256.Sum256(policyJSON)
	env := envelope{
		Checksum:   hex.EncodeToString(sum[:]),
		PolicyJSON: string(policyJSON),
		SavedAt:    time.Now().UTC(),
		SourcePath: sourcePath,
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return cerrors.Wrap(err, cerrors.IoError, "lkg: marshal")
	}

	target := filepath.Join(dir, FileName)
	tmp := target + ".tmp"

	if err := afero.WriteFile(fs, tmp, data, 0o600); err != nil {
		return cerrors.Wrap(err, cerrors.IoError, "lkg: write temp")
	}
	if err := fs.Rename(tmp, target); err != nil {
		return cerrors.Wrap(err, cerrors.IoError, "lkg: rename")
	}
	return nil
}

// Load reads the LKG envelope, verifies its checksum, and re-runs full
// policy validation over the embedded JSON. A missing or unreadable file
// returns ErrLKGMissing. An envelope that is not valid JSON (the JSON error
// is wrapped), a checksum mismatch, or a validation error returns an
// IoError-kind error, which errors.Is matches against ErrLKGCorrupt. Per
// I6, an LKG that fails re-validation is never returned.
func Load(fs afero.Fs, dir string) (*policy.Policy, error) {
	target := filepath.Join(dir, FileName)

	data, err := afero.ReadFile(fs, target)
	if err != nil {
		return nil, cerrors.ErrLKGMissing
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, cerrors.WrapWithDetail(err, cerrors.IoError, "lkg: load", "envelope is not valid JSON")
	}

	sum := sha256.Sum256([]byte(env.PolicyJSON))
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, cerrors.WrapWithDetail(nil, cerrors.IoError, "lkg: load", "checksum mismatch")
	}

	p, verrs := policy.Validate([]byte(env.PolicyJSON))
	if len(verrs) > 0 {
		return nil, cerrors.WrapWithDetail(nil, cerrors.IoError, "lkg: load", fmt.Sprintf("re-validation failed: %d error(s)", len(verrs)))
	}
	return p, nil
}

// Stat returns LKG metadata without requiring the caller to parse the
// policy any further than the envelope itself.
func Stat(fs afero.Fs, dir string) Metadata {
	target := filepath.Join(dir, FileName)

	data, err := afero.ReadFile(fs, target)
	if err != nil {
		return Metadata{Exists: false}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Metadata{Exists: true, Corrupt: true}
	}

	sum := sha256.Sum256([]byte(env.PolicyJSON))
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return Metadata{Exists: true, Corrupt: true, SavedAt: env.SavedAt}
	}

	p, verrs := policy.Validate([]byte(env.PolicyJSON))
	if len(verrs) > 0 || p == nil {
		return Metadata{Exists: true, Corrupt: true, SavedAt: env.SavedAt}
	}

	return Metadata{
		Exists:    true,
		Corrupt:   false,
		Version:   p.Version,
		RuleCount: len(p.Rules),
		SavedAt:   env.SavedAt,
	}
}

// RawPolicyJSON returns the embedded policy bytes without re-validating,
// for the `get_lkg` IPC reply when the caller requests the raw body.
func RawPolicyJSON(fs afero.Fs, dir string) ([]byte, error) {
	target := filepath.Join(dir, FileName)
	data, err := afero.ReadFile(fs, target)
	if err != nil {
		return nil, cerrors.ErrLKGMissing
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, cerrors.ErrLKGCorrupt
	}
	return []byte(env.PolicyJSON), nil
}

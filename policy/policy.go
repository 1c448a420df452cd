// Package policy defines the typed policy document schema and the strict
// validator applied to untrusted policy bytes before they reach the
// compiler.
package policy

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	cerrors "netguardd/errors"
)

// MaxPolicyBytes is the hard size limit enforced on policy documents.
const MaxPolicyBytes = 1 << 20 // 1 MiB

// maxPolicyChars is the limit of the first size check in Validate. That
// check compares len(raw), which is the byte length, not a character count;
// since the limit equals MaxPolicyBytes, it rejects exactly the input the
// byte-count check after it would.
const maxPolicyChars = MaxPolicyBytes

// Action is the terminating effect of a rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Direction constrains which side originates the connection.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionBoth     Direction = "both"
)

// Protocol is the transport protocol matched by a rule.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
	ProtocolAny Protocol = "any"
)

// EndpointFilter matches an IP/CIDR and/or a port specification.
type EndpointFilter struct {
	IP    string `json:"ip,omitempty"`
	Ports string `json:"ports,omitempty"`
}

// Rule is one match-criteria-plus-action entry in a Policy.
type Rule struct {
	ID        string          `json:"id"`
	Action    Action          `json:"action"`
	Direction Direction       `json:"direction"`
	Protocol  Protocol        `json:"protocol"`
	Process   string          `json:"process,omitempty"`
	Local     *EndpointFilter `json:"local,omitempty"`
	Remote    *EndpointFilter `json:"remote,omitempty"`
	Priority  int             `json:"priority"`
	Enabled   bool            `json:"enabled"`
	Comment   string          `json:"comment,omitempty"`
}

// Policy is the root, versioned policy document.
type Policy struct {
	Version       string    `json:"version"`
	DefaultAction Action    `json:"default_action"`
	UpdatedAt     time.Time `json:"updated_at"`
	Rules         []Rule    `json:"rules"`
}

// ValidationError is one (json-pointer-ish path, message) validation
// failure. The validator accumulates all of these rather than stopping at
// the first.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v ValidationError) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// portSegmentRe matches one segment of a port list: a single port or a
// range "A-B", e.g. "443" or "8000-8100". A comma list such as
// "80,443,8000-8100" is split on commas and each segment checked with it.
var portSegmentRe = regexp.MustCompile(`^\d+(-\d+)?$`)

// Validate runs the full validation pipeline on raw policy bytes: two size
// checks (both on the byte length; see maxPolicyChars), a structural JSON
// parse, and field-by-field semantic checks. It returns the parsed policy
// (valid or not) alongside every validation error found, so callers never
// need to parse the bytes twice.
func Validate(raw []byte) (*Policy, []ValidationError) {
	if len(raw) > maxPolicyChars {
		return nil, []ValidationError{{Path: "$", Message: "policy exceeds maximum character count"}}
	}
	if len(raw) > MaxPolicyBytes {
		return nil, []ValidationError{{Path: "$", Message: fmt.Sprintf("policy exceeds maximum size of %d bytes", MaxPolicyBytes)}}
	}

	var p Policy
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, []ValidationError{{Path: "$", Message: "malformed policy document: " + err.Error()}}
	}

	var errs []ValidationError

	if !semverRe.MatchString(p.Version) {
		errs = append(errs, ValidationError{Path: "version", Message: "invalid version format, expected MAJOR.MINOR.PATCH"})
	}

	switch p.DefaultAction {
	case ActionAllow, ActionBlock:
	default:
		errs = append(errs, ValidationError{Path: "default_action", Message: "must be \"allow\" or \"block\""})
	}

	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		base := fmt.Sprintf("rules[%d]", i)

		if r.ID == "" {
			errs = append(errs, ValidationError{Path: base + ".id", Message: "rule id must not be empty"})
		} else if seen[r.ID] {
			errs = append(errs, ValidationError{Path: base + ".id", Message: "duplicate rule id"})
		}
		seen[r.ID] = true

		switch r.Action {
		case ActionAllow, ActionBlock:
		default:
			errs = append(errs, ValidationError{Path: base + ".action", Message: "must be \"allow\" or \"block\""})
		}

		switch r.Direction {
		case DirectionInbound, DirectionOutbound, DirectionBoth:
		default:
			errs = append(errs, ValidationError{Path: base + ".direction", Message: "must be \"inbound\", \"outbound\", or \"both\""})
		}

		switch r.Protocol {
		case ProtocolTCP, ProtocolUDP, ProtocolAny:
		default:
			errs = append(errs, ValidationError{Path: base + ".protocol", Message: "must be \"tcp\", \"udp\", or \"any\""})
		}

		if r.Process != "" {
			if err := validateProcessPath(r.Process); err != nil {
				errs = append(errs, ValidationError{Path: base + ".process", Message: err.Error()})
			}
		}

		if r.Local != nil {
			errs = append(errs, validateEndpoint(base+".local", r.Local)...)
		}
		if r.Remote != nil {
			errs = append(errs, validateEndpoint(base+".remote", r.Remote)...)
		}
	}

	if len(errs) > 0 {
		return &p, errs
	}
	return &p, nil
}

func validateProcessPath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("process path must not contain \"..\"")
	}
	if filepath.IsAbs(path) {
		if filepath.Clean(path) != path {
			return fmt.Errorf("process path is not in canonical form")
		}
		return nil
	}
	// bare image name: no path separators
	if strings.ContainsAny(path, `/\`) {
		return fmt.Errorf("bare image name must not contain path separators")
	}
	return nil
}

func validateEndpoint(path string, ep *EndpointFilter) []ValidationError {
	var errs []ValidationError

	if ep.IP != "" {
		if err := validateIPOrCIDR(ep.IP); err != nil {
			errs = append(errs, ValidationError{Path: path + ".ip", Message: err.Error()})
		}
	}

	if ep.Ports != "" {
		if err := validatePorts(ep.Ports); err != nil {
			errs = append(errs, ValidationError{Path: path + ".ports", Message: err.Error()})
		}
	}

	return errs
}

func validateIPOrCIDR(s string) error {
	if strings.Contains(s, "/") {
		ip, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return fmt.Errorf("invalid CIDR: %w", err)
		}
		if ip.To4() == nil {
			return fmt.Errorf("only IPv4 is supported")
		}
		ones, bits := ipnet.Mask.Size()
		if bits != 32 || ones < 0 || ones > 32 {
			return fmt.Errorf("prefix length must be between 0 and 32")
		}
		return nil
	}
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid IPv4 address")
	}
	return nil
}

func validatePorts(spec string) error {
	for _, segment := range strings.Split(spec, ",") {
		segment = strings.TrimSpace(segment)
		if !portSegmentRe.MatchString(segment) {
			return fmt.Errorf("invalid port segment %q", segment)
		}
		parts := strings.SplitN(segment, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", parts[0])
		}
		end := start
		if len(parts) == 2 {
			end, err = strconv.Atoi(parts[1])
			if err != nil {
				return fmt.Errorf("invalid port %q", parts[1])
			}
		}
		if start < 1 || start > 65535 || end < 1 || end > 65535 {
			return fmt.Errorf("port out of range [1,65535] in %q", segment)
		}
		if end < start {
			return fmt.Errorf("inverted port range %q", segment)
		}
	}
	return nil
}

// Err wraps a validation failure list as a tagged error for callers that
// want a single error value (e.g. the IPC dispatcher's reply path).
func Err(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	return cerrors.WrapWithDetail(nil, cerrors.ValidationFailed, "validate", fmt.Sprintf("%d error(s)", len(errs)))
}

// Package compiler turns a validated policy into a deterministic,
// content-addressed set of compiled filters ready for the reconciler.
package compiler

import (
	"crypto/sha256"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"netguardd/policy"
)

// BaseWeight leaves headroom above system defaults but below any emergency
// override class.
const BaseWeight uint64 = 1000

// portRange is an inclusive [Start, End] port range; Start == End for a
// single port.
type portRange struct {
	Start, End int
}

// CompiledFilter is a single kernel-installable projection of one rule
// (one per port range within the rule).
type CompiledFilter struct {
	FilterKey   string
	DisplayName string
	Description string
	Action      policy.Action
	Weight      uint64
	Direction   policy.Direction
	Protocol    policy.Protocol
	RemoteIP    uint32
	RemoteMask  uint32
	PortStart   int
	PortEnd     int
	HasPorts    bool
	ProcessPath string
}

// CompileError is a per-rule compilation failure; other rules still
// compile.
type CompileError struct {
	RuleID  string
	Message string
}

func (e CompileError) String() string {
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Message)
}

// CompilationResult is the output of Compile: the filters that compiled
// successfully, any per-rule errors, warnings, and how many rules were
// skipped because they were disabled.
type CompilationResult struct {
	Filters      []CompiledFilter
	Errors       []CompileError
	Warnings     []string
	SkippedCount int
}

// Compile projects every enabled rule in p into zero or more
// CompiledFilter values. A rule using an unsupported feature contributes a
// CompileError but does not abort compilation of the rest of the policy.
func Compile(p *policy.Policy) CompilationResult {
	var res CompilationResult

	for _, r := range p.Rules {
		if !r.Enabled {
			res.SkippedCount++
			res.Warnings = append(res.Warnings, fmt.Sprintf("rule %s is disabled, skipped", r.ID))
			continue
		}

		if err := unsupportedFeature(r); err != "" {
			res.Errors = append(res.Errors, CompileError{RuleID: r.ID, Message: err})
			continue
		}

		filters, cerr := compileRule(r)
		if cerr != "" {
			res.Errors = append(res.Errors, CompileError{RuleID: r.ID, Message: cerr})
			continue
		}
		res.Filters = append(res.Filters, filters...)
	}

	return res
}

func unsupportedFeature(r policy.Rule) string {
	if r.Direction == policy.DirectionBoth {
		return "direction=both is not supported by the baseline compiler"
	}
	if r.Protocol == policy.ProtocolAny {
		return "protocol=any is not supported by the baseline compiler"
	}
	if r.Direction == policy.DirectionInbound && r.Protocol == policy.ProtocolUDP {
		return "inbound+udp is not supported by the baseline compiler"
	}
	if r.Local != nil {
		return "local endpoint clauses are not supported by the baseline compiler"
	}
	return ""
}

func compileRule(r policy.Rule) ([]CompiledFilter, string) {
	var ip, mask uint32
	if r.Remote != nil && r.Remote.IP != "" {
		var err error
		ip, mask, err = parseIPOrCIDR(r.Remote.IP)
		if err != nil {
			return nil, err.Error()
		}
	}

	action := terminatingAction(r.Action)
	weight := BaseWeight
	if r.Priority > 0 {
		weight += uint64(r.Priority)
	}

	processPath := r.Process

	if r.Remote == nil || r.Remote.Ports == "" {
		filter := CompiledFilter{
			DisplayName: fmt.Sprintf("netguard/%s", r.ID),
			Description: r.Comment,
			Action:      action,
			Weight:      weight,
			Direction:   r.Direction,
			Protocol:    r.Protocol,
			RemoteIP:    ip,
			RemoteMask:  mask,
			ProcessPath: processPath,
		}
		filter.FilterKey = filterKey(r.ID, 0, filter, "any")
		return []CompiledFilter{filter}, ""
	}

	ranges, err := parsePortRanges(r.Remote.Ports)
	if err != nil {
		return nil, err.Error()
	}

	filters := make([]CompiledFilter, 0, len(ranges))
	for i, pr := range ranges {
		filter := CompiledFilter{
			DisplayName: fmt.Sprintf("netguard/%s/%d", r.ID, i),
			Description: r.Comment,
			Action:      action,
			Weight:      weight,
			Direction:   r.Direction,
			Protocol:    r.Protocol,
			RemoteIP:    ip,
			RemoteMask:  mask,
			PortStart:   pr.Start,
			PortEnd:     pr.End,
			HasPorts:    true,
			ProcessPath: processPath,
		}
		filter.FilterKey = filterKey(r.ID, i, filter, portOrRangeString(pr))
		filters = append(filters, filter)
	}
	return filters, ""
}

func terminatingAction(a policy.Action) policy.Action {
	if a == policy.ActionAllow {
		return policy.ActionAllow
	}
	return policy.ActionBlock
}

// parseIPOrCIDR returns the host-byte-order IPv4 address and mask for a
// bare address or CIDR. mask = ~0<<(32-prefix), prefix==0 => mask=0,
// prefix==32 => mask=~0.
func parseIPOrCIDR(s string) (ip, mask uint32, err error) {
	if strings.Contains(s, "/") {
		parsedIP, ipnet, perr := net.ParseCIDR(s)
		if perr != nil {
			return 0, 0, fmt.Errorf("invalid CIDR %q: %w", s, perr)
		}
		ones, _ := ipnet.Mask.Size()
		ip = ipToUint32(parsedIP.To4())
		if ones == 0 {
			mask = 0
		} else if ones == 32 {
			mask = ^uint32(0)
		} else {
			mask = ^uint32(0) << (32 - uint(ones))
		}
		return ip, mask, nil
	}
	parsedIP := net.ParseIP(s)
	if parsedIP == nil || parsedIP.To4() == nil {
		return 0, 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return ipToUint32(parsedIP.To4()), ^uint32(0), nil
}

func ipToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func parsePortRanges(spec string) ([]portRange, error) {
	var ranges []portRange
	for _, segment := range strings.Split(spec, ",") {
		segment = strings.TrimSpace(segment)
		parts := strings.SplitN(segment, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", parts[0])
		}
		end := start
		if len(parts) == 2 {
			end, err = strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid port %q", parts[1])
			}
		}
		ranges = append(ranges, portRange{Start: start, End: end})
	}
	return ranges, nil
}

func portOrRangeString(pr portRange) string {
	if pr.Start == pr.End {
		return strconv.Itoa(pr.Start)
	}
	return fmt.Sprintf("%d-%d", pr.Start, pr.End)
}

// filterKey computes the deterministic 128-bit identifier for one compiled
// filter: a SHA-256 digest of the canonical content tuple, shaped into a
// version-4-style UUID by forcing the variant/version bits. Identical
// content always yields an identical key (I2, I3); any content field
// change yields a different key.
func filterKey(ruleID string, portIndex int, f CompiledFilter, portOrRange string) string {
	tuple := fmt.Sprintf("%s:%d|%s|%s|%s|%d/%d|%s|%s",
		ruleID, portIndex, f.Action, f.Protocol, f.Direction, f.RemoteIP, f.RemoteMask, portOrRange, f.ProcessPath)

	digest := sha256.Sum256([]byte(tuple))

	var u uuid.UUID
	copy(u[:], digest[:16])
	u[6] = (u[6] & 0x0f) | 0x40 // version 4
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	return u.String()
}

package policy

import (
	"strings"
	"testing"
)

func validPolicyJSON(rule string) string {
	return `{"version":"1.0.0","default_action":"allow","updated_at":"2026-01-01T00:00:00Z","rules":[` + rule + `]}`
}

func TestValidate_FreshInstall(t *testing.T) {
	raw := validPolicyJSON(`{"id":"r1","action":"block","direction":"outbound","protocol":"tcp","remote":{"ip":"1.1.1.1","ports":"443"},"priority":100,"enabled":true}`)

	p, errs := Validate([]byte(raw))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(p.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(p.Rules))
	}
	if p.Rules[0].ID != "r1" {
		t.Errorf("rule id = %q, want r1", p.Rules[0].ID)
	}
}

func TestValidate_InvalidVersionFormat(t *testing.T) {
	raw := `{"version":"1","default_action":"allow","updated_at":"2026-01-01T00:00:00Z","rules":[]}`

	_, errs := Validate([]byte(raw))
	if len(errs) == 0 {
		t.Fatal("expected a version format error")
	}
	found := false
	for _, e := range errs {
		if e.Path == "version" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a version error, got %v", errs)
	}
}

func TestValidate_DuplicateRuleID(t *testing.T) {
	raw := validPolicyJSON(`{"id":"r1","action":"allow","direction":"outbound","protocol":"tcp","enabled":true},` +
		`{"id":"r1","action":"block","direction":"outbound","protocol":"tcp","enabled":true}`)

	_, errs := Validate([]byte(raw))
	if len(errs) == 0 {
		t.Fatal("expected duplicate id error")
	}
	foundDup := false
	for _, e := range errs {
		if strings.Contains(e.Message, "duplicate") {
			foundDup = true
		}
	}
	if !foundDup {
		t.Errorf("expected a duplicate rule id error, got %v", errs)
	}
}

func TestValidate_PortBoundaries(t *testing.T) {
	tests := []struct {
		ports   string
		wantErr bool
	}{
		{"1", false},
		{"65535", false},
		{"1-65535", false},
		{"0", true},
		{"65536", true},
		{"100-50", true},
	}

	for _, tt := range tests {
		t.Run(tt.ports, func(t *testing.T) {
			raw := validPolicyJSON(`{"id":"r1","action":"allow","direction":"outbound","protocol":"tcp","remote":{"ports":"` + tt.ports + `"},"enabled":true}`)
			_, errs := Validate([]byte(raw))
			if tt.wantErr && len(errs) == 0 {
				t.Errorf("ports %q: expected error, got none", tt.ports)
			}
			if !tt.wantErr && len(errs) != 0 {
				t.Errorf("ports %q: unexpected errors: %v", tt.ports, errs)
			}
		})
	}
}

func TestValidate_CIDRPrefixBoundaries(t *testing.T) {
	tests := []struct {
		cidr    string
		wantErr bool
	}{
		{"10.0.0.0/0", false},
		{"10.0.0.0/32", false},
		{"10.0.0.0/33", true},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			raw := validPolicyJSON(`{"id":"r1","action":"allow","direction":"outbound","protocol":"tcp","remote":{"ip":"` + tt.cidr + `"},"enabled":true}`)
			_, errs := Validate([]byte(raw))
			if tt.wantErr && len(errs) == 0 {
				t.Errorf("cidr %q: expected error, got none", tt.cidr)
			}
			if !tt.wantErr && len(errs) != 0 {
				t.Errorf("cidr %q: unexpected errors: %v", tt.cidr, errs)
			}
		})
	}
}

func TestValidate_PathTraversalRejected(t *testing.T) {
	raw := validPolicyJSON(`{"id":"r1","action":"allow","direction":"outbound","protocol":"tcp","process":"../../etc/passwd","enabled":true}`)

	_, errs := Validate([]byte(raw))
	if len(errs) == 0 {
		t.Fatal("expected path traversal error")
	}
}

func TestValidate_TooLarge(t *testing.T) {
	huge := make([]byte, MaxPolicyBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, errs := Validate(huge)
	if len(errs) != 1 || errs[0].Path != "$" {
		t.Fatalf("expected single size error, got %v", errs)
	}
}

func TestValidate_MalformedJSON(t *testing.T) {
	_, errs := Validate([]byte(`{not json`))
	if len(errs) == 0 {
		t.Fatal("expected malformed document error")
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	raw := `{"version":"bad","default_action":"maybe","updated_at":"2026-01-01T00:00:00Z","rules":[` +
		`{"id":"","action":"nope","direction":"sideways","protocol":"icmp","enabled":true}]}`

	_, errs := Validate([]byte(raw))
	if len(errs) < 5 {
		t.Fatalf("expected at least 5 accumulated errors, got %d: %v", len(errs), errs)
	}
}

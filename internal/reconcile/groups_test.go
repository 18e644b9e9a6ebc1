package reconcile

import (
	"context"
	"reflect"
	"testing"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/directory"
)

func exactRule(group string, addOnly bool, attribute string, values ...string) config.GroupRule {
	return config.GroupRule{
		Group:   group,
		AddOnly: addOnly,
		Match:   []config.AttributeMatch{{Attribute: attribute, Values: values}},
	}
}

func TestGroupRulesExactMatch(t *testing.T) {
	tests := []struct {
		name   string
		rules  []config.GroupRule
		bag    AttributeBag
		before []string
		after  []string
	}{
		{
			name:  "match adds group",
			rules: []config.GroupRule{exactRule("staff", false, "affiliation", "employee")},
			bag:   AttributeBag{"affiliation": {"employee"}},
			after: []string{"staff"},
		},
		{
			name:  "any value in the set matches",
			rules: []config.GroupRule{exactRule("staff", false, "affiliation", "employee", "faculty")},
			bag:   AttributeBag{"affiliation": {"student", "faculty"}},
			after: []string{"staff"},
		},
		{
			name:   "present but unmatched removes group",
			rules:  []config.GroupRule{exactRule("staff", false, "affiliation", "employee")},
			bag:    AttributeBag{"affiliation": {"alumni"}},
			before: []string{"staff"},
			after:  []string{},
		},
		{
			name:   "add-only never removes",
			rules:  []config.GroupRule{exactRule("staff", true, "affiliation", "employee")},
			bag:    AttributeBag{"affiliation": {"alumni"}},
			before: []string{"staff"},
			after:  []string{"staff"},
		},
		{
			name:   "absent attribute leaves membership alone",
			rules:  []config.GroupRule{exactRule("staff", false, "affiliation", "employee")},
			bag:    AttributeBag{"uid": {"ada"}},
			before: []string{"staff"},
			after:  []string{"staff"},
		},
		{
			name: "first matching pair wins over a later removing pair",
			rules: []config.GroupRule{{
				Group: "staff",
				Match: []config.AttributeMatch{
					{Attribute: "role", Values: []string{"admin"}},
					{Attribute: "affiliation", Values: []string{"employee"}},
				},
			}},
			bag:   AttributeBag{"role": {"admin"}, "affiliation": {"alumni"}},
			after: []string{"staff"},
		},
		{
			name: "skipped absent pair falls through to the next pair",
			rules: []config.GroupRule{{
				Group: "staff",
				Match: []config.AttributeMatch{
					{Attribute: "role", Values: []string{"admin"}},
					{Attribute: "affiliation", Values: []string{"employee"}},
				},
			}},
			bag:   AttributeBag{"affiliation": {"employee"}},
			after: []string{"staff"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := compileGroupRules(config.PolicyConfig{GroupRules: tt.rules})
			if err != nil {
				t.Fatalf("compile failed: %v", err)
			}

			acct := &directory.LocalAccount{Groups: append([]string(nil), tt.before...)}
			ev.apply(acct, tt.bag)

			got := acct.Groups
			if got == nil {
				got = []string{}
			}
			want := tt.after
			if want == nil {
				want = []string{}
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("groups = %v, want %v", got, want)
			}
		})
	}
}

func TestGroupRegexRules(t *testing.T) {
	policy := config.PolicyConfig{
		GroupRegexRules: []config.GroupRegexRule{{
			Group: "engineering",
			Match: []config.AttributePattern{
				{Attribute: "ou", Pattern: "^eng(-.*)?$"},
			},
		}},
	}
	ev, err := compileGroupRules(policy)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	acct := &directory.LocalAccount{}
	if !ev.apply(acct, AttributeBag{"ou": {"eng-platform"}}) {
		t.Fatal("expected membership change")
	}
	if !acct.InGroup("engineering") {
		t.Error("pattern match should add the group")
	}

	if !ev.apply(acct, AttributeBag{"ou": {"sales"}}) {
		t.Fatal("expected membership change")
	}
	if acct.InGroup("engineering") {
		t.Error("unmatched value should remove the group")
	}
}

func TestGroupRegexTableDecidesLast(t *testing.T) {
	// The same group in both tables: the exact table removes, the regex
	// table re-adds, so the regex table's verdict stands.
	policy := config.PolicyConfig{
		GroupRules: []config.GroupRule{exactRule("ops", false, "role", "operator")},
		GroupRegexRules: []config.GroupRegexRule{{
			Group: "ops",
			Match: []config.AttributePattern{{Attribute: "role", Pattern: "^op"}},
		}},
	}
	ev, err := compileGroupRules(policy)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	acct := &directory.LocalAccount{}
	ev.apply(acct, AttributeBag{"role": {"oncall-op"}})
	if acct.InGroup("ops") {
		t.Error("neither table matched oncall-op, group must stay absent")
	}

	ev.apply(acct, AttributeBag{"role": {"operations"}})
	if !acct.InGroup("ops") {
		t.Error("regex table matched operations, group must be present")
	}
}

func TestGroupRulesInvalidPattern(t *testing.T) {
	policy := config.PolicyConfig{
		GroupRegexRules: []config.GroupRegexRule{{
			Group: "broken",
			Match: []config.AttributePattern{{Attribute: "ou", Pattern: "["}},
		}},
	}
	if _, err := compileGroupRules(policy); err == nil {
		t.Error("expected compile error for invalid pattern")
	}
}

func TestGroupRulesThroughReconcile(t *testing.T) {
	policy := basePolicy()
	policy.GroupRules = []config.GroupRule{
		exactRule("staff", false, "affiliation", "employee"),
		exactRule("wiki-admins", true, "entitlement", "wiki-admin"),
	}
	dir := directory.NewMemoryDirectory()
	r := newTestReconciler(t, dir, policy)

	bag := AttributeBag{
		"uid":         {"ada"},
		"affiliation": {"employee"},
		"entitlement": {"wiki-admin"},
	}
	result, err := r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !result.Account.InGroup("staff") || !result.Account.InGroup("wiki-admins") {
		t.Fatalf("expected both groups, got %v", result.Account.Groups)
	}

	// Entitlement revoked upstream: add-only group survives, plain
	// group does not.
	bag["affiliation"] = []string{"alumni"}
	bag["entitlement"] = []string{"none"}
	result, err = r.Reconcile(context.Background(), bag)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if result.Account.InGroup("staff") {
		t.Error("staff should be revoked when affiliation stops matching")
	}
	if !result.Account.InGroup("wiki-admins") {
		t.Error("add-only group must survive a non-matching value")
	}
}

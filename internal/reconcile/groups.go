package reconcile

import (
	"fmt"
	"regexp"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/directory"
)

// groupEvaluator applies the two group-rule tables to an account. The
// exact-match table is always applied first, then the regex table; a group
// named in both tables ends up governed by the regex table.
type groupEvaluator struct {
	exact []compiledGroupRule
	regex []compiledGroupRule
}

type compiledGroupRule struct {
	group   string
	addOnly bool
	pairs   []compiledPair
}

// compiledPair matches one attribute against either an accepted-value set
// or a regular expression.
type compiledPair struct {
	attribute string
	values    map[string]bool
	pattern   *regexp.Regexp
}

func (p compiledPair) match(values []string) bool {
	for _, v := range values {
		if p.pattern != nil {
			if p.pattern.MatchString(v) {
				return true
			}
		} else if p.values[v] {
			return true
		}
	}
	return false
}

func compileGroupRules(policy config.PolicyConfig) (*groupEvaluator, error) {
	ev := &groupEvaluator{}

	for _, rule := range policy.GroupRules {
		compiled := compiledGroupRule{group: rule.Group, addOnly: rule.AddOnly}
		for _, m := range rule.Match {
			set := make(map[string]bool, len(m.Values))
			for _, v := range m.Values {
				set[v] = true
			}
			compiled.pairs = append(compiled.pairs, compiledPair{
				attribute: m.Attribute,
				values:    set,
			})
		}
		ev.exact = append(ev.exact, compiled)
	}

	for _, rule := range policy.GroupRegexRules {
		compiled := compiledGroupRule{group: rule.Group, addOnly: rule.AddOnly}
		for _, m := range rule.Match {
			re, err := regexp.Compile(m.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q for group %q: %w", m.Pattern, rule.Group, err)
			}
			compiled.pairs = append(compiled.pairs, compiledPair{
				attribute: m.Attribute,
				pattern:   re,
			})
		}
		ev.regex = append(ev.regex, compiled)
	}

	return ev, nil
}

// apply evaluates both rule tables against the bag and mutates the account
// group set. Returns true if membership changed.
func (ev *groupEvaluator) apply(acct *directory.LocalAccount, bag AttributeBag) bool {
	changed := applyTable(ev.exact, acct, bag)
	if applyTable(ev.regex, acct, bag) {
		changed = true
	}
	return changed
}

// applyTable evaluates one rule table. Per group, pairs are evaluated in
// order: an absent attribute is skipped, the first match adds the group and
// stops evaluation for that group, and a present-but-unmatched attribute
// removes the group unless the rule is add-only.
func applyTable(rules []compiledGroupRule, acct *directory.LocalAccount, bag AttributeBag) bool {
	changed := false
	for _, rule := range rules {
		for _, pair := range rule.pairs {
			values := bag.Values(pair.attribute)
			if values == nil {
				continue
			}
			if pair.match(values) {
				if acct.AddGroup(rule.group) {
					changed = true
				}
				break
			}
			if !rule.addOnly {
				if acct.RemoveGroup(rule.group) {
					changed = true
				}
			}
		}
	}
	return changed
}

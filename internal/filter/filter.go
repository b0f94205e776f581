// Package filter implements the ordered regex accept/drop rule chain
// applied to a packet's textual form.
package filter

import (
	"fmt"
	"regexp"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/config"
)

type compiledRule struct {
	action config.FilterAction
	regex  *regexp.Regexp
}

// Filter is an ordered list of compiled regex rules.
type Filter struct {
	rules []compiledRule
}

// New compiles the configured filter rules in order. An invalid regex is a
// fatal configuration error.
func New(configs []config.FilterConfig) (*Filter, error) {
	rules := make([]compiledRule, 0, len(configs))

	for _, c := range configs {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("filter: rule %q: invalid pattern %q: %w", c.Name, c.Pattern, err)
		}
		rules = append(rules, compiledRule{action: c.Action, regex: re})
	}

	return &Filter{rules: rules}, nil
}

// ShouldPass computes the packet's textual form once and walks the rule
// list in order; the first matching pattern's action wins. No match
// passes by default.
func (f *Filter) ShouldPass(p aprs.Packet) bool {
	text := p.String()

	for _, rule := range f.rules {
		if rule.regex.MatchString(text) {
			return rule.action == config.ActionPass
		}
	}

	return true
}

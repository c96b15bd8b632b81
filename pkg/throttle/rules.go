package throttle

import (
	"math/rand"

	"github.com/marmos91/breakwater/pkg/crash"
)

// Rule is a single throttling rule. Rules are evaluated in order; the
// first rule whose matcher returns true decides the report.
type Rule struct {
	// Name identifies the rule in logs and in the endpoint response
	// pipeline.
	Name string

	// Match reports whether this rule applies to the given metadata.
	Match func(md crash.Metadata) bool

	// Percentage is the sampling rate. A matched report draws a number
	// in [0,100): below the percentage it is accepted, at or above it
	// is deferred. A percentage of 0 rejects outright.
	Percentage int
}

// MatchAll matches every report.
func MatchAll(crash.Metadata) bool { return true }

// MatchKeyValue matches reports whose metadata carries the given
// key/value pair as a text field.
func MatchKeyValue(key, value string) func(crash.Metadata) bool {
	return func(md crash.Metadata) bool {
		s, ok := md[key].(string)
		return ok && s == value
	}
}

// RuleThrottler evaluates an ordered rule list.
type RuleThrottler struct {
	rules []Rule

	// draw returns a uniform number in [0,n). Overridable for tests.
	draw func(n int) int
}

// NewRuleThrottler creates a throttler from an ordered rule list.
func NewRuleThrottler(rules []Rule) *RuleThrottler {
	return &RuleThrottler{
		rules: rules,
		draw:  rand.Intn,
	}
}

// DefaultRules accepts everything at 100%. Operators narrow this down
// via configuration once they know their volume.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "accept_everything",
			Match:      MatchAll,
			Percentage: 100,
		},
	}
}

// Throttle evaluates the rules in order. A report matching no rule is
// rejected under the NO_MATCH pseudo-rule.
func (t *RuleThrottler) Throttle(md crash.Metadata) (Decision, string, int) {
	for _, rule := range t.rules {
		if !rule.Match(md) {
			continue
		}
		if rule.Percentage <= 0 {
			return Reject, rule.Name, 0
		}
		if t.draw(100) < rule.Percentage {
			return Accept, rule.Name, rule.Percentage
		}
		return Defer, rule.Name, rule.Percentage
	}
	return Reject, "NO_MATCH", 0
}

package throttle

import (
	"testing"

	"github.com/marmos91/breakwater/pkg/crash"
)

func fixedDraw(v int) func(int) int {
	return func(int) int { return v }
}

func TestRuleThrottler_AcceptBelowPercentage(t *testing.T) {
	th := NewRuleThrottler([]Rule{{Name: "half", Match: MatchAll, Percentage: 50}})
	th.draw = fixedDraw(49)

	decision, rule, pct := th.Throttle(crash.Metadata{})
	if decision != Accept || rule != "half" || pct != 50 {
		t.Errorf("Expected (ACCEPT, half, 50), got (%v, %s, %d)", decision, rule, pct)
	}
}

func TestRuleThrottler_DeferAtOrAbovePercentage(t *testing.T) {
	th := NewRuleThrottler([]Rule{{Name: "half", Match: MatchAll, Percentage: 50}})
	th.draw = fixedDraw(50)

	decision, _, _ := th.Throttle(crash.Metadata{})
	if decision != Defer {
		t.Errorf("Expected DEFER, got %v", decision)
	}
}

func TestRuleThrottler_ZeroPercentageRejects(t *testing.T) {
	th := NewRuleThrottler([]Rule{{Name: "drop_beta", Match: MatchKeyValue("ReleaseChannel", "beta"), Percentage: 0}})

	decision, rule, pct := th.Throttle(crash.Metadata{"ReleaseChannel": "beta"})
	if decision != Reject || rule != "drop_beta" || pct != 0 {
		t.Errorf("Expected (REJECT, drop_beta, 0), got (%v, %s, %d)", decision, rule, pct)
	}
}

func TestRuleThrottler_FirstMatchWins(t *testing.T) {
	th := NewRuleThrottler([]Rule{
		{Name: "firefox", Match: MatchKeyValue("ProductName", "Firefox"), Percentage: 100},
		{Name: "everything", Match: MatchAll, Percentage: 0},
	})
	th.draw = fixedDraw(0)

	decision, rule, _ := th.Throttle(crash.Metadata{"ProductName": "Firefox"})
	if decision != Accept || rule != "firefox" {
		t.Errorf("Expected firefox rule to win, got (%v, %s)", decision, rule)
	}
}

func TestRuleThrottler_NoMatchRejects(t *testing.T) {
	th := NewRuleThrottler([]Rule{{Name: "firefox", Match: MatchKeyValue("ProductName", "Firefox"), Percentage: 100}})

	decision, rule, pct := th.Throttle(crash.Metadata{"ProductName": "Thunderbird"})
	if decision != Reject || rule != "NO_MATCH" || pct != 0 {
		t.Errorf("Expected (REJECT, NO_MATCH, 0), got (%v, %s, %d)", decision, rule, pct)
	}
}

func TestDefaultRules_AcceptEverything(t *testing.T) {
	th := NewRuleThrottler(DefaultRules())
	th.draw = fixedDraw(99)

	decision, rule, pct := th.Throttle(crash.Metadata{"anything": "at all"})
	if decision != Accept || rule != "accept_everything" || pct != 100 {
		t.Errorf("Expected (ACCEPT, accept_everything, 100), got (%v, %s, %d)", decision, rule, pct)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in    int
		want  Decision
		valid bool
	}{
		{0, Accept, true},
		{1, Defer, true},
		{2, 0, false},
		{-1, 0, false},
		{10, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDecision(tt.in)
		if ok != tt.valid || (ok && got != tt.want) {
			t.Errorf("ParseDecision(%d) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.valid)
		}
	}
}

func TestDecisionString(t *testing.T) {
	if Accept.String() != "ACCEPT" || Defer.String() != "DEFER" || Reject.String() != "REJECT" {
		t.Error("Decision string values changed; these appear in logs and dashboards")
	}
}

package ident

import "testing"

func TestRiskLevelStringParseRoundTrip(t *testing.T) {
	levels := []RiskLevel{RiskSafe, RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for _, lvl := range levels {
		parsed, ok := ParseRiskLevel(lvl.String())
		if !ok {
			t.Fatalf("ParseRiskLevel(%q): not ok", lvl.String())
		}
		if parsed != lvl {
			t.Fatalf("ParseRiskLevel(%q) = %v, want %v", lvl.String(), parsed, lvl)
		}
	}
}

func TestParseRiskLevelRejectsUnknown(t *testing.T) {
	if _, ok := ParseRiskLevel("nonsense"); ok {
		t.Fatal("expected ParseRiskLevel to reject unknown input")
	}
}

func TestTrustLevelForScoreBandBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  TrustLevel
	}{
		{-1.0, TrustObserver},
		{0.0, TrustObserver},
		{0.99, TrustObserver},
		{1.0, TrustAssistant},
		{2.0, TrustContributor},
		{3.0, TrustTrusted},
		{3.99, TrustTrusted},
		{4.0, TrustAutonomous},
		{10.0, TrustAutonomous},
	}
	for _, c := range cases {
		if got := TrustLevelForScore(c.score); got != c.want {
			t.Errorf("TrustLevelForScore(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestTrustLevelOrderingIsMonotonic(t *testing.T) {
	if !(TrustObserver < TrustAssistant && TrustAssistant < TrustContributor &&
		TrustContributor < TrustTrusted && TrustTrusted < TrustAutonomous) {
		t.Fatal("TrustLevel constants must be monotonically increasing")
	}
}

func TestEventPriorityAndSubscriptionPriorityAreIndependentScales(t *testing.T) {
	if PriorityUrgent.String() != "urgent" {
		t.Fatalf("unexpected EventPriority string: %s", PriorityUrgent.String())
	}
	if SubscriptionCritical.String() != "critical" {
		t.Fatalf("unexpected SubscriptionPriority string: %s", SubscriptionCritical.String())
	}
}

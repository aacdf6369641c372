package negotiation

import (
	"strings"
	"testing"
)

func TestCreateProposalUsesStandardTierAsBase(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig(), nil)
	proposal := policy.CreateProposal()

	if proposal.BasePriceAmount != 25 {
		t.Fatalf("expected base 25, got %v", proposal.BasePriceAmount)
	}
	if proposal.PriceOptions != [3]float64{5, 25, 100} {
		t.Fatalf("unexpected options: %v", proposal.PriceOptions)
	}
	if proposal.Description == "" {
		t.Fatalf("expected description")
	}
}

func TestEvaluateOfferBoundaries(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig(), nil)

	cases := []struct {
		amount   float64
		accepted bool
		contains string
	}{
		{amount: 25, accepted: true, contains: "is acceptable. Proceeding"},
		{amount: 5, accepted: true, contains: "is acceptable. Proceeding"},
		{amount: 4.5, accepted: true, contains: "within flexible range"},
		{amount: 4, accepted: true, contains: "within flexible range"},
		{amount: 3.99, accepted: false, contains: "flexible to 4.00"},
		{amount: 2, accepted: false, contains: "My minimum is 5 USDC"},
	}
	for _, tc := range cases {
		eval := policy.EvaluateOffer(tc.amount)
		if eval.Accepted != tc.accepted {
			t.Fatalf("amount %v: expected accepted=%v", tc.amount, tc.accepted)
		}
		if !strings.Contains(eval.Message, tc.contains) {
			t.Fatalf("amount %v: message %q missing %q", tc.amount, eval.Message, tc.contains)
		}
	}
}

func TestEvaluateOfferMatchesFloor(t *testing.T) {
	cfg := PolicyConfig{TierAmounts: [3]float64{10, 30, 90}, Flexibility: 0.5, MaxRounds: 2}
	policy := NewPolicy(cfg, nil)
	floor := policy.MinimumAcceptable()
	if floor != 5 {
		t.Fatalf("expected floor 5, got %v", floor)
	}
	for _, amount := range []float64{0.01, 1, 4.99, 5, 5.01, 9.99, 10, 90, 9999} {
		if got := policy.EvaluateOffer(amount).Accepted; got != (amount >= floor) {
			t.Fatalf("amount %v: accepted=%v, floor %v", amount, got, floor)
		}
	}
}

func TestSupportIntent(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig(), nil)

	positives := []string{
		"I'd like to support your work",
		"How much does it COST?",
		"can I sponsor this",
		"I want to donate",
	}
	for _, text := range positives {
		if !policy.IsSupportIntent(text) {
			t.Fatalf("expected support intent for %q", text)
		}
	}
	for _, text := range []string{"hello", "make me a poem", ""} {
		if policy.IsSupportIntent(text) {
			t.Fatalf("unexpected support intent for %q", text)
		}
	}
}

func TestCustomClassifier(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig(), IntentFunc(func(text string) bool {
		return text == "yes"
	}))
	if !policy.IsSupportIntent("yes") || policy.IsSupportIntent("support your work") {
		t.Fatalf("custom classifier not used")
	}
}

func TestNewPatternClassifierRejectsBadPattern(t *testing.T) {
	if _, err := NewPatternClassifier("fund", "("); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestRoundLimitReached(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig(), nil)
	if policy.RoundLimitReached(3) {
		t.Fatalf("3 rounds should still be allowed")
	}
	if !policy.RoundLimitReached(4) {
		t.Fatalf("4 rounds should exceed the limit")
	}

	unlimited := NewPolicy(PolicyConfig{TierAmounts: [3]float64{5, 25, 100}}, nil)
	if unlimited.RoundLimitReached(100) {
		t.Fatalf("zero max rounds disables the limit")
	}
}

func TestFormatProposalListsTiers(t *testing.T) {
	text := FormatProposal(NewPolicy(DefaultPolicyConfig(), nil).CreateProposal())
	for _, want := range []string{"Minimum: 5 USDC", "Standard: 25 USDC (recommended)", "Premium: 100 USDC", "Make a counter-offer"} {
		if !strings.Contains(text, want) {
			t.Fatalf("proposal missing %q:\n%s", want, text)
		}
	}
}

func TestFormatCounterRejectionOffersMinimum(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig(), nil)
	text := FormatCounterRejection(policy.EvaluateOffer(2), policy.MinimumAcceptable())
	if !strings.Contains(text, "Meet the minimum of 4 USDC") {
		t.Fatalf("unexpected rejection text: %s", text)
	}
}

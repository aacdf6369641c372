package payment

import (
	"strings"
	"testing"
)

func TestParseCommitmentConfirmation(t *testing.T) {
	cases := []struct {
		text      string
		confirmed bool
		amount    float64
		hasAmount bool
	}{
		{text: "I agree to pay 25 USDC", confirmed: true, amount: 25, hasAmount: true},
		{text: "confirmed, 4.5 usd", confirmed: true, amount: 4.5, hasAmount: true},
		{text: "I'll pay", confirmed: true},
		{text: "maybe 10 USDC later", amount: 10, hasAmount: true},
		{text: "hello there"},
	}
	for _, tc := range cases {
		got := ParseCommitmentConfirmation(tc.text)
		if got.Confirmed != tc.confirmed {
			t.Fatalf("%q: expected confirmed=%v", tc.text, tc.confirmed)
		}
		if (got.Amount != nil) != tc.hasAmount {
			t.Fatalf("%q: expected amount presence %v", tc.text, tc.hasAmount)
		}
		if tc.hasAmount && *got.Amount != tc.amount {
			t.Fatalf("%q: expected amount %v, got %v", tc.text, tc.amount, *got.Amount)
		}
		if got.Complete() != (tc.confirmed && tc.hasAmount) {
			t.Fatalf("%q: unexpected completeness", tc.text)
		}
	}
}

func TestRequestInstructions(t *testing.T) {
	req := NewRequest(RequestParams{
		Recipient:   "0xgarden",
		ChainID:     84532,
		Network:     "Base Sepolia",
		Amount:      15,
		Description: "Garden contribution (counter-offer accepted)",
	})
	if err := req.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.Scheme != SchemeSocial || req.Version != RequestVersion || req.Nonce == "" {
		t.Fatalf("unexpected request: %+v", req)
	}

	text := req.Instructions()
	if !strings.Contains(text, `"I agree to pay 15 USDC"`) {
		t.Fatalf("instructions missing confirmation phrase:\n%s", text)
	}
	if strings.Contains(text, "```json") {
		t.Fatalf("social instructions should not embed a payload")
	}

	commitment := ParseCommitmentConfirmation(req.ConfirmationPhrase())
	if !commitment.Complete() || *commitment.Amount != 15 {
		t.Fatalf("confirmation phrase does not parse back: %+v", commitment)
	}
}

func TestRequestX402EmbedsPayload(t *testing.T) {
	req := NewRequest(RequestParams{Scheme: SchemeX402, Amount: 25, Recipient: "0xgarden", ChainID: 8453})
	text := req.Instructions()
	if !strings.Contains(text, "```json") || !strings.Contains(text, `"nonce": "`+req.Nonce+`"`) {
		t.Fatalf("x402 instructions missing payload:\n%s", text)
	}
}

func TestRequestValidateAndScheme(t *testing.T) {
	if err := (Request{Version: RequestVersion, Scheme: SchemeSocial}).Validate(); err == nil {
		t.Fatalf("expected zero amount to be rejected")
	}
	if err := (Request{Version: "2", Scheme: SchemeSocial, Amount: 1}).Validate(); err == nil {
		t.Fatalf("expected unknown version to be rejected")
	}
	if scheme, err := ParseScheme(" X402 "); err != nil || scheme != SchemeX402 {
		t.Fatalf("unexpected scheme parse: %v %v", scheme, err)
	}
	if _, err := ParseScheme("lightning"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

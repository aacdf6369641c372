package garden

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"yield-garden/internal/conversation"
	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/negotiation"
	"yield-garden/internal/payment"
	"yield-garden/internal/transport"
)

const (
	gardenAddress = "0xGarden"
	peerAddress   = "0xAbCdEf0000000000000000000000000000000001"
)

type fixture struct {
	agent   *Agent
	store   *conversation.MemoryStore
	tracker *payment.MemoryTracker
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = gardenAddress
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	store := conversation.NewMemoryStore(time.Hour)
	tracker := payment.NewMemoryTracker()
	ag, err := NewAgent(cfg, negotiation.NewPolicy(negotiation.DefaultPolicyConfig(), nil), store, tracker, WithClock(now))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return &fixture{agent: ag, store: store, tracker: tracker}
}

func (f *fixture) send(t *testing.T, sender, text string) (string, bool) {
	t.Helper()
	reply, err := f.agent.HandleInboundMessage(context.Background(), transport.NewMessage(sender, gardenAddress, text, time.Now()))
	if err != nil {
		t.Fatalf("handle %q: %v", text, err)
	}
	return reply.Text, reply.Send
}

func (f *fixture) conversation(t *testing.T, id string) *conversation.Conversation {
	t.Helper()
	conv, err := f.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	return conv
}

func TestScenarioProposalOnSupportIntent(t *testing.T) {
	f := newFixture(t, Config{})
	reply, sent := f.send(t, peerAddress, "I'd like to support your work")
	if !sent {
		t.Fatalf("expected a proposal reply")
	}
	for _, want := range []string{"5 USDC", "25 USDC", "100 USDC"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("proposal missing %q:\n%s", want, reply)
		}
	}
	conv := f.conversation(t, peerAddress)
	if conv.Proposal == nil || conv.Proposal.PriceOptions != [3]float64{5, 25, 100} {
		t.Fatalf("unexpected proposal %+v", conv.Proposal)
	}
	if len(conv.Messages) != 2 || conv.Messages[0].Role != conversation.RoleCounterparty || conv.Messages[1].Text != reply {
		t.Fatalf("transcript should hold inbound message and the sent proposal: %+v", conv.Messages)
	}
	if conv.ThreadID != transport.ThreadID(peerAddress, gardenAddress) {
		t.Fatalf("unexpected thread id %q", conv.ThreadID)
	}
	if conv.State() != conversation.StateProposalSent {
		t.Fatalf("unexpected state %s", conv.State())
	}
}

func TestScenarioCounterOfferAccepted(t *testing.T) {
	f := newFixture(t, Config{ChainID: 84532, Network: "Base Sepolia"})
	f.send(t, peerAddress, "I'd like to support your work")
	reply, _ := f.send(t, peerAddress, "I can offer $15")

	conv := f.conversation(t, peerAddress)
	if !conv.Accepted || conv.CounterOffer == nil || *conv.CounterOffer != 15 {
		t.Fatalf("expected accepted counter-offer of 15, got %+v", conv)
	}
	if conv.Rounds != 1 {
		t.Fatalf("expected one round, got %d", conv.Rounds)
	}
	if !strings.Contains(reply, "I'll accept 15 USDC") || !strings.Contains(reply, `"I agree to pay 15 USDC"`) {
		t.Fatalf("reply should carry payment instructions for 15 USDC:\n%s", reply)
	}
	if last := conv.Messages[len(conv.Messages)-1]; last.Role != conversation.RoleAgent || last.Text != reply {
		t.Fatalf("reply must be appended before persisting")
	}
}

func TestScenarioCounterOfferRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.send(t, peerAddress, "I'd like to support your work")
	reply, _ := f.send(t, peerAddress, "I can offer $2")

	for _, want := range []string{"Meet the minimum of 4 USDC", "Propose a different arrangement", "End this negotiation"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("rejection missing %q:\n%s", want, reply)
		}
	}
	conv := f.conversation(t, peerAddress)
	if conv.Accepted {
		t.Fatalf("rejected counter-offer must not accept")
	}
	if conv.CounterOffer == nil || *conv.CounterOffer != 2 {
		t.Fatalf("counter-offer should still be stored")
	}
	if conv.State() != conversation.StateCounterOfferPending {
		t.Fatalf("unexpected state %s", conv.State())
	}
}

func TestScenarioTierSelection(t *testing.T) {
	f := newFixture(t, Config{Scheme: payment.SchemeX402, ChainID: 8453, Network: "Base"})
	f.send(t, peerAddress, "I'd like to support your work")
	reply, _ := f.send(t, peerAddress, "standard")

	if !strings.Contains(reply, "standard tier: 25 USDC") {
		t.Fatalf("reply should quote the standard tier:\n%s", reply)
	}
	if !strings.Contains(reply, `"chainId": 8453`) || !strings.Contains(reply, `"network": "Base"`) {
		t.Fatalf("x402 scheme should embed the structured request:\n%s", reply)
	}
	if conv := f.conversation(t, peerAddress); !conv.Accepted || conv.CounterOffer != nil {
		t.Fatalf("tier selection should accept without counter-offer: %+v", conv)
	}
}

func TestScenarioCommitment(t *testing.T) {
	f := newFixture(t, Config{})
	f.send(t, peerAddress, "I'd like to support your work")
	f.send(t, peerAddress, "standard")
	reply, _ := f.send(t, peerAddress, "I agree to pay 25 USDC")

	if !strings.Contains(reply, "Commitment recorded: 25 USDC") {
		t.Fatalf("unexpected confirmation:\n%s", reply)
	}
	conv := f.conversation(t, peerAddress)
	if !conv.PaymentCommitted || !conv.Accepted || conv.PaymentAgreementID == "" {
		t.Fatalf("conversation should be committed: %+v", conv)
	}
	agreement, err := f.tracker.Get(context.Background(), conv.PaymentAgreementID)
	if err != nil || agreement == nil {
		t.Fatalf("agreement not recorded: %v", err)
	}
	if agreement.Amount != 25 || agreement.Status != payment.StatusInProgress {
		t.Fatalf("unexpected agreement %+v", agreement)
	}
	if agreement.CommittedAt == nil || agreement.WorkStartedAt == nil {
		t.Fatalf("commitment timestamps should be set: %+v", agreement)
	}
	if agreement.ThreadID != conv.ThreadID || !strings.EqualFold(agreement.CounterpartyID, peerAddress) {
		t.Fatalf("agreement should reference the conversation: %+v", agreement)
	}

	stats := f.agent.Stats()
	if stats.ActiveNegotiations != 0 || stats.CompletedNegotiations != 1 || stats.TotalCommittedUSDC != 25 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRepeatedCommitmentDoesNotDuplicateAgreement(t *testing.T) {
	f := newFixture(t, Config{})
	f.send(t, peerAddress, "I'd like to support your work")
	f.send(t, peerAddress, "I agree to pay 25 USDC")
	first := f.conversation(t, peerAddress).PaymentAgreementID
	f.send(t, peerAddress, "confirmed, 25 usdc")

	conv := f.conversation(t, peerAddress)
	if conv.PaymentAgreementID != first {
		t.Fatalf("agreement id changed from %s to %s", first, conv.PaymentAgreementID)
	}
	list, _ := f.tracker.ListByThread(context.Background(), conv.ThreadID)
	if len(list) != 1 {
		t.Fatalf("expected one agreement, got %d", len(list))
	}
	if total, _ := f.tracker.TotalCommitted(context.Background()); total != 25 {
		t.Fatalf("unexpected total %v", total)
	}
}

func TestCommitmentWithoutConversationIsNotANegotiation(t *testing.T) {
	f := newFixture(t, Config{})
	reply, sent := f.send(t, peerAddress, "I agree to pay 25 USDC")
	if !sent || reply != negotiation.DeclineNotice {
		t.Fatalf("expected decline notice, got %q", reply)
	}
	if _, err := f.store.Load(context.Background(), peerAddress); !conversation.IsNotFound(err) {
		t.Fatalf("no conversation should be created, got %v", err)
	}
}

func TestScenarioOwnMessageIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	reply, sent := f.send(t, strings.ToLower(gardenAddress), "I'd like to support your work")
	if sent || reply != "" {
		t.Fatalf("own message must not produce a reply")
	}
	if ids, _ := f.store.ListActive(context.Background()); len(ids) != 0 {
		t.Fatalf("own message must not change state, got %v", ids)
	}
}

func TestNonTextMessageDropped(t *testing.T) {
	f := newFixture(t, Config{})
	msg := transport.NewMessage(peerAddress, gardenAddress, "I'd like to support your work", time.Now())
	msg.ContentType = "application/x-reaction"
	reply, err := f.agent.HandleInboundMessage(context.Background(), msg)
	if err != nil || reply.Send {
		t.Fatalf("non-text message must be dropped silently: %+v %v", reply, err)
	}
}

func TestDeclineIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	first, _ := f.send(t, peerAddress, "hello there")
	second, _ := f.send(t, peerAddress, "hello there")
	if first != negotiation.DeclineNotice || second != first {
		t.Fatalf("decline should be identical every time: %q / %q", first, second)
	}
	if ids, _ := f.store.ListActive(context.Background()); len(ids) != 0 {
		t.Fatalf("decline must not create a conversation")
	}
}

func TestCaseVariedCounterpartyResumesConversation(t *testing.T) {
	f := newFixture(t, Config{})
	f.send(t, peerAddress, "I'd like to support your work")
	reply, _ := f.send(t, strings.ToUpper(peerAddress), "what now?")
	if reply != negotiation.FormatNegotiationPrompt() {
		t.Fatalf("expected the generic prompt, got %q", reply)
	}
	if conv := f.conversation(t, strings.ToLower(peerAddress)); len(conv.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(conv.Messages))
	}
}

func TestAcceptedIsMonotonic(t *testing.T) {
	f := newFixture(t, Config{})
	f.send(t, peerAddress, "I'd like to support your work")
	f.send(t, peerAddress, "premium")
	f.send(t, peerAddress, "actually I can offer $1")
	f.send(t, peerAddress, "nevermind")

	conv := f.conversation(t, peerAddress)
	if !conv.Accepted {
		t.Fatalf("accepted must never revert")
	}
	if conv.State() != conversation.StateAccepted {
		t.Fatalf("unexpected state %s", conv.State())
	}
}

func TestCounterOfferPrecedesTierSelection(t *testing.T) {
	f := newFixture(t, Config{})
	f.send(t, peerAddress, "I'd like to support your work")
	reply, _ := f.send(t, peerAddress, "premium is too much, I offer $3")
	conv := f.conversation(t, peerAddress)
	if conv.CounterOffer == nil || *conv.CounterOffer != 3 || conv.Accepted {
		t.Fatalf("counter-offer should win over tier wording: %+v", conv)
	}
	if !strings.Contains(reply, "I cannot accept 3 USDC") {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestRoundLimitIsOptIn(t *testing.T) {
	lenient := newFixture(t, Config{})
	strict := newFixture(t, Config{RoundLimitEnforced: true})
	for _, f := range []*fixture{lenient, strict} {
		f.send(t, peerAddress, "I'd like to support your work")
		for i := 0; i < 3; i++ {
			f.send(t, peerAddress, "I can offer $1")
		}
	}

	lenientReply, _ := lenient.send(t, peerAddress, "I can offer $1")
	if !strings.Contains(lenientReply, "Would you like to") {
		t.Fatalf("without enforcement the rejection options continue:\n%s", lenientReply)
	}
	strictReply, _ := strict.send(t, peerAddress, "I can offer $1")
	if !strings.Contains(strictReply, "couldn't reach an agreement") {
		t.Fatalf("enforced limit should send the final rejection:\n%s", strictReply)
	}
	conv := strict.conversation(t, peerAddress)
	if conv.Rounds != 4 || conv.Accepted {
		t.Fatalf("round limit must not change acceptance: %+v", conv)
	}
	if reply, _ := strict.send(t, peerAddress, "I can offer $10"); !strings.Contains(reply, "I'll accept 10 USDC") {
		t.Fatalf("an acceptable offer is still accepted after the limit:\n%s", reply)
	}
}

type failingStore struct {
	conversation.Store
	saveErr error
	loadErr error
	// rejectSave 非空时只对匹配的对话返回 saveErr。
	rejectSave func(*conversation.Conversation) bool
}

func (s *failingStore) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx, id)
}

func (s *failingStore) Save(ctx context.Context, conv *conversation.Conversation) error {
	if s.saveErr != nil && (s.rejectSave == nil || s.rejectSave(conv)) {
		return s.saveErr
	}
	return s.Store.Save(ctx, conv)
}

func TestStoreFailureProducesNoReply(t *testing.T) {
	store := &failingStore{Store: conversation.NewMemoryStore(time.Hour), saveErr: errors.New("connection refused")}
	ag, err := NewAgent(Config{Address: gardenAddress}, negotiation.NewPolicy(negotiation.DefaultPolicyConfig(), nil), store, payment.NewMemoryTracker())
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	reply, err := ag.HandleInboundMessage(context.Background(),
		transport.NewMessage(peerAddress, gardenAddress, "I'd like to support your work", time.Now()))
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if reply.Send {
		t.Fatalf("no reply may be emitted on store failure")
	}
	if ag.Stats().ActiveNegotiations != 0 {
		t.Fatalf("stats must only move after a successful save")
	}

	store.saveErr = nil
	store.loadErr = errors.New("timeout")
	if _, err := ag.HandleInboundMessage(context.Background(),
		transport.NewMessage(peerAddress, gardenAddress, "hello", time.Now())); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("load failure should surface, got %v", err)
	}
}

func TestNewAgentValidates(t *testing.T) {
	policy := negotiation.NewPolicy(negotiation.DefaultPolicyConfig(), nil)
	if _, err := NewAgent(Config{}, policy, conversation.NewMemoryStore(0), payment.NewMemoryTracker()); xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := NewAgent(Config{Address: gardenAddress}, policy, nil, payment.NewMemoryTracker()); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization error, got %v", err)
	}
}

func TestCustomClassifier(t *testing.T) {
	store := conversation.NewMemoryStore(time.Hour)
	policy := negotiation.NewPolicy(negotiation.DefaultPolicyConfig(), negotiation.IntentFunc(func(text string) bool {
		return text == "bonjour"
	}))
	ag, _ := NewAgent(Config{Address: gardenAddress}, policy, store, payment.NewMemoryTracker())
	reply, err := ag.HandleInboundMessage(context.Background(), transport.NewMessage(peerAddress, gardenAddress, "bonjour", time.Now()))
	if err != nil || !strings.Contains(reply.Text, "contribution structure") {
		t.Fatalf("stub classifier should open the negotiation: %q %v", reply.Text, err)
	}
}

func newFailingFixture(t *testing.T) (*Agent, *failingStore, *payment.MemoryTracker) {
	t.Helper()
	store := &failingStore{Store: conversation.NewMemoryStore(time.Hour)}
	tracker := payment.NewMemoryTracker()
	ag, err := NewAgent(Config{Address: gardenAddress}, negotiation.NewPolicy(negotiation.DefaultPolicyConfig(), nil), store, tracker)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return ag, store, tracker
}

func handle(ag *Agent, text string) (string, error) {
	reply, err := ag.HandleInboundMessage(context.Background(), transport.NewMessage(peerAddress, gardenAddress, text, time.Now()))
	return reply.Text, err
}

func TestCommitmentRetryAfterSaveFailureCountsOnce(t *testing.T) {
	ag, store, tracker := newFailingFixture(t)
	if _, err := handle(ag, "I'd like to support your work"); err != nil {
		t.Fatalf("proposal: %v", err)
	}

	store.saveErr = errors.New("connection reset")
	if _, err := handle(ag, "I agree to pay 25 USDC"); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if total, _ := tracker.TotalCommitted(context.Background()); total != 0 {
		t.Fatalf("unsaved commitment must not be counted, total %v", total)
	}
	if stats := ag.Stats(); stats.TotalCommittedUSDC != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	store.saveErr = nil
	reply, err := handle(ag, "I agree to pay 25 USDC")
	if err != nil || !strings.Contains(reply, "Commitment recorded: 25 USDC") {
		t.Fatalf("retry: %q %v", reply, err)
	}
	if total, _ := tracker.TotalCommitted(context.Background()); total != 25 {
		t.Fatalf("retry should count the commitment once, total %v", total)
	}
	if stats := ag.Stats(); stats.TotalCommittedUSDC != 25 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCommitmentRetryReusesLinkedAgreement(t *testing.T) {
	ag, store, tracker := newFailingFixture(t)
	if _, err := handle(ag, "I'd like to support your work"); err != nil {
		t.Fatalf("proposal: %v", err)
	}

	// 协议编号已落盘，只有最终保存失败。
	store.saveErr = errors.New("connection reset")
	store.rejectSave = func(conv *conversation.Conversation) bool { return conv.PaymentCommitted }
	if _, err := handle(ag, "I agree to pay 25 USDC"); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	conv, err := store.Load(context.Background(), peerAddress)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if conv.PaymentCommitted || conv.PaymentAgreementID == "" {
		t.Fatalf("conversation should be linked but not committed: %+v", conv)
	}
	linked := conv.PaymentAgreementID

	store.saveErr = nil
	if _, err := handle(ag, "I agree to pay 25 USDC"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	conv, _ = store.Load(context.Background(), peerAddress)
	if !conv.PaymentCommitted || conv.PaymentAgreementID != linked {
		t.Fatalf("retry should reuse agreement %s: %+v", linked, conv)
	}
	list, _ := tracker.ListByThread(context.Background(), conv.ThreadID)
	if len(list) != 1 || list[0].Status != payment.StatusInProgress {
		t.Fatalf("expected one in-progress agreement, got %+v", list)
	}
	if total, _ := tracker.TotalCommitted(context.Background()); total != 25 {
		t.Fatalf("retry must not double the total, got %v", total)
	}
}

func TestNewAgentRejectsUnpayableTiers(t *testing.T) {
	store := conversation.NewMemoryStore(time.Hour)
	tracker := payment.NewMemoryTracker()
	for name, tiers := range map[string][3]float64{
		"zero":     {0, 25, 100},
		"negative": {5, -25, 100},
	} {
		cfg := negotiation.DefaultPolicyConfig()
		cfg.TierAmounts = tiers
		_, err := NewAgent(Config{Address: gardenAddress}, negotiation.NewPolicy(cfg, nil), store, tracker)
		if xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
			t.Fatalf("%s tiers: expected config error, got %v", name, err)
		}
	}

	_, err := NewAgent(Config{Address: gardenAddress, Scheme: "iou"}, negotiation.NewPolicy(negotiation.DefaultPolicyConfig(), nil), store, tracker)
	if xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("unknown scheme: expected config error, got %v", err)
	}
}

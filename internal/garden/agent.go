package garden

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"yield-garden/internal/agent"
	"yield-garden/internal/conversation"
	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/negotiation"
	"yield-garden/internal/payment"
	"yield-garden/internal/transport"
	"yield-garden/pkg/logger"
)

// Config 描述 Garden agent 的身份与结算参数。
type Config struct {
	Address            string
	ChainID            int64
	Network            string
	Scheme             payment.Scheme
	RoundLimitEnforced bool
}

// Agent 是协商状态机。
type Agent struct {
	cfg     Config
	policy  *negotiation.Policy
	store   conversation.Store
	tracker payment.Tracker
	stats   *Aggregate
	now     func() time.Time
	logger  *slog.Logger
}

// Option 定义可选配置。
type Option func(*Agent)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAgent 创建 Garden agent。
func NewAgent(cfg Config, policy *negotiation.Policy, store conversation.Store, tracker payment.Tracker, opts ...Option) (*Agent, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "garden agent address is required")
	}
	if policy == nil || store == nil || tracker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "garden agent requires policy, store and tracker")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = payment.SchemeSocial
	}
	a := &Agent{
		cfg:     cfg,
		policy:  policy,
		store:   store,
		tracker: tracker,
		stats:   NewAggregate(cfg.Address),
		now:     time.Now,
		logger:  logger.ForAgent("garden", cfg.Address),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	for _, amount := range policy.Config().TierAmounts {
		if err := a.paymentRequest(amount, "").Validate(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "garden agent payment tiers are invalid",
				xerrors.WithMetadata("amount", negotiation.FormatAmount(amount)))
		}
	}
	return a, nil
}

// Address 返回 agent 身份。
func (a *Agent) Address() string { return a.cfg.Address }

// Stats 返回当前的协商统计。
func (a *Agent) Stats() Stats { return a.stats.Snapshot() }

// RefreshStats 根据持久化的对话与付款记录重新计算统计。
// 重新计算期间若有新的状态转换，保留内存中的计数，留待下一次刷新。
func (a *Agent) RefreshStats(ctx context.Context) (Stats, error) {
	gen := a.stats.Generation()
	stats, err := Recompute(ctx, a.cfg.Address, a.store, a.tracker)
	if err != nil {
		return Stats{}, err
	}
	if !a.stats.ResetIfUnchanged(gen, stats) {
		a.logger.Debug("统计刷新期间有新的状态转换，保留增量统计")
		return a.stats.Snapshot(), nil
	}
	return stats, nil
}

// HandleInboundMessage 实现 agent.Handler。
func (a *Agent) HandleInboundMessage(ctx context.Context, msg transport.Message) (agent.Reply, error) {
	if a.isSelf(msg.SenderID) || !msg.IsText() {
		return agent.Reply{}, nil
	}

	conv, err := a.load(ctx, msg.SenderID)
	if err != nil {
		return agent.Reply{}, err
	}
	before := progressOf(conv)

	if commitment := payment.ParseCommitmentConfirmation(msg.Text); commitment.Complete() && conv != nil && conv.Proposal != nil {
		return a.commit(ctx, conv, msg, *commitment.Amount, before)
	}

	if conv == nil {
		if !a.policy.IsSupportIntent(msg.Text) {
			return agent.Say(negotiation.DeclineNotice), nil
		}
		return a.open(ctx, msg, before)
	}

	now := a.now()
	conv.Append(conversation.RoleCounterparty, msg.Text, now)

	var (
		reply string
		event string
		attrs []any
	)
	if amount, ok := a.policy.ExtractCounterOffer(msg.Text); ok {
		conv.CounterOffer = &amount
		conv.Rounds++
		eval := a.policy.EvaluateOffer(amount)
		attrs = append(attrs, slog.Float64("amount", amount), slog.Int("rounds", conv.Rounds))
		switch {
		case eval.Accepted:
			conv.MarkAccepted()
			request := a.paymentRequest(amount, "Garden contribution (counter-offer accepted)")
			reply = negotiation.FormatCounterAccepted(eval, amount, request.Instructions())
			event = "还价已接受"
		case a.cfg.RoundLimitEnforced && a.policy.RoundLimitReached(conv.Rounds):
			reply = negotiation.FormatRoundLimit(a.policy.Config().TierAmounts[negotiation.TierMinimum])
			event = "还价轮数超限"
		default:
			reply = negotiation.FormatCounterRejection(eval, a.policy.MinimumAcceptable())
			event = "还价被拒绝"
		}
	} else if tier, ok := a.policy.ExtractTierSelection(msg.Text); ok && conv.Proposal != nil {
		price := conv.Proposal.PriceOptions[tier]
		conv.MarkAccepted()
		request := a.paymentRequest(price, fmt.Sprintf("Garden contribution (%s tier)", negotiation.TierNames[tier]))
		reply = negotiation.FormatTierAccepted(tier, price, request.Instructions())
		event = "档位已选择"
		attrs = append(attrs, slog.String("tier", negotiation.TierNames[tier]), slog.Float64("amount", price))
	} else {
		reply = negotiation.FormatNegotiationPrompt()
	}

	conv.Append(conversation.RoleAgent, reply, now)
	if err := a.save(ctx, conv); err != nil {
		return agent.Reply{}, err
	}
	a.stats.Observe(before, progressOf(conv), 0)
	if event != "" {
		a.audit(event, conv, attrs...)
	}
	return agent.Say(reply), nil
}

// open 在首次识别到支持意图时创建对话并发送报价。
func (a *Agent) open(ctx context.Context, msg transport.Message, before progress) (agent.Reply, error) {
	now := a.now()
	conv := conversation.New(msg.SenderID, a.threadID(msg), now)
	proposal := a.policy.CreateProposal()
	conv.Proposal = &proposal

	reply := negotiation.FormatProposal(proposal)
	conv.Append(conversation.RoleCounterparty, msg.Text, now)
	conv.Append(conversation.RoleAgent, reply, now)
	if err := a.save(ctx, conv); err != nil {
		return agent.Reply{}, err
	}
	a.stats.Observe(before, progressOf(conv), 0)
	a.audit("发送报价", conv, slog.Float64("base_price", proposal.BasePriceAmount))
	return agent.Say(reply), nil
}

// commit 记录付款承诺。已承诺的对话只会再次确认，不会重复创建协议。
func (a *Agent) commit(ctx context.Context, conv *conversation.Conversation, msg transport.Message, amount float64, before progress) (agent.Reply, error) {
	now := a.now()
	committed := 0.0
	if !conv.PaymentCommitted {
		threadID := conv.ThreadID
		if threadID == "" {
			threadID = a.threadID(msg)
		}
		agreement, err := a.recordCommitment(ctx, threadID, amount, conv)
		if err != nil {
			return agent.Reply{}, err
		}
		conv.PaymentCommitted = true
		committed = agreement.Amount
	}
	conv.MarkAccepted()

	reply := negotiation.FormatCommitmentConfirmed(amount)
	conv.Append(conversation.RoleCounterparty, msg.Text, now)
	conv.Append(conversation.RoleAgent, reply, now)
	if err := a.save(ctx, conv); err != nil {
		return agent.Reply{}, err
	}
	a.stats.Observe(before, progressOf(conv), committed)
	a.audit("付款承诺已记录", conv,
		slog.Float64("amount", amount),
		slog.String("agreement_id", conv.PaymentAgreementID),
	)
	return agent.Say(reply), nil
}

// recordCommitment 创建协议并先把协议编号保存到对话中，再推进协议状态。
// 对话已关联协议时直接复用该协议，上一次保存失败后的重试不会重复计入金额。
func (a *Agent) recordCommitment(ctx context.Context, threadID string, amount float64, conv *conversation.Conversation) (*payment.Agreement, error) {
	var agreement *payment.Agreement
	if conv.PaymentAgreementID != "" {
		existing, err := a.tracker.Get(ctx, conv.PaymentAgreementID)
		if err != nil {
			return nil, storageError(err, "读取付款协议失败", conv.CounterpartyID)
		}
		agreement = existing
	}
	if agreement == nil {
		description := ""
		if conv.Proposal != nil {
			description = conv.Proposal.Description
		}
		created, err := a.tracker.RecordAgreement(ctx, threadID, amount, description, conv.CounterpartyID)
		if err != nil {
			return nil, storageError(err, "记录付款协议失败", conv.CounterpartyID)
		}
		conv.PaymentAgreementID = created.ID
		if err := a.save(ctx, conv); err != nil {
			return nil, err
		}
		agreement = created
	}
	if _, err := a.tracker.MarkCommitted(ctx, agreement.ID); err != nil {
		return nil, storageError(err, "标记付款已承诺失败", conv.CounterpartyID)
	}
	if _, err := a.tracker.MarkWorkStarted(ctx, agreement.ID); err != nil {
		return nil, storageError(err, "标记工作已开始失败", conv.CounterpartyID)
	}
	return agreement, nil
}

func (a *Agent) paymentRequest(amount float64, description string) payment.Request {
	return payment.NewRequest(payment.RequestParams{
		Scheme:      a.cfg.Scheme,
		Recipient:   a.cfg.Address,
		ChainID:     a.cfg.ChainID,
		Network:     a.cfg.Network,
		Amount:      amount,
		Description: description,
	})
}

func (a *Agent) load(ctx context.Context, counterpartyID string) (*conversation.Conversation, error) {
	conv, err := a.store.Load(ctx, counterpartyID)
	if err != nil {
		if conversation.IsNotFound(err) {
			return nil, nil
		}
		return nil, storageError(err, "读取对话失败", counterpartyID)
	}
	return conv, nil
}

func (a *Agent) save(ctx context.Context, conv *conversation.Conversation) error {
	if err := a.store.Save(ctx, conv); err != nil {
		return storageError(err, "保存对话失败", conv.CounterpartyID)
	}
	return nil
}

func (a *Agent) threadID(msg transport.Message) string {
	if msg.ThreadID != "" {
		return msg.ThreadID
	}
	return transport.ThreadID(msg.SenderID, a.cfg.Address)
}

func (a *Agent) isSelf(sender string) bool {
	return strings.EqualFold(strings.TrimSpace(sender), strings.TrimSpace(a.cfg.Address))
}

func (a *Agent) audit(event string, conv *conversation.Conversation, attrs ...any) {
	base := []any{
		slog.String("counterparty", conversation.NormalizeID(conv.CounterpartyID)),
		slog.String("thread_id", conv.ThreadID),
		slog.String("state", string(conv.State())),
	}
	logger.Audit().Info(event, append(base, attrs...)...)
}

// storageError 保留已有的错误码，未分类的错误视为存储失败。
func storageError(err error, message, counterpartyID string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	var opts []xerrors.Option
	if counterpartyID != "" {
		opts = append(opts, xerrors.WithMetadata("counterparty", counterpartyID))
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message, opts...)
}

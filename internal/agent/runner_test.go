package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"yield-garden/internal/activity"
	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/observability/alerting"
	"yield-garden/internal/transport"
)

type sentMessage struct {
	recipient string
	text      string
}

type fakeTransport struct {
	mu      sync.Mutex
	address string
	sent    []sentMessage
	sendErr error
}

func (f *fakeTransport) Address() string { return f.address }

func (f *fakeTransport) Send(_ context.Context, recipient, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{recipient: recipient, text: text})
	return "delivery-1", nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, _ int, _ transport.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Close() error { return nil }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func inbound(sender, text string) transport.Message {
	return transport.NewMessage(sender, "0xAgent", text, time.Now())
}

func TestRunnerSendsReplyAndRecordsActivity(t *testing.T) {
	tr := &fakeTransport{address: "0xAgent"}
	feed := activity.NewMemoryFeed(10)
	var afterCalls int
	handler := HandlerFunc(func(_ context.Context, msg transport.Message) (Reply, error) {
		return Say("echo: " + msg.Text), nil
	})
	runner := NewRunner(activity.AgentFarm, handler, tr,
		WithFeed(feed),
		WithAfterHandle(func(context.Context) { afterCalls++ }),
	)

	if err := runner.Handle(context.Background(), inbound("0xPeer", "hello")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0].recipient != "0xPeer" || tr.sent[0].text != "echo: hello" {
		t.Fatalf("unexpected sends: %+v", tr.sent)
	}
	entries, err := feed.Recent(context.Background(), activity.AgentFarm, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected inbound and outbound entries, got %d", len(entries))
	}
	if entries[0].Direction != activity.DirectionIn || entries[1].Direction != activity.DirectionOut {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if entries[1].Sender != "0xAgent" {
		t.Fatalf("outbound entry should be attributed to the agent, got %s", entries[1].Sender)
	}
	if entries[0].ConversationID != transport.ThreadID("0xPeer", "0xAgent") {
		t.Fatalf("unexpected conversation id %s", entries[0].ConversationID)
	}
	if afterCalls != 1 {
		t.Fatalf("expected after-handle hook once, got %d", afterCalls)
	}
}

func TestRunnerIgnoresOwnMessages(t *testing.T) {
	tr := &fakeTransport{address: "0xAgent"}
	feed := activity.NewMemoryFeed(10)
	called := false
	handler := HandlerFunc(func(context.Context, transport.Message) (Reply, error) {
		called = true
		return Say("should not happen"), nil
	})
	runner := NewRunner(activity.AgentGarden, handler, tr, WithFeed(feed))

	if err := runner.Handle(context.Background(), inbound("0xagent", "loop-back")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if called || len(tr.sent) != 0 {
		t.Fatalf("own message must not reach the handler")
	}
	entries, _ := feed.Recent(context.Background(), activity.AgentGarden, 10)
	if len(entries) != 0 {
		t.Fatalf("own message must not be recorded, got %d", len(entries))
	}
}

func TestRunnerSilentReply(t *testing.T) {
	tr := &fakeTransport{address: "0xAgent"}
	handler := HandlerFunc(func(context.Context, transport.Message) (Reply, error) {
		return Reply{}, nil
	})
	runner := NewRunner(activity.AgentGarden, handler, tr)
	if err := runner.Handle(context.Background(), inbound("0xPeer", "hi")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("no reply expected, got %+v", tr.sent)
	}
}

func TestRunnerHandlerErrorRaisesAlert(t *testing.T) {
	tr := &fakeTransport{address: "0xAgent"}
	alerts := &recordingDispatcher{}
	storeErr := xerrors.Wrap(xerrors.CodeStorageFailure, errors.New("redis down"), "保存会话失败")
	handler := HandlerFunc(func(context.Context, transport.Message) (Reply, error) {
		return Reply{}, storeErr
	})
	runner := NewRunner(activity.AgentGarden, handler, tr, WithAlertDispatcher(alerts))

	err := runner.Handle(context.Background(), inbound("0xPeer", "support"))
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("no reply may be sent when handling fails")
	}
	if len(alerts.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.events))
	}
	event := alerts.events[0]
	if event.Code != xerrors.CodeStorageFailure || event.Counterparty != "0xPeer" || event.Metadata["stage"] != "handle" {
		t.Fatalf("unexpected alert %+v", event)
	}
}

func TestRunnerSendFailureIsWrapped(t *testing.T) {
	tr := &fakeTransport{address: "0xAgent", sendErr: errors.New("network unreachable")}
	alerts := &recordingDispatcher{}
	handler := HandlerFunc(func(context.Context, transport.Message) (Reply, error) {
		return Say("hi"), nil
	})
	runner := NewRunner(activity.AgentFarm, handler, tr, WithAlertDispatcher(alerts))

	err := runner.Handle(context.Background(), inbound("0xPeer", "make me a cake"))
	if xerrors.CodeOf(err) != xerrors.CodeTransportFailure {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if len(alerts.events) != 1 || alerts.events[0].Metadata["stage"] != "send" {
		t.Fatalf("expected send alert, got %+v", alerts.events)
	}
}

func TestRunnerStartRequiresTransport(t *testing.T) {
	runner := NewRunner(activity.AgentFarm, nil, nil)
	if err := runner.Start(context.Background()); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestRunnerKeepsPerSenderOrderAcrossWorkers(t *testing.T) {
	const pairs = 200
	peers := []string{"0xPeerA", "0xPEERb", "0xPeerC"}
	hub := transport.NewHub(2 * pairs * len(peers))
	tr := hub.Endpoint("0xAgent")
	defer tr.Close()

	var (
		mu   sync.Mutex
		seen = make(map[string][]string)
		done = make(chan struct{})
	)
	total := 0
	handler := HandlerFunc(func(_ context.Context, msg transport.Message) (Reply, error) {
		if msg.Text[0] == 'a' {
			time.Sleep(100 * time.Microsecond)
		}
		mu.Lock()
		defer mu.Unlock()
		key := strings.ToLower(msg.SenderID)
		seen[key] = append(seen[key], msg.Text)
		total++
		if total == 2*pairs*len(peers) {
			close(done)
		}
		return Reply{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < pairs; i++ {
		for _, peer := range peers {
			for _, text := range []string{"a" + strconv.Itoa(i), "b" + strconv.Itoa(i)} {
				msg := transport.NewMessage(peer, "0xAgent", text, time.Now())
				if err := tr.Inject(ctx, msg); err != nil {
					t.Fatalf("inject: %v", err)
				}
			}
		}
	}

	runner := NewRunner(activity.AgentGarden, handler, tr, WithWorkerCount(4))
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Start(ctx) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("messages were not all handled")
	}
	cancel()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, peer := range peers {
		texts := seen[strings.ToLower(peer)]
		if len(texts) != 2*pairs {
			t.Fatalf("%s: expected %d messages, got %d", peer, 2*pairs, len(texts))
		}
		for i := 0; i < pairs; i++ {
			if texts[2*i] != "a"+strconv.Itoa(i) || texts[2*i+1] != "b"+strconv.Itoa(i) {
				t.Fatalf("%s: out of order at %d: %v", peer, i, texts[2*i:2*i+2])
			}
		}
	}
}

func TestLaneForIsStablePerSender(t *testing.T) {
	if laneFor("0xAbC", 8) != laneFor(" 0xabc ", 8) {
		t.Fatalf("case-varied sender ids must share a lane")
	}
	for _, sender := range []string{"0x1", "0x2", "0x3", "0x4"} {
		if lane := laneFor(sender, 3); lane < 0 || lane >= 3 {
			t.Fatalf("lane %d out of range", lane)
		}
	}
}

package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestMemoryFeedKeepsMostRecent(t *testing.T) {
	feed := NewMemoryFeed(5)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		agent := AgentFarm
		if i%2 == 1 {
			agent = AgentGarden
		}
		msg := NewStreamMessage(agent, DirectionIn, "0xabc", fmt.Sprintf("msg-%d", i), "thread", base.Add(time.Duration(i)*time.Second))
		if err := feed.Record(ctx, msg); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := feed.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 5 || all[0].Content != "msg-3" || all[4].Content != "msg-7" {
		t.Fatalf("unexpected buffer contents: %+v", all)
	}

	garden, _ := feed.Recent(ctx, AgentGarden, 2)
	if len(garden) != 2 || garden[0].Content != "msg-5" || garden[1].Content != "msg-7" {
		t.Fatalf("unexpected garden tail: %+v", garden)
	}
}

func TestMemoryFeedEmptyReturnsEmptySlice(t *testing.T) {
	feed := NewMemoryFeed(0)
	list, err := feed.Recent(context.Background(), AgentFarm, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", list)
	}
}

func TestMemoryFeedStats(t *testing.T) {
	feed := NewMemoryFeed(0)
	ctx := context.Background()

	if _, ok, _ := feed.LoadStats(ctx, AgentGarden); ok {
		t.Fatalf("expected no stats yet")
	}
	if err := Publish(ctx, feed, AgentGarden, map[string]int{"activeNegotiations": 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	raw, ok, err := feed.LoadStats(ctx, AgentGarden)
	if err != nil || !ok {
		t.Fatalf("load stats: %v %v", ok, err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["activeNegotiations"] != 2 {
		t.Fatalf("unexpected stats: %s", raw)
	}
}

func TestNewIDIsMonotonic(t *testing.T) {
	at := time.Now()
	first := NewID(at)
	second := NewID(at)
	if first >= second {
		t.Fatalf("expected increasing ids, got %s then %s", first, second)
	}
}

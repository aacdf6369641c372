package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Outcome labels for agent message handling.
const (
	OutcomeReplied = "replied"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
)

type messageKey struct {
	agent   string
	outcome string
}

type agentMetrics struct {
	mu       sync.Mutex
	messages map[messageKey]uint64
	sendErrs map[string]uint64
	latency  map[string]*histogram
}

var agentCollector = &agentMetrics{
	messages: make(map[messageKey]uint64),
	sendErrs: make(map[string]uint64),
	latency:  make(map[string]*histogram),
}

// ObserveAgentMessage records one inbound message handled by an agent.
func ObserveAgentMessage(agent, outcome string, duration time.Duration) {
	agentCollector.mu.Lock()
	defer agentCollector.mu.Unlock()

	agentCollector.messages[messageKey{agent: agent, outcome: outcome}]++
	hist := agentCollector.latency[agent]
	if hist == nil {
		hist = newHistogram()
		agentCollector.latency[agent] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveSendFailure records a failed outbound send.
func ObserveSendFailure(agent string) {
	agentCollector.mu.Lock()
	defer agentCollector.mu.Unlock()
	agentCollector.sendErrs[agent]++
}

func (m *agentMetrics) render(builder *strings.Builder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]messageKey, 0, len(m.messages))
	for key := range m.messages {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].agent != keys[j].agent {
			return keys[i].agent < keys[j].agent
		}
		return keys[i].outcome < keys[j].outcome
	})

	builder.WriteString("# HELP yield_agent_messages_total Inbound messages handled by agents.\n")
	builder.WriteString("# TYPE yield_agent_messages_total counter\n")
	for _, key := range keys {
		fmt.Fprintf(builder, "yield_agent_messages_total{agent=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.agent), escape(key.outcome), m.messages[key])
	}

	builder.WriteString("# HELP yield_agent_send_failures_total Outbound replies that could not be delivered.\n")
	builder.WriteString("# TYPE yield_agent_send_failures_total counter\n")
	for _, agent := range sortedKeys(m.sendErrs) {
		fmt.Fprintf(builder, "yield_agent_send_failures_total{agent=\"%s\"} %d\n", escape(agent), m.sendErrs[agent])
	}

	builder.WriteString("# HELP yield_agent_handle_duration_seconds Time spent handling one inbound message.\n")
	builder.WriteString("# TYPE yield_agent_handle_duration_seconds histogram\n")
	agents := make([]string, 0, len(m.latency))
	for agent := range m.latency {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		writeHistogram(builder, "yield_agent_handle_duration_seconds", fmt.Sprintf("agent=\"%s\"", escape(agent)), m.latency[agent])
	}
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

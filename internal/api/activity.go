package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"yield-garden/internal/activity"
)

// ActivityHandler 暴露某个 agent 的消息流与统计快照。
type ActivityHandler struct {
	feed  activity.Feed
	limit int
	now   func() time.Time
}

// NewActivityHandler 创建处理器，limit 是未指定 ?limit 时返回的条数。
func NewActivityHandler(feed activity.Feed, limit int) *ActivityHandler {
	if limit <= 0 {
		limit = 100
	}
	return &ActivityHandler{feed: feed, limit: limit, now: time.Now}
}

// Stream 按时间先后返回最近的消息。
func (h *ActivityHandler) Stream(agent activity.AgentType) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := h.limit
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = min(n, activity.DefaultBufferSize)
			}
		}
		messages, err := h.feed.Recent(c.Request.Context(), agent, limit)
		if err != nil {
			failWithError(c, err)
			return
		}
		if messages == nil {
			messages = []activity.StreamMessage{}
		}
		ok(c, messages)
	}
}

// GetStats 返回最近一次发布的统计快照，没有快照时返回全零默认值。
func (h *ActivityHandler) GetStats(agent activity.AgentType) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.loadStats(c, agent)
		if err != nil {
			failWithError(c, err)
			return
		}
		ok(c, stats)
	}
}

// PostStats 保存 agent 上报的统计快照并原样返回。
func (h *ActivityHandler) PostStats(agent activity.AgentType) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, http.StatusBadRequest, "failed to read request body")
			return
		}
		var object map[string]json.RawMessage
		if err := json.Unmarshal(body, &object); err != nil {
			fail(c, http.StatusBadRequest, "request body must be a JSON object")
			return
		}
		if err := h.feed.PublishStats(c.Request.Context(), agent, body); err != nil {
			failWithError(c, err)
			return
		}
		ok(c, json.RawMessage(body))
	}
}

// Consolidated 合并两个 agent 的统计快照。
func (h *ActivityHandler) Consolidated(c *gin.Context) {
	farmStats, err := h.loadStats(c, activity.AgentFarm)
	if err != nil {
		failWithError(c, err)
		return
	}
	gardenStats, err := h.loadStats(c, activity.AgentGarden)
	if err != nil {
		failWithError(c, err)
		return
	}
	ok(c, gin.H{
		"farm":      farmStats,
		"garden":    gardenStats,
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *ActivityHandler) loadStats(c *gin.Context, agent activity.AgentType) (any, error) {
	raw, found, err := h.feed.LoadStats(c.Request.Context(), agent)
	if err != nil {
		return nil, err
	}
	if !found {
		return defaultStats(agent), nil
	}
	return raw, nil
}

func defaultStats(agent activity.AgentType) gin.H {
	if agent == activity.AgentFarm {
		return gin.H{
			"requestCount":      0,
			"avgResponseTimeMs": 0,
			"recentResponses":   []any{},
		}
	}
	return gin.H{
		"activeNegotiations":    0,
		"completedNegotiations": 0,
		"totalCommittedUsdc":    0,
		"avgNegotiationRounds":  0,
	}
}

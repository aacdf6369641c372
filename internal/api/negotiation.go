package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yield-garden/internal/conversation"
	"yield-garden/internal/payment"
	"yield-garden/pkg/logger"
)

// NegotiationHandler 暴露 Garden 的协商记录。
type NegotiationHandler struct {
	store   conversation.Store
	tracker payment.Tracker
}

// NewNegotiationHandler 创建处理器，tracker 可以为空。
func NewNegotiationHandler(store conversation.Store, tracker payment.Tracker) *NegotiationHandler {
	return &NegotiationHandler{store: store, tracker: tracker}
}

// negotiationDetail 是单个对话及其付款承诺。
type negotiationDetail struct {
	*conversation.Conversation
	Agreements []*payment.Agreement `json:"agreements"`
}

// List 返回所有未过期的对话。
func (h *NegotiationHandler) List(c *gin.Context) {
	convs, err := conversation.LoadAll(c.Request.Context(), h.store)
	if err != nil {
		failWithError(c, err)
		return
	}
	ok(c, convs)
}

// Get 返回指定对话方的对话与对应线程下的付款承诺。
func (h *NegotiationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.store.Load(ctx, c.Param("address"))
	if err != nil {
		failWithError(c, err)
		return
	}
	detail := negotiationDetail{Conversation: conv, Agreements: []*payment.Agreement{}}
	if h.tracker != nil && conv.ThreadID != "" {
		agreements, err := h.tracker.ListByThread(ctx, conv.ThreadID)
		if err != nil {
			failWithError(c, err)
			return
		}
		if agreements != nil {
			detail.Agreements = agreements
		}
	}
	ok(c, detail)
}

// Delete 删除指定对话方的对话，对话不存在时同样成功。
func (h *NegotiationHandler) Delete(c *gin.Context) {
	address := c.Param("address")
	if err := h.store.Delete(c.Request.Context(), address); err != nil {
		failWithError(c, err)
		return
	}
	logger.Audit().Info("对话已被管理员删除",
		"counterparty", conversation.NormalizeID(address),
		"client_ip", c.ClientIP(),
	)
	c.JSON(http.StatusOK, envelope{Success: true, Data: gin.H{"deleted": conversation.NormalizeID(address)}})
}

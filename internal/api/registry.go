package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"yield-garden/internal/web3"
)

// Registry 是 API 需要的注册表只读视图，由 web3.RegistryClient 实现。
type Registry interface {
	Deployed() bool
	Describe(ctx context.Context, agent string) (web3.AgentInfo, error)
	GetAllAgents(ctx context.Context) ([]string, error)
}

// RegistryHandler 查询链上 AgentRegistry。
type RegistryHandler struct {
	registry Registry
}

// NewRegistryHandler 创建处理器，registry 为空视为未部署。
func NewRegistryHandler(registry Registry) *RegistryHandler {
	return &RegistryHandler{registry: registry}
}

func (h *RegistryHandler) deployed(c *gin.Context) bool {
	if h.registry == nil || !h.registry.Deployed() {
		fail(c, http.StatusNotFound, web3.ErrRegistryNotDeployed.Message())
		return false
	}
	return true
}

// Agent 返回单个地址的注册信息。
func (h *RegistryHandler) Agent(c *gin.Context) {
	if !h.deployed(c) {
		return
	}
	info, err := h.registry.Describe(c.Request.Context(), c.Param("address"))
	if err != nil {
		failWithError(c, err)
		return
	}
	ok(c, info)
}

// Agents 返回所有已注册地址。
func (h *RegistryHandler) Agents(c *gin.Context) {
	if !h.deployed(c) {
		return
	}
	agents, err := h.registry.GetAllAgents(c.Request.Context())
	if err != nil {
		failWithError(c, err)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	ok(c, agents)
}

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"yield-garden/internal/activity"
	"yield-garden/internal/config"
	"yield-garden/internal/conversation"
	"yield-garden/internal/observability/metrics"
	"yield-garden/internal/payment"
)

// Name 与 Version 出现在根路径的服务描述中。
const (
	Name    = "yield.garden API"
	Version = "0.1.0"
)

var endpoints = []string{
	"/farm/stream",
	"/farm/stats",
	"/garden/stream",
	"/garden/negotiations",
	"/garden/stats",
	"/stats",
	"/registry/agents",
	"/registry/agent/:address",
	"/health",
	"/metrics",
}

// Dependencies 汇总 API 读取的后端。
type Dependencies struct {
	Feed          activity.Feed
	Conversations conversation.Store
	Payments      payment.Tracker
	Registry      Registry
}

// Server 封装 HTTP 服务。
type Server struct {
	addr   string
	engine *gin.Engine
}

// NewServer 创建 API 服务并注册全部路由。
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	return &Server{addr: cfg.Address, engine: NewRouter(cfg, deps)}
}

// NewRouter 构建 gin 路由，测试中可直接通过 ServeHTTP 调用。
func NewRouter(cfg config.ServerConfig, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(observe(), recovery(), cors(cfg.CORSOrigins))

	activityHandler := NewActivityHandler(deps.Feed, cfg.StreamLimit)
	negotiationHandler := NewNegotiationHandler(deps.Conversations, deps.Payments)
	registryHandler := NewRegistryHandler(deps.Registry)

	router.GET("/", root)
	router.GET("/health", health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/stats", activityHandler.Consolidated)

	farmRouter(router.Group("/farm"), activityHandler)
	gardenRouter(router.Group("/garden"), activityHandler, negotiationHandler, cfg.AdminAPIKey)
	registryRouter(router.Group("/registry"), registryHandler)

	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Not Found")
	})
	return router
}

func farmRouter(rg *gin.RouterGroup, h *ActivityHandler) {
	rg.GET("/stream", h.Stream(activity.AgentFarm))
	rg.GET("/stats", h.GetStats(activity.AgentFarm))
	rg.POST("/stats", h.PostStats(activity.AgentFarm))
}

func gardenRouter(rg *gin.RouterGroup, h *ActivityHandler, n *NegotiationHandler, adminKey string) {
	rg.GET("/stream", h.Stream(activity.AgentGarden))
	rg.GET("/stats", h.GetStats(activity.AgentGarden))
	rg.POST("/stats", h.PostStats(activity.AgentGarden))
	rg.GET("/negotiations", n.List)
	rg.GET("/negotiations/:address", n.Get)
	rg.DELETE("/negotiations/:address", requireAdminKey(adminKey), n.Delete)
}

func registryRouter(rg *gin.RouterGroup, h *RegistryHandler) {
	rg.GET("/agents", h.Agents)
	rg.GET("/agent/:address", h.Agent)
}

func root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      Name,
		"version":   Version,
		"endpoints": endpoints,
	})
}

func health(c *gin.Context) {
	ok(c, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Handler 返回底层的 http.Handler。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 启动 HTTP 服务器，并在 ctx 取消时优雅关闭。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

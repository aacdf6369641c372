package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"yield-garden/internal/api"
	"yield-garden/internal/bootstrap"
	"yield-garden/internal/config"
	"yield-garden/internal/web3"
	"yield-garden/pkg/logger"
)

// main 是 yield.garden HTTP API 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("yield-api 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("YIELD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "yield.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.L().Warn("关闭存储组件失败", "error", err)
		}
	}()

	registry, err := web3.DialRegistry(ctx, cfg.Web3.RPCURL, cfg.Web3.RegistryAddress)
	if err != nil {
		return err
	}
	defer registry.Close()

	server := api.NewServer(cfg.Server, api.Dependencies{
		Feed:          backends.Feed,
		Conversations: backends.Conversations,
		Payments:      backends.Payments,
		Registry:      registry,
	})

	logger.L().Info("yield.garden API 启动",
		"address", cfg.Server.Address,
		"registry_deployed", registry.Deployed(),
		"network", web3.NetworkName(cfg.Web3.ChainID),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

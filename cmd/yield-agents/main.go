package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"yield-garden/internal/activity"
	"yield-garden/internal/agent"
	"yield-garden/internal/bootstrap"
	"yield-garden/internal/config"
	"yield-garden/internal/farm"
	"yield-garden/internal/garden"
	"yield-garden/internal/negotiation"
	"yield-garden/internal/observability/alerting"
	"yield-garden/internal/observability/metrics"
	"yield-garden/internal/payment"
	"yield-garden/internal/web3"
	"yield-garden/pkg/logger"
)

// statsRefreshInterval 控制 Garden 统计从存储重新计算的周期，对话过期后活跃数会随之下降。
const statsRefreshInterval = time.Minute

// main 是 Farm 与 Garden agents 的入口，未指定 -farm/-garden 时两者都运行。
func main() {
	var runFarm, runGarden bool
	flag.BoolVar(&runFarm, "farm", false, "运行 Farm agent")
	flag.BoolVar(&runFarm, "f", false, "-farm 的简写")
	flag.BoolVar(&runGarden, "garden", false, "运行 Garden agent")
	flag.BoolVar(&runGarden, "g", false, "-garden 的简写")
	flag.Parse()
	if !runFarm && !runGarden {
		runFarm, runGarden = true, true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, runFarm, runGarden); err != nil {
		log.Fatalf("yield-agents 运行失败: %v", err)
	}
}

func run(ctx context.Context, runFarm, runGarden bool) error {
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

	if err := cfg.ValidateAgents(runFarm, runGarden); err != nil {
		return err
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

	var registry *web3.RegistryClient
	if cfg.Web3.RegisterOnStart {
		registry, err = web3.DialRegistry(ctx, cfg.Web3.RPCURL, cfg.Web3.RegistryAddress)
		if err != nil {
			return err
		}
		defer registry.Close()
	}

	alerter := bootstrap.AlertDispatcher(cfg.Alerting)
	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddress != "" {
		group.Go(func() error {
			return ignoreCanceled(metrics.StartServer(groupCtx, cfg.Server.MetricsAddress))
		})
	}

	var (
		farmAgent   *farm.Agent
		gardenAgent *garden.Agent
	)

	if runFarm {
		farmAgent, err = startFarm(groupCtx, group, cfg, backends, registry, alerter)
		if err != nil {
			return err
		}
	}
	if runGarden {
		gardenAgent, err = startGarden(groupCtx, group, cfg, backends, registry, alerter)
		if err != nil {
			return err
		}
	}

	runErr := group.Wait()
	printFinalStats(farmAgent, gardenAgent)
	return runErr
}

func startFarm(ctx context.Context, group *errgroup.Group, cfg *config.Config, backends *bootstrap.Backends, registry *web3.RegistryClient, alerter alerting.Dispatcher) (*farm.Agent, error) {
	identity, err := web3.IdentityFromHex(cfg.Farm.PrivateKey)
	if err != nil {
		return nil, err
	}
	parser, err := farm.NewParser(cfg.Farm.CommandPatterns...)
	if err != nil {
		return nil, err
	}
	fa := farm.NewAgent(identity.Address(), parser)
	if err := register(ctx, cfg, registry, identity, web3.OntologyFarm); err != nil {
		return nil, err
	}

	tr, err := backends.Transport(identity.Address())
	if err != nil {
		return nil, err
	}
	publishStats(ctx, backends.Feed, activity.AgentFarm, fa.Stats())

	runner := agent.NewRunner(activity.AgentFarm, fa, tr,
		agent.WithWorkerCount(cfg.Transport.Workers),
		agent.WithFeed(backends.Feed),
		agent.WithAlertDispatcher(alerter),
		agent.WithLogger(logger.ForAgent(string(activity.AgentFarm), identity.Address())),
		agent.WithAfterHandle(func(ctx context.Context) {
			publishStats(ctx, backends.Feed, activity.AgentFarm, fa.Stats())
		}),
	)
	group.Go(func() error { return ignoreCanceled(runner.Start(ctx)) })

	logger.L().Info("Farm agent 已启动", "address", identity.Address())
	return fa, nil
}

func startGarden(ctx context.Context, group *errgroup.Group, cfg *config.Config, backends *bootstrap.Backends, registry *web3.RegistryClient, alerter alerting.Dispatcher) (*garden.Agent, error) {
	identity, err := web3.IdentityFromHex(cfg.Garden.PrivateKey)
	if err != nil {
		return nil, err
	}
	classifier, err := negotiation.NewPatternClassifier(cfg.Garden.SupportPatterns...)
	if err != nil {
		return nil, err
	}
	scheme, err := payment.ParseScheme(cfg.Garden.PaymentScheme)
	if err != nil {
		return nil, err
	}
	policy := negotiation.NewPolicy(negotiation.PolicyConfig{
		TierAmounts: cfg.Garden.TierAmounts,
		Flexibility: cfg.Garden.Flexibility,
		MaxRounds:   cfg.Garden.MaxRounds,
	}, classifier)

	ga, err := garden.NewAgent(garden.Config{
		Address:            identity.Address(),
		ChainID:            cfg.Web3.ChainID,
		Network:            web3.NetworkName(cfg.Web3.ChainID),
		Scheme:             scheme,
		RoundLimitEnforced: cfg.Garden.RoundLimitEnforced,
	}, policy, backends.Conversations, backends.Payments)
	if err != nil {
		return nil, err
	}
	if err := register(ctx, cfg, registry, identity, web3.OntologyGarden); err != nil {
		return nil, err
	}

	stats, err := ga.RefreshStats(ctx)
	if err != nil {
		return nil, err
	}
	publishStats(ctx, backends.Feed, activity.AgentGarden, stats)

	tr, err := backends.Transport(identity.Address())
	if err != nil {
		return nil, err
	}
	runner := agent.NewRunner(activity.AgentGarden, ga, tr,
		agent.WithWorkerCount(cfg.Transport.Workers),
		agent.WithFeed(backends.Feed),
		agent.WithAlertDispatcher(alerter),
		agent.WithLogger(logger.ForAgent(string(activity.AgentGarden), identity.Address())),
		agent.WithAfterHandle(func(ctx context.Context) {
			publishStats(ctx, backends.Feed, activity.AgentGarden, ga.Stats())
		}),
	)
	group.Go(func() error { return ignoreCanceled(runner.Start(ctx)) })
	group.Go(func() error {
		refreshLoop(ctx, ga, backends.Feed)
		return nil
	})

	logger.L().Info("Garden agent 已启动",
		"address", identity.Address(),
		"network", web3.NetworkName(cfg.Web3.ChainID),
		"scheme", scheme,
	)
	return ga, nil
}

// register 在配置允许且注册表已部署时将 agent 登记到链上，已登记的地址跳过。
func register(ctx context.Context, cfg *config.Config, registry *web3.RegistryClient, identity *web3.Identity, ontology web3.Ontology) error {
	if !cfg.Web3.RegisterOnStart {
		return nil
	}
	if !registry.Deployed() {
		logger.L().Warn("注册表未部署，跳过链上登记", "address", identity.Address())
		return nil
	}

	var (
		registered bool
		err        error
	)
	if ontology == web3.OntologyFarm {
		registered, err = registry.IsFarm(ctx, identity.Address())
	} else {
		registered, err = registry.IsGarden(ctx, identity.Address())
	}
	if err != nil {
		return err
	}
	if registered {
		logger.L().Info("agent 已在注册表中", "address", identity.Address())
		return nil
	}

	txHash, err := registry.Register(ctx, identity, cfg.Web3.ChainID, ontology)
	if err != nil {
		return err
	}
	logger.Audit().Info("agent 已提交链上登记", "address", identity.Address(), "ontology", ontology, "tx", txHash)
	return nil
}

func refreshLoop(ctx context.Context, ga *garden.Agent, feed activity.Feed) {
	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := ga.RefreshStats(ctx)
			if err != nil {
				logger.L().Warn("重新计算 Garden 统计失败", "error", err)
				continue
			}
			publishStats(ctx, feed, activity.AgentGarden, stats)
		}
	}
}

func publishStats(ctx context.Context, feed activity.Feed, kind activity.AgentType, stats any) {
	if err := activity.Publish(ctx, feed, kind, stats); err != nil {
		logger.L().Warn("发布统计快照失败", "agent", kind, "error", err)
	}
}

func printFinalStats(fa *farm.Agent, ga *garden.Agent) {
	final := make(map[string]any, 2)
	if fa != nil {
		final[string(activity.AgentFarm)] = fa.Stats()
	}
	if ga != nil {
		final[string(activity.AgentGarden)] = ga.Stats()
	}
	if len(final) == 0 {
		return
	}
	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		logger.L().Warn("编码最终统计失败", "error", err)
		return
	}
	fmt.Fprintf(os.Stdout, "最终统计:\n%s\n", data)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/farm"
	"yield-garden/internal/negotiation"
	"yield-garden/pkg/logger"
)

// Config 描述了 agents 与 API 在启动阶段需要加载的全部配置。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     logger.Config     `yaml:"logging"`
	Storage     StorageConfig     `yaml:"storage"`
	Transport   TransportConfig   `yaml:"transport"`
	Garden      GardenConfig      `yaml:"garden"`
	Farm        FarmConfig        `yaml:"farm"`
	Web3        Web3Config        `yaml:"web3"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Environment EnvironmentConfig `yaml:"environment"`
}

// ServerConfig 控制 API 服务的监听地址与跨域设置。MetricsAddress 仅供
// agents 进程单独暴露 /metrics，为空时不启动。
type ServerConfig struct {
	Address        string   `yaml:"address"`
	CORSOrigins    []string `yaml:"cors_origins"`
	StreamLimit    int      `yaml:"stream_limit"`
	AdminAPIKey    string   `yaml:"admin_api_key"`
	MetricsAddress string   `yaml:"metrics_address"`
}

// StorageConfig 统一描述 Redis、MySQL 等后端的连接信息。
type StorageConfig struct {
	Conversations ConversationStoreConfig `yaml:"conversations"`
	Payments      PaymentStoreConfig      `yaml:"payments"`
	Activity      ActivityConfig          `yaml:"activity"`
	Redis         RedisConfig             `yaml:"redis"`
}

// ConversationStoreConfig 选择会话存储的实现。
type ConversationStoreConfig struct {
	Driver     string `yaml:"driver"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// TTL 返回会话过期时间。
func (c ConversationStoreConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// PaymentStoreConfig 选择支付协议追踪器的实现。
type PaymentStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// ActivityConfig 描述消息流缓冲区。
type ActivityConfig struct {
	Driver     string `yaml:"driver"`
	BufferSize int    `yaml:"buffer_size"`
}

// RedisConfig 为所有 Redis 后端共用。
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TransportConfig 选择消息传输的实现。
type TransportConfig struct {
	Driver   string         `yaml:"driver"`
	Workers  int            `yaml:"workers"`
	Network  string         `yaml:"network"`
	Redis    RedisInbox     `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisInbox 配置基于 Redis list 的收件箱。
type RedisInbox struct {
	Prefix           string `yaml:"prefix"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 收件箱的连接参数。
type RabbitMQConfig struct {
	URL         string `yaml:"url"`
	QueuePrefix string `yaml:"queue_prefix"`
	Prefetch    int    `yaml:"prefetch"`
	Durable     bool   `yaml:"durable"`
}

// GardenConfig 描述 Garden agent 的协商策略。
type GardenConfig struct {
	Enabled            bool       `yaml:"enabled"`
	PrivateKey         string     `yaml:"private_key"`
	TierAmounts        [3]float64 `yaml:"tier_amounts"`
	Flexibility        float64    `yaml:"flexibility"`
	MaxRounds          int        `yaml:"max_rounds"`
	RoundLimitEnforced bool       `yaml:"round_limit_enforced"`
	SupportPatterns    []string   `yaml:"support_patterns"`
	PaymentScheme      string     `yaml:"payment_scheme"`
}

// FarmConfig 描述 Farm agent 的命令模式。
type FarmConfig struct {
	Enabled         bool     `yaml:"enabled"`
	PrivateKey      string   `yaml:"private_key"`
	CommandPatterns []string `yaml:"command_patterns"`
}

// Web3Config 包含访问链上注册表所需的参数。
type Web3Config struct {
	ChainID         int64  `yaml:"chain_id"`
	RPCURL          string `yaml:"rpc_url"`
	RegistryAddress string `yaml:"registry_address"`
	RegisterOnStart bool   `yaml:"register_on_start"`
}

// AlertingConfig 配置告警通知渠道。
type AlertingConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	LogOnly    bool   `yaml:"log_only"`
}

// EnvironmentConfig 控制 .env 文件的加载。
type EnvironmentConfig struct {
	DotEnvFiles []string `yaml:"dotenv_files"`
}

// Default 返回全部字段填充默认值后的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.Garden.Enabled = true
	cfg.Farm.Enabled = true
	cfg.applyDefaults()
	return cfg
}

// Load 解析 YAML 配置文件，加载 .env 并应用环境变量覆盖。
// path 为空或文件不存在时使用默认配置。
func Load(path string) (*Config, error) {
	cfg := &Config{Garden: GardenConfig{Enabled: true}, Farm: FarmConfig{Enabled: true}}

	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(content, cfg); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败")
			}
		case errors.Is(err, os.ErrNotExist):
			logger.L().Warn("配置文件不存在，使用默认配置", "path", path)
		default:
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取配置文件失败")
		}
	}

	loadDotEnv(cfg.Environment.DotEnvFiles, filepath.Dir(path))
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func loadDotEnv(files []string, baseDir string) {
	if len(files) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, name := range files {
		if !filepath.IsAbs(name) && baseDir != "" {
			name = filepath.Join(baseDir, name)
		}
		if err := godotenv.Load(name); err != nil {
			logger.L().Debug("跳过 .env 文件", "path", name, "error", err)
		}
	}
}

// applyEnv 让环境变量覆盖文件中的配置，变量名与原有部署脚本保持一致。
func (c *Config) applyEnv() {
	setString(&c.Garden.PrivateKey, "GARDEN_AGENT_KEY")
	setString(&c.Farm.PrivateKey, "FARM_AGENT_KEY")
	setString(&c.Storage.Redis.URL, "REDIS_URL")
	setString(&c.Storage.Payments.DSN, "MYSQL_DSN")
	setString(&c.Transport.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&c.Transport.Network, "XMTP_ENV")
	setString(&c.Web3.RPCURL, "BASE_SEPOLIA_RPC")
	setString(&c.Web3.RegistryAddress, "REGISTRY_ADDRESS")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Server.AdminAPIKey, "ADMIN_API_KEY")
	setString(&c.Server.MetricsAddress, "METRICS_ADDRESS")

	if raw := strings.TrimSpace(os.Getenv("CHAIN_ID")); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.Web3.ChainID = id
		}
	}
	if raw := strings.TrimSpace(os.Getenv("API_PORT")); raw != "" {
		c.Server.Address = ":" + strings.TrimPrefix(raw, ":")
	}
	if raw := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); raw != "" {
		c.Server.CORSOrigins = splitList(raw)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"http://localhost:3000"}
	}
	if c.Server.StreamLimit <= 0 {
		c.Server.StreamLimit = 100
	}

	if c.Storage.Conversations.Driver == "" {
		c.Storage.Conversations.Driver = "memory"
	}
	if c.Storage.Conversations.TTLSeconds <= 0 {
		c.Storage.Conversations.TTLSeconds = 86400
	}
	if c.Storage.Conversations.KeyPrefix == "" {
		c.Storage.Conversations.KeyPrefix = "garden:conv:"
	}
	if c.Storage.Payments.Driver == "" {
		c.Storage.Payments.Driver = "memory"
	}
	if c.Storage.Activity.Driver == "" {
		c.Storage.Activity.Driver = "memory"
	}
	if c.Storage.Activity.BufferSize <= 0 {
		c.Storage.Activity.BufferSize = 1000
	}
	if c.Storage.Redis.URL == "" {
		c.Storage.Redis.URL = "redis://localhost:6379"
	}

	if c.Transport.Driver == "" {
		c.Transport.Driver = "memory"
	}
	if c.Transport.Workers <= 0 {
		c.Transport.Workers = 1
	}
	if c.Transport.Network == "" {
		c.Transport.Network = "dev"
	}
	if c.Transport.Redis.Prefix == "" {
		c.Transport.Redis.Prefix = "yield:inbox:"
	}
	if c.Transport.Redis.BlockWaitSeconds <= 0 {
		c.Transport.Redis.BlockWaitSeconds = 5
	}
	if c.Transport.RabbitMQ.QueuePrefix == "" {
		c.Transport.RabbitMQ.QueuePrefix = "yield.inbox."
	}

	if c.Garden.TierAmounts == [3]float64{} {
		c.Garden.TierAmounts = [3]float64{5, 25, 100}
	}
	if c.Garden.Flexibility <= 0 || c.Garden.Flexibility >= 1 {
		c.Garden.Flexibility = 0.2
	}
	if c.Garden.MaxRounds <= 0 {
		c.Garden.MaxRounds = 3
	}
	if len(c.Garden.SupportPatterns) == 0 {
		c.Garden.SupportPatterns = append([]string(nil), negotiation.DefaultSupportPatterns...)
	}
	if c.Garden.PaymentScheme == "" {
		c.Garden.PaymentScheme = "social"
	}
	if len(c.Farm.CommandPatterns) == 0 {
		c.Farm.CommandPatterns = append([]string(nil), farm.DefaultCommandPatterns...)
	}

	if c.Web3.ChainID == 0 {
		c.Web3.ChainID = 84532
	}
	if c.Web3.RPCURL == "" {
		c.Web3.RPCURL = "https://sepolia.base.org"
	}
	if c.Web3.RegistryAddress == "" {
		c.Web3.RegistryAddress = "0x0000000000000000000000000000000000000000"
	}
}

// ValidateAgents 检查已启用 agent 的身份配置，缺失时进程不得启动。
func (c *Config) ValidateAgents(runFarm, runGarden bool) error {
	if runGarden && strings.TrimSpace(c.Garden.PrivateKey) == "" {
		return xerrors.New(xerrors.CodeConfigInvalid, "GARDEN_AGENT_KEY environment variable required")
	}
	if runFarm && strings.TrimSpace(c.Farm.PrivateKey) == "" {
		return xerrors.New(xerrors.CodeConfigInvalid, "FARM_AGENT_KEY environment variable required")
	}
	tiers := c.Garden.TierAmounts
	if runGarden && !(tiers[0] > 0 && tiers[0] <= tiers[1] && tiers[1] <= tiers[2]) {
		return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("价格档位必须为正且升序: %v", tiers))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

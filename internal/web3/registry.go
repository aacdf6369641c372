package web3

import (
	"context"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "yield-garden/internal/errors"
)

// CodeRegistryNotDeployed 表示当前网络没有配置注册表合约。
const CodeRegistryNotDeployed xerrors.Code = "REGISTRY_NOT_DEPLOYED"

// ErrRegistryNotDeployed 在注册表地址为空或零地址时返回。
var ErrRegistryNotDeployed = xerrors.New(CodeRegistryNotDeployed, "Registry not deployed")

func init() {
	xerrors.Register(CodeRegistryNotDeployed, xerrors.Attributes{
		Message:  "Registry not deployed",
		Severity: xerrors.SeverityInfo,
	})
}

// AgentRegistryABI 是 AgentRegistry 合约中 agents 使用到的部分。
const AgentRegistryABI = `[
  {"inputs":[{"internalType":"enum AgentRegistry.Ontology","name":"ontology","type":"uint8"}],"name":"register","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"agent","type":"address"}],"name":"isFarm","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"agent","type":"address"}],"name":"isGarden","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"agent","type":"address"}],"name":"getAgent","outputs":[{"components":[{"internalType":"enum AgentRegistry.Ontology","name":"ontology","type":"uint8"},{"internalType":"uint256","name":"genesisTimestamp","type":"uint256"},{"internalType":"bool","name":"registered","type":"bool"}],"internalType":"struct AgentRegistry.Agent","name":"","type":"tuple"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getAllAgents","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getAgentCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"agent","type":"address"},{"indexed":true,"internalType":"enum AgentRegistry.Ontology","name":"ontology","type":"uint8"},{"indexed":false,"internalType":"uint256","name":"genesisTimestamp","type":"uint256"}],"name":"AgentRegistered","type":"event"}
]`

// Ontology 与合约中的枚举取值一致。
type Ontology uint8

const (
	OntologyFarm   Ontology = 0
	OntologyGarden Ontology = 1
)

// ParseOntology 将 "farm"/"garden" 转换为合约枚举。
func ParseOntology(kind string) (Ontology, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "farm":
		return OntologyFarm, nil
	case "garden":
		return OntologyGarden, nil
	}
	return 0, xerrors.New(xerrors.CodeInvalidArgument, "unknown ontology "+kind)
}

// agentRecord 对应合约中的 AgentRegistry.Agent 结构。
type agentRecord struct {
	Ontology         uint8
	GenesisTimestamp *big.Int
	Registered       bool
}

// AgentInfo 汇总某个地址在注册表中的信息。
type AgentInfo struct {
	Address          string `json:"address"`
	Ontology         uint8  `json:"ontology"`
	GenesisTimestamp int64  `json:"genesisTimestamp"`
	Registered       bool   `json:"registered"`
	IsFarm           bool   `json:"isFarm"`
	IsGarden         bool   `json:"isGarden"`
}

// RegistryClient 读写 AgentRegistry 合约。
type RegistryClient struct {
	address common.Address
	abi     abi.ABI
	caller  gethcore.ContractCaller
	backend bind.ContractBackend
	closer  func()
}

// RegistryOption 定义可选配置。
type RegistryOption func(*RegistryClient)

// WithContractBackend 配置用于提交交易的后端。
func WithContractBackend(backend bind.ContractBackend) RegistryOption {
	return func(c *RegistryClient) {
		c.backend = backend
	}
}

// NewRegistryClient 使用给定的只读调用端构造客户端。
func NewRegistryClient(registryAddress string, caller gethcore.ContractCaller, opts ...RegistryOption) (*RegistryClient, error) {
	parsed, err := abi.JSON(strings.NewReader(AgentRegistryABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析 AgentRegistry ABI 失败")
	}
	c := &RegistryClient{abi: parsed, caller: caller}
	if raw := strings.TrimSpace(registryAddress); common.IsHexAddress(raw) {
		c.address = common.HexToAddress(raw)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// DialRegistry 连接 RPC 节点并返回注册表客户端。注册表未部署时不建立连接。
func DialRegistry(ctx context.Context, rpcURL, registryAddress string) (*RegistryClient, error) {
	client, err := NewRegistryClient(registryAddress, nil)
	if err != nil {
		return nil, err
	}
	if !client.Deployed() {
		return client, nil
	}
	eth, err := ethclient.DialContext(ctx, strings.TrimSpace(rpcURL))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "连接链节点失败")
	}
	client.caller = eth
	client.backend = eth
	client.closer = eth.Close
	return client, nil
}

// Deployed 报告是否配置了非零的注册表地址。
func (c *RegistryClient) Deployed() bool {
	return c != nil && c.address != (common.Address{})
}

// Address 返回注册表合约地址。
func (c *RegistryClient) Address() string {
	return c.address.Hex()
}

// IsFarm 查询地址是否注册为 farm。
func (c *RegistryClient) IsFarm(ctx context.Context, agent string) (bool, error) {
	return c.callBool(ctx, "isFarm", agent)
}

// IsGarden 查询地址是否注册为 garden。
func (c *RegistryClient) IsGarden(ctx context.Context, agent string) (bool, error) {
	return c.callBool(ctx, "isGarden", agent)
}

// GetAgent 返回合约中记录的 ontology、创世时间与注册状态。
func (c *RegistryClient) GetAgent(ctx context.Context, agent string) (AgentInfo, error) {
	addr, err := parseAddress(agent)
	if err != nil {
		return AgentInfo{}, err
	}
	out, err := c.call(ctx, "getAgent", addr)
	if err != nil {
		return AgentInfo{}, err
	}
	record := *abi.ConvertType(out[0], new(agentRecord)).(*agentRecord)
	info := AgentInfo{Address: addr.Hex(), Ontology: record.Ontology, Registered: record.Registered}
	if record.GenesisTimestamp != nil {
		info.GenesisTimestamp = record.GenesisTimestamp.Int64()
	}
	return info, nil
}

// Describe 汇总 GetAgent、IsFarm 与 IsGarden 的结果。
func (c *RegistryClient) Describe(ctx context.Context, agent string) (AgentInfo, error) {
	info, err := c.GetAgent(ctx, agent)
	if err != nil {
		return AgentInfo{}, err
	}
	if info.IsFarm, err = c.IsFarm(ctx, agent); err != nil {
		return AgentInfo{}, err
	}
	if info.IsGarden, err = c.IsGarden(ctx, agent); err != nil {
		return AgentInfo{}, err
	}
	return info, nil
}

// GetAllAgents 返回所有已注册地址。
func (c *RegistryClient) GetAllAgents(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, "getAllAgents")
	if err != nil {
		return nil, err
	}
	addrs := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.Hex())
	}
	return result, nil
}

// AgentCount 返回已注册 agent 数量。
func (c *RegistryClient) AgentCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "getAgentCount")
	if err != nil {
		return 0, err
	}
	count := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return count.Uint64(), nil
}

// Register 以 identity 身份提交注册交易，返回交易哈希。
func (c *RegistryClient) Register(ctx context.Context, identity *Identity, chainID int64, ontology Ontology) (string, error) {
	if !c.Deployed() {
		return "", ErrRegistryNotDeployed
	}
	if c.backend == nil || identity == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "注册需要交易后端与身份")
	}
	auth, err := identity.Transactor(chainID)
	if err != nil {
		return "", err
	}
	auth.Context = ctx

	contract := bind.NewBoundContract(c.address, c.abi, c.backend, c.backend, c.backend)
	tx, err := contract.Transact(auth, "register", uint8(ontology))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "提交注册交易失败")
	}
	return tx.Hash().Hex(), nil
}

// Close 释放 RPC 连接。
func (c *RegistryClient) Close() {
	if c != nil && c.closer != nil {
		c.closer()
		c.closer = nil
	}
}

func (c *RegistryClient) callBool(ctx context.Context, method, agent string) (bool, error) {
	addr, err := parseAddress(agent)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, method, addr)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *RegistryClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if !c.Deployed() {
		return nil, ErrRegistryNotDeployed
	}
	if c.caller == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册表客户端缺少链访问后端")
	}
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码合约调用失败")
	}
	output, err := c.caller.CallContract(ctx, gethcore.CallMsg{To: &c.address, Data: input}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, method+" 调用失败")
	}
	values, err := c.abi.Unpack(method, output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, method+" 返回值解析失败")
	}
	if len(values) == 0 {
		return nil, xerrors.New(xerrors.CodeChainFailure, method+" 没有返回值")
	}
	return values, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "invalid address "+raw)
	}
	return common.HexToAddress(raw), nil
}

package web3

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "yield-garden/internal/errors"
)

const (
	registryAddr = "0x1111111111111111111111111111111111111111"
	farmAddr     = "0x2222222222222222222222222222222222222222"
	gardenAddr   = "0x3333333333333333333333333333333333333333"
)

// fakeRegistry 按方法选择器返回预先编码的结果。
type fakeRegistry struct {
	t       *testing.T
	abi     abi.ABI
	results map[string][]any
	err     error
	calls   []string
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(AgentRegistryABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &fakeRegistry{t: t, abi: parsed, results: make(map[string][]any)}
}

func (f *fakeRegistry) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if msg.To == nil || *msg.To != common.HexToAddress(registryAddr) {
		f.t.Fatalf("unexpected call target %v", msg.To)
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		f.t.Fatalf("unknown selector: %v", err)
	}
	f.calls = append(f.calls, method.Name)
	key := method.Name
	if len(method.Inputs) > 0 {
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			f.t.Fatalf("unpack args: %v", err)
		}
		key += ":" + args[0].(common.Address).Hex()
	}
	values, ok := f.results[key]
	if !ok {
		f.t.Fatalf("no result configured for %s", key)
	}
	return method.Outputs.Pack(values...)
}

type registryAgent struct {
	Ontology         uint8
	GenesisTimestamp *big.Int
	Registered       bool
}

func TestRegistryDescribe(t *testing.T) {
	fake := newFakeRegistry(t)
	gardenKey := common.HexToAddress(gardenAddr).Hex()
	fake.results["getAgent:"+gardenKey] = []any{registryAgent{Ontology: 1, GenesisTimestamp: big.NewInt(1700000000), Registered: true}}
	fake.results["isFarm:"+gardenKey] = []any{false}
	fake.results["isGarden:"+gardenKey] = []any{true}

	client, err := NewRegistryClient(registryAddr, fake)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	info, err := client.Describe(context.Background(), strings.ToLower(gardenAddr))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := AgentInfo{Address: gardenKey, Ontology: 1, GenesisTimestamp: 1700000000, Registered: true, IsGarden: true}
	if info != want {
		t.Fatalf("got %+v, want %+v", info, want)
	}
	if strings.Join(fake.calls, ",") != "getAgent,isFarm,isGarden" {
		t.Fatalf("unexpected calls %v", fake.calls)
	}
}

func TestRegistryListAndCount(t *testing.T) {
	fake := newFakeRegistry(t)
	fake.results["getAllAgents"] = []any{[]common.Address{common.HexToAddress(farmAddr), common.HexToAddress(gardenAddr)}}
	fake.results["getAgentCount"] = []any{big.NewInt(2)}

	client, _ := NewRegistryClient(registryAddr, fake)
	agents, err := client.GetAllAgents(context.Background())
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(agents) != 2 || !strings.EqualFold(agents[0], farmAddr) {
		t.Fatalf("unexpected agents %v", agents)
	}
	count, err := client.AgentCount(context.Background())
	if err != nil || count != 2 {
		t.Fatalf("count = %d, %v", count, err)
	}
}

func TestRegistryNotDeployed(t *testing.T) {
	for _, addr := range []string{"", "0x0000000000000000000000000000000000000000", "not-an-address"} {
		client, err := NewRegistryClient(addr, newFakeRegistry(t))
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		if client.Deployed() {
			t.Fatalf("%q should not count as deployed", addr)
		}
		if _, err := client.GetAllAgents(context.Background()); !errors.Is(err, ErrRegistryNotDeployed) {
			t.Fatalf("expected not deployed, got %v", err)
		}
		if _, err := client.Register(context.Background(), nil, 84532, OntologyFarm); !errors.Is(err, ErrRegistryNotDeployed) {
			t.Fatalf("register should report not deployed, got %v", err)
		}
	}
}

func TestRegistryErrors(t *testing.T) {
	fake := newFakeRegistry(t)
	client, _ := NewRegistryClient(registryAddr, fake)

	if _, err := client.IsFarm(context.Background(), "0x123"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	fake.err = errors.New("rpc down")
	if _, err := client.IsFarm(context.Background(), farmAddr); xerrors.CodeOf(err) != xerrors.CodeChainFailure {
		t.Fatalf("expected chain failure, got %v", err)
	}
	if _, err := client.Register(context.Background(), nil, 84532, OntologyFarm); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("register without backend should fail, got %v", err)
	}
}

func TestParseOntology(t *testing.T) {
	if o, err := ParseOntology("Garden"); err != nil || o != OntologyGarden {
		t.Fatalf("garden = %v, %v", o, err)
	}
	if o, err := ParseOntology("farm"); err != nil || o != OntologyFarm {
		t.Fatalf("farm = %v, %v", o, err)
	}
	if _, err := ParseOntology("orchard"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIdentityFromHex(t *testing.T) {
	// 0x...01 私钥对应的地址是固定的。
	id, err := IdentityFromHex("0x0000000000000000000000000000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.Address() != "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf" {
		t.Fatalf("unexpected address %s", id.Address())
	}
	auth, err := id.Transactor(84532)
	if err != nil || auth.From.Hex() != id.Address() {
		t.Fatalf("transactor mismatch: %v", err)
	}
	if _, err := IdentityFromHex(""); xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := IdentityFromHex("zz"); xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestNetworkName(t *testing.T) {
	if NetworkName(84532) != "Base Sepolia" || NetworkName(8453) != "Base" {
		t.Fatalf("unexpected names")
	}
	if NetworkName(42) != "chain-42" {
		t.Fatalf("unknown chain should fall back, got %s", NetworkName(42))
	}
	if chain, ok := LookupChain(8453); !ok || chain.DefaultRPC == "" {
		t.Fatalf("base should be known")
	}
}

package web3

import "fmt"

// Chain 描述一条受支持的 EVM 网络。
type Chain struct {
	ID         int64
	Name       string
	DefaultRPC string
}

var knownChains = map[int64]Chain{
	1:     {ID: 1, Name: "Ethereum Mainnet", DefaultRPC: "https://eth.llamarpc.com"},
	8453:  {ID: 8453, Name: "Base", DefaultRPC: "https://mainnet.base.org"},
	84532: {ID: 84532, Name: "Base Sepolia", DefaultRPC: "https://sepolia.base.org"},
}

// LookupChain 返回已知网络的元数据。
func LookupChain(id int64) (Chain, bool) {
	chain, ok := knownChains[id]
	return chain, ok
}

// NetworkName 返回网络的展示名称，未知网络返回 "chain-<id>"。
func NetworkName(id int64) string {
	if chain, ok := knownChains[id]; ok {
		return chain.Name
	}
	return fmt.Sprintf("chain-%d", id)
}

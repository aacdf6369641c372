// Package web3 封装 agents 与链上 AgentRegistry 合约的交互：
// 从私钥派生身份、查询 farm/garden 注册信息以及提交注册交易。
package web3

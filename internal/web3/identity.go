package web3

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "yield-garden/internal/errors"
)

// Identity 是由私钥派生的 agent 身份。
type Identity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// IdentityFromHex 解析十六进制私钥，可带 0x 前缀。
func IdentityFromHex(raw string) (*Identity, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "agent private key is empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "invalid agent private key")
	}
	return &Identity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address 返回 EIP-55 校验格式的地址。
func (i *Identity) Address() string {
	return i.address.Hex()
}

// Transactor 返回在指定链上签名交易的 TransactOpts。
func (i *Identity) Transactor(chainID int64) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(i.key, big.NewInt(chainID))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "build transactor")
	}
	return auth, nil
}

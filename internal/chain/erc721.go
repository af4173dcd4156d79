// Package chain reads asset ownership from an ERC-721 contract.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc721OwnerABI covers the single view method the oracle calls.
const erc721OwnerABI = `[
	{
		"inputs": [{"internalType": "uint256", "name": "tokenId", "type": "uint256"}],
		"name": "ownerOf",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ErrInvalidAssetRef is returned when an asset id cannot be mapped to a
// contract and token id.
var ErrInvalidAssetRef = errors.New("asset id is not <contract>:<tokenId> or <tokenId>")

// ContractCaller is the read-only subset of ethclient.Client the oracle needs.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC721Oracle answers ownership questions with ownerOf(tokenId) calls.
type ERC721Oracle struct {
	caller      ContractCaller
	abi         abi.ABI
	contract    common.Address
	callTimeout time.Duration
}

// Dial connects to rpcURL and returns an oracle for the default contract.
func Dial(ctx context.Context, rpcURL, contract string, callTimeout time.Duration) (*ERC721Oracle, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain.Dial: %w", err)
	}
	o, err := NewERC721Oracle(client, contract, callTimeout)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return o, client, nil
}

// NewERC721Oracle creates an oracle over caller. contract is used for asset
// ids that carry only a token id.
func NewERC721Oracle(caller ContractCaller, contract string, callTimeout time.Duration) (*ERC721Oracle, error) {
	parsed, err := abi.JSON(strings.NewReader(erc721OwnerABI))
	if err != nil {
		return nil, fmt.Errorf("chain.NewERC721Oracle: parse abi: %w", err)
	}
	o := &ERC721Oracle{caller: caller, abi: parsed, callTimeout: callTimeout}
	if contract != "" {
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("chain.NewERC721Oracle: contract %q is not an address", contract)
		}
		o.contract = common.HexToAddress(contract)
	}
	return o, nil
}

// IsOwner reports whether identity owns assetID. A token that does not exist
// (ownerOf reverts) is owned by nobody.
func (o *ERC721Oracle) IsOwner(ctx context.Context, assetID, identity string) (bool, error) {
	contract, tokenID, err := o.parseAsset(assetID)
	if err != nil {
		return false, err
	}
	if !common.IsHexAddress(identity) {
		return false, nil
	}

	data, err := o.abi.Pack("ownerOf", tokenID)
	if err != nil {
		return false, fmt.Errorf("chain.IsOwner: pack: %w", err)
	}
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}
	out, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return false, nil
		}
		return false, fmt.Errorf("chain.IsOwner: call ownerOf(%s): %w", tokenID, err)
	}

	values, err := o.abi.Unpack("ownerOf", out)
	if err != nil || len(values) != 1 {
		return false, fmt.Errorf("chain.IsOwner: unpack ownerOf result: %w", err)
	}
	owner := *abi.ConvertType(values[0], new(common.Address)).(*common.Address)
	return owner == common.HexToAddress(identity), nil
}

// parseAsset maps "<contract>:<tokenId>" or "<tokenId>" to a call target.
// Token ids are decimal or 0x-prefixed hex.
func (o *ERC721Oracle) parseAsset(assetID string) (common.Address, *big.Int, error) {
	contract, token := o.contract, strings.TrimSpace(assetID)
	if i := strings.LastIndex(token, ":"); i >= 0 {
		if !common.IsHexAddress(token[:i]) {
			return common.Address{}, nil, ErrInvalidAssetRef
		}
		contract, token = common.HexToAddress(token[:i]), token[i+1:]
	}
	if contract == (common.Address{}) {
		return common.Address{}, nil, ErrInvalidAssetRef
	}
	id, ok := new(big.Int).SetString(token, 0)
	if !ok || id.Sign() < 0 {
		return common.Address{}, nil, ErrInvalidAssetRef
	}
	return contract, id, nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// Package dispenser speaks to the on-chain NFT dispenser contract: read-only
// state queries, the time-bounded config cache, and the award dispatcher.
package dispenser

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// contractABI covers the subset of the dispenser contract the bot consumes.
const contractABI = `[
	{"type":"function","name":"addUpvotes","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"upvotesRequired","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getQueuedNFTs","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"userUpvotes","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Backend is the subset of the Ethereum RPC client the dispenser package
// uses. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Client wraps read access to the dispenser contract.
type Client struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
}

// NewClient binds the dispenser contract at address over the given backend.
func NewClient(backend Backend, contract common.Address) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse dispenser abi: %w", err)
	}
	return &Client{backend: backend, contract: contract, abi: parsed}, nil
}

// Contract returns the bound contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// UpvotesRequired reads the contract's current dynamic award threshold.
func (c *Client) UpvotesRequired(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "upvotesRequired")
	if err != nil {
		return 0, err
	}
	value, ok := out[0].(*big.Int)
	if !ok || !value.IsUint64() {
		return 0, fmt.Errorf("upvotesRequired: unexpected value")
	}
	return value.Uint64(), nil
}

// QueuedNFTs reads the ordered inventory queue. Its length is the number of
// awards the contract can still satisfy.
func (c *Client) QueuedNFTs(ctx context.Context) ([]*big.Int, error) {
	out, err := c.call(ctx, "getQueuedNFTs")
	if err != nil {
		return nil, err
	}
	ids, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getQueuedNFTs: unexpected value")
	}
	return ids, nil
}

// UserUpvotes reads a user's accumulated, not-yet-awarded vote count.
func (c *Client) UserUpvotes(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "userUpvotes", user)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("userUpvotes: unexpected value")
	}
	return value, nil
}

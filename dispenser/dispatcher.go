package dispenser

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// gas price adjustment applied over the node's suggestion, in percent. The
// bump keeps award submissions from sitting behind replacements priced at the
// bare baseline.
const gasPriceBumpPercent = 20

// Dispatcher submits addUpvotes transactions under the bot's signing
// identity. Submission is fire-and-forget: success means the transaction was
// accepted into the pending pool, not that it was mined.
type Dispatcher struct {
	client  *Client
	signer  *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// NewDispatcher constructs a dispatcher signing as the given key on chainID.
func NewDispatcher(client *Client, signer *ecdsa.PrivateKey, chainID *big.Int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:  client,
		signer:  signer,
		from:    gethcrypto.PubkeyToAddress(signer.PublicKey),
		chainID: chainID,
		logger:  logger,
	}
}

// From returns the dispatcher's signing address.
func (d *Dispatcher) From() common.Address {
	return d.from
}

// AddUpvotes grants amount votes to user on the dispenser contract. The call
// is simulated before submission so revert conditions fail cheaply. Returns
// the transaction hash once the node accepts the submission.
func (d *Dispatcher) AddUpvotes(ctx context.Context, user common.Address, amount *big.Int) (common.Hash, error) {
	data, err := d.client.abi.Pack("addUpvotes", user, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack addUpvotes: %w", err)
	}
	contract := d.client.contract
	msg := ethereum.CallMsg{From: d.from, To: &contract, Data: data}

	gasPrice, err := d.client.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice = bumpGasPrice(gasPrice)
	msg.GasPrice = gasPrice

	// Dry-run first; an unauthorized caller or a contract-side invariant
	// violation reverts here without spending gas.
	if _, err := d.client.backend.CallContract(ctx, msg, nil); err != nil {
		return common.Hash{}, fmt.Errorf("simulate addUpvotes: %w", err)
	}

	gasLimit, err := d.client.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	nonce, err := d.client.backend.PendingNonceAt(ctx, d.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(d.chainID), d.signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := d.client.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	d.logger.Debug("award transaction submitted",
		"user", user.Hex(),
		"amount", amount.String(),
		"tx", signed.Hash().Hex(),
		"nonce", nonce,
		"gas_price", gasPrice.String(),
	)
	return signed.Hash(), nil
}

// bumpGasPrice applies the fixed upward adjustment to the node's suggestion.
func bumpGasPrice(suggested *big.Int) *big.Int {
	bumped := new(big.Int).Mul(suggested, big.NewInt(100+gasPriceBumpPercent))
	return bumped.Div(bumped, big.NewInt(100))
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// gasMarginPct pads estimated gas to absorb state drift between estimate
// and inclusion.
const gasMarginPct = 20

// Account returns the signing address, or the zero address when read-only.
func (c *Client) Account() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

func (c *Client) BuyItem(ctx context.Context, listingID uint64, value *big.Int) (domain.Commitment, error) {
	return c.transact(ctx, c.cfg.Marketplace, marketplaceSpec, value, "buyItem", new(big.Int).SetUint64(listingID))
}

func (c *Client) CancelListing(ctx context.Context, listingID uint64) (domain.Commitment, error) {
	return c.transact(ctx, c.cfg.Marketplace, marketplaceSpec, nil, "cancelListing", new(big.Int).SetUint64(listingID))
}

func (c *Client) ListItem(ctx context.Context, nft common.Address, tokenID uint64, price *big.Int) (domain.Commitment, error) {
	return c.transact(ctx, c.cfg.Marketplace, marketplaceSpec, nil, "listItem", nft, new(big.Int).SetUint64(tokenID), price)
}

// StartAuction opens an auction lasting duration, rounded down to seconds.
func (c *Client) StartAuction(ctx context.Context, nft common.Address, tokenID uint64, minBid *big.Int, duration time.Duration) (domain.Commitment, error) {
	secs := big.NewInt(int64(duration / time.Second))
	return c.transact(ctx, c.cfg.Marketplace, marketplaceSpec, nil, "startAuction", nft, new(big.Int).SetUint64(tokenID), minBid, secs)
}

func (c *Client) Bid(ctx context.Context, auctionID uint64, value *big.Int) (domain.Commitment, error) {
	return c.transact(ctx, c.cfg.Marketplace, marketplaceSpec, value, "bid", new(big.Int).SetUint64(auctionID))
}

func (c *Client) EndAuction(ctx context.Context, auctionID uint64) (domain.Commitment, error) {
	return c.transact(ctx, c.cfg.Marketplace, marketplaceSpec, nil, "endAuction", new(big.Int).SetUint64(auctionID))
}

func (c *Client) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (domain.Commitment, error) {
	return c.transact(ctx, c.cfg.NFT, nftSpec, nil, "setApprovalForAll", operator, approved)
}

// transact builds, signs and submits an EIP-1559 transaction. A revert
// detected during gas estimation is returned immediately as a
// *domain.RevertError.
func (c *Client) transact(ctx context.Context, to common.Address, contract abi.ABI, value *big.Int, method string, args ...any) (domain.Commitment, error) {
	if c.signer == nil {
		return nil, domain.ErrNoWallet
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	from := c.signer.Address()

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: nonce: %w", method, err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: gas tip: %w", method, err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: head: %w", method, err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee(head), big.NewInt(2)))

	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: data, GasTipCap: tip, GasFeeCap: feeCap}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return nil, fmt.Errorf("ledger: %s: %w", method, &domain.RevertError{Reason: reason})
		}
		return nil, fmt.Errorf("ledger: %s: estimate gas: %w", method, err)
	}
	gas += gas * gasMarginPct / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if reason, ok := RevertReason(err); ok {
			return nil, fmt.Errorf("ledger: %s: %w", method, &domain.RevertError{Reason: reason})
		}
		return nil, fmt.Errorf("ledger: %s: send: %w", method, err)
	}

	c.logger.Info("transaction submitted",
		slog.String("method", method),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return &commitment{client: c, hash: signed.Hash(), msg: msg, method: method}, nil
}

func baseFee(h *types.Header) *big.Int {
	if h == nil || h.BaseFee == nil {
		return new(big.Int)
	}
	return h.BaseFee
}

// commitment polls for the receipt of a submitted transaction.
type commitment struct {
	client *Client
	hash   common.Hash
	msg    ethereum.CallMsg
	method string
}

func (m *commitment) Hash() common.Hash { return m.hash }

// Wait blocks until the receipt is available. A failed receipt is replayed
// at its block to recover the revert reason.
func (m *commitment) Wait(ctx context.Context) error {
	ticker := time.NewTicker(m.client.cfg.ConfirmPoll)
	defer ticker.Stop()

	for {
		receipt, err := m.client.backend.TransactionReceipt(ctx, m.hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return fmt.Errorf("ledger: %s %s: %w", m.method, m.hash.Hex(), m.failure(ctx, receipt))
		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("ledger: %s %s: receipt: %w", m.method, m.hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("ledger: %s %s: %w", m.method, m.hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *commitment) failure(ctx context.Context, receipt *types.Receipt) error {
	_, err := m.client.backend.CallContract(ctx, m.msg, receipt.BlockNumber)
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return &domain.RevertError{Reason: reason}
		}
	}
	return &domain.RevertError{}
}

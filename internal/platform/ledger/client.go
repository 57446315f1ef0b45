// Package ledger talks to the marketplace and collection contracts over
// JSON-RPC.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultConfirmPoll = 2 * time.Second

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner signs outgoing transactions.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Config holds the contract addresses and confirmation polling interval.
type Config struct {
	Marketplace common.Address
	NFT         common.Address
	ConfirmPoll time.Duration
}

// Client implements domain.LedgerReader and domain.LedgerWriter. Without a
// signer every write fails with domain.ErrNoWallet.
type Client struct {
	backend Backend
	signer  TxSigner
	cfg     Config
	logger  *slog.Logger

	// txMu serializes nonce assignment and submission.
	txMu sync.Mutex
}

// Dial connects to rpcURL and returns a Client. signer may be nil for a
// read-only client.
func Dial(ctx context.Context, rpcURL string, cfg Config, signer TxSigner, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}
	if signer != nil {
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("ledger: chain id: %w", err)
		}
		if chainID.Cmp(signer.ChainID()) != 0 {
			eth.Close()
			return nil, fmt.Errorf("ledger: rpc chain id %s does not match configured %s", chainID, signer.ChainID())
		}
	}
	return New(eth, cfg, signer, logger), nil
}

// New wraps an existing backend.
func New(backend Backend, cfg Config, signer TxSigner, logger *slog.Logger) *Client {
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = defaultConfirmPoll
	}
	return &Client{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// Close releases the underlying RPC connection if the backend owns one.
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (c *Client) MarketplaceAddress() common.Address { return c.cfg.Marketplace }
func (c *Client) NFTAddress() common.Address         { return c.cfg.NFT }

// GetAllListings returns every listing with its table index.
func (c *Client) GetAllListings(ctx context.Context) ([]domain.ListingRecord, error) {
	out, err := c.call(ctx, c.cfg.Marketplace, marketplaceSpec, "getAllListings")
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]listingTuple)).(*[]listingTuple)

	recs := make([]domain.ListingRecord, len(tuples))
	for i, t := range tuples {
		recs[i] = domain.ListingRecord{
			Index:   domain.Index(i),
			NFT:     t.Nft,
			TokenID: t.TokenId,
			Seller:  t.Seller,
			Price:   t.Price,
		}
	}
	return recs, nil
}

// GetAllAuctions returns every auction, active or not, with its table index.
func (c *Client) GetAllAuctions(ctx context.Context) ([]domain.AuctionRecord, error) {
	out, err := c.call(ctx, c.cfg.Marketplace, marketplaceSpec, "getAllAuctions")
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]auctionTuple)).(*[]auctionTuple)

	recs := make([]domain.AuctionRecord, len(tuples))
	for i, t := range tuples {
		recs[i] = domain.AuctionRecord{
			Index:         domain.Index(i),
			NFT:           t.Nft,
			TokenID:       t.TokenId,
			Seller:        t.Seller,
			MinBid:        t.MinBid,
			HighestBid:    t.HighestBid,
			HighestBidder: t.HighestBidder,
			EndTime:       t.EndTime,
			Active:        t.Active,
		}
	}
	return recs, nil
}

// GetSales returns the append-only sales history.
func (c *Client) GetSales(ctx context.Context) ([]domain.SaleRecord, error) {
	out, err := c.call(ctx, c.cfg.Marketplace, marketplaceSpec, "getSales")
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]saleTuple)).(*[]saleTuple)

	recs := make([]domain.SaleRecord, len(tuples))
	for i, t := range tuples {
		tokenID, err := domain.Uint64("tokenId", t.TokenId)
		if err != nil {
			return nil, fmt.Errorf("ledger: sale %d: %w", i, err)
		}
		ts, err := domain.Int64("timestamp", t.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("ledger: sale %d: %w", i, err)
		}
		recs[i] = domain.SaleRecord{
			Index:     domain.Index(i),
			NFT:       t.Nft,
			TokenID:   tokenID,
			Seller:    t.Seller,
			Buyer:     t.Buyer,
			Price:     t.Price,
			Timestamp: ts,
		}
	}
	return recs, nil
}

func (c *Client) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	out, err := c.call(ctx, c.cfg.NFT, nftSpec, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (c *Client) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := c.call(ctx, c.cfg.NFT, nftSpec, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (c *Client) TokenCount(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.NFT, nftSpec, "tokenCount")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) LoyaltyPoints(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.Marketplace, marketplaceSpec, "loyaltyPoints", account)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	out, err := c.call(ctx, c.cfg.NFT, nftSpec, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// call performs a read-only contract call against the latest block.
func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return nil, fmt.Errorf("ledger: %s: %w", method, &domain.RevertError{Reason: reason})
		}
		return nil, fmt.Errorf("ledger: %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ledger: %s: empty result", method)
	}
	return out, nil
}

package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	market = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	nft    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	seller = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type dataErr struct {
	msg  string
	data string
}

func (e *dataErr) Error() string          { return e.msg }
func (e *dataErr) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	strTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := abi.Arguments{{Type: strTy}}.Pack(reason)
	if err != nil {
		t.Fatal(err)
	}
	selector := ethcrypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

// fakeBackend answers contract calls by method selector.
type fakeBackend struct {
	mu        sync.Mutex
	responses map[string][]byte
	callErr   map[string]error
	estimate  error
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	polls     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		responses: map[string][]byte{},
		callErr:   map[string]error{},
		receipts:  map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeBackend) respond(t *testing.T, contract abi.ABI, method string, values ...any) {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s outputs: %v", method, err)
	}
	f.responses[string(contract.Methods[method].ID)] = out
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sel := string(msg.Data[:4])
	if err, ok := f.callErr[sel]; ok {
		return nil, err
	}
	return f.responses[sel], nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func newClient(t *testing.T, backend Backend, withSigner bool) *Client {
	t.Helper()
	var signer TxSigner
	if withSigner {
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		signer, err = crypto.NewTxSigner(key, big.NewInt(31337))
		if err != nil {
			t.Fatal(err)
		}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(backend, Config{Marketplace: market, NFT: nft, ConfirmPoll: time.Millisecond}, signer, logger)
}

func TestReads(t *testing.T) {
	b := newFakeBackend()
	b.respond(t, marketplaceSpec, "getAllListings", []listingTuple{
		{Nft: nft, TokenId: big.NewInt(7), Seller: seller, Price: big.NewInt(500)},
		{Nft: nft, TokenId: big.NewInt(8), Seller: seller, Price: big.NewInt(600)},
	})
	b.respond(t, marketplaceSpec, "getAllAuctions", []auctionTuple{
		{Nft: nft, TokenId: big.NewInt(9), Seller: seller, MinBid: big.NewInt(1), HighestBid: big.NewInt(0),
			HighestBidder: common.Address{}, EndTime: big.NewInt(1_700_000_000), Active: true},
	})
	b.respond(t, marketplaceSpec, "getSales", []saleTuple{
		{Nft: nft, TokenId: big.NewInt(3), Seller: seller, Buyer: market, Price: big.NewInt(42), Timestamp: big.NewInt(99)},
	})
	b.respond(t, nftSpec, "tokenURI", "ipfs://QmSeven")
	b.respond(t, nftSpec, "ownerOf", seller)
	b.respond(t, nftSpec, "tokenCount", big.NewInt(12))
	b.respond(t, nftSpec, "isApprovedForAll", true)
	b.respond(t, marketplaceSpec, "loyaltyPoints", big.NewInt(250))

	c := newClient(t, b, false)
	ctx := context.Background()

	listings, err := c.GetAllListings(ctx)
	if err != nil {
		t.Fatalf("GetAllListings: %v", err)
	}
	if len(listings) != 2 || listings[1].Index != 1 || listings[1].TokenID.Int64() != 8 || listings[1].Price.Int64() != 600 {
		t.Fatalf("unexpected listings %+v", listings)
	}

	auctions, err := c.GetAllAuctions(ctx)
	if err != nil {
		t.Fatalf("GetAllAuctions: %v", err)
	}
	if len(auctions) != 1 || !auctions[0].Active || auctions[0].EndTime.Int64() != 1_700_000_000 {
		t.Fatalf("unexpected auctions %+v", auctions)
	}

	sales, err := c.GetSales(ctx)
	if err != nil {
		t.Fatalf("GetSales: %v", err)
	}
	if len(sales) != 1 || sales[0].TokenID != 3 || sales[0].Buyer != market || sales[0].Timestamp != 99 {
		t.Fatalf("unexpected sales %+v", sales)
	}

	if uri, err := c.TokenURI(ctx, big.NewInt(7)); err != nil || uri != "ipfs://QmSeven" {
		t.Fatalf("TokenURI = %q, %v", uri, err)
	}
	if owner, err := c.OwnerOf(ctx, big.NewInt(7)); err != nil || owner != seller {
		t.Fatalf("OwnerOf = %s, %v", owner.Hex(), err)
	}
	if n, err := c.TokenCount(ctx); err != nil || n.Int64() != 12 {
		t.Fatalf("TokenCount = %v, %v", n, err)
	}
	if ok, err := c.IsApprovedForAll(ctx, seller, market); err != nil || !ok {
		t.Fatalf("IsApprovedForAll = %v, %v", ok, err)
	}
	if p, err := c.LoyaltyPoints(ctx, seller); err != nil || p.Int64() != 250 {
		t.Fatalf("LoyaltyPoints = %v, %v", p, err)
	}
}

func TestReadRevert(t *testing.T) {
	b := newFakeBackend()
	b.callErr[string(nftSpec.Methods["tokenURI"].ID)] = &dataErr{
		msg: "execution reverted", data: revertData(t, "ERC721: invalid token ID"),
	}
	c := newClient(t, b, false)

	_, err := c.TokenURI(context.Background(), big.NewInt(1))
	var re *domain.RevertError
	if !errors.As(err, &re) || re.Reason != "ERC721: invalid token ID" {
		t.Fatalf("expected revert reason, got %v", err)
	}
}

func TestWriteWithoutWallet(t *testing.T) {
	c := newClient(t, newFakeBackend(), false)
	if _, err := c.CancelListing(context.Background(), 1); !errors.Is(err, domain.ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}
}

func TestWriteAndWait(t *testing.T) {
	b := newFakeBackend()
	c := newClient(t, b, true)
	ctx := context.Background()

	commit, err := c.BuyItem(ctx, 3, big.NewInt(500))
	if err != nil {
		t.Fatalf("BuyItem: %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(b.sent))
	}
	tx := b.sent[0]
	if tx.Hash() != commit.Hash() || tx.Value().Int64() != 500 || *tx.To() != market {
		t.Fatalf("unexpected tx %+v", tx)
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("gas = %d, want padded estimate", tx.Gas())
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	if err != nil || from != c.Account() {
		t.Fatalf("sender = %s, %v", from.Hex(), err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.mu.Lock()
		b.receipts[commit.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}
		b.mu.Unlock()
	}()
	if err := commit.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitRevertedReceipt(t *testing.T) {
	b := newFakeBackend()
	c := newClient(t, b, true)
	ctx := context.Background()

	commit, err := c.Bid(ctx, 0, big.NewInt(1))
	if err != nil {
		t.Fatalf("Bid: %v", err)
	}
	b.receipts[commit.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(5)}
	b.callErr[string(marketplaceSpec.Methods["bid"].ID)] = &dataErr{
		msg: "execution reverted", data: revertData(t, "Bid too low"),
	}

	err = commit.Wait(ctx)
	var re *domain.RevertError
	if !errors.As(err, &re) || re.Reason != "Bid too low" {
		t.Fatalf("expected revert reason, got %v", err)
	}
}

func TestEstimateRevert(t *testing.T) {
	b := newFakeBackend()
	b.estimate = errors.New("execution reverted: Not the seller")
	c := newClient(t, b, true)

	_, err := c.CancelListing(context.Background(), 0)
	var re *domain.RevertError
	if !errors.As(err, &re) || re.Reason != "Not the seller" {
		t.Fatalf("expected revert reason, got %v", err)
	}
	if len(b.sent) != 0 {
		t.Fatal("reverting write was submitted")
	}
}

package postgres

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var _ domain.SaleStore = (*SaleStore)(nil)

const saleColumns = `ledger_index, nft, token_id, seller, buyer, price_wei, sold_at`

// SaleStore mirrors the ledger's sales history. Rows are keyed by ledger
// index so re-ingesting the same range is a no-op.
type SaleStore struct {
	pool *pgxpool.Pool
}

func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

// InsertBatch writes sales in one round trip and reports how many rows were
// new.
func (s *SaleStore) InsertBatch(ctx context.Context, sales []domain.SaleRecord) (int64, error) {
	if len(sales) == 0 {
		return 0, nil
	}

	const query = `INSERT INTO sales (` + saleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ledger_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, sale := range sales {
		if sale.Index > math.MaxInt64 || sale.TokenID > math.MaxInt64 {
			return 0, fmt.Errorf("postgres: sale %d: %w", sale.Index, domain.ErrNumericOverflow)
		}
		batch.Queue(query,
			int64(sale.Index),
			addrText(sale.NFT),
			int64(sale.TokenID),
			addrText(sale.Seller),
			addrText(sale.Buyer),
			weiNumeric(sale.Price),
			time.Unix(sale.Timestamp, 0).UTC(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for _, sale := range sales {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert sale %d: %w", sale.Index, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// LastIndex returns the highest stored ledger index, or -1 when empty.
func (s *SaleStore) LastIndex(ctx context.Context) (int64, error) {
	var last int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(ledger_index), -1) FROM sales`,
	).Scan(&last); err != nil {
		return 0, fmt.Errorf("postgres: last sale index: %w", err)
	}
	return last, nil
}

// ListRecent returns sales newest first.
func (s *SaleStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SaleRecord, error) {
	q := newListQuery(`SELECT `+saleColumns+` FROM sales`).
		window("sold_at", opts).
		page("ledger_index DESC", opts)
	return s.query(ctx, q)
}

// ListByWallet returns sales where wallet was buyer or seller.
func (s *SaleStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.SaleRecord, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("postgres: list sales: invalid wallet %q", wallet)
	}
	w := addrText(common.HexToAddress(wallet))
	q := newListQuery(`SELECT `+saleColumns+` FROM sales`).
		where("(seller = ? OR buyer = ?)", w, w).
		window("sold_at", opts).
		page("ledger_index DESC", opts)
	return s.query(ctx, q)
}

func (s *SaleStore) query(ctx context.Context, q *listQuery) ([]domain.SaleRecord, error) {
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales: %w", err)
	}
	defer rows.Close()

	var out []domain.SaleRecord
	for rows.Next() {
		var (
			index, tokenID     int64
			nft, seller, buyer string
			price              pgtype.Numeric
			soldAt             time.Time
		)
		if err := rows.Scan(&index, &nft, &tokenID, &seller, &buyer, &price, &soldAt); err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		wei, err := numericWei(price)
		if err != nil {
			return nil, fmt.Errorf("postgres: sale %d price: %w", index, err)
		}
		out = append(out, domain.SaleRecord{
			Index:     uint64(index),
			NFT:       common.HexToAddress(nft),
			TokenID:   uint64(tokenID),
			Seller:    common.HexToAddress(seller),
			Buyer:     common.HexToAddress(buyer),
			Price:     wei,
			Timestamp: soldAt.Unix(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sales rows: %w", err)
	}
	return out, nil
}

// addrText stores addresses lower-cased so wallet lookups are exact matches.
func addrText(a common.Address) string {
	return strings.ToLower(a.Hex())
}

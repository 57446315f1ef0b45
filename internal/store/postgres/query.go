package postgres

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/jackc/pgx/v5/pgtype"
)

// listQuery appends positional filters, ordering and pagination to a base
// SELECT.
type listQuery struct {
	sb   strings.Builder
	args []any
	and  bool
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// where adds a condition; "?" placeholders are replaced with the next
// positional parameters in order.
func (q *listQuery) where(cond string, vals ...any) *listQuery {
	for _, v := range vals {
		cond = strings.Replace(cond, "?", q.arg(v), 1)
	}
	if q.and {
		q.sb.WriteString(" AND ")
	} else {
		q.sb.WriteString(" WHERE ")
		q.and = true
	}
	q.sb.WriteString(cond)
	return q
}

func (q *listQuery) window(column string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.where(column+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q.where(column+" <= ?", *opts.Until)
	}
	return q
}

func (q *listQuery) page(orderBy string, opts domain.ListOpts) *listQuery {
	q.sb.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
	return q
}

func (q *listQuery) String() string { return q.sb.String() }

// weiNumeric encodes a wei amount as an exact NUMERIC.
func weiNumeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Valid: true}
}

// numericWei decodes an integral NUMERIC, which pgx may return with a
// positive exponent.
func numericWei(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid || n.Int == nil {
		return new(big.Int), nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("postgres: non-finite numeric")
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		rem := new(big.Int)
		v.QuoRem(v, div, rem)
		if rem.Sign() != 0 {
			return nil, fmt.Errorf("postgres: fractional wei amount")
		}
	}
	return v, nil
}

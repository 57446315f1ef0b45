package domain

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the fixed-point scale of the ledger's native unit.
const EtherDecimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)

// WeiPerEther returns a fresh copy of 10^18.
func WeiPerEther() *big.Int { return new(big.Int).Set(weiPerEther) }

// Uint64 converts a ledger integer to uint64, failing loudly instead of
// truncating.
func Uint64(field string, v *big.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s=%s", ErrNumericOverflow, field, v.String())
	}
	return v.Uint64(), nil
}

// Int64 converts a ledger integer to int64, failing loudly instead of
// truncating.
func Int64(field string, v *big.Int) (int64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: %s=%s", ErrNumericOverflow, field, v.String())
	}
	return v.Int64(), nil
}

// Index converts a slice position to the ledger's uint64 index space.
func Index(i int) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// FormatEther renders wei in ether with at least one fractional digit,
// e.g. 5e17 -> "0.5", 1e18 -> "1.0".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(wei, -EtherDecimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseEther converts a decimal ether amount to wei exactly. Amounts with
// more than 18 fractional digits are rejected rather than rounded.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -EtherDecimals {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", s, EtherDecimals)
	}
	wei := d.Shift(EtherDecimals)
	return wei.BigInt(), nil
}

// MaxSafeSeconds bounds durations accepted from user input.
const MaxSafeSeconds = math.MaxInt64 / int64(1e9)

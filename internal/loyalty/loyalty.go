// Package loyalty estimates loyalty points for optimistic feedback. The
// authoritative balance lives on the ledger.
package loyalty

import (
	"math"
	"math/big"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// PointsPerEther is the accrual rate.
const PointsPerEther = 10

// Estimate returns floor(wei * 10 / 1e18). Nil or negative amounts earn
// nothing; results beyond int64 saturate.
func Estimate(wei *big.Int) int64 {
	if wei == nil || wei.Sign() <= 0 {
		return 0
	}
	pts := new(big.Int).Mul(wei, big.NewInt(PointsPerEther))
	pts.Quo(pts, domain.WeiPerEther())
	if !pts.IsInt64() {
		return math.MaxInt64
	}
	return pts.Int64()
}

// Rank is a loyalty tier.
type Rank string

const (
	Bronze   Rank = "Bronze"
	Silver   Rank = "Silver"
	Gold     Rank = "Gold"
	Platinum Rank = "Platinum"
)

// RankFor maps a point balance to its tier.
func RankFor(points int64) Rank {
	switch {
	case points >= 1000:
		return Platinum
	case points >= 500:
		return Gold
	case points >= 100:
		return Silver
	}
	return Bronze
}

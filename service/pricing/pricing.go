package pricing

import (
	"sort"

	"github.com/gagliardetto/solana-go"
)

// tierAmounts is the closed set of purchasable credit tiers and the exact
// payment each one requires, in lamports. The set is fixed at deploy time;
// any credit count outside it is rejected before verification starts.
var tierAmounts = map[int]uint64{
	1:  25_000_000,
	2:  45_000_000,
	3:  60_000_000,
	5:  90_000_000,
	10: 150_000_000,
}

// AmountFor returns the required payment in lamports for the given credit
// tier. The second return value is false for any tier outside the closed set.
func AmountFor(tier int) (uint64, bool) {
	amount, ok := tierAmounts[tier]
	return amount, ok
}

// ValidTier reports whether the given credit count is a purchasable tier.
func ValidTier(tier int) bool {
	_, ok := tierAmounts[tier]
	return ok
}

// Tiers returns the valid credit tiers in ascending order.
func Tiers() []int {
	tiers := make([]int, 0, len(tierAmounts))
	for t := range tierAmounts {
		tiers = append(tiers, t)
	}
	sort.Ints(tiers)
	return tiers
}

// SolEquivalent converts a lamport amount to SOL. Informational only; all
// verification arithmetic stays in integer lamports.
func SolEquivalent(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}

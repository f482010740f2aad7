package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ltvScale    = mustBigInt("1000000000000000000") // 1e18 = 100%
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// mulDiv computes floor(a * b / den). All share/asset conversions truncate;
// the rounding remainder systematically accrues to existing holders and must
// not be changed.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// sharesForAmount converts an asset amount into shares. When the pool side is
// empty the amount itself seeds the share supply one-to-one.
func sharesForAmount(amount, totalShares, totalAssets *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalShares == nil || totalShares.Sign() == 0 || totalAssets == nil || totalAssets.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	return mulDiv(amount, totalShares, totalAssets)
}

// assetsForShares converts shares back into an asset amount.
func assetsForShares(shares, totalAssets, totalShares *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDiv(shares, totalAssets, totalShares)
}

// feeOnAmount applies a basis-point fee with floor rounding.
func feeOnAmount(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

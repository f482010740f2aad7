package lending

import "math/big"

const secondsPerYear = 31_536_000

// DefaultAnnualRateBps is the fixed borrow interest rate applied to
// outstanding debt: 10% per year, simple, non-compounding per call.
const DefaultAnnualRateBps uint64 = 1_000

// simpleInterest computes floor(principal * rateBps/10000 * elapsed/year).
// Zero elapsed time yields zero interest, which makes accrual idempotent
// within the same instant.
func simpleInterest(principal *big.Int, rateBps uint64, elapsedSeconds int64) *big.Int {
	if principal == nil || principal.Sign() == 0 || rateBps == 0 || elapsedSeconds <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	out.Mul(out, big.NewInt(elapsedSeconds))
	den := new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear))
	return out.Quo(out, den)
}

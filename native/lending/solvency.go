package lending

import (
	"errors"
	"math/big"

	"crosslend/native/oracle"
)

var errHealthCheckFailed = errors.New("lending engine: borrower collateral insufficient for debt")

// PriceSource resolves the feed serving an asset and reads its current
// record. The read contract carries a timestamp but no staleness policy; the
// solvency check deliberately does not enforce one.
type PriceSource interface {
	Price(asset string) (oracle.PriceRecord, uint8, error)
}

// checkHealth is the single gate preventing under-collateralised borrowing.
// It prices the borrower's proportional share of the pool debt and the
// position's collateral balance in a common unit and fails when
//
//	debtValue > collateralValue * ltv / 1e18
//
// It is evaluated against current state on every call and never cached. The
// pool passed in must already reflect the mutation being gated (projected
// borrow shares, reduced collateral).
func checkHealth(feeds PriceSource, pool *Pool, collateral, borrowShares *big.Int) error {
	if borrowShares == nil || borrowShares.Sign() == 0 {
		return nil
	}
	if feeds == nil {
		return errOracleNotConfigured
	}
	debtAssets := assetsForShares(borrowShares, pool.TotalBorrowAssets, pool.TotalBorrowShares)
	if debtAssets.Sign() == 0 {
		return nil
	}
	borrowRec, borrowDec, err := feeds.Price(pool.BorrowAsset)
	if err != nil {
		return err
	}
	collateralRec, collateralDec, err := feeds.Price(pool.CollateralAsset)
	if err != nil {
		return err
	}
	debtValue := new(big.Int).Mul(debtAssets, borrowRec.Price)
	collateralValue := new(big.Int)
	if collateral != nil && collateral.Sign() > 0 {
		collateralValue.Mul(collateral, collateralRec.Price)
	}
	// Align value scales when the two feeds report different precisions.
	if borrowDec > collateralDec {
		scale := pow10(uint(borrowDec - collateralDec))
		collateralValue.Mul(collateralValue, scale)
	} else if collateralDec > borrowDec {
		scale := pow10(uint(collateralDec - borrowDec))
		debtValue.Mul(debtValue, scale)
	}
	lhs := new(big.Int).Mul(debtValue, ltvScale)
	rhs := new(big.Int).Mul(collateralValue, pool.LTV)
	if lhs.Cmp(rhs) > 0 {
		return errHealthCheckFailed
	}
	return nil
}

func pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

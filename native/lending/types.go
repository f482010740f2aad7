package lending

import (
	"math/big"

	"crosslend/crypto"
)

// Pool captures the global accounting state for one collateral/borrow-asset
// pair. Amounts are expressed in each asset's native integer precision.
type Pool struct {
	// CollateralAsset is the symbol of the asset pledged by borrowers.
	CollateralAsset string
	// BorrowAsset is the symbol of the asset supplied by lenders and drawn
	// by borrowers.
	BorrowAsset string
	// LTV is the maximum borrowable value as a fraction of collateral
	// value, fixed at pool creation, on a 1e18 basis (1e18 = 100%).
	LTV *big.Int
	// TotalSupplyAssets is the aggregate liquidity deposited by suppliers,
	// including accrued interest.
	TotalSupplyAssets *big.Int
	// TotalSupplyShares is the share representation of the supply side.
	TotalSupplyShares *big.Int
	// TotalBorrowAssets is the outstanding debt across all borrowers,
	// including accrued interest.
	TotalBorrowAssets *big.Int
	// TotalBorrowShares is the share representation of the debt side.
	TotalBorrowShares *big.Int
	// LastAccrued records the unix timestamp of the last interest
	// application.
	LastAccrued int64
}

// Clone returns a deep copy of the pool record.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		CollateralAsset:   p.CollateralAsset,
		BorrowAsset:       p.BorrowAsset,
		LastAccrued:       p.LastAccrued,
		LTV:               cloneBig(p.LTV),
		TotalSupplyAssets: cloneBig(p.TotalSupplyAssets),
		TotalSupplyShares: cloneBig(p.TotalSupplyShares),
		TotalBorrowAssets: cloneBig(p.TotalBorrowAssets),
		TotalBorrowShares: cloneBig(p.TotalBorrowShares),
	}
}

// UserAccount maintains the share balances for an individual participant.
type UserAccount struct {
	// Address is the unique account identifier.
	Address crypto.Address
	// SupplyShares is the proportional claim on the pool's supply side.
	SupplyShares *big.Int
	// BorrowShares is the proportional share of the pool's outstanding debt.
	BorrowShares *big.Int
}

// Clone returns a deep copy of the user account.
func (u *UserAccount) Clone() *UserAccount {
	if u == nil {
		return nil
	}
	return &UserAccount{
		Address:      u.Address,
		SupplyShares: cloneBig(u.SupplyShares),
		BorrowShares: cloneBig(u.BorrowShares),
	}
}

// FeeAccrual captures the in-flight protocol fee total for a pool.
type FeeAccrual struct {
	ProtocolFees *big.Int
}

// Clone returns a deep copy of the fee accrual structure.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	return &FeeAccrual{ProtocolFees: cloneBig(f.ProtocolFees)}
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

package events

import (
	"math/big"

	"crosslend/crypto"
)

const (
	TypeLiquiditySupplied  = "lending.liquiditySupplied"
	TypeLiquidityWithdrawn = "lending.liquidityWithdrawn"
	TypeCollateralSupplied = "lending.collateralSupplied"
	TypeCollateralReleased = "lending.collateralReleased"
	TypeDebtBorrowed       = "lending.debtBorrowed"
	TypeDebtRepaid         = "lending.debtRepaid"
	TypePositionSwapped    = "lending.positionSwapped"
	TypeProtocolFeesPaid   = "lending.protocolFeesPaid"
)

// LiquiditySupplied is emitted when a supplier deposits the borrow asset and
// receives supply shares.
type LiquiditySupplied struct {
	PoolID   string
	Supplier crypto.Address
	Amount   *big.Int
	Shares   *big.Int
}

func (LiquiditySupplied) EventType() string { return TypeLiquiditySupplied }

// LiquidityWithdrawn is emitted when supply shares are redeemed for assets.
type LiquidityWithdrawn struct {
	PoolID   string
	Supplier crypto.Address
	Shares   *big.Int
	Amount   *big.Int
}

func (LiquidityWithdrawn) EventType() string { return TypeLiquidityWithdrawn }

// CollateralSupplied is emitted when collateral moves into a borrower position.
type CollateralSupplied struct {
	PoolID   string
	Borrower crypto.Address
	Amount   *big.Int
}

func (CollateralSupplied) EventType() string { return TypeCollateralSupplied }

// CollateralReleased is emitted when collateral leaves a borrower position.
type CollateralReleased struct {
	PoolID   string
	Borrower crypto.Address
	Amount   *big.Int
}

func (CollateralReleased) EventType() string { return TypeCollateralReleased }

// DebtBorrowed is emitted on every successful borrow, local or cross-domain.
type DebtBorrowed struct {
	PoolID            string
	Borrower          crypto.Address
	Amount            *big.Int
	Fee               *big.Int
	Shares            *big.Int
	DestinationDomain uint32
	MessageID         string
}

func (DebtBorrowed) EventType() string { return TypeDebtBorrowed }

// DebtRepaid is emitted when borrow shares are burned against a repayment.
type DebtRepaid struct {
	PoolID   string
	Borrower crypto.Address
	Shares   *big.Int
	Amount   *big.Int
	Token    string
}

func (DebtRepaid) EventType() string { return TypeDebtRepaid }

// PositionSwapped is emitted when a position converts one tracked asset into
// another through the swap executor.
type PositionSwapped struct {
	PoolID    string
	Owner     crypto.Address
	TokenFrom string
	TokenTo   string
	AmountIn  *big.Int
	AmountOut *big.Int
}

func (PositionSwapped) EventType() string { return TypePositionSwapped }

// ProtocolFeesPaid is emitted when accrued protocol fees are released to a
// recipient account.
type ProtocolFeesPaid struct {
	PoolID    string
	Recipient crypto.Address
	Amount    *big.Int
}

func (ProtocolFeesPaid) EventType() string { return TypeProtocolFeesPaid }

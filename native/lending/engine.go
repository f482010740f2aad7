package lending

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"crosslend/core/events"
	"crosslend/core/types"
	"crosslend/crypto"
	nativecommon "crosslend/native/common"
)

var (
	errNilState              = errors.New("lending engine: state not configured")
	errNilPool               = errors.New("lending engine: pool not initialised")
	errInvalidAmount         = errors.New("lending engine: amount must be positive")
	errInsufficientBalance   = errors.New("lending engine: insufficient balance")
	errInsufficientShares    = errors.New("lending engine: insufficient shares")
	errInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	errPoolNotConfigured     = errors.New("lending engine: pool identifier not configured")
	errOracleNotConfigured   = errors.New("lending engine: price source not configured")
	errSwapNotConfigured     = errors.New("lending engine: swap executor not configured")
	errBridgeNotConfigured   = errors.New("lending engine: bridge sender not registered")
	errTreasuryNotConfigured = errors.New("lending engine: treasury not configured")
	errNotOwner              = errors.New("lending engine: caller is not the owner")
)

// BorrowFeeBps is the fixed protocol fee charged on every borrow: 0.1%.
const BorrowFeeBps uint64 = 10

const moduleName = "lending"

type engineState interface {
	GetPool(poolID string) (*Pool, error)
	PutPool(poolID string, pool *Pool) error
	GetUser(poolID string, addr crypto.Address) (*UserAccount, error)
	PutUser(poolID string, account *UserAccount) error
	GetPosition(poolID string, addr crypto.Address) (*Position, error)
	PutPosition(poolID string, position *Position) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetFees(poolID string) (*FeeAccrual, error)
	PutFees(poolID string, fees *FeeAccrual) error
}

// TokenLedger moves and retires token balances outside the staged account
// writes, used on the cross-domain borrow path where the burn has already
// been committed by the bridge sender.
type TokenLedger interface {
	Transfer(token string, from, to crypto.Address, amount *big.Int) error
}

// BridgeSender is the settlement leg resolved for a cross-domain borrow.
type BridgeSender interface {
	// Quote returns the messaging fee for a transfer payload to the
	// destination domain.
	Quote(destinationDomain uint32) (*big.Int, error)
	// FeeCollector is the account credited with quoted messaging fees.
	FeeCollector() crypto.Address
	// Bridge burns amount of token held by from and dispatches a message
	// crediting recipient on the destination domain. The message
	// identifier is returned.
	Bridge(from crypto.Address, amount *big.Int, recipient crypto.Address, token string) (string, error)
}

// Engine orchestrates the primary state transitions for a lending pool. It is
// the only writer of pool totals and share maps; positions are mutated only
// through calls the engine issues.
type Engine struct {
	state             engineState
	ledger            TokenLedger
	poolID            string
	moduleAddress     crypto.Address
	collateralAddress crypto.Address
	treasury          crypto.Address
	owner             crypto.Address
	localDomain       uint32
	feeAsset          string
	rateBps           uint64
	feeds             PriceSource
	swap              SwapExecutor
	senders           *SenderRegistry
	pauses            nativecommon.PauseView
	emitter           events.Emitter
	now               func() time.Time
	lock              nativecommon.CallLock
}

// NewEngine constructs a lending engine configured with the custody addresses
// for pool liquidity and collateral.
func NewEngine(moduleAddr, collateralAddr crypto.Address) *Engine {
	return &Engine{
		moduleAddress:     moduleAddr,
		collateralAddress: collateralAddr,
		rateBps:           DefaultAnnualRateBps,
		emitter:           events.NoopEmitter{},
		now:               time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the token ledger used for committed transfers on the
// cross-domain path.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetPoolID assigns the lending pool identifier that subsequent operations
// will operate against.
func (e *Engine) SetPoolID(poolID string) {
	if e == nil {
		return
	}
	e.poolID = strings.TrimSpace(poolID)
}

// PoolID returns the currently configured pool identifier.
func (e *Engine) PoolID() string {
	if e == nil {
		return ""
	}
	return e.poolID
}

// SetTreasury configures the recipient of protocol borrow fees.
func (e *Engine) SetTreasury(addr crypto.Address) {
	if e == nil {
		return
	}
	e.treasury = addr
}

// SetOwner configures the admin identity allowed to release protocol fees.
func (e *Engine) SetOwner(addr crypto.Address) {
	if e == nil {
		return
	}
	e.owner = addr
}

// SetLocalDomain records the identifier of the execution domain this engine
// runs on. Borrows targeting it are settled locally.
func (e *Engine) SetLocalDomain(domain uint32) {
	if e == nil {
		return
	}
	e.localDomain = domain
}

// SetFeeAsset configures the asset borrowers pay messaging fees in.
func (e *Engine) SetFeeAsset(asset string) {
	if e == nil {
		return
	}
	e.feeAsset = strings.TrimSpace(asset)
}

// SetInterestRate overrides the fixed annual borrow rate in basis points.
func (e *Engine) SetInterestRate(bps uint64) {
	if e == nil {
		return
	}
	e.rateBps = bps
}

// SetPriceSource wires the oracle lookup used by the solvency gate.
func (e *Engine) SetPriceSource(feeds PriceSource) {
	if e == nil {
		return
	}
	e.feeds = feeds
}

// SetSwapExecutor wires the external swap collaborator used by positions.
func (e *Engine) SetSwapExecutor(executor SwapExecutor) {
	if e == nil {
		return
	}
	e.swap = executor
}

// SetSenderRegistry wires the registry of cross-domain bridge senders.
func (e *Engine) SetSenderRegistry(registry *SenderRegistry) {
	if e == nil {
		return
	}
	e.senders = registry
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the event sink notified after successful mutations.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetClock overrides the accrual clock, primarily for deterministic testing.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// SupplyLiquidity transfers the borrow asset from the supplier into the pool
// and mints supply shares at the current share price. The minted share amount
// is returned.
func (e *Engine) SupplyLiquidity(supplier crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)

	supplierAcc, err := e.loadAccount(supplier)
	if err != nil {
		return nil, err
	}
	if supplierAcc.BalanceOf(pool.BorrowAsset).Cmp(amount) < 0 {
		return nil, errInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	minted := sharesForAmount(amount, pool.TotalSupplyShares, pool.TotalSupplyAssets)

	supplierAcc.Debit(pool.BorrowAsset, amount)
	moduleAcc.Credit(pool.BorrowAsset, amount)

	user, err := e.ensureUser(supplier)
	if err != nil {
		return nil, err
	}
	user.SupplyShares = new(big.Int).Add(user.SupplyShares, minted)
	pool.TotalSupplyAssets = new(big.Int).Add(pool.TotalSupplyAssets, amount)
	pool.TotalSupplyShares = new(big.Int).Add(pool.TotalSupplyShares, minted)

	if err := e.persistAccount(supplier, supplierAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutUser(e.poolID, user); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.LiquiditySupplied{PoolID: e.poolID, Supplier: supplier, Amount: cloneBig(amount), Shares: cloneBig(minted)})
	return minted, nil
}

// WithdrawLiquidity burns supply shares and releases the corresponding amount
// of the borrow asset back to the supplier. The call fails when the remaining
// liquidity would no longer cover outstanding debt; a failing call leaves all
// state unchanged.
func (e *Engine) WithdrawLiquidity(supplier crypto.Address, shares *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)
	if pool.TotalSupplyShares.Sign() == 0 {
		return nil, errInsufficientLiquidity
	}

	user, err := e.ensureUser(supplier)
	if err != nil {
		return nil, err
	}
	if user.SupplyShares.Cmp(shares) < 0 {
		return nil, errInsufficientShares
	}

	amount := assetsForShares(shares, pool.TotalSupplyAssets, pool.TotalSupplyShares)

	// Tentative decrement; the liquidity floor is checked against the
	// post-mutation totals before anything is persisted.
	pool.TotalSupplyAssets = new(big.Int).Sub(pool.TotalSupplyAssets, amount)
	pool.TotalSupplyShares = new(big.Int).Sub(pool.TotalSupplyShares, shares)
	user.SupplyShares = new(big.Int).Sub(user.SupplyShares, shares)
	if pool.TotalSupplyAssets.Cmp(pool.TotalBorrowAssets) < 0 {
		return nil, errInsufficientLiquidity
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.BalanceOf(pool.BorrowAsset).Cmp(amount) < 0 {
		return nil, errInsufficientLiquidity
	}
	supplierAcc, err := e.loadAccount(supplier)
	if err != nil {
		return nil, err
	}

	moduleAcc.Debit(pool.BorrowAsset, amount)
	supplierAcc.Credit(pool.BorrowAsset, amount)

	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(supplier, supplierAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutUser(e.poolID, user); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.LiquidityWithdrawn{PoolID: e.poolID, Supplier: supplier, Shares: cloneBig(shares), Amount: cloneBig(amount)})
	return amount, nil
}

// SupplyCollateral moves the collateral asset from the borrower's account
// into their position vault, creating the vault on first use.
func (e *Engine) SupplyCollateral(borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAcc.BalanceOf(pool.CollateralAsset).Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	custodyAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return err
	}

	position, err := e.ensurePosition(borrower)
	if err != nil {
		return err
	}
	if err := position.Deposit(e.moduleAddress, pool.CollateralAsset, amount); err != nil {
		return err
	}

	borrowerAcc.Debit(pool.CollateralAsset, amount)
	custodyAcc.Credit(pool.CollateralAsset, amount)

	if err := e.persistAccount(borrower, borrowerAcc); err != nil {
		return err
	}
	if err := e.persistAccount(e.collateralAddress, custodyAcc); err != nil {
		return err
	}
	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralSupplied{PoolID: e.poolID, Borrower: borrower, Amount: cloneBig(amount)})
	return nil
}

// WithdrawCollateral releases collateral back to the borrower. When the
// borrower has outstanding debt the solvency gate is re-run against the
// reduced collateral balance; a failing check rolls the whole call back.
func (e *Engine) WithdrawCollateral(borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.accrue(pool)

	position, err := e.ensurePosition(borrower)
	if err != nil {
		return err
	}
	if err := position.Withdraw(e.moduleAddress, pool.CollateralAsset, amount); err != nil {
		return err
	}

	user, err := e.ensureUser(borrower)
	if err != nil {
		return err
	}
	if user.BorrowShares.Sign() > 0 {
		if err := checkHealth(e.feeds, pool, position.BalanceOf(pool.CollateralAsset), user.BorrowShares); err != nil {
			return err
		}
	}

	custodyAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return err
	}
	if custodyAcc.BalanceOf(pool.CollateralAsset).Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}

	custodyAcc.Debit(pool.CollateralAsset, amount)
	borrowerAcc.Credit(pool.CollateralAsset, amount)

	if err := e.persistAccount(e.collateralAddress, custodyAcc); err != nil {
		return err
	}
	if err := e.persistAccount(borrower, borrowerAcc); err != nil {
		return err
	}
	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralReleased{PoolID: e.poolID, Borrower: borrower, Amount: cloneBig(amount)})
	return nil
}

// BorrowDebt mints borrow shares for the requested amount, charges the fixed
// protocol fee and settles the net amount either locally or through the
// registered bridge sender for the destination domain. The protocol fee and,
// for cross-domain borrows, the message identifier are returned.
//
// Every failure check runs against post-mutation working state and aborts the
// call before anything is persisted.
func (e *Engine) BorrowDebt(borrower crypto.Address, amount *big.Int, destinationDomain uint32, senderIndex int) (*big.Int, string, error) {
	if e == nil || e.state == nil {
		return nil, "", errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, "", err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return nil, "", err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, "", errInvalidAmount
	}
	if e.treasury.IsZero() {
		return nil, "", errTreasuryNotConfigured
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, "", err
	}
	e.accrue(pool)

	minted := sharesForAmount(amount, pool.TotalBorrowShares, pool.TotalBorrowAssets)
	fee := feeOnAmount(amount, BorrowFeeBps)
	net := new(big.Int).Sub(amount, fee)

	pool.TotalBorrowAssets = new(big.Int).Add(pool.TotalBorrowAssets, amount)
	pool.TotalBorrowShares = new(big.Int).Add(pool.TotalBorrowShares, minted)
	if pool.TotalBorrowAssets.Cmp(pool.TotalSupplyAssets) > 0 {
		return nil, "", errInsufficientLiquidity
	}

	user, err := e.ensureUser(borrower)
	if err != nil {
		return nil, "", err
	}
	user.BorrowShares = new(big.Int).Add(user.BorrowShares, minted)

	position, err := e.ensurePosition(borrower)
	if err != nil {
		return nil, "", err
	}
	if err := checkHealth(e.feeds, pool, position.BalanceOf(pool.CollateralAsset), user.BorrowShares); err != nil {
		return nil, "", err
	}

	fees, err := e.ensureFees()
	if err != nil {
		return nil, "", err
	}
	fees.ProtocolFees = new(big.Int).Add(fees.ProtocolFees, fee)

	if destinationDomain == e.localDomain {
		return e.settleLocalBorrow(pool, user, position, fees, borrower, amount, fee, net, minted)
	}
	return e.settleBridgedBorrow(pool, user, position, fees, borrower, destinationDomain, senderIndex, fee, net, minted)
}

func (e *Engine) settleLocalBorrow(pool *Pool, user *UserAccount, position *Position, fees *FeeAccrual, borrower crypto.Address, amount, fee, net, minted *big.Int) (*big.Int, string, error) {
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, "", err
	}
	if moduleAcc.BalanceOf(pool.BorrowAsset).Cmp(amount) < 0 {
		return nil, "", errInsufficientLiquidity
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return nil, "", err
	}
	treasuryAcc, err := e.loadAccount(e.treasury)
	if err != nil {
		return nil, "", err
	}

	moduleAcc.Debit(pool.BorrowAsset, amount)
	borrowerAcc.Credit(pool.BorrowAsset, net)
	treasuryAcc.Credit(pool.BorrowAsset, fee)

	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, "", err
	}
	if err := e.persistAccount(borrower, borrowerAcc); err != nil {
		return nil, "", err
	}
	if err := e.persistAccount(e.treasury, treasuryAcc); err != nil {
		return nil, "", err
	}
	if err := e.persistBorrowRecords(pool, user, position, fees); err != nil {
		return nil, "", err
	}

	e.emitter.Emit(events.DebtBorrowed{
		PoolID:            e.poolID,
		Borrower:          borrower,
		Amount:            cloneBig(amount),
		Fee:               cloneBig(fee),
		Shares:            cloneBig(minted),
		DestinationDomain: e.localDomain,
	})
	return fee, "", nil
}

// settleBridgedBorrow runs every remaining check before the bridge leg so
// that the burn and dispatch are the first externally visible mutations; the
// committed transfers and record writes that follow cannot fail validation.
func (e *Engine) settleBridgedBorrow(pool *Pool, user *UserAccount, position *Position, fees *FeeAccrual, borrower crypto.Address, destinationDomain uint32, senderIndex int, fee, net, minted *big.Int) (*big.Int, string, error) {
	if e.senders == nil {
		return nil, "", errBridgeNotConfigured
	}
	if e.ledger == nil {
		return nil, "", errNilState
	}
	sender, err := e.senders.Sender(destinationDomain, senderIndex)
	if err != nil {
		return nil, "", err
	}
	msgFee, err := sender.Quote(destinationDomain)
	if err != nil {
		return nil, "", err
	}

	moduleAcc, err := e.state.GetAccount(e.moduleAddress)
	if err != nil {
		return nil, "", err
	}
	amount := new(big.Int).Add(net, fee)
	if moduleAcc == nil || moduleAcc.BalanceOf(pool.BorrowAsset).Cmp(amount) < 0 {
		return nil, "", errInsufficientLiquidity
	}
	if msgFee.Sign() > 0 {
		if e.feeAsset == "" {
			return nil, "", errBridgeNotConfigured
		}
		borrowerAcc, err := e.state.GetAccount(borrower)
		if err != nil {
			return nil, "", err
		}
		if borrowerAcc == nil || borrowerAcc.BalanceOf(e.feeAsset).Cmp(msgFee) < 0 {
			return nil, "", errInsufficientBalance
		}
	}

	messageID, err := sender.Bridge(e.moduleAddress, net, borrower, pool.BorrowAsset)
	if err != nil {
		return nil, "", err
	}
	if err := e.ledger.Transfer(pool.BorrowAsset, e.moduleAddress, e.treasury, fee); err != nil {
		return nil, "", err
	}
	if msgFee.Sign() > 0 {
		if err := e.ledger.Transfer(e.feeAsset, borrower, sender.FeeCollector(), msgFee); err != nil {
			return nil, "", err
		}
	}
	if err := e.persistBorrowRecords(pool, user, position, fees); err != nil {
		return nil, "", err
	}

	e.emitter.Emit(events.DebtBorrowed{
		PoolID:            e.poolID,
		Borrower:          borrower,
		Amount:            cloneBig(amount),
		Fee:               cloneBig(fee),
		Shares:            cloneBig(minted),
		DestinationDomain: destinationDomain,
		MessageID:         messageID,
	})
	return fee, messageID, nil
}

func (e *Engine) persistBorrowRecords(pool *Pool, user *UserAccount, position *Position, fees *FeeAccrual) error {
	if err := e.state.PutUser(e.poolID, user); err != nil {
		return err
	}
	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return err
	}
	if err := e.state.PutFees(e.poolID, fees); err != nil {
		return err
	}
	return e.state.PutPool(e.poolID, pool)
}

// RepayWithSelectedToken burns borrow shares against a repayment collected
// either directly from the borrower's external balance (when token is the
// borrow asset) or from their position, swapping the selected token into the
// borrow asset first. The repaid asset amount is returned.
//
// The ledger decrement and the fund collection are staged together and
// persisted as one unit, so a failing collection leaves no partial state.
func (e *Engine) RepayWithSelectedToken(borrower crypto.Address, shares *big.Int, token string, fromPosition bool) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)

	user, err := e.ensureUser(borrower)
	if err != nil {
		return nil, err
	}
	if user.BorrowShares.Cmp(shares) < 0 {
		return nil, errInsufficientShares
	}

	amount := assetsForShares(shares, pool.TotalBorrowAssets, pool.TotalBorrowShares)

	pool.TotalBorrowAssets = new(big.Int).Sub(pool.TotalBorrowAssets, amount)
	pool.TotalBorrowShares = new(big.Int).Sub(pool.TotalBorrowShares, shares)
	user.BorrowShares = new(big.Int).Sub(user.BorrowShares, shares)

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	token = strings.TrimSpace(token)
	var position *Position
	if token == pool.BorrowAsset && !fromPosition {
		borrowerAcc, err := e.loadAccount(borrower)
		if err != nil {
			return nil, err
		}
		if borrowerAcc.BalanceOf(pool.BorrowAsset).Cmp(amount) < 0 {
			return nil, errInsufficientBalance
		}
		borrowerAcc.Debit(pool.BorrowAsset, amount)
		moduleAcc.Credit(pool.BorrowAsset, amount)
		if err := e.persistAccount(borrower, borrowerAcc); err != nil {
			return nil, err
		}
	} else {
		position, err = e.ensurePosition(borrower)
		if err != nil {
			return nil, err
		}
		if err := e.settleFromPosition(pool, position, token, amount); err != nil {
			return nil, err
		}
		moduleAcc.Credit(pool.BorrowAsset, amount)
		if err := e.state.PutPosition(e.poolID, position); err != nil {
			return nil, err
		}
	}

	if err := e.persistAccount(e.moduleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutUser(e.poolID, user); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.DebtRepaid{PoolID: e.poolID, Borrower: borrower, Shares: cloneBig(shares), Amount: cloneBig(amount), Token: token})
	return amount, nil
}

// settleFromPosition sources amount of the borrow asset from the position,
// swapping the selected token first when it differs.
func (e *Engine) settleFromPosition(pool *Pool, position *Position, token string, amount *big.Int) error {
	if token != pool.BorrowAsset {
		if e.swap == nil {
			return errSwapNotConfigured
		}
		required, err := e.swap.QuoteIn(token, pool.BorrowAsset, amount)
		if err != nil {
			return err
		}
		out, err := position.Swap(e.moduleAddress, e.swap, token, pool.BorrowAsset, required)
		if err != nil {
			return err
		}
		if out.Cmp(amount) < 0 {
			return errSwapShortfall
		}
	}
	return position.Withdraw(e.moduleAddress, pool.BorrowAsset, amount)
}

// SwapTokenByPosition converts amountIn of tokenFrom held in the caller's
// position into tokenTo. tokenFrom must be the pool's collateral asset or a
// token the position already tracks. When the swap reduces collateral backing
// outstanding debt the solvency gate is re-run.
func (e *Engine) SwapTokenByPosition(owner crypto.Address, tokenFrom, tokenTo string, amountIn *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)

	position, err := e.ensurePosition(owner)
	if err != nil {
		return nil, err
	}
	if tokenFrom != pool.CollateralAsset && !position.Tracks(tokenFrom) {
		return nil, errUnknownToken
	}

	amountOut, err := position.Swap(e.moduleAddress, e.swap, tokenFrom, tokenTo, amountIn)
	if err != nil {
		return nil, err
	}

	if tokenFrom == pool.CollateralAsset {
		user, err := e.ensureUser(owner)
		if err != nil {
			return nil, err
		}
		if user.BorrowShares.Sign() > 0 {
			if err := checkHealth(e.feeds, pool, position.BalanceOf(pool.CollateralAsset), user.BorrowShares); err != nil {
				return nil, err
			}
		}
	}

	if err := e.state.PutPosition(e.poolID, position); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.PositionSwapped{PoolID: e.poolID, Owner: owner, TokenFrom: tokenFrom, TokenTo: tokenTo, AmountIn: cloneBig(amountIn), AmountOut: cloneBig(amountOut)})
	return amountOut, nil
}

// AccrueInterest applies pending interest and persists the pool record. It is
// safe to call at any time; zero elapsed time is a no-op.
func (e *Engine) AccrueInterest() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.lock.Enter()
	if err != nil {
		return err
	}
	defer release()
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	if !e.accrue(pool) {
		return nil
	}
	return e.state.PutPool(e.poolID, pool)
}

// WithdrawProtocolFees releases accrued protocol fees from the pool module to
// the recipient. Only the configured owner may call it.
func (e *Engine) WithdrawProtocolFees(caller, recipient crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if e.owner.IsZero() || !caller.Equal(e.owner) {
		return nil, errNotOwner
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	fees, err := e.ensureFees()
	if err != nil {
		return nil, err
	}
	if fees.ProtocolFees.Cmp(amount) < 0 {
		return nil, errInsufficientLiquidity
	}

	treasuryAcc, err := e.loadAccount(e.treasury)
	if err != nil {
		return nil, err
	}
	if treasuryAcc.BalanceOf(pool.BorrowAsset).Cmp(amount) < 0 {
		return nil, errInsufficientLiquidity
	}
	recipientAcc, err := e.loadAccount(recipient)
	if err != nil {
		return nil, err
	}

	treasuryAcc.Debit(pool.BorrowAsset, amount)
	recipientAcc.Credit(pool.BorrowAsset, amount)
	fees.ProtocolFees = new(big.Int).Sub(fees.ProtocolFees, amount)

	if err := e.persistAccount(e.treasury, treasuryAcc); err != nil {
		return nil, err
	}
	if err := e.persistAccount(recipient, recipientAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutFees(e.poolID, fees); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.ProtocolFeesPaid{PoolID: e.poolID, Recipient: recipient, Amount: cloneBig(amount)})
	return new(big.Int).Set(amount), nil
}

// PoolState returns a copy of the current pool record with interest applied
// in-memory (the stored record is not modified).
func (e *Engine) PoolState() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	e.accrue(pool)
	return pool, nil
}

// UserState returns copies of the user's share balances and position.
func (e *Engine) UserState(addr crypto.Address) (*UserAccount, *Position, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	user, err := e.ensureUser(addr)
	if err != nil {
		return nil, nil, err
	}
	position, err := e.ensurePosition(addr)
	if err != nil {
		return nil, nil, err
	}
	return user, position, nil
}

// ConvertToSupplyShares converts a borrow-asset amount into supply shares at
// the current share price.
func (e *Engine) ConvertToSupplyShares(amount *big.Int) (*big.Int, error) {
	pool, err := e.PoolState()
	if err != nil {
		return nil, err
	}
	return sharesForAmount(amount, pool.TotalSupplyShares, pool.TotalSupplyAssets), nil
}

// ConvertToSupplyAssets converts supply shares into a borrow-asset amount.
func (e *Engine) ConvertToSupplyAssets(shares *big.Int) (*big.Int, error) {
	pool, err := e.PoolState()
	if err != nil {
		return nil, err
	}
	return assetsForShares(shares, pool.TotalSupplyAssets, pool.TotalSupplyShares), nil
}

// ConvertToBorrowShares converts a borrow-asset amount into borrow shares.
func (e *Engine) ConvertToBorrowShares(amount *big.Int) (*big.Int, error) {
	pool, err := e.PoolState()
	if err != nil {
		return nil, err
	}
	return sharesForAmount(amount, pool.TotalBorrowShares, pool.TotalBorrowAssets), nil
}

// ConvertToBorrowAssets converts borrow shares into a borrow-asset amount.
func (e *Engine) ConvertToBorrowAssets(shares *big.Int) (*big.Int, error) {
	pool, err := e.PoolState()
	if err != nil {
		return nil, err
	}
	return assetsForShares(shares, pool.TotalBorrowAssets, pool.TotalBorrowShares), nil
}

// accrue applies simple interest for the elapsed wall-clock time to the
// working pool record. Interest increases supply and borrow totals equally so
// the supplier share price is monotonically non-decreasing. Returns whether
// anything changed.
func (e *Engine) accrue(pool *Pool) bool {
	now := e.now().Unix()
	if pool.LastAccrued == 0 {
		pool.LastAccrued = now
		return true
	}
	elapsed := now - pool.LastAccrued
	if elapsed <= 0 {
		return false
	}
	pool.LastAccrued = now
	interest := simpleInterest(pool.TotalBorrowAssets, e.rateBps, elapsed)
	if interest.Sign() == 0 {
		return true
	}
	pool.TotalBorrowAssets = new(big.Int).Add(pool.TotalBorrowAssets, interest)
	pool.TotalSupplyAssets = new(big.Int).Add(pool.TotalSupplyAssets, interest)
	return true
}

func (e *Engine) ensurePool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if strings.TrimSpace(e.poolID) == "" {
		return nil, errPoolNotConfigured
	}
	pool, err := e.state.GetPool(e.poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errNilPool
	}
	if pool.LTV == nil || pool.LTV.Sign() <= 0 || pool.LTV.Cmp(ltvScale) > 0 {
		return nil, errNilPool
	}
	if pool.TotalSupplyAssets == nil {
		pool.TotalSupplyAssets = big.NewInt(0)
	}
	if pool.TotalSupplyShares == nil {
		pool.TotalSupplyShares = big.NewInt(0)
	}
	if pool.TotalBorrowAssets == nil {
		pool.TotalBorrowAssets = big.NewInt(0)
	}
	if pool.TotalBorrowShares == nil {
		pool.TotalBorrowShares = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) ensureUser(addr crypto.Address) (*UserAccount, error) {
	if strings.TrimSpace(e.poolID) == "" {
		return nil, errPoolNotConfigured
	}
	user, err := e.state.GetUser(e.poolID, addr)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &UserAccount{Address: addr}
	}
	if user.SupplyShares == nil {
		user.SupplyShares = big.NewInt(0)
	}
	if user.BorrowShares == nil {
		user.BorrowShares = big.NewInt(0)
	}
	return user, nil
}

// ensurePosition applies the lazy get-or-create lifecycle: the first
// borrow-related call creates the vault, subsequent calls reuse it.
func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	if strings.TrimSpace(e.poolID) == "" {
		return nil, errPoolNotConfigured
	}
	position, err := e.state.GetPosition(e.poolID, addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = NewPosition(addr, e.moduleAddress)
	}
	if position.Balances == nil {
		position.Balances = make(map[string]*big.Int)
	}
	return position, nil
}

func (e *Engine) ensureFees() (*FeeAccrual, error) {
	if strings.TrimSpace(e.poolID) == "" {
		return nil, errPoolNotConfigured
	}
	fees, err := e.state.GetFees(e.poolID)
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{}
	}
	if fees.ProtocolFees == nil {
		fees.ProtocolFees = big.NewInt(0)
	}
	return fees, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc, nil
}

func (e *Engine) persistAccount(addr crypto.Address, acc *types.Account) error {
	return e.state.PutAccount(addr, acc)
}

package lending

import (
	"errors"
	"math/big"

	"crosslend/crypto"
)

var (
	errPositionUnauthorized = errors.New("position: caller is not the owning pool")
	errUnknownToken         = errors.New("position: token not tracked by position")
	errPositionBalance      = errors.New("position: insufficient token balance")
	errSwapShortfall        = errors.New("position: swap returned less than required")
)

// SwapExecutor is the external collaborator that converts one asset into
// another on behalf of a position.
type SwapExecutor interface {
	// Swap converts amountIn of tokenIn and returns the amount of tokenOut
	// produced.
	Swap(tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error)
	// QuoteIn returns the tokenIn amount required to produce amountOut of
	// tokenOut at the current rate.
	QuoteIn(tokenIn, tokenOut string, amountOut *big.Int) (*big.Int, error)
}

// Position is a borrower's per-pool custody vault. It holds the collateral
// balance and any auxiliary asset the borrower has swapped into. Creation is
// lazy and idempotent; positions are never destroyed. Only the owning pool
// may invoke mutating operations; the position trusts its creator pool
// completely, and the caller identity check below is the sole access-control
// boundary.
type Position struct {
	Owner    crypto.Address
	Pool     crypto.Address
	Balances map[string]*big.Int
}

// NewPosition constructs an empty vault bound to its owning pool.
func NewPosition(owner, pool crypto.Address) *Position {
	return &Position{Owner: owner, Pool: pool, Balances: make(map[string]*big.Int)}
}

func (p *Position) authorise(caller crypto.Address) error {
	if p == nil || !caller.Equal(p.Pool) {
		return errPositionUnauthorized
	}
	return nil
}

// BalanceOf reports the token balance held in the vault, never nil.
func (p *Position) BalanceOf(token string) *big.Int {
	if p == nil || p.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := p.Balances[token]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Tracks reports whether the vault has ever held the token.
func (p *Position) Tracks(token string) bool {
	if p == nil || p.Balances == nil {
		return false
	}
	_, ok := p.Balances[token]
	return ok
}

// Deposit records tokens entering the vault.
func (p *Position) Deposit(caller crypto.Address, token string, amount *big.Int) error {
	if err := p.authorise(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if p.Balances == nil {
		p.Balances = make(map[string]*big.Int)
	}
	p.Balances[token] = new(big.Int).Add(p.BalanceOf(token), amount)
	return nil
}

// Withdraw records tokens leaving the vault.
func (p *Position) Withdraw(caller crypto.Address, token string, amount *big.Int) error {
	if err := p.authorise(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !p.Tracks(token) {
		return errUnknownToken
	}
	bal := p.BalanceOf(token)
	if bal.Cmp(amount) < 0 {
		return errPositionBalance
	}
	p.Balances[token] = bal.Sub(bal, amount)
	return nil
}

// TransferTo moves tokens between two positions owned by the same pool.
func (p *Position) TransferTo(caller crypto.Address, dest *Position, token string, amount *big.Int) error {
	if err := p.authorise(caller); err != nil {
		return err
	}
	if dest == nil {
		return errPositionUnauthorized
	}
	if err := dest.authorise(caller); err != nil {
		return err
	}
	if err := p.Withdraw(caller, token, amount); err != nil {
		return err
	}
	return dest.Deposit(caller, token, amount)
}

// Swap converts amountIn of tokenFrom into tokenTo through the executor and
// credits the proceeds back into the vault. The amount received is returned.
func (p *Position) Swap(caller crypto.Address, executor SwapExecutor, tokenFrom, tokenTo string, amountIn *big.Int) (*big.Int, error) {
	if err := p.authorise(caller); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, errSwapNotConfigured
	}
	if err := p.Withdraw(caller, tokenFrom, amountIn); err != nil {
		return nil, err
	}
	amountOut, err := executor.Swap(tokenFrom, tokenTo, amountIn)
	if err != nil {
		return nil, err
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, errSwapShortfall
	}
	if err := p.Deposit(caller, tokenTo, amountOut); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amountOut), nil
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Owner: p.Owner, Pool: p.Pool, Balances: make(map[string]*big.Int, len(p.Balances))}
	for token, bal := range p.Balances {
		if bal == nil {
			bal = big.NewInt(0)
		}
		clone.Balances[token] = new(big.Int).Set(bal)
	}
	return clone
}

package types

import "math/big"

// Account is the balance-of-record for a single address. Balances are keyed
// by asset symbol and denominated in the asset's native integer precision.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// BalanceOf returns the balance held for the asset, never nil.
func (a *Account) BalanceOf(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[asset]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance records the balance held for the asset.
func (a *Account) SetBalance(asset string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[asset] = new(big.Int).Set(amount)
}

// Credit adds amount to the asset balance.
func (a *Account) Credit(asset string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	a.SetBalance(asset, new(big.Int).Add(a.BalanceOf(asset), amount))
}

// Debit subtracts amount from the asset balance. The caller is expected to
// have checked sufficiency; a negative result indicates a ledger bug.
func (a *Account) Debit(asset string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	a.SetBalance(asset, new(big.Int).Sub(a.BalanceOf(asset), amount))
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]*big.Int, len(a.Balances))}
	for asset, bal := range a.Balances {
		if bal == nil {
			bal = big.NewInt(0)
		}
		clone.Balances[asset] = new(big.Int).Set(bal)
	}
	return clone
}

package lending

import (
	"errors"
	"math/big"
	"testing"

	"crosslend/crypto"
)

func TestPositionRejectsForeignCaller(t *testing.T) {
	owner := makeAddress(crypto.AccountPrefix, 0x10)
	pool := makeAddress(crypto.ModulePrefix, 0x01)
	stranger := makeAddress(crypto.AccountPrefix, 0x99)
	position := NewPosition(owner, pool)

	if err := position.Deposit(stranger, "CLT", big.NewInt(10)); !errors.Is(err, errPositionUnauthorized) {
		t.Fatalf("expected authorisation failure, got %v", err)
	}
	// The owner themselves cannot bypass the pool either.
	if err := position.Deposit(owner, "CLT", big.NewInt(10)); !errors.Is(err, errPositionUnauthorized) {
		t.Fatalf("expected authorisation failure for owner, got %v", err)
	}
	if err := position.Withdraw(stranger, "CLT", big.NewInt(10)); !errors.Is(err, errPositionUnauthorized) {
		t.Fatalf("expected authorisation failure, got %v", err)
	}
}

func TestPositionWithdrawBounds(t *testing.T) {
	pool := makeAddress(crypto.ModulePrefix, 0x01)
	position := NewPosition(makeAddress(crypto.AccountPrefix, 0x10), pool)
	if err := position.Deposit(pool, "CLT", big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := position.Withdraw(pool, "WETH", big.NewInt(1)); !errors.Is(err, errUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if err := position.Withdraw(pool, "CLT", big.NewInt(51)); !errors.Is(err, errPositionBalance) {
		t.Fatalf("expected balance error, got %v", err)
	}
	if err := position.Withdraw(pool, "CLT", big.NewInt(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := position.BalanceOf("CLT"); got.Sign() != 0 {
		t.Fatalf("expected drained balance, got %s", got)
	}
	// Token stays tracked at zero balance.
	if !position.Tracks("CLT") {
		t.Fatal("token should remain tracked after drain")
	}
}

func TestPositionTransferAcrossVaults(t *testing.T) {
	pool := makeAddress(crypto.ModulePrefix, 0x01)
	from := NewPosition(makeAddress(crypto.AccountPrefix, 0x10), pool)
	to := NewPosition(makeAddress(crypto.AccountPrefix, 0x11), pool)
	if err := from.Deposit(pool, "CLT", big.NewInt(30)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := from.TransferTo(pool, to, "CLT", big.NewInt(20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := from.BalanceOf("CLT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected 10 remaining, got %s", got)
	}
	if got := to.BalanceOf("CLT"); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected 20 received, got %s", got)
	}

	foreign := NewPosition(makeAddress(crypto.AccountPrefix, 0x12), makeAddress(crypto.ModulePrefix, 0x02))
	if err := from.TransferTo(pool, foreign, "CLT", big.NewInt(1)); !errors.Is(err, errPositionUnauthorized) {
		t.Fatalf("expected cross-pool transfer rejection, got %v", err)
	}
}

type zeroSwapper struct{}

func (zeroSwapper) Swap(tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (zeroSwapper) QuoteIn(tokenIn, tokenOut string, amountOut *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amountOut), nil
}

func TestPositionSwapShortfall(t *testing.T) {
	pool := makeAddress(crypto.ModulePrefix, 0x01)
	position := NewPosition(makeAddress(crypto.AccountPrefix, 0x10), pool)
	if err := position.Deposit(pool, "CLT", big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := position.Swap(pool, zeroSwapper{}, "CLT", "CUSD", big.NewInt(10)); !errors.Is(err, errSwapShortfall) {
		t.Fatalf("expected shortfall error, got %v", err)
	}
	if _, err := position.Swap(pool, nil, "CLT", "CUSD", big.NewInt(10)); !errors.Is(err, errSwapNotConfigured) {
		t.Fatalf("expected executor configuration error, got %v", err)
	}
}

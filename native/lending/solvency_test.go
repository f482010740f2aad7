package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"crosslend/native/oracle"
)

type pairFeeds struct {
	prices map[string]struct {
		price    *big.Int
		decimals uint8
	}
}

func (f pairFeeds) Price(asset string) (oracle.PriceRecord, uint8, error) {
	rec, ok := f.prices[asset]
	if !ok {
		return oracle.PriceRecord{}, 0, oracle.ErrFeedNotFound
	}
	return oracle.PriceRecord{Price: new(big.Int).Set(rec.price), Timestamp: time.Unix(0, 0)}, rec.decimals, nil
}

func solvencyPool() *Pool {
	return &Pool{
		CollateralAsset:   "CLT",
		BorrowAsset:       "CUSD",
		LTV:               mustBigInt("750000000000000000"),
		TotalBorrowAssets: big.NewInt(100),
		TotalBorrowShares: big.NewInt(100),
	}
}

func TestCheckHealthAlignsFeedDecimals(t *testing.T) {
	feeds := pairFeeds{prices: map[string]struct {
		price    *big.Int
		decimals uint8
	}{
		// CLT priced at 2.00 with two decimals, CUSD at 1 with zero.
		"CLT":  {price: big.NewInt(200), decimals: 2},
		"CUSD": {price: big.NewInt(1), decimals: 0},
	}}
	pool := solvencyPool()

	// Debt 100 valued at 100, collateral 67 valued at 134: limit is
	// 134 * 0.75 = 100.5, so the position is healthy.
	if err := checkHealth(feeds, pool, big.NewInt(67), big.NewInt(100)); err != nil {
		t.Fatalf("expected healthy position, got %v", err)
	}
	// Collateral 66 valued at 132: limit 99 < debt 100, unhealthy.
	if err := checkHealth(feeds, pool, big.NewInt(66), big.NewInt(100)); !errors.Is(err, errHealthCheckFailed) {
		t.Fatalf("expected health failure, got %v", err)
	}
}

func TestCheckHealthZeroDebtAlwaysHealthy(t *testing.T) {
	pool := solvencyPool()
	if err := checkHealth(nil, pool, big.NewInt(0), big.NewInt(0)); err != nil {
		t.Fatalf("zero debt must not consult the oracle: %v", err)
	}
	if err := checkHealth(nil, pool, nil, nil); err != nil {
		t.Fatalf("nil shares must not consult the oracle: %v", err)
	}
}

func TestCheckHealthRequiresFeeds(t *testing.T) {
	pool := solvencyPool()
	if err := checkHealth(nil, pool, big.NewInt(100), big.NewInt(1)); !errors.Is(err, errOracleNotConfigured) {
		t.Fatalf("expected oracle configuration error, got %v", err)
	}
	feeds := pairFeeds{prices: map[string]struct {
		price    *big.Int
		decimals uint8
	}{}}
	if err := checkHealth(feeds, pool, big.NewInt(100), big.NewInt(1)); !errors.Is(err, oracle.ErrFeedNotFound) {
		t.Fatalf("expected missing feed error, got %v", err)
	}
}

func TestCheckHealthZeroCollateralWithDebt(t *testing.T) {
	feeds := pairFeeds{prices: map[string]struct {
		price    *big.Int
		decimals uint8
	}{
		"CLT":  {price: big.NewInt(1), decimals: 0},
		"CUSD": {price: big.NewInt(1), decimals: 0},
	}}
	pool := solvencyPool()
	if err := checkHealth(feeds, pool, big.NewInt(0), big.NewInt(1)); !errors.Is(err, errHealthCheckFailed) {
		t.Fatalf("debt with no collateral must fail, got %v", err)
	}
}

package lending

import (
	"errors"
	"math/big"
	"testing"
)

func swapFeeds() pairFeeds {
	return pairFeeds{prices: map[string]struct {
		price    *big.Int
		decimals uint8
	}{
		// CLT at 3.00 with two decimals, CUSD at 2 with zero decimals.
		"CLT":  {price: big.NewInt(300), decimals: 2},
		"CUSD": {price: big.NewInt(2), decimals: 0},
	}}
}

func TestOracleSwapperConvertsAtFeedRate(t *testing.T) {
	swapper := NewOracleSwapper(swapFeeds())

	out, err := swapper.Swap("CLT", "CUSD", big.NewInt(100))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	// 100 CLT at 3.00 is worth 300 units, which buys 150 CUSD at 2.
	if out.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected output: %s", out)
	}

	out, err = swapper.Swap("CUSD", "CLT", big.NewInt(3))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	// 3 CUSD is worth 6 units; 6/3.00 = 2 CLT.
	if out.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestOracleSwapperQuoteInRoundsUp(t *testing.T) {
	swapper := NewOracleSwapper(swapFeeds())

	in, err := swapper.QuoteIn("CLT", "CUSD", big.NewInt(100))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 100 CUSD is worth 200 units; 200/3.00 rounds up to 67 CLT.
	if in.Cmp(big.NewInt(67)) != 0 {
		t.Fatalf("unexpected quote: %s", in)
	}

	// A quote must always fund the swap it was issued for.
	out, err := swapper.Swap("CLT", "CUSD", in)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Cmp(big.NewInt(100)) < 0 {
		t.Fatalf("quoted input underfunds swap: got %s", out)
	}
}

func TestOracleSwapperRejectsUnpricedAsset(t *testing.T) {
	swapper := NewOracleSwapper(swapFeeds())
	if _, err := swapper.Swap("CLT", "DOGE", big.NewInt(10)); err == nil {
		t.Fatalf("expected missing feed error")
	}
	if _, err := swapper.QuoteIn("DOGE", "CUSD", big.NewInt(10)); err == nil {
		t.Fatalf("expected missing feed error")
	}
	if _, err := (&OracleSwapper{}).Swap("CLT", "CUSD", big.NewInt(1)); !errors.Is(err, errOracleNotConfigured) {
		t.Fatalf("expected oracle not configured, got %v", err)
	}
}

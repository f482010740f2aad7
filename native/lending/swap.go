package lending

import (
	"errors"
	"math/big"
)

var errSwapRate = errors.New("lending swap: zero price for asset")

// OracleSwapper converts assets at the posted oracle rate. It settles
// instantly and carries no inventory of its own, so it suits single-operator
// deployments where positions swap against the protocol treasury.
type OracleSwapper struct {
	feeds PriceSource
}

// NewOracleSwapper builds a swap executor pricing through feeds.
func NewOracleSwapper(feeds PriceSource) *OracleSwapper {
	return &OracleSwapper{feeds: feeds}
}

func (o *OracleSwapper) rate(tokenIn, tokenOut string) (*big.Int, *big.Int, error) {
	if o == nil || o.feeds == nil {
		return nil, nil, errOracleNotConfigured
	}
	inRec, inDec, err := o.feeds.Price(tokenIn)
	if err != nil {
		return nil, nil, err
	}
	outRec, outDec, err := o.feeds.Price(tokenOut)
	if err != nil {
		return nil, nil, err
	}
	if inRec.Price.Sign() <= 0 || outRec.Price.Sign() <= 0 {
		return nil, nil, errSwapRate
	}
	// Value of one unit of each side, aligned to a common decimal scale.
	inValue := new(big.Int).Set(inRec.Price)
	outValue := new(big.Int).Set(outRec.Price)
	if inDec > outDec {
		outValue.Mul(outValue, pow10(uint(inDec-outDec)))
	} else if outDec > inDec {
		inValue.Mul(inValue, pow10(uint(outDec-inDec)))
	}
	return inValue, outValue, nil
}

// Swap converts amountIn of tokenIn into tokenOut at the oracle rate,
// rounding the output down.
func (o *OracleSwapper) Swap(tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	inValue, outValue, err := o.rate(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return mulDiv(amountIn, inValue, outValue), nil
}

// QuoteIn returns the tokenIn amount needed to produce amountOut of tokenOut,
// rounding the input up so the swap never undershoots.
func (o *OracleSwapper) QuoteIn(tokenIn, tokenOut string, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	inValue, outValue, err := o.rate(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	numerator := new(big.Int).Mul(amountOut, outValue)
	quotient, remainder := new(big.Int).QuoRem(numerator, inValue, new(big.Int))
	if remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient, nil
}

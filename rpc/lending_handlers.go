package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"crosslend/crypto"
	"crosslend/native/lending"
)

type poolParams struct {
	PoolID string `json:"poolId,omitempty"`
}

type accountParams struct {
	Address string `json:"address"`
	PoolID  string `json:"poolId,omitempty"`
}

type amountParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
	PoolID string `json:"poolId,omitempty"`
}

type borrowParams struct {
	Borrower          string `json:"borrower"`
	Amount            string `json:"amount"`
	DestinationDomain uint32 `json:"destinationDomain,omitempty"`
	SenderIndex       int    `json:"senderIndex,omitempty"`
	PoolID            string `json:"poolId,omitempty"`
}

type repayParams struct {
	Borrower     string `json:"borrower"`
	Shares       string `json:"shares"`
	Token        string `json:"token"`
	FromPosition bool   `json:"fromPosition,omitempty"`
	PoolID       string `json:"poolId,omitempty"`
}

type swapPositionParams struct {
	Owner     string `json:"owner"`
	TokenFrom string `json:"tokenFrom"`
	TokenTo   string `json:"tokenTo"`
	AmountIn  string `json:"amountIn"`
	PoolID    string `json:"poolId,omitempty"`
}

type withdrawFeesParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	PoolID    string `json:"poolId,omitempty"`
}

type poolResult struct {
	PoolID            string `json:"poolId"`
	CollateralAsset   string `json:"collateralAsset"`
	BorrowAsset       string `json:"borrowAsset"`
	LTV               string `json:"ltv"`
	TotalSupplyAssets string `json:"totalSupplyAssets"`
	TotalSupplyShares string `json:"totalSupplyShares"`
	TotalBorrowAssets string `json:"totalBorrowAssets"`
	TotalBorrowShares string `json:"totalBorrowShares"`
	LastAccrued       int64  `json:"lastAccrued"`
}

type positionResult struct {
	Address      string            `json:"address"`
	SupplyShares string            `json:"supplyShares"`
	BorrowShares string            `json:"borrowShares"`
	Balances     map[string]string `json:"balances"`
}

type supplyResult struct {
	Shares string `json:"shares"`
}

type withdrawResult struct {
	Amount string `json:"amount"`
}

type borrowResult struct {
	Fee       string `json:"fee"`
	MessageID string `json:"messageId,omitempty"`
}

type repayResult struct {
	Amount string `json:"amount"`
}

type swapResult struct {
	AmountOut string `json:"amountOut"`
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one parameter object expected"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter", Data: err.Error()}
	}
	return nil
}

func parseAddress(raw, field string) (crypto.Address, *RPCError) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: field + " must be a bech32 address", Data: err.Error()}
	}
	return decoded, nil
}

func parseAmount(raw, field string) (*big.Int, *RPCError) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " must be a base-10 integer"}
	}
	return value, nil
}

func writeRPCError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	status := http.StatusBadRequest
	if rpcErr.Code == codeServerError {
		status = http.StatusInternalServerError
	}
	if rpcErr.Code == codeUnauthorized {
		status = http.StatusUnauthorized
	}
	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func engineError(err error) *RPCError {
	return &RPCError{Code: codeServerError, Message: err.Error()}
}

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr)
			return
		}
	}
	engine, poolID, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	pool, err := engine.PoolState()
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	s.publishPoolMetrics(poolID, pool)
	writeResult(w, req.ID, poolResult{
		PoolID:            poolID,
		CollateralAsset:   pool.CollateralAsset,
		BorrowAsset:       pool.BorrowAsset,
		LTV:               pool.LTV.String(),
		TotalSupplyAssets: pool.TotalSupplyAssets.String(),
		TotalSupplyShares: pool.TotalSupplyShares.String(),
		TotalBorrowAssets: pool.TotalBorrowAssets.String(),
		TotalBorrowShares: pool.TotalBorrowShares.String(),
		LastAccrued:       pool.LastAccrued,
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.Address, "address")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	user, position, err := engine.UserState(addr)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	balances := make(map[string]string, len(position.Balances))
	for token := range position.Balances {
		balances[token] = position.BalanceOf(token).String()
	}
	writeResult(w, req.ID, positionResult{
		Address:      params.Address,
		SupplyShares: user.SupplyShares.String(),
		BorrowShares: user.BorrowShares.String(),
		Balances:     balances,
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.From, "from")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	shares, err := engine.SupplyLiquidity(addr, amount)
	s.metrics.ObserveOperation("supply", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, supplyResult{Shares: shares.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.From, "from")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	shares, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amount, err := engine.WithdrawLiquidity(addr, shares)
	s.metrics.ObserveOperation("withdraw", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: amount.String()})
}

func (s *Server) handleSupplyCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.From, "from")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	err := engine.SupplyCollateral(addr, amount)
	s.metrics.ObserveOperation("supplyCollateral", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.From, "from")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	err := engine.WithdrawCollateral(addr, amount)
	s.metrics.ObserveOperation("withdrawCollateral", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params borrowParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.Borrower, "borrower")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	fee, messageID, err := engine.BorrowDebt(addr, amount, params.DestinationDomain, params.SenderIndex)
	s.metrics.ObserveOperation("borrow", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	if messageID != "" {
		s.metrics.ObserveBridgeDispatch(formatDomain(params.DestinationDomain))
	}
	writeResult(w, req.ID, borrowResult{Fee: fee.String(), MessageID: messageID})
}

func (s *Server) handleRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params repayParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.Borrower, "borrower")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	shares, rpcErr := parseAmount(params.Shares, "shares")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amount, err := engine.RepayWithSelectedToken(addr, shares, params.Token, params.FromPosition)
	s.metrics.ObserveOperation("repay", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, repayResult{Amount: amount.String()})
}

func (s *Server) handleSwapPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params swapPositionParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddress(params.Owner, "owner")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amountIn, rpcErr := parseAmount(params.AmountIn, "amountIn")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amountOut, err := engine.SwapTokenByPosition(addr, params.TokenFrom, params.TokenTo, amountIn)
	s.metrics.ObserveOperation("swapPosition", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, swapResult{AmountOut: amountOut.String()})
}

func (s *Server) handleAccrueInterest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr)
			return
		}
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	err := engine.AccrueInterest()
	s.metrics.ObserveOperation("accrueInterest", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, req.ID, authErr)
		return
	}
	var params withdrawFeesParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddress(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	recipient, rpcErr := parseAddress(params.Recipient, "recipient")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	engine, _, rpcErr := s.engineFor(params.PoolID)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	moved, err := engine.WithdrawProtocolFees(caller, recipient, amount)
	s.metrics.ObserveOperation("withdrawFees", err)
	if err != nil {
		writeRPCError(w, req.ID, engineError(err))
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: moved.String()})
}

func (s *Server) publishPoolMetrics(poolID string, pool *lending.Pool) {
	supply, _ := new(big.Float).SetInt(pool.TotalSupplyAssets).Float64()
	borrow, _ := new(big.Float).SetInt(pool.TotalBorrowAssets).Float64()
	s.metrics.SetPoolTotals(poolID, supply, borrow)
}

type convertParams struct {
	Value  string `json:"value"`
	PoolID string `json:"poolId,omitempty"`
}

type convertResult struct {
	Value string `json:"value"`
}

// handleConvert serves the four share/asset converter methods through one
// handler; convert selects the engine view to apply.
func (s *Server) handleConvert(convert func(*lending.Engine, *big.Int) (*big.Int, error)) handlerFunc {
	return func(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
		var params convertParams
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr)
			return
		}
		value, rpcErr := parseAmount(params.Value, "value")
		if rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr)
			return
		}
		engine, _, rpcErr := s.engineFor(params.PoolID)
		if rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr)
			return
		}
		converted, err := convert(engine, value)
		if err != nil {
			writeRPCError(w, req.ID, engineError(err))
			return
		}
		writeResult(w, req.ID, convertResult{Value: converted.String()})
	}
}

func formatDomain(domain uint32) string {
	return strings.TrimSpace(big.NewInt(int64(domain)).String())
}

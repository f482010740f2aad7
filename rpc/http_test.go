package rpc

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crosslend/crypto"
	"crosslend/native/lending"
	"crosslend/native/oracle"
	"crosslend/storage"
)

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(prefix, buf)
}

type testEnv struct {
	server *httptest.Server
	store  *storage.Store
	lender crypto.Address
	owner  crypto.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewStore(storage.NewMemDB())
	moduleAddr := makeAddress(crypto.ModulePrefix, 0x01)
	collateralAddr := makeAddress(crypto.ModulePrefix, 0x02)
	treasury := makeAddress(crypto.AccountPrefix, 0x03)
	owner := makeAddress(crypto.AccountPrefix, 0x04)

	registry := lending.NewRegistry(store)
	ltv, _ := new(big.Int).SetString("750000000000000000", 10)
	require.NoError(t, registry.CreatePool(lending.PoolSpec{
		PoolID:          "main",
		CollateralAsset: "CLT",
		BorrowAsset:     "CUSD",
		LTV:             ltv,
	}))

	feedOwner := makeAddress(crypto.AccountPrefix, 0x05)
	feed := oracle.NewManualFeed(feedOwner, 0)
	require.NoError(t, feed.SetPrice(feedOwner, "CLT", big.NewInt(1), time.Now()))
	require.NoError(t, feed.SetPrice(feedOwner, "CUSD", big.NewInt(1), time.Now()))
	feeds := oracle.NewRegistry()
	feeds.Register("CLT", feed)
	feeds.Register("CUSD", feed)

	engine := lending.NewEngine(moduleAddr, collateralAddr)
	engine.SetState(store)
	engine.SetLedger(store)
	engine.SetPoolID("main")
	engine.SetTreasury(treasury)
	engine.SetOwner(owner)
	engine.SetPriceSource(feeds)

	lender := makeAddress(crypto.AccountPrefix, 0x10)
	require.NoError(t, store.Mint("CUSD", lender, big.NewInt(10_000)))
	require.NoError(t, store.Mint("CLT", lender, big.NewInt(1_000)))

	server := NewServer(slog.Default(), map[string]*lending.Engine{"main": engine}, "main")
	server.SetPoolRegistry(registry)
	server.SetAuthToken("sekrit")
	server.SetManualFeed("CLT", feed)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store, lender: lender, owner: owner}
}

func (e *testEnv) call(t *testing.T, method string, params interface{}, headers map[string]string) RPCResponse {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.server.URL, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func resultInto(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestGetPoolDefaults(t *testing.T) {
	env := newTestEnv(t)
	resp := env.call(t, "lending_getPool", nil, nil)

	var result poolResult
	resultInto(t, resp, &result)
	require.Equal(t, "main", result.PoolID)
	require.Equal(t, "CUSD", result.BorrowAsset)
	require.Equal(t, "0", result.TotalSupplyAssets)
}

func TestSupplyBorrowRepayOverRPC(t *testing.T) {
	env := newTestEnv(t)
	lender := env.lender.String()

	var supplied supplyResult
	resultInto(t, env.call(t, "lending_supply", amountParams{From: lender, Amount: "1000"}, nil), &supplied)
	require.Equal(t, "1000", supplied.Shares)

	resp := env.call(t, "lending_supplyCollateral", amountParams{From: lender, Amount: "100"}, nil)
	require.Nil(t, resp.Error)

	var borrowed borrowResult
	resultInto(t, env.call(t, "lending_borrow", borrowParams{Borrower: lender, Amount: "75"}, nil), &borrowed)
	require.Equal(t, "0", borrowed.Fee)
	require.Empty(t, borrowed.MessageID)

	var position positionResult
	resultInto(t, env.call(t, "lending_getPosition", accountParams{Address: lender}, nil), &position)
	require.Equal(t, "75", position.BorrowShares)
	require.Equal(t, "100", position.Balances["CLT"])

	var repaid repayResult
	resultInto(t, env.call(t, "lending_repay", repayParams{Borrower: lender, Shares: "75", Token: "CUSD"}, nil), &repaid)
	require.Equal(t, "75", repaid.Amount)
}

func TestConvertMethodsMirrorPoolTotals(t *testing.T) {
	env := newTestEnv(t)
	lender := env.lender.String()
	env.call(t, "lending_supply", amountParams{From: lender, Amount: "1000"}, nil)
	env.call(t, "lending_supplyCollateral", amountParams{From: lender, Amount: "100"}, nil)
	env.call(t, "lending_borrow", borrowParams{Borrower: lender, Amount: "75"}, nil)

	var converted convertResult
	resultInto(t, env.call(t, "lending_convertToSupplyShares", convertParams{Value: "400"}, nil), &converted)
	require.Equal(t, "400", converted.Value)
	resultInto(t, env.call(t, "lending_convertToSupplyAssets", convertParams{Value: "400"}, nil), &converted)
	require.Equal(t, "400", converted.Value)
	resultInto(t, env.call(t, "lending_convertToBorrowShares", convertParams{Value: "75"}, nil), &converted)
	require.Equal(t, "75", converted.Value)
	resultInto(t, env.call(t, "lending_convertToBorrowAssets", convertParams{Value: "75"}, nil), &converted)
	require.Equal(t, "75", converted.Value)

	resp := env.call(t, "lending_convertToSupplyShares", convertParams{Value: "many"}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestBorrowOverLimitSurfacesError(t *testing.T) {
	env := newTestEnv(t)
	lender := env.lender.String()
	env.call(t, "lending_supply", amountParams{From: lender, Amount: "1000"}, nil)
	env.call(t, "lending_supplyCollateral", amountParams{From: lender, Amount: "100"}, nil)

	resp := env.call(t, "lending_borrow", borrowParams{Borrower: lender, Amount: "76"}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeServerError, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "collateral insufficient")
}

func TestUnknownMethodAndBadParams(t *testing.T) {
	env := newTestEnv(t)

	resp := env.call(t, "lending_noSuchMethod", nil, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	resp = env.call(t, "lending_supply", amountParams{From: "not-an-address", Amount: "10"}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = env.call(t, "lending_supply", amountParams{From: env.lender.String(), Amount: "ten"}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestWithdrawFeesRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	params := withdrawFeesParams{
		Caller:    env.owner.String(),
		Recipient: env.lender.String(),
		Amount:    "1",
	}

	resp := env.call(t, "lending_withdrawFees", params, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = env.call(t, "lending_withdrawFees", params, map[string]string{"Authorization": "Bearer wrong"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Correct token reaches the engine; the empty fee accrual is the
	// engine's complaint, not an auth failure.
	resp = env.call(t, "lending_withdrawFees", params, map[string]string{"Authorization": "Bearer sekrit"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeServerError, resp.Error.Code)
}

func TestSetPriceRequiresAuthAndOwner(t *testing.T) {
	env := newTestEnv(t)
	stranger := makeAddress(crypto.AccountPrefix, 0x66)
	params := setPriceParams{Caller: stranger.String(), Asset: "CLT", Price: "2"}

	resp := env.call(t, "oracle_setPrice", params, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Authenticated but not the feed owner.
	resp = env.call(t, "oracle_setPrice", params, map[string]string{"Authorization": "Bearer sekrit"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeServerError, resp.Error.Code)

	owner := makeAddress(crypto.AccountPrefix, 0x05)
	params.Caller = owner.String()
	resp = env.call(t, "oracle_setPrice", params, map[string]string{"Authorization": "Bearer sekrit"})
	require.Nil(t, resp.Error)
}

func TestClientSourceKeepsIPv6Hosts(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:5000":   "192.0.2.1",
		"[2001:db8::1]:80": "2001:db8::1",
		"2001:db8::1":      "2001:db8::1",
		"localhost":        "localhost",
	}
	for remote, want := range cases {
		req := &http.Request{RemoteAddr: remote}
		if got := clientSource(req); got != want {
			t.Fatalf("clientSource(%q) = %q, want %q", remote, got, want)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed is a read-through adapter over a third-party price endpoint. The
// upstream is expected to return a JSON body of the form
// {"price": "<decimal>", "timestamp": <unix seconds>} for the queried asset.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	decimals uint8
}

// NewHTTPFeed constructs an adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string, decimals uint8) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		decimals: decimals,
	}
}

func (f *HTTPFeed) Price(asset string) (PriceRecord, error) {
	if f == nil {
		return PriceRecord{}, fmt.Errorf("http feed not configured")
	}
	if f.endpoint == "" {
		return PriceRecord{}, fmt.Errorf("http feed: endpoint required")
	}
	sym := normaliseSymbol(asset)
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return PriceRecord{}, err
	}
	values := url.Values{}
	values.Set("asset", sym)
	req.URL.RawQuery = values.Encode()
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return PriceRecord{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceRecord{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceRecord{}, fmt.Errorf("http feed: decode: %w", err)
	}
	trimmed := strings.TrimSpace(payload.Price)
	if trimmed == "" {
		return PriceRecord{}, fmt.Errorf("http feed: empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return PriceRecord{}, fmt.Errorf("http feed: invalid price %q", payload.Price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(f.decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	price := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if price.Sign() <= 0 {
		return PriceRecord{}, ErrInvalidPrice
	}
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		ts = time.Now().UTC()
	}
	return PriceRecord{Price: price, Timestamp: ts}, nil
}

// Decimals reports the precision prices are scaled to after conversion.
func (f *HTTPFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	return f.decimals
}

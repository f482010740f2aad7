package oracle

import (
	"bytes"
	"io"
	"math/big"
	"net/http"
	"testing"
)

type stubDoer struct {
	status  int
	body    string
	lastReq *http.Request
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.lastReq = req
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(d.body))),
		Header:     make(http.Header),
	}, nil
}

func TestHTTPFeedScalesDecimalPrice(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{"price":"1.2345","timestamp":1700000000}`}
	feed := NewHTTPFeed(doer, "https://price.example/v1/quote", "secret", 6)

	record, err := feed.Price("clt")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if record.Price.Cmp(big.NewInt(1_234_500)) != 0 {
		t.Fatalf("expected 1234500 at six decimals, got %s", record.Price)
	}
	if record.Timestamp.Unix() != 1_700_000_000 {
		t.Fatalf("unexpected timestamp: %v", record.Timestamp)
	}

	if got := doer.lastReq.URL.Query().Get("asset"); got != "CLT" {
		t.Fatalf("expected normalised asset query, got %q", got)
	}
	if got := doer.lastReq.Header.Get("x-api-key"); got != "secret" {
		t.Fatalf("expected api key header, got %q", got)
	}
}

func TestHTTPFeedRejectsBadUpstream(t *testing.T) {
	feed := NewHTTPFeed(&stubDoer{status: http.StatusBadGateway, body: "upstream down"}, "https://price.example/v1/quote", "", 6)
	if _, err := feed.Price("CLT"); err == nil {
		t.Fatal("expected upstream status error")
	}

	feed = NewHTTPFeed(&stubDoer{status: http.StatusOK, body: `{"price":"-3","timestamp":0}`}, "https://price.example/v1/quote", "", 6)
	if _, err := feed.Price("CLT"); err == nil {
		t.Fatal("expected negative price rejection")
	}

	feed = NewHTTPFeed(&stubDoer{status: http.StatusOK, body: `{"price":"","timestamp":0}`}, "https://price.example/v1/quote", "", 6)
	if _, err := feed.Price("CLT"); err == nil {
		t.Fatal("expected empty price rejection")
	}
}

package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"crosslend/crypto"
)

var (
	ErrFeedNotFound  = errors.New("oracle: no feed registered for asset")
	ErrNotAuthorised = errors.New("oracle: caller is not the feed owner")
	ErrInvalidPrice  = errors.New("oracle: price must be positive")
)

// PriceRecord is the raw read result of a feed: a price in the feed's fixed
// decimal precision and the timestamp of the last update. The read contract
// itself enforces no staleness policy; callers apply their own.
type PriceRecord struct {
	Price     *big.Int
	Timestamp time.Time
}

// Clone returns a deep copy of the record.
func (r PriceRecord) Clone() PriceRecord {
	clone := PriceRecord{Timestamp: r.Timestamp}
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	}
	return clone
}

// PriceFeed supplies a price for an asset. Both feed variants expose the same
// read contract.
type PriceFeed interface {
	Price(asset string) (PriceRecord, error)
	Decimals() uint8
}

// ManualFeed is an owner-set feed used in tests and for manual overrides
// during incident response. Only the configured owner may set prices.
type ManualFeed struct {
	mu       sync.RWMutex
	owner    crypto.Address
	decimals uint8
	prices   map[string]PriceRecord
}

// NewManualFeed constructs an empty manual feed owned by the given address.
func NewManualFeed(owner crypto.Address, decimals uint8) *ManualFeed {
	return &ManualFeed{
		owner:    owner,
		decimals: decimals,
		prices:   make(map[string]PriceRecord),
	}
}

// SetPrice records the supplied price for the asset. The caller identity is
// checked against the feed owner; this is the feed's sole access control.
func (f *ManualFeed) SetPrice(caller crypto.Address, asset string, price *big.Int, ts time.Time) error {
	if f == nil {
		return fmt.Errorf("manual feed not configured")
	}
	if !caller.Equal(f.owner) {
		return ErrNotAuthorised
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	sym := normaliseSymbol(asset)
	if sym == "" {
		return fmt.Errorf("oracle: asset symbol required")
	}
	f.mu.Lock()
	f.prices[sym] = PriceRecord{Price: new(big.Int).Set(price), Timestamp: ts}
	f.mu.Unlock()
	return nil
}

// Price retrieves the stored record for the asset.
func (f *ManualFeed) Price(asset string) (PriceRecord, error) {
	if f == nil {
		return PriceRecord{}, fmt.Errorf("manual feed not configured")
	}
	sym := normaliseSymbol(asset)
	f.mu.RLock()
	stored, ok := f.prices[sym]
	f.mu.RUnlock()
	if !ok {
		return PriceRecord{}, fmt.Errorf("oracle: price for %s not found", sym)
	}
	return stored.Clone(), nil
}

// Decimals reports the fixed decimal precision of prices served by the feed.
func (f *ManualFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	return f.decimals
}

// Registry resolves the feed serving each asset. It is the single
// authoritative price lookup consulted by the solvency checker.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]PriceFeed
}

// NewRegistry constructs an empty feed registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]PriceFeed)}
}

// Register binds a feed to an asset symbol, replacing any previous binding.
func (r *Registry) Register(asset string, feed PriceFeed) {
	if r == nil || feed == nil {
		return
	}
	sym := normaliseSymbol(asset)
	if sym == "" {
		return
	}
	r.mu.Lock()
	r.feeds[sym] = feed
	r.mu.Unlock()
}

// Price resolves the registered feed and reads the current record.
func (r *Registry) Price(asset string) (PriceRecord, uint8, error) {
	if r == nil {
		return PriceRecord{}, 0, fmt.Errorf("oracle registry not configured")
	}
	sym := normaliseSymbol(asset)
	r.mu.RLock()
	feed := r.feeds[sym]
	r.mu.RUnlock()
	if feed == nil {
		return PriceRecord{}, 0, fmt.Errorf("%w: %s", ErrFeedNotFound, sym)
	}
	record, err := feed.Price(sym)
	if err != nil {
		return PriceRecord{}, 0, err
	}
	return record, feed.Decimals(), nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	errPoolExists      = errors.New("lending registry: pool already registered for pair")
	errPoolUnknown     = errors.New("lending registry: no pool registered for pair")
	errInvalidPoolSpec = errors.New("lending registry: invalid pool parameters")
	errSenderUnknown   = errors.New("lending registry: no bridge sender registered")
)

// PoolSpec describes the immutable parameters of a lending pool.
type PoolSpec struct {
	PoolID          string
	CollateralAsset string
	BorrowAsset     string
	// LTV is the maximum loan-to-value ratio on a 1e18 basis.
	LTV *big.Int
}

// Registry maps (collateral asset, borrow asset) pairs to pool identifiers.
// It is the single authoritative lookup used by the RPC layer; each pair maps
// to at most one pool.
type Registry struct {
	mu    sync.RWMutex
	state engineState
	pools map[string]string
}

// NewRegistry constructs a pool registry persisting through state.
func NewRegistry(state engineState) *Registry {
	return &Registry{state: state, pools: make(map[string]string)}
}

func pairKey(collateralAsset, borrowAsset string) string {
	return strings.ToUpper(strings.TrimSpace(collateralAsset)) + "/" + strings.ToUpper(strings.TrimSpace(borrowAsset))
}

// CreatePool initialises the pool record for spec and registers its pair.
// Registering a second pool for an already mapped pair fails.
func (r *Registry) CreatePool(spec PoolSpec) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	id := strings.TrimSpace(spec.PoolID)
	collateral := strings.ToUpper(strings.TrimSpace(spec.CollateralAsset))
	borrow := strings.ToUpper(strings.TrimSpace(spec.BorrowAsset))
	if id == "" || collateral == "" || borrow == "" || collateral == borrow {
		return errInvalidPoolSpec
	}
	if spec.LTV == nil || spec.LTV.Sign() <= 0 || spec.LTV.Cmp(ltvScale) > 0 {
		return fmt.Errorf("%w: ltv out of range", errInvalidPoolSpec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(collateral, borrow)
	if _, ok := r.pools[key]; ok {
		return errPoolExists
	}

	existing, err := r.state.GetPool(id)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &Pool{
			CollateralAsset:   collateral,
			BorrowAsset:       borrow,
			LTV:               new(big.Int).Set(spec.LTV),
			TotalSupplyAssets: big.NewInt(0),
			TotalSupplyShares: big.NewInt(0),
			TotalBorrowAssets: big.NewInt(0),
			TotalBorrowShares: big.NewInt(0),
			LastAccrued:       time.Now().Unix(),
		}
		if err := r.state.PutPool(id, existing); err != nil {
			return err
		}
	}
	r.pools[key] = id
	return nil
}

// PoolFor resolves the pool identifier registered for the asset pair.
func (r *Registry) PoolFor(collateralAsset, borrowAsset string) (string, error) {
	if r == nil {
		return "", errPoolUnknown
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pools[pairKey(collateralAsset, borrowAsset)]
	if !ok {
		return "", errPoolUnknown
	}
	return id, nil
}

// PoolIDs returns all registered pool identifiers in stable order.
func (r *Registry) PoolIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pools))
	seen := make(map[string]struct{}, len(r.pools))
	for _, id := range r.pools {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type senderKey struct {
	domain uint32
	index  int
}

// SenderRegistry maps (destination domain, sender index) pairs to bridge
// senders. Multiple senders may serve one domain under distinct indexes.
type SenderRegistry struct {
	mu      sync.RWMutex
	senders map[senderKey]BridgeSender
}

// NewSenderRegistry constructs an empty sender registry.
func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{senders: make(map[senderKey]BridgeSender)}
}

// Register binds sender to the (domain, index) slot, replacing any previous
// entry.
func (r *SenderRegistry) Register(domain uint32, index int, sender BridgeSender) {
	if r == nil || sender == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[senderKey{domain: domain, index: index}] = sender
}

// Sender resolves the bridge sender registered for the slot.
func (r *SenderRegistry) Sender(domain uint32, index int) (BridgeSender, error) {
	if r == nil {
		return nil, errSenderUnknown
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[senderKey{domain: domain, index: index}]
	if !ok {
		return nil, fmt.Errorf("%w: domain %d index %d", errSenderUnknown, domain, index)
	}
	return sender, nil
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"crosslend/core/types"
	"crosslend/crypto"
	"crosslend/native/lending"
)

var errInsufficientFunds = errors.New("storage: insufficient funds")

// Store is the persistence layer for ledger state. It serialises records as
// JSON under namespaced keys and hands out deep copies, so callers can stage
// mutations freely and persist only once every check has passed.
//
// Store is also the token ledger for committed transfers: Transfer, Burn and
// Mint apply immediately under an internal lock.
type Store struct {
	mu sync.Mutex
	db Database
}

// NewStore wraps db as ledger state.
func NewStore(db Database) *Store {
	return &Store{db: db}
}

func poolKey(poolID string) []byte {
	return []byte("lending/pool/" + poolID)
}

func userKey(poolID string, addr crypto.Address) []byte {
	return []byte("lending/user/" + poolID + "/" + addr.String())
}

func positionKey(poolID string, addr crypto.Address) []byte {
	return []byte("lending/position/" + poolID + "/" + addr.String())
}

func feesKey(poolID string) []byte {
	return []byte("lending/fees/" + poolID)
}

func accountKey(addr crypto.Address) []byte {
	return []byte("account/" + addr.String())
}

func burnedKey(token string) []byte {
	return []byte("supply/burned/" + token)
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(key []byte, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.db.Put(key, raw)
}

type poolRecord struct {
	CollateralAsset   string   `json:"collateralAsset"`
	BorrowAsset       string   `json:"borrowAsset"`
	LTV               *big.Int `json:"ltv"`
	TotalSupplyAssets *big.Int `json:"totalSupplyAssets"`
	TotalSupplyShares *big.Int `json:"totalSupplyShares"`
	TotalBorrowAssets *big.Int `json:"totalBorrowAssets"`
	TotalBorrowShares *big.Int `json:"totalBorrowShares"`
	LastAccrued       int64    `json:"lastAccrued"`
}

// GetPool loads the pool record, or nil when absent.
func (s *Store) GetPool(poolID string) (*lending.Pool, error) {
	var record poolRecord
	found, err := s.get(poolKey(poolID), &record)
	if err != nil || !found {
		return nil, err
	}
	return &lending.Pool{
		CollateralAsset:   record.CollateralAsset,
		BorrowAsset:       record.BorrowAsset,
		LTV:               record.LTV,
		TotalSupplyAssets: record.TotalSupplyAssets,
		TotalSupplyShares: record.TotalSupplyShares,
		TotalBorrowAssets: record.TotalBorrowAssets,
		TotalBorrowShares: record.TotalBorrowShares,
		LastAccrued:       record.LastAccrued,
	}, nil
}

// PutPool persists the pool record.
func (s *Store) PutPool(poolID string, pool *lending.Pool) error {
	return s.put(poolKey(poolID), poolRecord{
		CollateralAsset:   pool.CollateralAsset,
		BorrowAsset:       pool.BorrowAsset,
		LTV:               pool.LTV,
		TotalSupplyAssets: pool.TotalSupplyAssets,
		TotalSupplyShares: pool.TotalSupplyShares,
		TotalBorrowAssets: pool.TotalBorrowAssets,
		TotalBorrowShares: pool.TotalBorrowShares,
		LastAccrued:       pool.LastAccrued,
	})
}

type userRecord struct {
	Address      string   `json:"address"`
	SupplyShares *big.Int `json:"supplyShares"`
	BorrowShares *big.Int `json:"borrowShares"`
}

// GetUser loads the share balances for addr in the pool, or nil when absent.
func (s *Store) GetUser(poolID string, addr crypto.Address) (*lending.UserAccount, error) {
	var record userRecord
	found, err := s.get(userKey(poolID, addr), &record)
	if err != nil || !found {
		return nil, err
	}
	decoded, err := crypto.DecodeAddress(record.Address)
	if err != nil {
		return nil, fmt.Errorf("storage: user record address: %w", err)
	}
	return &lending.UserAccount{Address: decoded, SupplyShares: record.SupplyShares, BorrowShares: record.BorrowShares}, nil
}

// PutUser persists the share balances keyed by the account's address.
func (s *Store) PutUser(poolID string, account *lending.UserAccount) error {
	return s.put(userKey(poolID, account.Address), userRecord{
		Address:      account.Address.String(),
		SupplyShares: account.SupplyShares,
		BorrowShares: account.BorrowShares,
	})
}

type positionRecord struct {
	Owner    string              `json:"owner"`
	Pool     string              `json:"pool"`
	Balances map[string]*big.Int `json:"balances"`
}

// GetPosition loads the custody vault for addr in the pool, or nil when
// absent.
func (s *Store) GetPosition(poolID string, addr crypto.Address) (*lending.Position, error) {
	var record positionRecord
	found, err := s.get(positionKey(poolID, addr), &record)
	if err != nil || !found {
		return nil, err
	}
	owner, err := crypto.DecodeAddress(record.Owner)
	if err != nil {
		return nil, fmt.Errorf("storage: position owner: %w", err)
	}
	pool, err := crypto.DecodeAddress(record.Pool)
	if err != nil {
		return nil, fmt.Errorf("storage: position pool: %w", err)
	}
	return &lending.Position{Owner: owner, Pool: pool, Balances: record.Balances}, nil
}

// PutPosition persists the custody vault keyed by its owner.
func (s *Store) PutPosition(poolID string, position *lending.Position) error {
	return s.put(positionKey(poolID, position.Owner), positionRecord{
		Owner:    position.Owner.String(),
		Pool:     position.Pool.String(),
		Balances: position.Balances,
	})
}

// GetAccount loads the external balance record for addr, or nil when absent.
func (s *Store) GetAccount(addr crypto.Address) (*types.Account, error) {
	var account types.Account
	found, err := s.get(accountKey(addr), &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

// PutAccount persists an external balance record.
func (s *Store) PutAccount(addr crypto.Address, account *types.Account) error {
	return s.put(accountKey(addr), account)
}

type feesRecord struct {
	ProtocolFees *big.Int `json:"protocolFees"`
}

// GetFees loads the accrued protocol fee record, or nil when absent.
func (s *Store) GetFees(poolID string) (*lending.FeeAccrual, error) {
	var record feesRecord
	found, err := s.get(feesKey(poolID), &record)
	if err != nil || !found {
		return nil, err
	}
	return &lending.FeeAccrual{ProtocolFees: record.ProtocolFees}, nil
}

// PutFees persists the protocol fee record.
func (s *Store) PutFees(poolID string, fees *lending.FeeAccrual) error {
	return s.put(feesKey(poolID), feesRecord{ProtocolFees: fees.ProtocolFees})
}

// Balance returns the token balance held by addr.
func (s *Store) Balance(token string, addr crypto.Address) (*big.Int, error) {
	account, err := s.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(account.BalanceOf(token)), nil
}

// Transfer moves amount of token between accounts. The write is applied
// immediately.
func (s *Store) Transfer(token string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errInsufficientFunds
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fromAcc, err := s.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceOf(token).Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	toAcc, err := s.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Debit(token, amount)
	toAcc.Credit(token, amount)
	if err := s.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return s.PutAccount(to, toAcc)
}

// Burn retires amount of token held by from and bumps the per-token burned
// counter.
func (s *Store) Burn(token string, from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInsufficientFunds
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.loadAccount(from)
	if err != nil {
		return err
	}
	if account.BalanceOf(token).Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	account.Debit(token, amount)
	if err := s.PutAccount(from, account); err != nil {
		return err
	}

	burned, err := s.BurnedSupply(token)
	if err != nil {
		return err
	}
	return s.put(burnedKey(token), burned.Add(burned, amount))
}

// Mint issues amount of token to the account.
func (s *Store) Mint(token string, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInsufficientFunds
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.loadAccount(to)
	if err != nil {
		return err
	}
	account.Credit(token, amount)
	return s.PutAccount(to, account)
}

// BurnedSupply reports the cumulative amount of token retired by the bridge.
func (s *Store) BurnedSupply(token string) (*big.Int, error) {
	var burned big.Int
	found, err := s.get(burnedKey(token), &burned)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return &burned, nil
}

func (s *Store) loadAccount(addr crypto.Address) (*types.Account, error) {
	account, err := s.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = types.NewAccount()
	}
	return account, nil
}

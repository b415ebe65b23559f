// Package state implements the Mirrored State Store (C1): the backing
// database for the in-process EVM simulator, and a typed view over pool
// storage slots, lazily populated from a live node with a mutable overlay.
//
// Grounded on the teacher's differ/patcher structural-sharing approach for
// the *idiom* of "apply a batch of changes under a config-validated
// constructor", adapted to mutate-in-place because the simulator needs a
// single canonical view it can replay blocks into, not a versioned tree of
// immutable snapshots.
package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defistate/flasharb/engine"
)

// Provenance distinguishes slots fetched from the live chain (replay-safe,
// may be refreshed) from values injected by warm-up (must never be
// overwritten by a remote fetch).
type Provenance uint8

const (
	OnChain Provenance = iota
	Custom
)

// AccountSlot is one storage word with its provenance.
type AccountSlot struct {
	Value      common.Hash
	Provenance Provenance
}

// AccountState is the lifecycle state of a mirrored account.
type AccountState uint8

const (
	Touched AccountState = iota
	NotExisting
	StorageCleared
)

// AccountInfo mirrors the EVM-visible fields of an account outside of its
// storage trie.
type AccountInfo struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash common.Hash
	Code     []byte
}

// Account is one mirrored account: its info, lifecycle state, and storage
// overlay.
type Account struct {
	Info       AccountInfo
	State      AccountState
	Storage    map[common.Hash]AccountSlot
	Provenance Provenance
}

// ErrFetch wraps an upstream RPC failure during lazy population.
var ErrFetch = errors.New("state: fetch from upstream failed")

// ChainReader is the subset of ethclient.Client the store needs for lazy
// population. go-ethereum's *ethclient.Client satisfies it directly.
type ChainReader interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Store is the Mirrored State Store. A single sync.RWMutex guards the
// entire map set (spec.md §9's baseline concurrency model; the lock-free
// snapshot-per-block alternative was considered and rejected, see
// DESIGN.md).
type Store struct {
	mu sync.RWMutex

	chain ChainReader

	accounts    map[common.Address]*Account
	contracts   map[common.Hash][]byte
	blockHashes map[uint64]common.Hash

	trackedPools  mapset.Set[common.Address]
	poolByAddress map[common.Address]*engine.Pool
}

// New builds an empty store backed by chain for lazy population.
func New(chain ChainReader) *Store {
	return &Store{
		chain:         chain,
		accounts:      make(map[common.Address]*Account),
		contracts:     make(map[common.Hash][]byte),
		blockHashes:   make(map[uint64]common.Hash),
		trackedPools:  mapset.NewSet[common.Address](),
		poolByAddress: make(map[common.Address]*engine.Pool),
	}
}

// Basic returns an account's info, lazily fetching it from the chain at
// latest on a first miss.
func (s *Store) Basic(ctx context.Context, addr common.Address) (AccountInfo, error) {
	s.mu.RLock()
	if acc, ok := s.accounts[addr]; ok {
		info := acc.Info
		s.mu.RUnlock()
		return info, nil
	}
	s.mu.RUnlock()

	nonce, err := s.chain.NonceAt(ctx, addr, nil)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("%w: NonceAt(%s): %v", ErrFetch, addr, err)
	}
	balance, err := s.chain.BalanceAt(ctx, addr, nil)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("%w: BalanceAt(%s): %v", ErrFetch, addr, err)
	}
	code, err := s.chain.CodeAt(ctx, addr, nil)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("%w: CodeAt(%s): %v", ErrFetch, addr, err)
	}
	codeHash := crypto.Keccak256Hash(code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[addr]; ok {
		// Lost the race to another goroutine's fetch; trust what's there.
		return acc.Info, nil
	}
	info := AccountInfo{Nonce: nonce, Balance: balance, CodeHash: codeHash, Code: code}
	s.accounts[addr] = &Account{
		Info:       info,
		State:      Touched,
		Storage:    make(map[common.Hash]AccountSlot),
		Provenance: OnChain,
	}
	if len(code) > 0 {
		s.contracts[codeHash] = code
	}
	return info, nil
}

// CodeByHash returns previously materialized bytecode. A miss is a
// programming error (spec.md §4.1): by the time this is queried, Basic
// must already have fetched the code for the owning account.
func (s *Store) CodeByHash(hash common.Hash) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.contracts[hash]
	if !ok {
		panic(fmt.Sprintf("state: CodeByHash(%s) miss: code must be materialized via Basic before being queried", hash))
	}
	return code
}

// Storage returns a single slot, lazily fetching it on a first miss.
func (s *Store) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	s.mu.RLock()
	if acc, ok := s.accounts[addr]; ok {
		if val, ok := acc.Storage[slot]; ok {
			s.mu.RUnlock()
			return val.Value, nil
		}
	}
	s.mu.RUnlock()

	raw, err := s.chain.StorageAt(ctx, addr, slot, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: StorageAt(%s,%s): %v", ErrFetch, addr, slot, err)
	}
	val := common.BytesToHash(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.ensureAccountLocked(addr)
	if existing, ok := acc.Storage[slot]; ok && existing.Provenance == Custom {
		// A Custom override must never be demoted by a remote fetch.
		return existing.Value, nil
	}
	acc.Storage[slot] = AccountSlot{Value: val, Provenance: OnChain}
	return val, nil
}

// BlockHash returns the hash for height, lazily fetching the header if the
// store hasn't observed it yet (e.g. ancestor blocks needed by BLOCKHASH).
func (s *Store) BlockHash(ctx context.Context, height uint64) (common.Hash, error) {
	s.mu.RLock()
	if h, ok := s.blockHashes[height]; ok {
		s.mu.RUnlock()
		return h, nil
	}
	s.mu.RUnlock()

	header, err := s.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: HeaderByNumber(%d): %v", ErrFetch, height, err)
	}
	s.mu.Lock()
	s.blockHashes[height] = header.Hash()
	s.mu.Unlock()
	return header.Hash(), nil
}

// SetBlockHash records a known block hash, e.g. as the tracker observes new
// headers, avoiding a redundant fetch.
func (s *Store) SetBlockHash(height uint64, hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockHashes[height] = hash
}

// ensureAccountLocked returns the account for addr, creating an empty one
// if absent. Caller must hold s.mu for writing.
func (s *Store) ensureAccountLocked(addr common.Address) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &Account{Storage: make(map[common.Hash]AccountSlot), State: Touched}
		s.accounts[addr] = acc
	}
	return acc
}

// SetStorage writes slot with Custom provenance, used by warm-up and by the
// V2/V3 pool packing helpers.
func (s *Store) SetStorage(addr common.Address, slot common.Hash, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.ensureAccountLocked(addr)
	acc.Storage[slot] = AccountSlot{Value: value, Provenance: Custom}
}

// SetCode materializes bytecode for addr with Custom provenance, used by
// warm-up to seed the quoter/swap contract bytecode before any basic fetch
// would otherwise reach it.
func (s *Store) SetCode(addr common.Address, code []byte) {
	codeHash := crypto.Keccak256Hash(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.ensureAccountLocked(addr)
	acc.Info.Code = code
	acc.Info.CodeHash = codeHash
	acc.Provenance = Custom
	s.contracts[codeHash] = code
}

// SetBalance sets addr's balance with Custom provenance.
func (s *Store) SetBalance(addr common.Address, balance *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.ensureAccountLocked(addr)
	acc.Info.Balance = new(big.Int).Set(balance)
	acc.Provenance = Custom
}

// TouchedAccount is the post-execution view the EVM reports for Commit.
type TouchedAccount struct {
	Address        common.Address
	SelfDestructed bool
	Created        bool
	Info           AccountInfo
	Storage        map[common.Hash]common.Hash
}

// Commit applies touched accounts from a completed EVM execution (spec.md
// §4.1's writeback rule): selfdestructed accounts are cleared and marked
// NotExisting; newly created accounts are marked StorageCleared; otherwise
// info is merged and storage is overlaid as Custom.
func (s *Store) Commit(touched []TouchedAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range touched {
		switch {
		case t.SelfDestructed:
			s.accounts[t.Address] = &Account{
				State:   NotExisting,
				Storage: make(map[common.Hash]AccountSlot),
			}
		case t.Created:
			acc := &Account{
				Info:    t.Info,
				State:   StorageCleared,
				Storage: make(map[common.Hash]AccountSlot),
			}
			for k, v := range t.Storage {
				acc.Storage[k] = AccountSlot{Value: v, Provenance: Custom}
			}
			if len(t.Info.Code) > 0 {
				s.contracts[t.Info.CodeHash] = t.Info.Code
			}
			s.accounts[t.Address] = acc
		default:
			acc := s.ensureAccountLocked(t.Address)
			acc.Info = t.Info
			if len(t.Info.Code) > 0 {
				s.contracts[t.Info.CodeHash] = t.Info.Code
			}
			for k, v := range t.Storage {
				acc.Storage[k] = AccountSlot{Value: v, Provenance: Custom}
			}
		}
	}
}

// TrackPool registers addr as a tracked pool with its decoded Pool value.
// Invariant (spec.md §4.1): every tracked pool has both an account entry
// and a Pool entry; RemovePool removes the tracked-set and Pool entries
// together under one lock.
func (s *Store) TrackPool(addr common.Address, pool *engine.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureAccountLocked(addr)
	s.trackedPools.Add(addr)
	s.poolByAddress[addr] = pool
}

// RemovePool drops addr from tracked_pools and pool_by_address. The account
// entry itself is left alone — removing a pool from tracking does not mean
// the EVM should forget the address exists.
func (s *Store) RemovePool(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackedPools.Remove(addr)
	delete(s.poolByAddress, addr)
}

// Pool returns the decoded pool view for addr, satisfying quoter.PoolLookup.
func (s *Store) Pool(addr common.Address) (*engine.Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.poolByAddress[addr]
	return p, ok
}

// TrackedPools returns a copy of the tracked-pool set.
func (s *Store) TrackedPools() mapset.Set[common.Address] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackedPools.Clone()
}

// UpdatePool replaces the decoded view for an already-tracked pool, used
// after a block's storage diff is applied.
func (s *Store) UpdatePool(addr common.Address, pool *engine.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.trackedPools.Contains(addr) {
		return fmt.Errorf("state: UpdatePool: %s is not a tracked pool", addr)
	}
	s.poolByAddress[addr] = pool
	return nil
}

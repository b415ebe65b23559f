package state

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/defistate/flasharb/engine"
)

// fakeChain is a scripted ChainReader test double; no network calls.
type fakeChain struct {
	nonce   uint64
	balance *big.Int
	code    []byte
	storage map[common.Hash][]byte
	header  *types.Header
	calls   int
}

func newFakeChain() *fakeChain {
	return &fakeChain{balance: big.NewInt(0), storage: make(map[common.Hash][]byte)}
}

func (f *fakeChain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code, nil
}
func (f *fakeChain) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	return f.storage[key], nil
}
func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return f.header, nil
}

func TestBasicLazyFetchesOnce(t *testing.T) {
	chain := newFakeChain()
	chain.nonce = 7
	s := New(chain)
	addr := common.HexToAddress("0x1")

	info, err := s.Basic(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), info.Nonce)

	// Second call must not refetch; mutate the backing chain to prove it.
	chain.nonce = 99
	info2, err := s.Basic(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), info2.Nonce)
}

func TestStorageCustomNeverDemotedByFetch(t *testing.T) {
	chain := newFakeChain()
	s := New(chain)
	addr := common.HexToAddress("0x1")
	slot := common.BigToHash(big.NewInt(8))

	s.SetStorage(addr, slot, common.BigToHash(big.NewInt(42)))
	chain.storage[slot] = common.BigToHash(big.NewInt(1)).Bytes()

	val, err := s.Storage(context.Background(), addr, slot)
	require.NoError(t, err)
	require.Equal(t, common.BigToHash(big.NewInt(42)), val)
}

func TestStorageLazyFetchOnChainProvenance(t *testing.T) {
	chain := newFakeChain()
	addr := common.HexToAddress("0x2")
	slot := common.BigToHash(big.NewInt(8))
	chain.storage[slot] = common.BigToHash(big.NewInt(123)).Bytes()
	s := New(chain)

	val, err := s.Storage(context.Background(), addr, slot)
	require.NoError(t, err)
	require.Equal(t, common.BigToHash(big.NewInt(123)), val)
	require.Equal(t, 1, chain.calls)

	// Repeated read hits the cache, not the chain.
	_, err = s.Storage(context.Background(), addr, slot)
	require.NoError(t, err)
	require.Equal(t, 1, chain.calls)
}

func TestCodeByHashMissPanics(t *testing.T) {
	s := New(newFakeChain())
	require.Panics(t, func() { s.CodeByHash(common.Hash{0x1}) })
}

func TestCommitSelfDestructClearsAccount(t *testing.T) {
	s := New(newFakeChain())
	addr := common.HexToAddress("0x3")
	s.SetStorage(addr, common.Hash{0x1}, common.Hash{0x2})

	s.Commit([]TouchedAccount{{Address: addr, SelfDestructed: true}})

	s.mu.RLock()
	acc := s.accounts[addr]
	s.mu.RUnlock()
	require.Equal(t, NotExisting, acc.State)
	require.Empty(t, acc.Storage)
}

func TestCommitCreatedMarksStorageCleared(t *testing.T) {
	s := New(newFakeChain())
	addr := common.HexToAddress("0x4")
	slot := common.Hash{0x1}
	val := common.Hash{0x2}

	s.Commit([]TouchedAccount{{
		Address: addr,
		Created: true,
		Info:    AccountInfo{Nonce: 1, Balance: big.NewInt(0)},
		Storage: map[common.Hash]common.Hash{slot: val},
	}})

	s.mu.RLock()
	acc := s.accounts[addr]
	s.mu.RUnlock()
	require.Equal(t, StorageCleared, acc.State)
	require.Equal(t, val, acc.Storage[slot].Value)
	require.Equal(t, Custom, acc.Storage[slot].Provenance)
}

func TestPoolTrackingRoundTrip(t *testing.T) {
	s := New(newFakeChain())
	addr := common.HexToAddress("0x5")
	pool := &engine.Pool{Address: addr, Type: engine.PoolTypeUniswapV2}

	s.TrackPool(addr, pool)
	got, ok := s.Pool(addr)
	require.True(t, ok)
	require.Same(t, pool, got)
	require.True(t, s.TrackedPools().Contains(addr))

	s.RemovePool(addr)
	_, ok = s.Pool(addr)
	require.False(t, ok)
}

func TestUpdatePoolRejectsUntrackedAddress(t *testing.T) {
	s := New(newFakeChain())
	err := s.UpdatePool(common.HexToAddress("0x6"), &engine.Pool{})
	require.Error(t, err)
}

// TestInsertAndReadV2Reserves mirrors spec.md scenario 2: reserve0=10,
// reserve1=20 packs into slot8 = (20<<112)|10.
func TestInsertAndReadV2Reserves(t *testing.T) {
	s := New(newFakeChain())
	pool := &engine.Pool{
		Address:    common.HexToAddress("0x10"),
		Token0:     common.HexToAddress("0x11"),
		Token1:     common.HexToAddress("0x12"),
		Type:       engine.PoolTypeUniswapV2,
		V2Reserve0: big.NewInt(10),
		V2Reserve1: big.NewInt(20),
	}
	require.NoError(t, InsertV2Pool(context.Background(), s, pool))

	r0, r1, err := ReadV2Reserves(context.Background(), s, pool.Address)
	require.NoError(t, err)
	require.Equal(t, 0, r0.Cmp(big.NewInt(10)))
	require.Equal(t, 0, r1.Cmp(big.NewInt(20)))

	expected := new(big.Int).Lsh(big.NewInt(20), 112)
	expected.Or(expected, big.NewInt(10))
	require.Equal(t, common.BigToHash(expected), EncodeV2Reserves(big.NewInt(10), big.NewInt(20)))
}

// TestApplyV2ReserveDiffUpdatesTrackedPool mirrors spec.md scenario 6: a
// block's storage diff updates the tracked pool's decoded reserves.
func TestApplyV2ReserveDiffUpdatesTrackedPool(t *testing.T) {
	s := New(newFakeChain())
	pool := &engine.Pool{
		Address:    common.HexToAddress("0x20"),
		Type:       engine.PoolTypeUniswapV2,
		V2Reserve0: big.NewInt(10),
		V2Reserve1: big.NewInt(20),
	}
	s.TrackPool(pool.Address, pool)

	newSlot8 := EncodeV2Reserves(big.NewInt(15), big.NewInt(30))
	require.NoError(t, ApplyV2ReserveDiff(s, pool.Address, newSlot8))

	got, ok := s.Pool(pool.Address)
	require.True(t, ok)
	require.Equal(t, 0, got.V2Reserve0.Cmp(big.NewInt(15)))
	require.Equal(t, 0, got.V2Reserve1.Cmp(big.NewInt(30)))
	// Original pool value passed to TrackPool must be untouched (Clone semantics).
	require.Equal(t, 0, pool.V2Reserve0.Cmp(big.NewInt(10)))
}

func TestApplyV2ReserveDiffIgnoresUntrackedPool(t *testing.T) {
	s := New(newFakeChain())
	err := ApplyV2ReserveDiff(s, common.HexToAddress("0x30"), common.Hash{})
	require.NoError(t, err)
}

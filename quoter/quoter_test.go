package quoter

import (
	"math/big"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/flasharb/engine"
	"github.com/stretchr/testify/require"
)

type fakePools struct {
	byAddr map[engine.Address]*engine.Pool
}

func (f *fakePools) Pool(addr engine.Address) (*engine.Pool, bool) {
	p, ok := f.byAddr[addr]
	return p, ok
}

func wethUSDCPool() *engine.Pool {
	r0, _ := new(big.Int).SetString("325032740126871996707", 10)
	r1, _ := new(big.Int).SetString("1014189875851", 10)
	return &engine.Pool{
		Address:    engine.Address{0xAA},
		Token0:     engine.Address{0x01},
		Token1:     engine.Address{0x02},
		Type:       engine.PoolTypeUniswapV2,
		V2Reserve0: r0,
		V2Reserve1: r1,
	}
}

func TestComputeAmountOutDispatchesV2(t *testing.T) {
	pool := wethUSDCPool()
	out, err := ComputeAmountOut(big.NewInt(1_000_000), pool.Token0, pool)
	require.NoError(t, err)
	require.True(t, out.Sign() > 0)
}

func TestComputeAmountOutRejectsUnsupportedType(t *testing.T) {
	pool := &engine.Pool{Type: engine.PoolType(200)}
	_, err := ComputeAmountOut(big.NewInt(1), engine.Address{}, pool)
	require.ErrorIs(t, err, ErrUnsupportedPoolType)
}

func TestCacheCalculateOutputSingleHop(t *testing.T) {
	pool := wethUSDCPool()
	lookup := &fakePools{byAddr: map[engine.Address]*engine.Pool{pool.Address: pool}}
	cache := NewCache()

	cycle := engine.Cycle{Steps: []engine.SwapStep{
		{Pool: pool.Address, TokenIn: pool.Token0, TokenOut: pool.Token1, Protocol: pool.Type},
	}}

	out, err := cache.CalculateOutput(big.NewInt(1_000_000), cycle, lookup)
	require.NoError(t, err)
	require.True(t, out.Sign() > 0)
}

func TestCacheHitsOnRepeatedQuote(t *testing.T) {
	pool := wethUSDCPool()
	lookup := &fakePools{byAddr: map[engine.Address]*engine.Pool{pool.Address: pool}}
	cache := NewCache()
	step := engine.SwapStep{Pool: pool.Address, TokenIn: pool.Token0, TokenOut: pool.Token1, Protocol: pool.Type}

	first, err := cache.quoteStep(big.NewInt(5_000_000), step, pool)
	require.NoError(t, err)
	second, err := cache.quoteStep(big.NewInt(5_000_000), step, pool)
	require.NoError(t, err)
	require.Equal(t, 0, first.Cmp(second))
	require.Len(t, cache.entries, 1)
}

func TestInvalidatePoolsDropsOnlyAffectedEntries(t *testing.T) {
	poolA := wethUSDCPool()
	poolB := wethUSDCPool()
	poolB.Address = engine.Address{0xCC}

	cache := NewCache()
	stepA := engine.SwapStep{Pool: poolA.Address, TokenIn: poolA.Token0, TokenOut: poolA.Token1, Protocol: poolA.Type}
	stepB := engine.SwapStep{Pool: poolB.Address, TokenIn: poolB.Token0, TokenOut: poolB.Token1, Protocol: poolB.Type}

	_, err := cache.quoteStep(big.NewInt(1_000_000), stepA, poolA)
	require.NoError(t, err)
	_, err = cache.quoteStep(big.NewInt(1_000_000), stepB, poolB)
	require.NoError(t, err)
	require.Len(t, cache.entries, 2)

	cache.InvalidatePools(mapset.NewSet(poolA.Address))
	require.Len(t, cache.entries, 1)
}

func TestCalculateOutputShortCircuitsOnZero(t *testing.T) {
	pool := wethUSDCPool()
	pool.V2Reserve0 = big.NewInt(0)
	pool.V2Reserve1 = big.NewInt(0)
	lookup := &fakePools{byAddr: map[engine.Address]*engine.Pool{pool.Address: pool}}
	cache := NewCache()

	cycle := engine.Cycle{Steps: []engine.SwapStep{
		{Pool: pool.Address, TokenIn: pool.Token0, TokenOut: pool.Token1, Protocol: pool.Type},
		{Pool: pool.Address, TokenIn: pool.Token1, TokenOut: pool.Token0, Protocol: pool.Type},
	}}

	out, err := cache.CalculateOutput(big.NewInt(1_000_000), cycle, lookup)
	require.NoError(t, err)
	require.Equal(t, 0, out.Sign())
}

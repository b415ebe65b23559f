package searcher

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/quoter"
	"github.com/defistate/flasharb/rates"
)

type fakePools struct {
	byAddress map[engine.Address]*engine.Pool
}

func (f *fakePools) Pool(addr engine.Address) (*engine.Pool, bool) {
	p, ok := f.byAddress[addr]
	return p, ok
}

var (
	weth  = common.HexToAddress("0x1111")
	tokA  = common.HexToAddress("0x2222")
	poolX = common.HexToAddress("0xAAA1") // WETH -> A
	poolY = common.HexToAddress("0xAAA2") // A -> WETH
)

func twoHopCycle() engine.Cycle {
	return engine.Cycle{
		Steps: []engine.SwapStep{
			{Pool: poolX, TokenIn: weth, TokenOut: tokA, Protocol: engine.PoolTypeUniswapV2},
			{Pool: poolY, TokenIn: tokA, TokenOut: weth, Protocol: engine.PoolTypeSushiSwapV2},
		},
		Hash: 1,
	}
}

func buildFixture(r0x, r1x, r0y, r1y int64) *fakePools {
	return &fakePools{byAddress: map[engine.Address]*engine.Pool{
		poolX: {
			Address: poolX, Token0: weth, Token1: tokA,
			Token0Decimals: 18, Token1Decimals: 18, Type: engine.PoolTypeUniswapV2,
			V2Reserve0: big.NewInt(r0x), V2Reserve1: big.NewInt(r1x),
		},
		poolY: {
			Address: poolY, Token0: tokA, Token1: weth,
			Token0Decimals: 18, Token1Decimals: 18, Type: engine.PoolTypeSushiSwapV2,
			V2Reserve0: big.NewInt(r0y), V2Reserve1: big.NewInt(r1y),
		},
	}}
}

func engCtx() engine.Context {
	return engine.Context{Amount: big.NewInt(1_000_000), Weth: weth, ChainID: 8453}
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

func TestMinProfitThreshold(t *testing.T) {
	amount := big.NewInt(1_000_000)
	got := minProfitThreshold(amount)
	// fee = 1_000_000*9/10_000 = 900, floor = 1_000_000/100 = 10_000
	want := new(big.Int).Add(amount, big.NewInt(900))
	want.Add(want, big.NewInt(10_000))
	require.Equal(t, 0, got.Cmp(want))
}

func TestBuildIndexDeduplicatesPerCycle(t *testing.T) {
	cycles := []engine.Cycle{twoHopCycle()}
	idx := buildIndex(cycles)
	require.Equal(t, []int{0}, idx[poolX])
	require.Equal(t, []int{0}, idx[poolY])
}

func TestHandleEmitsArbPathForProfitableCycle(t *testing.T) {
	pools := buildFixture(1_000_000_000, 1_000_000_000, 900_000_000, 1_200_000_000)
	cycles := []engine.Cycle{twoHopCycle()}

	rt := rates.New()
	rt.ProcessPools([]*engine.Pool{pools.byAddress[poolX], pools.byAddress[poolY]}, weth, engCtx().Amount)

	s := New(cycles, pools, rt, quoter.NewCache(), engCtx(), testLogger{})

	require.NoError(t, s.handle(engine.PoolsTouchedEvent{Pools: []engine.Address{poolX}, BlockNumber: 1}))

	select {
	case ev := <-s.ArbPaths():
		require.Equal(t, uint64(1), ev.BlockNumber)
		require.Equal(t, cycles[0].Hash, ev.Path.Hash)
		require.True(t, ev.ExpectedOut.Cmp(engCtx().Amount) > 0)
	case <-time.After(time.Second):
		t.Fatal("expected an ArbPathEvent")
	}
}

func TestHandleEmitsNothingForUnaffectedPool(t *testing.T) {
	pools := buildFixture(1_000_000_000, 1_000_000_000, 1_000_000_000, 1_000_000_000)
	cycles := []engine.Cycle{twoHopCycle()}
	rt := rates.New()
	rt.ProcessPools([]*engine.Pool{pools.byAddress[poolX], pools.byAddress[poolY]}, weth, engCtx().Amount)

	s := New(cycles, pools, rt, quoter.NewCache(), engCtx(), testLogger{})
	require.NoError(t, s.handle(engine.PoolsTouchedEvent{
		Pools:       []engine.Address{common.HexToAddress("0xDEAD")},
		BlockNumber: 2,
	}))

	select {
	case ev := <-s.ArbPaths():
		t.Fatalf("expected no ArbPathEvent, got %+v", ev)
	default:
	}
}

func TestRunProcessesEventsInArrivalOrder(t *testing.T) {
	pools := buildFixture(1_000_000_000, 1_000_000_000, 900_000_000, 1_200_000_000)
	cycles := []engine.Cycle{twoHopCycle()}
	rt := rates.New()
	rt.ProcessPools([]*engine.Pool{pools.byAddress[poolX], pools.byAddress[poolY]}, weth, engCtx().Amount)

	s := New(cycles, pools, rt, quoter.NewCache(), engCtx(), testLogger{})

	touched := make(chan engine.PoolsTouchedEvent, 2)
	touched <- engine.PoolsTouchedEvent{Pools: []engine.Address{poolX}, BlockNumber: 1}
	touched <- engine.PoolsTouchedEvent{Pools: []engine.Address{poolY}, BlockNumber: 2}
	close(touched)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx, touched)

	first := <-s.ArbPaths()
	second := <-s.ArbPaths()
	require.Equal(t, uint64(1), first.BlockNumber)
	require.Equal(t, uint64(2), second.BlockNumber)
}

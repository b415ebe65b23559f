package rates

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/defistate/flasharb/engine"
)

func TestScaleToRate(t *testing.T) {
	got := ScaleToRate(big.NewInt(1_000_000), 6)
	require.Equal(t, 0, got.Cmp(scaleValue))

	amount, _ := new(big.Int).SetString("1000000000000000000000000", 10) // 10^24
	got = ScaleToRate(amount, 24)
	require.Equal(t, 0, got.Cmp(scaleValue))
}

func TestRate(t *testing.T) {
	input := big.NewInt(1_000_000)               // 1 USDC, 6 decimals
	output := big.NewInt(500_000_000_000_000_000) // 0.5 ETH, 18 decimals
	got := Rate(input, output, 6, 18)
	require.Equal(t, 0, got.Cmp(big.NewInt(500_000_000_000_000_000)))
}

func TestRateDivisionByZeroYieldsZero(t *testing.T) {
	got := Rate(big.NewInt(0), big.NewInt(100), 18, 18)
	require.Equal(t, 0, got.Sign())
}

func weth() engine.Address { return engine.Address{0x42} }
func usdc() engine.Address { return engine.Address{0x55} }

func uniWethUSDC() *engine.Pool {
	r0, _ := new(big.Int).SetString("325032740126871996707", 10)
	r1, _ := new(big.Int).SetString("1014189875851", 10)
	return &engine.Pool{
		Address:        engine.Address{0x01},
		Token0:         weth(),
		Token1:         usdc(),
		Token0Decimals: 18,
		Token1Decimals: 6,
		Type:           engine.PoolTypeUniswapV2,
		V2Reserve0:     r0,
		V2Reserve1:     r1,
	}
}

func sushiWethUSDC() *engine.Pool {
	r0, _ := new(big.Int).SetString("324239280299976672116", 10)
	r1, _ := new(big.Int).SetString("1016689282374", 10)
	return &engine.Pool{
		Address:        engine.Address{0x02},
		Token0:         weth(),
		Token1:         usdc(),
		Token0Decimals: 18,
		Token1Decimals: 6,
		Type:           engine.PoolTypeSushiSwapV2,
		V2Reserve0:     r0,
		V2Reserve1:     r1,
	}
}

// TestIsProfitableAcrossTwoPools mirrors spec.md scenario 4: a cycle that
// routes WETH -> USDC on the cheaper pool and back on the richer one is
// profitable; the reverse ordering is not.
func TestIsProfitableAcrossTwoPools(t *testing.T) {
	uni := uniWethUSDC()
	sushi := sushiWethUSDC()

	table := New()
	table.ProcessPools([]*engine.Pool{uni, sushi}, weth(), big.NewInt(1_000_000_000_000_000_000))

	notProfitable := engine.Cycle{Steps: []engine.SwapStep{
		{Pool: uni.Address, TokenIn: weth(), TokenOut: usdc()},
		{Pool: sushi.Address, TokenIn: usdc(), TokenOut: weth()},
	}}
	profitable := engine.Cycle{Steps: []engine.SwapStep{
		{Pool: sushi.Address, TokenIn: weth(), TokenOut: usdc()},
		{Pool: uni.Address, TokenIn: usdc(), TokenOut: weth()},
	}}

	require.False(t, table.IsProfitable(notProfitable, big.NewInt(0)))
	require.True(t, table.IsProfitable(profitable, big.NewInt(0)))
}

func TestEstimateOutputMissingRateYieldsZero(t *testing.T) {
	table := New()
	cycle := engine.Cycle{Steps: []engine.SwapStep{{Pool: engine.Address{0x99}, TokenIn: weth()}}}
	out := table.EstimateOutput(cycle, big.NewInt(1_000_000_000_000_000_000))
	require.Equal(t, 0, out.Sign())
}

func TestUpdateRatesLeavesAggregateUntouched(t *testing.T) {
	uni := uniWethUSDC()
	sushi := sushiWethUSDC()

	table := New()
	table.ProcessPools([]*engine.Pool{uni, sushi}, weth(), big.NewInt(1_000_000_000_000_000_000))
	before := new(big.Int).Set(table.aggregatedWethRate[usdc()])

	table.UpdateRates([]*engine.Pool{uni}, weth(), big.NewInt(1_000_000_000_000_000_000))
	after := table.aggregatedWethRate[usdc()]

	require.Equal(t, 0, before.Cmp(after))
}

func TestNonWethPoolSkippedWithoutAggregatedRate(t *testing.T) {
	table := New()
	altA := engine.Address{0x10}
	altB := engine.Address{0x11}
	pool := &engine.Pool{
		Address: engine.Address{0x03}, Token0: altA, Token1: altB,
		Token0Decimals: 18, Token1Decimals: 18,
		Type:       engine.PoolTypeUniswapV2,
		V2Reserve0: big.NewInt(1_000_000),
		V2Reserve1: big.NewInt(1_000_000),
	}
	table.ProcessPools([]*engine.Pool{pool}, weth(), big.NewInt(1))
	_, ok := table.rates[pool.Address]
	require.False(t, ok)
}

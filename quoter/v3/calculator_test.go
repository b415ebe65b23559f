package v3

import (
	"math/big"
	"testing"

	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/quoter/v3/tickmath"
	"github.com/stretchr/testify/require"
)

func wethToken() engine.Address { return engine.Address{0x01} }
func usdcToken() engine.Address { return engine.Address{0x02} }

// flatPool returns a pool with liquidity concentrated in one wide range
// around the current tick, so a small swap never crosses a tick boundary.
func flatPool(t *testing.T) *engine.Pool {
	t.Helper()
	sqrtP := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(sqrtP, 0))

	liquidity, _ := new(big.Int).SetString("1000000000000000000000", 10)

	return &engine.Pool{
		Address:       engine.Address{0xBB},
		Token0:        wethToken(),
		Token1:        usdcToken(),
		Type:          engine.PoolTypeUniswapV3,
		Fee:           3000,
		V3SqrtPriceX96: sqrtP,
		V3Liquidity:   liquidity,
		V3Tick:        0,
		V3TickSpacing: 60,
		V3Ticks: map[int32]engine.TickInfo{
			-887220: {LiquidityNet: liquidity, LiquidityGross: liquidity, Initialized: true},
			887220:  {LiquidityNet: new(big.Int).Neg(liquidity), LiquidityGross: liquidity, Initialized: true},
		},
	}
}

func TestGetAmountOutWithinSingleTickRangeIsPositive(t *testing.T) {
	pool := flatPool(t)
	amountIn := big.NewInt(1_000_000_000_000) // 1e12 wei

	out, err := GetAmountOut(amountIn, wethToken(), pool)
	require.NoError(t, err)
	require.True(t, out.Sign() > 0)
}

func TestGetAmountOutMonotonicIncreasing(t *testing.T) {
	pool := flatPool(t)
	small := big.NewInt(1_000_000_000_000)
	large := new(big.Int).Mul(small, big.NewInt(2))

	outSmall, err := GetAmountOut(small, wethToken(), pool)
	require.NoError(t, err)
	outLarge, err := GetAmountOut(large, wethToken(), pool)
	require.NoError(t, err)

	require.True(t, outLarge.Cmp(outSmall) > 0)
}

func TestSimulateExactInSwapMovesPriceDown(t *testing.T) {
	pool := flatPool(t)
	amountIn := big.NewInt(1_000_000_000_000)

	_, next, err := SimulateExactInSwap(amountIn, nil, wethToken(), pool)
	require.NoError(t, err)
	// Selling token0 (weth) must push sqrtPriceX96 down.
	require.True(t, next.V3SqrtPriceX96.Cmp(pool.V3SqrtPriceX96) <= 0)
}

func TestGetAmountOutRejectsTokenMismatch(t *testing.T) {
	pool := flatPool(t)
	_, err := GetAmountOut(big.NewInt(1), engine.Address{0xFF}, pool)
	require.ErrorIs(t, err, ErrTokenMismatch)
}

func TestGetVirtualReservesOrdering(t *testing.T) {
	pool := flatPool(t)
	rIn, rOut, err := GetVirtualReserves(wethToken(), pool)
	require.NoError(t, err)
	require.True(t, rIn.Sign() > 0)
	require.True(t, rOut.Sign() > 0)
}

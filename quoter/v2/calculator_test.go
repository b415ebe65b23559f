package v2

import (
	"math/big"
	"testing"

	"github.com/defistate/flasharb/engine"
	"github.com/stretchr/testify/require"
)

func weth() engine.Address { return engine.Address{0x01} }
func usdc() engine.Address { return engine.Address{0x02} }

func wethUSDCPool() *engine.Pool {
	r0, _ := new(big.Int).SetString("325032740126871996707", 10)
	r1, _ := new(big.Int).SetString("1014189875851", 10)
	return &engine.Pool{
		Address:    engine.Address{0xAA},
		Token0:     weth(),
		Token1:     usdc(),
		Type:       engine.PoolTypeUniswapV2,
		V2Reserve0: r0,
		V2Reserve1: r1,
	}
}

func TestGetAmountOutMatchesReferenceFormula(t *testing.T) {
	pool := wethUSDCPool()
	amountIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)

	out, err := GetAmountOut(amountIn, weth(), pool)
	require.NoError(t, err)

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(9970))
	numerator := new(big.Int).Mul(pool.V2Reserve1, amountInWithFee)
	denominator := new(big.Int).Mul(pool.V2Reserve0, big.NewInt(10000))
	denominator.Add(denominator, amountInWithFee)
	expected := new(big.Int).Div(numerator, denominator)

	require.Equal(t, 0, out.Cmp(expected), "got %s want %s", out, expected)
}

func TestGetAmountOutMonotonic(t *testing.T) {
	pool := wethUSDCPool()
	small := big.NewInt(1_000_000)
	large := new(big.Int).Mul(small, big.NewInt(10))

	outSmall, err := GetAmountOut(small, weth(), pool)
	require.NoError(t, err)
	outLarge, err := GetAmountOut(large, weth(), pool)
	require.NoError(t, err)

	require.True(t, outLarge.Cmp(outSmall) > 0)
}

func TestFeeNumeratorTable(t *testing.T) {
	cases := []struct {
		typ  engine.PoolType
		want uint32
	}{
		{engine.PoolTypeUniswapV2, 9970},
		{engine.PoolTypeSushiSwapV2, 9970},
		{engine.PoolTypeSwapBasedV2, 9970},
		{engine.PoolTypePancakeSwapV2, 9975},
		{engine.PoolTypeBaseSwapV2, 9975},
		{engine.PoolTypeDackieSwapV2, 9975},
		{engine.PoolTypeAlienBaseV2, 9984},
	}
	for _, c := range cases {
		pool := &engine.Pool{Type: c.typ}
		got, err := FeeNumerator(pool)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestAerodromeVolatileUsesPerPoolFee(t *testing.T) {
	pool := &engine.Pool{Type: engine.PoolTypeAerodromeVolatile, Fee: 30}
	got, err := FeeNumerator(pool)
	require.NoError(t, err)
	require.Equal(t, uint32(30), got)
}

func TestGetAmountOutRejectsTokenMismatch(t *testing.T) {
	pool := wethUSDCPool()
	_, err := GetAmountOut(big.NewInt(1), engine.Address{0xFF}, pool)
	require.ErrorIs(t, err, ErrTokenMismatch)
}


package state

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/defistate/flasharb/engine"
)

func TestSlot0RoundTrip(t *testing.T) {
	cases := []Slot0{
		{SqrtPriceX96: big.NewInt(1 << 62), Tick: 0, Unlocked: true},
		{SqrtPriceX96: big.NewInt(1 << 62), Tick: -12345, ObservationCardinality: 5, FeeProtocol: 3, Unlocked: true},
		{SqrtPriceX96: big.NewInt(1 << 62), Tick: 887271, ObservationIndex: 1, ObservationCardinalityNext: 2},
	}
	for _, c := range cases {
		raw := EncodeSlot0(c)
		got := DecodeSlot0(raw)
		require.Equal(t, c.Tick, got.Tick)
		require.Equal(t, 0, c.SqrtPriceX96.Cmp(got.SqrtPriceX96))
		require.Equal(t, c.ObservationIndex, got.ObservationIndex)
		require.Equal(t, c.ObservationCardinality, got.ObservationCardinality)
		require.Equal(t, c.ObservationCardinalityNext, got.ObservationCardinalityNext)
		require.Equal(t, c.FeeProtocol, got.FeeProtocol)
		require.Equal(t, c.Unlocked, got.Unlocked)
	}
}

func TestTickInfoRoundTripNegativeNet(t *testing.T) {
	gross := big.NewInt(1_000_000)
	net := big.NewInt(-500_000)

	raw := EncodeTickInfo(gross, net)
	gotGross, gotNet := DecodeTickInfo(raw)

	require.Equal(t, 0, gross.Cmp(gotGross))
	require.Equal(t, 0, net.Cmp(gotNet))
}

func TestTickInfoRoundTripPositiveNet(t *testing.T) {
	gross := big.NewInt(42)
	net := big.NewInt(42)

	raw := EncodeTickInfo(gross, net)
	gotGross, gotNet := DecodeTickInfo(raw)

	require.Equal(t, 0, gross.Cmp(gotGross))
	require.Equal(t, 0, net.Cmp(gotNet))
}

func TestDecodeBitmapWordFindsSetBits(t *testing.T) {
	word := new(big.Int)
	word.SetBit(word, 0, 1)
	word.SetBit(word, 5, 1)
	word.SetBit(word, 255, 1)

	ticks := DecodeBitmapWord(0, word, 60)
	require.Equal(t, []int32{0, 300, 15300}, ticks)
}

func TestInsertV3PoolWritesRecoverableState(t *testing.T) {
	s := New(newFakeChain())
	pool := &engine.Pool{
		Address:        common.HexToAddress("0x40"),
		Type:           engine.PoolTypeUniswapV3,
		V3SqrtPriceX96: big.NewInt(1 << 62),
		V3Tick:         -100,
		V3Liquidity:    big.NewInt(5_000_000),
		V3TickSpacing:  60,
		V3Ticks: map[int32]engine.TickInfo{
			-120: {LiquidityNet: big.NewInt(1000), LiquidityGross: big.NewInt(1000)},
			60:    {LiquidityNet: big.NewInt(-1000), LiquidityGross: big.NewInt(1000)},
		},
		V3TickBitmap: map[int16]*big.Int{0: big.NewInt(3)},
	}

	require.NoError(t, InsertV3Pool(context.Background(), s, pool))

	raw, err := s.Storage(context.Background(), pool.Address, common.BigToHash(big.NewInt(v3Slot0Slot)))
	require.NoError(t, err)
	decoded := DecodeSlot0(raw)
	require.Equal(t, int32(-100), decoded.Tick)

	rawTick, err := s.Storage(context.Background(), pool.Address, tickSlot(60, v3TickInfoBaseSlot))
	require.NoError(t, err)
	gross, net := DecodeTickInfo(rawTick)
	require.Equal(t, 0, gross.Cmp(big.NewInt(1000)))
	require.Equal(t, 0, net.Cmp(big.NewInt(-1000)))
}

func TestApplyV3Slot0DiffUpdatesTrackedPool(t *testing.T) {
	s := New(newFakeChain())
	pool := &engine.Pool{
		Address:        common.HexToAddress("0x41"),
		Type:           engine.PoolTypeUniswapV3,
		V3SqrtPriceX96: big.NewInt(1 << 62),
		V3Tick:         0,
	}
	s.TrackPool(pool.Address, pool)

	next := Slot0{SqrtPriceX96: big.NewInt(1 << 70), Tick: 4200, Unlocked: true}
	require.NoError(t, ApplyV3Slot0Diff(s, pool.Address, EncodeSlot0(next)))

	got, ok := s.Pool(pool.Address)
	require.True(t, ok)
	require.Equal(t, int32(4200), got.V3Tick)
	require.Equal(t, 0, got.V3SqrtPriceX96.Cmp(big.NewInt(1<<70)))
}

func TestApplyV3LiquidityDiffUpdatesTrackedPool(t *testing.T) {
	s := New(newFakeChain())
	pool := &engine.Pool{Address: common.HexToAddress("0x42"), Type: engine.PoolTypeUniswapV3, V3Liquidity: big.NewInt(1)}
	s.TrackPool(pool.Address, pool)

	require.NoError(t, ApplyV3LiquidityDiff(s, pool.Address, common.BigToHash(big.NewInt(9_999))))

	got, ok := s.Pool(pool.Address)
	require.True(t, ok)
	require.Equal(t, 0, got.V3Liquidity.Cmp(big.NewInt(9_999)))
}

package poolseed

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `{
	"last_synced_block": 12345678,
	"pools": [
		{
			"address": "0xAAAA00000000000000000000000000000000000A",
			"token0": "0x111100000000000000000000000000000000000A",
			"token1": "0x222200000000000000000000000000000000000A",
			"token0_decimals": 18,
			"token1_decimals": 6,
			"type": "uniswap-v2",
			"v2_reserve0": "1000000000000000000000",
			"v2_reserve1": "2500000000"
		},
		{
			"address": "0xBBBB00000000000000000000000000000000000B",
			"token0": "0x111100000000000000000000000000000000000A",
			"token1": "0x333300000000000000000000000000000000000A",
			"token0_decimals": 18,
			"token1_decimals": 18,
			"type": "uniswap-v3",
			"fee": 3000,
			"v3_sqrt_price_x96": "1461446703485210103287273052203988822378723970342",
			"v3_liquidity": "500000000000000",
			"v3_tick": 1200,
			"v3_tick_spacing": 60,
			"v3_ticks": [
				{"tick": -887220, "liquidity_net": "500000000000000", "liquidity_gross": "500000000000000"},
				{"tick": 887220, "liquidity_net": "-500000000000000", "liquidity_gross": "500000000000000"}
			]
		}
	]
}`

func TestLoadDecodesV2AndV3Pools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	result, err := Load(path)
	require.NoError(t, err)
	require.Len(t, result.Pools, 2)
	require.Equal(t, uint64(12345678), result.LastSyncedBlock)

	want, ok := new(big.Int).SetString("2500000000", 10)
	require.True(t, ok)
	require.Equal(t, 0, result.Pools[0].V2Reserve1.Cmp(want))
	require.Equal(t, int32(1200), result.Pools[1].V3Tick)

	require.Len(t, result.Pools[1].V3Ticks, 2)
	lowTick := result.Pools[1].V3Ticks[-887220]
	require.True(t, lowTick.Initialized)
	wantNet, ok := new(big.Int).SetString("500000000000000", 10)
	require.True(t, ok)
	require.Equal(t, 0, lowTick.LiquidityNet.Cmp(wantNet))
}

func TestLoadRejectsUnknownPoolType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pools":[{"address":"0xAAAA00000000000000000000000000000000000A","type":"mystery-v9"}]}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

// Package poolseed loads the engine's initial pool set from a JSON file.
// Pool discovery/sync from chain is an external collaborator (spec.md §6):
// a separate library is expected to produce this file; this package is the
// narrow loader that turns it into engine.Pool values for the rest of the
// process to build its token graph and state mirror from.
package poolseed

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/flasharb/engine"
)

// file is the on-disk shape of a seed snapshot: the pool set plus the
// block height it was taken at, so the tracker can resume its newHeads
// catch-up from exactly where the snapshot left off instead of replaying
// from block 0 (spec.md §4.5's catch-up range).
type file struct {
	LastSyncedBlock uint64  `json:"last_synced_block"`
	Pools           []entry `json:"pools"`
}

// entry is the on-disk shape of one seed pool. Reserves/liquidity/sqrt
// price are decimal strings since JSON numbers lose precision above 2^53.
type entry struct {
	Address        common.Address `json:"address"`
	Token0         common.Address `json:"token0"`
	Token1         common.Address `json:"token1"`
	Token0Decimals uint8          `json:"token0_decimals"`
	Token1Decimals uint8          `json:"token1_decimals"`
	Type           string         `json:"type"`
	Fee            uint32         `json:"fee"`
	Stable         bool           `json:"stable"`
	V2Reserve0     string         `json:"v2_reserve0,omitempty"`
	V2Reserve1     string         `json:"v2_reserve1,omitempty"`
	V3SqrtPriceX96 string         `json:"v3_sqrt_price_x96,omitempty"`
	V3Liquidity    string         `json:"v3_liquidity,omitempty"`
	V3Tick         int32          `json:"v3_tick,omitempty"`
	V3TickSpacing  int32          `json:"v3_tick_spacing,omitempty"`
	V3Ticks        []tickEntry    `json:"v3_ticks,omitempty"`
}

// tickEntry is one initialized tick of a V3 pool's sparse tick mapping
// (engine.TickInfo), so a freshly seeded V3 pool has initialized ticks to
// cross on its very first quote instead of starting from an empty map.
// Block diffs do not update this tick data.
type tickEntry struct {
	Tick           int32  `json:"tick"`
	LiquidityNet   string `json:"liquidity_net"`
	LiquidityGross string `json:"liquidity_gross"`
}

var poolTypeByName = map[string]engine.PoolType{
	"uniswap-v2":         engine.PoolTypeUniswapV2,
	"sushiswap-v2":       engine.PoolTypeSushiSwapV2,
	"swapbased-v2":       engine.PoolTypeSwapBasedV2,
	"pancakeswap-v2":     engine.PoolTypePancakeSwapV2,
	"baseswap-v2":        engine.PoolTypeBaseSwapV2,
	"dackieswap-v2":      engine.PoolTypeDackieSwapV2,
	"alienbase-v2":       engine.PoolTypeAlienBaseV2,
	"aerodrome-volatile": engine.PoolTypeAerodromeVolatile,
	"uniswap-v3":         engine.PoolTypeUniswapV3,
}

// Result is the decoded seed snapshot: the pool set plus the block height
// it was taken at.
type Result struct {
	Pools           []*engine.Pool
	LastSyncedBlock uint64
}

// Load reads and decodes path into a seed snapshot, rejecting unknown pool
// type names rather than silently falling back to PoolTypeUnknown (an
// unrecognized family here almost always means the loader is stale
// relative to whatever produced the file).
func Load(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("poolseed: reading %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("poolseed: parsing %s: %w", path, err)
	}

	pools := make([]*engine.Pool, 0, len(f.Pools))
	for _, e := range f.Pools {
		typ, ok := poolTypeByName[e.Type]
		if !ok {
			return nil, fmt.Errorf("poolseed: unknown pool type %q for %s", e.Type, e.Address)
		}
		pool := &engine.Pool{
			Address:        e.Address,
			Token0:         e.Token0,
			Token1:         e.Token1,
			Token0Decimals: e.Token0Decimals,
			Token1Decimals: e.Token1Decimals,
			Type:           typ,
			Fee:            e.Fee,
			Stable:         e.Stable,
			V3Tick:         e.V3Tick,
			V3TickSpacing:  e.V3TickSpacing,
		}
		if pool.V2Reserve0, err = parseBig(e.V2Reserve0); err != nil {
			return nil, fmt.Errorf("poolseed: %s v2_reserve0: %w", e.Address, err)
		}
		if pool.V2Reserve1, err = parseBig(e.V2Reserve1); err != nil {
			return nil, fmt.Errorf("poolseed: %s v2_reserve1: %w", e.Address, err)
		}
		if pool.V3SqrtPriceX96, err = parseBig(e.V3SqrtPriceX96); err != nil {
			return nil, fmt.Errorf("poolseed: %s v3_sqrt_price_x96: %w", e.Address, err)
		}
		if pool.V3Liquidity, err = parseBig(e.V3Liquidity); err != nil {
			return nil, fmt.Errorf("poolseed: %s v3_liquidity: %w", e.Address, err)
		}
		if len(e.V3Ticks) > 0 {
			pool.V3Ticks = make(map[int32]engine.TickInfo, len(e.V3Ticks))
			for _, te := range e.V3Ticks {
				net, err := parseBig(te.LiquidityNet)
				if err != nil {
					return nil, fmt.Errorf("poolseed: %s tick %d liquidity_net: %w", e.Address, te.Tick, err)
				}
				gross, err := parseBig(te.LiquidityGross)
				if err != nil {
					return nil, fmt.Errorf("poolseed: %s tick %d liquidity_gross: %w", e.Address, te.Tick, err)
				}
				pool.V3Ticks[te.Tick] = engine.TickInfo{
					LiquidityNet:   net,
					LiquidityGross: gross,
					Initialized:    true,
				}
			}
		}
		pools = append(pools, pool)
	}
	return &Result{Pools: pools, LastSyncedBlock: f.LastSyncedBlock}, nil
}

// parseBig parses a decimal string, treating "" as zero rather than an error
// since a pool only populates the fields its family uses.
func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

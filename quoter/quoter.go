// Package quoter dispatches a swap quote to the right pool-family formula
// and folds a whole cycle through a per-block, per-(pool,amount) cache —
// the cache idiom is grounded on the teacher's protocols/uniswapv2/indexer
// byID pattern, swapped here for a structural key instead of a registry ID.
package quoter

import (
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/defistate/flasharb/engine"
	v2 "github.com/defistate/flasharb/quoter/v2"
	v3 "github.com/defistate/flasharb/quoter/v3"
)

// ErrUnsupportedPoolType is returned for pool families this engine does not
// quote (Balancer, Curve, Maverick, Aerodrome-stable — spec.md §9).
var ErrUnsupportedPoolType = fmt.Errorf("quoter: unsupported pool type")

// ComputeAmountOut dispatches a single swap step to its pool family's
// formula (spec.md §4.2's compute_amount_out). Dispatch is an exhaustive
// switch over the closed PoolType enum, never virtual dispatch.
func ComputeAmountOut(amountIn *big.Int, tokenIn engine.Address, pool *engine.Pool) (*big.Int, error) {
	switch pool.Type {
	case engine.PoolTypeUniswapV2, engine.PoolTypeSushiSwapV2, engine.PoolTypeSwapBasedV2,
		engine.PoolTypePancakeSwapV2, engine.PoolTypeBaseSwapV2, engine.PoolTypeDackieSwapV2,
		engine.PoolTypeAlienBaseV2, engine.PoolTypeAerodromeVolatile:
		return v2.GetAmountOut(amountIn, tokenIn, pool)
	case engine.PoolTypeUniswapV3:
		return v3.GetAmountOut(amountIn, tokenIn, pool)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPoolType, pool.Type)
	}
}

// cacheKey identifies a memoized (pool, input amount) quote.
type cacheKey struct {
	pool   engine.Address
	amount string // amount.String(); big.Int is not a valid map key
}

// Cache memoizes swap quotes, keyed by (pool, amount). Entries for a pool
// are dropped by InvalidatePools when a block touches that pool's storage,
// and Reset drops every entry at once; the searcher only invalidates per
// pool, so entries for untouched pools carry over between blocks. There is
// no TTL or per-entry LRU (spec.md §4.2).
type Cache struct {
	entries map[cacheKey]*big.Int
}

// NewCache returns an empty quote cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*big.Int)}
}

// InvalidatePools drops every cached entry for the given pools.
func (c *Cache) InvalidatePools(pools mapset.Set[engine.Address]) {
	if pools.Cardinality() == 0 {
		return
	}
	for k := range c.entries {
		if pools.Contains(k.pool) {
			delete(c.entries, k)
		}
	}
}

// Reset clears the entire cache, e.g. at the start of a new block.
func (c *Cache) Reset() {
	c.entries = make(map[cacheKey]*big.Int)
}

// quoteStep probes the cache for (step.Pool, amountIn); on miss it computes
// and inserts the result.
func (c *Cache) quoteStep(amountIn *big.Int, step engine.SwapStep, pool *engine.Pool) (*big.Int, error) {
	key := cacheKey{pool: step.Pool, amount: amountIn.String()}
	if out, ok := c.entries[key]; ok {
		return out, nil
	}

	out, err := ComputeAmountOut(amountIn, step.TokenIn, pool)
	if err != nil {
		return nil, err
	}
	c.entries[key] = out
	return out, nil
}

// PoolLookup resolves a pool by address; state.Store satisfies this.
type PoolLookup interface {
	Pool(addr engine.Address) (*engine.Pool, bool)
}

// CalculateOutput folds amountIn through every step of the cycle, probing
// and populating the cache at each hop. A zero output at any step
// short-circuits to zero for the remainder of the path (spec.md §4.2).
func (c *Cache) CalculateOutput(amountIn *big.Int, cycle engine.Cycle, pools PoolLookup) (*big.Int, error) {
	amount := new(big.Int).Set(amountIn)
	for _, step := range cycle.Steps {
		if amount.Sign() == 0 {
			return new(big.Int), nil
		}
		pool, ok := pools.Pool(step.Pool)
		if !ok {
			return nil, fmt.Errorf("quoter: pool %s not found", step.Pool)
		}
		out, err := c.quoteStep(amount, step, pool)
		if err != nil {
			return nil, err
		}
		amount = out
	}
	return amount, nil
}

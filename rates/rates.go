// Package rates implements the Rate Estimator (C3): a fast first-pass
// profitability filter built from composable per-pool, per-direction
// fixed-point exchange rates, scaled to 18 decimals regardless of the
// underlying tokens' own decimals (spec.md §4.3).
//
// Grounded on the original estimator.rs's process_pools/update_rates split:
// a one-time WETH-anchored bootstrap followed by a cheap per-block refresh
// restricted to the touched pools.
package rates

import (
	"math/big"
	"sync"

	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/quoter"
)

// Scale is the fixed-point precision every rate is represented in.
const Scale = 18

// scaleValue is 10^18, used as both the fixed-point unit and the divisor in
// every rate composition.
var scaleValue = new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil)

// pow10 returns 10^n.
func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ScaleToRate promotes or demotes amount from its token's own decimals to
// 18-decimal fixed point.
func ScaleToRate(amount *big.Int, decimals uint8) *big.Int {
	if decimals <= Scale {
		return new(big.Int).Mul(amount, pow10(Scale-decimals))
	}
	return new(big.Int).Div(amount, pow10(decimals-Scale))
}

// Rate computes (scale_to_rate(out,decOut) * Scale) / scale_to_rate(in,decIn),
// returning 0 on division by zero rather than erroring — a missing or
// zero-reserve quote degrades to "no rate" instead of panicking (spec.md §4.3).
func Rate(in, out *big.Int, decIn, decOut uint8) *big.Int {
	scaledIn := ScaleToRate(in, decIn)
	if scaledIn.Sign() == 0 {
		return new(big.Int)
	}
	scaledOut := ScaleToRate(out, decOut)
	num := new(big.Int).Mul(scaledOut, scaleValue)
	return num.Div(num, scaledIn)
}

// Table is the mutable per-block rate cache: RateTable plus its
// aggregated-WETH-rate bootstrap side table (spec.md §3). A single
// sync.RWMutex guards it, the same single-writer-many-readers discipline
// state.Store uses, since the searcher goroutine writes UpdateRates on every
// block while the simulator goroutine reads EstimateOutput concurrently in
// SIM mode.
type Table struct {
	mu sync.RWMutex

	// rates[pool][tokenIn] = fixed-point rate for swapping tokenIn through pool.
	rates map[engine.Address]map[engine.Address]*big.Int
	// aggregatedWethRate[alt] is the mean WETH->alt rate across every
	// WETH-pairing pool observed during bootstrap.
	aggregatedWethRate map[engine.Address]*big.Int
	tokenDecimals      map[engine.Address]uint8
}

// New returns an empty rate table.
func New() *Table {
	return &Table{
		rates:              make(map[engine.Address]map[engine.Address]*big.Int),
		aggregatedWethRate: make(map[engine.Address]*big.Int),
		tokenDecimals:      make(map[engine.Address]uint8),
	}
}

// setRate requires the caller to hold t.mu for writing.
func (t *Table) setRate(pool, tokenIn engine.Address, rate *big.Int) {
	m, ok := t.rates[pool]
	if !ok {
		m = make(map[engine.Address]*big.Int)
		t.rates[pool] = m
	}
	m[tokenIn] = rate
}

// quotePool is the single point where this package calls into the quoter to
// obtain a concrete swap output, mirroring the original's
// calculator.compute_pool_output indirection.
func quotePool(amountIn *big.Int, tokenIn engine.Address, pool *engine.Pool) *big.Int {
	out, err := quoter.ComputeAmountOut(amountIn, tokenIn, pool)
	if err != nil {
		return new(big.Int)
	}
	return out
}

// ethPoolRates computes both directional rates for a WETH-pairing pool and
// records them in t.rates, returning the alt token and the forward
// (WETH->alt) rate so callers can decide whether to fold it into the
// aggregate. Requires the caller to hold t.mu for writing.
func (t *Table) ethPoolRates(pool *engine.Pool, weth engine.Address, input *big.Int) (alt engine.Address, forward *big.Int) {
	t.tokenDecimals[pool.Token0] = pool.Token0Decimals
	t.tokenDecimals[pool.Token1] = pool.Token1Decimals

	alt = pool.Token1
	if pool.Token0 != weth {
		alt = pool.Token0
	}

	altOut := quotePool(input, weth, pool)
	roundTrip := quotePool(altOut, alt, pool)

	wethDecimals := t.tokenDecimals[weth]
	altDecimals := t.tokenDecimals[alt]

	forward = Rate(input, altOut, wethDecimals, altDecimals)
	backward := Rate(altOut, roundTrip, altDecimals, wethDecimals)

	t.setRate(pool.Address, weth, forward)
	t.setRate(pool.Address, alt, backward)
	return alt, forward
}

// processEthPool is the bootstrap path for a WETH-pairing pool: it computes
// both directional rates and folds the forward rate into the running
// WETH->alt aggregate so ProcessPools can average it once every pool has
// been seen.
func (t *Table) processEthPool(pool *engine.Pool, weth engine.Address, input *big.Int, altCount map[engine.Address]uint32) {
	alt, forward := t.ethPoolRates(pool, weth, input)
	if existing, ok := t.aggregatedWethRate[alt]; ok {
		t.aggregatedWethRate[alt] = new(big.Int).Add(existing, forward)
	} else {
		t.aggregatedWethRate[alt] = new(big.Int).Set(forward)
	}
	altCount[alt]++
}

// updateEthPool is the mid-run refresh path for a WETH-pairing pool: it
// recomputes both directional rates but leaves aggregatedWethRate untouched,
// since that average is only ever computed once, at bootstrap (spec.md §4.3,
// update_rates: "the aggregated map is not recomputed mid-run").
func (t *Table) updateEthPool(pool *engine.Pool, weth engine.Address, input *big.Int) {
	t.ethPoolRates(pool, weth, input)
}

// processNonWethPool uses the pool's token0 aggregated WETH rate, if any, as
// a synthetic WETH-equivalent input to derive both directional rates.
// Requires the caller to hold t.mu for writing.
func (t *Table) processNonWethPool(pool *engine.Pool) {
	t.tokenDecimals[pool.Token0] = pool.Token0Decimals
	t.tokenDecimals[pool.Token1] = pool.Token1Decimals

	inputRate, ok := t.aggregatedWethRate[pool.Token0]
	if !ok {
		return
	}

	token0Decimals := t.tokenDecimals[pool.Token0]
	token1Decimals := t.tokenDecimals[pool.Token1]

	output := quotePool(inputRate, pool.Token0, pool)
	roundTrip := quotePool(output, pool.Token1, pool)

	forward := Rate(inputRate, output, token0Decimals, token1Decimals)
	backward := Rate(output, roundTrip, token1Decimals, token0Decimals)

	t.setRate(pool.Address, pool.Token0, forward)
	t.setRate(pool.Address, pool.Token1, backward)
}

// ProcessPools runs the full bootstrap: WETH-pairing pools first (seeding
// aggregatedWethRate), then every remaining pool using the now-averaged
// aggregate as a synthetic input (spec.md §4.3, process_pools).
func (t *Table) ProcessPools(pools []*engine.Pool, weth engine.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	altCount := make(map[engine.Address]uint32)

	var nonWeth []*engine.Pool
	for _, pool := range pools {
		if pool.Token0 == weth || pool.Token1 == weth {
			t.processEthPool(pool, weth, amount, altCount)
		} else {
			nonWeth = append(nonWeth, pool)
		}
	}

	for alt, count := range altCount {
		if count == 0 {
			continue
		}
		sum := t.aggregatedWethRate[alt]
		t.aggregatedWethRate[alt] = new(big.Int).Div(sum, big.NewInt(int64(count)))
	}

	for _, pool := range nonWeth {
		t.processNonWethPool(pool)
	}
}

// UpdateRates recomputes directional rates for exactly the given pools,
// without touching aggregatedWethRate (spec.md §4.3, update_rates: "the
// aggregated map is not recomputed mid-run").
func (t *Table) UpdateRates(pools []*engine.Pool, weth engine.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, pool := range pools {
		if pool.Token0 == weth || pool.Token1 == weth {
			t.updateEthPool(pool, weth, amount)
		} else {
			t.processNonWethPool(pool)
		}
	}
}

// EstimateOutput composes amount through every step's rate, dividing by
// Scale after each multiply, stopping at 0 on any missing rate (spec.md §4.3).
func (t *Table) EstimateOutput(path engine.Cycle, amount *big.Int) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	current := new(big.Int).Set(amount)
	for _, step := range path.Steps {
		poolRates, ok := t.rates[step.Pool]
		if !ok {
			return new(big.Int)
		}
		r, ok := poolRates[step.TokenIn]
		if !ok {
			return new(big.Int)
		}
		current.Mul(current, r)
		current.Div(current, scaleValue)
	}
	return current
}

// IsProfitable composes the cumulative rate (starting at 1.0 in fixed
// point) along path and reports whether it exceeds Scale + minRatio.
func (t *Table) IsProfitable(path engine.Cycle, minRatio *big.Int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cumulative := new(big.Int).Set(scaleValue)
	for _, step := range path.Steps {
		poolRates, ok := t.rates[step.Pool]
		if !ok {
			return false
		}
		r, ok := poolRates[step.TokenIn]
		if !ok {
			return false
		}
		cumulative.Mul(cumulative, r)
		cumulative.Div(cumulative, scaleValue)
	}
	threshold := new(big.Int).Add(scaleValue, minRatio)
	return cumulative.Cmp(threshold) > 0
}

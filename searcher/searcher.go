// Package searcher implements the Searcher (C6): the per-block control
// loop that turns a PoolsTouched event into at most one candidate
// arbitrage path, fanning the cheap rate-based estimate out across every
// affected cycle before escalating the single best candidate to a precise
// offchain quote (spec.md §4.6).
//
// The pool -> cycle index is grounded on the teacher's
// protocols/uniswapv2/indexer byID pattern: a map built once at startup,
// here keyed by pool address instead of a registry-assigned uint64 ID.
package searcher

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/quoter"
	"github.com/defistate/flasharb/rates"
)

// SanityCeiling bounds an estimate's plausibility; anything at or above it
// signals broken rate math rather than a genuine opportunity (spec.md §4.6).
var SanityCeiling = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Logger is the structured leveled logger every component takes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// minProfitThreshold computes AMOUNT + flash_loan_fee + profit_floor, where
// flash_loan_fee = AMOUNT*9/10_000 and profit_floor = AMOUNT/100 (spec.md
// §4.6).
func minProfitThreshold(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(9))
	fee.Div(fee, big.NewInt(10_000))
	floor := new(big.Int).Div(amount, big.NewInt(100))

	threshold := new(big.Int).Add(amount, fee)
	return threshold.Add(threshold, floor)
}

// buildIndex maps every pool address to the indices of cycles that swap
// through it, deduplicated per cycle (a parallel-edge cycle only lists a
// pool once even if it would otherwise be indexed twice).
func buildIndex(cycles []engine.Cycle) map[engine.Address][]int {
	index := make(map[engine.Address][]int)
	for i, cycle := range cycles {
		seen := mapset.NewSet[engine.Address]()
		for _, step := range cycle.Steps {
			if seen.Contains(step.Pool) {
				continue
			}
			seen.Add(step.Pool)
			index[step.Pool] = append(index[step.Pool], i)
		}
	}
	return index
}

// Searcher owns the startup cycle index and drives the per-block
// invalidate/re-estimate/rank/escalate pipeline.
type Searcher struct {
	cycles []engine.Cycle
	index  map[engine.Address][]int

	rateTable  *rates.Table
	quoteCache *quoter.Cache
	pools      quoter.PoolLookup

	engCtx             engine.Context
	minProfitThreshold *big.Int

	log Logger
	out chan engine.ArbPathEvent
}

// New builds a Searcher over a fixed cycle set, indexing it once (spec.md
// §4.6's "index built once at startup").
func New(cycles []engine.Cycle, pools quoter.PoolLookup, rateTable *rates.Table, quoteCache *quoter.Cache, engCtx engine.Context, log Logger) *Searcher {
	return &Searcher{
		cycles:             cycles,
		index:              buildIndex(cycles),
		rateTable:          rateTable,
		quoteCache:         quoteCache,
		pools:              pools,
		engCtx:             engCtx,
		minProfitThreshold: minProfitThreshold(engCtx.Amount),
		log:                log,
		out:                make(chan engine.ArbPathEvent, 100),
	}
}

// ArbPaths is point-to-point, C6 -> C7 (spec.md §3).
func (s *Searcher) ArbPaths() <-chan engine.ArbPathEvent { return s.out }

// Run processes PoolsTouched events strictly in arrival order until touched
// closes or ctx is canceled (spec.md §4.6's "blocks processed strictly in
// arrival order").
func (s *Searcher) Run(ctx context.Context, touched <-chan engine.PoolsTouchedEvent) {
	for {
		select {
		case ev, ok := <-touched:
			if !ok {
				return
			}
			if err := s.handle(ev); err != nil {
				s.log.Error("searcher: handling PoolsTouched failed", "block", ev.BlockNumber, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

type candidate struct {
	cycle engine.Cycle
	est   *big.Int
}

// handle runs the five-step per-block algorithm of spec.md §4.6 and emits
// at most one ArbPathEvent.
func (s *Searcher) handle(ev engine.PoolsTouchedEvent) error {
	touchedSet := mapset.NewSet(ev.Pools...)
	s.quoteCache.InvalidatePools(touchedSet)

	touchedPools := make([]*engine.Pool, 0, len(ev.Pools))
	for _, addr := range ev.Pools {
		if p, ok := s.pools.Pool(addr); ok {
			touchedPools = append(touchedPools, p)
		}
	}
	s.rateTable.UpdateRates(touchedPools, s.engCtx.Weth, s.engCtx.Amount)

	affected := mapset.NewSet[int]()
	for _, addr := range ev.Pools {
		for _, idx := range s.index[addr] {
			affected.Add(idx)
		}
	}
	if affected.Cardinality() == 0 {
		return nil
	}

	best := s.rankAffected(affected)
	if best == nil {
		return nil
	}

	precise, err := s.quoteCache.CalculateOutput(s.engCtx.Amount, best.cycle, s.pools)
	if err != nil {
		return fmt.Errorf("searcher: precise quote for winning cycle: %w", err)
	}
	if precise.Cmp(s.minProfitThreshold) < 0 {
		return nil
	}

	s.out <- engine.ArbPathEvent{Path: best.cycle, ExpectedOut: precise, BlockNumber: ev.BlockNumber}
	return nil
}

// rankAffected computes estimate_output for every affected cycle in
// parallel (spec.md §4.6 step 4's "data-parallel fan-out"), keeping those
// within [min_profit_threshold, SANITY_CEILING), and returns the single
// best by estimate (step 5's "one cycle per block maximum").
func (s *Searcher) rankAffected(affected mapset.Set[int]) *candidate {
	indices := affected.ToSlice()
	results := make([]*candidate, len(indices))

	var wg sync.WaitGroup
	for i, idx := range indices {
		wg.Add(1)
		go func(i, idx int) {
			defer wg.Done()
			cycle := s.cycles[idx]
			est := s.rateTable.EstimateOutput(cycle, s.engCtx.Amount)
			if est.Cmp(s.minProfitThreshold) < 0 || est.Cmp(SanityCeiling) >= 0 {
				return
			}
			results[i] = &candidate{cycle: cycle, est: est}
		}(i, idx)
	}
	wg.Wait()

	var best *candidate
	for _, c := range results {
		if c == nil {
			continue
		}
		if best == nil || c.est.Cmp(best.est) > 0 {
			best = c
		}
	}
	return best
}

package graph

import (
	"hash/fnv"

	"github.com/defistate/flasharb/bitset"
	"github.com/defistate/flasharb/engine"
)

// cycleSearch holds the per-call scratch state for FindCycles, mirroring the
// teacher's findArbitrageCyclesState shape (known bitset + path slice)
// without the Bellman-Ford cost/relaxation machinery, since this search is
// an exhaustive enumeration, not a best-path search.
type cycleSearch struct {
	g          *Graph
	start      engine.Address
	maxHops    int
	tokenIndex map[engine.Address]int
	known      bitset.BitSet
	path       []engine.SwapStep
	cycles     []engine.Cycle
}

// FindCycles enumerates every cycle of exactly maxHops edges starting and
// ending at start, with no repeated intermediate token (spec.md §4.4).
func (g *Graph) FindCycles(start engine.Address, maxHops int) []engine.Cycle {
	if maxHops <= 0 {
		return nil
	}
	tokenIndex := make(map[engine.Address]int, len(g.tokens))
	for i, t := range g.tokens {
		tokenIndex[t] = i
	}
	startIdx, ok := tokenIndex[start]
	if !ok {
		return nil
	}

	s := &cycleSearch{
		g:          g,
		start:      start,
		maxHops:    maxHops,
		tokenIndex: tokenIndex,
		known:      bitset.NewBitSet(uint64(len(g.tokens))),
	}
	s.known.Set(uint64(startIdx))
	s.dfs(start, 0)
	return s.cycles
}

func (s *cycleSearch) dfs(current engine.Address, depth int) {
	for _, e := range s.g.adjacency[current] {
		if e.target == s.start {
			if depth+1 != s.maxHops {
				continue
			}
			// Two-hop cycles via parallel edges between the same pair are
			// only valid when the pools differ in type (spec.md §4.4) —
			// otherwise it's a trivial same-pool round trip.
			if s.maxHops == 2 && s.path[0].Protocol == e.pool.Type {
				continue
			}
			s.path = append(s.path, step(current, e))
			s.cycles = append(s.cycles, finishCycle(s.path))
			s.path = s.path[:len(s.path)-1]
			continue
		}

		if depth+1 >= s.maxHops {
			continue // can't close the cycle from here within the hop budget
		}

		targetIdx := s.tokenIndex[e.target]
		if s.known.IsSet(uint64(targetIdx)) {
			continue // no repeated intermediate token
		}

		s.known.Set(uint64(targetIdx))
		s.path = append(s.path, step(current, e))
		s.dfs(e.target, depth+1)
		s.path = s.path[:len(s.path)-1]
		s.known.Unset(uint64(targetIdx))
	}
}

func step(current engine.Address, e edge) engine.SwapStep {
	return engine.SwapStep{
		Pool:     e.pool.Address,
		TokenIn:  current,
		TokenOut: e.target,
		Protocol: e.pool.Type,
		Fee:      e.pool.Fee,
	}
}

// finishCycle copies the in-progress path into an immutable Cycle with a
// stable structural hash.
func finishCycle(path []engine.SwapStep) engine.Cycle {
	steps := make([]engine.SwapStep, len(path))
	copy(steps, path)
	return engine.Cycle{Steps: steps, Hash: hashSteps(steps)}
}

// hashSteps computes a stable 64-bit hash of the ordered step sequence.
func hashSteps(steps []engine.SwapStep) uint64 {
	h := fnv.New64a()
	for _, s := range steps {
		h.Write(s.Pool.Bytes())
		h.Write(s.TokenIn.Bytes())
		h.Write(s.TokenOut.Bytes())
		h.Write([]byte{byte(s.Protocol)})
	}
	return h.Sum64()
}

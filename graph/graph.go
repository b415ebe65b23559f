// Package graph builds the token/pool adjacency view and enumerates fixed-
// length arbitrage cycles from it (C4, spec.md §4.4).
//
// Grounded on the teacher's chains/base/grapher/graph.go adjacency-list
// construction (Adjacency/EdgePools/EdgeTargets, built once from a flat
// token/pool list); the teacher's Bellman-Ford "king of the hill" search is
// replaced with exhaustive bounded-depth DFS (graph/cycles.go) since
// spec.md §4.4 requires the complete cycle list, not one best path.
package graph

import "github.com/defistate/flasharb/engine"

// edge is one pool connecting two tokens; an undirected multigraph may have
// several edges between the same pair (spec.md §4.4).
type edge struct {
	target engine.Address
	pool   *engine.Pool
}

// Graph is the adjacency view over a fixed pool set. Built once at startup;
// never mutated afterward (spec.md §3, "Pools and Cycles are created once
// at startup and never mutated").
type Graph struct {
	tokens    []engine.Address
	adjacency map[engine.Address][]edge
}

// Build constructs the adjacency list from a flat pool set: one node per
// distinct token, one edge per pool, both directions registered.
func Build(pools []*engine.Pool) *Graph {
	g := &Graph{adjacency: make(map[engine.Address][]edge)}
	seen := make(map[engine.Address]bool)

	addToken := func(addr engine.Address) {
		if !seen[addr] {
			seen[addr] = true
			g.tokens = append(g.tokens, addr)
		}
	}

	for _, p := range pools {
		addToken(p.Token0)
		addToken(p.Token1)
		g.adjacency[p.Token0] = append(g.adjacency[p.Token0], edge{target: p.Token1, pool: p})
		g.adjacency[p.Token1] = append(g.adjacency[p.Token1], edge{target: p.Token0, pool: p})
	}
	return g
}

// Tokens returns every distinct token address registered in the graph.
func (g *Graph) Tokens() []engine.Address {
	return g.tokens
}

// PoolsForToken returns every pool with an edge touching token.
func (g *Graph) PoolsForToken(token engine.Address) []*engine.Pool {
	edges := g.adjacency[token]
	if len(edges) == 0 {
		return nil
	}
	out := make([]*engine.Pool, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.pool)
	}
	return out
}

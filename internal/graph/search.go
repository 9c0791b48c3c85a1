package graph

import (
	"math"
	"sort"

	"solana-arb-engine/internal/domain"
)

// cycleEpsilon guards against reporting float noise as a negative cycle.
const cycleEpsilon = 1e-12

// edge is one direction of one pool.
type edge struct {
	pool     *domain.PoolState
	from     int
	to       int
	tokenIn  string
	tokenOut string
	weight   float64 // -log(rate at probe size)
}

// tokenGraph is the per-snapshot weighted graph. Nodes are mints in sorted
// order and each adjacency list is ordered by pool key, so traversal order
// depends only on the snapshot contents.
type tokenGraph struct {
	tokens []string
	index  map[string]int
	out    [][]edge
}

func buildGraph(snap *domain.GraphSnapshot, probeFraction float64) *tokenGraph {
	seen := make(map[string]struct{})
	for _, p := range snap.Pools {
		seen[p.TokenA.Mint] = struct{}{}
		seen[p.TokenB.Mint] = struct{}{}
	}
	g := &tokenGraph{
		tokens: make([]string, 0, len(seen)),
		index:  make(map[string]int, len(seen)),
	}
	for m := range seen {
		g.tokens = append(g.tokens, m)
	}
	sort.Strings(g.tokens)
	for i, m := range g.tokens {
		g.index[m] = i
	}
	g.out = make([][]edge, len(g.tokens))

	pools := append([]*domain.PoolState(nil), snap.Pools...)
	sort.Slice(pools, func(i, j int) bool { return pools[i].Key.Less(pools[j].Key) })

	for _, p := range pools {
		for _, dir := range [2][2]string{{p.TokenA.Mint, p.TokenB.Mint}, {p.TokenB.Mint, p.TokenA.Mint}} {
			probe := probeFraction * Depth(p, dir[0])
			if probe <= 0 {
				continue
			}
			out, err := Quote(p, dir[0], probe)
			if err != nil || out <= 0 {
				continue
			}
			from, to := g.index[dir[0]], g.index[dir[1]]
			g.out[from] = append(g.out[from], edge{
				pool:     p,
				from:     from,
				to:       to,
				tokenIn:  dir[0],
				tokenOut: dir[1],
				weight:   -math.Log(out / probe),
			})
		}
	}
	return g
}

// lowerBounds returns bound[k][v]: the minimum weight of any walk from v
// into targets using at most k edges. Pool reuse is ignored, so the value
// is a lower bound for the constrained search.
func (g *tokenGraph) lowerBounds(targets map[int]struct{}, maxEdges int) [][]float64 {
	n := len(g.tokens)
	bound := make([][]float64, maxEdges+1)
	bound[0] = make([]float64, n)
	for v := range bound[0] {
		bound[0][v] = math.Inf(1)
		if _, ok := targets[v]; ok {
			bound[0][v] = 0
		}
	}
	for k := 1; k <= maxEdges; k++ {
		prev := bound[k-1]
		cur := append([]float64(nil), prev...)
		for v := 0; v < n; v++ {
			for _, e := range g.out[v] {
				if w := e.weight + prev[e.to]; w < cur[v] {
					cur[v] = w
				}
			}
		}
		bound[k] = cur
	}
	return bound
}

// cycle is a candidate path from an anchor back into its peg group.
type cycle struct {
	anchor string
	edges  []edge
	weight float64
}

// findCycles enumerates simple paths of 2..maxHops edges that start at
// start, end in targets, use no pool twice and have negative total weight
// at probe size. Branches whose best possible completion is non-negative
// are pruned.
func (g *tokenGraph) findCycles(start string, targets []string, maxHops int) []cycle {
	s, ok := g.index[start]
	if !ok || maxHops < 2 {
		return nil
	}
	targetSet := make(map[int]struct{}, len(targets))
	for _, t := range targets {
		if i, ok := g.index[t]; ok {
			targetSet[i] = struct{}{}
		}
	}
	targetSet[s] = struct{}{}
	bound := g.lowerBounds(targetSet, maxHops)

	var found []cycle
	path := make([]edge, 0, maxHops)
	usedPools := make(map[domain.PoolKey]struct{}, maxHops)
	visited := make(map[int]struct{}, maxHops)
	visited[s] = struct{}{}

	var walk func(v int, acc float64)
	walk = func(v int, acc float64) {
		depth := len(path) + 1
		for _, e := range g.out[v] {
			if _, used := usedPools[e.pool.Key]; used {
				continue
			}
			w := acc + e.weight
			if _, isTarget := targetSet[e.to]; isTarget {
				if depth >= 2 && w < -cycleEpsilon {
					edges := make([]edge, len(path)+1)
					copy(edges, path)
					edges[len(path)] = e
					found = append(found, cycle{anchor: start, edges: edges, weight: w})
				}
				continue
			}
			if _, seen := visited[e.to]; seen || depth >= maxHops {
				continue
			}
			if w+bound[maxHops-depth][e.to] >= -cycleEpsilon {
				continue
			}
			path = append(path, e)
			usedPools[e.pool.Key] = struct{}{}
			visited[e.to] = struct{}{}
			walk(e.to, w)
			delete(visited, e.to)
			delete(usedPools, e.pool.Key)
			path = path[:len(path)-1]
		}
	}
	walk(s, 0)
	return found
}

package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Hop is one swap leg of a route.
type Hop struct {
	Pool      *PoolState // snapshot state the hop was priced against
	TokenIn   string     // input mint
	TokenOut  string     // output mint
	AmountIn  float64    // UI units of TokenIn
	AmountOut float64    // UI units of TokenOut
}

// Rate returns the effective exchange rate realized by the hop.
func (h Hop) Rate() float64 {
	if h.AmountIn <= 0 {
		return 0
	}
	return h.AmountOut / h.AmountIn
}

// Route is an ordered sequence of hops.
type Route struct {
	Hops []Hop
}

// Len returns the hop count.
func (r Route) Len() int {
	return len(r.Hops)
}

// StartToken returns the input mint of the first hop.
func (r Route) StartToken() string {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[0].TokenIn
}

// EndToken returns the output mint of the last hop.
func (r Route) EndToken() string {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[len(r.Hops)-1].TokenOut
}

// IsCyclic reports whether the route returns to its starting token.
func (r Route) IsCyclic() bool {
	return len(r.Hops) > 0 && r.StartToken() == r.EndToken()
}

// InputAmount is the amount entering the first hop.
func (r Route) InputAmount() float64 {
	if len(r.Hops) == 0 {
		return 0
	}
	return r.Hops[0].AmountIn
}

// OutputAmount is the amount leaving the last hop.
func (r Route) OutputAmount() float64 {
	if len(r.Hops) == 0 {
		return 0
	}
	return r.Hops[len(r.Hops)-1].AmountOut
}

// ComposedRate multiplies the per-hop effective rates.
func (r Route) ComposedRate() float64 {
	if len(r.Hops) == 0 {
		return 0
	}
	rate := 1.0
	for _, h := range r.Hops {
		rate *= h.Rate()
	}
	return rate
}

// PoolKeys returns the keys of the pools the route touches, in hop order.
func (r Route) PoolKeys() []PoolKey {
	keys := make([]PoolKey, len(r.Hops))
	for i, h := range r.Hops {
		keys[i] = h.Pool.Key
	}
	return keys
}

// Tokens returns the distinct mints the route touches, sorted.
func (r Route) Tokens() []string {
	seen := make(map[string]struct{}, len(r.Hops)+1)
	for _, h := range r.Hops {
		seen[h.TokenIn] = struct{}{}
		seen[h.TokenOut] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Resources returns the lockable resource names for the route: one per
// pool and one per token. Sorted so callers acquire in a stable order.
func (r Route) Resources() []string {
	res := make([]string, 0, 2*len(r.Hops)+1)
	seen := make(map[string]struct{})
	for _, h := range r.Hops {
		k := "pool:" + h.Pool.Key.String()
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			res = append(res, k)
		}
	}
	for _, m := range r.Tokens() {
		res = append(res, "token:"+m)
	}
	sort.Strings(res)
	return res
}

// Overlaps reports whether two routes share any pool or token.
func (r Route) Overlaps(o Route) bool {
	mine := make(map[string]struct{})
	for _, res := range r.Resources() {
		mine[res] = struct{}{}
	}
	for _, res := range o.Resources() {
		if _, ok := mine[res]; ok {
			return true
		}
	}
	return false
}

// AggregateFee sums the fee rates of every hop.
func (r Route) AggregateFee() float64 {
	var sum float64
	for _, h := range r.Hops {
		sum += h.Pool.FeeRate
	}
	return sum
}

// Validate checks hop continuity and pool usage.
func (r Route) Validate() error {
	if len(r.Hops) == 0 {
		return fmt.Errorf("route has no hops")
	}
	used := make(map[PoolKey]struct{}, len(r.Hops))
	for i, h := range r.Hops {
		if h.Pool == nil {
			return fmt.Errorf("hop %d has no pool", i)
		}
		if !h.Pool.HasToken(h.TokenIn) || !h.Pool.HasToken(h.TokenOut) || h.TokenIn == h.TokenOut {
			return fmt.Errorf("hop %d tokens do not match pool %s", i, h.Pool.Key)
		}
		if _, dup := used[h.Pool.Key]; dup {
			return fmt.Errorf("hop %d reuses pool %s", i, h.Pool.Key)
		}
		used[h.Pool.Key] = struct{}{}
		if i > 0 && r.Hops[i-1].TokenOut != h.TokenIn {
			return fmt.Errorf("hop %d input %s does not follow previous output %s", i, h.TokenIn, r.Hops[i-1].TokenOut)
		}
	}
	return nil
}

// String renders the route as "MINT -[source:pool]-> MINT ...".
func (r Route) String() string {
	if len(r.Hops) == 0 {
		return "<empty>"
	}
	var b strings.Builder
	b.WriteString(short(r.Hops[0].TokenIn))
	for _, h := range r.Hops {
		fmt.Fprintf(&b, " -[%s]-> %s", h.Pool.Key, short(h.TokenOut))
	}
	return b.String()
}

func short(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + ".." + mint[len(mint)-4:]
}

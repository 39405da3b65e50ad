// Package routing picks the cheapest settlement path between networks.
// Route cost combines the fixed gas cost of each hop, slippage against
// the available liquidity, and an opportunity cost for settlement time.
// Paths are direct or pass through one intermediate network.
package routing

import (
	"github.com/shopspring/decimal"
)

// Network describes one settlement network's cost profile.
type Network struct {
	// GasPrice is the per-gas-unit price in the pricing currency.
	GasPrice decimal.Decimal

	// SettleSeconds is the typical settlement time in seconds.
	SettleSeconds int64
}

// Pair is an unordered pair of network names with shared liquidity.
type Pair struct {
	A, B string
}

// key normalizes the pair so lookups are direction-independent.
func (p Pair) key() Pair {
	if p.A > p.B {
		return Pair{A: p.B, B: p.A}
	}
	return p
}

// Route is a candidate settlement path.
type Route struct {
	// Path is the network sequence, source first.
	Path []string

	// Cost is the total estimated cost in the pricing currency.
	Cost decimal.Decimal

	// SettleSeconds is the summed settlement time along the path.
	SettleSeconds int64

	// Liquidity is the binding liquidity along the path.
	Liquidity decimal.Decimal
}

// Router finds settlement routes over a configured network graph.
// A Router is immutable after construction and safe for concurrent use.
type Router struct {
	networks  map[string]Network
	liquidity map[Pair]decimal.Decimal
}

// baseTransferGas is the fixed gas of a plain transfer on any hop.
var baseTransferGas = decimal.NewFromInt(21000)

// timeCostRate is the opportunity cost per second as a fraction of the
// routed amount.
var timeCostRate = decimal.RequireFromString("0.0001")

// New builds a router over the given networks and pairwise liquidity.
func New(networks map[string]Network, liquidity map[Pair]decimal.Decimal) *Router {
	normalized := make(map[Pair]decimal.Decimal, len(liquidity))
	for pair, amount := range liquidity {
		normalized[pair.key()] = amount
	}
	return &Router{networks: networks, liquidity: normalized}
}

// FindRoute returns the cheapest route from source to destination for
// the given amount, or nil when no route with liquidity exists. A
// same-network transfer is a zero-cost single-element path.
func (r *Router) FindRoute(source, destination string, amount decimal.Decimal) *Route {
	if source == destination {
		return &Route{Path: []string{source}, Cost: decimal.Zero}
	}

	best := r.directRoute(source, destination, amount)
	for intermediate := range r.networks {
		if intermediate == source || intermediate == destination {
			continue
		}
		first := r.hopCost(source, intermediate, amount)
		second := r.hopCost(intermediate, destination, amount)
		if first == nil || second == nil {
			continue
		}
		cost := first.Add(*second)
		if best == nil || cost.LessThan(best.Cost) {
			best = &Route{
				Path:          []string{source, intermediate, destination},
				Cost:          cost,
				SettleSeconds: r.pathTime(source, intermediate, destination),
				Liquidity: decimal.Min(
					r.pairLiquidity(source, intermediate),
					r.pairLiquidity(intermediate, destination),
				),
			}
		}
	}
	return best
}

func (r *Router) directRoute(source, destination string, amount decimal.Decimal) *Route {
	cost := r.hopCost(source, destination, amount)
	if cost == nil {
		return nil
	}
	return &Route{
		Path:          []string{source, destination},
		Cost:          *cost,
		SettleSeconds: r.pathTime(source, destination),
		Liquidity:     r.pairLiquidity(source, destination),
	}
}

// hopCost prices one hop, or nil when the hop is unavailable.
func (r *Router) hopCost(source, destination string, amount decimal.Decimal) *decimal.Decimal {
	src, ok := r.networks[source]
	if !ok {
		return nil
	}
	if _, ok := r.networks[destination]; !ok {
		return nil
	}
	liquidity := r.pairLiquidity(source, destination)
	if liquidity.Sign() <= 0 {
		return nil
	}

	gasCost := src.GasPrice.Mul(baseTransferGas)

	// Slippage is the amount's share of the pool depth; its cost scales
	// with the amount again, so the cost term is cubic in the amount.
	slippage := amount.Mul(amount.Div(liquidity.Mul(decimal.NewFromInt(2))))
	slippageCost := amount.Mul(slippage)

	timeCost := amount.Mul(timeCostRate).Mul(decimal.NewFromInt(src.SettleSeconds))

	total := gasCost.Add(slippageCost).Add(timeCost)
	return &total
}

func (r *Router) pairLiquidity(a, b string) decimal.Decimal {
	return r.liquidity[Pair{A: a, B: b}.key()]
}

func (r *Router) pathTime(names ...string) int64 {
	var total int64
	for _, name := range names {
		total += r.networks[name].SettleSeconds
	}
	return total
}

package executor

import (
	"sync/atomic"

	"csgo-arbiter/internal/market"
)

// Rotation hands out proxy endpoints from a shared pool with one independent
// round-robin cursor per market. A market advances its own cursor with a
// single atomic increment, so markets never skew each other's rotation and
// concurrent requests for one market still stride the pool without
// duplication.
type Rotation struct {
	endpoints []string
	cursors   map[market.Market]*atomic.Uint64
	other     *atomic.Uint64
}

// NewRotation builds a rotation over the given proxy endpoints. Cursors for
// every known market are allocated up front, so Next never writes the map
// and needs no lock.
func NewRotation(endpoints []string) *Rotation {
	cursors := make(map[market.Market]*atomic.Uint64, len(market.All()))
	for _, m := range market.All() {
		cursors[m] = &atomic.Uint64{}
	}
	return &Rotation{
		endpoints: append([]string(nil), endpoints...),
		cursors:   cursors,
		other:     &atomic.Uint64{},
	}
}

// Empty reports whether the pool has no endpoints. A nil Rotation counts as
// empty.
func (r *Rotation) Empty() bool { return r == nil || len(r.endpoints) == 0 }

// Size returns the number of endpoints in the pool.
func (r *Rotation) Size() int {
	if r == nil {
		return 0
	}
	return len(r.endpoints)
}

// Next returns the next endpoint in the market's rotation, or "" when the
// pool is empty.
func (r *Rotation) Next(m market.Market) string {
	if r.Empty() {
		return ""
	}
	cur, ok := r.cursors[m]
	if !ok {
		cur = r.other
	}
	n := cur.Add(1) - 1
	return r.endpoints[n%uint64(len(r.endpoints))]
}

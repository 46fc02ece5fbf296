package comms

import (
	"sync/atomic"

	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
	"github.com/lcx/comms/queue"
)

// DefaultMaxRoutes bounds the number of live routes (accessors plus the
// release route) per instance.
const DefaultMaxRoutes = 1024

type routeSlot struct {
	q *queue.Unbounded[Packet]
}

// routeTable maps Route indices to queues. Slot 0 is never used so the zero
// Route is always invalid. A push to a freed slot is counted and dropped.
type routeTable struct {
	slots []atomic.Pointer[routeSlot]
	hint  atomic.Uint32
}

func newRouteTable(size int) *routeTable {
	if size <= 0 {
		size = DefaultMaxRoutes
	}
	return &routeTable{slots: make([]atomic.Pointer[routeSlot], size+1)}
}

// register binds q to a free slot.
func (t *routeTable) register(q *queue.Unbounded[Packet]) (Route, error) {
	slot := &routeSlot{q: q}
	n := uint32(len(t.slots) - 1)
	start := t.hint.Load()
	for i := uint32(0); i < n; i++ {
		idx := (start+i)%n + 1
		if t.slots[idx].CompareAndSwap(nil, slot) {
			t.hint.Store(idx % n)
			return Route(idx), nil
		}
	}
	return NoRoute, ErrRouteTableFull
}

func (t *routeTable) free(r Route) {
	if r == NoRoute || int(r) >= len(t.slots) {
		return
	}
	t.slots[r].Store(nil)
}

func (t *routeTable) lookup(r Route) *routeSlot {
	if r == NoRoute || int(r) >= len(t.slots) {
		return nil
	}
	return t.slots[r].Load()
}

// push hands packets to the queue named by r and reports how many were
// accepted.
func (t *routeTable) push(r Route, packets ...Packet) int {
	slot := t.lookup(r)
	if slot == nil {
		metrics.IncrCounterWithGroup("comms.route", "dropped_packets_total", metrics.Value(len(packets)))
		log.Warn().Uint32("route", uint32(r)).Int("packets", len(packets)).Msg("push to released route dropped")
		return 0
	}
	for _, p := range packets {
		slot.q.Enqueue(p)
	}
	return len(packets)
}

// pushEach hands every packet to its own route.
func (t *routeTable) pushEach(packets []Packet) int {
	if len(packets) == 0 {
		return 0
	}
	// Bundles usually share one route; batch runs of equal routes.
	n := 0
	start := 0
	for i := 1; i <= len(packets); i++ {
		if i == len(packets) || packets[i].Route != packets[start].Route {
			n += t.push(packets[start].Route, packets[start:i]...)
			start = i
		}
	}
	return n
}

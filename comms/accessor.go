package comms

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
	"github.com/lcx/comms/queue"
)

// Accessor is an application's handle on an Instance. It batches submitted
// packets per destination, receives their completions, and catches inbound
// packets. An Accessor is meant to be driven by one goroutine; use one per
// goroutine.
type Accessor struct {
	inst  *Instance
	lane  uint32
	route Route

	accum      []*Bundle
	completion *queue.Unbounded[Packet]
	overflow   *queue.Unbounded[Packet]

	inFlight atomic.Int64
	closed   atomic.Bool
	dims     metrics.Dimension
}

// NewAccessor creates an accessor on lane, which must be in [0, LaneCount).
func (inst *Instance) NewAccessor(lane int) (*Accessor, error) {
	if lane < 0 || lane >= inst.laneCount {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidLane, lane, inst.laneCount)
	}

	a := &Accessor{
		inst:       inst,
		lane:       uint32(lane),
		accum:      make([]*Bundle, len(inst.descs)),
		completion: queue.NewUnbounded[Packet](),
		overflow:   queue.NewUnbounded[Packet](),
		dims:       metrics.Dimension{"lane": strconv.Itoa(lane)},
	}
	route, err := inst.routes.register(a.completion)
	if err != nil {
		return nil, err
	}
	a.route = route

	inst.accessorsMu.Lock()
	inst.accessors[a] = struct{}{}
	inst.accessorsMu.Unlock()
	metrics.AddGaugeWithGroup("comms.accessor", "open", 1)
	return a, nil
}

// Lane returns the accessor's lane.
func (a *Accessor) Lane() int {
	return int(a.lane)
}

// Route returns the route completions are delivered on.
func (a *Accessor) Route() Route {
	return a.route
}

// InFlight counts packets submitted and not yet reaped.
func (a *Accessor) InFlight() int64 {
	return a.inFlight.Load()
}

// Submit queues packets for transmission and returns how many were taken.
// Every destination is checked first; on error nothing is queued.
//
// Packets are batched per destination and a batch is flushed once it holds
// the configured accessor buffer size. A batch that cannot be queued
// completes at once with ResultNotScheduled. Batches for the local endpoint
// complete at once with ResultDelivered.
func (a *Accessor) Submit(packets []Packet) (int, error) {
	inst := a.inst
	inst.admission.RLock()
	defer inst.admission.RUnlock()

	if err := a.admit(); err != nil {
		return 0, err
	}
	for i := range packets {
		if d := packets[i].Destination; d < 0 || d >= len(a.accum) {
			return 0, fmt.Errorf("%w: packet %d has destination %d", ErrUnknownDestination, i, d)
		}
	}

	batch := inst.cfg.AccessorBufferSize
	for _, p := range packets {
		p.Stage = StageOutbound
		p.Route = a.route
		dst := p.Destination

		b := a.accum[dst]
		if b == nil {
			b = NewBundle(dst)
			a.accum[dst] = b
		}
		_ = b.Add(p)
		a.inFlight.Add(1)
		if b.Len() >= batch {
			a.flush(dst)
		}
	}
	metrics.IncrCounterWithDimGroup("comms.accessor", "submitted_packets_total", metrics.Value(len(packets)), a.dims)
	return len(packets), nil
}

func (a *Accessor) admit() error {
	inst := a.inst
	switch {
	case a.closed.Load():
		return ErrAccessorClosed
	case inst.shutdownRequested.Load():
		return ErrShuttingDown
	case !inst.started.Load():
		return ErrNotStarted
	}
	return nil
}

// SubmitFlush flushes every partial batch and returns the number of batches
// flushed. Shutdown flushes whatever is left, so batches are only found here
// after it was requested if the instance never started; those complete with
// ResultNotScheduled.
func (a *Accessor) SubmitFlush() (int, error) {
	inst := a.inst
	inst.admission.RLock()
	defer inst.admission.RUnlock()

	if a.closed.Load() {
		return 0, ErrAccessorClosed
	}
	return a.flushAll(inst.started.Load() && !inst.shutdownRequested.Load()), nil
}

// flushAll flushes every non-empty batch, or completes them as not scheduled
// when deliver is false. The caller holds admission.
func (a *Accessor) flushAll(deliver bool) int {
	flushed := 0
	for dst, b := range a.accum {
		if b == nil || b.Len() == 0 {
			continue
		}
		if deliver {
			a.flush(dst)
		} else {
			a.accum[dst] = nil
			a.notScheduled(b)
		}
		flushed++
	}
	return flushed
}

// flush hands the batch for dst to its endpoint.
func (a *Accessor) flush(dst int) {
	b := a.accum[dst]
	a.accum[dst] = nil
	b.Lane = a.lane
	b.StampRoute(a.route)

	ep := a.inst.endpoints[dst]
	if !ep.Deposit(b) {
		a.notScheduled(b)
		return
	}
	if ep.IsLocal() {
		b.SetResult(ResultDelivered)
		a.inst.routes.push(a.route, b.Packets()...)
		b.Release()
	}
}

func (a *Accessor) notScheduled(b *Bundle) {
	b.StampRoute(a.route)
	b.SetResult(ResultNotScheduled)
	metrics.IncrCounterWithDimGroup("comms.accessor", "not_scheduled_packets_total", metrics.Value(b.Len()), a.dims)
	log.Debug().Int("destination", b.Destination).Int("packets", b.Len()).Msg("batch not scheduled")
	a.inst.routes.push(a.route, b.Packets()...)
	b.Release()
}

// Reap moves completed packets into dst and returns how many. It never
// blocks; 0 means nothing has completed yet.
func (a *Accessor) Reap(dst []Packet) (int, error) {
	if a.closed.Load() {
		return 0, ErrAccessorClosed
	}
	n := a.completion.TryDequeueBulk(dst)
	if n > 0 {
		a.inFlight.Add(int64(-n))
		metrics.IncrCounterWithDimGroup("comms.accessor", "reaped_packets_total", metrics.Value(n), a.dims)
	}
	return n, nil
}

// Catch moves inbound packets into dst and returns how many. Packets left
// over from a bundle larger than the room in dst are kept for the next call
// and returned first.
func (a *Accessor) Catch(dst []Packet) (int, error) {
	inst := a.inst
	if a.closed.Load() {
		return 0, ErrAccessorClosed
	}
	if inst.shutdownDone.Load() {
		return 0, ErrShutdown
	}

	n := a.overflow.TryDequeueBulk(dst)
	for n < len(dst) {
		b, ok := inst.inbound.TryDequeue()
		if !ok {
			break
		}
		packets := b.Packets()
		copied := copy(dst[n:], packets)
		n += copied
		for _, p := range packets[copied:] {
			a.overflow.Enqueue(p)
		}
		b.Release()
	}
	if n > 0 {
		metrics.IncrCounterWithDimGroup("comms.accessor", "caught_packets_total", metrics.Value(n), a.dims)
	}
	return n, nil
}

// Release returns caught packets to the instance and reports how many were
// accepted.
func (a *Accessor) Release(packets []Packet) (int, error) {
	if a.closed.Load() {
		return 0, ErrAccessorClosed
	}
	if a.inst.shutdownDone.Load() {
		return 0, ErrShutdown
	}
	return a.inst.routes.pushEach(packets), nil
}

// Close frees the accessor's route. It fails with ErrInFlight while any
// submitted packet has not been reaped.
func (a *Accessor) Close() error {
	if a.closed.Load() {
		return ErrAccessorClosed
	}
	if n := a.inFlight.Load(); n > 0 {
		return fmt.Errorf("%w: %d packets", ErrInFlight, n)
	}
	if !a.closed.CompareAndSwap(false, true) {
		return ErrAccessorClosed
	}
	a.inst.accessorsMu.Lock()
	delete(a.inst.accessors, a)
	a.inst.accessorsMu.Unlock()
	a.inst.routes.free(a.route)
	for p, ok := a.overflow.TryDequeue(); ok; p, ok = a.overflow.TryDequeue() {
		// Caught but never handed out; give them back.
		a.inst.routes.push(p.Route, p)
	}
	metrics.AddGaugeWithGroup("comms.accessor", "open", -1)
	return nil
}

package comms

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/comms/codec"
	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
	"github.com/lcx/comms/queue"
)

// EndpointDesc names one process of the group. Index is its position in the
// endpoint list and doubles as the packet Destination and Source.
type EndpointDesc struct {
	Name    string
	Address string
	Index   int
	IsLocal bool
}

// BundleClient sends encoded frames to one remote endpoint.
type BundleClient interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// ClientFactory creates the client of a remote endpoint.
type ClientFactory func(desc EndpointDesc) (BundleClient, error)

// Endpoint is the sending side of one destination. Bundles for a remote
// endpoint are deposited on the outbound queue and transmitted by a writer.
// Bundles for the local endpoint are turned into inbound bundles at deposit
// time and never touch the network.
type Endpoint struct {
	desc   EndpointDesc
	source uint32
	client BundleClient

	deposit      *queue.Bounded[*Bundle]
	releaseRoute Route
	buffers      *codec.BufferPool
	frames       sync.Pool

	transmits     atomic.Int64
	shortCircuits atomic.Int64
	failures      atomic.Int64

	dims metrics.Dimension
}

func newEndpoint(desc EndpointDesc, local int, client BundleClient, deposit *queue.Bounded[*Bundle],
	releaseRoute Route, buffers *codec.BufferPool) *Endpoint {
	e := &Endpoint{
		desc:         desc,
		source:       uint32(local),
		client:       client,
		deposit:      deposit,
		releaseRoute: releaseRoute,
		buffers:      buffers,
		dims:         metrics.Dimension{"endpoint": strconv.Itoa(desc.Index)},
	}
	e.frames.New = func() any {
		return &codec.Frame{Packets: make([]codec.Packet, 0, BundleCapacity)}
	}
	return e
}

// Desc returns the endpoint descriptor.
func (e *Endpoint) Desc() EndpointDesc {
	return e.desc
}

// IsLocal reports whether the endpoint is this process.
func (e *Endpoint) IsLocal() bool {
	return e.desc.IsLocal
}

// Transmits counts bundles delivered over the network.
func (e *Endpoint) Transmits() int64 {
	return e.transmits.Load()
}

// ShortCircuits counts packets handed to the local inbound queue directly.
func (e *Endpoint) ShortCircuits() int64 {
	return e.shortCircuits.Load()
}

// Failures counts bundles whose every transmit attempt failed.
func (e *Endpoint) Failures() int64 {
	return e.failures.Load()
}

// Deposit queues b without blocking and reports whether it was accepted.
//
// For a remote endpoint b itself is queued and belongs to the writer from
// then on. For the local endpoint a copy converted to StageInbound is queued
// and b stays with the caller, who completes it as delivered.
func (e *Endpoint) Deposit(b *Bundle) bool {
	if !e.desc.IsLocal {
		if !e.deposit.TryEnqueue(b) {
			metrics.IncrCounterWithDimGroup("comms.endpoint", "deposit_rejected_total", 1, e.dims)
			return false
		}
		return true
	}

	in := NewBundle(e.desc.Index)
	in.Lane = b.Lane
	for _, p := range b.Packets() {
		_ = in.Add(p.ToInbound(int(e.source), OriginLocal, e.releaseRoute))
	}
	in.Route = e.releaseRoute
	if !e.deposit.TryEnqueue(in) {
		in.Release()
		metrics.IncrCounterWithDimGroup("comms.endpoint", "deposit_rejected_total", 1, e.dims)
		return false
	}
	e.shortCircuits.Add(int64(b.Len()))
	metrics.IncrCounterWithGroup("comms.endpoint", "short_circuit_packets_total", metrics.Value(b.Len()))
	return true
}

// Transmit encodes b into one frame and sends it, retrying up to retryCount
// times with retryDelay between attempts. The error of the last attempt is
// returned wrapped in ErrTransportFailure. Results are not stamped on b.
func (e *Endpoint) Transmit(ctx context.Context, b *Bundle, retryCount int, retryDelay time.Duration) error {
	if e.client == nil {
		return fmt.Errorf("%w: endpoint %d has no client", ErrTransportFailure, e.desc.Index)
	}

	frame := e.frames.Get().(*codec.Frame)
	frame.Lane = b.Lane
	for _, p := range b.Packets() {
		frame.Packets = append(frame.Packets, codec.Packet{Source: e.source, Tag: p.Tag, Payload: p.Payload})
	}

	buf := e.buffers.Get()
	data, err := codec.Encode(frame, *buf)
	frame.Reset()
	e.frames.Put(frame)
	if err != nil {
		e.buffers.Put(buf)
		e.failures.Add(1)
		return fmt.Errorf("%w: encode: %v", ErrTransportFailure, err)
	}
	*buf = data
	defer e.buffers.Put(buf)

	start := time.Now()
	for attempt := 0; ; attempt++ {
		err = e.client.Send(ctx, data)
		if err == nil {
			e.transmits.Add(1)
			metrics.IncrCounterWithDimGroup("comms.endpoint", "transmit_total", 1, e.dims)
			metrics.RecordStopwatchWithGroup("comms.endpoint", "transmit_seconds", start)
			return nil
		}
		if attempt >= retryCount {
			break
		}

		metrics.IncrCounterWithDimGroup("comms.endpoint", "transmit_retry_total", 1, e.dims)
		log.Debug().Int("endpoint", e.desc.Index).Int("attempt", attempt+1).Err(err).Msg("transmit failed, retrying")

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.failures.Add(1)
			return fmt.Errorf("%w: endpoint %d: %w", ErrTransportFailure, e.desc.Index, ctx.Err())
		case <-timer.C:
		}
	}

	e.failures.Add(1)
	metrics.IncrCounterWithDimGroup("comms.endpoint", "transmit_failure_total", 1, e.dims)
	log.Warn().Int("endpoint", e.desc.Index).Str("address", e.desc.Address).Int("attempts", retryCount+1).
		Err(err).Msg("transmit gave up")
	return fmt.Errorf("%w: endpoint %d after %d attempts: %w", ErrTransportFailure, e.desc.Index, retryCount+1, err)
}

func (e *Endpoint) close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

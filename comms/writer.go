package comms

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
)

// WriterState is the lifecycle position of a Writer.
type WriterState int32

const (
	WriterNotStarted WriterState = iota
	// WriterWaitingOnDependency: waiting for the receiver to come up.
	WriterWaitingOnDependency
	WriterRunning
	// WriterShuttingDown: draining the outbound queue after shutdown.
	WriterShuttingDown
	WriterStopped
)

func (s WriterState) String() string {
	switch s {
	case WriterNotStarted:
		return "not_started"
	case WriterWaitingOnDependency:
		return "waiting_on_dependency"
	case WriterRunning:
		return "running"
	case WriterShuttingDown:
		return "shutting_down"
	case WriterStopped:
		return "stopped"
	default:
		return fmt.Sprintf("writer_state(%d)", int32(s))
	}
}

// Writer moves bundles from the outbound queue to their endpoints and hands
// every packet back on its route with the transmit result.
type Writer struct {
	id    int
	inst  *Instance
	pacer *TransmitLimiter
	state atomic.Int32
	dims  metrics.Dimension
}

func newWriter(id int, inst *Instance, pacer *TransmitLimiter) *Writer {
	return &Writer{
		id:    id,
		inst:  inst,
		pacer: pacer,
		dims:  metrics.Dimension{"writer": strconv.Itoa(id)},
	}
}

// State returns the current lifecycle state.
func (w *Writer) State() WriterState {
	return WriterState(w.state.Load())
}

func (w *Writer) setState(s WriterState) {
	w.state.Store(int32(s))
}

func (w *Writer) run(ctx context.Context, running func()) {
	inst := w.inst
	defer w.setState(WriterStopped)

	w.setState(WriterWaitingOnDependency)
	select {
	case <-inst.receiver.Ready():
	case <-ctx.Done():
		return
	}

	w.setState(WriterRunning)
	running()
	log.Debug().Int("writer", w.id).Msg("writer running")

	for {
		// The flag is read before the dequeue so that an empty queue seen
		// after it means nothing more can arrive.
		stopping := inst.stopWriters.Load()
		if stopping && w.State() == WriterRunning {
			w.setState(WriterShuttingDown)
		}
		b, ok := inst.outbound.TryDequeue()
		if !ok {
			if stopping {
				break
			}
			time.Sleep(inst.cfg.IdleSleep)
			continue
		}
		w.transmit(ctx, b)
	}

	log.Debug().Int("writer", w.id).Msg("writer stopped")
}

func (w *Writer) transmit(ctx context.Context, b *Bundle) {
	inst := w.inst
	w.pacer.Take()

	result := ResultDelivered
	ep := inst.endpoints[b.Destination]
	if err := ep.Transmit(ctx, b, inst.cfg.WriterRetryCount, inst.cfg.WriterRetryDelay); err != nil {
		result = ResultTransportFailure
	}
	b.SetResult(result)

	metrics.IncrCounterWithDimGroup("comms.writer", "packets_completed_total", metrics.Value(b.Len()),
		w.dims.With("result", result.String()))
	inst.routes.pushEach(b.Packets())
	b.Release()
}

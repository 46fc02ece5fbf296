package comms

import (
	"time"

	"github.com/lcx/comms/codec"
	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
)

// reader decodes queued frames into inbound bundles. Reader 0 also drains
// the release queue, which has a single consumer.
type reader struct {
	id   int
	inst *Instance
	buf  []Packet
}

func (r *reader) run(ready func()) {
	inst := r.inst
	drainsRelease := r.id == 0
	r.buf = make([]Packet, BundleCapacity)
	ready()

	var frame codec.Frame
	for {
		raw, ok := inst.work.TryDequeue()
		if !ok {
			released := 0
			if drainsRelease {
				released = r.drainReleased()
			}
			if inst.work.Closed() && inst.work.Len() == 0 {
				break
			}
			if released == 0 {
				time.Sleep(inst.cfg.IdleSleep)
			}
			continue
		}

		if err := codec.Decode(&frame, raw.Data); err != nil {
			metrics.IncrCounterWithGroup("comms.reader", "decode_error_total", 1)
			log.Warn().Int("reader", r.id).Err(err).Msg("dropping undecodable frame")
			continue
		}
		r.deliver(&frame)
		frame.Reset()
	}

	if drainsRelease {
		r.drainReleased()
	}
	log.Debug().Int("reader", r.id).Msg("reader stopped")
}

// deliver splits frame into inbound bundles and queues them for Catch. While
// the inbound queue is full it retries; once shutdown is requested a full
// queue drops the bundle instead.
func (r *reader) deliver(frame *codec.Frame) {
	inst := r.inst
	packets := frame.Packets
	for len(packets) > 0 {
		n := min(len(packets), BundleCapacity)
		b := NewBundle(inst.local)
		b.Lane = frame.Lane
		b.Route = inst.releaseRoute
		for _, wp := range packets[:n] {
			p := Packet{Tag: wp.Tag, Payload: wp.Payload}
			_ = b.Add(p.ToInbound(int(wp.Source), OriginRemote, inst.releaseRoute))
		}
		packets = packets[n:]

		count := b.Len()
		for !inst.inbound.TryEnqueue(b) {
			if inst.shutdownRequested.Load() {
				metrics.IncrCounterWithGroup("comms.reader", "dropped_packets_total", metrics.Value(count))
				log.Warn().Int("reader", r.id).Int("packets", count).Msg("inbound queue full during shutdown, dropping packets")
				b.Release()
				b = nil
				break
			}
			metrics.IncrCounterWithGroup("comms.reader", "inbound_full_total", 1)
			time.Sleep(inst.cfg.IdleSleep)
		}
		if b != nil {
			metrics.IncrCounterWithGroup("comms.reader", "packets_delivered_total", metrics.Value(count))
		}
	}
}

func (r *reader) drainReleased() int {
	inst := r.inst
	total := 0
	for {
		n := inst.releaseQ.TryDequeueBulk(r.buf)
		if n == 0 {
			break
		}
		if inst.opts.releaseHandler != nil {
			for _, p := range r.buf[:n] {
				inst.opts.releaseHandler(p)
			}
		}
		clear(r.buf[:n])
		total += n
	}
	if total > 0 {
		metrics.IncrCounterWithGroup("comms.reader", "released_packets_total", metrics.Value(total))
	}
	return total
}

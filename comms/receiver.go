package comms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lcx/comms/codec"
	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
	"github.com/lcx/comms/queue"
)

const (
	serviceName = "comms.Comms"
	sendMethod  = "/comms.Comms/Send"
)

// frameServer is the handler type of the Comms service.
type frameServer interface {
	SendFrame(ctx context.Context, in *codec.RawFrame) (*codec.Ack, error)
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(codec.RawFrame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(frameServer).SendFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sendMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(frameServer).SendFrame(ctx, req.(*codec.RawFrame))
	}
	return interceptor(ctx, in, info, handler)
}

var commsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*frameServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Send",
			Handler:    sendHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "comms.proto",
}

type callState uint8

const (
	callCreate callState = iota
	callProcess
	callFinish
)

// call tracks one Send from arrival to reply.
type call struct {
	state callState
	frame *codec.RawFrame
	lane  uint32
	err   error
}

// Receiver is the inbound service. It accepts frames over gRPC and queues
// them, still encoded, for the reader pool. The RPC goroutine only checks
// that a frame is well formed before acking it; packets are built by the
// readers. A frame that cannot be queued is refused with
// ResourceExhausted so that the sender retries.
type Receiver struct {
	addr      string
	lis       net.Listener
	laneCount int
	server    *grpc.Server
	work      *queue.Bounded[*codec.RawFrame]
	limiter   *RecvLimiter

	ready    chan struct{}
	done     chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once
}

func newReceiver(addr string, lis net.Listener, laneCount int, workers int,
	work *queue.Bounded[*codec.RawFrame], limiter *RecvLimiter) *Receiver {
	r := &Receiver{
		addr:      addr,
		lis:       lis,
		laneCount: laneCount,
		work:      work,
		limiter:   limiter,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	if workers <= 0 {
		workers = 1
	}
	r.server = grpc.NewServer(
		grpc.NumStreamWorkers(uint32(workers)),
		grpc.MaxRecvMsgSize(maxFrameSize),
	)
	r.server.RegisterService(&commsServiceDesc, r)
	return r
}

// Start binds the listener and serves in the background. Ready is closed once
// the listener accepts connections.
func (r *Receiver) Start() error {
	if r.lis == nil {
		lis, err := net.Listen("tcp", r.addr)
		if err != nil {
			metrics.IncrCounterWithDimGroup("comms.receiver", "start_error_total", 1, metrics.Dimension{"error_type": "listen"})
			return fmt.Errorf("listen %s: %w", r.addr, err)
		}
		r.lis = lis
	}

	go func() {
		defer close(r.done)
		if err := r.server.Serve(r.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error().Err(err).Str("addr", r.lis.Addr().String()).Msg("receiver serve failed")
		}
	}()
	close(r.ready)

	log.Info().Str("addr", r.lis.Addr().String()).Msg("receiver listening")
	return nil
}

// Ready is closed once Start has bound the listener.
func (r *Receiver) Ready() <-chan struct{} {
	return r.ready
}

// Addr is the bound listen address, or nil before Start.
func (r *Receiver) Addr() net.Addr {
	if r.lis == nil {
		return nil
	}
	return r.lis.Addr()
}

// Stop refuses new calls, waits for in-flight ones and closes the reader
// work queue. Frames already queued are still decoded by the readers.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		r.server.GracefulStop()
		select {
		case <-r.ready:
			<-r.done
		default:
		}
		r.work.Close()
	})
}

// SendFrame implements the Send RPC.
func (r *Receiver) SendFrame(ctx context.Context, in *codec.RawFrame) (*codec.Ack, error) {
	c := &call{state: callCreate, frame: in}
	for c.state != callFinish {
		r.step(c)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &codec.Ack{Accepted: 1}, nil
}

func (r *Receiver) step(c *call) {
	switch c.state {
	case callCreate:
		metrics.IncrCounterWithGroup("comms.receiver", "call_total", 1)
		if r.stopping.Load() {
			c.err = status.Error(codes.Unavailable, "receiver stopping")
			c.state = callFinish
			return
		}
		c.state = callProcess

	case callProcess:
		c.state = callFinish
		lane, _, err := codec.ValidateFrame(c.frame.Data)
		if err != nil {
			metrics.IncrCounterWithDimGroup("comms.receiver", "call_rejected_total", 1, metrics.Dimension{"reason": "malformed"})
			c.err = status.Error(codes.InvalidArgument, err.Error())
			return
		}
		if int(lane) >= r.laneCount {
			metrics.IncrCounterWithDimGroup("comms.receiver", "call_rejected_total", 1, metrics.Dimension{"reason": "lane"})
			c.err = status.Errorf(codes.InvalidArgument, "lane %d out of range", lane)
			return
		}
		c.lane = lane
		if !r.limiter.Allow() {
			metrics.IncrCounterWithDimGroup("comms.receiver", "call_rejected_total", 1, metrics.Dimension{"reason": "rate"})
			c.err = status.Error(codes.ResourceExhausted, "receive rate exceeded")
			return
		}
		if !r.work.TryEnqueue(c.frame) {
			metrics.IncrCounterWithDimGroup("comms.receiver", "call_rejected_total", 1, metrics.Dimension{"reason": "queue_full"})
			c.err = status.Error(codes.ResourceExhausted, "reader queue full")
			return
		}
		metrics.IncrCounterWithGroup("comms.receiver", "frame_accepted_total", 1)
	}
}

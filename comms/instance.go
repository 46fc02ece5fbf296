package comms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/lcx/comms/codec"
	"github.com/lcx/comms/config"
	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
	"github.com/lcx/comms/queue"
)

// Option configures an Instance at construction.
type Option func(*options)

type options struct {
	cfg            *Config
	listener       net.Listener
	clientFactory  ClientFactory
	releaseHandler func(Packet)
	configManager  config.ConfigManager
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithListener serves the inbound service on lis instead of listening on the
// configured address.
func WithListener(lis net.Listener) Option {
	return func(o *options) {
		o.listener = lis
	}
}

// WithClientFactory replaces DialBundleClient for remote endpoints.
func WithClientFactory(f ClientFactory) Option {
	return func(o *options) {
		o.clientFactory = f
	}
}

// WithReleaseHandler is called, on a reader goroutine, for every released
// inbound packet. It may recycle the payload.
func WithReleaseHandler(h func(Packet)) Option {
	return func(o *options) {
		o.releaseHandler = h
	}
}

// WithConfigManager subscribes the instance to hot reloads of the "comms"
// configuration. Only the rate limits are applied while running.
func WithConfigManager(cm config.ConfigManager) Option {
	return func(o *options) {
		o.configManager = cm
	}
}

// Instance is one process's member of a communication group: its endpoints,
// queues, reader pool, inbound service and writer pool.
//
// Startup runs readers, then the receiver, then writers. Shutdown runs the
// other way round: writers drain the outbound queue, the receiver stops
// accepting, and readers drain what was accepted.
type Instance struct {
	id        xid.ID
	cfg       *Config
	opts      options
	local     int
	laneCount int
	descs     []EndpointDesc

	endpoints []*Endpoint
	outbound  *queue.Bounded[*Bundle]
	inbound   *queue.Bounded[*Bundle]
	work      *queue.Bounded[*codec.RawFrame]

	routes       *routeTable
	releaseRoute Route
	releaseQ     *queue.Unbounded[Packet]

	recvLimiter     *RecvLimiter
	transmitLimiter *TransmitLimiter
	receiver        *Receiver
	readers         []*reader
	writers         []*Writer

	// admission is held shared by Submit and exclusively while the
	// shutdown flag is raised.
	admission         sync.RWMutex
	lifecycle         sync.Mutex
	started           atomic.Bool
	shutdownRequested atomic.Bool
	shutdownDone      atomic.Bool
	stopWriters       atomic.Bool

	accessorsMu sync.Mutex
	accessors   map[*Accessor]struct{}

	startedCh   chan struct{}
	startFailed chan struct{}
	startErr    error
	startAbort  chan struct{}
	abortOnce   sync.Once
	shutdownCh  chan struct{}
	shutdownMu  sync.Mutex
	shutdownErr error

	ctx       context.Context
	cancel    context.CancelFunc
	readersWG sync.WaitGroup
	writersWG sync.WaitGroup
}

// New creates an instance for the endpoint at index local of endpoints.
// Endpoint indices and the local flag are assigned from the list order.
func New(local int, endpoints []EndpointDesc, laneCount int, opts ...Option) (*Instance, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints", ErrInvalidEndpoint)
	}
	if local < 0 || local >= len(endpoints) {
		return nil, fmt.Errorf("%w: local index %d not in [0, %d)", ErrInvalidEndpoint, local, len(endpoints))
	}
	if laneCount <= 0 {
		return nil, fmt.Errorf("%w: lane count %d", ErrInvalidLane, laneCount)
	}

	o := options{clientFactory: DialBundleClient}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		c := *cfg
		cfg = &c
	}

	descs := make([]EndpointDesc, len(endpoints))
	for i, d := range endpoints {
		d.Index = i
		d.IsLocal = i == local
		descs[i] = d
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		id:          xid.New(),
		cfg:         cfg,
		opts:        o,
		local:       local,
		laneCount:   laneCount,
		descs:       descs,
		routes:      newRouteTable(cfg.MaxRoutes),
		releaseQ:    queue.NewUnbounded[Packet](),
		accessors:   make(map[*Accessor]struct{}),
		startedCh:   make(chan struct{}),
		startFailed: make(chan struct{}),
		startAbort:  make(chan struct{}),
		shutdownCh:  make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	route, err := inst.routes.register(inst.releaseQ)
	if err != nil {
		cancel()
		return nil, err
	}
	inst.releaseRoute = route

	if o.configManager != nil {
		o.configManager.AddChangeListener(inst)
	}
	return inst, nil
}

// ID identifies the instance in logs.
func (inst *Instance) ID() string {
	return inst.id.String()
}

// LaneCount returns the number of lanes.
func (inst *Instance) LaneCount() int {
	return inst.laneCount
}

// Local returns the index of this process's endpoint.
func (inst *Instance) Local() int {
	return inst.local
}

// Endpoints returns the endpoint descriptors.
func (inst *Instance) Endpoints() []EndpointDesc {
	return append([]EndpointDesc(nil), inst.descs...)
}

// Endpoint returns the endpoint at index i once started, or nil.
func (inst *Instance) Endpoint(i int) *Endpoint {
	if !inst.started.Load() || i < 0 || i >= len(inst.endpoints) {
		return nil
	}
	return inst.endpoints[i]
}

// Writers returns the writer pool once started.
func (inst *Instance) Writers() []*Writer {
	if !inst.started.Load() {
		return nil
	}
	return inst.writers
}

// Addr is the inbound service address once started.
func (inst *Instance) Addr() net.Addr {
	if !inst.started.Load() {
		return nil
	}
	return inst.receiver.Addr()
}

// Config returns a copy of the current configuration.
func (inst *Instance) Config() Config {
	inst.lifecycle.Lock()
	defer inst.lifecycle.Unlock()
	return *inst.cfg
}

// Configure sets one string-keyed option. It is refused once started.
func (inst *Instance) Configure(key, value string) error {
	inst.lifecycle.Lock()
	defer inst.lifecycle.Unlock()
	if inst.started.Load() || inst.shutdownRequested.Load() {
		return ErrAlreadyStarted
	}
	return inst.cfg.Set(key, value)
}

// Start brings up readers, the inbound service and writers, in that order.
func (inst *Instance) Start() error {
	inst.lifecycle.Lock()
	defer inst.lifecycle.Unlock()

	if inst.shutdownRequested.Load() {
		return ErrShutdown
	}
	if inst.started.Load() {
		return ErrAlreadyStarted
	}
	select {
	case <-inst.startFailed:
		return inst.startErr
	default:
	}
	cfg := inst.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	inst.outbound = queue.NewBounded[*Bundle](cfg.WriterBufferSize)
	inst.inbound = queue.NewBounded[*Bundle](cfg.ReaderBufferSize)
	inst.work = queue.NewBounded[*codec.RawFrame](cfg.ReaderBufferSize)
	inst.recvLimiter = NewRecvLimiter(cfg.RecvRateLimit, cfg.RecvTokenBurst)
	inst.transmitLimiter = NewTransmitLimiter(cfg.TransmitRateLimit)

	buffers := codec.NewBufferPool(cfg.ArenaStartBlockDepth)
	endpoints := make([]*Endpoint, len(inst.descs))
	for i, d := range inst.descs {
		if d.IsLocal {
			endpoints[i] = newEndpoint(d, inst.local, nil, inst.inbound, inst.releaseRoute, buffers)
			continue
		}
		client, err := inst.opts.clientFactory(d)
		if err != nil {
			for _, ep := range endpoints[:i] {
				_ = ep.close()
			}
			return inst.failStart(fmt.Errorf("endpoint %d: %w", i, err))
		}
		endpoints[i] = newEndpoint(d, inst.local, client, inst.outbound, inst.releaseRoute, buffers)
	}
	inst.endpoints = endpoints

	// Readers.
	var readersReady sync.WaitGroup
	inst.readers = make([]*reader, cfg.ReaderThreadCount)
	for i := range inst.readers {
		r := &reader{id: i, inst: inst}
		inst.readers[i] = r
		readersReady.Add(1)
		inst.readersWG.Add(1)
		go func() {
			defer inst.readersWG.Done()
			r.run(readersReady.Done)
		}()
	}
	readersReady.Wait()

	// Receiver.
	inst.receiver = newReceiver(cfg.listenAddr(), inst.opts.listener, inst.laneCount,
		cfg.ReaderThreadCount, inst.work, inst.recvLimiter)
	if err := inst.receiver.Start(); err != nil {
		inst.work.Close()
		inst.readersWG.Wait()
		for _, ep := range endpoints {
			_ = ep.close()
		}
		return inst.failStart(err)
	}

	// Writers.
	var writersRunning sync.WaitGroup
	inst.writers = make([]*Writer, cfg.WriterThreadCount)
	for i := range inst.writers {
		w := newWriter(i, inst, inst.transmitLimiter)
		inst.writers[i] = w
		writersRunning.Add(1)
		inst.writersWG.Add(1)
		go func() {
			defer inst.writersWG.Done()
			w.run(inst.ctx, writersRunning.Done)
		}()
	}
	go func() {
		writersRunning.Wait()
		close(inst.startedCh)
	}()

	inst.started.Store(true)
	metrics.IncrCounterWithGroup("comms.instance", "start_total", 1)
	log.Info().Str("instance", inst.ID()).Str("process", cfg.ProcessName).Int("local", inst.local).
		Int("endpoints", len(inst.descs)).Int("lanes", inst.laneCount).
		Int("writers", cfg.WriterThreadCount).Int("readers", cfg.ReaderThreadCount).
		Str("addr", inst.receiver.Addr().String()).Msg("comms instance started")
	return nil
}

// failStart records a start failure. It is final: later Start calls return
// err and waiters on WaitForStart are released with it.
func (inst *Instance) failStart(err error) error {
	inst.startErr = err
	close(inst.startFailed)
	inst.abortStart()
	metrics.IncrCounterWithGroup("comms.instance", "start_failed_total", 1)
	log.Error().Str("instance", inst.ID()).Err(err).Msg("comms instance failed to start")
	return err
}

func (inst *Instance) abortStart() {
	inst.abortOnce.Do(func() { close(inst.startAbort) })
}

// Shutdown begins an orderly stop and returns at once; use WaitForShutdown
// to wait for it. Packets already submitted are still transmitted and
// completed. A second call returns ErrAlreadyShutdown.
func (inst *Instance) Shutdown() error {
	inst.lifecycle.Lock()
	defer inst.lifecycle.Unlock()

	// No Submit or SubmitFlush runs while admission is held exclusively, so
	// the accessors' partial batches can be flushed from here.
	inst.admission.Lock()
	already := inst.shutdownRequested.Swap(true)
	if !already {
		inst.flushAccessors()
	}
	inst.admission.Unlock()
	if already {
		return ErrAlreadyShutdown
	}

	log.Info().Str("instance", inst.ID()).Msg("comms instance shutting down")
	if !inst.started.Load() {
		inst.finishShutdown(nil)
		return nil
	}
	go inst.shutdown()
	return nil
}

// flushAccessors hands every partial batch to its endpoint, or completes it
// as not scheduled when the instance never started. Callers hold admission
// exclusively.
func (inst *Instance) flushAccessors() {
	inst.accessorsMu.Lock()
	defer inst.accessorsMu.Unlock()
	flushed := 0
	for a := range inst.accessors {
		flushed += a.flushAll(inst.started.Load())
	}
	if flushed > 0 {
		log.Debug().Str("instance", inst.ID()).Int("batches", flushed).Msg("flushed partial batches for shutdown")
	}
}

func (inst *Instance) shutdown() {
	start := time.Now()

	inst.stopWriters.Store(true)
	inst.writersWG.Wait()

	inst.receiver.Stop()
	inst.readersWG.Wait()

	var errs []error
	for _, ep := range inst.endpoints {
		if err := ep.close(); err != nil {
			errs = append(errs, fmt.Errorf("close endpoint %d: %w", ep.desc.Index, err))
		}
	}
	inst.inbound.Close()

	metrics.RecordStopwatchWithGroup("comms.instance", "shutdown_seconds", start)
	inst.finishShutdown(errors.Join(errs...))
}

func (inst *Instance) finishShutdown(err error) {
	inst.cancel()
	inst.abortStart()
	if inst.opts.configManager != nil {
		inst.opts.configManager.RemoveChangeListener(inst)
	}
	inst.shutdownMu.Lock()
	inst.shutdownErr = err
	inst.shutdownMu.Unlock()
	inst.shutdownDone.Store(true)
	close(inst.shutdownCh)
	log.Info().Str("instance", inst.ID()).Err(err).Msg("comms instance stopped")
}

// WaitForStart waits until every writer is running. A zero timeout waits
// indefinitely, a negative one only polls. It returns the start error if
// Start failed, and ErrShutdown if the instance stopped first.
func (inst *Instance) WaitForStart(timeout time.Duration) error {
	select {
	case <-inst.startFailed:
		return inst.startErr
	default:
	}
	err := wait(inst.startedCh, inst.startAbort, timeout, ErrStartTimeout)
	if errors.Is(err, ErrShutdown) {
		select {
		case <-inst.startFailed:
			return inst.startErr
		default:
		}
	}
	return err
}

// WaitForShutdown waits until shutdown has completed and returns any error
// met while closing. A zero timeout waits indefinitely, a negative one only
// polls.
func (inst *Instance) WaitForShutdown(timeout time.Duration) error {
	if err := wait(inst.shutdownCh, nil, timeout, ErrShutdownTimeout); err != nil {
		return err
	}
	inst.shutdownMu.Lock()
	defer inst.shutdownMu.Unlock()
	return inst.shutdownErr
}

// wait blocks on done. abort, if closed first, yields ErrShutdown.
func wait(done, abort <-chan struct{}, timeout time.Duration, timeoutErr error) error {
	select {
	case <-done:
		return nil
	default:
	}
	if timeout < 0 {
		return timeoutErr
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-done:
		return nil
	case <-abort:
		select {
		case <-done:
			return nil
		default:
			return ErrShutdown
		}
	case <-expired:
		return timeoutErr
	}
}

// OnConfigChanged implements config.ConfigChangeListener. Rate limits are
// applied to the running instance; other fields take effect on next start.
func (inst *Instance) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != ConfigName {
		return nil
	}
	cfg, ok := newConfig.(*Config)
	if !ok {
		return fmt.Errorf("invalid configuration type %T for comms", newConfig)
	}

	inst.lifecycle.Lock()
	defer inst.lifecycle.Unlock()
	inst.cfg.RecvRateLimit = cfg.RecvRateLimit
	inst.cfg.RecvTokenBurst = cfg.RecvTokenBurst
	inst.cfg.TransmitRateLimit = cfg.TransmitRateLimit
	if inst.started.Load() {
		inst.recvLimiter.Reload(cfg.RecvRateLimit, cfg.RecvTokenBurst)
		inst.transmitLimiter.Reload(cfg.TransmitRateLimit)
	}
	log.Info().Str("instance", inst.ID()).Int("recvRateLimit", cfg.RecvRateLimit).
		Int("transmitRateLimit", cfg.TransmitRateLimit).Msg("comms rate limits reloaded")
	return nil
}

// GetConfigName implements config.ConfigChangeListener.
func (inst *Instance) GetConfigName() string {
	return ConfigName
}

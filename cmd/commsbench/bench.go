package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lcx/comms/comms"
	"github.com/lcx/comms/config"
	"github.com/lcx/comms/discovery"
	"github.com/lcx/comms/log"
	"github.com/lcx/comms/metrics"
)

const reportInterval = 250 * time.Millisecond

type benchOptions struct {
	processName string
	self        string
	listen      string
	// listener, when set, is used instead of listening on listen.
	listener net.Listener

	peers         []string
	consulAddr    string
	consulService string

	payloadSize  int
	batch        int
	duration     time.Duration
	drainTimeout time.Duration
	metricsAddr  string

	configManager config.ConfigManager
}

type benchReport struct {
	Submitted        int64
	Delivered        int64
	NotScheduled     int64
	TransportFailure int64
	Caught           int64
	Elapsed          time.Duration
}

func (r *benchReport) completed() int64 {
	return r.Delivered + r.NotScheduled + r.TransportFailure
}

func (r *benchReport) String() string {
	rate := 0.0
	if r.Elapsed > 0 {
		rate = float64(r.Delivered) / r.Elapsed.Seconds()
	}
	return fmt.Sprintf("submitted=%d delivered=%d not_scheduled=%d transport_failure=%d caught=%d elapsed=%s rate=%.0f/s",
		r.Submitted, r.Delivered, r.NotScheduled, r.TransportFailure, r.Caught, r.Elapsed.Round(time.Millisecond), rate)
}

// reap drains completions into buf and tallies them by result.
func (r *benchReport) reap(a *comms.Accessor, buf []comms.Packet) int {
	n, err := a.Reap(buf)
	if err != nil {
		return 0
	}
	for _, p := range buf[:n] {
		switch p.Result {
		case comms.ResultDelivered:
			r.Delivered++
		case comms.ResultNotScheduled:
			r.NotScheduled++
		default:
			r.TransportFailure++
		}
	}
	return n
}

func run(ctx context.Context, o benchOptions) (*benchReport, error) {
	if o.self == "" {
		o.self = o.processName
	}
	if o.batch <= 0 || o.payloadSize < 0 {
		return nil, fmt.Errorf("packets must be positive and payload size non-negative")
	}

	cfg := comms.DefaultConfig()
	if o.configManager != nil {
		loaded, err := comms.LoadConfig(o.configManager)
		if err != nil {
			log.Warn().Err(err).Msg("comms config not loaded, using defaults")
		} else {
			cfg = loaded
		}
	}
	cfg.ProcessName = o.processName

	lis := o.listener
	if lis == nil {
		var err error
		if lis, err = net.Listen("tcp", o.listen); err != nil {
			return nil, fmt.Errorf("listen %s: %w", o.listen, err)
		}
	}

	descs, local, unregister, err := resolveEndpoints(ctx, o, lis.Addr().String())
	if err != nil {
		_ = lis.Close()
		return nil, err
	}
	defer unregister()

	instOpts := []comms.Option{comms.WithConfig(cfg), comms.WithListener(lis)}
	if o.configManager != nil {
		instOpts = append(instOpts, comms.WithConfigManager(o.configManager))
	}
	inst, err := comms.New(local, descs, 1, instOpts...)
	if err != nil {
		_ = lis.Close()
		return nil, err
	}
	if err := inst.Start(); err != nil {
		_ = lis.Close()
		return nil, err
	}
	if err := inst.WaitForStart(10 * time.Second); err != nil {
		_ = inst.Shutdown()
		return nil, errors.Join(err, inst.WaitForShutdown(o.drainTimeout))
	}

	sender, err := inst.NewAccessor(0)
	if err != nil {
		_ = inst.Shutdown()
		return nil, err
	}
	catcher, err := inst.NewAccessor(0)
	if err != nil {
		_ = inst.Shutdown()
		return nil, err
	}
	log.Info().Str("instance", inst.ID()).Str("self", o.self).Int("endpoints", len(descs)).
		Str("addr", lis.Addr().String()).Dur("duration", o.duration).Msg("bench started")

	report := &benchReport{}
	var caught atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		return catchLoop(catcher, cfg.IdleSleep, &caught)
	})
	if o.metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(runCtx, o.metricsAddr)
		})
	}
	g.Go(func() error {
		defer cancel()
		err := submitLoop(runCtx, sender, len(descs), o, report)
		if serr := inst.Shutdown(); serr != nil && !errors.Is(serr, comms.ErrAlreadyShutdown) {
			err = errors.Join(err, serr)
		}
		return errors.Join(err, inst.WaitForShutdown(o.drainTimeout))
	})

	err = g.Wait()
	report.Caught = caught.Load()
	_ = catcher.Close()
	log.Info().Int64("submitted", report.Submitted).Int64("delivered", report.Delivered).
		Int64("caught", report.Caught).Err(err).Msg("bench finished")
	return report, err
}

// submitLoop submits to every endpoint in turn until the duration elapses or
// ctx is done, then flushes and reaps until nothing is in flight.
func submitLoop(ctx context.Context, a *comms.Accessor, endpoints int, o benchOptions, r *benchReport) error {
	payload := make([]byte, o.payloadSize)
	packets := make([]comms.Packet, o.batch)
	done := make([]comms.Packet, comms.BundleCapacity)

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.duration)
	defer deadline.Stop()

	start := time.Now()
	lastTick, lastCount := start, int64(0)
	dst := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline.C:
			break loop
		case now := <-ticker.C:
			rate := float64(r.Delivered-lastCount) / now.Sub(lastTick).Seconds()
			log.Info().Int64("submitted", r.Submitted).Int64("delivered", r.Delivered).
				Int64("inFlight", a.InFlight()).Int64("rate", int64(rate)).Msg("progress")
			lastTick, lastCount = now, r.Delivered
		default:
		}

		for i := range packets {
			packets[i] = comms.NewPacket(dst, uint64(r.Submitted)+uint64(i), payload)
			dst = (dst + 1) % endpoints
		}
		n, err := a.Submit(packets)
		if err != nil {
			return err
		}
		r.Submitted += int64(n)
		r.reap(a, done)
	}

	if _, err := a.SubmitFlush(); err != nil {
		return err
	}
	drain := time.NewTimer(o.drainTimeout)
	defer drain.Stop()
	for a.InFlight() > 0 {
		if r.reap(a, done) > 0 {
			continue
		}
		select {
		case <-drain.C:
			return fmt.Errorf("%d packets still in flight after %s", a.InFlight(), o.drainTimeout)
		case <-time.After(time.Millisecond):
		}
	}
	r.Elapsed = time.Since(start)

	if r.completed() != r.Submitted {
		return fmt.Errorf("submitted %d packets but %d completed", r.Submitted, r.completed())
	}
	return a.Close()
}

func catchLoop(a *comms.Accessor, idle time.Duration, caught *atomic.Int64) error {
	buf := make([]comms.Packet, comms.BundleCapacity)
	for {
		n, err := a.Catch(buf)
		if errors.Is(err, comms.ErrShutdown) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(idle)
			continue
		}
		caught.Add(int64(n))
		if _, err := a.Release(buf[:n]); err != nil && !errors.Is(err, comms.ErrShutdown) {
			return err
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// resolveEndpoints builds the group from consul, the peer list, or this
// process alone, in that order of preference. The returned func undoes any
// registration.
func resolveEndpoints(ctx context.Context, o benchOptions, addr string) ([]comms.EndpointDesc, int, func(), error) {
	switch {
	case o.consulAddr != "":
		r, err := discovery.NewConsulResolver(o.consulAddr, o.consulService, "")
		if err != nil {
			return nil, -1, nil, err
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, -1, nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, -1, nil, fmt.Errorf("listen port %q: %w", portStr, err)
		}
		if err := r.Register(ctx, o.self, host, port); err != nil {
			return nil, -1, nil, err
		}
		unregister := func() {
			if err := r.Deregister(o.self); err != nil {
				log.Warn().Err(err).Str("id", o.self).Msg("consul deregister failed")
			}
		}
		descs, local, err := r.Resolve(ctx, o.self)
		if err != nil {
			unregister()
			return nil, -1, nil, err
		}
		return descs, local, unregister, nil

	case len(o.peers) > 0:
		descs, err := parsePeers(o.peers)
		if err != nil {
			return nil, -1, nil, err
		}
		local := slices.IndexFunc(descs, func(d comms.EndpointDesc) bool { return d.Name == o.self })
		if local < 0 {
			return nil, -1, nil, fmt.Errorf("%w: %q is not in the peer list", comms.ErrInvalidEndpoint, o.self)
		}
		return descs, local, func() {}, nil

	default:
		return []comms.EndpointDesc{{Name: o.self, Address: addr}}, 0, func() {}, nil
	}
}

// parsePeers reads name=address pairs; the list order gives the indices.
func parsePeers(peers []string) ([]comms.EndpointDesc, error) {
	descs := make([]comms.EndpointDesc, 0, len(peers))
	seen := make(map[string]bool, len(peers))
	for _, p := range peers {
		name, addr, ok := strings.Cut(p, "=")
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("%w: peer %q is not name=address", comms.ErrInvalidEndpoint, p)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate peer %q", comms.ErrInvalidEndpoint, name)
		}
		seen[name] = true
		descs = append(descs, comms.EndpointDesc{Name: name, Address: addr, Index: len(descs)})
	}
	return descs, nil
}

package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Router defaults.
const (
	defaultRouterWorkers = 1
	defaultRouterQueue   = 64
)

// pushFunc performs the twin push for one change.
type pushFunc func(ctx context.Context, includeEvent bool) error

// routes maps a watched point to whether its change also emits an event.
var routes = map[string]bool{
	PointDeviceError:    true,
	PointProductionRate: false,
}

// changeJob is one queued change notification.
type changeJob struct {
	point        string
	includeEvent bool
}

// ChangeRouterConfig configures a ChangeRouter.
type ChangeRouterConfig struct {
	// Workers is the number of concurrent pushes. One worker serializes
	// pushes; more allow them to race. Default: 1.
	Workers int

	// QueueSize bounds pending changes. Default: 64.
	QueueSize int

	Metrics *Metrics // optional
	Logger  Logger   // optional
}

// ChangeRouter turns subscription notifications into twin pushes.
//
// OnChange never blocks: a change that does not fit in the queue is dropped
// and counted.
type ChangeRouter struct {
	push    pushFunc
	jobs    chan changeJob
	workers int
	metrics *Metrics
	logger  Logger

	wg       sync.WaitGroup
	started  bool
	startMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewChangeRouter creates a router that pushes through twin.
func NewChangeRouter(twin *TwinSynchronizer, cfg ChangeRouterConfig) (*ChangeRouter, error) {
	if twin == nil {
		return nil, fmt.Errorf("%w: twin synchronizer is required", ErrConfig)
	}
	return newChangeRouter(twin.PushReportedState, cfg), nil
}

func newChangeRouter(push pushFunc, cfg ChangeRouterConfig) *ChangeRouter {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultRouterWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultRouterQueue
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	return &ChangeRouter{
		push:    push,
		jobs:    make(chan changeJob, cfg.QueueSize),
		workers: cfg.Workers,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}
}

// Watch stages the routed points of device on sub.
func (r *ChangeRouter) Watch(sub Subscription, device string) {
	for _, point := range []string{PointDeviceError, PointProductionRate} {
		sub.Add(pointID(device, point), r.OnChange)
	}
}

// OnChange enqueues the push for a changed point. Unrouted points are
// ignored.
func (r *ChangeRouter) OnChange(point string, value any) {
	name := point
	if i := strings.LastIndex(point, "/"); i >= 0 {
		name = point[i+1:]
	}
	includeEvent, ok := routes[name]
	if !ok {
		r.logDebug("change on unrouted point ignored", "point", point)
		return
	}

	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.jobs <- changeJob{point: point, includeEvent: includeEvent}:
		r.logDebug("change queued", "point", point, "value", value)
	default:
		r.metrics.changesDropped.Add(1)
		r.logWarn("change queue full, change dropped", "point", point)
	}
}

// Run starts the workers and blocks until ctx is cancelled or Stop is
// called. In-flight pushes complete before Run returns; queued ones are
// discarded.
func (r *ChangeRouter) Run(ctx context.Context) error {
	r.startMu.Lock()
	if r.started {
		r.startMu.Unlock()
		return fmt.Errorf("%w: router already running", ErrConfig)
	}
	r.started = true
	r.startMu.Unlock()

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}

	select {
	case <-ctx.Done():
	case <-r.done:
	}
	r.Stop()
	r.wg.Wait()
	return nil
}

// Stop makes OnChange drop further changes and tells the workers to exit.
// Safe to call multiple times.
func (r *ChangeRouter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// Pending returns the number of queued changes.
func (r *ChangeRouter) Pending() int {
	return len(r.jobs)
}

func (r *ChangeRouter) worker(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case job := <-r.jobs:
			r.handle(ctx, job)
		}
	}
}

func (r *ChangeRouter) handle(ctx context.Context, job changeJob) {
	r.metrics.changesRouted.Add(1)
	if err := r.push(ctx, job.includeEvent); err != nil {
		r.logWarn("twin push failed",
			"point", job.point,
			"error", err,
			"policy", PolicyFor(err).String())
	}
}

func (r *ChangeRouter) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

func (r *ChangeRouter) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

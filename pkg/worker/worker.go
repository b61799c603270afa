package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/metric"
)

type contextKey struct{}

// FromContext returns the Worker executing the task that owns ctx, or nil.
func FromContext(ctx context.Context) *Worker {
	if ctx == nil {
		return nil
	}
	w, _ := ctx.Value(contextKey{}).(*Worker)
	return w
}

// WithWorker returns a copy of ctx marked as running on w.
func WithWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// Worker is a serial task queue: one goroutine drains it, tasks run strictly in
// submission order. The queue is unbounded so Post never blocks.
type Worker struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	queue    []*Task
	started  bool
	stopping bool
	stopped  bool
	wake     chan struct{}
	exited   chan struct{}

	listenerMu sync.Mutex
	listeners  map[uint64]func()
	nextID     uint64

	// Statistics (atomic)
	posted    int64
	processed int64
	failed    int64
	canceled  int64

	metrics         *Metrics
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	posted         prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	canceled       prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker
type Option func(*Worker)

// WithMetricsRegistry configures the worker to register metrics with the framework's registry
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(w *Worker) {
		w.metricsRegistry = registry
		w.metricsPrefix = prefix
	}
}

// WithLogger sets the logger used by the worker
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a worker. Tasks posted before Start wait in the queue.
func NewWorker(name string, opts ...Option) *Worker {
	w := &Worker{
		name:      name,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
		exited:    make(chan struct{}),
		listeners: make(map[uint64]func()),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", name)

	if w.metricsRegistry != nil && w.metricsPrefix != "" {
		w.initializeMetrics()
	}

	return w
}

func (w *Worker) initializeMetrics() {
	prefix := w.metricsPrefix

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Current worker queue depth",
	})
	posted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_posted_total",
		Help: "Total tasks posted",
	})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_processed_total",
		Help: "Total tasks executed",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total tasks that returned an error",
	})
	canceled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_canceled_total",
		Help: "Total tasks canceled before or during execution",
	})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_task_duration_seconds",
		Help:    "Time spent executing tasks",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"status"})

	serviceName := "worker_" + w.name
	register := []error{
		w.metricsRegistry.RegisterGauge(serviceName, prefix+"_queue_depth", queueDepth),
		w.metricsRegistry.RegisterCounter(serviceName, prefix+"_posted_total", posted),
		w.metricsRegistry.RegisterCounter(serviceName, prefix+"_processed_total", processed),
		w.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", failed),
		w.metricsRegistry.RegisterCounter(serviceName, prefix+"_canceled_total", canceled),
		w.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_task_duration_seconds", processingTime),
	}
	if err := errors.Join(register...); err != nil {
		w.logger.Warn("worker metrics registration failed", "error", err)
		return
	}

	w.metrics = &Metrics{
		queueDepth:     queueDepth,
		posted:         posted,
		processed:      processed,
		failed:         failed,
		canceled:       canceled,
		processingTime: processingTime,
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return w.name
}

// Start launches the draining goroutine. ctx bounds the worker lifetime: once it is
// done, queued tasks fail with ErrWorkerStopped.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || w.stopping {
		return errors.ErrWorkerStopped
	}
	if w.started {
		return ErrWorkerAlreadyStarted
	}
	w.started = true

	go w.loop(WithWorker(ctx, w))
	w.logger.Debug("worker started")
	return nil
}

// Running reports whether the worker accepts and executes tasks
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopping && !w.stopped
}

// Post enqueues fn and returns its task. Posting to a stopped worker returns a task
// already failed with ErrWorkerStopped.
func (w *Worker) Post(fn func(ctx context.Context) error) *Task {
	if fn == nil {
		return Failed(ErrNilTask)
	}
	return w.PostValue(func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
}

// PostValue enqueues fn; the task result carries its value.
func (w *Worker) PostValue(fn Func) *Task {
	if fn == nil {
		return Failed(ErrNilTask)
	}

	w.mu.Lock()
	if w.stopping || w.stopped {
		w.mu.Unlock()
		return Failed(errors.Wrap(errors.ErrWorkerStopped, "Worker", "Post", "enqueue on "+w.name))
	}
	t := newTask(fn)
	w.queue = append(w.queue, t)
	depth := len(w.queue)
	w.mu.Unlock()

	atomic.AddInt64(&w.posted, 1)
	if w.metrics != nil {
		w.metrics.posted.Inc()
		w.metrics.queueDepth.Set(float64(depth))
	}

	w.signal()
	return t
}

// PostSync runs fn on the worker and waits for it. When ctx already belongs to a task
// of this worker, fn runs in place instead of being queued behind itself.
func (w *Worker) PostSync(ctx context.Context, fn func(ctx context.Context) error) error {
	if FromContext(ctx) == w {
		_, err := safeCall(ctx, func(ctx context.Context) (any, error) { return nil, fn(ctx) })
		return err
	}

	t := w.Post(fn)
	if err := t.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			t.Cancel()
		}
		return err
	}
	return nil
}

// PostOrRun runs fn in place when ctx belongs to this worker and returns an already
// resolved task; otherwise it posts fn.
func (w *Worker) PostOrRun(ctx context.Context, fn Func) *Task {
	if FromContext(ctx) == w {
		value, err := safeCall(ctx, fn)
		if err != nil {
			return Failed(err)
		}
		return Completed(value)
	}
	return w.PostValue(fn)
}

// OnStop registers fn to run when Stop begins, before the queue drains. The returned
// function unregisters it.
func (w *Worker) OnStop(fn func()) func() {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()

	id := w.nextID
	w.nextID++
	w.listeners[id] = fn

	return func() {
		w.listenerMu.Lock()
		defer w.listenerMu.Unlock()
		delete(w.listeners, id)
	}
}

// Stop refuses new tasks, notifies OnStop listeners, drains queued tasks and waits up
// to timeout for the draining goroutine to exit.
func (w *Worker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	alreadyStopping := w.stopping
	w.stopping = true
	started := w.started
	w.mu.Unlock()

	if !alreadyStopping {
		w.notifyStop()
	}

	if !started {
		w.mu.Lock()
		pending := w.queue
		w.queue = nil
		w.stopped = true
		w.mu.Unlock()
		w.failAll(pending)
		return nil
	}

	w.signal()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.exited:
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		w.logger.Debug("worker stopped")
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current worker statistics
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	depth := len(w.queue)
	w.mu.Unlock()

	return Stats{
		Name:       w.name,
		QueueDepth: depth,
		Posted:     atomic.LoadInt64(&w.posted),
		Processed:  atomic.LoadInt64(&w.processed),
		Failed:     atomic.LoadInt64(&w.failed),
		Canceled:   atomic.LoadInt64(&w.canceled),
	}
}

// Stats represents worker statistics
type Stats struct {
	Name       string `json:"name"`
	QueueDepth int    `json:"queue_depth"`
	Posted     int64  `json:"posted"`
	Processed  int64  `json:"processed"`
	Failed     int64  `json:"failed"`
	Canceled   int64  `json:"canceled"`
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) notifyStop() {
	w.listenerMu.Lock()
	fns := make([]func(), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.listeners = make(map[uint64]func())
	w.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// next pops the head of the queue, waiting for work. It returns nil once the worker
// is stopping and the queue is empty, or ctx is done.
func (w *Worker) next(ctx context.Context) *Task {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			t := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			depth := len(w.queue)
			w.mu.Unlock()
			if w.metrics != nil {
				w.metrics.queueDepth.Set(float64(depth))
			}
			return t
		}
		stopping := w.stopping
		w.mu.Unlock()

		if stopping {
			return nil
		}

		select {
		case <-w.wake:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.exited)

	for {
		if ctx.Err() != nil {
			w.abandon()
			return
		}

		t := w.next(ctx)
		if t == nil {
			if ctx.Err() != nil {
				w.abandon()
			}
			return
		}

		w.execute(ctx, t)
	}
}

func (w *Worker) execute(ctx context.Context, t *Task) {
	start := time.Now()
	if !t.run(ctx) {
		atomic.AddInt64(&w.canceled, 1)
		if w.metrics != nil {
			w.metrics.canceled.Inc()
		}
		return
	}
	duration := time.Since(start)

	err := t.Err()
	atomic.AddInt64(&w.processed, 1)
	if err != nil {
		atomic.AddInt64(&w.failed, 1)
	}
	if t.State() == Canceled {
		atomic.AddInt64(&w.canceled, 1)
	}

	if w.metrics != nil {
		w.metrics.processed.Inc()
		status := "success"
		if err != nil {
			w.metrics.failed.Inc()
			status = "error"
		}
		if t.State() == Canceled {
			w.metrics.canceled.Inc()
		}
		w.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// abandon fails everything still queued after the worker context ended.
func (w *Worker) abandon() {
	w.mu.Lock()
	pending := w.queue
	w.queue = nil
	w.stopping = true
	w.mu.Unlock()
	w.failAll(pending)
}

func (w *Worker) failAll(pending []*Task) {
	for _, t := range pending {
		if t == nil {
			continue
		}
		t.fail(errors.ErrWorkerStopped)
		atomic.AddInt64(&w.canceled, 1)
	}
	if len(pending) > 0 {
		w.logger.Debug("worker dropped pending tasks", "count", len(pending))
	}
}

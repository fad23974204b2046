package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"rfqScope/internal/metrics"
)

// ErrInvalidPayload is returned by casters for responses that fail validation.
var ErrInvalidPayload = errors.New("invalid payload")

// Stages of a task run.
const (
	StageFetch  = "fetch"
	StageCast   = "cast"
	StageHandle = "handle"
)

// Request describes the remote source a task polls.
type Request struct {
	URL string
}

// Task is one independently polled source. Fetch performs the request, Cast
// validates the raw response and Handle stores the cast value.
type Task[T any] struct {
	Request Request
	Fetch   func(ctx context.Context, req Request) ([]byte, error)
	Cast    func(raw []byte) (T, error)
	Handle  func(ctx context.Context, req Request, value T) error
}

// TaskError reports the stage at which a task run failed.
type TaskError struct {
	Stage string
	URL   string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Poller runs a set of tasks on a fixed interval. Each tick launches every
// task on its own goroutine and does not wait for them.
type Poller[T any] struct {
	interval    time.Duration
	taskTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	inflight conc.WaitGroup
}

// Option configures a Poller.
type Option func(*options)

type options struct {
	taskTimeout time.Duration
	metrics     *metrics.Metrics
}

// WithTaskTimeout bounds a single task run. Expiry counts as a fetch failure.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *options) {
		o.taskTimeout = d
	}
}

// WithMetrics records task outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New creates a stopped Poller.
func New[T any](interval time.Duration, logger *zap.Logger, opts ...Option) (*Poller[T], error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Poller[T]{
		interval:    interval,
		taskTimeout: o.taskTimeout,
		logger:      logger,
		metrics:     o.metrics,
	}, nil
}

// Start replaces any running schedule with tasks and fires the first tick
// immediately.
func (p *Poller[T]) Start(tasks []Task[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	scheduled := make([]Task[T], len(tasks))
	copy(scheduled, tasks)

	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop = stop
	p.done = done
	go p.loop(scheduled, stop, done)

	p.logger.Info("polling started", zap.Int("tasks", len(scheduled)), zap.Duration("interval", p.interval))
}

// Stop cancels the schedule. Runs already in flight finish and may still
// write their results. Stop is safe to call repeatedly.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopLocked() {
		p.logger.Info("polling stopped")
	}
}

// Running reports whether a schedule is active.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Wait blocks until in-flight task runs finish. Call it after Stop.
func (p *Poller[T]) Wait() {
	p.inflight.Wait()
}

// Run executes a task once and returns the cast value. The tick and the
// read path share it so both write identical results.
func (p *Poller[T]) Run(ctx context.Context, task Task[T]) (T, error) {
	var zero T
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	raw, err := task.Fetch(ctx, task.Request)
	if err != nil {
		return zero, &TaskError{Stage: StageFetch, URL: task.Request.URL, Err: err}
	}
	value, err := task.Cast(raw)
	if err != nil {
		if !errors.Is(err, ErrInvalidPayload) {
			err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return zero, &TaskError{Stage: StageCast, URL: task.Request.URL, Err: err}
	}
	if task.Handle != nil {
		if err := task.Handle(ctx, task.Request, value); err != nil {
			return zero, &TaskError{Stage: StageHandle, URL: task.Request.URL, Err: err}
		}
	}
	return value, nil
}

func (p *Poller[T]) stopLocked() bool {
	if p.stop == nil {
		return false
	}
	close(p.stop)
	<-p.done
	p.stop = nil
	p.done = nil
	return true
}

func (p *Poller[T]) loop(tasks []Task[T], stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	p.tick(tasks)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.tick(tasks)
		}
	}
}

func (p *Poller[T]) tick(tasks []Task[T]) {
	for _, task := range tasks {
		task := task
		p.inflight.Go(func() {
			p.runGuarded(task)
		})
	}
}

func (p *Poller[T]) runGuarded(task Task[T]) {
	var catcher panics.Catcher
	catcher.Try(func() {
		_, err := p.Run(context.Background(), task)
		p.report(task, err)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		p.metrics.PollResult(metrics.PollPanic)
		p.logger.Error("poll task panicked",
			zap.String("url", task.Request.URL),
			zap.Error(recovered.AsError()),
		)
	}
}

func (p *Poller[T]) report(task Task[T], err error) {
	if err == nil {
		p.metrics.PollResult(metrics.PollOK)
		return
	}

	outcome := metrics.PollFetchFailed
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		switch taskErr.Stage {
		case StageCast:
			outcome = metrics.PollCastFailed
		case StageHandle:
			outcome = metrics.PollHandleFail
		}
	}
	p.metrics.PollResult(outcome)
	p.logger.Warn("poll task failed",
		zap.String("url", task.Request.URL),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
}

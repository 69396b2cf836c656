package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// ErrShutdownTimeout is returned when workers do not exit in time.
var ErrShutdownTimeout = errors.New("async processor: workers did not stop before timeout")

// AsyncTask is a unit of work submitted to an AsyncProcessor.
type AsyncTask struct {
	PlotID string
	Run    func(ctx context.Context) (any, error)
}

// AsyncResult reports a finished AsyncTask.
type AsyncResult struct {
	PlotID      string
	Value       any
	Err         error
	Worker      string
	Elapsed     time.Duration
	CompletedAt time.Time
}

// AsyncProcessor runs submitted tasks on background workers and queues
// their results for retrieval.
type AsyncProcessor struct {
	ctx   context.Context
	clock timeutil.Clock
	queue chan *AsyncTask

	mu      sync.Mutex
	running bool
	workers int
	wg      sync.WaitGroup
	results []AsyncResult
	ready   chan struct{}
}

// NewAsyncProcessor returns a stopped processor whose submission queue
// holds up to queueSize pending tasks.
func NewAsyncProcessor(ctx context.Context, queueSize int, clock timeutil.Clock) *AsyncProcessor {
	if queueSize < 1 {
		queueSize = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &AsyncProcessor{
		ctx:   ctx,
		clock: clock,
		queue: make(chan *AsyncTask, queueSize),
		ready: make(chan struct{}, 1),
	}
}

// Start launches n workers. Calling Start on a running processor adds
// workers.
func (a *AsyncProcessor) Start(n int) {
	if n < 1 {
		n = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("plot-worker-%d", a.workers)
		a.workers++
		a.wg.Add(1)
		go a.loop(name)
	}
	opsf("started %d async workers", n)
}

// Submit enqueues task without blocking. It returns false when the
// processor is not running or the queue is full.
func (a *AsyncProcessor) Submit(task AsyncTask) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	select {
	case a.queue <- &task:
		diagf("submitted plot %s", task.PlotID)
		return true
	default:
		return false
	}
}

// Get returns the next finished result, waiting up to timeout.
func (a *AsyncProcessor) Get(timeout time.Duration) (AsyncResult, bool) {
	t := a.clock.NewTimer(timeout)
	defer t.Stop()
	for {
		if r, ok := a.pop(); ok {
			return r, true
		}
		select {
		case <-a.ready:
		case <-t.C():
			return a.pop()
		}
	}
}

// Drain removes and returns every result that has finished so far.
func (a *AsyncProcessor) Drain() []AsyncResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.results
	a.results = nil
	return out
}

func (a *AsyncProcessor) pop() (AsyncResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.results) == 0 {
		return AsyncResult{}, false
	}
	r := a.results[0]
	a.results = a.results[1:]
	if len(a.results) > 0 {
		a.signal()
	}
	return r, true
}

// signal must be called with mu held.
func (a *AsyncProcessor) signal() {
	select {
	case a.ready <- struct{}{}:
	default:
	}
}

// Shutdown stops accepting tasks, sends one stop sentinel per worker and
// waits up to timeout for them to exit. Tasks queued ahead of the
// sentinels still run.
func (a *AsyncProcessor) Shutdown(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	n := a.workers
	a.workers = 0
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			a.queue <- nil
		}
		a.wg.Wait()
		close(done)
	}()

	t := a.clock.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		opsf("stopped %d async workers", n)
		return nil
	case <-t.C():
		return ErrShutdownTimeout
	}
}

func (a *AsyncProcessor) loop(name string) {
	defer a.wg.Done()
	diagf("worker %s started", name)
	for task := range a.queue {
		if task == nil {
			break
		}
		a.push(a.execute(name, task))
	}
	diagf("worker %s stopped", name)
}

func (a *AsyncProcessor) execute(name string, task *AsyncTask) (r AsyncResult) {
	start := a.clock.Now()
	r = AsyncResult{PlotID: task.PlotID, Worker: name}
	defer func() {
		if rec := recover(); rec != nil {
			err := procerr.New(procerr.KindWorkerTask, "async task", "panic: %v", rec)
			err.PlotID = task.PlotID
			r.Err = err
			r.Value = nil
		}
		r.CompletedAt = a.clock.Now()
		r.Elapsed = r.CompletedAt.Sub(start)
		if r.Err != nil {
			opsf("worker %s failed plot %s: %v", name, task.PlotID, r.Err)
		}
	}()
	v, err := task.Run(a.ctx)
	if err != nil {
		err = procerr.WithUnit(procerr.Wrap(procerr.KindWorkerTask, "async task", err), task.PlotID, "")
	}
	r.Value, r.Err = v, err
	return r
}

func (a *AsyncProcessor) push(r AsyncResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
	a.signal()
}

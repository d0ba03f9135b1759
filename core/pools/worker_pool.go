package pools

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Error definitions
var (
	ErrPoolClosed = errors.New("pools: worker pool is shut down")
	ErrQueueFull  = errors.New("pools: task queue is full")
	ErrNilTask    = errors.New("pools: nil task")
	ErrNoWorkers  = errors.New("pools: worker count must be positive")
)

// DefaultQueueSize is the task queue depth used when none is configured.
const DefaultQueueSize = 256

// Task represents a unit of work
type Task func()

// WorkerPool runs tasks on a fixed set of long-lived goroutines fed from a
// single FIFO queue. Tasks are taken in submission order by whichever worker
// is idle.
type WorkerPool struct {
	numWorkers int
	tasks      chan Task
	group      errgroup.Group
	logger     zerolog.Logger
	init       func(id int) error

	mu     sync.RWMutex
	closed bool

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		panics         atomic.Uint64
	}
}

// WorkerPoolOption configures a WorkerPool.
type WorkerPoolOption func(*WorkerPool)

// WithQueueSize sets the task queue depth.
func WithQueueSize(n int) WorkerPoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.tasks = make(chan Task, n)
		}
	}
}

// WithLogger sets the logger used for worker lifecycle and task panics.
func WithLogger(logger zerolog.Logger) WorkerPoolOption {
	return func(p *WorkerPool) {
		p.logger = logger
	}
}

// WithWorkerInit registers a hook run by every worker before it takes its
// first task.
func WithWorkerInit(fn func(id int) error) WorkerPoolOption {
	return func(p *WorkerPool) {
		p.init = fn
	}
}

// NewWorkerPool starts numWorkers workers. If any worker's init hook fails,
// the workers already started are stopped and joined and the error is
// returned.
func NewWorkerPool(numWorkers int, opts ...WorkerPoolOption) (*WorkerPool, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	if pool.tasks == nil {
		pool.tasks = make(chan Task, DefaultQueueSize)
	}

	ready := make(chan error, numWorkers)
	for i := 0; i < numWorkers; i++ {
		id := i
		pool.group.Go(func() error {
			return pool.run(id, ready)
		})
	}

	var initErr error
	for i := 0; i < numWorkers; i++ {
		if err := <-ready; err != nil && initErr == nil {
			initErr = err
		}
	}
	if initErr != nil {
		pool.Shutdown()
		return nil, initErr
	}

	pool.logger.Debug().Int("workers", numWorkers).Int("queue", cap(pool.tasks)).Msg("worker pool started")
	return pool, nil
}

// run is the main loop for a worker goroutine
func (p *WorkerPool) run(id int, ready chan<- error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if p.init != nil {
		if err := p.init(id); err != nil {
			err = fmt.Errorf("worker %d init: %w", id, err)
			ready <- err
			return err
		}
	}
	ready <- nil

	for task := range p.tasks {
		p.execute(id, task)
	}
	return nil
}

func (p *WorkerPool) execute(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			p.logger.Error().Int("worker", id).Interface("panic", r).Msg("task panicked")
		}
		p.stats.tasksCompleted.Add(1)
	}()
	task()
}

// Post enqueues task, blocking while the queue is full.
func (p *WorkerPool) Post(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.stats.tasksSubmitted.Add(1)
	p.tasks <- task
	return nil
}

// TryPost enqueues task without blocking.
func (p *WorkerPool) TryPost(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.stats.tasksSubmitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks, lets the workers drain the queue and
// waits for all of them to exit. It is safe to call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	_ = p.group.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	var pending uint64
	if submitted > completed {
		pending = submitted - completed
	}
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksCompleted: completed,
		TasksPending:   pending,
		Panics:         p.stats.panics.Load(),
		QueueDepth:     len(p.tasks),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksPending   uint64 `json:"tasks_pending"`
	Panics         uint64 `json:"panics"`
	QueueDepth     int    `json:"queue_depth"`
}

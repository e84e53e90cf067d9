// Package worker provides the fixed-size pool that runs broadcast fan-out
// tasks off the ingest and transport callbacks, so those callbacks never
// block on delivery work.
package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of asynchronous work.
type Task func()

// Pool runs tasks on a fixed set of worker goroutines. Submissions never
// block: when the queue is full the task is dropped and counted, trading
// work loss for bounded memory and goroutine count under overload.
type Pool struct {
	workerCount int
	taskQueue   chan Task
	ctx         context.Context
	wg          sync.WaitGroup
	dropped     int64
	logger      zerolog.Logger
}

// NewPool creates a pool with workerCount goroutines and a queue of
// queueSize pending tasks.
func NewPool(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the workers. Must be called once before Submit. Workers
// exit when the context is cancelled or the queue is closed by Stop.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		case <-p.ctx.Done():
			return
		}
	}
}

// run executes a task, recovering panics so one bad broadcast cannot take
// down the worker.
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Worker panic recovered")
		}
	}()
	task()
}

// Submit enqueues a task for execution. Never blocks: if the queue is full
// the task is dropped and the dropped counter incremented.
func (p *Pool) Submit(task Task) {
	select {
	case p.taskQueue <- task:
	default:
		atomic.AddInt64(&p.dropped, 1)
	}
}

// Stop closes the queue and waits for workers to drain it.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// DroppedTasks returns how many tasks were discarded because the queue was
// full. A rising value means fan-out rate exceeds worker capacity.
func (p *Pool) DroppedTasks() int64 {
	return atomic.LoadInt64(&p.dropped)
}

// QueueDepth returns the number of tasks currently waiting.
func (p *Pool) QueueDepth() int { return len(p.taskQueue) }

// QueueCapacity returns the maximum queue length.
func (p *Pool) QueueCapacity() int { return cap(p.taskQueue) }

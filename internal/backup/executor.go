package backup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"
)

// Executor is the uniform task-submission contract the Service is written
// against. The pooled implementation runs tasks on worker goroutines; the
// inline implementation runs them on the caller's goroutine and hands back
// an already-resolved future.
type Executor interface {
	Submit(run func() (Outcome, error)) *Future
	// Shutdown stops the executor, draining queued work. Idempotent.
	Shutdown(ctx context.Context) error
}

type pooledExecutor struct {
	tasks  chan *pooledTask
	wg     sync.WaitGroup
	mu     sync.RWMutex // guards closed against the channel close
	closed bool
	logger pslog.Logger
}

type pooledTask struct {
	run    func() (Outcome, error)
	future *Future
}

// NewPooledExecutor starts workers goroutines consuming a queue of queueSize
// submissions.
func NewPooledExecutor(workers, queueSize int, logger pslog.Logger) Executor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 16
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	e := &pooledExecutor{
		tasks:  make(chan *pooledTask, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *pooledExecutor) worker() {
	defer e.wg.Done()
	for task := range e.tasks {
		task.future.complete(guard(task.run))
	}
}

func (e *pooledExecutor) Submit(run func() (Outcome, error)) *Future {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return resolvedFuture(OutcomeFailure, ErrShutdown)
	}
	task := &pooledTask{run: run, future: newFuture()}
	select {
	case e.tasks <- task:
		e.mu.RUnlock()
		return task.future
	default:
		e.mu.RUnlock()
		// Queue full: run on the caller rather than dropping the backup.
		e.logger.Debug("backup.executor.queue_full")
		task.future.complete(guard(run))
		return task.future
	}
}

func (e *pooledExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inlineExecutor runs tasks on the calling goroutine. Any panic is wrapped
// into the same result-carrying future the pooled path would produce, so the
// Service's await logic is identical in both modes.
type inlineExecutor struct {
	closed atomic.Bool
}

// NewInlineExecutor returns the caller-thread execution adapter.
func NewInlineExecutor() Executor {
	return &inlineExecutor{}
}

func (e *inlineExecutor) Submit(run func() (Outcome, error)) *Future {
	if e.closed.Load() {
		return resolvedFuture(OutcomeFailure, ErrShutdown)
	}
	return resolvedFuture(guard(run))
}

func (e *inlineExecutor) Shutdown(context.Context) error {
	e.closed.Store(true)
	return nil
}

// guard converts a panicking task into a failed outcome.
func guard(run func() (Outcome, error)) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailure
			err = fmt.Errorf("backup: task panic: %v", r)
		}
	}()
	return run()
}

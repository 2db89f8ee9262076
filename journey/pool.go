package journey

import (
	"context"
	"sync"
	"time"
)

// workerPool is the fixed-size goroutine pool shared by every case the
// engine drives. Submissions beyond the queue capacity block the
// caller, bounded by the submit timeout, so a saturated pool applies
// backpressure to the drive loop instead of growing without limit.
type workerPool struct {
	tasks         chan func()
	wg            sync.WaitGroup
	mu            sync.RWMutex
	closed        bool
	submitTimeout time.Duration
}

func newWorkerPool(size int, submitTimeout time.Duration) *workerPool {
	p := &workerPool{
		// 2x headroom lets a full round of path workers queue up while
		// the previous round is still finishing.
		tasks:         make(chan func(), size*2),
		submitTimeout: submitTimeout,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *workerPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// submit queues task for execution. It blocks when the queue is full,
// until a slot frees, the context is cancelled, or the submit timeout
// elapses (ErrExecutorSaturated).
func (p *workerPool) submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrEngineClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	timer := time.NewTimer(p.submitTimeout)
	defer timer.Stop()
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrExecutorSaturated
	}
}

// depth reports the number of queued, not yet started tasks.
func (p *workerPool) depth() int {
	return len(p.tasks)
}

// close stops accepting work, lets the workers drain the queue, and
// waits up to grace for them to finish. Work still running after the
// grace period is abandoned; its case recovers from the last snapshot.
func (p *workerPool) close(grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return engineErr(CodeExecutorSaturated, "worker pool did not drain within the close grace period")
	}
}

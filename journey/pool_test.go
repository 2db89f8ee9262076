package journey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_ExecutesTasks(t *testing.T) {
	p := newWorkerPool(4, time.Second)
	defer p.close(time.Second)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.submit(context.Background(), func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		})
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}
	wg.Wait()
	if got := atomic.LoadInt64(&counter); got != 20 {
		t.Errorf("expected 20 executed tasks, got %d", got)
	}
}

func TestWorkerPool_Saturation(t *testing.T) {
	p := newWorkerPool(1, 50*time.Millisecond)
	defer p.close(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.submit(context.Background(), func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started

	// Fill the queue (capacity 2 for a size-1 pool).
	for i := 0; i < 2; i++ {
		if err := p.submit(context.Background(), func() { <-release }); err != nil {
			t.Fatalf("queue fill submit %d failed: %v", i, err)
		}
	}

	err := p.submit(context.Background(), func() {})
	if !errors.Is(err, ErrExecutorSaturated) {
		t.Errorf("expected ErrExecutorSaturated, got %v", err)
	}
	close(release)
}

func TestWorkerPool_SubmitHonorsContext(t *testing.T) {
	p := newWorkerPool(1, time.Minute)
	defer p.close(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.submit(context.Background(), func() {
		close(started)
		<-release
	})
	<-started
	for i := 0; i < 2; i++ {
		_ = p.submit(context.Background(), func() { <-release })
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.submit(ctx, func() {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	close(release)
}

func TestWorkerPool_CloseDrainsQueue(t *testing.T) {
	p := newWorkerPool(2, time.Second)

	var counter int64
	for i := 0; i < 4; i++ {
		if err := p.submit(context.Background(), func() {
			atomic.AddInt64(&counter, 1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if err := p.close(time.Second); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got := atomic.LoadInt64(&counter); got != 4 {
		t.Errorf("expected queued tasks drained on close, got %d of 4", got)
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := newWorkerPool(2, time.Second)
	if err := p.close(time.Second); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := p.close(time.Second); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	err := p.submit(context.Background(), func() {})
	if !errors.Is(err, ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed, got %v", err)
	}
}

func TestWorkerPool_CloseGraceExpires(t *testing.T) {
	p := newWorkerPool(1, time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.submit(context.Background(), func() {
		close(started)
		<-release
	})
	<-started

	err := p.close(20 * time.Millisecond)
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != CodeExecutorSaturated {
		t.Errorf("expected EXECUTOR_SATURATED on expired grace, got %v", err)
	}
	close(release)
}

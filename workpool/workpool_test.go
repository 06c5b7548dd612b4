package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoBoundsConcurrency(t *testing.T) {
	p := New(2)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func() error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want at most 2", got)
	}
}

func TestDoReturnsWorkerError(t *testing.T) {
	p := New(1)
	want := errors.New("boom")
	if err := p.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("Do error = %v, want %v", err, want)
	}
}

func TestDoRespectsCancelledContext(t *testing.T) {
	p := New(1)

	// Occupy the only slot.
	hold := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Do(context.Background(), func() error {
			close(done)
			<-hold
			return nil
		})
	}()
	<-done

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := p.Do(ctx, func() error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("cancelled context must fail acquisition")
	}
	if ran {
		t.Fatal("cancelled caller must not run work")
	}
	close(hold)
}

func TestGoDeliversResult(t *testing.T) {
	p := New(1)
	want := errors.New("late failure")
	ch := p.Go(context.Background(), func() error { return want })
	select {
	case err := <-ch:
		if !errors.Is(err, want) {
			t.Fatalf("Go result = %v, want %v", err, want)
		}
	case <-time.After(time.Second):
		t.Fatal("Go never reported")
	}
}

func TestNewDefaultsToPositiveSize(t *testing.T) {
	p := New(0)
	if err := p.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("zero-size pool unusable: %v", err)
	}
}

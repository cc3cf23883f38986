package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowline-ai/flowline/internal/cache"
)

func TestGetOrLoad_LoadsOnceThenCaches(t *testing.T) {
	c := cache.New[string](time.Minute)
	var loads int32

	loader := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "value", nil
	}

	for i := 0; i < 5; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", loader)
		if err != nil {
			t.Fatalf("GetOrLoad() error = %v", err)
		}
		if v != "value" {
			t.Fatalf("GetOrLoad() = %q, want %q", v, "value")
		}
	}
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Errorf("loader ran %d times, want 1", got)
	}
}

func TestGetOrLoad_DistinctKeysLoadSeparately(t *testing.T) {
	c := cache.New[int](time.Minute)

	a, err := c.GetOrLoad(context.Background(), "a", func(ctx context.Context) (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("GetOrLoad(a) error = %v", err)
	}
	b, err := c.GetOrLoad(context.Background(), "b", func(ctx context.Context) (int, error) { return 2, nil })
	if err != nil {
		t.Fatalf("GetOrLoad(b) error = %v", err)
	}
	if a != 1 || b != 2 {
		t.Errorf("values = %d/%d, want 1/2", a, b)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestGetOrLoad_ConcurrentMissesShareOneFlight(t *testing.T) {
	c := cache.New[string](time.Minute)
	var loads int32
	started := make(chan struct{})

	loader := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loads, 1)
		<-started
		return "shared", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	values := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			values[i], errs[i] = c.GetOrLoad(context.Background(), "k", loader)
		}()
	}

	// Let the goroutines pile onto the flight, then release the loader.
	time.Sleep(20 * time.Millisecond)
	close(started)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: error = %v", i, errs[i])
		}
		if values[i] != "shared" {
			t.Fatalf("caller %d: value = %q, want %q", i, values[i], "shared")
		}
	}
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Errorf("loader ran %d times under concurrency, want 1", got)
	}
}

func TestGetOrLoad_ErrorSharedAndNotCached(t *testing.T) {
	c := cache.New[string](time.Minute)
	var loads int32
	boom := errors.New("load failed")

	loader := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "", boom
	}

	if _, err := c.GetOrLoad(context.Background(), "k", loader); !errors.Is(err, boom) {
		t.Fatalf("GetOrLoad() error = %v, want %v", err, boom)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d after failed load, want 0", c.Size())
	}

	// The error was not remembered: the next call loads again.
	if _, err := c.GetOrLoad(context.Background(), "k", loader); !errors.Is(err, boom) {
		t.Fatalf("GetOrLoad() second error = %v, want %v", err, boom)
	}
	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Errorf("loader ran %d times, want 2", got)
	}
}

func TestGetOrLoad_ExpiryReloads(t *testing.T) {
	c := cache.New[string](30 * time.Millisecond)
	var loads int32

	loader := func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&loads, 1)
		if n == 1 {
			return "first", nil
		}
		return "second", nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", loader)
	if err != nil {
		t.Fatalf("GetOrLoad() error = %v", err)
	}
	if v != "first" {
		t.Fatalf("GetOrLoad() = %q, want %q", v, "first")
	}

	time.Sleep(50 * time.Millisecond)

	v, err = c.GetOrLoad(context.Background(), "k", loader)
	if err != nil {
		t.Fatalf("GetOrLoad() after expiry error = %v", err)
	}
	if v != "second" {
		t.Errorf("GetOrLoad() after expiry = %q, want %q", v, "second")
	}
}

func TestInvalidateAndClear(t *testing.T) {
	c := cache.New[int](time.Minute)
	load := func(n int) func(ctx context.Context) (int, error) {
		return func(ctx context.Context) (int, error) { return n, nil }
	}

	if _, err := c.GetOrLoad(context.Background(), "a", load(1)); err != nil {
		t.Fatalf("GetOrLoad(a) error = %v", err)
	}
	if _, err := c.GetOrLoad(context.Background(), "b", load(2)); err != nil {
		t.Fatalf("GetOrLoad(b) error = %v", err)
	}

	c.Invalidate("a")
	if c.Size() != 1 {
		t.Errorf("Size() = %d after Invalidate, want 1", c.Size())
	}

	v, err := c.GetOrLoad(context.Background(), "a", load(10))
	if err != nil {
		t.Fatalf("GetOrLoad(a) after invalidate error = %v", err)
	}
	if v != 10 {
		t.Errorf("GetOrLoad(a) = %d after invalidate, want fresh 10", v)
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() = %d after Clear, want 0", c.Size())
	}
}

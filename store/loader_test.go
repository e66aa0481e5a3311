package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoaderDo_SingleCall(t *testing.T) {
	var l loader

	data, shared, err := l.Do(context.Background(), "key1", func(ctx context.Context) ([]byte, error) {
		return []byte("hello"), nil
	})

	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, []byte("hello"), data)
}

func TestLoaderDo_ConcurrentDeduplication(t *testing.T) {
	var l loader
	var callCount atomic.Int32

	var wg sync.WaitGroup
	results := make([][]byte, 10)
	errs := make([]error, 10)

	// slow enough for all goroutines to pile up
	for i := range 10 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _, errs[idx] = l.Do(context.Background(), "shared-key", func(ctx context.Context) ([]byte, error) {
				callCount.Add(1)
				time.Sleep(50 * time.Millisecond)
				return []byte("data"), nil
			})
		}(i)
	}

	wg.Wait()

	require.Equal(t, int32(1), callCount.Load(), "load func should be called exactly once")
	for i := range 10 {
		require.NoError(t, errs[i])
		require.Equal(t, []byte("data"), results[i])
	}
}

func TestLoaderDo_CallerTimeout(t *testing.T) {
	var l loader
	var loadCompleted atomic.Bool

	shortCtx, shortCancel := context.WithCancel(context.Background())
	defer shortCancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var slowErr error
	var slowWg sync.WaitGroup
	slowWg.Add(1)
	go func() {
		defer slowWg.Done()
		_, _, slowErr = l.Do(shortCtx, "timeout-key", func(ctx context.Context) ([]byte, error) {
			close(started)
			<-release
			// the load context is detached from the caller that started it
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			loadCompleted.Store(true)
			return []byte("slow"), nil
		})
	}()

	<-started

	longCtx, longCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer longCancel()

	type result struct {
		data   []byte
		shared bool
		err    error
	}
	longCh := make(chan result, 1)
	go func() {
		data, shared, err := l.Do(longCtx, "timeout-key", func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("should not be called - load already in flight")
		})
		longCh <- result{data, shared, err}
	}()

	require.Eventually(t, func() bool { return l.waiting("timeout-key") == 2 }, time.Second, time.Millisecond)

	shortCancel()
	slowWg.Wait()
	require.ErrorIs(t, slowErr, context.Canceled)

	close(release)
	res := <-longCh
	require.NoError(t, res.err)
	require.True(t, res.shared)
	require.Equal(t, []byte("slow"), res.data)
	require.True(t, loadCompleted.Load())
	require.Zero(t, l.waiting("timeout-key"))
}

func TestLoaderDo_AbandonedLoadIsCancelled(t *testing.T) {
	var l loader

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	loadCancelled := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := l.Do(ctx, "abandoned", func(ctx context.Context) ([]byte, error) {
			close(started)
			<-ctx.Done()
			close(loadCancelled)
			return nil, ctx.Err()
		})
		errCh <- err
	}()

	<-started
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-loadCancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("load context was not cancelled after the last caller left")
	}

	// a later caller starts a fresh load
	require.Eventually(t, func() bool {
		data, _, err := l.Do(context.Background(), "abandoned", func(ctx context.Context) ([]byte, error) {
			return []byte("fresh"), nil
		})
		return err == nil && string(data) == "fresh"
	}, time.Second, time.Millisecond)
}

func TestLoaderDo_Error(t *testing.T) {
	var l loader
	expectedErr := errors.New("backend unavailable")

	var wg sync.WaitGroup
	errs := make([]error, 5)

	for i := range 5 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = l.Do(context.Background(), "error-key", func(ctx context.Context) ([]byte, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, expectedErr
			})
		}(i)
	}

	wg.Wait()

	for i := range 5 {
		require.ErrorIs(t, errs[i], expectedErr)
	}
}

func TestLoaderDo_DifferentKeys(t *testing.T) {
	var l loader
	var callCount atomic.Int32
	errs := make([]error, 5)
	var wg sync.WaitGroup

	for i := range 5 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			key := "key-" + string(rune('a'+idx))
			_, _, errs[idx] = l.Do(context.Background(), key, func(ctx context.Context) ([]byte, error) {
				callCount.Add(1)
				return []byte(key), nil
			})
		}(i)
	}

	wg.Wait()

	for i := range 5 {
		require.NoError(t, errs[i])
	}
	require.Equal(t, int32(5), callCount.Load(), "each key should trigger its own load")
}

// waiting returns the number of callers registered on the load for key.
func (l *loader) waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.calls[key]; ok {
		return c.waiters
	}
	return 0
}

package store

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// loader collapses concurrent backend loads of the same object into one.
// It uses DoChan so each caller can respect its own context deadline
// without cancelling the in-flight load for others. The load itself is
// cancelled once every caller waiting on it has gone.
type loader struct {
	group singleflight.Group

	mu    sync.Mutex
	calls map[string]*loadCall
}

// loadCall is the context shared by the callers of one load.
type loadCall struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Do runs fn once per key among concurrent callers. fn receives a context
// that is detached from any single caller and cancelled when the last
// waiting caller leaves. The returned slice is shared between callers and
// must not be modified.
//
// If the caller's context expires before the load completes, Do returns
// the context error but the load continues for other waiters.
func (l *loader) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	for attempt := 0; ; attempt++ {
		c := l.join(ctx, key)
		ch := l.group.DoChan(key, func() (any, error) {
			return fn(c.ctx)
		})

		select {
		case res := <-ch:
			l.leave(key, c)
			if res.Err != nil {
				// joined a load abandoned by everyone who started it
				if attempt == 0 && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return nil, res.Shared, res.Err
			}
			return res.Val.([]byte), res.Shared, nil
		case <-ctx.Done():
			l.leave(key, c)
			return nil, false, ctx.Err()
		}
	}
}

func (l *loader) join(ctx context.Context, key string) *loadCall {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.calls == nil {
		l.calls = make(map[string]*loadCall)
	}
	c, ok := l.calls[key]
	if !ok {
		loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &loadCall{ctx: loadCtx, cancel: cancel}
		l.calls[key] = c
	}
	c.waiters++
	return c
}

func (l *loader) leave(key string, c *loadCall) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c.waiters--
	if c.waiters > 0 {
		return
	}
	c.cancel()
	if l.calls[key] == c {
		delete(l.calls, key)
	}
}

package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlreg/pkg/bus/bustest"
)

type echo struct {
	Value string `json:"value"`
}

// inFlight tracks how many handlers run at once.
type inFlight struct {
	current atomic.Int64
	peak    atomic.Int64
}

func (f *inFlight) enter() {
	n := f.current.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (f *inFlight) leave() { f.current.Add(-1) }

func newBus(t *testing.T, url string) *Bus {
	t.Helper()
	b, err := New(url)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func slowEcho(f *inFlight, delay time.Duration) func(context.Context, []byte) []byte {
	return func(ctx context.Context, data []byte) []byte {
		f.enter()
		defer f.leave()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return data
	}
}

func TestRequestReply(t *testing.T) {
	url := bustest.RunServer(t)
	server, client := newBus(t, url), newBus(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := server.Serve(ctx, "test.echo", "workers", 1, func(_ context.Context, data []byte) []byte {
		return data
	})
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()

	var out echo
	require.NoError(t, client.Request(reqCtx, "test.echo", echo{Value: "hello"}, &out))
	assert.Equal(t, "hello", out.Value)
}

func TestServeHandlesRequestsConcurrently(t *testing.T) {
	url := bustest.RunServer(t)
	server, client := newBus(t, url), newBus(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var f inFlight
	_, err := server.Serve(ctx, "test.slow", "workers", 4, slowEcho(&f, 300*time.Millisecond))
	require.NoError(t, err)

	// Served one at a time, four 300ms requests would not fit in 800ms each.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reqCtx, reqCancel := context.WithTimeout(ctx, 800*time.Millisecond)
			defer reqCancel()
			var out echo
			errs[i] = client.Request(reqCtx, "test.slow", echo{Value: "x"}, &out)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Greater(t, f.peak.Load(), int64(1))
	assert.LessOrEqual(t, f.peak.Load(), int64(4))
}

func TestServeBoundsConcurrency(t *testing.T) {
	url := bustest.RunServer(t)
	server, client := newBus(t, url), newBus(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var f inFlight
	_, err := server.Serve(ctx, "test.bounded", "workers", 2, slowEcho(&f, 50*time.Millisecond))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var failed atomic.Int64
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
			defer reqCancel()
			if err := client.Request(reqCtx, "test.bounded", echo{Value: "x"}, nil); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.LessOrEqual(t, f.peak.Load(), int64(2))
}

func TestServeStopsWhenContextDone(t *testing.T) {
	url := bustest.RunServer(t)
	server, client := newBus(t, url), newBus(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := server.Serve(ctx, "test.stop", "workers", 1, func(_ context.Context, data []byte) []byte {
		return data
	})
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		reqCtx, reqCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer reqCancel()
		return client.Request(reqCtx, "test.stop", echo{Value: "x"}, nil) != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServeValidates(t *testing.T) {
	var b *Bus
	_, err := b.Serve(context.Background(), "s", "q", 1, func(context.Context, []byte) []byte { return nil })
	assert.Error(t, err)

	url := bustest.RunServer(t)
	_, err = newBus(t, url).Serve(context.Background(), "s", "q", 1, nil)
	assert.Error(t, err)
}

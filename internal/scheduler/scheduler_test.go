package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordinance/internal/plugin"
)

func loadFixture(t *testing.T, qname string, register func(h *plugin.Host)) *plugin.Instance {
	t.Helper()
	inst, err := plugin.Load(qname, func(h *plugin.Host, config map[string]any) (any, error) {
		register(h)
		return nil, nil
	}, nil, plugin.Metadata{})
	require.NoError(t, err)
	return inst
}

// TestPeriodicFiring reproduces the periodic-firing scenario: a
// callback registered with a short period fires repeatedly across
// several ticks of a fast-clocked scheduler.
func TestPeriodicFiring(t *testing.T) {
	var fires int64
	inst := loadFixture(t, "test.scheduler.periodic", func(h *plugin.Host) {
		sc := h.Schedule("tick", func(ctx context.Context, instance any) error {
			atomic.AddInt64(&fires, 1)
			return nil
		})
		_, err := sc.AddPeriodic(0.2, "", false)
		require.NoError(t, err)
	})

	s := New(
		WithTickInterval(200*time.Millisecond),
		WithSubtickInterval(50*time.Millisecond),
	)
	s.RegisterPlugin("test.scheduler.periodic", inst)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(900 * time.Millisecond)
	cancel()
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&fires), int64(2))
}

// TestDelayFiresOnce reproduces delay-trigger idempotence: a one-shot
// delay never fires more than once across the scheduler's lifetime.
func TestDelayFiresOnce(t *testing.T) {
	var fires int64
	inst := loadFixture(t, "test.scheduler.delay", func(h *plugin.Host) {
		sc := h.Schedule("once", func(ctx context.Context, instance any) error {
			atomic.AddInt64(&fires, 1)
			return nil
		})
		_, err := sc.AddDelay(0.1, "", false)
		require.NoError(t, err)
	})

	s := New(
		WithTickInterval(100*time.Millisecond),
		WithSubtickInterval(30*time.Millisecond),
	)
	s.RegisterPlugin("test.scheduler.delay", inst)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(700 * time.Millisecond)
	cancel()
	s.Stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&fires))
}

// TestUnregisterStopsFiring reproduces the unload-drains scenario at
// the scheduler layer: once a qname is unregistered, no further
// firings are observed for its triggers.
func TestUnregisterStopsFiring(t *testing.T) {
	var fires int64
	inst := loadFixture(t, "test.scheduler.unload", func(h *plugin.Host) {
		sc := h.Schedule("tick", func(ctx context.Context, instance any) error {
			atomic.AddInt64(&fires, 1)
			return nil
		})
		_, err := sc.AddPeriodic(0.1, "", false)
		require.NoError(t, err)
	})

	s := New(
		WithTickInterval(100*time.Millisecond),
		WithSubtickInterval(30*time.Millisecond),
	)
	s.RegisterPlugin("test.scheduler.unload", inst)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(250 * time.Millisecond)
	s.UnregisterPlugin("test.scheduler.unload")
	countAtUnload := atomic.LoadInt64(&fires)

	time.Sleep(300 * time.Millisecond)
	cancel()
	s.Stop()

	assert.Equal(t, countAtUnload, atomic.LoadInt64(&fires))
}

// TestWorkerFabricDropsWhenSaturated verifies that a firing which
// cannot acquire a worker slot is dropped rather than blocking the
// tick loop.
func TestWorkerFabricDropsWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	var started int64

	inst := loadFixture(t, "test.scheduler.saturate", func(h *plugin.Host) {
		sc := h.Schedule("slow", func(ctx context.Context, instance any) error {
			atomic.AddInt64(&started, 1)
			<-block
			return nil
		})
		_, err := sc.AddPeriodic(0.05, "", false)
		require.NoError(t, err)
	})

	s := New(
		WithTickInterval(50*time.Millisecond),
		WithSubtickInterval(20*time.Millisecond),
		WithMaxConcurrentFirings(1),
	)
	s.RegisterPlugin("test.scheduler.saturate", inst)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(400 * time.Millisecond)
	close(block)
	cancel()
	s.Stop()

	// Only one worker slot existed; every firing after the first
	// blocked worker was dropped rather than queued.
	assert.Equal(t, int64(1), atomic.LoadInt64(&started))
}

// TestStopDrainsNonDaemonicWorker verifies that Stop blocks for a
// short-lived worker to complete before returning.
func TestStopDrainsNonDaemonicWorker(t *testing.T) {
	var completed atomic.Bool
	inst := loadFixture(t, "test.scheduler.drain", func(h *plugin.Host) {
		sc := h.Schedule("quick", func(ctx context.Context, instance any) error {
			time.Sleep(50 * time.Millisecond)
			completed.Store(true)
			return nil
		})
		_, err := sc.AddDelay(0.01, "", false)
		require.NoError(t, err)
	})

	s := New(
		WithTickInterval(30*time.Millisecond),
		WithSubtickInterval(10*time.Millisecond),
	)
	s.RegisterPlugin("test.scheduler.drain", inst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(80 * time.Millisecond)
	s.Stop()

	assert.True(t, completed.Load())
}

func TestActiveWorkersZeroBeforeAnyFiring(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.ActiveWorkers())
}

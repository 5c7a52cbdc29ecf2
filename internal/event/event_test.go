package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordinance/internal/plugin"
	"ordinance/internal/scheduler"
)

func loadFixture(t *testing.T, qname, event string, fn func(ctx context.Context, instance any) error) *plugin.Instance {
	t.Helper()
	inst, err := plugin.Load(qname, func(h *plugin.Host, config map[string]any) (any, error) {
		sc := h.Schedule("handler", fn)
		_, err := sc.AddEvent(event, "", false)
		if err != nil {
			return nil, err
		}
		return nil, nil
	}, nil, plugin.Metadata{})
	require.NoError(t, err)
	return inst
}

func TestFireFansOutToAllMatchingPlugins(t *testing.T) {
	var fired int64
	a := loadFixture(t, "test.event.a", "custom.ping", func(ctx context.Context, instance any) error {
		atomic.AddInt64(&fired, 1)
		return nil
	})
	b := loadFixture(t, "test.event.b", "custom.ping", func(ctx context.Context, instance any) error {
		atomic.AddInt64(&fired, 1)
		return nil
	})
	c := loadFixture(t, "test.event.c", "other.event", func(ctx context.Context, instance any) error {
		atomic.AddInt64(&fired, 1)
		return nil
	})

	sched := scheduler.New()
	sched.RegisterPlugin("test.event.a", a)
	sched.RegisterPlugin("test.event.b", b)
	sched.RegisterPlugin("test.event.c", c)

	d := New(sched)
	handles := d.Fire(context.Background(), "custom.ping")
	require.Len(t, handles, 2)
	for _, h := range handles {
		assert.True(t, h.Join(time.Second))
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&fired))
}

func TestFireScopedTargetsOnlyOneQName(t *testing.T) {
	var fired int64
	a := loadFixture(t, "test.event.scoped.a", PluginStart, func(ctx context.Context, instance any) error {
		atomic.AddInt64(&fired, 1)
		return nil
	})
	b := loadFixture(t, "test.event.scoped.b", PluginStart, func(ctx context.Context, instance any) error {
		atomic.AddInt64(&fired, 1)
		return nil
	})

	sched := scheduler.New()
	sched.RegisterPlugin("test.event.scoped.a", a)
	sched.RegisterPlugin("test.event.scoped.b", b)

	d := New(sched)
	handles := d.FireScoped(context.Background(), PluginStart, "test.event.scoped.a")
	require.Len(t, handles, 1)
	handles[0].Join(time.Second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&fired))
}

func TestFireWithNoMatchesReturnsEmpty(t *testing.T) {
	sched := scheduler.New()
	d := New(sched)
	handles := d.Fire(context.Background(), "nothing.listens")
	assert.Empty(t, handles)
}

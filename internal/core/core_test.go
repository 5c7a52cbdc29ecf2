package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordinance/internal/firewall"
	"ordinance/internal/home"
	"ordinance/internal/plugin"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()
	return "", nil
}

func (f *fakeRunner) RunWithStdin(_ context.Context, _ string, name string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()
	return "", nil
}

func newFixtureHome(t *testing.T, yamlBody string) home.Dir {
	t.Helper()
	root := t.TempDir()
	h := home.New(root)
	require.NoError(t, h.EnsureExists())
	require.NoError(t, os.WriteFile(h.ConfigPath(), []byte(yamlBody), 0o644))
	return h
}

func newBootedCore(t *testing.T, yamlBody string) (*Core, context.Context, context.CancelFunc) {
	t.Helper()
	h := newFixtureHome(t, yamlBody)
	fw := firewall.New(firewall.WithRunner(&fakeRunner{}))
	c := New(h, nil, WithFirewallReconciler(fw))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Boot(ctx))
	return c, ctx, cancel
}

func TestBootWithNoPluginsSucceeds(t *testing.T) {
	c, ctx, cancel := newBootedCore(t, "core:\n  scheduler_tick: 1\n  scheduler_subtick: 0.2\n")
	defer cancel()
	assert.Empty(t, c.life.LoadedQNames())
	require.NoError(t, c.Stop(ctx))
}

func writeBundle(t *testing.T, pluginRoot, qname string) {
	t.Helper()
	dir := filepath.Join(pluginRoot, qname)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("entry_file: main.go\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("// entry\n"), 0o644))
}

func TestBootLoadsDiscoveredPlugins(t *testing.T) {
	qname := "test.core.boot.loaded"
	plugin.Register(qname, func(h *plugin.Host, config map[string]any) (any, error) { return nil, nil })

	root := t.TempDir()
	h := home.New(root)
	require.NoError(t, h.EnsureExists())
	require.NoError(t, os.WriteFile(h.ConfigPath(), []byte("core:\n  scheduler_tick: 1\n  scheduler_subtick: 0.2\n"), 0o644))
	writeBundle(t, h.PluginRoot(), qname)

	fw := firewall.New(firewall.WithRunner(&fakeRunner{}))
	c := New(h, nil, WithFirewallReconciler(fw))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Boot(ctx))
	defer c.Stop(ctx)

	assert.Contains(t, c.life.LoadedQNames(), qname)
}

func TestCommandGrammar(t *testing.T) {
	c, ctx, cancel := newBootedCore(t, "core:\n  scheduler_tick: 1\n  scheduler_subtick: 0.2\n")
	defer cancel()
	defer c.Stop(ctx)

	token, out := c.Command(ctx, "")
	assert.Equal(t, 0, token)
	assert.Empty(t, out)

	token, out = c.Command(ctx, "STATUS")
	assert.Equal(t, 0, token)
	assert.Contains(t, out, "plugins:")

	token, out = c.Command(ctx, "alert disk almost full")
	assert.Equal(t, 0, token)
	assert.Equal(t, "alert raised", out)

	token, _ = c.Command(ctx, "bogus")
	assert.Equal(t, -2, token)

	token, out = c.Command(ctx, "stop")
	assert.Equal(t, -1, token)
	assert.Equal(t, "stopping", out)
}

func TestStopUnloadsPluginsAndFlushesSets(t *testing.T) {
	qname := "test.core.stop.unload"
	plugin.Register(qname, func(h *plugin.Host, config map[string]any) (any, error) {
		return nil, nil
	})

	root := t.TempDir()
	h := home.New(root)
	require.NoError(t, h.EnsureExists())
	require.NoError(t, os.WriteFile(h.ConfigPath(), []byte("core:\n  scheduler_tick: 1\n  scheduler_subtick: 0.2\n"), 0o644))
	writeBundle(t, h.PluginRoot(), qname)

	fw := firewall.New(firewall.WithRunner(&fakeRunner{}))
	c := New(h, nil, WithFirewallReconciler(fw))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Boot(ctx))

	require.NoError(t, c.Stop(ctx))
	assert.Empty(t, c.life.LoadedQNames())

	_, err := os.Stat(h.BlacklistPath())
	assert.NoError(t, err)
	_, err = os.Stat(h.WhitelistPath())
	assert.NoError(t, err)
}

func TestWriterStatusReflectsEnabledSinks(t *testing.T) {
	c, ctx, cancel := newBootedCore(t, "core:\n  scheduler_tick: 1\n  scheduler_subtick: 0.2\n")
	defer cancel()
	defer c.Stop(ctx)
	assert.Empty(t, c.WriterStatus())
}

func TestBootWithSubsecondTickStartsIdle(t *testing.T) {
	c, ctx, cancel := newBootedCore(t, "core:\n  scheduler_tick: 0.3\n  scheduler_subtick: 0.1\n")
	defer cancel()
	defer c.Stop(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.sched.ActiveWorkers())
}

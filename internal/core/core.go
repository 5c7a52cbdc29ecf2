// Package core implements the Core Orchestrator (spec.md §4.9): it
// constructs every other component in dependency order, owns the
// command(string) grammar driving the daemon from stdin, and tears
// everything down in reverse order on shutdown.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"ordinance/internal/config"
	"ordinance/internal/discovery"
	"ordinance/internal/event"
	"ordinance/internal/firewall"
	"ordinance/internal/home"
	"ordinance/internal/ipset"
	"ordinance/internal/lifecycle"
	"ordinance/internal/logbus"
	"ordinance/internal/logging"
	"ordinance/internal/plugin"
	"ordinance/internal/scheduler"
)

const (
	firewallPushInterval = "*/30 * * * * *" // every 30s, gocron seconds-enabled cron
	flushSafetyInterval  = "0 */5 * * * *"  // every 5 minutes
)

// Core wires the Log Bus, IPv4 Set Store, Firewall Reconciler, Plugin
// Discovery, Plugin Lifecycle, and Scheduler together and exposes the
// command grammar and status reads a future API layer would use.
type Core struct {
	home   home.Dir
	logger *slog.Logger

	bus         *logbus.Bus
	ips         *ipset.Pair
	fw          *firewall.Reconciler
	sched       *scheduler.Scheduler
	dispatcher  *event.Dispatcher
	life        *lifecycle.Lifecycle
	housekeep   gocron.Scheduler
	cfgWatcher  *config.Watcher
	pluginWatch *discovery.Watcher

	cfg     *config.Config
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures a Core before Boot.
type Option func(*Core)

// WithFirewallReconciler overrides the Reconciler Boot would otherwise
// construct with the real CommandRunner — tests inject one backed by a
// fake Runner so Boot never shells out to iptables/ipset.
func WithFirewallReconciler(fw *firewall.Reconciler) Option {
	return func(c *Core) { c.fw = fw }
}

// New constructs a Core bound to the given home directory. It does not
// start anything; call Boot to bring the daemon up.
func New(h home.Dir, logger *slog.Logger, opts ...Option) *Core {
	c := &Core{
		home:   h,
		logger: logging.Default(logger).With("component", "core"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Boot executes the construction order from spec.md §2: Log Bus, IPv4
// Set Store, Firewall Reconciler, Plugin Discovery, Plugin Lifecycle
// load-all, Scheduler start. It returns once every discoverable plugin
// has had a Load attempt (individual load failures are logged, not
// fatal); a failure to install the base firewall chain is fatal.
func (c *Core) Boot(ctx context.Context) error {
	if err := c.home.EnsureExists(); err != nil {
		return err
	}

	cfgWatcher, cfg, err := config.NewWatcher(c.home.ConfigPath(), c.logger)
	if err != nil {
		return err
	}
	c.cfgWatcher = cfgWatcher
	c.cfg = cfg

	c.bus = logbus.New()
	for _, name := range cfg.Writers.Enabled {
		if err := c.bus.Enable(name, cfg.Writers.Sinks[name]); err != nil {
			c.logger.Warn("failed to enable configured sink", "sink", name, "error", err)
		}
	}

	c.ips = ipset.NewPair(c.home.BlacklistPath(), c.home.WhitelistPath())
	if err := c.ips.ReadAll(); err != nil {
		return err
	}

	if c.fw == nil {
		c.fw = firewall.New()
	}
	if err := c.fw.Setup(ctx); err != nil {
		return err
	}

	tick := cfg.Core.TickInterval(scheduler.DefaultTickInterval)
	subtick := cfg.Core.SubtickInterval(scheduler.DefaultSubtickInterval)
	c.sched = scheduler.New(
		scheduler.WithTickInterval(tick),
		scheduler.WithSubtickInterval(subtick),
		scheduler.WithLogger(c.logger),
	)
	c.dispatcher = event.New(c.sched)
	c.life = lifecycle.New(c.home.PluginRoot(), c.sched, c.dispatcher, c.logger)

	if err := c.life.Rescan(); err != nil {
		c.logger.Warn("plugin scan reported a collision", "error", err)
	}
	c.loadAllKnown(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})

	watcher, err := discovery.NewWatcher(c.home.PluginRoot(), c.logger)
	if err != nil {
		c.logger.Warn("plugin root watch unavailable", "error", err)
	} else {
		c.pluginWatch = watcher
		go c.watchPluginRoot()
	}

	go func() {
		c.sched.Run(runCtx)
		close(c.stopped)
	}()

	if err := c.startHousekeeping(runCtx); err != nil {
		c.logger.Warn("housekeeping scheduler unavailable", "error", err)
	}

	c.logger.Info("core booted", "plugins", len(c.life.LoadedQNames()))
	return nil
}

func (c *Core) loadAllKnown(ctx context.Context) {
	for _, b := range c.knownQNames() {
		override := c.cfg.PluginConfig(b)
		if err := c.life.Load(ctx, b, override); err != nil {
			c.logger.Error("plugin load failed", "qname", b, "error", err)
		}
	}
}

func (c *Core) knownQNames() []string {
	qnames := c.life.KnownQNames()
	sort.Strings(qnames)
	return qnames
}

func (c *Core) watchPluginRoot() {
	for {
		select {
		case <-c.pluginWatch.Changed():
			if err := c.life.Rescan(); err != nil {
				c.logger.Warn("rescan after plugin root change reported a collision", "error", err)
			}
		case <-c.stopped:
			return
		}
	}
}

func (c *Core) startHousekeeping(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	c.housekeep = s

	if _, err := s.NewJob(
		gocron.CronJob(firewallPushInterval, true),
		gocron.NewTask(func() {
			if err := c.fw.Push(ctx, c.ips.Blacklist); err != nil {
				c.logger.Warn("firewall reconciliation push failed", "error", err)
			}
		}),
		gocron.WithName("firewall-push"),
	); err != nil {
		return fmt.Errorf("register firewall-push job: %w", err)
	}

	if _, err := s.NewJob(
		gocron.CronJob(flushSafetyInterval, true),
		gocron.NewTask(func() {
			if err := c.ips.FlushAll(); err != nil {
				c.logger.Warn("safety-net flush failed", "error", err)
			}
		}),
		gocron.WithName("ipv4-flush"),
	); err != nil {
		return fmt.Errorf("register ipv4-flush job: %w", err)
	}

	s.Start()
	return nil
}

// Command implements spec.md §6's command grammar. It returns the exit
// token (0, -1, or -2) and a human-readable result string.
func (c *Core) Command(ctx context.Context, line string) (int, string) {
	line = strings.ToLower(strings.TrimSpace(line))
	switch {
	case line == "":
		return 0, ""
	case line == "stop":
		return -1, "stopping"
	case line == "status":
		return 0, c.Status()
	case strings.HasPrefix(line, "alert "):
		words := strings.TrimPrefix(line, "alert ")
		if err := c.bus.Publish(logbus.Message{Level: logbus.Alert, Source: "core", Text: words, Time: time.Now()}); err != nil {
			c.logger.Warn("log sink failed to handle alert", "error", err)
		}
		return 0, "alert raised"
	default:
		return -2, fmt.Sprintf("unknown command: %q", line)
	}
}

// Status renders the loaded-plugin and enabled-sink summary the
// "status" command prints.
func (c *Core) Status() string {
	qnames := c.life.LoadedQNames()
	sort.Strings(qnames)
	sinks := c.bus.Enabled()
	sort.Strings(sinks)
	return fmt.Sprintf("plugins: %s\nsinks: %s\nactive workers: %d",
		strings.Join(qnames, ", "), strings.Join(sinks, ", "), c.sched.ActiveWorkers())
}

// PluginStatusView is the read-only projection of a loaded Instance
// exposed to a future status API.
type PluginStatusView struct {
	QName    string
	Running  bool
	Metadata plugin.Metadata
}

// PluginStatus returns qname's status view, if loaded.
func (c *Core) PluginStatus(qname string) (PluginStatusView, bool) {
	inst, ok := c.life.Instance(qname)
	if !ok {
		return PluginStatusView{}, false
	}
	return PluginStatusView{QName: inst.QName, Running: inst.Running.Load(), Metadata: inst.Metadata}, true
}

// WriterStatus returns the names of currently enabled log sinks.
func (c *Core) WriterStatus() []string {
	return c.bus.Enabled()
}

// Stop tears the daemon down in reverse construction order: every
// loaded plugin is unloaded (each with its own drain), the scheduler's
// tick loop is stopped and joined, both IPv4 sets are flushed to disk,
// and every sink is closed. The (out-of-scope) API viewer has no
// teardown step here.
func (c *Core) Stop(ctx context.Context) error {
	if c.pluginWatch != nil {
		c.pluginWatch.Close()
	}
	if c.housekeep != nil {
		_ = c.housekeep.Shutdown()
	}

	for _, qname := range c.life.LoadedQNames() {
		if err := c.life.Unload(ctx, qname); err != nil {
			c.logger.Warn("plugin unload failed during shutdown", "qname", qname, "error", err)
		}
	}

	if c.cancel != nil {
		c.cancel()
		<-c.stopped
	}

	var firstErr error
	if err := c.ips.FlushAll(); err != nil {
		firstErr = err
	}
	if c.cfgWatcher != nil {
		c.cfgWatcher.Close()
	}
	if err := c.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.logger.Info("core stopped")
	return firstErr
}

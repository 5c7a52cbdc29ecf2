// Package firewall reconciles Ordinance's IPv4 blacklist into the
// kernel packet filter and manages the ORDINANCE chain's port rules,
// shelling out to ipset/iptables the way the original daemon does.
package firewall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ordinance/internal/errs"
	"ordinance/internal/ipset"
)

const (
	// ChainName is the iptables chain Ordinance installs and jumps into
	// from INPUT.
	ChainName = "ORDINANCE"
	// SetName is the ipset hash-of-IPv4 address-set backing the DROP rule.
	SetName = "ORDINANCE_BLACKLIST"
)

// Verdict is an iptables target for a port rule.
type Verdict string

const (
	Accept Verdict = "ACCEPT"
	Drop   Verdict = "DROP"
	Reject Verdict = "REJECT"
)

// Protocol is the transport protocol of a port rule.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// Runner executes an external command and returns its combined output
// and exit error. Production code uses CommandRunner; tests supply a
// fake to exercise Reconciler without touching the host's netfilter
// state.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (output string, err error)
	RunWithStdin(ctx context.Context, stdin string, name string, args ...string) (output string, err error)
}

// CommandRunner shells out via os/exec, the subprocess-wrapping idiom
// used throughout Ordinance for kernel-tool CLIs: capture combined
// output, classify *exec.ExitError, wrap with context.
type CommandRunner struct{}

func (CommandRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), classifyExit(name, args, err)
}

func (CommandRunner) RunWithStdin(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), classifyExit(name, args, err)
}

func classifyExit(name string, args []string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return fmt.Errorf("%s %s: exit %d", name, strings.Join(args, " "), exitErr.ExitCode())
	}
	return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Reconciler programs the ORDINANCE chain and address-set and keeps the
// kernel's blacklist in sync with an ipset.Store. Blacklist pushes are
// rate-limited so a burst of mutations coalesces into a single `ipset
// restore` invocation.
type Reconciler struct {
	runner  Runner
	limiter *rate.Limiter
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRunner overrides the command runner, primarily for tests.
func WithRunner(r Runner) Option {
	return func(rc *Reconciler) { rc.runner = r }
}

// WithPushRateLimit overrides the token-bucket rate limiting Push.
// The default permits one push per second with a burst of one.
func WithPushRateLimit(r rate.Limit, burst int) Option {
	return func(rc *Reconciler) { rc.limiter = rate.NewLimiter(r, burst) }
}

// New constructs a Reconciler using the real CommandRunner unless
// overridden.
func New(opts ...Option) *Reconciler {
	rc := &Reconciler{
		runner:  CommandRunner{},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Setup performs best-effort teardown of any previously installed
// chain and address-set, then installs a fresh ORDINANCE chain and
// ORDINANCE_BLACKLIST address-set, jumps INPUT into the chain, and
// attaches the DROP rule matching the address-set. Teardown failures
// are ignored (the objects may not exist); any install failure is
// fatal and reported as FirewallSetupFailed.
func (r *Reconciler) Setup(ctx context.Context) error {
	// Best-effort teardown; errors ignored.
	_, _ = r.runner.Run(ctx, "iptables", "-D", "INPUT", "-j", ChainName)
	_, _ = r.runner.Run(ctx, "iptables", "-F", ChainName)
	_, _ = r.runner.Run(ctx, "iptables", "-X", ChainName)
	_, _ = r.runner.Run(ctx, "ipset", "destroy", SetName)

	if _, err := r.runner.Run(ctx, "ipset", "create", SetName, "hash:ip"); err != nil {
		return errs.Newf(errs.FirewallSetupFailed, err, "create address-set %s", SetName)
	}
	if _, err := r.runner.Run(ctx, "iptables", "-N", ChainName); err != nil {
		return errs.Newf(errs.FirewallSetupFailed, err, "create chain %s", ChainName)
	}
	if _, err := r.runner.Run(ctx, "iptables", "-I", "INPUT", "-j", ChainName); err != nil {
		return errs.Newf(errs.FirewallSetupFailed, err, "jump INPUT into %s", ChainName)
	}
	if _, err := r.runner.Run(ctx, "iptables", "-A", ChainName, "-m", "set", "--match-set", SetName, "src", "-j", "DROP"); err != nil {
		return errs.Newf(errs.FirewallSetupFailed, err, "attach DROP rule for %s", SetName)
	}
	return nil
}

// Push serializes the blacklist's current members as `add
// ORDINANCE_BLACKLIST <dotted-quad>` lines and loads them via `ipset
// restore` on standard input. Over MaxEntries members, Push fails
// without shelling out. Push blocks until the rate limiter admits it;
// use ctx to bound that wait.
func (r *Reconciler) Push(ctx context.Context, blacklist *ipset.Store) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.pushNow(ctx, blacklist)
}

// PushNow bypasses the rate limiter for callers that must force an
// immediate push.
func (r *Reconciler) PushNow(ctx context.Context, blacklist *ipset.Store) error {
	return r.pushNow(ctx, blacklist)
}

func (r *Reconciler) pushNow(ctx context.Context, blacklist *ipset.Store) error {
	addrs := blacklist.Iter()
	if len(addrs) > ipset.MaxEntries {
		return errs.Newf(errs.FirewallSetupFailed, nil, "blacklist has %d entries, exceeds cap of %d", len(addrs), ipset.MaxEntries)
	}

	var sb strings.Builder
	for _, a := range addrs {
		fmt.Fprintf(&sb, "add %s %s\n", SetName, ipset.Uint32ToIP(a))
	}

	if _, err := r.runner.RunWithStdin(ctx, sb.String(), "ipset", "restore"); err != nil {
		return errs.Newf(errs.FirewallSetupFailed, err, "ipset restore")
	}
	return nil
}

// OpenPort creates an iptables rule on the ORDINANCE chain with the
// given verdict for a TCP/UDP port — e.g. a plugin opening a decoy
// port for a honeypot, or accepting traffic it actively wants to see.
func (r *Reconciler) OpenPort(ctx context.Context, verdict Verdict, proto Protocol, port int) error {
	if port <= 0 {
		return errs.New(errs.InvalidConfigValue, fmt.Sprintf("port must be > 0, got %d", port), nil)
	}
	_, err := r.runner.Run(ctx, "iptables", "-A", ChainName, "-j", string(verdict), "-p", string(proto), "--dport", itoa(port), "-w", "5")
	if err != nil {
		return errs.Newf(errs.FirewallSetupFailed, err, "open %s/%d (%s)", proto, port, verdict)
	}
	return nil
}

// ClosePort removes a previously created OpenPort rule. If no such rule
// exists, iptables -D fails and ClosePort returns that failure as
// FirewallSetupFailed.
func (r *Reconciler) ClosePort(ctx context.Context, verdict Verdict, proto Protocol, port int) error {
	if port <= 0 {
		return errs.New(errs.InvalidConfigValue, fmt.Sprintf("port must be > 0, got %d", port), nil)
	}
	_, err := r.runner.Run(ctx, "iptables", "-D", ChainName, "-j", string(verdict), "-p", string(proto), "--dport", itoa(port), "-w", "5")
	if err != nil {
		return errs.Newf(errs.FirewallSetupFailed, err, "close %s/%d (%s)", proto, port, verdict)
	}
	return nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

package ipset

import (
	"sync"

	"ordinance/internal/errs"
)

// Pair couples the blacklist and whitelist Stores and enforces that
// they remain disjoint at the caller boundary: adding an address
// already present in the other set is rejected rather than silently
// creating an overlap. mu serializes the check-then-mutate sequence in
// Blacken/Unblacken/Whiten/Unwhiten across both Stores — each Store's
// own lock only protects its own map, so without a Pair-level lock two
// concurrent calls on opposite sets could both pass their Contains
// check before either Add runs, landing the same address in both sets.
type Pair struct {
	mu        sync.Mutex
	Blacklist *Store
	Whitelist *Store
}

// NewPair constructs a Pair from explicit backing paths.
func NewPair(blacklistPath, whitelistPath string) *Pair {
	return &Pair{
		Blacklist: New(blacklistPath),
		Whitelist: New(whitelistPath),
	}
}

// ReadAll loads both sets from disk, returning the first error
// encountered (after attempting both reads).
func (p *Pair) ReadAll() error {
	berr := p.Blacklist.Read()
	werr := p.Whitelist.Read()
	if berr != nil {
		return berr
	}
	return werr
}

// FlushAll rewrites both backing files, returning the first error
// encountered (after attempting both flushes).
func (p *Pair) FlushAll() error {
	berr := p.Blacklist.Flush()
	werr := p.Whitelist.Flush()
	if berr != nil {
		return berr
	}
	return werr
}

// Blacken adds addr to the blacklist. It fails with IPWhitelisted if
// addr is currently whitelisted.
func (p *Pair) Blacken(addr uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Whitelist.Contains(addr) {
		return errs.New(errs.IPWhitelisted, Uint32ToIP(addr), nil)
	}
	p.Blacklist.Add(addr)
	return nil
}

// Unblacken removes addr from the blacklist. It fails with
// IPNotBlacklisted if addr is not currently blacklisted.
func (p *Pair) Unblacken(addr uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Blacklist.Remove(addr) {
		return errs.New(errs.IPNotBlacklisted, Uint32ToIP(addr), nil)
	}
	return nil
}

// Whiten adds addr to the whitelist. It fails with IPBlacklisted if
// addr is currently blacklisted.
func (p *Pair) Whiten(addr uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Blacklist.Contains(addr) {
		return errs.New(errs.IPBlacklisted, Uint32ToIP(addr), nil)
	}
	p.Whitelist.Add(addr)
	return nil
}

// Unwhiten removes addr from the whitelist. It fails with
// IPNotWhitelisted if addr is not currently whitelisted.
func (p *Pair) Unwhiten(addr uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Whitelist.Remove(addr) {
		return errs.New(errs.IPNotWhitelisted, Uint32ToIP(addr), nil)
	}
	return nil
}

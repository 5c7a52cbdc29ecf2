package plugin

import "sync/atomic"

// Metadata is the informational subset of a bundle's manifest, carried
// alongside a loaded Instance for the status view.
type Metadata struct {
	Name        *string
	Author      *string
	Description *string
	Version     *string
}

// Instance is a loaded plugin: the value returned by its SetupFunc,
// read-only-by-convention metadata, a running flag, and the callbacks
// it registered against its Host during Setup. The host attaches
// QName, Metadata, and Running post-construction, mirroring the three
// attributes the source implementation bolts onto a Python instance
// after calling its factory.
type Instance struct {
	QName    string
	Metadata Metadata
	Running  atomic.Bool

	// Value is the opaque object SetupFunc returned.
	Value any

	Scheduled []*ScheduledCallback
	Commands  map[string]CommandFunc
}

// Load runs setup's SetupFunc with a fresh Host, then assembles an
// Instance from the result. Callers (internal/lifecycle) are
// responsible for qname validation and duplicate-load checks before
// calling Load.
func Load(qname string, setup SetupFunc, config map[string]any, meta Metadata) (*Instance, error) {
	host := newHost(qname)
	value, err := setup(host, config)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		QName:     qname,
		Metadata:  meta,
		Value:     value,
		Scheduled: host.scheduledCallbacks(),
		Commands:  host.commandSet(),
	}
	inst.Running.Store(true)
	return inst, nil
}

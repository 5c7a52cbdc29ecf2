package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordinance/internal/errs"
	"ordinance/internal/trigger"
)

func TestRegisterAndLookup(t *testing.T) {
	qname := "test.plugin.lookup"
	Register(qname, func(h *Host, config map[string]any) (any, error) {
		return "instance-value", nil
	})

	setup, ok := Lookup(qname)
	require.True(t, ok)
	v, err := setup(newHost(qname), nil)
	require.NoError(t, err)
	assert.Equal(t, "instance-value", v)
}

func TestRegisterTwicePanics(t *testing.T) {
	qname := "test.plugin.dup"
	Register(qname, func(h *Host, config map[string]any) (any, error) { return nil, nil })
	assert.Panics(t, func() {
		Register(qname, func(h *Host, config map[string]any) (any, error) { return nil, nil })
	})
}

func TestLoadAssemblesInstance(t *testing.T) {
	name := "decoy"
	meta := Metadata{Name: &name}
	inst, err := Load("honeypot", func(h *Host, config map[string]any) (any, error) {
		sc := h.Schedule("check", func(ctx context.Context, instance any) error { return nil })
		_, err := sc.AddPeriodic(60, "", false)
		if err != nil {
			return nil, err
		}
		if err := h.Command("status", func(ctx context.Context, instance any, args []string) (string, error) {
			return "ok", nil
		}); err != nil {
			return nil, err
		}
		return struct{ Port int }{Port: 2222}, nil
	}, map[string]any{"port": 2222}, meta)

	require.NoError(t, err)
	assert.Equal(t, "honeypot", inst.QName)
	assert.True(t, inst.Running.Load())
	require.Len(t, inst.Scheduled, 1)
	assert.Len(t, inst.Scheduled[0].Triggers.All(), 1)
	require.Contains(t, inst.Commands, "status")
}

func TestHostCommandDuplicateRejected(t *testing.T) {
	h := newHost("x")
	fn := func(ctx context.Context, instance any, args []string) (string, error) { return "", nil }
	require.NoError(t, h.Command("a", fn))
	err := h.Command("a", fn)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.PluginInvalid))
}

func TestScheduledCallbackTriggerDedup(t *testing.T) {
	h := newHost("x")
	sc := h.Schedule("cb", func(ctx context.Context, instance any) error { return nil })
	_, err := sc.AddPeriodic(60, "", false)
	require.NoError(t, err)
	_, err = sc.AddPeriodic(60, "", false)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.DuplicateTrigger))
}

func TestScheduledCallbackCalendarInvalid(t *testing.T) {
	h := newHost("x")
	sc := h.Schedule("cb", func(ctx context.Context, instance any) error { return nil })
	_, err := sc.AddCalendar(trigger.Align("never"), 0, "", false)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.InvalidTrigger))
}

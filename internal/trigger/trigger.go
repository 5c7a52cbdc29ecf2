// Package trigger implements Ordinance's Trigger Model: the four
// tagged variants a Scheduled Callback can register (calendar, delay,
// periodic, event), their structural-equality dedup, and the
// should-fire predicates the Scheduler evaluates every tick.
package trigger

import (
	"fmt"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"ordinance/internal/errs"
)

// Align names the wall-clock alignment window of a Calendar trigger.
type Align string

const (
	Day   Align = "day"
	Week  Align = "week"
	Month Align = "month"
)

// Kind tags which variant a Trigger is.
type Kind int

const (
	Calendar Kind = iota
	Delay
	Periodic
	Event
)

// Trigger is a tagged union over the four trigger variants. Exactly
// one of the kind-specific fields is meaningful, selected by Kind.
// Two triggers of the same Kind are structurally equal (the dedup
// relation used at registration) when their kind-specific fields match;
// ID and Daemonic never participate in that comparison.
type Trigger struct {
	ID       string
	Daemonic bool
	Kind     Kind

	// Calendar fields.
	AlignTo     Align
	SecondsInto float64

	// Delay fields.
	DelaySec float64

	// Periodic fields.
	PeriodSec float64

	// Event fields.
	Event string
}

// windowLength returns the length in seconds of the alignment window
// named by align. Month assumes the worst case of 28 days, matching
// the source implementation's conservative choice.
func windowLength(align Align) (float64, error) {
	const day = 60 * 60 * 24
	switch align {
	case Day:
		return day, nil
	case Week:
		return day * 7, nil
	case Month:
		return day * 28, nil
	default:
		return 0, errs.Newf(errs.InvalidTrigger, nil, "unknown calendar alignment %q", align)
	}
}

// wrapModulo reduces v into [0, length) by repeated addition/subtraction,
// matching the registration-time capping the spec requires for
// out-of-range seconds_into values.
func wrapModulo(v, length float64) float64 {
	for v < 0 {
		v += length
	}
	for v >= length {
		v -= length
	}
	return v
}

// NewCalendar constructs a Calendar trigger, wrapping secondsInto modulo
// the alignment window's length. An unknown alignment fails with
// InvalidTrigger.
func NewCalendar(alignTo Align, secondsInto float64, id string, daemonic bool) (*Trigger, error) {
	length, err := windowLength(alignTo)
	if err != nil {
		return nil, err
	}
	return &Trigger{
		ID:          id,
		Daemonic:    daemonic,
		Kind:        Calendar,
		AlignTo:     alignTo,
		SecondsInto: wrapModulo(secondsInto, length),
	}, nil
}

// NewDelay constructs a one-shot Delay trigger.
func NewDelay(delaySec float64, id string, daemonic bool) *Trigger {
	return &Trigger{ID: id, Daemonic: daemonic, Kind: Delay, DelaySec: delaySec}
}

// NewPeriodic constructs a Periodic trigger.
func NewPeriodic(periodSec float64, id string, daemonic bool) *Trigger {
	return &Trigger{ID: id, Daemonic: daemonic, Kind: Periodic, PeriodSec: periodSec}
}

// NewEvent constructs an Event trigger that fires only from an explicit
// dispatch, never from the tick loop.
func NewEvent(event string, id string, daemonic bool) *Trigger {
	return &Trigger{ID: id, Daemonic: daemonic, Kind: Event, Event: event}
}

// StructurallyEqual reports whether t and other are the same kind with
// identical kind-specific fields, ignoring ID and Daemonic. This is the
// relation the registry uses to reject duplicate registrations.
func (t *Trigger) StructurallyEqual(other *Trigger) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case Calendar:
		return t.AlignTo == other.AlignTo && t.SecondsInto == other.SecondsInto
	case Delay:
		return t.DelaySec == other.DelaySec
	case Periodic:
		return t.PeriodSec == other.PeriodSec
	case Event:
		return t.Event == other.Event
	default:
		return false
	}
}

// GenerateID returns a readable auto-generated trigger ID, used when a
// caller registers a trigger without supplying one.
func GenerateID() string {
	return "trigger-" + petname.Generate(2, "-")
}

// PeriodStart returns the start, in loc, of the alignment window
// containing now: local midnight for Day, local midnight on Monday for
// Week, local midnight on day 1 of the month for Month.
func PeriodStart(align Align, now time.Time) (time.Time, error) {
	loc := now.Location()
	y, m, d := now.Date()
	switch align {
	case Day:
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	case Week:
		midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
		offset := int(midnight.Weekday()) - int(time.Monday)
		if offset < 0 {
			offset += 7
		}
		return midnight.AddDate(0, 0, -offset), nil
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), nil
	default:
		return time.Time{}, errs.Newf(errs.InvalidTrigger, nil, "unknown calendar alignment %q", align)
	}
}

// ShouldFireCalendar reports whether now falls within ±granularity of
// the Calendar trigger's target moment within the current alignment
// window.
func (t *Trigger) ShouldFireCalendar(now time.Time, granularity time.Duration) (bool, error) {
	start, err := PeriodStart(t.AlignTo, now)
	if err != nil {
		return false, err
	}
	target := start.Add(time.Duration(t.SecondsInto * float64(time.Second)))
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= granularity, nil
}

// ShouldFireDelay reports whether totalElapsed falls within
// ±granularity of the Delay trigger's target, i.e. the single tick
// that brackets it. Callers are responsible for suppressing a second
// fire of the same trigger across ticks (see Scheduler.delayFired).
func (t *Trigger) ShouldFireDelay(totalElapsed time.Duration, granularity time.Duration) bool {
	diff := totalElapsed - time.Duration(t.DelaySec*float64(time.Second))
	if diff < 0 {
		diff = -diff
	}
	return diff <= granularity
}

// ShouldFirePeriodic reports whether totalElapsed mod period_sec falls
// within ±granularity of zero (on either side of the wraparound).
func (t *Trigger) ShouldFirePeriodic(totalElapsed time.Duration, granularity time.Duration) bool {
	period := time.Duration(t.PeriodSec * float64(time.Second))
	if period <= 0 {
		return false
	}
	mod := totalElapsed % period
	if mod > period-granularity {
		mod -= period
	}
	if mod < 0 {
		mod = -mod
	}
	return mod <= granularity
}

func (t *Trigger) String() string {
	switch t.Kind {
	case Calendar:
		return fmt.Sprintf("calendar(%s+%.0fs id=%s)", t.AlignTo, t.SecondsInto, t.ID)
	case Delay:
		return fmt.Sprintf("delay(%.0fs id=%s)", t.DelaySec, t.ID)
	case Periodic:
		return fmt.Sprintf("periodic(%.0fs id=%s)", t.PeriodSec, t.ID)
	case Event:
		return fmt.Sprintf("event(%s id=%s)", t.Event, t.ID)
	default:
		return fmt.Sprintf("trigger(unknown id=%s)", t.ID)
	}
}

// Package errs defines the error kinds shared across Ordinance's
// subsystems and the single Error type that carries them.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which subsystem failure occurred, independent of the
// wrapped cause or message. Callers match on Kind with Is, never on the
// formatted message.
type Kind int

const (
	_ Kind = iota

	ConfigNotFound
	ConfigSyntaxError
	InvalidConfigValue

	PluginInvalid
	PluginNotFound
	PluginAlreadyLoaded
	PluginEntryPointMissing
	PluginLoadingFailed

	InvalidTrigger
	DuplicateTrigger

	IPInvalid
	IPWhitelisted
	IPBlacklisted
	IPNotBlacklisted
	IPNotWhitelisted
	CorruptStore

	FirewallSetupFailed

	SinkNotFound
	SinkAlreadyEnabled
	SinkAlreadyDisabled

	NotRoot
)

var names = map[Kind]string{
	ConfigNotFound:          "ConfigNotFound",
	ConfigSyntaxError:       "ConfigSyntaxError",
	InvalidConfigValue:      "InvalidConfigValue",
	PluginInvalid:           "PluginInvalid",
	PluginNotFound:          "PluginNotFound",
	PluginAlreadyLoaded:     "PluginAlreadyLoaded",
	PluginEntryPointMissing: "PluginEntryPointMissing",
	PluginLoadingFailed:     "PluginLoadingFailed",
	InvalidTrigger:          "InvalidTrigger",
	DuplicateTrigger:        "DuplicateTrigger",
	IPInvalid:               "IPInvalid",
	IPWhitelisted:           "IPWhitelisted",
	IPBlacklisted:           "IPBlacklisted",
	IPNotBlacklisted:        "IPNotBlacklisted",
	IPNotWhitelisted:        "IPNotWhitelisted",
	CorruptStore:            "CorruptStore",
	FirewallSetupFailed:     "FirewallSetupFailed",
	SinkNotFound:            "SinkNotFound",
	SinkAlreadyEnabled:      "SinkAlreadyEnabled",
	SinkAlreadyDisabled:     "SinkAlreadyDisabled",
	NotRoot:                 "NotRoot",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "UnknownKind"
}

// Error is the single error type used across Ordinance. It carries a
// Kind for programmatic matching, a human-readable message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errs.New(errs.PluginInvalid, "", nil)) or,
// more idiomatically, errs.Has(err, errs.PluginInvalid).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf constructs an *Error of the given kind with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Has reports whether err (or something it wraps) is an *Error of kind.
func Has(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

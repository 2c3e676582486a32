// Package options is the option-parsing façade spec.md keeps out of
// the core ("specified only by interface"): Option is the interface,
// the With* constructors are the façade's concrete vocabulary, and
// OptionSet is the per-socket state the protocol engines read from.
package options

import (
	"time"

	"github.com/spscale/spscale/spserr"
)

// OptionSet holds every recognized option, per spec.md §6, with the
// documented defaults.
type OptionSet struct {
	SendTimeout    *time.Duration // default: none (no deadline)
	RecvTimeout    *time.Duration // default: none
	SendPriority   uint8          // default 8, range 1..=16
	RecvPriority   uint8          // default 8, range 1..=16
	TCPNoDelay     bool           // default false
	RecvMaxSize    uint64         // default 1 MiB; 0 = unlimited
	SurveyDeadline time.Duration  // default 1s
	ResendInterval time.Duration  // default 60s
}

const (
	DefaultRecvMaxSize    = 1 << 20
	DefaultSurveyDeadline = time.Second
	DefaultResendInterval = 60 * time.Second
	DefaultPriority       = 8
)

// Default returns an OptionSet populated with spec.md §6's defaults.
func Default() OptionSet {
	return OptionSet{
		SendPriority:   DefaultPriority,
		RecvPriority:   DefaultPriority,
		RecvMaxSize:    DefaultRecvMaxSize,
		SurveyDeadline: DefaultSurveyDeadline,
		ResendInterval: DefaultResendInterval,
	}
}

// Option mutates an OptionSet. Implementations validate their own
// argument before applying it, surfacing spserr.InvalidInput on
// malformed input (e.g. priority out of 1..=16).
type Option interface {
	Apply(*OptionSet) error
}

type optionFunc func(*OptionSet) error

func (f optionFunc) Apply(o *OptionSet) error { return f(o) }

// WithSendTimeout sets send_timeout to d. It cannot restore the default
// of no timeout.
func WithSendTimeout(d time.Duration) Option {
	return optionFunc(func(o *OptionSet) error {
		o.SendTimeout = &d
		return nil
	})
}

// WithRecvTimeout sets recv_timeout.
func WithRecvTimeout(d time.Duration) Option {
	return optionFunc(func(o *OptionSet) error {
		o.RecvTimeout = &d
		return nil
	})
}

func validatePriority(p int) error {
	if p < 1 || p > 16 {
		return spserr.New(spserr.InvalidInput, "priority %d out of range 1..=16", p)
	}
	return nil
}

// WithSendPriority sets send_priority, range 1..=16.
func WithSendPriority(p int) Option {
	return optionFunc(func(o *OptionSet) error {
		if err := validatePriority(p); err != nil {
			return err
		}
		o.SendPriority = uint8(p)
		return nil
	})
}

// WithRecvPriority sets recv_priority, range 1..=16.
func WithRecvPriority(p int) Option {
	return optionFunc(func(o *OptionSet) error {
		if err := validatePriority(p); err != nil {
			return err
		}
		o.RecvPriority = uint8(p)
		return nil
	})
}

// WithTCPNoDelay toggles TCP_NODELAY on TCP-scheme endpoints.
func WithTCPNoDelay(v bool) Option {
	return optionFunc(func(o *OptionSet) error {
		o.TCPNoDelay = v
		return nil
	})
}

// WithRecvMaxSize bounds the accepted frame length; 0 means unlimited.
func WithRecvMaxSize(n uint64) Option {
	return optionFunc(func(o *OptionSet) error {
		o.RecvMaxSize = n
		return nil
	})
}

// WithSurveyDeadline sets the Surveyor collection window.
func WithSurveyDeadline(d time.Duration) Option {
	return optionFunc(func(o *OptionSet) error {
		if d <= 0 {
			return spserr.New(spserr.InvalidInput, "survey deadline must be positive")
		}
		o.SurveyDeadline = d
		return nil
	})
}

// WithResendInterval sets the Req resend interval.
func WithResendInterval(d time.Duration) Option {
	return optionFunc(func(o *OptionSet) error {
		if d <= 0 {
			return spserr.New(spserr.InvalidInput, "resend interval must be positive")
		}
		o.ResendInterval = d
		return nil
	})
}

// Apply runs every option against o in order, stopping at the first
// error.
func Apply(o *OptionSet, opts ...Option) error {
	for _, opt := range opts {
		if err := opt.Apply(o); err != nil {
			return err
		}
	}
	return nil
}

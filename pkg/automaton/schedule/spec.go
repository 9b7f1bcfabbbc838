// Package schedule implements the recurring-job scheduler: parsed interval
// or cron specs, job descriptors with per-job overlap policy, and a single
// timer loop that fires due jobs at a fixed cadence.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	autoerrors "github.com/randalmurphal/automaton/pkg/automaton/errors"
)

// SpecKind distinguishes interval from cron schedules.
type SpecKind int

const (
	// KindInterval fires at a fixed duration cadence.
	KindInterval SpecKind = iota
	// KindCron fires per a cron expression.
	KindCron
)

// specParser accepts standard 5-field cron expressions plus descriptors
// ("@hourly", "@every 5m").
var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Spec is a parsed schedule. The zero value is invalid; build one with
// ParseSpec or Every.
type Spec struct {
	Kind  SpecKind
	Every time.Duration // interval cadence, KindInterval only
	Expr  string        // original cron expression, KindCron only

	sched cron.Schedule
}

// ParseSpec parses a schedule string at registration time, so malformed
// specs fail synchronously instead of at run time.
//
// Supported formats:
//   - Cron: "*/5 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m", "500ms"
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, &autoerrors.RegistrationError{
			Op: "schedule", Name: raw, Reason: "empty schedule spec",
		}
	}

	if strings.HasPrefix(raw, "@every ") {
		d, err := time.ParseDuration(strings.TrimPrefix(raw, "@every "))
		if err != nil {
			return Spec{}, &autoerrors.RegistrationError{
				Op: "schedule", Name: raw, Reason: "invalid interval", Err: err,
			}
		}
		return Every(d)
	}

	// Bare durations are the common case for automation jobs ("5m", "1h").
	if d, err := time.ParseDuration(raw); err == nil {
		return Every(d)
	}

	sched, err := specParser.Parse(raw)
	if err != nil {
		return Spec{}, &autoerrors.RegistrationError{
			Op: "schedule", Name: raw, Reason: "invalid schedule spec", Err: err,
		}
	}
	return Spec{Kind: KindCron, Expr: raw, sched: sched}, nil
}

// Every builds a fixed-interval spec.
func Every(d time.Duration) (Spec, error) {
	if d <= 0 {
		return Spec{}, &autoerrors.RegistrationError{
			Op: "schedule", Name: d.String(), Reason: "interval must be positive",
		}
	}
	return Spec{Kind: KindInterval, Every: d}, nil
}

// MustEvery is Every for statically known intervals; it panics on error.
func MustEvery(d time.Duration) Spec {
	s, err := Every(d)
	if err != nil {
		panic(err)
	}
	return s
}

// valid reports whether the spec was built by ParseSpec or Every.
func (s Spec) valid() bool {
	return (s.Kind == KindInterval && s.Every > 0) || (s.Kind == KindCron && s.sched != nil)
}

// Next computes the fire time following after. For intervals this is
// after + Every, so cadence is anchored to the scheduled fire time, not to
// run completion: a job every 5 units started at t0 fires at t0+5, t0+10,
// regardless of run durations.
func (s Spec) Next(after time.Time) time.Time {
	switch s.Kind {
	case KindInterval:
		return after.Add(s.Every)
	case KindCron:
		return s.sched.Next(after)
	default:
		return time.Time{}
	}
}

// String returns the original textual form of the spec.
func (s Spec) String() string {
	if s.Kind == KindInterval {
		return fmt.Sprintf("@every %s", s.Every)
	}
	return s.Expr
}

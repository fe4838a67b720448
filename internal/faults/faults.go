// Package faults carries the engine's error taxonomy. Components classify
// failures at the boundary where they occur; callers branch on the kind, not
// on message text.
package faults

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	// TransientUpstream: network error or 5xx from a source or webhook.
	TransientUpstream Kind = "transient_upstream"
	// PermanentUpstream: 4xx other than 429. Not retried.
	PermanentUpstream Kind = "permanent_upstream"
	// RateLimited: 429. Retried after the advertised delay.
	RateLimited Kind = "rate_limited"
	// DataIntegrity: contradictory or regressed data. Row skipped.
	DataIntegrity Kind = "data_integrity"
	// Storage: persistence failure. Retried once, then propagated.
	Storage Kind = "storage"
	// ConfigurationInvalid: bad alert or source configuration. Needs a human.
	ConfigurationInvalid Kind = "configuration_invalid"
)

type Fault struct {
	Kind Kind
	Msg  string
	Err  error

	// RetryAfter is set on RateLimited faults when the upstream advertised
	// a delay.
	RetryAfter time.Duration
}

func (f *Fault) Error() string {
	if f.Err != nil {
		if f.Msg != "" {
			return f.Msg + ": " + f.Err.Error()
		}
		return f.Err.Error()
	}
	return f.Msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Fault {
	return &Fault{Kind: kind, Msg: msg, Err: err}
}

func RateLimitedAfter(d time.Duration, msg string) *Fault {
	return &Fault{Kind: RateLimited, Msg: msg, RetryAfter: d}
}

// KindOf unwraps err to its Fault kind. Unclassified errors report ok=false.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable reports whether the failure may succeed on a later attempt.
// Unclassified errors count as retryable; most of them are I/O.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return true
	}
	switch k {
	case TransientUpstream, RateLimited, Storage:
		return true
	default:
		return false
	}
}

// RetryAfterOf extracts the advertised delay from a RateLimited fault, or 0.
func RetryAfterOf(err error) time.Duration {
	var f *Fault
	if errors.As(err, &f) && f.Kind == RateLimited {
		return f.RetryAfter
	}
	return 0
}

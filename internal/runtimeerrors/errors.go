// Package runtimeerrors defines the error kinds used across the service
// runtime. Every fallible operation in idregistry, objectmodel,
// service, factory, configengine, activity and moduleloader wraps one of
// these sentinels with fmt.Errorf("...: %w", ...) so callers can recover
// the kind with errors.Is/errors.As while still reading a useful message.
package runtimeerrors

import "errors"

// Kind identifies one of the runtime's error categories.
type Kind string

const (
	KindConfigurationInvalid Kind = "configuration_invalid"
	KindNotFound             Kind = "not_found"
	KindTypeMismatch         Kind = "type_mismatch"
	KindLifecycleViolation   Kind = "lifecycle_violation"
	KindResourceUnavailable  Kind = "resource_unavailable"
	KindRuntimeFailure       Kind = "runtime_failure"
	KindCancelled            Kind = "cancelled"
)

// Sentinel errors, one per Kind. Wrap with fmt.Errorf("%w: detail", Sentinel).
var (
	ErrConfigurationInvalid = errors.New(string(KindConfigurationInvalid))
	ErrNotFound             = errors.New(string(KindNotFound))
	ErrTypeMismatch         = errors.New(string(KindTypeMismatch))
	ErrLifecycleViolation   = errors.New(string(KindLifecycleViolation))
	ErrResourceUnavailable  = errors.New(string(KindResourceUnavailable))
	ErrRuntimeFailure       = errors.New(string(KindRuntimeFailure))
	ErrCancelled            = errors.New(string(KindCancelled))
)

// KindOf walks err's chain and returns the first matching Kind, or "" if
// none of the sentinels are present.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrConfigurationInvalid):
		return KindConfigurationInvalid
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTypeMismatch):
		return KindTypeMismatch
	case errors.Is(err, ErrLifecycleViolation):
		return KindLifecycleViolation
	case errors.Is(err, ErrResourceUnavailable):
		return KindResourceUnavailable
	case errors.Is(err, ErrRuntimeFailure):
		return KindRuntimeFailure
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return ""
	}
}

// ErrorCollection aggregates multiple configuration_invalid errors so a
// configuration load can report every mismatch at once instead of
// aborting on the first.
type ErrorCollection struct {
	errs []error
}

// Add records err in the collection. A nil err is ignored.
func (c *ErrorCollection) Add(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// HasErrors reports whether any error has been recorded.
func (c *ErrorCollection) HasErrors() bool {
	return len(c.errs) > 0
}

// Errors returns the recorded errors in the order they were added.
func (c *ErrorCollection) Errors() []error {
	return append([]error(nil), c.errs...)
}

// GetSummary renders every recorded error, one per line in the order they
// were added, for inclusion in an aggregated configuration_invalid message.
func (c *ErrorCollection) GetSummary() string {
	summary := ""
	for i, err := range c.errs {
		if i > 0 {
			summary += "\n"
		}
		summary += err.Error()
	}
	return summary
}

// AsError returns a single configuration_invalid error wrapping the
// aggregated summary, or nil if the collection is empty.
func (c *ErrorCollection) AsError() error {
	if !c.HasErrors() {
		return nil
	}
	return errors.Join(ErrConfigurationInvalid, errors.New(c.GetSummary()))
}

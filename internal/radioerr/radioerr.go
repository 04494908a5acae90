// Package radioerr defines the closed set of error kinds every
// component in radiod degrades on, per spec §7. Components classify
// failures into one of these kinds rather than propagating raw errors
// to listeners; every kind here has a defined, local disposition.
package radioerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("%w: ...", Kind) and unwrap with
// errors.Is.
var (
	// Unavailable is a transient I/O failure: engine socket refused, feed
	// timeout. Retried locally or at the next scheduler tick.
	Unavailable = errors.New("unavailable")

	// QuotaExceeded is a provider-side quota exhaustion. Absorbed by the
	// provider chain; never surfaced to listeners.
	QuotaExceeded = errors.New("quota exceeded")

	// RateLimited is a provider-side rate limit with a retry-after hint.
	RateLimited = errors.New("rate limited")

	// InvalidInput is malformed metadata or a bad path. Fatal for the
	// single request; logged; the caller moves on.
	InvalidInput = errors.New("invalid input")

	// StateConflict means MarkScheduled returned false: the calling task
	// exits skipped. This is expected, not an error condition.
	StateConflict = errors.New("state conflict")

	// NoInput means all external data sources failed for content
	// generation; the generator exits without overwriting artifacts.
	NoInput = errors.New("no input")

	// MixFailed means the external mix command exited non-zero. Same
	// disposition as NoInput.
	MixFailed = errors.New("mix failed")

	// Fatal means a required local resource is unusable (store file
	// unwritable, socket directory missing, configuration incomplete).
	// The supervisor logs and refuses to start the affected task; other
	// tasks continue.
	Fatal = errors.New("fatal")
)

// Kind returns the sentinel kind wrapped by err, or nil if err does not
// wrap one of the kinds above.
func Kind(err error) error {
	for _, k := range []error{Unavailable, QuotaExceeded, RateLimited, InvalidInput, StateConflict, NoInput, MixFailed, Fatal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

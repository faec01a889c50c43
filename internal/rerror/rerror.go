// Package rerror defines the error taxonomy shared across the engine,
// channel, and demod packages.
package rerror

import "errors"

// Sentinel errors matching the taxonomy described for the pipeline.
// Callers wrap these with fmt.Errorf("...: %w", ErrX) to attach context.
var (
	// ErrConfig indicates an invalid configuration. Fatal at startup for
	// global keys; a per-channel ErrConfig only skips that channel.
	ErrConfig = errors.New("config error")

	// ErrFrontEndStalled indicates no sample arrived from the front end
	// within the configured timeout.
	ErrFrontEndStalled = errors.New("front end stalled")

	// ErrFrontEndResync indicates the ingester is draining and
	// resynchronizing after a stall.
	ErrFrontEndResync = errors.New("front end resynchronizing")

	// ErrSampleRateMismatch indicates Fs*Fo arithmetic is not
	// integer-exact on block boundaries.
	ErrSampleRateMismatch = errors.New("sample rate mismatch")

	// ErrPassbandOutOfRange indicates a channel's [min_IF, max_IF]
	// extends outside [-Fo/2, +Fo/2]; the mask is clamped, not rejected.
	ErrPassbandOutOfRange = errors.New("passband out of range")

	// ErrNetwork indicates an output send failure. Logged per channel;
	// the channel keeps producing samples and retries next block.
	ErrNetwork = errors.New("network error")

	// ErrInternalInvariant indicates a broken internal invariant (e.g.
	// a zero gain_change). Fatal within the channel that raised it.
	ErrInternalInvariant = errors.New("internal invariant violation")
)

// Kind classifies an error for the status stream and for deciding how
// far it propagates (§7): a channel-scoped error never stops another
// channel; a forward-stage error stops the whole pipeline; an ingester
// error pauses the forward stage until resynchronized.
type Kind int

const (
	KindChannel Kind = iota
	KindPipeline
	KindIngest
)

// ClassOf returns the propagation class for a sentinel error, defaulting
// to KindChannel for anything unrecognized (the conservative choice:
// contain the blast radius to one channel).
func ClassOf(err error) Kind {
	switch {
	case errors.Is(err, ErrFrontEndStalled), errors.Is(err, ErrFrontEndResync):
		return KindIngest
	case errors.Is(err, ErrInternalInvariant):
		return KindChannel
	default:
		return KindChannel
	}
}

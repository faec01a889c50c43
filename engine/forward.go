package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// leg is the subset of OutputLeg the forward stage needs: a way to
// deliver a published block and learn whether the leg is still wanted.
type leg interface {
	deliver(block *ForwardBlock)
	stopped() bool
}

// ForwardStage holds the overlap-save input history and runs one
// forward FFT per block, fanning the result out to every attached
// output leg (spec.md §4.2).
//
// Grounded on the teacher's dsp/convolution_stage.go (the stage/plan
// pairing and zero-padding pattern) and CWBudde-algo-dsp's
// dsp/conv/streaming_overlap_save.go (the history-shift / discard
// overlap-save bookkeeping, generalized here from a single consumer to
// a fan-out of attached legs).
type ForwardStage struct {
	fe *FrontEnd

	cplxPlan *algofft.Plan[complex64]
	realPlan *algofft.PlanRealT[float32, complex64]

	history     []complex64 // used when fe.Complex
	realHistory []float32   // used when !fe.Complex

	blockIndex uint64
	blockTime  time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	legs    map[leg]struct{}
	pending map[leg]bool // attach/detach requests deferred to next block
}

// NewForwardStage builds the plans and history buffers for fe.
func NewForwardStage(fe *FrontEnd, logger *slog.Logger) (*ForwardStage, error) {
	fs := &ForwardStage{
		fe:        fe,
		blockTime: time.Duration(fe.BlockMs * float64(time.Millisecond)),
		logger:    logger,
		legs:      make(map[leg]struct{}),
		pending:   make(map[leg]bool),
	}

	if fe.Complex {
		plan, err := algofft.NewPlan32(fe.Ntf)
		if err != nil {
			return nil, fmt.Errorf("forward stage: complex FFT plan: %w", err)
		}
		fs.cplxPlan = plan
		fs.history = make([]complex64, fe.Ntf)
	} else {
		plan, err := algofft.NewPlanReal32(fe.Ntf)
		if err != nil {
			return nil, fmt.Errorf("forward stage: real FFT plan: %w", err)
		}
		fs.realPlan = plan
		fs.realHistory = make([]float32, fe.Ntf)
	}

	return fs, nil
}

// Attach registers a leg to receive blocks starting at the next block
// boundary (spec.md §4.2 item 3: attach/detach requests targeting block
// k take effect at k+1).
func (fs *ForwardStage) Attach(l leg) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.pending[l] = true
}

// Detach stops delivering blocks to l starting at the next block
// boundary.
func (fs *ForwardStage) Detach(l leg) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.pending[l] = false
}

// LegCount returns the number of currently attached legs. ProcessBlock
// does not consult it: a block is transformed and published even when
// no leg is attached.
func (fs *ForwardStage) LegCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.legs)
}

// applyPending folds deferred attach/detach requests into the live leg
// set. Called once per block, before publication.
func (fs *ForwardStage) applyPending() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for l, attach := range fs.pending {
		if attach {
			fs.legs[l] = struct{}{}
		} else {
			delete(fs.legs, l)
		}
	}
	fs.pending = make(map[leg]bool)

	// Reap legs whose consumer already stopped, so a crashed or
	// torn-down channel doesn't keep holding a barrier slot.
	for l := range fs.legs {
		if l.stopped() {
			delete(fs.legs, l)
		}
	}
}

// snapshotLegs returns the currently attached legs under the short-held
// lock (spec.md §5: "the attachment list is mutated under a short-held
// lock held only during attach/detach and at the barrier release
// point").
func (fs *ForwardStage) snapshotLegs() []leg {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]leg, 0, len(fs.legs))
	for l := range fs.legs {
		out = append(out, l)
	}
	return out
}

// ProcessBlock advances the block clock by one block: it shifts the
// overlap-save history, runs the forward transform, publishes the
// resulting ForwardBlock to every attached leg, and waits (with a
// one-block soft deadline) for every leg to acknowledge consumption
// before returning. newSamples must have length fe.L; n0 is the
// ingester's noise-spectral-density estimate for this block.
func (fs *ForwardStage) ProcessBlock(ctx context.Context, newSamples interface{}, n0 float64) (*ForwardBlock, error) {
	fs.applyPending()

	var bins []complex64
	var err error
	if fs.fe.Complex {
		samples, ok := newSamples.([]complex64)
		if !ok || len(samples) != fs.fe.L {
			return nil, fmt.Errorf("%w: expected %d complex samples", rerror.ErrInternalInvariant, fs.fe.L)
		}
		bins, err = fs.advanceComplex(samples)
	} else {
		samples, ok := newSamples.([]float32)
		if !ok || len(samples) != fs.fe.L {
			return nil, fmt.Errorf("%w: expected %d real samples", rerror.ErrInternalInvariant, fs.fe.L)
		}
		bins, err = fs.advanceReal(samples)
	}
	if err != nil {
		return nil, err
	}

	fs.blockIndex++
	legs := fs.snapshotLegs()
	block := newForwardBlock(fs.blockIndex, bins, n0, len(legs))

	for _, l := range legs {
		l.deliver(block)
	}

	fs.awaitConsumption(ctx, block, legs)
	return block, nil
}

// advanceComplex shifts the M-1 overlap prefix forward, appends the new
// L samples, and runs the complex-to-complex forward transform.
func (fs *ForwardStage) advanceComplex(newSamples []complex64) ([]complex64, error) {
	overlap := fs.fe.M - 1
	copy(fs.history, fs.history[fs.fe.L:fs.fe.L+overlap])
	copy(fs.history[overlap:overlap+fs.fe.L], newSamples)
	for i := overlap + fs.fe.L; i < len(fs.history); i++ {
		fs.history[i] = 0
	}

	bins := make([]complex64, fs.fe.Ntf)
	if err := fs.cplxPlan.Forward(bins, fs.history); err != nil {
		return nil, fmt.Errorf("forward stage: complex FFT: %w", err)
	}
	return bins, nil
}

// advanceReal is the real-input analog of advanceComplex, using the
// real-to-complex plan and producing Ntf/2+1 bins.
func (fs *ForwardStage) advanceReal(newSamples []float32) ([]complex64, error) {
	overlap := fs.fe.M - 1
	copy(fs.realHistory, fs.realHistory[fs.fe.L:fs.fe.L+overlap])
	copy(fs.realHistory[overlap:overlap+fs.fe.L], newSamples)
	for i := overlap + fs.fe.L; i < len(fs.realHistory); i++ {
		fs.realHistory[i] = 0
	}

	bins := make([]complex64, fs.fe.Ntf/2+1)
	if err := fs.realPlan.Forward(bins, fs.realHistory); err != nil {
		return nil, fmt.Errorf("forward stage: real FFT: %w", err)
	}
	return bins, nil
}

// awaitConsumption waits for every leg's acknowledgment, up to a
// one-block soft deadline (spec.md §4.2 item 4, §5 "Cancellation and
// timeouts"). The wait ends when every leg has acknowledged, when ctx
// is cancelled, or at the deadline, which only logs a warning: a late
// leg is not marked laggy or detached, and it keeps its reference to
// block.
func (fs *ForwardStage) awaitConsumption(ctx context.Context, block *ForwardBlock, legs []leg) {
	if len(legs) == 0 {
		return
	}
	timer := time.NewTimer(fs.blockTime)
	defer timer.Stop()

	select {
	case <-block.Done():
		return
	case <-timer.C:
		if fs.logger != nil {
			fs.logger.Warn("forward stage: block consumption deadline exceeded",
				"block", block.Index, "legs", len(legs))
		}
		return
	case <-ctx.Done():
		return
	}
}

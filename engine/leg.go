package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// LegConfig is the parameter set an OutputLeg is built or rebuilt from
// (spec.md §4.3): tuning frequency, passband, window shape, and the
// leg's own output sample rate.
type LegConfig struct {
	Freq   float64 // f0, Hz, absolute
	MinIF  float64 // Hz, relative to Freq
	MaxIF  float64
	Beta   float64 // Kaiser window parameter
	Fo     float64 // leg output sample rate, Hz
	ISB    bool    // independent sideband / conjugate flag
}

// LegBlock is the Lo-sample complex baseband block an OutputLeg hands to
// its demodulator once per forward block (spec.md §4.3 step 5).
type LegBlock struct {
	Index   uint64
	Samples []complex64
	N0      float64
}

// legUpdate is one entry in a channel's parameter update queue
// (spec.md §4.4). cfg is a complete configuration; full marks a filter
// change that forces a mask rebuild, while a non-full update only
// carries a new frequency.
type legUpdate struct {
	cfg  LegConfig
	full bool // true: filter/window changed, rebuild mask; false: retune only
}

// OutputLeg is a single channel's consumer of the shared forward
// transform: it owns its mask, its own (smaller) inverse transform, and
// the overlap-save discard bookkeeping for its own block size
// (spec.md §3 "Ownership", §4.3).
type OutputLeg struct {
	fe     *FrontEnd
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	cfg     LegConfig
	no, mo  int
	lo      int
	tuneBin int
	mask    []complex64
	invPlan *algofft.Plan[complex64]

	updates chan legUpdate
	out     chan<- LegBlock

	stopped_ atomic.Bool
}

// NewOutputLeg builds a leg against a fixed front end and an initial
// configuration, constructing its inverse-transform plan and frequency
// mask. out receives one LegBlock per forward block consumed.
func NewOutputLeg(fe *FrontEnd, name string, cfg LegConfig, out chan<- LegBlock, logger *slog.Logger) (*OutputLeg, error) {
	no, mo, lo, err := computeLegSizes(fe, cfg.Fo)
	if err != nil {
		return nil, fmt.Errorf("leg %s: %w", name, err)
	}

	plan, err := algofft.NewPlan32(no)
	if err != nil {
		return nil, fmt.Errorf("leg %s: inverse FFT plan: %w", name, err)
	}

	l := &OutputLeg{
		fe:      fe,
		name:    name,
		logger:  logger,
		cfg:     cfg,
		no:      no,
		mo:      mo,
		lo:      lo,
		invPlan: plan,
		updates: make(chan legUpdate, 16),
		out:     out,
	}
	if err := l.rebuild(cfg); err != nil {
		return nil, fmt.Errorf("leg %s: %w", name, err)
	}
	return l, nil
}

// computeLegSizes derives No, Mo, Lo for an output sample rate fo by
// decimating the shared transform actually in use, fe.Ntf, rather than
// the pre-padding ideal N: the bins a leg slices out of a published
// block are spaced Fs/Ntf apart (block.bin wraps modulo fe.Ntf), so a
// leg's own transform size and tuning bin have to live on that same
// grid or the extracted spectrum and the leg's inverse transform
// disagree about what rate they represent.
//
// No = Ntf*Fo/Fs is the leg's transform size (the same time window as
// the shared block, resampled to Fo). Lo = L*Fo/Fs is the decimated
// count of genuinely new samples the front end contributed this block.
// Mo is derived from the two, Mo = No - Lo + 1, rather than demanded to
// equal M*Fo/Fs independently — M's own decimation is essentially never
// integer-exact (M depends on the overlap factor, not on Fo), while No
// and Lo decimate quantities that scale linearly with Fo by
// construction.
func computeLegSizes(fe *FrontEnd, fo float64) (no, mo, lo int, err error) {
	if fo <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: output rate must be positive, got %g", rerror.ErrConfig, fo)
	}
	noF := float64(fe.Ntf) * fo / fe.Fs
	loF := float64(fe.L) * fo / fe.Fs
	if !isIntegral(noF) || !isIntegral(loF) {
		return 0, 0, 0, fmt.Errorf("%w: Fs=%g, Fo=%g not integer-exact for Ntf=%d, L=%d",
			rerror.ErrSampleRateMismatch, fe.Fs, fo, fe.Ntf, fe.L)
	}
	no = int(noF + 0.5)
	lo = int(loF + 0.5)
	mo = no - lo + 1
	if lo <= 0 || mo <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: Lo <= 0 or Mo <= 0 (No=%d, Lo=%d, Mo=%d)", rerror.ErrConfig, no, lo, mo)
	}
	return no, mo, lo, nil
}

func isIntegral(x float64) bool {
	const eps = 1e-6
	r := x - float64(int64(x+0.5))
	if r < 0 {
		r = -r
	}
	return r < eps
}

// Lo returns the number of baseband samples this leg delivers per
// forward block.
func (l *OutputLeg) Lo() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lo
}

// Retune deposits a frequency-only parameter update, taking effect at
// the next block (spec.md §4.4).
func (l *OutputLeg) Retune(freq float64) {
	l.mu.Lock()
	cfg := l.cfg
	l.mu.Unlock()
	cfg.Freq = freq
	l.updates <- legUpdate{cfg: cfg, full: false}
}

// UpdateFilter deposits a full parameter update (passband, window, or
// output rate change), forcing a mask rebuild at the next block.
func (l *OutputLeg) UpdateFilter(cfg LegConfig) {
	l.updates <- legUpdate{cfg: cfg, full: true}
}

// Stop marks the leg for teardown. From then on deliver acknowledges
// blocks without processing them, and the forward stage drops the leg
// from its attachment set at the next block boundary.
func (l *OutputLeg) Stop() {
	l.stopped_.Store(true)
}

func (l *OutputLeg) stopped() bool {
	return l.stopped_.Load()
}

// drainUpdates applies every queued parameter update in order, rebuilding
// the mask at most once even if several updates arrived since the last
// block (spec.md §4.4: "no partial mask is ever multiplied against a
// block").
func (l *OutputLeg) drainUpdates() {
	var latest LegConfig
	var needRebuild, any bool
	for {
		select {
		case u := <-l.updates:
			if u.full || !any {
				latest = u.cfg
			} else {
				latest.Freq = u.cfg.Freq
			}
			needRebuild = needRebuild || u.full
			any = true
		default:
			if !any {
				return
			}
			if needRebuild {
				if err := l.rebuild(latest); err != nil {
					if l.logger != nil {
						l.logger.Error("leg: mask rebuild failed", "leg", l.name, "err", err)
					}
					return
				}
			} else {
				l.mu.Lock()
				l.cfg.Freq = latest.Freq
				l.tuneBin = l.fe.BinFreq(latest.Freq)
				l.mu.Unlock()
			}
			return
		}
	}
}

// rebuild recomputes sizes (if Fo changed), the inverse plan (if size
// changed), and the frequency-domain mask from cfg. Called at
// construction and whenever a filter-affecting parameter update drains.
func (l *OutputLeg) rebuild(cfg LegConfig) error {
	no, mo, lo, err := computeLegSizes(l.fe, cfg.Fo)
	if err != nil {
		return err
	}

	mask, clamped, err := designMask(cfg.MinIF, cfg.MaxIF, cfg.Fo, cfg.Beta, mo, no)
	if err != nil {
		return err
	}
	if clamped && l.logger != nil {
		l.logger.Warn("leg: passband clamped to output Nyquist range",
			"leg", l.name, "min_if", cfg.MinIF, "max_if", cfg.MaxIF, "fo", cfg.Fo)
	}

	var plan *algofft.Plan[complex64]
	if no != l.no || l.invPlan == nil {
		plan, err = algofft.NewPlan32(no)
		if err != nil {
			return fmt.Errorf("inverse FFT plan: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.no, l.mo, l.lo = no, mo, lo
	l.mask = mask
	l.tuneBin = l.fe.BinFreq(cfg.Freq)
	if plan != nil {
		l.invPlan = plan
	}
	return nil
}

// deliver extracts this leg's No bins from the shared block (with
// circular wrap across DC and, for a real-input forward transform,
// conjugate-mirror reconstruction of negative frequencies), multiplies
// by the mask, runs the inverse transform, discards the Mo-1 overlap
// prefix, and forwards the remaining Lo samples downstream
// (spec.md §4.3 steps 1-5).
func (l *OutputLeg) deliver(block *ForwardBlock) {
	defer block.Ack()

	if l.stopped() {
		return
	}
	l.drainUpdates()

	l.mu.Lock()
	no, mo, lo := l.no, l.mo, l.lo
	tuneBin := l.tuneBin
	mask := l.mask
	plan := l.invPlan
	l.mu.Unlock()

	extracted := make([]complex64, no)
	for j := 0; j < no; j++ {
		extracted[j] = block.bin(tuneBin+j, l.fe.Ntf, !l.fe.Complex)
	}
	for j := 0; j < no; j++ {
		extracted[j] *= mask[j]
	}

	timeDomain := make([]complex64, no)
	if err := plan.Inverse(timeDomain, extracted); err != nil {
		if l.logger != nil {
			l.logger.Error("leg: inverse FFT failed", "leg", l.name, "err", err)
		}
		return
	}

	samples := make([]complex64, lo)
	copy(samples, timeDomain[mo-1:mo-1+lo])

	select {
	case l.out <- LegBlock{Index: block.Index, Samples: samples, N0: block.N0}:
	default:
		if l.logger != nil {
			l.logger.Warn("leg: demodulator backpressured, dropping block", "leg", l.name, "block", block.Index)
		}
	}
}

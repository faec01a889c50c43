package engine

import "sync"

// ForwardBlock is the frequency-domain array produced once per block by
// the forward transform, shared read-only by every attached output leg
// (spec.md §3, §9 "Shared forward block"). It is published under a
// pub-sub barrier with reference counting rather than the raw pointer
// the design notes describe: attach/detach happens under a short-lived
// lock, and the block is only recycled once every leg that was attached
// when it was published has acknowledged consumption.
type ForwardBlock struct {
	Index uint64      // monotonically increasing block index
	Bins  []complex64 // Ntf/2+1 (real input) or Ntf (complex input) bins
	N0    float64     // noise spectral density estimate for this block

	mu      sync.Mutex
	pending int
	done    chan struct{}
}

// newForwardBlock allocates a published block with refcount legCount.
// done is closed once every leg has called Ack.
func newForwardBlock(index uint64, bins []complex64, n0 float64, legCount int) *ForwardBlock {
	b := &ForwardBlock{
		Index:   index,
		Bins:    bins,
		N0:      n0,
		pending: legCount,
		done:    make(chan struct{}),
	}
	if legCount == 0 {
		close(b.done)
	}
	return b
}

// Ack records that one attached leg has finished reading Bins. The last
// Ack closes Done.
func (b *ForwardBlock) Ack() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending <= 0 {
		return
	}
	b.pending--
	if b.pending == 0 {
		close(b.done)
	}
}

// Done returns a channel closed once every attached leg has
// acknowledged consumption of this block.
func (b *ForwardBlock) Done() <-chan struct{} {
	return b.done
}

// bin returns Bins[k mod period], reconstructing the negative-frequency
// conjugate mirror when the forward transform only stored the
// non-negative half (real input: bins [0, Ntf/2]).
func (b *ForwardBlock) bin(k, ntf int, realInput bool) complex64 {
	k %= ntf
	if k < 0 {
		k += ntf
	}
	if !realInput {
		return b.Bins[k]
	}
	half := ntf / 2
	if k <= half {
		return b.Bins[k]
	}
	mirror := ntf - k
	return complexConj(b.Bins[mirror])
}

func complexConj(c complex64) complex64 {
	return complex(real(c), -imag(c))
}

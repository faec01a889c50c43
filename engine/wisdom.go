package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// WisdomEntry records one transform size the planner has already built,
// so a restart can skip re-deriving the same plan parameters
// (spec.md §6 "Persisted state", §9: "the only legitimate globals are
// the FFT planner and its wisdom cache").
//
// algo-fft has no FFTW-style multi-strategy planning step to cache
// (its Plan constructors are deterministic given a size), so the
// "wisdom" kept here is simply the set of sizes this process has built
// plans for, recorded for diagnostic and warm-start purposes rather
// than to skip real planning work.
type WisdomEntry struct {
	Size    int  `json:"size"`
	Real    bool `json:"real"`
}

// Wisdom is the JSON sidecar persisted across restarts, grounded on the
// teacher's use of encoding/json for structured state (web/server.go).
type Wisdom struct {
	mu      sync.Mutex
	entries map[WisdomEntry]struct{}
}

// NewWisdom returns an empty wisdom cache.
func NewWisdom() *Wisdom {
	return &Wisdom{entries: make(map[WisdomEntry]struct{})}
}

// LoadWisdom reads a wisdom file written by SaveWisdom. A missing file
// is not an error: the cache simply starts empty.
func LoadWisdom(path string) (*Wisdom, error) {
	w := NewWisdom()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read wisdom file %s: %v", rerror.ErrConfig, path, err)
	}

	var list []WisdomEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: parse wisdom file %s: %v", rerror.ErrConfig, path, err)
	}
	for _, e := range list {
		w.entries[e] = struct{}{}
	}
	return w, nil
}

// Record notes that a plan of this size and kind has been built.
func (w *Wisdom) Record(size int, real bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[WisdomEntry{Size: size, Real: real}] = struct{}{}
}

// Knows reports whether a plan of this size and kind was recorded in a
// prior run (or earlier this run).
func (w *Wisdom) Knows(size int, real bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[WisdomEntry{Size: size, Real: real}]
	return ok
}

// Save writes the current wisdom cache to path as JSON, called at
// shutdown (spec.md §6: "rewritten at shutdown").
func (w *Wisdom) Save(path string) error {
	w.mu.Lock()
	list := make([]WisdomEntry, 0, len(w.entries))
	for e := range w.entries {
		list = append(list, e)
	}
	w.mu.Unlock()

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wisdom: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write wisdom file %s: %v", rerror.ErrConfig, path, err)
	}
	return nil
}

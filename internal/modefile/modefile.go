// Package modefile reads and writes the mode-file: a small binary
// container of named demodulator presets (usb, lsb, am, cwu, nfm, ...)
// that supply default filter/AGC/PLL parameters for a channel section
// that only names a mode (spec.md §6 "Configuration": "named section
// per channel (mode, ...)").
//
// Adapted from the teacher's pkg/irformat package: the same
// magic/version/count file header and length-prefixed string encoding,
// simplified because a mode preset carries a handful of scalar
// parameters rather than audio data, so no per-entry index chunk is
// needed — the whole file is small enough to read in one pass.
package modefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	magicNumber    = "MODF"
	currentVersion = uint16(1)
)

var (
	// ErrInvalidMagic indicates the file does not start with the
	// mode-file magic number.
	ErrInvalidMagic = errors.New("modefile: invalid magic number")
	// ErrUnsupportedVersion indicates a mode-file format newer than this
	// package understands.
	ErrUnsupportedVersion = errors.New("modefile: unsupported format version")
	// ErrPresetNotFound indicates a lookup by name found nothing.
	ErrPresetNotFound = errors.New("modefile: preset not found")
)

// Preset is one named demodulator default (spec.md §3 Filter/Output/
// Linear-demod/Flags attribute groups, minus the per-channel tuning and
// identity fields that a config section always supplies itself).
type Preset struct {
	Name string

	MinIF, MaxIF, KaiserBeta float64
	ISB                      bool

	Channels   int
	OutputRate float64
	Headroom   float64

	Threshold, RecoveryRate, HangTimeSec float64

	LoopBW, Damping, LockTimeSec          float64
	SquelchOpen, SquelchClose             float64

	PLL, Square, Env, AGC bool
}

// Library is the in-memory set of presets loaded from, or to be
// written to, a mode-file.
type Library struct {
	Presets []Preset
}

// Lookup returns the named preset, case-sensitive.
func (l *Library) Lookup(name string) (Preset, error) {
	for _, p := range l.Presets {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrPresetNotFound, name)
}

// Read parses a mode-file from r.
func Read(r io.Reader) (*Library, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("modefile: read magic: %w", err)
	}
	if string(magic) != magicNumber {
		return nil, ErrInvalidMagic
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("modefile: read version: %w", err)
	}
	if version > currentVersion {
		return nil, ErrUnsupportedVersion
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("modefile: read preset count: %w", err)
	}

	lib := &Library{Presets: make([]Preset, 0, count)}
	for i := uint32(0); i < count; i++ {
		p, err := readPreset(r)
		if err != nil {
			return nil, fmt.Errorf("modefile: preset %d: %w", i, err)
		}
		lib.Presets = append(lib.Presets, p)
	}
	return lib, nil
}

func readPreset(r io.Reader) (Preset, error) {
	var p Preset

	name, err := readString(r)
	if err != nil {
		return p, err
	}
	p.Name = name

	floats := []*float64{
		&p.MinIF, &p.MaxIF, &p.KaiserBeta, &p.OutputRate, &p.Headroom,
		&p.Threshold, &p.RecoveryRate, &p.HangTimeSec,
		&p.LoopBW, &p.Damping, &p.LockTimeSec, &p.SquelchOpen, &p.SquelchClose,
	}
	for _, f := range floats {
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return p, err
		}
		*f = math.Float64frombits(bits)
	}

	var channels uint32
	if err := binary.Read(r, binary.LittleEndian, &channels); err != nil {
		return p, err
	}
	p.Channels = int(channels)

	var flags uint8
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return p, err
	}
	p.ISB = flags&1 != 0
	p.PLL = flags&2 != 0
	p.Square = flags&4 != 0
	p.Env = flags&8 != 0
	p.AGC = flags&16 != 0

	return p, nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Write serializes lib to w.
func Write(w io.Writer, lib *Library) error {
	if _, err := w.Write([]byte(magicNumber)); err != nil {
		return fmt.Errorf("modefile: write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, currentVersion); err != nil {
		return fmt.Errorf("modefile: write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(lib.Presets))); err != nil {
		return fmt.Errorf("modefile: write preset count: %w", err)
	}
	for i, p := range lib.Presets {
		if err := writePreset(w, p); err != nil {
			return fmt.Errorf("modefile: preset %d: %w", i, err)
		}
	}
	return nil
}

func writePreset(w io.Writer, p Preset) error {
	if err := writeString(w, p.Name); err != nil {
		return err
	}

	floats := []float64{
		p.MinIF, p.MaxIF, p.KaiserBeta, p.OutputRate, p.Headroom,
		p.Threshold, p.RecoveryRate, p.HangTimeSec,
		p.LoopBW, p.Damping, p.LockTimeSec, p.SquelchOpen, p.SquelchClose,
	}
	for _, f := range floats {
		if err := binary.Write(w, binary.LittleEndian, math.Float64bits(f)); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(p.Channels)); err != nil {
		return err
	}

	var flags uint8
	if p.ISB {
		flags |= 1
	}
	if p.PLL {
		flags |= 2
	}
	if p.Square {
		flags |= 4
	}
	if p.Env {
		flags |= 8
	}
	if p.AGC {
		flags |= 16
	}
	return binary.Write(w, binary.LittleEndian, flags)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

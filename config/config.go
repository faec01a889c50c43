// Package config loads the daemon's configuration document: a global
// section plus one named section per channel, per spec.md §6.
//
// The shape (global + named channel sections, a zero frequency marking
// a channel as a template) is carried from the original design; the
// concrete syntax is YAML, grounded on the other ka9q-radio-adjacent
// repo in the corpus (ka9q_ubersdr) which configures itself the same
// way with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// Global holds process-wide settings from the `global:` section.
type Global struct {
	SampleRate  float64 `yaml:"sample_rate"`
	Complex     bool    `yaml:"complex"`
	Format      string  `yaml:"format"` // s16, s8, or f32; wire format of Input
	Overlap     int     `yaml:"overlap"`
	BlockTimeMs float64 `yaml:"block_time_ms"`
	FFTThreads  int     `yaml:"fft_threads"`
	Input       string  `yaml:"input"`       // multicast group:port the front end samples arrive on
	Iface       string  `yaml:"iface"`       // network interface to join Input on; "" selects the default
	RTPDest     string  `yaml:"rtp_dest"`    // host:port each channel's RTP emitter sends to
	StatusGroup string  `yaml:"status_group"`
	ModeFile    string  `yaml:"mode_file"`
	WisdomFile  string  `yaml:"wisdom_file"`
	StatusPort  int     `yaml:"status_port"`
}

// Channel holds one named channel (or template) section.
type Channel struct {
	Name string `yaml:"name"`
	Mode string `yaml:"mode"`

	SSRC uint32 `yaml:"ssrc"`
	Data string `yaml:"data"`

	// Freq is decoded from the `freq:` key only, as a YAML list (a single
	// frequency is written as a one-element list); `freq0..freq9:` keys
	// are not read. A channel whose Freq is empty, or whose first entry is zero, is a
	// template (§9 "Dynamic demod template").
	Freq []float64 `yaml:"freq"`

	Shift        float64 `yaml:"shift"`
	Gain         float64 `yaml:"gain"`
	Headroom     float64 `yaml:"headroom"`
	HangTime     float64 `yaml:"hang_time"`
	Threshold    float64 `yaml:"threshold"`
	RecoveryRate float64 `yaml:"recovery_rate"`

	MinIF      float64 `yaml:"min_if"`
	MaxIF      float64 `yaml:"max_if"`
	KaiserBeta float64 `yaml:"kaiser_beta"`
	ISB        bool    `yaml:"isb"`

	Channels     int     `yaml:"channels"`
	OutputRate   float64 `yaml:"output_rate"`
	LoopBW       float64 `yaml:"loop_bw"`
	Damping      float64 `yaml:"damping"`
	LockTime     float64 `yaml:"lock_time"`
	SquelchOpen  float64 `yaml:"squelch_open"`
	SquelchClose float64 `yaml:"squelch_close"`

	PLL    bool `yaml:"pll"`
	Square bool `yaml:"square"`
	Env    bool `yaml:"env"`
	AGC    bool `yaml:"agc"`

	Template bool `yaml:"template"`
}

// IsTemplate reports whether this section should become a
// channel.Prototype rather than a live channel.
func (c Channel) IsTemplate() bool {
	if c.Template {
		return true
	}
	if len(c.Freq) == 0 {
		return true
	}
	return c.Freq[0] == 0
}

// Document is the parsed configuration: one global section and the
// ordered list of channel/template sections.
type Document struct {
	Global   Global    `yaml:"global"`
	Channels []Channel `yaml:"channels"`
}

// Load reads and parses a YAML configuration document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", rerror.ErrConfig, path, err)
	}
	return Parse(data)
}

// Parse parses a YAML configuration document from raw bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", rerror.ErrConfig, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks global invariants. Fatal config errors stop startup;
// per-channel problems are the caller's responsibility to skip (§7).
func (d *Document) Validate() error {
	if d.Global.Overlap < 2 {
		return fmt.Errorf("%w: global.overlap must be >= 2, got %d", rerror.ErrConfig, d.Global.Overlap)
	}
	if d.Global.BlockTimeMs <= 0 {
		return fmt.Errorf("%w: global.block_time_ms must be positive", rerror.ErrConfig)
	}
	if d.Global.SampleRate <= 0 {
		return fmt.Errorf("%w: global.sample_rate must be positive", rerror.ErrConfig)
	}
	return nil
}

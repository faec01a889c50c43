package config

import (
	"errors"
	"testing"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

const sampleDoc = `
global:
  sample_rate: 12000000
  complex: true
  format: s16
  overlap: 4
  block_time_ms: 20
  input: 239.1.2.3:5004
  rtp_dest: 127.0.0.1:6000

channels:
  - name: ft8
    mode: usb
    freq: [14074000]
  - name: template-usb
    mode: usb
    template: true
`

func TestParseSampleDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Global.SampleRate != 12000000 {
		t.Errorf("SampleRate = %v, want 12000000", doc.Global.SampleRate)
	}
	if len(doc.Channels) != 2 {
		t.Fatalf("len(Channels) = %d, want 2", len(doc.Channels))
	}
	if doc.Channels[0].Name != "ft8" || doc.Channels[0].IsTemplate() {
		t.Errorf("ft8 section should be a live channel, got %+v", doc.Channels[0])
	}
}

func TestIsTemplateRules(t *testing.T) {
	cases := []struct {
		name string
		c    Channel
		want bool
	}{
		{"explicit template flag", Channel{Template: true, Freq: []float64{14250000}}, true},
		{"empty freq list", Channel{Freq: nil}, true},
		{"zero first freq", Channel{Freq: []float64{0}}, true},
		{"live channel", Channel{Freq: []float64{7074000}}, false},
	}
	for _, c := range cases {
		if got := c.c.IsTemplate(); got != c.want {
			t.Errorf("%s: IsTemplate() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestValidateRejectsLowOverlap(t *testing.T) {
	doc := &Document{Global: Global{Overlap: 1, BlockTimeMs: 10, SampleRate: 48000}}
	if err := doc.Validate(); !errors.Is(err, rerror.ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestValidateRejectsZeroBlockTime(t *testing.T) {
	doc := &Document{Global: Global{Overlap: 4, BlockTimeMs: 0, SampleRate: 48000}}
	if err := doc.Validate(); !errors.Is(err, rerror.ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestValidateRejectsZeroSampleRate(t *testing.T) {
	doc := &Document{Global: Global{Overlap: 4, BlockTimeMs: 10, SampleRate: 0}}
	if err := doc.Validate(); !errors.Is(err, rerror.ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestValidateAcceptsWellFormedGlobal(t *testing.T) {
	doc := &Document{Global: Global{Overlap: 4, BlockTimeMs: 10, SampleRate: 48000}}
	if err := doc.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMissingFileReturnsConfigError(t *testing.T) {
	if _, err := Load("/nonexistent/path/radiod.yaml"); !errors.Is(err, rerror.ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("global: [this is not a mapping")); !errors.Is(err, rerror.ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

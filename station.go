package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jhunley/ka9q-radio/channel"
	"github.com/jhunley/ka9q-radio/config"
	"github.com/jhunley/ka9q-radio/demod"
	"github.com/jhunley/ka9q-radio/emit"
	"github.com/jhunley/ka9q-radio/engine"
	"github.com/jhunley/ka9q-radio/internal/modefile"
)

// runningChannel bundles one live channel's pipeline stages: the
// shared data model, its output leg, its demodulator, and the emitter
// that turns demodulator blocks into RTP packets. One goroutine per
// channel drains legBlocks into the demodulator and emitter in order
// (spec.md §5 "Scheduling model": "one demodulator goroutine per
// channel, one RTCP emitter per channel").
type runningChannel struct {
	ch  *channel.Channel
	leg *engine.OutputLeg

	demod    *demod.Demodulator
	emitter  *emit.Emitter
	sender   emit.Sender
	legBlock chan engine.LegBlock
	done     chan struct{}
}

// Station owns the shared front end and every live channel, and is
// the status reporter's Registry (spec.md §2 "Channel coordinator",
// §6 "Channel control/status").
type Station struct {
	cfg     *config.Document
	fe      *engine.FrontEnd
	stage   *engine.ForwardStage
	coord   *engine.Coordinator
	wisdom  *engine.Wisdom
	modeLib *modefile.Library
	logger  *slog.Logger

	rtpDest string

	mu         sync.Mutex
	channels   map[string]*runningChannel
	prototypes map[string]channel.Prototype
	dynamicSeq int
}

// NewStation builds the shared engine pieces from cfg's global
// section.
func NewStation(cfg *config.Document, modeLib *modefile.Library, wisdom *engine.Wisdom, logger *slog.Logger) (*Station, error) {
	fe, err := engine.NewFrontEnd(cfg.Global.SampleRate, cfg.Global.Complex, cfg.Global.BlockTimeMs, cfg.Global.Overlap)
	if err != nil {
		return nil, err
	}
	wisdom.Record(fe.Ntf, !fe.Complex)

	stage, err := engine.NewForwardStage(fe, logger)
	if err != nil {
		return nil, err
	}

	return &Station{
		cfg:        cfg,
		fe:         fe,
		stage:      stage,
		coord:      engine.NewCoordinator(fe, stage, logger),
		wisdom:     wisdom,
		modeLib:    modeLib,
		logger:     logger,
		rtpDest:    cfg.Global.RTPDest,
		channels:   make(map[string]*runningChannel),
		prototypes: make(map[string]channel.Prototype),
	}, nil
}

// Channels implements status.Registry.
func (s *Station) Channels() map[string]*channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*channel.Channel, len(s.channels))
	for name, rc := range s.channels {
		out[name] = rc.ch
	}
	return out
}

// LoadConfig instantiates every section of the parsed document: live
// channels are started immediately, template sections are stashed as
// prototypes for later dynamic instantiation (spec.md §9).
func (s *Station) LoadConfig() {
	for _, cc := range s.cfg.Channels {
		if cc.IsTemplate() {
			proto, err := s.buildPrototype(cc)
			if err != nil {
				s.logger.Error("station: skipping bad template section", "name", cc.Name, "err", err)
				continue
			}
			s.mu.Lock()
			s.prototypes[cc.Name] = proto
			s.mu.Unlock()
			continue
		}
		freq := cc.Freq[0]
		if err := s.StartChannel(cc.Name, cc, freq); err != nil {
			s.logger.Error("station: skipping bad channel section", "name", cc.Name, "err", err)
		}
	}
}

// resolvePreset applies the named mode's defaults, if any, as the base
// parameter set; fields the section itself sets to a non-zero value
// take priority over the preset.
func (s *Station) resolvePreset(cc config.Channel) (config.Channel, error) {
	if cc.Mode == "" || s.modeLib == nil {
		return cc, nil
	}
	p, err := s.modeLib.Lookup(cc.Mode)
	if err != nil {
		return cc, nil // unknown mode name: fall back to the section's own fields
	}
	merged := cc
	if merged.MinIF == 0 {
		merged.MinIF = p.MinIF
	}
	if merged.MaxIF == 0 {
		merged.MaxIF = p.MaxIF
	}
	if merged.KaiserBeta == 0 {
		merged.KaiserBeta = p.KaiserBeta
	}
	if merged.Channels == 0 {
		merged.Channels = p.Channels
	}
	if merged.OutputRate == 0 {
		merged.OutputRate = p.OutputRate
	}
	if merged.Headroom == 0 {
		merged.Headroom = p.Headroom
	}
	if merged.Threshold == 0 {
		merged.Threshold = p.Threshold
	}
	if merged.RecoveryRate == 0 {
		merged.RecoveryRate = p.RecoveryRate
	}
	if merged.HangTime == 0 {
		merged.HangTime = p.HangTimeSec
	}
	if merged.LoopBW == 0 {
		merged.LoopBW = p.LoopBW
	}
	if merged.Damping == 0 {
		merged.Damping = p.Damping
	}
	if merged.LockTime == 0 {
		merged.LockTime = p.LockTimeSec
	}
	if merged.SquelchOpen == 0 {
		merged.SquelchOpen = p.SquelchOpen
	}
	if merged.SquelchClose == 0 {
		merged.SquelchClose = p.SquelchClose
	}
	merged.ISB = merged.ISB || p.ISB
	merged.PLL = merged.PLL || p.PLL
	merged.Square = merged.Square || p.Square
	merged.Env = merged.Env || p.Env
	merged.AGC = merged.AGC || p.AGC
	return merged, nil
}

func channelFromConfig(name string, cc config.Channel, freq float64) *channel.Channel {
	channels := cc.Channels
	if channels == 0 {
		channels = 1
	}
	ssrc := cc.SSRC
	if ssrc == 0 {
		ssrc = emit.SSRCFromFrequency(freq)
	}
	return channel.New(
		name, cc.Mode,
		channel.Tuning{Freq: freq, Shift: cc.Shift},
		channel.Filter{MinIF: cc.MinIF, MaxIF: cc.MaxIF, KaiserBeta: cc.KaiserBeta, ISB: cc.ISB},
		channel.Output{Channels: channels, Fo: cc.OutputRate, Headroom: cc.Headroom, Gain: cc.Gain, SSRC: ssrc},
		channel.AGC{Threshold: cc.Threshold, RecoveryRate: cc.RecoveryRate, HangTimeSec: cc.HangTime},
		channel.PLL{LoopBW: cc.LoopBW, Damping: cc.Damping, LockTimeSec: cc.LockTime, SquelchOpen: cc.SquelchOpen, SquelchClose: cc.SquelchClose},
		channel.Flags{PLL: cc.PLL, Square: cc.Square, Env: cc.Env, AGC: cc.AGC},
	)
}

func (s *Station) buildPrototype(cc config.Channel) (channel.Prototype, error) {
	merged, err := s.resolvePreset(cc)
	if err != nil {
		return channel.Prototype{}, err
	}
	channels := merged.Channels
	if channels == 0 {
		channels = 1
	}
	return channel.Prototype{
		Mode:   merged.Mode,
		Filter: channel.Filter{MinIF: merged.MinIF, MaxIF: merged.MaxIF, KaiserBeta: merged.KaiserBeta, ISB: merged.ISB},
		Output: channel.Output{Channels: channels, Fo: merged.OutputRate, Headroom: merged.Headroom, Gain: merged.Gain},
		AGC:    channel.AGC{Threshold: merged.Threshold, RecoveryRate: merged.RecoveryRate, HangTimeSec: merged.HangTime},
		PLL:    channel.PLL{LoopBW: merged.LoopBW, Damping: merged.Damping, LockTimeSec: merged.LockTime, SquelchOpen: merged.SquelchOpen, SquelchClose: merged.SquelchClose},
		Flags:  channel.Flags{PLL: merged.PLL, Square: merged.Square, Env: merged.Env, AGC: merged.AGC},
	}, nil
}

// StartChannel builds and wires one live channel: its OutputLeg,
// demodulator, emitter, and the goroutine that drives them.
func (s *Station) StartChannel(name string, cc config.Channel, freq float64) error {
	merged, err := s.resolvePreset(cc)
	if err != nil {
		return err
	}
	ch := channelFromConfig(name, merged, freq)

	legCfg := engine.LegConfig{
		Freq: ch.Tuning.Freq, MinIF: ch.Filter.MinIF, MaxIF: ch.Filter.MaxIF,
		Beta: ch.Filter.KaiserBeta, Fo: ch.Output.Fo, ISB: ch.Filter.ISB,
	}

	legBlocks := make(chan engine.LegBlock, 4)
	leg, err := s.coord.Create(name, legCfg, legBlocks)
	if err != nil {
		return err
	}

	sender, err := emit.NewUDPSender(s.rtpDest)
	if err != nil {
		s.coord.Stop(name)
		return err
	}
	emitter := emit.NewEmitter(ch.Output.SSRC, 96, uint32(ch.Output.Fo), ch.Output.Channels, sender)

	rc := &runningChannel{
		ch: ch, leg: leg,
		demod: demod.New(ch, s.cfg.Global.BlockTimeMs/1000.0),
		emitter: emitter, sender: sender,
		legBlock: legBlocks,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.channels[name] = rc
	s.mu.Unlock()

	go s.runChannel(name, rc)
	s.logger.Info("station: channel started", "name", name, "freq", freq, "mode", ch.Mode)
	return nil
}

// runChannel drains LegBlocks into the demodulator and emitter until
// the leg is stopped and its block channel is closed out from under
// it (spec.md §5: "cooperative shutdown").
func (s *Station) runChannel(name string, rc *runningChannel) {
	defer close(rc.done)
	for lb := range rc.legBlock {
		blk := rc.demod.Process(lb)
		if err := rc.emitter.Emit(blk); err != nil {
			s.logger.Warn("station: RTP emit failed", "channel", name, "err", err)
		}
	}
}

// StopChannel tears down a live channel: detaches its leg, closes its
// sender, and reaps its bookkeeping.
func (s *Station) StopChannel(name string) error {
	s.mu.Lock()
	rc, ok := s.channels[name]
	if ok {
		delete(s.channels, name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("station: channel %q not found", name)
	}

	s.coord.Stop(name)
	rc.leg.Stop()
	_ = rc.sender.(interface{ Close() error }).Close()
	s.coord.Reap()
	s.logger.Info("station: channel stopped", "name", name)
	return nil
}

// Retune deposits a new tuning frequency for a live channel, taking
// effect at the next forward block (spec.md §4.4).
func (s *Station) Retune(name string, freq float64) error {
	s.mu.Lock()
	rc, ok := s.channels[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("station: channel %q not found", name)
	}
	rc.ch.Tuning.Freq = freq
	rc.leg.Retune(freq)
	return nil
}

// Spawn instantiates a prototype template into a new live channel,
// named and bound to freq (spec.md §9 "Dynamic demod template").
func (s *Station) Spawn(protoName string, freq float64) (string, error) {
	s.mu.Lock()
	proto, ok := s.prototypes[protoName]
	s.dynamicSeq++
	name := fmt.Sprintf("%s-%d", protoName, s.dynamicSeq)
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("station: no such template %q", protoName)
	}

	ssrc := emit.SSRCFromFrequency(freq)
	ch := proto.Instantiate(name, freq, ssrc)

	legCfg := engine.LegConfig{
		Freq: ch.Tuning.Freq, MinIF: ch.Filter.MinIF, MaxIF: ch.Filter.MaxIF,
		Beta: ch.Filter.KaiserBeta, Fo: ch.Output.Fo, ISB: ch.Filter.ISB,
	}
	legBlocks := make(chan engine.LegBlock, 4)
	leg, err := s.coord.Create(name, legCfg, legBlocks)
	if err != nil {
		return "", err
	}
	sender, err := emit.NewUDPSender(s.rtpDest)
	if err != nil {
		s.coord.Stop(name)
		return "", err
	}
	emitter := emit.NewEmitter(ssrc, 96, uint32(ch.Output.Fo), ch.Output.Channels, sender)

	rc := &runningChannel{
		ch: ch, leg: leg,
		demod: demod.New(ch, s.cfg.Global.BlockTimeMs/1000.0),
		emitter: emitter, sender: sender,
		legBlock: legBlocks,
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.channels[name] = rc
	s.mu.Unlock()

	go s.runChannel(name, rc)
	s.logger.Info("station: dynamic channel spawned", "name", name, "template", protoName, "freq", freq)
	return name, nil
}

// Shutdown stops every live channel.
func (s *Station) Shutdown() {
	s.mu.Lock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		_ = s.StopChannel(name)
	}
}

// RunIngest starts the ingester reading from src and feeding the
// shared forward stage until ctx is cancelled.
func (s *Station) RunIngest(ctx context.Context, src engine.Source, format engine.SampleFormat) error {
	in := engine.NewIngester(s.fe, s.stage, src, format, 0, s.logger)
	return in.Run(ctx)
}

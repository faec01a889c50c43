// Package emit is the channel emitter shim (spec.md §2 "Channel emitter
// shim"): it accepts one PCM block from the demodulator and hands it to
// an RTP sender. RTP/RTCP framing and the socket layer are the
// downstream collaborator named in spec.md §1 as out of scope; this
// package only shapes each demodulator block into a correctly-addressed
// RTP packet.
package emit

import (
	"fmt"
	"math"
	"net"
	"strconv"

	"github.com/pion/rtp"

	"github.com/jhunley/ka9q-radio/demod"
	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// Sender is the downstream transport a channel emitter writes packets
// to (a UDP socket in production, a buffer in tests).
type Sender interface {
	Send(pkt []byte) error
}

// UDPSender writes RTP packets to a fixed destination over UDP.
type UDPSender struct {
	conn *net.UDPConn
}

// NewUDPSender dials dest (host:port) for RTP output.
func NewUDPSender(dest string) (*UDPSender, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", rerror.ErrConfig, dest, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", rerror.ErrNetwork, dest, err)
	}
	return &UDPSender{conn: conn}, nil
}

func (u *UDPSender) Send(pkt []byte) error {
	_, err := u.conn.Write(pkt)
	if err != nil {
		return fmt.Errorf("%w: %v", rerror.ErrNetwork, err)
	}
	return nil
}

// Close closes the underlying socket.
func (u *UDPSender) Close() error {
	return u.conn.Close()
}

// Emitter packages one channel's demodulator output into RTP packets
// and hands them to a Sender. One Emitter runs per channel (spec.md §5
// "Scheduling model": "one RTCP emitter per channel").
type Emitter struct {
	ssrc      uint32
	payload   uint8
	clockRate uint32
	channels  int
	send      Sender

	sequence  uint16
	timestamp uint32
}

// NewEmitter builds an emitter for one channel. payload is the RTP
// payload type (caller-assigned; raw PCM has no IANA-registered type).
// clockRate is the RTP timestamp clock, normally the channel's output
// sample rate. channels is 1 or 2, matching the channel's output
// configuration, used to convert the interleaved sample count to a
// frame count for the RTP timestamp.
func NewEmitter(ssrc uint32, payload uint8, clockRate uint32, channels int, send Sender) *Emitter {
	if channels < 1 {
		channels = 1
	}
	return &Emitter{ssrc: ssrc, payload: payload, clockRate: clockRate, channels: channels, send: send}
}

// SSRCFromFrequency derives an RTP SSRC from a center frequency by its
// decimal digit representation (spec.md §6: "SSRC derived from the
// configured center frequency in Hz (decimal digits) when not
// explicitly set").
func SSRCFromFrequency(freqHz float64) uint32 {
	hz := int64(math.Round(freqHz))
	s := strconv.FormatInt(hz, 10)
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			continue
		}
		v = v*10 + uint64(c-'0')
	}
	return uint32(v)
}

// Emit converts block to PCM bytes (16-bit signed, little-endian,
// clamped to full scale) and sends it as one RTP packet. Muted blocks
// are still sent with the PCM payload; the marker bit flags the mute
// transition so the receiver can choose to suppress, stay silent, or
// fade (spec.md §4.5 Pass E: "the emitter decides").
func (e *Emitter) Emit(block demod.Block) error {
	payload := make([]byte, 2*len(block.Samples))
	for i, s := range block.Samples {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		iv := int16(v * 32767)
		payload[2*i] = byte(iv)
		payload[2*i+1] = byte(iv >> 8)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         block.Muted,
			PayloadType:    e.payload,
			SequenceNumber: e.sequence,
			Timestamp:      e.timestamp,
			SSRC:           e.ssrc,
		},
		Payload: payload,
	}
	e.sequence++
	e.timestamp += uint32(len(block.Samples) / e.channels)

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("emit: marshal RTP packet: %w", err)
	}
	if err := e.send.Send(raw); err != nil {
		return err
	}
	return nil
}

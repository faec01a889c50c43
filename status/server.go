package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhunley/ka9q-radio/channel"
)

// Telemetry is one channel's status snapshot as broadcast over
// websocket (spec.md SPEC_FULL.md §5 item 6: "{snr, foffset, gain,
// pll_lock, rotations, muted}").
type Telemetry struct {
	Name      string  `json:"name"`
	SNR       float64 `json:"snr"`
	FOffset   float64 `json:"foffset"`
	Gain      float64 `json:"gain"`
	PLLLock   bool    `json:"pll_lock"`
	Rotations int     `json:"rotations"`
	Muted     bool    `json:"muted"`
}

// message is the websocket envelope, matching the teacher's
// {type, payload} shape (web/server.go Message).
type message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Registry exposes the set of live channels the reporter polls.
type Registry interface {
	Channels() map[string]*channel.Channel
}

// metrics holds the Prometheus gauges the reporter updates each tick
// (SPEC_FULL.md §5 item 7).
type metrics struct {
	snr       *prometheus.GaugeVec
	foffset   *prometheus.GaugeVec
	gain      *prometheus.GaugeVec
	pllLock   *prometheus.GaugeVec
	rotations *prometheus.GaugeVec
	muted     *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	labels := []string{"channel"}
	return &metrics{
		snr:       f.NewGaugeVec(prometheus.GaugeOpts{Name: "radio_channel_snr_db", Help: "Channel SNR estimate."}, labels),
		foffset:   f.NewGaugeVec(prometheus.GaugeOpts{Name: "radio_channel_foffset_hz", Help: "PLL frequency offset estimate, Hz."}, labels),
		gain:      f.NewGaugeVec(prometheus.GaugeOpts{Name: "radio_channel_gain", Help: "Current AGC gain, linear."}, labels),
		pllLock:   f.NewGaugeVec(prometheus.GaugeOpts{Name: "radio_channel_pll_lock", Help: "1 if the PLL is locked, else 0."}, labels),
		rotations: f.NewGaugeVec(prometheus.GaugeOpts{Name: "radio_channel_rotations", Help: "PLL cycle-slip counter."}, labels),
		muted:     f.NewGaugeVec(prometheus.GaugeOpts{Name: "radio_channel_muted", Help: "1 if the channel's block is muted, else 0."}, labels),
	}
}

// Reporter is the status reporter thread named in spec.md §5
// "Scheduling model": it periodically snapshots every channel's status
// struct and broadcasts a telemetry update, and serves the same data
// as Prometheus metrics and a plain HTTP snapshot.
type Reporter struct {
	registry Registry
	hub      *Hub
	metrics  *metrics
	interval time.Duration
	port     int
	logger   *slog.Logger

	httpServer *http.Server
}

// NewReporter builds a reporter polling registry every interval and
// serving on port.
func NewReporter(registry Registry, interval time.Duration, port int, logger *slog.Logger) *Reporter {
	return &Reporter{
		registry: registry,
		hub:      NewHub(),
		metrics:  newMetrics(prometheus.DefaultRegisterer),
		interval: interval,
		port:     port,
		logger:   logger,
	}
}

// Run starts the hub, the poll loop, and the HTTP server. It blocks
// until ctx is cancelled or ListenAndServe returns a non-shutdown
// error.
func (r *Reporter) Run(ctx context.Context) error {
	go r.hub.Run()
	go r.pollLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWebSocket)
	mux.HandleFunc("/api/status", r.handleAPIStatus)
	mux.Handle("/metrics", promhttp.Handler())

	r.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", r.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.httpServer.Shutdown(shutdownCtx)
	}()

	if r.logger != nil {
		r.logger.Info("status reporter listening", "port", r.port)
	}
	err := r.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (r *Reporter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reporter) tick() {
	for name, ch := range r.registry.Channels() {
		snap := ch.Status.Snapshot()
		t := Telemetry{
			Name:      name,
			SNR:       snap.SNR,
			FOffset:   snap.FOffset,
			Gain:      snap.Gain,
			PLLLock:   snap.PLLLock,
			Rotations: snap.Rotations,
			Muted:     snap.Muted,
		}

		r.metrics.snr.WithLabelValues(name).Set(10 * math.Log10(t.SNR))
		r.metrics.foffset.WithLabelValues(name).Set(t.FOffset)
		r.metrics.gain.WithLabelValues(name).Set(t.Gain)
		r.metrics.pllLock.WithLabelValues(name).Set(boolToFloat(t.PLLLock))
		r.metrics.rotations.WithLabelValues(name).Set(float64(t.Rotations))
		r.metrics.muted.WithLabelValues(name).Set(boolToFloat(t.Muted))

		data, err := json.Marshal(message{Type: "telemetry", Payload: t})
		if err != nil {
			if r.logger != nil {
				r.logger.Error("status: marshal telemetry failed", "channel", name, "err", err)
			}
			continue
		}
		r.hub.Broadcast(data)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

func (r *Reporter) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("status: websocket upgrade failed", "err", err)
		}
		return
	}
	c := &client{hub: r.hub, conn: conn, send: make(chan []byte, 256)}
	r.hub.register <- c
	go c.writePump()
	c.readPump()
}

func (r *Reporter) handleAPIStatus(w http.ResponseWriter, req *http.Request) {
	out := make([]Telemetry, 0, 16)
	for name, ch := range r.registry.Channels() {
		snap := ch.Status.Snapshot()
		out = append(out, Telemetry{
			Name: name, SNR: snap.SNR, FOffset: snap.FOffset, Gain: snap.Gain,
			PLLLock: snap.PLLLock, Rotations: snap.Rotations, Muted: snap.Muted,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

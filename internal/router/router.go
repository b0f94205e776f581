// Package router implements the central packet fan-in/fan-out: dedup,
// filtering, and tag-based gating policy between serial links, the
// APRS-IS client, the digipeater, and the message handler.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/broadcast"
	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/filter"
	"github.com/n0call/aprstx/internal/telemetry"
)

// Source tags a packet with where it came from. Provenance drives routing
// decisions.
type Source struct {
	kind serialOrTag
	name string
}

type serialOrTag int

const (
	sourceSerial serialOrTag = iota
	sourceAprsIs
	sourceInternal
)

// SerialPort tags a packet as having arrived on a named serial port.
func SerialPort(name string) Source { return Source{kind: sourceSerial, name: name} }

// AprsIs tags a packet as having arrived from the APRS-IS connection.
var AprsIs = Source{kind: sourceAprsIs}

// Internal tags a packet as generated locally (beacon, telemetry, message
// handler, digipeater re-injection).
var Internal = Source{kind: sourceInternal}

func (s Source) String() string {
	switch s.kind {
	case sourceSerial:
		return "serial:" + s.name
	case sourceAprsIs:
		return "aprs-is"
	default:
		return "internal"
	}
}

// RoutedPacket is a packet plus its provenance tag.
type RoutedPacket struct {
	Packet aprs.Packet
	Source Source
}

const (
	dedupCapacity  = 1000
	dedupEvictPct  = 100 // entries dropped from the front on overflow (10% of capacity)
	dedupRetention = 5 * time.Minute
	housekeepEvery = 60 * time.Second
)

type dedupEntry struct {
	hash uint64
	at   time.Time
}

// Channels exposes the consumer-facing ends of the router's outbound
// queues: broadcasters for RF/IS egress and bounded feeds for the
// single-consumer digipeater and message handler.
type Channels struct {
	RFEgress       *broadcast.Broadcaster[RoutedPacket]
	ISEgress       *broadcast.Broadcaster[RoutedPacket]
	DigipeaterFeed <-chan RoutedPacket
	MessageFeed    <-chan RoutedPacket
}

// Router is the single owner of the dedup table and the outbound queues.
// It drains Ingress in arrival order; all routing state is touched only
// from the goroutine running Run.
type Router struct {
	cfg    *config.Config
	filter *filter.Filter
	logger *log.Logger

	Ingress chan RoutedPacket

	rfEgress       *broadcast.Broadcaster[RoutedPacket]
	isEgress       *broadcast.Broadcaster[RoutedPacket]
	digipeaterFeed chan RoutedPacket
	messageFeed    chan RoutedPacket

	recent []dedupEntry
}

// New constructs a Router and the channel bundle its consumers subscribe
// to / receive from.
func New(cfg *config.Config, f *filter.Filter, logger *log.Logger) (*Router, Channels) {
	r := &Router{
		cfg:            cfg,
		filter:         f,
		logger:         logger,
		Ingress:        make(chan RoutedPacket, 1000),
		rfEgress:       broadcast.New[RoutedPacket](100),
		isEgress:       broadcast.New[RoutedPacket](100),
		digipeaterFeed: make(chan RoutedPacket, 100),
		messageFeed:    make(chan RoutedPacket, 100),
	}

	channels := Channels{
		RFEgress:       r.rfEgress,
		ISEgress:       r.isEgress,
		DigipeaterFeed: r.digipeaterFeed,
		MessageFeed:    r.messageFeed,
	}

	return r, channels
}

// Run drains the ingress queue until ctx is cancelled, routing each
// packet and periodically evicting stale dedup entries.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("starting packet router")

	ticker := time.NewTicker(housekeepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rp := <-r.Ingress:
			r.routePacket(rp)
		case <-ticker.C:
			r.cleanupRecent()
		}
	}
}

func (r *Router) routePacket(rp RoutedPacket) {
	text := rp.Packet.String()
	r.logger.Debug("routing packet", "source", rp.Source.String(), "packet", text)

	if r.isDuplicate(text) {
		r.logger.Debug("dropping duplicate packet", "packet", text)
		return
	}

	if r.filter != nil && !r.filter.ShouldPass(rp.Packet) {
		r.logger.Debug("packet filtered out", "packet", text)
		return
	}

	isRFOnly := rp.Packet.HasRFOnly()
	isNoGate := rp.Packet.HasNoGate()

	switch rp.Source.kind {
	case sourceSerial:
		telemetry.Stats.PacketsRx.Add(1)

		if r.cfg.Digipeater.Enabled {
			select {
			case r.digipeaterFeed <- rp:
				// Admission count: incremented on successful enqueue, not on an
				// actual emitted digipeat. See DESIGN.md open question.
				telemetry.Stats.PacketsDigipeated.Add(1)
			default:
				r.logger.Debug("digipeater feed full, dropping", "packet", text)
			}
		}

		if !isRFOnly && !isNoGate && r.cfg.AprsIs != nil && r.cfg.AprsIs.RxEnable {
			r.logger.Info("gating to APRS-IS", "packet", text)
			r.isEgress.Publish(rp)
			telemetry.Stats.PacketsIgateRFtoIS.Add(1)
		}

		if rp.Packet.Destination.Call == r.cfg.MyCall {
			select {
			case r.messageFeed <- rp:
			default:
				r.logger.Debug("message feed full, dropping", "packet", text)
			}
		}

	case sourceAprsIs:
		if r.cfg.AprsIs != nil && r.cfg.AprsIs.TxEnable && r.shouldGateToRF(rp.Packet) {
			r.logger.Info("gating to RF", "packet", text)
			r.rfEgress.Publish(rp)
			telemetry.Stats.PacketsIgateIStoRF.Add(1)
			telemetry.Stats.PacketsTx.Add(1)
		}

	case sourceInternal:
		r.rfEgress.Publish(rp)
		telemetry.Stats.PacketsTx.Add(1)

		if r.cfg.AprsIs != nil && r.cfg.AprsIs.TxEnable {
			r.isEgress.Publish(rp)
		}
	}

	r.storeHash(text)
}

// shouldGateToRF implements spec.md §4.7.1: don't gate packets already
// seen via TCPIP, and never echo our own packets back to RF.
func (r *Router) shouldGateToRF(p aprs.Packet) bool {
	for _, hop := range p.Path {
		if strings.Contains(hop.Call, "TCPIP") {
			return false
		}
	}
	if mycall, err := aprs.ParseCallSign(r.cfg.MyCall); err == nil && p.Source.Equal(mycall) {
		return false
	}
	return true
}

func (r *Router) isDuplicate(text string) bool {
	h := xxhash.Sum64String(text)
	now := time.Now()
	window := time.Duration(r.cfg.Digipeater.ViscousDelay) * time.Second

	for _, e := range r.recent {
		if e.hash == h && now.Sub(e.at) < window {
			return true
		}
	}
	return false
}

func (r *Router) storeHash(text string) {
	h := xxhash.Sum64String(text)
	r.recent = append(r.recent, dedupEntry{hash: h, at: time.Now()})

	if len(r.recent) > dedupCapacity {
		r.recent = r.recent[dedupEvictPct:]
	}
}

func (r *Router) cleanupRecent() {
	now := time.Now()
	kept := r.recent[:0]
	for _, e := range r.recent {
		if now.Sub(e.at) < dedupRetention {
			kept = append(kept, e)
		}
	}
	r.recent = kept
}

// Package digipeater implements WIDEn-N path rewriting with per-content
// viscous-delay duplicate suppression and a hop cap.
package digipeater

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/router"
)

var widePattern = regexp.MustCompile(`^WIDE([1-7])-([1-7])$`)

const (
	dedupRetention = 5 * time.Minute
	housekeepEvery = 60 * time.Second
)

type dedupEntry struct {
	hash uint64
	at   time.Time
}

// Digipeater consumes from the router's digipeater feed, rewrites
// admitted packets' paths, and re-injects them into the router's ingress
// queue as Internal packets.
type Digipeater struct {
	cfg    config.DigipeaterConfig
	logger *log.Logger

	seen []dedupEntry
}

// New constructs a Digipeater from its configuration section.
func New(cfg config.DigipeaterConfig, logger *log.Logger) *Digipeater {
	return &Digipeater{cfg: cfg, logger: logger}
}

// Run reads from feed until ctx is cancelled or feed closes, emitting
// rewritten packets onto out (the router's ingress queue).
func (d *Digipeater) Run(ctx context.Context, feed <-chan router.RoutedPacket, out chan<- router.RoutedPacket) error {
	ticker := time.NewTicker(housekeepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.cleanup()
		case rp, ok := <-feed:
			if !ok {
				return nil
			}
			if rewritten, ok := d.process(rp.Packet); ok {
				select {
				case out <- router.RoutedPacket{Packet: rewritten, Source: router.Internal}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// process runs admission, per-content dedup, and path rewrite for one
// packet. It returns the rewritten packet and true if it should be
// emitted.
func (d *Digipeater) process(p aprs.Packet) (aprs.Packet, bool) {
	if !d.shouldDigipeat(p) {
		return aprs.Packet{}, false
	}

	key := p.Source.String() + ">" + p.Information
	if d.isDuplicate(key) {
		d.logger.Debug("digipeater dropping duplicate", "key", key)
		return aprs.Packet{}, false
	}
	d.record(key)

	return d.rewrite(p), true
}

// shouldDigipeat implements spec.md §4.8 "Admission". The used-hop
// representation is the parsed Digipeated flag (see DESIGN.md open
// question) rather than a literal '*' substring scan — the two agree in
// effect, since the flag is itself set from that same '*' marker.
func (d *Digipeater) shouldDigipeat(p aprs.Packet) bool {
	if !d.cfg.Enabled {
		return false
	}

	used := 0
	for _, hop := range p.Path {
		if hop.Digipeated {
			used++
		}
	}
	if used >= int(d.cfg.MaxHops) {
		return false
	}

	hop, ok := firstUnusedHop(p.Path)
	if !ok {
		return false
	}

	mycall, _ := aprs.ParseCallSign(d.cfg.MyCall)
	if hop.Equal(mycall) {
		return true
	}
	for _, alias := range d.cfg.Aliases {
		aliasCall, err := aprs.ParseCallSign(alias)
		if err == nil && hop.Equal(aliasCall) {
			return true
		}
	}

	return widePattern.MatchString(hop.String())
}

func firstUnusedHop(path []aprs.CallSign) (aprs.CallSign, bool) {
	for _, hop := range path {
		if !hop.Digipeated {
			return hop, true
		}
	}
	return aprs.CallSign{}, false
}

// rewrite implements spec.md §4.8 "Path rewrite".
func (d *Digipeater) rewrite(p aprs.Packet) aprs.Packet {
	out := p
	newPath := make([]aprs.CallSign, 0, len(p.Path)+1)

	mycall, _ := aprs.ParseCallSign(d.cfg.MyCall)
	markedMycall := mycall
	markedMycall.Digipeated = true

	rewritten := false
	for _, hop := range p.Path {
		if rewritten || hop.Digipeated {
			newPath = append(newPath, hop)
			continue
		}

		rewritten = true

		if hop.Equal(mycall) || d.matchesAlias(hop) {
			newPath = append(newPath, markedMycall)
			continue
		}

		if m := widePattern.FindStringSubmatch(hop.String()); m != nil {
			n, _ := strconv.Atoi(m[2])
			newPath = append(newPath, markedMycall)
			if n > 1 {
				wideN, _ := strconv.Atoi(m[1])
				newPath = append(newPath, aprs.NewCallSign("WIDE"+strconv.Itoa(wideN), uint8(n-1)))
			}
			continue
		}

		// Not actually admissible — shouldDigipeat should have filtered this
		// out already; fall through unchanged defensively.
		newPath = append(newPath, hop)
	}

	out.Path = newPath
	return out
}

func (d *Digipeater) matchesAlias(hop aprs.CallSign) bool {
	for _, alias := range d.cfg.Aliases {
		aliasCall, err := aprs.ParseCallSign(alias)
		if err == nil && hop.Equal(aliasCall) {
			return true
		}
	}
	return false
}

func (d *Digipeater) isDuplicate(key string) bool {
	h := xxhash.Sum64String(key)
	now := time.Now()
	window := time.Duration(d.cfg.ViscousDelay) * time.Second

	for _, e := range d.seen {
		if e.hash == h && now.Sub(e.at) < window {
			return true
		}
	}
	return false
}

func (d *Digipeater) record(key string) {
	d.seen = append(d.seen, dedupEntry{hash: xxhash.Sum64String(key), at: time.Now()})
}

func (d *Digipeater) cleanup() {
	now := time.Now()
	kept := d.seen[:0]
	for _, e := range d.seen {
		if now.Sub(e.at) < dedupRetention {
			kept = append(kept, e)
		}
	}
	d.seen = kept
}

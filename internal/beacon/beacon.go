// Package beacon implements the smart-beacon scheduler: it decides when
// to transmit a position report based on motion, and formats the
// position packet itself.
package beacon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang/geo/s2"
	"github.com/lestrrat-go/strftime"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/gpstracker"
	"github.com/n0call/aprstx/internal/router"
)

const earthRadiusKm = 6371.0

// Service periodically checks the GPS tracker's current position and
// decides, per spec.md §4.10's ordered procedure, whether to transmit a
// position beacon.
type Service struct {
	cfg    config.BeaconConfig
	gps    *gpstracker.Tracker
	logger *log.Logger

	lastPosition   *gpstracker.Position
	lastBeaconTime time.Time
	stationaryRuns uint32
}

// New constructs a Service bound to a GPS tracker.
func New(cfg config.BeaconConfig, gps *gpstracker.Tracker, logger *log.Logger) *Service {
	return &Service{cfg: cfg, gps: gps, logger: logger, lastBeaconTime: time.Now()}
}

// Run ticks every smart_beacon.check_interval seconds, sending a beacon
// via out whenever shouldBeacon says to, until ctx is cancelled.
func (s *Service) Run(ctx context.Context, out chan<- router.RoutedPacket) error {
	s.logger.Info("starting beacon service")

	interval := time.Duration(s.cfg.SmartBeacon.CheckInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pos, ok := s.gps.Position()
			if !ok {
				continue
			}
			if s.shouldBeacon(pos) {
				s.sendBeacon(ctx, pos, out)
			}
		}
	}
}

// shouldBeacon implements spec.md §4.10's ordered decision procedure:
// max-interval override, first-fix override, stationary suppression,
// turn-angle trigger, speed-banded interval, then the floor min_interval.
func (s *Service) shouldBeacon(current gpstracker.Position) bool {
	now := time.Now()
	elapsed := now.Sub(s.lastBeaconTime)

	if elapsed >= time.Duration(s.cfg.Interval)*time.Second {
		s.logger.Debug("beaconing due to max interval")
		return true
	}

	if s.cfg.SmartBeacon.Enabled {
		if s.lastPosition == nil {
			s.logger.Debug("first position beacon")
			return true
		}

		last := *s.lastPosition
		distance := haversineKm(last, current)
		speed := derefOr(current.Speed, 0)

		if distance < 0.01 {
			s.stationaryRuns++
			if s.stationaryRuns > 3 && elapsed < time.Duration(s.cfg.SmartBeacon.StationaryInterval)*time.Second {
				return false
			}
		} else {
			s.stationaryRuns = 0

			if last.Course != nil && current.Course != nil {
				turn := angleDifference(*last.Course, *current.Course)
				if turn > float64(s.cfg.SmartBeacon.TurnAngle) && speed > float64(s.cfg.SmartBeacon.TurnSpeed) {
					s.logger.Debug("beaconing due to turn", "degrees", turn)
					return true
				}
			}

			if speed > float64(s.cfg.SmartBeacon.HighSpeed) {
				if elapsed >= time.Duration(s.cfg.SmartBeacon.HighSpeedInterval)*time.Second {
					s.logger.Debug("high speed beacon")
					return true
				}
			} else if speed < float64(s.cfg.SmartBeacon.LowSpeed) {
				if elapsed >= time.Duration(s.cfg.SmartBeacon.LowSpeedInterval)*time.Second {
					s.logger.Debug("low speed beacon")
					return true
				}
			}
		}
	}

	if elapsed < time.Duration(s.cfg.SmartBeacon.MinInterval)*time.Second {
		return false
	}

	return false
}

func (s *Service) sendBeacon(ctx context.Context, pos gpstracker.Position, out chan<- router.RoutedPacket) {
	info := s.formatPositionPacket(pos)

	source, err := aprs.ParseCallSign(s.cfg.Callsign)
	if err != nil {
		source = aprs.NewCallSign("N0CALL", 0)
	}

	p := aprs.NewPacket(source, aprs.NewCallSign("APRS", 0), info)
	if s.cfg.Path != "" {
		for _, hop := range strings.Split(s.cfg.Path, ",") {
			cs, err := aprs.ParseCallSign(strings.TrimSpace(hop))
			if err == nil {
				p.Path = append(p.Path, cs)
			}
		}
	}

	s.logger.Info("sending position beacon", "packet", p.String())

	select {
	case out <- router.RoutedPacket{Packet: p, Source: router.Internal}:
	case <-ctx.Done():
		return
	}

	pos2 := pos
	s.lastPosition = &pos2
	s.lastBeaconTime = time.Now()
}

// formatPositionPacket renders the APRS position information field:
// timestamp-or-"!" prefix, lat/symbol-table/lon/symbol, course/speed
// when moving, altitude, and the configured comment.
func (s *Service) formatPositionPacket(pos gpstracker.Position) string {
	lat := formatLatitude(pos.Latitude)
	lon := formatLongitude(pos.Longitude)

	var timestamp string
	if s.cfg.Timestamp {
		ts, err := strftime.Format("%d%H%Mz", pos.Timestamp.UTC())
		if err != nil {
			ts = pos.Timestamp.UTC().Format("021504z")
		}
		timestamp = "@" + ts
	} else {
		timestamp = "!"
	}

	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(lat)
	b.WriteString(s.cfg.SymbolTable)
	b.WriteString(lon)
	b.WriteString(s.cfg.Symbol)

	if pos.Course != nil && pos.Speed != nil && *pos.Speed > 1.0 {
		fmt.Fprintf(&b, "%03d/%03d", uint16(*pos.Course), uint16(*pos.Speed))
	}

	if pos.Altitude != nil {
		altFt := int32(*pos.Altitude * 3.28084)
		fmt.Fprintf(&b, "/A=%06d", altFt)
	}

	if s.cfg.Comment != "" {
		b.WriteByte(' ')
		b.WriteString(s.cfg.Comment)
	}

	return b.String()
}

// formatLatitude renders ddmm.mmN/S.
func formatLatitude(lat float64) string {
	latAbs := absF(lat)
	degrees := uint8(latAbs)
	minutes := (latAbs - float64(degrees)) * 60.0
	ns := byte('N')
	if lat < 0.0 {
		ns = 'S'
	}
	return fmt.Sprintf("%02d%05.2f%c", degrees, minutes, ns)
}

// formatLongitude renders dddmm.mmE/W.
func formatLongitude(lon float64) string {
	lonAbs := absF(lon)
	degrees := uint8(lonAbs)
	minutes := (lonAbs - float64(degrees)) * 60.0
	ew := byte('E')
	if lon < 0.0 {
		ew = 'W'
	}
	return fmt.Sprintf("%03d%05.2f%c", degrees, minutes, ew)
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// haversineKm computes great-circle distance via golang/geo's s2.LatLng,
// grounded on the teacher's own use of s2/s1 for coordinate math in its
// ll2utm/utm2ll commands.
func haversineKm(a, b gpstracker.Position) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * earthRadiusKm
}

func angleDifference(a, b float64) float64 {
	diff := absF(b - a)
	if diff > 180.0 {
		return 360.0 - diff
	}
	return diff
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

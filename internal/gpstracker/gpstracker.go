// Package gpstracker maintains the current GPS fix from one of three
// sources — a fixed position, NMEA 0183 over a serial port, or gpsd's
// JSON protocol over TCP — for the beacon scheduler to read.
package gpstracker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"

	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/serial"
)

// metersPerSecondToKnots converts gpsd's m/s speed field to the knots
// used throughout the rest of this codebase and APRS position reports.
const metersPerSecondToKnots = 1.94384

const reconnectDelay = 5 * time.Second

// Position is a single GPS fix. Altitude, Speed (knots), and Course
// (degrees) are optional since not every source or sentence supplies them.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Speed     *float64
	Course    *float64
	Timestamp time.Time
}

// SamePlace reports whether two positions are close enough (within
// ~0.1m) to be considered equal, matching original_source/src/gps.rs's
// GpsPosition PartialEq impl used in its tests.
func (p Position) SamePlace(o Position) bool {
	return math.Abs(p.Latitude-o.Latitude) < 0.000001 && math.Abs(p.Longitude-o.Longitude) < 0.000001
}

// lineSource is what the Tracker's dialSerial and dialGpsd function
// fields return.
type lineSource interface {
	io.ReadWriteCloser
}

// Tracker holds the most recent GPS fix behind a mutex; one task
// (Run) is the sole writer, any number of readers may call Position.
type Tracker struct {
	cfg    *config.GpsConfig
	logger *log.Logger

	mu       sync.RWMutex
	position *Position

	dialSerial func(device string, baud uint32) (lineSource, error)
	dialGpsd   func(host string, port uint16) (lineSource, error)
}

// New constructs a Tracker from the configured GPS source.
func New(cfg *config.GpsConfig, logger *log.Logger) *Tracker {
	return &Tracker{
		cfg:        cfg,
		logger:     logger,
		dialSerial: defaultDialSerial,
		dialGpsd:   defaultDialGpsd,
	}
}

// Position returns the most recently known fix, or false if none is
// available yet (or the source is disabled).
func (t *Tracker) Position() (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.position == nil {
		return Position{}, false
	}
	return *t.position, true
}

// Run dispatches to the configured source's reconnect loop and blocks
// until ctx is cancelled. A nil or "none"-typed cfg returns immediately.
func (t *Tracker) Run(ctx context.Context) error {
	if t.cfg == nil || t.cfg.Type == config.GpsNone || t.cfg.Type == "" {
		t.logger.Info("GPS disabled")
		<-ctx.Done()
		return nil
	}

	switch t.cfg.Type {
	case config.GpsFixed:
		pos, err := ParseFixedPosition(derefStr(t.cfg.Position))
		if err != nil {
			return fmt.Errorf("gpstracker: invalid fixed position: %w", err)
		}
		t.setPosition(pos)
		t.logger.Info("using fixed GPS position", "lat", pos.Latitude, "lon", pos.Longitude)
		<-ctx.Done()
		return nil
	case config.GpsSerial:
		return t.runReconnectLoop(ctx, "GPS serial", func(ctx context.Context) error {
			return t.connectSerial(ctx, derefStr(t.cfg.Device), derefU32(t.cfg.BaudRate))
		})
	case config.GpsGpsd:
		return t.runReconnectLoop(ctx, "gpsd", func(ctx context.Context) error {
			return t.connectGpsd(ctx, derefStr(t.cfg.Host), derefU16(t.cfg.Port))
		})
	default:
		t.logger.Warn("unknown GPS source type, disabling", "type", t.cfg.Type)
		<-ctx.Done()
		return nil
	}
}

func (t *Tracker) runReconnectLoop(ctx context.Context, label string, connect func(context.Context) error) error {
	for {
		err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			t.logger.Error(label+" error, reconnecting", "error", err, "delay", reconnectDelay)
		} else {
			t.logger.Warn(label + " connection closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (t *Tracker) connectSerial(ctx context.Context, device string, baud uint32) error {
	port, err := t.dialSerial(device, baud)
	if err != nil {
		return err
	}
	defer port.Close()

	return t.readLines(ctx, port, func(line string) {
		if strings.HasPrefix(line, "$") {
			t.processNMEASentence(line)
		}
	})
}

func (t *Tracker) connectGpsd(ctx context.Context, host string, port uint16) error {
	conn, err := t.dialGpsd(host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`?WATCH={"enable":true,"json":true}` + "\r\n")); err != nil {
		return fmt.Errorf("gpstracker: sending gpsd WATCH command: %w", err)
	}

	return t.readLines(ctx, conn, t.processGpsdJSON)
}

func (t *Tracker) readLines(ctx context.Context, r io.Reader, handle func(string)) error {
	scanner := bufio.NewScanner(r)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			handle(line)
		}
	}
}

// processNMEASentence extracts position from GGA (fix + altitude) and
// RMC (speed + course) sentences, mirroring the fields
// original_source/src/gps.rs reads off the nmea crate's parser:
// latitude, longitude, altitude, speed_over_ground, true_course.
func (t *Tracker) processNMEASentence(sentence string) {
	fields := strings.Split(strings.TrimSuffix(sentence, "\r"), ",")
	if len(fields) == 0 {
		return
	}

	talkerSentence := strings.TrimPrefix(fields[0], "$")
	switch {
	case strings.HasSuffix(talkerSentence, "GGA"):
		t.processGGA(fields)
	case strings.HasSuffix(talkerSentence, "RMC"):
		t.processRMC(fields)
	}
}

// processGGA parses $--GGA,time,lat,N/S,lon,E/W,fix,sats,hdop,alt,M,...
func (t *Tracker) processGGA(fields []string) {
	if len(fields) < 10 {
		return
	}
	lat, ok1 := parseNMEALat(fields[2], fields[3])
	lon, ok2 := parseNMEALon(fields[4], fields[5])
	if !ok1 || !ok2 {
		return
	}
	if fields[6] == "0" {
		return
	}

	pos := Position{Latitude: lat, Longitude: lon, Timestamp: time.Now()}
	if alt, err := strconv.ParseFloat(fields[9], 64); err == nil {
		pos.Altitude = &alt
	}

	existing, hasExisting := t.Position()
	if hasExisting {
		pos.Speed = existing.Speed
		pos.Course = existing.Course
	}

	t.updatePosition(pos)
}

// processRMC parses $--RMC,time,status,lat,N/S,lon,E/W,speed,course,date,...
func (t *Tracker) processRMC(fields []string) {
	if len(fields) < 9 || fields[2] != "A" {
		return
	}
	lat, ok1 := parseNMEALat(fields[3], fields[4])
	lon, ok2 := parseNMEALon(fields[5], fields[6])
	if !ok1 || !ok2 {
		return
	}

	pos := Position{Latitude: lat, Longitude: lon, Timestamp: time.Now()}
	if speed, err := strconv.ParseFloat(fields[7], 64); err == nil {
		pos.Speed = &speed
	}
	if course, err := strconv.ParseFloat(fields[8], 64); err == nil {
		pos.Course = &course
	}

	existing, hasExisting := t.Position()
	if hasExisting {
		pos.Altitude = existing.Altitude
	}

	t.updatePosition(pos)
}

// parseNMEALat/parseNMEALon decode NMEA's ddmm.mmmm degree-minutes form.
func parseNMEALat(raw, hemi string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	deg, min, err := splitDegMin(raw, 2)
	if err != nil {
		return 0, false
	}
	v := deg + min/60
	if hemi == "S" {
		v = -v
	}
	return v, true
}

func parseNMEALon(raw, hemi string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	deg, min, err := splitDegMin(raw, 3)
	if err != nil {
		return 0, false
	}
	v := deg + min/60
	if hemi == "W" {
		v = -v
	}
	return v, true
}

func splitDegMin(raw string, degDigits int) (deg, min float64, err error) {
	if len(raw) < degDigits {
		return 0, 0, fmt.Errorf("nmea coordinate too short: %q", raw)
	}
	deg, err = strconv.ParseFloat(raw[:degDigits], 64)
	if err != nil {
		return 0, 0, err
	}
	min, err = strconv.ParseFloat(raw[degDigits:], 64)
	if err != nil {
		return 0, 0, err
	}
	return deg, min, nil
}

type gpsdTPV struct {
	Class string   `json:"class"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Alt   *float64 `json:"alt"`
	Speed *float64 `json:"speed"`
	Track *float64 `json:"track"`
}

// processGpsdJSON parses a gpsd TPV report, converting its m/s speed to
// the knots used elsewhere.
func (t *Tracker) processGpsdJSON(line string) {
	var tpv gpsdTPV
	if err := json.Unmarshal([]byte(line), &tpv); err != nil {
		t.logger.Debug("failed to parse gpsd JSON", "error", err)
		return
	}
	if tpv.Class != "TPV" || tpv.Lat == nil || tpv.Lon == nil {
		return
	}

	pos := Position{Latitude: *tpv.Lat, Longitude: *tpv.Lon, Timestamp: time.Now()}
	if tpv.Alt != nil {
		pos.Altitude = tpv.Alt
	}
	if tpv.Speed != nil {
		knots := *tpv.Speed * metersPerSecondToKnots
		pos.Speed = &knots
	}
	if tpv.Track != nil {
		pos.Course = tpv.Track
	}

	t.updatePosition(pos)
}

func (t *Tracker) setPosition(p Position) {
	t.mu.Lock()
	t.position = &p
	t.mu.Unlock()
}

// updatePosition stores the new fix, logging only when it moved enough
// to be interesting (matching original_source's 0.0001-degree threshold).
// That info-level log line includes an MGRS grid reference.
func (t *Tracker) updatePosition(p Position) {
	t.mu.Lock()
	old := t.position
	t.position = &p
	t.mu.Unlock()

	moved := old == nil || math.Abs(p.Latitude-old.Latitude) > 0.0001 || math.Abs(p.Longitude-old.Longitude) > 0.0001
	if !moved {
		return
	}

	t.logger.Info("GPS position",
		"lat", p.Latitude, "lon", p.Longitude,
		"alt", derefFloatStr(p.Altitude), "speed_kts", derefFloatStr(p.Speed), "course_deg", derefFloatStr(p.Course),
		"grid", mgrsGridReference(p.Latitude, p.Longitude))
}

// mgrsGridReference renders a best-effort MGRS reference for the position
// log line, grounded on the teacher's samoyed-ll2utm command which wires
// the same golang/geo + tzneal/coordconv pairing.
func mgrsGridReference(lat, lon float64) string {
	latlng := s2.LatLng{Lat: s1.Angle(lat * math.Pi / 180), Lng: s1.Angle(lon * math.Pi / 180)}
	grid, err := coordconv.DefaultMGRSConverter.ConvertFromGeodetic(latlng, 5)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s", grid)
}

// ParseFixedPosition parses a "latitude,longitude[,altitude]" string, the
// exact format accepted by original_source's parse_fixed_position.
func ParseFixedPosition(posStr string) (Position, error) {
	parts := strings.Split(posStr, ",")
	if len(parts) < 2 {
		return Position{}, fmt.Errorf("gpstracker: invalid position format, use latitude,longitude[,altitude]")
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Position{}, fmt.Errorf("gpstracker: invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Position{}, fmt.Errorf("gpstracker: invalid longitude: %w", err)
	}

	var altitude *float64
	if len(parts) > 2 {
		alt, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return Position{}, fmt.Errorf("gpstracker: invalid altitude: %w", err)
		}
		altitude = &alt
	}

	if lat < -90 || lat > 90 {
		return Position{}, fmt.Errorf("gpstracker: latitude must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return Position{}, fmt.Errorf("gpstracker: longitude must be between -180 and 180")
	}

	return Position{Latitude: lat, Longitude: lon, Altitude: altitude, Timestamp: time.Now()}, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefU32(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}

func derefU16(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}

func derefFloatStr(v *float64) string {
	if v == nil {
		return "?"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

type serialConn struct {
	io.ReadWriteCloser
}

func defaultDialSerial(device string, baud uint32) (lineSource, error) {
	port, err := serial.Open(device, baud)
	if err != nil {
		return nil, err
	}
	return serialConn{port}, nil
}

func defaultDialGpsd(host string, port uint16) (lineSource, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("gpstracker: dialing gpsd at %s:%d: %w", host, port, err)
	}
	return conn, nil
}

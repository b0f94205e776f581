// Package serial binds per-port KISS/TNC2 framing to the router over a
// raw-mode serial device, and provides the raw serial port primitive
// shared with the GPS tracker's NMEA source.
package serial

import (
	"fmt"

	"github.com/pkg/term"
)

// supportedBauds mirrors the teacher's serial_port_open baud-rate
// switch; anything else falls back to 4800.
var supportedBauds = map[uint32]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// Open opens devicename in raw mode and sets its speed, falling back to
// 4800 baud for an unsupported rate. baud == 0 leaves the port's current
// speed alone.
func Open(devicename string, baud uint32) (*term.Term, error) {
	t, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serial: opening %s: %w", devicename, err)
	}

	switch {
	case baud == 0:
	case supportedBauds[baud]:
		if err := t.SetSpeed(int(baud)); err != nil {
			t.Close()
			return nil, fmt.Errorf("serial: setting speed %d on %s: %w", baud, devicename, err)
		}
	default:
		if err := t.SetSpeed(4800); err != nil {
			t.Close()
			return nil, fmt.Errorf("serial: setting fallback speed on %s: %w", devicename, err)
		}
	}

	return t, nil
}

package aprs

import (
	"fmt"
	"strings"
	"time"
)

// ParsePacket parses one TNC2 textual line into a Packet. Leading
// whitespace is trimmed; trailing whitespace is preserved since it is
// significant in message addressee fields. The header (before the first
// ':') must split on '>' into exactly source and a comma-separated
// destination list; the first element of that list is the destination,
// the rest are path hops. Malformed path hops are silently dropped rather
// than rejecting the whole packet — a deliberate robustness concession.
func ParsePacket(line string) (Packet, error) {
	line = strings.TrimLeft(line, " \t")

	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return Packet{}, fmt.Errorf("aprs: no ':' separating header from information in %q", line)
	}

	header := line[:colon]
	information := line[colon+1:]

	parts := strings.Split(header, ">")
	if len(parts) != 2 {
		return Packet{}, fmt.Errorf("aprs: header %q must split on '>' into exactly two halves", header)
	}

	source, err := ParseCallSign(parts[0])
	if err != nil {
		return Packet{}, fmt.Errorf("aprs: invalid source: %w", err)
	}

	destList := strings.Split(parts[1], ",")
	if len(destList) == 0 || destList[0] == "" {
		return Packet{}, fmt.Errorf("aprs: missing destination in header %q", header)
	}

	destination, err := ParseCallSign(destList[0])
	if err != nil {
		return Packet{}, fmt.Errorf("aprs: invalid destination: %w", err)
	}

	var path []CallSign
	for _, hop := range destList[1:] {
		cs, err := ParseCallSign(hop)
		if err != nil {
			continue
		}
		path = append(path, cs)
	}

	return Packet{
		Source:      source,
		Destination: destination,
		Path:        path,
		Information: information,
		DataType:    DetectDataType(information),
		Timestamp:   time.Now(),
	}, nil
}

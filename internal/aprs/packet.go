// Package aprs implements the APRS packet data model and its textual
// (TNC2) wire form: callsigns, paths, data-type classification, and
// SRC>DEST,PATH...:INFO formatting.
package aprs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DataType classifies a packet by the leading byte of its information field.
type DataType int

const (
	DataTypeInvalid DataType = iota
	DataTypePosition
	DataTypeStatus
	DataTypeMessage
	DataTypeObject
	DataTypeItem
	DataTypeMicE
	DataTypeTelemetry
	DataTypeWeather
	DataTypeUserDefined
	DataTypeThirdParty
)

func (d DataType) String() string {
	switch d {
	case DataTypePosition:
		return "Position"
	case DataTypeStatus:
		return "Status"
	case DataTypeMessage:
		return "Message"
	case DataTypeObject:
		return "Object"
	case DataTypeItem:
		return "Item"
	case DataTypeMicE:
		return "MicE"
	case DataTypeTelemetry:
		return "Telemetry"
	case DataTypeWeather:
		return "Weather"
	case DataTypeUserDefined:
		return "UserDefined"
	case DataTypeThirdParty:
		return "ThirdParty"
	default:
		return "Invalid"
	}
}

// DetectDataType classifies an information field by its first byte.
func DetectDataType(information string) DataType {
	if information == "" {
		return DataTypeInvalid
	}

	switch information[0] {
	case '!', '=', '/', '@':
		return DataTypePosition
	case '>':
		return DataTypeStatus
	case ':':
		return DataTypeMessage
	case ';':
		return DataTypeObject
	case ')':
		return DataTypeItem
	case '`', '\'':
		return DataTypeMicE
	case 'T':
		return DataTypeTelemetry
	case '_':
		return DataTypeWeather
	case '{':
		return DataTypeUserDefined
	case '}':
		return DataTypeThirdParty
	default:
		return DataTypeInvalid
	}
}

// CallSign is a base call (1-6 uppercase alphanumerics), an SSID in 0..15,
// and a used/digipeated flag rendered as a trailing '*'.
type CallSign struct {
	Call       string
	SSID       uint8
	Digipeated bool
}

// NewCallSign builds a CallSign, uppercasing the base call. It does not
// validate; use ParseCallSign to validate untrusted input.
func NewCallSign(call string, ssid uint8) CallSign {
	return CallSign{Call: strings.ToUpper(call), SSID: ssid}
}

// ParseCallSign parses a single path/address token such as "WIDE2-2" or
// "N0CALL-10*". A trailing '*' marks the hop as used (digipeated). SSIDs
// above 15 and empty base calls are rejected.
func ParseCallSign(token string) (CallSign, error) {
	digipeated := false
	if strings.HasSuffix(token, "*") {
		digipeated = true
		token = token[:len(token)-1]
	}

	call := token
	var ssid uint64

	if idx := strings.IndexByte(token, '-'); idx >= 0 {
		call = token[:idx]
		ssidStr := token[idx+1:]
		if parsed, err := strconv.ParseUint(ssidStr, 10, 8); err == nil {
			ssid = parsed
		}
		// A non-numeric or overflowing SSID silently becomes 0 rather
		// than rejecting the token, matching original_source's
		// parts[1].parse::<u8>().unwrap_or(0).
	}

	if call == "" {
		return CallSign{}, fmt.Errorf("aprs: empty call in token %q", token)
	}
	if ssid > 15 {
		return CallSign{}, fmt.Errorf("aprs: SSID %d out of range 0..15 in token %q", ssid, token)
	}

	return CallSign{
		Call:       strings.ToUpper(call),
		SSID:       uint8(ssid),
		Digipeated: digipeated,
	}, nil
}

// String renders the CallSign in textual form: CALL, CALL-SSID, and a
// trailing '*' if used.
func (c CallSign) String() string {
	var b strings.Builder
	b.WriteString(c.Call)
	if c.SSID != 0 {
		b.WriteByte('-')
		b.WriteString(strconv.Itoa(int(c.SSID)))
	}
	if c.Digipeated {
		b.WriteByte('*')
	}
	return b.String()
}

// Equal compares call and SSID only, ignoring the used flag — useful for
// matching a configured alias against a path hop regardless of whether it
// has already been marked used.
func (c CallSign) Equal(other CallSign) bool {
	return c.Call == other.Call && c.SSID == other.SSID
}

// Packet is a parsed APRS packet: source, destination, digipeater path,
// information field, and derived metadata.
type Packet struct {
	Source      CallSign
	Destination CallSign
	Path        []CallSign
	Information string
	DataType    DataType
	Timestamp   time.Time
	Raw         []byte
}

// NewPacket builds a Packet from source/destination/information, deriving
// DataType and stamping Timestamp with now.
func NewPacket(source, destination CallSign, information string) Packet {
	return Packet{
		Source:      source,
		Destination: destination,
		Information: information,
		DataType:    DetectDataType(information),
		Timestamp:   time.Now(),
	}
}

// String renders the packet in TNC2 textual form: SRC>DEST[,HOP...]:INFO.
func (p Packet) String() string {
	var b strings.Builder
	b.WriteString(p.Source.String())
	b.WriteByte('>')
	b.WriteString(p.Destination.String())
	for _, hop := range p.Path {
		b.WriteByte(',')
		b.WriteString(hop.String())
	}
	b.WriteByte(':')
	b.WriteString(p.Information)
	return b.String()
}

// HasRFOnly reports whether the information field literally contains
// "RFONLY", meaning the packet must not be gated to APRS-IS.
func (p Packet) HasRFOnly() bool {
	return strings.Contains(p.Information, "RFONLY")
}

// HasNoGate reports whether the information field literally contains
// "NOGATE", meaning the packet must not be gated to APRS-IS.
func (p Packet) HasNoGate() bool {
	return strings.Contains(p.Information, "NOGATE")
}

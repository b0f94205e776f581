// Package ax25 implements AX.25 UI-frame address encoding/decoding, the
// link layer APRS rides on RF. Only UI frames are supported — no
// connected-mode I-frames or sequence numbers.
package ax25

import (
	"fmt"

	"github.com/n0call/aprstx/internal/aprs"
)

const (
	control byte = 0x03 // UI frame
	pid     byte = 0xF0 // no layer-3 protocol

	repeatedBit byte = 0x80 // "has-been-repeated" bit on a digipeater's SSID byte
	lastAddrBit byte = 0x01 // end-of-address-field bit
)

// DecodeToText decodes a raw AX.25 UI frame into APRS textual form
// (SRC>DEST[,HOP...]:INFO), ready for aprs.ParsePacket. Frames shorter
// than 16 bytes (the minimum dest+src+control+PID) are rejected.
func DecodeToText(frame []byte) (string, error) {
	if len(frame) < 16 {
		return "", fmt.Errorf("ax25: frame too short (%d bytes)", len(frame))
	}

	i := 0

	dest, _, err := decodeAddress(frame[i : i+7])
	if err != nil {
		return "", fmt.Errorf("ax25: destination: %w", err)
	}
	i += 7

	src, srcLast, err := decodeAddress(frame[i : i+7])
	if err != nil {
		return "", fmt.Errorf("ax25: source: %w", err)
	}
	i += 7

	result := src + ">" + dest

	if !srcLast {
		for i < len(frame) {
			if i+7 > len(frame) {
				break
			}
			digi, digiLast, err := decodeAddress(frame[i : i+7])
			if err != nil {
				return "", fmt.Errorf("ax25: path hop: %w", err)
			}
			result += "," + digi
			i += 7
			if digiLast {
				break
			}
		}
	}

	if i+2 <= len(frame) && frame[i] == control && frame[i+1] == pid {
		i += 2
		result += ":" + string(frame[i:])
	}

	return result, nil
}

// decodeAddress decodes one 7-byte AX.25 address field, returning its
// textual form (CALL, CALL-SSID, with a trailing '*' if the repeated bit
// is set) and whether the end-of-address-field bit was set.
func decodeAddress(data []byte) (text string, last bool, err error) {
	if len(data) < 7 {
		return "", false, fmt.Errorf("invalid address length %d", len(data))
	}

	call := ""
	for _, b := range data[:6] {
		c := b >> 1
		if c != ' ' {
			call += string(rune(c))
		}
	}

	ssid := (data[6] >> 1) & 0x0F
	repeated := data[6]&repeatedBit != 0
	last = data[6]&lastAddrBit != 0

	text = call
	if ssid > 0 {
		text += fmt.Sprintf("-%d", ssid)
	}
	if repeated {
		text += "*"
	}

	return text, last, nil
}

// Encode renders a parsed packet as a raw AX.25 UI frame: destination,
// source, path hops, control/PID, then the information bytes.
func Encode(p aprs.Packet) ([]byte, error) {
	var frame []byte

	frame = encodeAddress(frame, p.Destination, false)

	lastIsSource := len(p.Path) == 0
	frame = encodeAddress(frame, p.Source, lastIsSource)

	for i, hop := range p.Path {
		last := i == len(p.Path)-1
		frame = encodeAddress(frame, hop, last)
	}

	frame = append(frame, control, pid)
	frame = append(frame, []byte(p.Information)...)

	return frame, nil
}

func encodeAddress(frame []byte, call aprs.CallSign, last bool) []byte {
	var addr [7]byte
	for i := range addr[:6] {
		addr[i] = ' ' << 1
	}

	for i := 0; i < len(call.Call) && i < 6; i++ {
		addr[i] = call.Call[i] << 1
	}

	addr[6] = (call.SSID << 1) | 0x60
	if call.Digipeated {
		addr[6] |= repeatedBit
	}
	if last {
		addr[6] |= lastAddrBit
	}

	return append(frame, addr[:]...)
}

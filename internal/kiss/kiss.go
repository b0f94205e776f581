// Package kiss implements the KISS TNC framing protocol: byte-stuffed
// frames delimited by FEND, escaping FEND/FESC within the frame body.
package kiss

const (
	FEND  byte = 0xC0
	FESC  byte = 0xDB
	TFEND byte = 0xDC
	TFESC byte = 0xDD
)

// Command nibbles, per the KISS spec. Only CmdData on port 0 is surfaced
// to the rest of the system; the others are silently consumed.
const (
	CmdData     byte = 0x00
	CmdTXDelay  byte = 0x01
	CmdPersist  byte = 0x02
	CmdSlotTime byte = 0x03
	CmdTXTail   byte = 0x04
	CmdFullDup  byte = 0x05
	CmdHardware byte = 0x06
	CmdReturn   byte = 0xFF
)

// Decoder is a streaming KISS frame decoder. Feed appends newly-read bytes;
// Next pops at most one decoded data frame per call. A caller drains Next
// in a loop after each Feed until it returns ok=false.
type Decoder struct {
	pending []byte
	buf     []byte
	inFrame bool
	escaped bool
}

// NewDecoder returns a Decoder ready to receive bytes via Feed.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly-received bytes to the decoder's unconsumed input.
func (d *Decoder) Feed(data []byte) {
	d.pending = append(d.pending, data...)
}

// Next consumes as much pending input as needed to produce the next
// complete KISS data frame (command 0, port 0). It returns ok=false once
// pending input is exhausted without completing a frame. An escape byte
// followed by anything other than TFEND/TFESC is a protocol error: the
// in-progress frame is discarded and the decoder resyncs at the next FEND.
func (d *Decoder) Next() (frame []byte, ok bool) {
	for len(d.pending) > 0 {
		b := d.pending[0]
		d.pending = d.pending[1:]

		if d.escaped {
			d.escaped = false
			switch b {
			case TFEND:
				d.buf = append(d.buf, FEND)
			case TFESC:
				d.buf = append(d.buf, FESC)
			default:
				d.buf = nil
				d.inFrame = false
			}
			continue
		}

		switch b {
		case FEND:
			if d.inFrame && len(d.buf) > 0 {
				complete := d.buf
				d.buf = nil
				d.inFrame = false

				if len(complete) > 0 {
					cmd := complete[0] & 0x0F
					port := (complete[0] >> 4) & 0x0F
					if cmd == CmdData && port == 0 && len(complete) > 1 {
						return complete[1:], true
					}
				}
				// Non-data/non-port-0/empty frame: consumed silently, keep scanning.
			} else {
				d.inFrame = true
				d.buf = nil
			}
		case FESC:
			if d.inFrame {
				d.escaped = true
			}
		default:
			if d.inFrame {
				d.buf = append(d.buf, b)
			}
		}
	}

	return nil, false
}

// Encode wraps data in a KISS data-command frame for the given port.
func Encode(data []byte, port byte) []byte {
	out := make([]byte, 0, len(data)+4)
	out = append(out, FEND)
	out = append(out, (port<<4)|CmdData)

	for _, b := range data {
		switch b {
		case FEND:
			out = append(out, FESC, TFEND)
		case FESC:
			out = append(out, FESC, TFESC)
		default:
			out = append(out, b)
		}
	}

	out = append(out, FEND)
	return out
}

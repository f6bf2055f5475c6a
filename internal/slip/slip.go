// Package slip implements the RFC 1055 framing used by the ESP32 ROM
// bootloader.
package slip

import "bytes"

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// Encode wraps data in a frame delimited by End bytes, escaping End and Esc.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/16+2)
	out = append(out, End)
	for _, b := range data {
		switch b {
		case End:
			out = append(out, Esc, EscEnd)
		case Esc:
			out = append(out, Esc, EscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, End)
}

// Decode unescapes one frame. Leading and trailing End bytes are ignored;
// an empty frame decodes to nil.
func Decode(frame []byte) []byte {
	for len(frame) > 0 && frame[0] == End {
		frame = frame[1:]
	}
	for len(frame) > 0 && frame[len(frame)-1] == End {
		frame = frame[:len(frame)-1]
	}
	if len(frame) == 0 {
		return nil
	}

	out := make([]byte, 0, len(frame))
	for i := 0; i < len(frame); i++ {
		b := frame[i]
		if b != Esc || i+1 == len(frame) {
			out = append(out, b)
			continue
		}
		i++
		switch frame[i] {
		case EscEnd:
			out = append(out, End)
		case EscEsc:
			out = append(out, Esc)
		default:
			out = append(out, frame[i])
		}
	}
	return out
}

// Decoder reassembles frames from a byte stream delivered in arbitrary
// chunks. Bytes before the first End are line noise and are dropped.
type Decoder struct {
	buf     []byte
	inFrame bool
}

// Feed appends received bytes.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the payload of the next complete non-empty frame.
func (d *Decoder) Next() ([]byte, bool) {
	for {
		if !d.inFrame {
			start := bytes.IndexByte(d.buf, End)
			if start < 0 {
				d.buf = d.buf[:0]
				return nil, false
			}
			d.buf = d.buf[start+1:]
			d.inFrame = true
		}

		end := bytes.IndexByte(d.buf, End)
		if end < 0 {
			return nil, false
		}
		if end == 0 {
			// Back-to-back End bytes: the second one opens the frame.
			d.buf = d.buf[1:]
			continue
		}

		payload := Decode(d.buf[:end])
		d.buf = d.buf[end+1:]
		d.inFrame = false
		return payload, true
	}
}

// Reset discards buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.inFrame = false
}

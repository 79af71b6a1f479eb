package crsf

import (
	"bytes"

	"github.com/librescoot/fpv-bridge/pkg/crc"
)

// RawFrame is a frame as it comes off the wire, before telemetry-specific
// field decoding.
type RawFrame struct {
	Type    byte
	Payload []byte
}

// Decoder is a resynchronizing CRSF frame scanner. It owns no I/O; callers
// feed it bytes as they arrive from the serial port and drain completed
// frames. Internally it walks the same three conceptual states spec.md
// names — scanning for sync, reading the length byte, reading the body —
// by slicing a growing buffer rather than tracking an explicit state enum,
// which keeps the single-byte resync rule (advance past only the rejected
// sync byte, never the whole candidate frame) a one-line slice operation
// instead of a pile of saved offsets.
type Decoder struct {
	buf        []byte
	CRCErrors  uint64
	Resyncs    uint64
	BytesSeen  uint64
}

// Feed appends newly read bytes and returns every frame that could be
// fully decoded from the accumulated buffer.
func (d *Decoder) Feed(data []byte) []RawFrame {
	d.BytesSeen += uint64(len(data))
	d.buf = append(d.buf, data...)

	var frames []RawFrame
	for {
		idx := bytes.IndexByte(d.buf, SyncByte)
		if idx < 0 {
			d.buf = d.buf[:0]
			return frames
		}
		if idx > 0 {
			d.buf = d.buf[idx:]
		}

		if len(d.buf) < 2 {
			return frames // wait for the length byte
		}

		length := d.buf[1]
		if length < MinFrameLength || length > MaxFrameLength {
			// The rejected byte may itself be a sync marker: drop only the
			// sync byte we scanned to, and let the next loop re-examine
			// the length byte as a fresh candidate.
			d.buf = d.buf[1:]
			d.Resyncs++
			continue
		}

		total := 2 + int(length)
		if len(d.buf) < total {
			return frames // wait for the rest of the body
		}

		body := d.buf[2:total] // type + payload + crc
		recvCRC := body[len(body)-1]
		if !crc.Verify(body[:len(body)-1], recvCRC) {
			d.CRCErrors++
			d.Resyncs++
			d.buf = d.buf[1:] // advance one byte past the previous sync, not the whole frame
			continue
		}

		payload := make([]byte, len(body)-2)
		copy(payload, body[1:len(body)-1])
		frames = append(frames, RawFrame{Type: body[0], Payload: payload})
		d.buf = d.buf[total:]
	}
}

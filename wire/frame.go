// Package wire implements a streaming, length-prefixed codec for the
// PostgreSQL frontend/backend protocol. It reassembles frames from
// arbitrary TCP chunk boundaries and re-emits them byte-for-byte when
// untouched, or with a recomputed length when a payload was rewritten.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the default ceiling on a single frame's declared length,
// inclusive of the 4-byte length field. A length outside [4, MaxFrameSize]
// is rejected as malformed rather than trusted and used to size a buffer.
const MaxFrameSize = 1 << 30

// Sentinel errors, wrapped with additional context. Decoder.Next returns
// ErrMalformedFrame and ErrUnexpectedEOF; ErrProtocolViolation is returned
// by the interception pipeline (anonymize.Anonymizer.OnDataRow).
var (
	// ErrMalformedFrame is returned when a frame's declared length is
	// out of the valid range.
	ErrMalformedFrame = errors.New("wire: malformed frame")
	// ErrUnexpectedEOF is returned when the stream ends mid-frame.
	ErrUnexpectedEOF = errors.New("wire: unexpected eof mid-frame")
	// ErrProtocolViolation is returned when a DataRow arrives with no
	// bound RowDescription, or with a cell count mismatch.
	ErrProtocolViolation = errors.New("wire: protocol violation")
)

// Frame is a self-delimited protocol unit: an optional one-byte tag and a
// payload. Tag is 0 for the untagged startup frame.
type Frame struct {
	Tagged  bool
	Tag     byte
	Payload []byte
}

// Decoder reads length-prefixed frames from a byte stream, reassembling
// them across arbitrary read boundaries.
type Decoder struct {
	r          *bufio.Reader
	maxFrame   int
	startupSeen bool // startup frame is only expected once, at stream start
}

// NewDecoder creates a Decoder over r. startupFirst indicates the first
// frame on this stream is the untagged, length-only startup/greeting
// frame (client→server direction only); server→client and all subsequent
// client→server frames are tagged.
func NewDecoder(r io.Reader, startupFirst bool) *Decoder {
	return &Decoder{
		r:           bufio.NewReaderSize(r, 16*1024),
		maxFrame:    MaxFrameSize,
		startupSeen: !startupFirst,
	}
}

// SetMaxFrame overrides the default MaxFrameSize ceiling.
func (d *Decoder) SetMaxFrame(n int) {
	d.maxFrame = n
}

// Next blocks until one full frame is buffered, then returns it. It never
// returns a partial frame: callers see either a complete Frame or an error.
func (d *Decoder) Next() (Frame, error) {
	if !d.startupSeen {
		d.startupSeen = true
		return d.readUntagged()
	}
	return d.readTagged()
}

func (d *Decoder) readUntagged() (Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return Frame{}, wrapEOF(err, "read startup length")
	}
	length := int(binary.BigEndian.Uint32(hdr[:]))
	if length < 4 || length > d.maxFrame {
		return Frame{}, fmt.Errorf("%w: startup length %d", ErrMalformedFrame, length)
	}
	payload := make([]byte, length-4)
	if len(payload) > 0 {
		if _, err := io.ReadFull(d.r, payload); err != nil {
			if errors.Is(err, io.EOF) { // header already consumed: mid-frame
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, wrapEOF(err, "read startup payload")
		}
	}
	return Frame{Tagged: false, Payload: payload}, nil
}

func (d *Decoder) readTagged() (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return Frame{}, wrapEOF(err, "read frame header")
	}
	tag := hdr[0]
	length := int(binary.BigEndian.Uint32(hdr[1:5]))
	if length < 4 || length > d.maxFrame {
		return Frame{}, fmt.Errorf("%w: tag %q length %d", ErrMalformedFrame, tag, length)
	}
	payload := make([]byte, length-4)
	if len(payload) > 0 {
		if _, err := io.ReadFull(d.r, payload); err != nil {
			if errors.Is(err, io.EOF) { // header already consumed: mid-frame
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, wrapEOF(err, "read frame payload")
		}
	}
	return Frame{Tagged: true, Tag: tag, Payload: payload}, nil
}

// wrapEOF turns a bare io.EOF or io.ErrUnexpectedEOF arriving mid-frame
// into ErrUnexpectedEOF; a clean EOF at a frame boundary (nothing read
// yet) is passed through as io.EOF so callers can distinguish "stream
// ended cleanly" from "stream ended mid-frame".
func wrapEOF(err error, where string) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedEOF, where, err)
	}
	return fmt.Errorf("wire: %s: %w", where, err)
}

// WriteFrame writes a frame's bytes to w, always recomputing the length
// prefix from len(payload) rather than trusting any stored value.
func WriteFrame(w io.Writer, tagged bool, tag byte, payload []byte) error {
	length := len(payload) + 4
	if tagged {
		buf := make([]byte, 5+len(payload))
		buf[0] = tag
		binary.BigEndian.PutUint32(buf[1:5], uint32(length)) //nolint:gosec // length bounded by MaxFrameSize
		copy(buf[5:], payload)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("wire: write frame: %w", err)
		}
		return nil
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(length)) //nolint:gosec // length bounded by MaxFrameSize
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: write startup frame: %w", err)
	}
	return nil
}

// WriteOpaque re-emits a Frame verbatim: the original tag and payload,
// unmodified, with the length prefix recomputed (it will always match
// what was decoded, since the payload was never touched).
func WriteOpaque(w io.Writer, f Frame) error {
	return WriteFrame(w, f.Tagged, f.Tag, f.Payload)
}

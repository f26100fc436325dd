// Package coder implements the carry-less 32-bit range coder described
// in §4.4: encode/decode a bit stream against predictions from a
// predictor.Predictor, with the byte and end-of-segment framing every
// segment uses.
package coder

import (
	"fmt"
	"io"
)

// CorruptError reports that the decoder's range invariant (low <= curr
// <= high) was violated, or that an end-of-stream bit arrived with curr
// nonzero — the archive is corrupted past this point.
type CorruptError struct {
	Reason string
}

func (e *CorruptError) Error() string { return "coder: corrupt stream: " + e.Reason }

// bitSource/bitSink let the coder stay agnostic of the predictor's
// concrete type — it only needs "give me p, then tell you y" and
// "tell me p, then give you y", matching the reference's Encoder/
// Decoder split around a shared Predictor.
type bitSource interface {
	Predict() int32
	Update(y int) error
}

// Decoder decodes one segment's arithmetic-coded byte stream.
type Decoder struct {
	r             io.ByteReader
	pred          bitSource
	low, high, curr uint32
	started       bool
}

// NewDecoder wraps r and pred for decoding a single segment. curr's
// lazy 4-byte initialization happens on the first Decompress call, per
// §3.4.
func NewDecoder(r io.ByteReader, pred bitSource) *Decoder {
	return &Decoder{r: r, pred: pred, low: 1, high: 0xFFFFFFFF}
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("coder: unexpected end of file: %w", err)
	}
	return b, nil
}

// decode returns one bit given its 16-bit probability of being 1.
func (d *Decoder) decode(p uint32) (int, error) {
	if d.curr < d.low || d.curr > d.high {
		return 0, &CorruptError{Reason: "curr out of [low,high] range"}
	}
	mid := d.low + ((d.high-d.low)>>16)*p + (((d.high-d.low)&0xffff)*p)>>16
	var y int
	if d.curr <= mid {
		y = 1
		d.high = mid
	} else {
		d.low = mid + 1
	}
	for (d.high^d.low)&0xFF000000 == 0 {
		d.high = d.high<<8 | 255
		d.low = d.low << 8
		if d.low == 0 {
			d.low = 1
		}
		c, err := d.readByte()
		if err != nil {
			return 0, err
		}
		d.curr = d.curr<<8 | uint32(c)
	}
	return y, nil
}

// Decompress returns the next decoded byte, or (0, io.EOF) at the
// segment's end-of-stream marker.
func (d *Decoder) Decompress() (byte, error) {
	if !d.started {
		d.started = true
		for i := 0; i < 4; i++ {
			c, err := d.readByte()
			if err != nil {
				return 0, err
			}
			d.curr = d.curr<<8 | uint32(c)
		}
	}
	y, err := d.decode(0)
	if err != nil {
		return 0, err
	}
	if y == 1 {
		if d.curr != 0 {
			return 0, &CorruptError{Reason: "trailing data after end-of-stream bit"}
		}
		return 0, errEOS
	}
	c := 1
	for c < 256 {
		p := uint32(d.pred.Predict())*2 + 1
		bit, err := d.decode(p)
		if err != nil {
			return 0, err
		}
		c = c + c + bit
		if err := d.pred.Update(c & 1); err != nil {
			return 0, err
		}
	}
	return byte(c - 256), nil
}

// errEOS is the sentinel the framer checks for with errors.Is to detect
// the segment's natural end.
var errEOS = fmt.Errorf("coder: end of segment")

// ErrEndOfSegment is the exported form of the end-of-stream sentinel.
var ErrEndOfSegment = errEOS

// Encoder encodes one segment's byte stream as an arithmetic code.
type Encoder struct {
	w          io.ByteWriter
	pred       bitSource
	low, high  uint32
}

// NewEncoder wraps w and pred for encoding a single segment.
func NewEncoder(w io.ByteWriter, pred bitSource) *Encoder {
	return &Encoder{w: w, pred: pred, low: 1, high: 0xFFFFFFFF}
}

func (e *Encoder) encode(y int, p uint32) error {
	mid := e.low + ((e.high-e.low)>>16)*p + (((e.high-e.low)&0xffff)*p)>>16
	if y == 1 {
		e.high = mid
	} else {
		e.low = mid + 1
	}
	for (e.high^e.low)&0xFF000000 == 0 {
		if err := e.w.WriteByte(byte(e.high >> 24)); err != nil {
			return err
		}
		e.high = e.high<<8 | 255
		e.low = e.low << 8
		if e.low == 0 {
			e.low = 1
		}
	}
	return nil
}

// Compress encodes byte c (0..255), or the end-of-segment marker when
// eos is true.
func (e *Encoder) Compress(c byte, eos bool) error {
	if eos {
		return e.encode(1, 0)
	}
	if err := e.encode(0, 0); err != nil {
		return err
	}
	for i := 7; i >= 0; i-- {
		p := uint32(e.pred.Predict())*2 + 1
		y := int(c>>uint(i)) & 1
		if err := e.encode(y, p); err != nil {
			return err
		}
		if err := e.pred.Update(y); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes nothing. The end-of-segment encode(1,0) call already
// emits the bytes of low; the decoder's renormalization after that
// final bit then reads 4 more bytes, which are the 4-byte zero tail the
// framer writes after the coded data (WriteSegment), not the Encoder.
// Flush is kept for symmetry with callers that always pair a
// Compress loop with a Flush step.
func (e *Encoder) Flush() error { return nil }

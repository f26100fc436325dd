// Package framer implements the archive-level block/segment state
// machine around the core (§3.6, §4.5): locating a block via its
// locator tag or four-multiplier rolling-hash resync, parsing the
// block header, running each segment's filename/comment/data/checksum
// framing, and driving the PCOMP loader subprotocol described in
// §4.5 / libzpaq.cpp's PostProcessor.
package framer

import (
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/zpaqgo/zpaqgo/internal/coder"
	"github.com/zpaqgo/zpaqgo/internal/header"
	"github.com/zpaqgo/zpaqgo/internal/predictor"
	"github.com/zpaqgo/zpaqgo/internal/vm"
)

// locatorTag is the 13-byte standalone marker that may precede any
// block (§3.6).
var locatorTag = [13]byte{0x37, 0x6B, 0x53, 0x74, 0xA0, 0x31, 0x83, 0xD3, 0x8C, 0xB2, 0x28, 0xB0, 0xD3}

// Rolling-hash multipliers and target values for locating a block
// without requiring byte-exact alignment (§6's "4-way rolling-hash
// search"). The targets are the hash of the 16-byte string formed by the
// locator tag followed by the "zPQ" magic; the initial values make a
// bare "zPQ" at the very start of the stream match as well.
const (
	h1Init, h1Mul, h1Target = uint32(0x3D49B113), 12, uint32(0xB16B88F1)
	h2Init, h2Mul, h2Target = uint32(0x29EB7F93), 20, uint32(0xFF5376F1)
	h3Init, h3Mul, h3Target = uint32(0x2614BE13), 28, uint32(0x72AC5BF1)
	h4Init, h4Mul, h4Target = uint32(0x3828EB13), 44, uint32(0x2F909AF1)
)

// ProtocolError reports a PCOMP loader or framing byte outside its
// expected set, or a declared PCOMP length inconsistency.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "framer: protocol error: " + e.Reason }

// LevelError reports a block announcing an unsupported level or type.
type LevelError struct {
	Level, Type byte
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("framer: unsupported level=%d type=%d", e.Level, e.Type)
}

// ChecksumError reports that a segment's reconstructed SHA-1 disagrees
// with its stored trailer.
type ChecksumError struct {
	Filename string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("framer: checksum mismatch in segment %q", e.Filename)
}

// getByte reads one byte from r using the -1-on-EOF convention the
// reference's Reader::get() uses internally, so that FindTag can tell
// the end of the stream apart from a normal byte.
func getByte(r io.ByteReader) (int, error) {
	b, err := r.ReadByte()
	if errors.Is(err, io.EOF) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return int(b), nil
}

// FindTag scans r for the locator tag via the 4-multiplier rolling
// hash, consuming and discarding bytes up to and including the tag and
// the "zPQ" magic that follows it; a tag not followed by "zPQ" is not
// matched. Because the magic is consumed, r is left at the block's level
// byte, not at a position ReadBlockHeader can read from.
// Returns io.EOF if the underlying stream ends without finding it.
func FindTag(r io.ByteReader) error {
	h1, h2, h3, h4 := h1Init, h2Init, h3Init, h4Init
	for {
		c, err := getByte(r)
		if err != nil {
			return err
		}
		if c == -1 {
			return io.EOF
		}
		h1 = h1*h1Mul + uint32(c)
		h2 = h2*h2Mul + uint32(c)
		h3 = h3*h3Mul + uint32(c)
		h4 = h4*h4Mul + uint32(c)
		if h1 == h1Target && h2 == h2Target && h3 == h3Target && h4 == h4Target {
			return nil
		}
	}
}

// Block holds one block's parsed header and the shared predictor/VM
// state that every segment within it decodes against — the reference's
// Predictor is a block-scoped object, reinitialized once per findBlock,
// not once per segment.
type Block struct {
	Level byte
	Hdr   *header.Header

	hmach *vm.Machine
	pred  *predictor.Predictor
}

// ReadBlockHeader reads the 'z' 'P' 'Q' magic, level, type, and the
// serialized VM header immediately following r's current position. A
// 13-byte locator tag as written by WriteTag may come first and is
// skipped; any other leading bytes are rejected.
func ReadBlockHeader(r io.ByteReader) (*Block, error) {
	magic := make([]byte, 3)
	for i := range magic {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		magic[i] = b
	}
	if string(magic) == string(locatorTag[:3]) {
		for i := 3; i < len(locatorTag)+3; i++ {
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if i < len(locatorTag) {
				if b != locatorTag[i] {
					return nil, &ProtocolError{Reason: "malformed locator tag"}
				}
			} else {
				magic[i-len(locatorTag)] = b
			}
		}
	}
	if string(magic) != "zPQ" {
		return nil, &ProtocolError{Reason: "missing zPQ magic"}
	}
	level, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	typ, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if (level != 1 && level != 2) || typ != 1 {
		return nil, &LevelError{Level: level, Type: typ}
	}

	sizeBuf := make([]byte, 2)
	for i := range sizeBuf {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		sizeBuf[i] = b
	}
	hsize := int(sizeBuf[0]) | int(sizeBuf[1])<<8
	raw := make([]byte, 2+hsize)
	raw[0], raw[1] = sizeBuf[0], sizeBuf[1]
	for i := 2; i < len(raw); i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		raw[i] = b
	}

	hdr, _, err := header.Parse(raw)
	if err != nil {
		return nil, err
	}

	b := &Block{Level: level, Hdr: hdr}
	b.hmach = vm.New(hdr.Raw, hdr.HBegin, int(hdr.HH), int(hdr.HM))
	if hdr.N > 0 {
		pr, err := predictor.New(hdr.Specs, b.hmach)
		if err != nil {
			return nil, err
		}
		b.pred = pr
	}
	return b, nil
}

// segmentState mirrors the reference Decompresser's per-segment states
// (SEG1/SEG2/SEGEND) plus the PostProcessor loader's own state.
type segmentState int

const (
	stateAwaitPP segmentState = iota
	stateData
	stateDone
)

// Segment decodes one segment's data stream: it drives the coder and
// predictor to recover bytes and feeds them through the PCOMP loader
// subprotocol and, once loaded, through the PCOMP machine itself. The
// trailing checksum is read and checked separately, by VerifyChecksum.
type Segment struct {
	Filename string
	Comment  string

	block   *Block
	r       io.ByteReader
	dec     *coder.Decoder
	state   segmentState
	pp      *postProcessor
}

// postProcessor mirrors libzpaq's PostProcessor: it consumes the
// (PASS=0 | PROG=1 psize pcomp) prefix the reference encodes at the
// start of every segment's first bytes, then either passes bytes
// through untouched or drives a freshly built PCOMP vm.Machine.
type postProcessor struct {
	state int // 0 init, 1 pass-through, 2/3/4 loading PROG, 5 loaded
	hsize int
	pcomp []byte
	ph, pm byte

	mach *vm.Machine
}

// NewSegment begins reading the next segment header from r: the
// 0x01/0xFF discriminator, the NUL-terminated filename and comment, and
// the reserved 0x00 byte after them. Returns (nil, io.EOF) at a clean
// end-of-block (0xFF marker).
func NewSegment(r io.ByteReader, b *Block) (*Segment, error) {
	c, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if c == 0xFF {
		return nil, io.EOF
	}
	if c != 0x01 {
		return nil, &ProtocolError{Reason: "missing segment marker"}
	}

	filename, err := readNulTerminated(r)
	if err != nil {
		return nil, err
	}
	comment, err := readNulTerminated(r)
	if err != nil {
		return nil, err
	}
	reserved, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if reserved != 0 {
		return nil, &ProtocolError{Reason: "missing reserved byte after comment"}
	}

	seg := &Segment{
		Filename: filename,
		Comment:  comment,
		block:    b,
		r:        r,
		pp:       &postProcessor{ph: b.Hdr.PH, pm: b.Hdr.PM},
	}
	if b.pred != nil {
		seg.dec = coder.NewDecoder(r, b.pred)
	}
	return seg, nil
}

func readNulTerminated(r io.ByteReader) (string, error) {
	var out []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(out), nil
		}
		out = append(out, c)
	}
}

// Decompress streams the segment's reconstructed plaintext to w (and,
// if h is non-nil, feeds every byte to it for checksum verification),
// returning when the segment's natural end-of-stream bit is reached.
func (s *Segment) Decompress(w io.Writer, h hash.Hash) error {
	sink := func(c byte) {
		w.Write([]byte{c})
		if h != nil {
			h.Write([]byte{c})
		}
	}
	if s.dec == nil {
		return s.decompressRaw(sink)
	}
	for {
		raw, err := s.dec.Decompress()
		if errors.Is(err, coder.ErrEndOfSegment) {
			if err := s.feedPostProcessor(-1, sink); err != nil {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.feedPostProcessor(int(raw), sink); err != nil {
			return err
		}
	}
}

// decompressRaw implements the n=0 "byte-pass" fast path (DESIGN.md's
// resolved Open Question #3): with no predictor components the block
// never invokes the arithmetic coder, so the segment body is instead an
// explicit 8-byte little-endian length followed by that many literal
// bytes, still run through the PCOMP loader subprotocol like any other
// segment.
func (s *Segment) decompressRaw(sink func(byte)) error {
	var n uint64
	for i := 0; i < 8; i++ {
		c, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		n |= uint64(c) << (8 * i)
	}
	for i := uint64(0); i < n; i++ {
		c, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if err := s.feedPostProcessor(int(c), sink); err != nil {
			return err
		}
	}
	return s.feedPostProcessor(-1, sink)
}

// feedPostProcessor implements PostProcessor::write's state machine:
// the first bytes of every segment declare pass-through (0) or a PCOMP
// program (1 + little-endian length + bytecode) before any plaintext
// byte is emitted.
func (s *Segment) feedPostProcessor(c int, sink func(byte)) error {
	pp := s.pp
	switch pp.state {
	case 0:
		if c < 0 {
			return &ProtocolError{Reason: "unexpected end of stream before PCOMP loader byte"}
		}
		pp.state = c + 1
		if pp.state > 2 {
			return &ProtocolError{Reason: fmt.Sprintf("unknown post-processing type %d", c)}
		}
	case 1: // pass-through
		if c >= 0 {
			sink(byte(c))
		}
	case 2:
		if c < 0 {
			return &ProtocolError{Reason: "unexpected end of stream while loading PCOMP size"}
		}
		pp.hsize = c
		pp.state = 3
	case 3:
		if c < 0 {
			return &ProtocolError{Reason: "unexpected end of stream while loading PCOMP size"}
		}
		pp.hsize += c * 256
		pp.pcomp = make([]byte, 0, pp.hsize)
		pp.state = 4
	case 4:
		if c < 0 {
			return &ProtocolError{Reason: "unexpected end of stream while loading PCOMP body"}
		}
		pp.pcomp = append(pp.pcomp, byte(c))
		if len(pp.pcomp) == pp.hsize {
			if err := pp.load(); err != nil {
				return err
			}
			pp.state = 5
		}
	case 5: // loaded PCOMP machine; feed it bytes (or EOF) via OUT
		if err := pp.feed(c, sink); err != nil {
			return err
		}
	}
	return nil
}

// load builds the PCOMP machine from the accumulated bytecode once its
// declared length is fully read.
func (pp *postProcessor) load() error {
	if len(pp.pcomp) < 2 {
		return &ProtocolError{Reason: "PCOMP program too short to contain HALT guard"}
	}
	pp.mach = vm.New(pp.pcomp, 0, int(pp.ph), int(pp.pm))
	return nil
}

// feed drives the PCOMP machine one byte (or the EOF sentinel) at a
// time, per §4.2's "called once per output byte and once at EOF" rule.
func (pp *postProcessor) feed(c int, sink func(byte)) error {
	if pp.mach == nil { // PASS mode never reaches state 5
		if c >= 0 {
			sink(byte(c))
		}
		return nil
	}
	pp.mach.SetOutput(sink)
	if c < 0 {
		return pp.mach.RunEOF()
	}
	return pp.mach.Run(uint32(c))
}

// VerifyChecksum reads the segment trailer (4 zero bytes already
// consumed by the arithmetic coder's natural termination are not part
// of this call; the trailer here is the 0xFE/0xFD+sha1 byte(s) per
// §3.6) and compares it against the accumulated digest.
func VerifyChecksum(r io.ByteReader, filename string, digest [20]byte) error {
	marker, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch marker {
	case 0xFE:
		return nil
	case 0xFD:
		var want [20]byte
		for i := range want {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			want[i] = b
		}
		if want != digest {
			return &ChecksumError{Filename: filename}
		}
		return nil
	default:
		return &ProtocolError{Reason: "missing end-of-segment checksum marker"}
	}
}

// --- encode side ---
//
// The writer half mirrors Compressor::writeTag/startBlock/startSegment/
// postProcess/compress/endSegment/endBlock. block.Compress drives these
// in sequence; they are exported standalone so archive-level callers
// can interleave multiple segments within one block without the
// predictor being reinitialized between them (matching the reference's
// block-scoped Predictor).

// WriteTag writes the standalone 13-byte locator tag, used to let a
// decoder resynchronize mid-stream (§3.6).
func WriteTag(w io.Writer) error {
	_, err := w.Write(locatorTag[:])
	return err
}

// WriteBlockHeader writes the zPQ magic, level/type bytes, and the
// already-serialized header body (hdr.Raw, hsize-prefixed) that
// describes this block's HCOMP program and component list.
func WriteBlockHeader(w io.Writer, level byte, hdr *header.Header) error {
	if _, err := w.Write([]byte{'z', 'P', 'Q', level, 1}); err != nil {
		return err
	}
	hsize := len(hdr.Raw)
	if _, err := w.Write([]byte{byte(hsize), byte(hsize >> 8)}); err != nil {
		return err
	}
	_, err := w.Write(hdr.Raw)
	return err
}

// NewEncoderBlock builds the shared HCOMP machine and predictor for a
// block being written, from the same Header the decoder would parse.
func NewEncoderBlock(level byte, hdr *header.Header) (*Block, error) {
	b := &Block{Level: level, Hdr: hdr}
	b.hmach = vm.New(hdr.Raw, hdr.HBegin, int(hdr.HH), int(hdr.HM))
	if hdr.N > 0 {
		pr, err := predictor.New(hdr.Specs, b.hmach)
		if err != nil {
			return nil, err
		}
		b.pred = pr
	}
	return b, nil
}

// WriteSegment writes one segment's 0x01 marker, filename, comment,
// and reserved byte, then a pass-through (PASS) PCOMP loader prefix
// followed by the arithmetic-coded bytes of data, and finally the
// 4-byte zero tail plus checksum trailer (0xFE, or 0xFD+sha1 when
// digest is non-nil). In an n=0 block the body is instead the 8-byte
// length and literal bytes decompressRaw reads, with no zero tail,
// followed by the same checksum trailer.
func WriteSegment(w io.Writer, b *Block, filename, comment string, data []byte, digest *[20]byte) error {
	if _, err := w.Write([]byte{0x01}); err != nil {
		return err
	}
	if err := writeNulTerminated(w, filename); err != nil {
		return err
	}
	if err := writeNulTerminated(w, comment); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}

	bw, ok := w.(io.ByteWriter)
	if !ok {
		return &ProtocolError{Reason: "segment writer must implement io.ByteWriter"}
	}
	if b.pred == nil {
		if err := writeSegmentRaw(bw, data); err != nil {
			return err
		}
		return writeTrailer(w, digest)
	}

	enc := coder.NewEncoder(bw, b.pred)
	if err := enc.Compress(0, false); err != nil { // PASS loader byte
		return err
	}
	for _, c := range data {
		if err := enc.Compress(c, false); err != nil {
			return err
		}
	}
	if err := enc.Compress(0, true); err != nil { // EOS
		return err
	}
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	return writeTrailer(w, digest)
}

func writeSegmentRaw(w io.ByteWriter, data []byte) error {
	n := uint64(len(data)) + 1 // +1 for the leading PASS loader byte
	for i := 0; i < 8; i++ {
		if err := w.WriteByte(byte(n >> (8 * i))); err != nil {
			return err
		}
	}
	if err := w.WriteByte(0); err != nil { // PASS loader byte
		return err
	}
	for _, c := range data {
		if err := w.WriteByte(c); err != nil {
			return err
		}
	}
	return nil
}

func writeTrailer(w io.Writer, digest *[20]byte) error {
	if digest == nil {
		_, err := w.Write([]byte{0xFE})
		return err
	}
	if _, err := w.Write([]byte{0xFD}); err != nil {
		return err
	}
	_, err := w.Write(digest[:])
	return err
}

func writeNulTerminated(w io.Writer, s string) error {
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// EndBlock writes the 0xFF block-terminator byte.
func EndBlock(w io.Writer) error {
	_, err := w.Write([]byte{0xFF})
	return err
}

package framer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/zpaqgo/zpaqgo/internal/header"
)

// minimalConstHeader builds a one-CONST-component header (c=128, an
// even 50/50 predictor) with a HALT-only HCOMP program, the smallest
// well-formed header this package can drive end to end.
func minimalConstHeader(t *testing.T) *header.Header {
	t.Helper()
	body := []byte{
		0, 0, 0, 0, // hh hm ph pm
		1,      // n
		1, 128, // CONST c=128
		0,    // terminator
		56, 0, // HCOMP: HALT, guard
	}
	raw := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(raw, uint16(len(body)))
	copy(raw[2:], body)
	hdr, _, err := header.Parse(raw)
	if err != nil {
		t.Fatalf("header.Parse: %v", err)
	}
	return hdr
}

func TestFindTagLocatesLiteralTag(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("garbage-prefix-bytes")
	if err := WriteTag(&buf); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	buf.WriteString("zPQ") // the hash targets cover the tag plus the block magic
	buf.WriteString("trailing")
	if err := FindTag(&buf); err != nil {
		t.Fatalf("FindTag: %v", err)
	}
	rest := buf.String()
	if rest != "trailing" {
		t.Fatalf("FindTag left %q, want %q", rest, "trailing")
	}
}

func TestFindTagReturnsEOFWhenAbsent(t *testing.T) {
	buf := bytes.NewBufferString("no tag here at all")
	if err := FindTag(buf); err == nil {
		t.Fatal("expected EOF-class error for a stream without the tag")
	}
}

func TestRoundTripEmptySegment(t *testing.T) {
	hdr := minimalConstHeader(t)

	var buf bytes.Buffer
	encB, err := NewEncoderBlock(byte(header.Level2), hdr)
	if err != nil {
		t.Fatalf("NewEncoderBlock: %v", err)
	}
	if err := WriteBlockHeader(&buf, byte(header.Level2), hdr); err != nil {
		t.Fatalf("WriteBlockHeader: %v", err)
	}
	if err := WriteSegment(&buf, encB, "empty.bin", "", nil, nil); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if err := EndBlock(&buf); err != nil {
		t.Fatalf("EndBlock: %v", err)
	}

	decB, err := ReadBlockHeader(&buf)
	if err != nil {
		t.Fatalf("ReadBlockHeader: %v", err)
	}
	if decB.Level != byte(header.Level2) {
		t.Fatalf("Level = %d, want %d", decB.Level, header.Level2)
	}

	seg, err := NewSegment(&buf, decB)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	if seg.Filename != "empty.bin" {
		t.Fatalf("Filename = %q", seg.Filename)
	}

	var out bytes.Buffer
	if err := seg.Decompress(&out, nil); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected empty output, got %d bytes", out.Len())
	}

	if err := VerifyChecksum(&buf, seg.Filename, [20]byte{}); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}

	if _, err := NewSegment(&buf, decB); err == nil {
		t.Fatal("expected io.EOF sentinel for the 0xFF block terminator")
	}
}

func TestRoundTripByPassSegment(t *testing.T) {
	body := []byte{
		0, 0, 0, 0,
		0, // n=0: byte-pass mode
		0, // terminator
		56, 0,
	}
	raw := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(raw, uint16(len(body)))
	copy(raw[2:], body)
	hdr, _, err := header.Parse(raw)
	if err != nil {
		t.Fatalf("header.Parse: %v", err)
	}

	var buf bytes.Buffer
	encB, err := NewEncoderBlock(byte(header.Level2), hdr)
	if err != nil {
		t.Fatalf("NewEncoderBlock: %v", err)
	}
	if err := WriteBlockHeader(&buf, byte(header.Level2), hdr); err != nil {
		t.Fatalf("WriteBlockHeader: %v", err)
	}
	payload := []byte("hello, zpaqgo")
	if err := WriteSegment(&buf, encB, "raw.bin", "note", payload, nil); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if err := EndBlock(&buf); err != nil {
		t.Fatalf("EndBlock: %v", err)
	}

	decB, err := ReadBlockHeader(&buf)
	if err != nil {
		t.Fatalf("ReadBlockHeader: %v", err)
	}
	seg, err := NewSegment(&buf, decB)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	if seg.Comment != "note" {
		t.Fatalf("Comment = %q", seg.Comment)
	}

	var out bytes.Buffer
	if err := seg.Decompress(&out, nil); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if out.String() != string(payload) {
		t.Fatalf("Decompress = %q, want %q", out.String(), payload)
	}
}

func TestReadBlockHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("xyz")
	if _, err := ReadBlockHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestReadBlockHeaderRejectsUnsupportedLevel(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("zPQ")
	buf.Write([]byte{9, 1}) // unsupported level
	if _, err := ReadBlockHeader(&buf); err == nil {
		t.Fatal("expected LevelError for unsupported level")
	} else if _, ok := err.(*LevelError); !ok {
		t.Fatalf("got %T, want *LevelError", err)
	}
}

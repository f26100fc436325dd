package header

import (
	"encoding/binary"
	"testing"
)

func buildRaw(body []byte) []byte {
	raw := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(raw, uint16(len(body)))
	copy(raw[2:], body)
	return raw
}

func TestParseMinimalConstHeader(t *testing.T) {
	body := []byte{
		0, 0, 0, 0, // hh hm ph pm
		1,       // n
		1, 160,  // CONST c=160
		0,       // terminator
		56, 0,   // HCOMP: HALT, guard
	}
	raw := buildRaw(body)
	h, consumed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed = %d, want %d", consumed, len(raw))
	}
	if h.N != 1 || len(h.Specs) != 1 {
		t.Fatalf("unexpected specs: %+v", h.Specs)
	}
	if h.HBegin != len(body)-2 {
		t.Fatalf("HBegin = %d, want %d", h.HBegin, len(body)-2)
	}
}

func TestParseRejectsBadCrossReference(t *testing.T) {
	body := []byte{
		0, 0, 0, 0,
		2,
		1, 160, // component 0: CONST
		5, 0, 5, 128, // component 1: AVG j=0 k=5(invalid, >= i) wt=128
		0,
		56, 0,
	}
	raw := buildRaw(body)
	if _, _, err := Parse(raw); err == nil {
		t.Fatal("expected error for forward cross-reference")
	}
}

func TestParseRejectsMissingTerminator(t *testing.T) {
	body := []byte{
		0, 0, 0, 0,
		1,
		1, 160,
		56, 0, // no terminator byte before HCOMP
	}
	raw := buildRaw(body)
	if _, _, err := Parse(raw); err == nil {
		t.Fatal("expected error for missing terminator")
	}
}

func TestParseZeroComponentsByteMode(t *testing.T) {
	body := []byte{
		0, 0, 0, 0,
		0, // n=0: byte-pass mode
		0, // terminator
		56, 0,
	}
	raw := buildRaw(body)
	h, _, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.N != 0 || len(h.Specs) != 0 {
		t.Fatalf("expected zero components, got %+v", h.Specs)
	}
}

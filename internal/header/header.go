// Package header parses and validates a block's wire-format header
// (§3.1–§3.2, §6): the HCOMP/PCOMP memory-size bytes, the component
// list, and the HCOMP bytecode itself. Validation happens once, before
// any byte of the block is decoded, so that a malformed header fails
// fast with HeaderInvalid rather than corrupting a partially-built VM.
package header

import (
	"encoding/binary"
	"fmt"

	"github.com/zpaqgo/zpaqgo/internal/predictor"
)

// Level is the archive-framing level a block announces (§3.6); both
// are accepted on read, level 2 is always emitted (DESIGN.md's
// resolved Open Question #1).
type Level byte

const (
	Level1 Level = 1
	Level2 Level = 2
)

// InvalidError reports a malformed or constraint-violating header:
// unknown component type, bad cross-reference, oversized sizebits, or
// a missing terminator byte.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return "header: invalid: " + e.Reason }

// maxSizebits is the per-variant ceiling from §3.2's static constraints,
// keyed by the variant name componentShape returns (CONST and AVG have
// no entry).
var maxSizebits = map[string]int{
	"CM":    32,
	"ICM":   26,
	"MATCH": 32,
	"MIX2":  32,
	"MIX":   32,
	"ISSE":  32,
	"SSE":   32,
}

// Header is a fully parsed and statically validated block header.
type Header struct {
	HH, HM, PH, PM byte
	N              int
	Specs          []predictor.Spec
	HComp          []byte // HCOMP bytecode, including trailing HALT and 0 guard
	HBegin         int    // offset of the first executable HCOMP byte within Raw
	Raw            []byte // the full header bytes, hsize prefix excluded
}

// Size returns hsize as carried on the wire: (cend-2)+(hend-hbegin),
// i.e. len(Raw) here since Raw already excludes the 2-byte hsize prefix.
func (h *Header) Size() int { return len(h.Raw) }

// Parse reads one block header from raw (starting right at the 2-byte
// hsize prefix) and returns the parsed, validated Header plus the
// number of bytes consumed (2 + hsize).
func Parse(raw []byte) (*Header, int, error) {
	if len(raw) < 2 {
		return nil, 0, &InvalidError{Reason: "truncated hsize prefix"}
	}
	hsize := int(binary.LittleEndian.Uint16(raw))
	if len(raw) < 2+hsize {
		return nil, 0, &InvalidError{Reason: "truncated header body"}
	}
	body := raw[2 : 2+hsize]
	if len(body) < 6 {
		return nil, 0, &InvalidError{Reason: "header body shorter than fixed prefix"}
	}

	h := &Header{
		HH: body[0], HM: body[1], PH: body[2], PM: body[3],
		Raw: body,
	}
	n := int(body[4])
	h.N = n

	off := 5
	if n > 0 {
		specs, consumed, err := parseComponentList(body[off:], n)
		if err != nil {
			return nil, 0, err
		}
		h.Specs = specs
		off += consumed
	}
	if off >= len(body) || body[off] != 0 {
		return nil, 0, &InvalidError{Reason: "missing component-list terminator byte"}
	}
	off++

	h.HBegin = off
	h.HComp = body[off:]
	if len(h.HComp) < 2 || h.HComp[len(h.HComp)-1] != 0 {
		return nil, 0, &InvalidError{Reason: "missing HCOMP trailing guard byte"}
	}

	if n > 0 {
		if err := validateComponents(h.Specs); err != nil {
			return nil, 0, err
		}
	}

	return h, 2 + hsize, nil
}

// parseComponentList walks n component descriptors out of raw,
// returning the parsed specs and the number of bytes consumed
// (stopping right before the terminator byte).
func parseComponentList(raw []byte, n int) ([]predictor.Spec, int, error) {
	specs, err := predictor.ParseSpecs(n, raw)
	if err != nil {
		return nil, 0, &InvalidError{Reason: err.Error()}
	}
	consumed := 0
	for _, s := range specs {
		consumed += 1 + len(s.Args)
	}
	return specs, consumed, nil
}

// validateComponents enforces §3.2's static constraints: strictly-
// backward cross-references, MIX.m range, SSE.start<=limit*4, and
// per-variant sizebits ceilings.
func validateComponents(specs []predictor.Spec) error {
	for i, s := range specs {
		name, sizebitsArg, err := componentShape(s)
		if err != nil {
			return &InvalidError{Reason: err.Error()}
		}
		if name != "" {
			sizebits := s.Args[sizebitsArg]
			if int(sizebits) > maxSizebits[name] {
				return &InvalidError{Reason: fmt.Sprintf("%s sizebits %d exceeds maximum %d at component %d", name, sizebits, maxSizebits[name], i)}
			}
		}
		if s.Type == predictor.TypeMatch { // MATCH: sizebits bufbits, both ceilinged at 32
			bufbits := s.Args[1]
			if int(bufbits) > maxSizebits["MATCH"] {
				return &InvalidError{Reason: fmt.Sprintf("MATCH bufbits %d exceeds maximum %d at component %d", bufbits, maxSizebits["MATCH"], i)}
			}
		}
		for _, ref := range backReferences(i, s) {
			if ref >= i {
				return &InvalidError{Reason: fmt.Sprintf("component %d references component %d, which is not strictly before it", i, ref)}
			}
		}
		if s.Type == predictor.TypeMix { // MIX: sizebits j m rate mask
			j, m := int(s.Args[1]), int(s.Args[2])
			if m < 1 || m > i-j {
				return &InvalidError{Reason: fmt.Sprintf("MIX component %d has m=%d outside 1..%d", i, m, i-j)}
			}
		}
		if s.Type == predictor.TypeSSE { // SSE: sizebits j start limit
			start, limit := int(s.Args[2]), int(s.Args[3])
			if start > limit*4 {
				return &InvalidError{Reason: fmt.Sprintf("SSE component %d has start=%d > limit*4=%d", i, start, limit*4)}
			}
		}
	}
	return nil
}

// componentShape returns the variant name and the index within Args
// holding its sizebits argument, for the variants the sizebits ceiling
// applies to; "" for CONST/AVG, which have none.
func componentShape(s predictor.Spec) (name string, sizebitsArgIndex int, err error) {
	switch s.Type {
	case predictor.TypeConst:
		return "", 0, nil
	case predictor.TypeCM:
		return "CM", 0, nil
	case predictor.TypeICM:
		return "ICM", 0, nil
	case predictor.TypeMatch:
		return "MATCH", 0, nil
	case predictor.TypeAvg:
		return "", 0, nil
	case predictor.TypeMix2:
		return "MIX2", 0, nil
	case predictor.TypeMix:
		return "MIX", 0, nil
	case predictor.TypeISSE:
		return "ISSE", 0, nil
	case predictor.TypeSSE:
		return "SSE", 0, nil
	default:
		return "", 0, fmt.Errorf("unknown component type %d", s.Type)
	}
}

// backReferences returns the component indices a descriptor refers to
// (AVG's j,k; MIX2's j,k; MIX's j; ISSE's j; SSE's j), so they can be
// checked against "strictly less than the referring component's index".
func backReferences(i int, s predictor.Spec) []int {
	switch s.Type {
	case predictor.TypeAvg: // j k wt
		return []int{int(s.Args[0]), int(s.Args[1])}
	case predictor.TypeMix2: // sizebits j k rate mask
		return []int{int(s.Args[1]), int(s.Args[2])}
	case predictor.TypeMix: // sizebits j m rate mask
		return []int{int(s.Args[1])}
	case predictor.TypeISSE: // sizebits j
		return []int{int(s.Args[1])}
	case predictor.TypeSSE: // sizebits j start limit
		return []int{int(s.Args[1])}
	default:
		return nil
	}
}

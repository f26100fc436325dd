// Package zpaqgo is the public entry point to the archiver: building a
// block header from a component list, compressing/decompressing
// single blocks, and driving the incremental multi-file archive on
// top of them (§6).
package zpaqgo

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zpaqgo/zpaqgo/archive"
	"github.com/zpaqgo/zpaqgo/block"
	"github.com/zpaqgo/zpaqgo/config"
	"github.com/zpaqgo/zpaqgo/internal/header"
	"github.com/zpaqgo/zpaqgo/internal/predictor"
)

// Re-export the component-type constants callers need to build a
// ComponentSpec list, without reaching into internal/predictor
// directly.
const (
	TypeConst = predictor.TypeConst
	TypeCM    = predictor.TypeCM
	TypeICM   = predictor.TypeICM
	TypeMatch = predictor.TypeMatch
	TypeAvg   = predictor.TypeAvg
	TypeMix2  = predictor.TypeMix2
	TypeMix   = predictor.TypeMix
	TypeISSE  = predictor.TypeISSE
	TypeSSE   = predictor.TypeSSE
)

// Segment is a named, optionally-commented byte stream to compress
// into a block.
type Segment = block.Segment

// DecodedSegment is one segment recovered from Decompress.
type DecodedSegment = block.DecodedSegment

// HeaderBuilder assembles a block header from its component list and
// HCOMP bytecode — a thin wrapper over internal/header's wire format
// for callers who want a custom model rather than one of the
// Default* presets below.
type HeaderBuilder struct {
	HH, HM, PH, PM byte
	Components     []predictor.Spec
	HComp          []byte // includes trailing HALT + 0 guard byte
}

// Build serializes the components and HCOMP program into a parsed,
// validated *header.Header ready for Compress.
func (b HeaderBuilder) Build() (*header.Header, error) {
	var body []byte
	body = append(body, b.HH, b.HM, b.PH, b.PM)
	body = append(body, byte(len(b.Components)))
	for _, c := range b.Components {
		body = append(body, byte(c.Type))
		body = append(body, c.Args...)
	}
	body = append(body, 0) // component-list terminator
	body = append(body, b.HComp...)

	raw := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(raw, uint16(len(body)))
	copy(raw[2:], body)

	hdr, _, err := header.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("zpaqgo: build header: %w", err)
	}
	return hdr, nil
}

// DefaultOrder0Header returns the simplest useful model: a single CM
// component over the running byte context, with a HALT-only HCOMP
// program (no context hashing beyond the coder's own 8 bits/byte
// history) — a reasonable default for callers with no domain-specific
// model of their own.
func DefaultOrder0Header() (*header.Header, error) {
	return HeaderBuilder{
		Components: []predictor.Spec{{Type: TypeCM, Args: []byte{16, 255}}},
		HComp:      []byte{56, 0}, // HALT, guard
	}.Build()
}

// Compress writes a single block containing segments to w, using
// hdr's model (see HeaderBuilder/DefaultOrder0Header). level should be
// 1 or 2; callers with no opinion should pass 2.
func Compress(w io.Writer, level byte, hdr *header.Header, segments []Segment) error {
	return block.Compress(w, level, hdr, segments)
}

// Decompress reads every segment out of the single block starting at
// r's current position.
func Decompress(r io.ByteReader, verifyChecksums bool) ([]DecodedSegment, error) {
	return block.Decompress(r, verifyChecksums)
}

// DecodeBlock decodes the block occupying ra's [start,end) byte range
// — the shape used for block-level parallel decode (§5).
func DecodeBlock(ra io.ReaderAt, start, end int64, verifyChecksums bool) ([]DecodedSegment, error) {
	return block.DecodeBlock(ra, start, end, verifyChecksums)
}

// Manifest is an incremental archive's persisted fragment/version
// history (§3.7).
type Manifest = archive.Manifest

// LoadManifest/SaveManifest persist a Manifest using the same
// encoding/gob format as archive.Load/Save.
func LoadManifest(path string) (*Manifest, error) { return archive.Load(path) }
func SaveManifest(path string, m *Manifest) error { return archive.Save(path, m) }

// Config is zpaqgo's archiver-default settings (§6, ambient — never
// consulted by the decoder itself).
type Config = config.Config

// LoadConfig/DefaultConfig expose config.Load/config.DefaultConfig at
// the package root so callers need only import zpaqgo.
func LoadConfig() (*Config, error) { return config.Load() }
func DefaultConfig() *Config       { return config.DefaultConfig() }

// Package block drives one archive block end to end: writing a
// sequence of segments into a freshly framed block (§4.6) and reading
// a located block back out, plus a worker pool for decoding many
// blocks concurrently (§5).
package block

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/zpaqgo/zpaqgo/internal/framer"
	"github.com/zpaqgo/zpaqgo/internal/header"
)

// Segment is one named, optionally-commented byte stream to place in
// a block.
type Segment struct {
	Filename string
	Comment  string
	Data     []byte
	Checksum bool // store the segment's SHA-1 in the trailer
}

// Compress writes a full block — tag, header, every segment, block
// terminator — to w.
func Compress(w io.Writer, level byte, hdr *header.Header, segments []Segment) error {
	if err := framer.WriteTag(w); err != nil {
		return fmt.Errorf("block: write tag: %w", err)
	}
	if err := framer.WriteBlockHeader(w, level, hdr); err != nil {
		return fmt.Errorf("block: write header: %w", err)
	}
	b, err := framer.NewEncoderBlock(level, hdr)
	if err != nil {
		return fmt.Errorf("block: build encoder: %w", err)
	}
	for _, seg := range segments {
		var digest *[20]byte
		if seg.Checksum {
			sum := sha1.Sum(seg.Data)
			digest = &sum
		}
		if err := framer.WriteSegment(w, b, seg.Filename, seg.Comment, seg.Data, digest); err != nil {
			return fmt.Errorf("block: write segment %q: %w", seg.Filename, err)
		}
	}
	return framer.EndBlock(w)
}

// DecodedSegment is one segment recovered from Decompress/DecodeBlock.
type DecodedSegment struct {
	Filename string
	Comment  string
	Data     []byte
}

// byteReader is the byte-at-a-time source Decompress reads from; it
// adapts nothing itself, so a plain io.Reader must first be wrapped
// (for example with bufio.NewReader, as DecodeBlock does).
type byteReader interface {
	io.ByteReader
}

// Decompress reads every segment out of one block starting at r's
// current position, which must be at the block's locator tag (as
// Compress writes it) or directly at its 'z' magic; other leading bytes
// are not skipped. verifyChecksums controls whether a stored SHA-1
// trailer is checked against the recovered bytes.
func Decompress(r byteReader, verifyChecksums bool) ([]DecodedSegment, error) {
	b, err := framer.ReadBlockHeader(r)
	if err != nil {
		return nil, fmt.Errorf("block: read header: %w", err)
	}

	var out []DecodedSegment
	for {
		seg, err := framer.NewSegment(r, b)
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("block: read segment: %w", err)
		}

		var buf bytes.Buffer
		var h hash.Hash
		if verifyChecksums {
			h = sha1.New()
		}
		if err := seg.Decompress(&buf, h); err != nil {
			return out, fmt.Errorf("block: decompress segment %q: %w", seg.Filename, err)
		}
		var digest [20]byte
		if h != nil {
			copy(digest[:], h.Sum(nil))
		}
		if err := framer.VerifyChecksum(r, seg.Filename, digest); err != nil {
			var cerr *framer.ChecksumError
			if verifyChecksums || !errors.As(err, &cerr) {
				return out, err
			}
		}

		out = append(out, DecodedSegment{
			Filename: seg.Filename,
			Comment:  seg.Comment,
			Data:     buf.Bytes(),
		})
	}
	return out, nil
}

// DecodeRequest names one block to decode from an underlying
// ReaderAt — the archive index's [start,end) byte range for that
// block — so WorkerPool can fetch many blocks' sections concurrently
// without the blocks needing to be contiguous or read in order.
type DecodeRequest struct {
	ID    int
	Start int64
	End   int64
}

// DecodeResult pairs a DecodeRequest's ID with its outcome, so callers
// can reassemble output in request order even though workers finish
// out of order.
type DecodeResult struct {
	ID       int
	Segments []DecodedSegment
	Err      error
}

// WorkerPool decodes many blocks concurrently against a shared
// io.ReaderAt (the archive file), the block-level analogue of the
// teacher's pkg/search.WorkerPool: a fixed goroutine count pulling
// work off a channel, except errors are aggregated with
// golang.org/x/sync/errgroup instead of a bare sync.WaitGroup. A
// failing block does not stop the other workers; its error is
// reported, not skipped over.
type WorkerPool struct {
	NumWorkers      int
	VerifyChecksums bool
}

// NewWorkerPool builds a pool sized to the host's CPU count when n<=0.
func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &WorkerPool{NumWorkers: n}
}

// DecodeAll runs every request against ra, returning one DecodeResult
// per request in the same order as reqs (not necessarily completion
// order). An error does not cancel anything: every request is decoded,
// each DecodeResult carries its own Err, and DecodeAll also returns the
// first error reported by a worker.
func (wp *WorkerPool) DecodeAll(ra io.ReaderAt, reqs []DecodeRequest) ([]DecodeResult, error) {
	results := make([]DecodeResult, len(reqs))
	work := make(chan int, len(reqs))
	for i := range reqs {
		work <- i
	}
	close(work)

	g := new(errgroup.Group)
	workers := wp.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			var firstErr error
			for idx := range work {
				req := reqs[idx]
				segs, err := DecodeBlock(ra, req.Start, req.End, wp.VerifyChecksums)
				results[idx] = DecodeResult{ID: req.ID, Segments: segs, Err: err}
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("block: decode request %d: %w", req.ID, err)
				}
			}
			return firstErr
		})
	}
	return results, g.Wait()
}

// DecodeBlock decodes the single block occupying ra's [start,end) byte
// range — the shape an archive's block index hands to WorkerPool or a
// standalone caller wanting one block without scanning the whole file.
func DecodeBlock(ra io.ReaderAt, start, end int64, verifyChecksums bool) ([]DecodedSegment, error) {
	sr := io.NewSectionReader(ra, start, end-start)
	br := bufio.NewReader(sr)
	return Decompress(br, verifyChecksums)
}

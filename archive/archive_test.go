package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFragmentTableDedupsIdenticalData(t *testing.T) {
	ft := NewFragmentTable()
	data := []byte("the quick brown fox")

	if _, found := ft.Lookup(data); found {
		t.Fatal("expected no match before Add")
	}
	idx := ft.Add(data, 0, 0)
	if idx2, found := ft.Lookup(data); !found || idx2 != idx {
		t.Fatalf("Lookup after Add = (%d,%v), want (%d,true)", idx2, found, idx)
	}
	if ft.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ft.Len())
	}
}

func TestFragmentTableDistinguishesDifferentData(t *testing.T) {
	ft := NewFragmentTable()
	a := ft.Add([]byte("aaa"), 0, 0)
	b := ft.Add([]byte("bbb"), 0, 1)
	if a == b {
		t.Fatal("distinct data must not collide")
	}
	if _, found := ft.Lookup([]byte("ccc")); found {
		t.Fatal("unrelated data should not match")
	}
}

func TestFragmentsSortedByBlockThenSegment(t *testing.T) {
	ft := NewFragmentTable()
	ft.Add([]byte("z"), 2, 0)
	ft.Add([]byte("y"), 0, 1)
	ft.Add([]byte("x"), 0, 0)

	frags := ft.Fragments()
	if len(frags) != 3 {
		t.Fatalf("got %d fragments", len(frags))
	}
	if frags[0].BlockID != 0 || frags[0].SegIdx != 0 {
		t.Errorf("frags[0] = %+v", frags[0])
	}
	if frags[1].BlockID != 0 || frags[1].SegIdx != 1 {
		t.Errorf("frags[1] = %+v", frags[1])
	}
	if frags[2].BlockID != 2 {
		t.Errorf("frags[2] = %+v", frags[2])
	}
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.gob")

	m := &Manifest{
		Fragments: []Fragment{{SHA1: [20]byte{1, 2, 3}, Size: 10, BlockID: 0}},
		Versions: []Version{{
			Seq:   1,
			Files: []FileEntry{{Path: "a.txt", FragmentIDs: []int{0}}},
		}},
	}
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Fragments) != 1 || got.Fragments[0].Size != 10 {
		t.Fatalf("unexpected fragments: %+v", got.Fragments)
	}
	if len(got.Versions) != 1 || got.Versions[0].Files[0].Path != "a.txt" {
		t.Fatalf("unexpected versions: %+v", got.Versions)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.gob")); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestFixedSplitterChunksAtExactBoundaries(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 25)
	chunks, err := FixedSplitter{Size: 10}.Split(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 5 {
		t.Fatalf("chunk sizes = %d,%d,%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestContentSplitterReassemblesExactly(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i * 2654435761 >> 3)
	}
	chunks, err := ContentSplitter{AvgSize: 8 << 10, MinSize: 1 << 10, MaxSize: 64 << 10}.Split(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple fragments from 200KiB input, got %d", len(chunks))
	}
	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatal("reassembled data does not match original")
	}
}

func TestContentSplitterStableUnderInsertion(t *testing.T) {
	base := make([]byte, 100*1024)
	for i := range base {
		base[i] = byte(i * 2654435761 >> 5)
	}
	cfg := ContentSplitter{AvgSize: 4 << 10, MinSize: 512, MaxSize: 32 << 10}

	origChunks, err := cfg.Split(bytes.NewReader(base))
	if err != nil {
		t.Fatalf("Split base: %v", err)
	}

	edited := append(append(append([]byte{}, base[:50000]...), []byte("INSERTED-BYTES-HERE")...), base[50000:]...)
	editedChunks, err := cfg.Split(bytes.NewReader(edited))
	if err != nil {
		t.Fatalf("Split edited: %v", err)
	}

	matches := 0
	origSet := make(map[string]bool, len(origChunks))
	for _, c := range origChunks {
		origSet[string(c)] = true
	}
	for _, c := range editedChunks {
		if origSet[string(c)] {
			matches++
		}
	}
	if matches == 0 {
		t.Fatal("expected at least some fragments to survive an unrelated insertion")
	}
}

func TestSaveReportsDirectoryErrors(t *testing.T) {
	if err := Save(filepath.Join(os.DevNull, "x", "manifest.gob"), &Manifest{}); err == nil {
		t.Fatal("expected error writing through a non-directory path")
	}
}

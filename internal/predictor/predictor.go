// Package predictor implements the nine-component context-mixing bit
// predictor: the lookup tables in §4.3.1, the per-bit predict/update loop
// in §4.3.2, and the hash-table probing in §4.3.3. It is driven one bit
// at a time by the arithmetic coder and refreshes its component contexts
// by running the owning block's HCOMP program through internal/vm once
// per decoded byte.
package predictor

import (
	"fmt"

	"github.com/zpaqgo/zpaqgo/internal/statetable"
	"github.com/zpaqgo/zpaqgo/internal/vm"
)

// compType is a component's wire-format type tag (CompType in the
// reference), numbered the same way the header's component list numbers
// them.
type compType uint8

const (
	typeNone compType = iota
	typeCons
	typeCM
	typeICM
	typeMatch
	typeAvg
	typeMix2
	typeMix
	typeISSE
	typeSSE
)

// compSize gives the wire size (type byte + argument bytes) of each
// component type, indexed by compType — the same table the header
// package uses to walk the component list without per-variant parsing
// logic duplicated in two places.
var compSize = [10]int{0, 2, 3, 2, 3, 4, 6, 6, 3, 5}

// Spec is one component's wire-format descriptor: its type tag and raw
// argument bytes (cp[1..]), exactly as stored in the block header.
type Spec struct {
	Type compType
	Args []byte
}

func (s Spec) arg(i int) int {
	if i >= len(s.Args) {
		return 0
	}
	return int(s.Args[i])
}

// ParseSpecs walks a component-list byte slice (the header bytes
// starting right after the component count n) into n Specs.
func ParseSpecs(n int, raw []byte) ([]Spec, error) {
	specs := make([]Spec, n)
	off := 0
	for i := 0; i < n; i++ {
		if off >= len(raw) {
			return nil, fmt.Errorf("predictor: component list truncated at index %d", i)
		}
		t := compType(raw[off])
		if int(t) >= len(compSize) || compSize[t] == 0 {
			return nil, fmt.Errorf("predictor: unknown component type %d at index %d", raw[off], i)
		}
		size := compSize[t]
		if off+size > len(raw) {
			return nil, fmt.Errorf("predictor: component %d truncated", i)
		}
		specs[i] = Spec{Type: t, Args: raw[off+1 : off+size]}
		off += size
	}
	return specs, nil
}

// component is one component's mutable runtime state: the resizable
// arrays the spec calls out (cm, ht, a16) plus the scalar bookkeeping
// each variant reuses differently (limit, cxt, a, b, c).
type component struct {
	cm  []uint32
	ht  []byte
	a16 []uint16

	limit int
	cxt   uint32
	a, b, c int
}

// Predictor is the per-block bit predictor: component states plus the
// shared lookup tables and the HCOMP machine that refreshes H[i] once
// per decoded byte.
type Predictor struct {
	specs []Spec
	comp  []component
	p     []int32 // per-component stretched prediction, clamped to [-2048,2047]

	c8    int
	hmap4 int

	st   *statetable.Table
	mach *vm.Machine

	squasht [4096]int32
	stretcht [32768]int32
	dt      [1024]int32
	dt2k    [256]int32
}

// New builds a Predictor for the given component list, driven by mach
// (the HCOMP machine already constructed over this block's header).
func New(specs []Spec, mach *vm.Machine) (*Predictor, error) {
	pr := &Predictor{
		specs: specs,
		comp:  make([]component, len(specs)),
		p:     make([]int32, len(specs)),
		c8:    1,
		hmap4: 1,
		st:    statetable.New(),
		mach:  mach,
	}
	pr.buildTables()
	if err := pr.initComponents(); err != nil {
		return nil, err
	}
	return pr, nil
}

// buildTables fills squasht/stretcht/dt/dt2k per §4.3.1. It does not
// check the two floating-point compatibility checksums itself;
// TestTableChecksums does.
func (pr *Predictor) buildTables() {
	for i := 0; i < 1024; i++ {
		pr.dt[i] = int32(((1 << 17) / (i*2 + 3)) * 2)
	}
	pr.dt2k[0] = 0
	for i := 1; i < 256; i++ {
		pr.dt2k[i] = int32(2048 / i)
	}
	for i := 0; i < 32768; i++ {
		pr.stretcht[i] = int32(stretchFloat(i))
	}
	for i := 0; i < 4096; i++ {
		pr.squasht[i] = int32(squashFloat(i - 2048))
	}
}

// squash maps a clamped stretched value to a 15-bit probability of 1.
func (pr *Predictor) squash(x int32) int32 {
	if x < -2048 {
		x = -2048
	} else if x > 2047 {
		x = 2047
	}
	return pr.squasht[x+2048]
}

// stretch is squash's approximate inverse, 0..32767 -> signed 12-bit.
func (pr *Predictor) stretch(x int32) int32 {
	return pr.stretcht[x]
}

func clamp2k(x int32) int32 {
	if x < -2048 {
		return -2048
	}
	if x > 2047 {
		return 2047
	}
	return x
}

func clamp512k(x int32) int32 {
	if x < -(1 << 19) {
		return -(1 << 19)
	}
	if x >= 1<<19 {
		return 1<<19 - 1
	}
	return x
}

func (pr *Predictor) initComponents() error {
	for i, s := range pr.specs {
		cr := &pr.comp[i]
		switch s.Type {
		case typeCons:
			pr.p[i] = int32(s.arg(0)-128) * 4
		case typeCM:
			sizebits := s.arg(0)
			cr.limit = s.arg(1) * 4
			cr.cm = make([]uint32, 1<<uint(sizebits))
			for j := range cr.cm {
				cr.cm[j] = 0x80000000
			}
		case typeICM:
			sizebits := s.arg(0)
			cr.limit = 1023
			cr.cm = make([]uint32, 256)
			cr.ht = make([]byte, 64<<uint(sizebits))
			for j := range cr.cm {
				cr.cm[j] = pr.st.CMInit(uint8(j))
			}
		case typeMatch:
			sizebits, bufbits := s.arg(0), s.arg(1)
			cr.cm = make([]uint32, 1<<uint(sizebits))
			cr.ht = make([]byte, 1<<uint(bufbits))
			if len(cr.ht) > 0 {
				cr.ht[0] = 1
			}
		case typeAvg:
			if s.arg(0) >= i || s.arg(1) >= i {
				return fmt.Errorf("predictor: AVG component %d references component %d or %d not strictly before it", i, s.arg(0), s.arg(1))
			}
		case typeMix2:
			j, k := s.arg(1), s.arg(2)
			if j >= i || k >= i {
				return fmt.Errorf("predictor: MIX2 component %d references component %d or %d not strictly before it", i, j, k)
			}
			size := 1 << uint(s.arg(0))
			cr.c = size
			cr.a16 = make([]uint16, size)
			for j := range cr.a16 {
				cr.a16[j] = 32768
			}
		case typeMix:
			j, m := s.arg(1), s.arg(2)
			if j >= i {
				return fmt.Errorf("predictor: MIX component %d references component %d not strictly before it", i, j)
			}
			if m < 1 || m > i-j {
				return fmt.Errorf("predictor: MIX component %d has m=%d out of range 1..%d", i, m, i-j)
			}
			size := 1 << uint(s.arg(0))
			cr.c = size
			cr.cm = make([]uint32, size*m)
			initW := uint32(65536 / m)
			for j := range cr.cm {
				cr.cm[j] = initW
			}
		case typeISSE:
			j := s.arg(1)
			if j >= i {
				return fmt.Errorf("predictor: ISSE component %d references component %d not strictly before it", i, j)
			}
			sizebits := s.arg(0)
			cr.ht = make([]byte, 64<<uint(sizebits))
			cr.cm = make([]uint32, 512)
			for j := 0; j < 256; j++ {
				cr.cm[j*2] = 1 << 15
				cr.cm[j*2+1] = uint32(clamp512k(pr.stretch(int32(pr.st.CMInit(uint8(j))>>8)) << 10))
			}
		case typeSSE:
			j, start, limit := s.arg(1), s.arg(2), s.arg(3)
			if j >= i {
				return fmt.Errorf("predictor: SSE component %d references component %d not strictly before it", i, j)
			}
			if start > limit*4 {
				return fmt.Errorf("predictor: SSE component %d has start=%d > limit*4=%d", i, start, limit*4)
			}
			sizebits := s.arg(0)
			cr.cm = make([]uint32, 32<<uint(sizebits))
			cr.limit = limit * 4
			for j := range cr.cm {
				cr.cm[j] = uint32(pr.squash(int32((j&31)*64-992)))<<17 | uint32(start)
			}
		default:
			return fmt.Errorf("predictor: unimplemented component type %d at index %d", s.Type, i)
		}
	}
	return nil
}

// find implements §4.3.3's 3-way hash probe over a 16-byte-row table.
func find(ht []byte, sizebits int, cxt uint32) int {
	mask := uint32(len(ht) - 16)
	chk := byte((cxt >> uint(sizebits)) & 255)
	h0 := int((cxt * 16) & mask)
	if ht[h0] == chk {
		return h0
	}
	h1 := h0 ^ 16
	if ht[h1] == chk {
		return h1
	}
	h2 := h0 ^ 32
	if ht[h2] == chk {
		return h2
	}
	var victim int
	switch {
	case ht[h0+1] <= ht[h1+1] && ht[h0+1] <= ht[h2+1]:
		victim = h0
	case ht[h1+1] < ht[h2+1]:
		victim = h1
	default:
		victim = h2
	}
	for k := 0; k < 16; k++ {
		ht[victim+k] = 0
	}
	ht[victim] = chk
	return victim
}

// Predict runs one pass of §4.3.2 step 2-3 over all components and
// returns the final squashed 15-bit probability of 1, without mutating
// any coder state (the caller feeds p*2+1 to the arithmetic coder).
func (pr *Predictor) Predict() int32 {
	for i, s := range pr.specs {
		cr := &pr.comp[i]
		h := pr.mach.H(i)
		switch s.Type {
		case typeCons:
			// p[i] set once at construction time; never touched again.
		case typeCM:
			cr.cxt = (h ^ uint32(pr.hmap4)) & uint32(len(cr.cm)-1)
			pr.p[i] = pr.stretch(int32(cr.cm[cr.cxt] >> 17))
		case typeICM:
			if pr.c8 == 1 || (pr.c8&0xf0) == 16 {
				cr.c = find(cr.ht, s.arg(0)+2, h+16*uint32(pr.c8))
			}
			cr.cxt = uint32(cr.ht[cr.c+(pr.hmap4&15)])
			pr.p[i] = pr.stretch(int32(cr.cm[cr.cxt] >> 8))
		case typeMatch:
			if cr.a == 0 {
				pr.p[i] = 0
			} else {
				bitpos := cr.limit & 7
				byteIdx := (cr.limit >> 3) - cr.b
				bit := int(cr.ht[byteIdx&(len(cr.ht)-1)]>>(7-bitpos)) & 1
				cr.c = bit
				sign := int32(1)
				if bit != 0 {
					sign = -1
				}
				pr.p[i] = pr.stretch((pr.dt2k[cr.a] * sign) & 32767)
			}
		case typeAvg:
			j, k, wt := s.arg(0), s.arg(1), int32(s.arg(2))
			pr.p[i] = (pr.p[j]*wt + pr.p[k]*(256-wt)) >> 8
		case typeMix2:
			mask := int32(s.arg(4))
			cr.cxt = (h + uint32(int32(pr.c8)&mask)) & uint32(cr.c-1)
			w := int32(cr.a16[cr.cxt])
			j, k := s.arg(1), s.arg(2)
			pr.p[i] = clamp2k((w*pr.p[j] + (65536-w)*pr.p[k]) >> 16)
		case typeMix:
			m := s.arg(2)
			mask := int32(s.arg(4))
			base := (h + uint32(int32(pr.c8)&mask))
			base = (base & uint32(cr.c-1)) * uint32(m)
			cr.cxt = base
			j := s.arg(1)
			var sum int32
			for k := 0; k < m; k++ {
				w := int32(cr.cm[int(base)+k])
				sum += (w >> 8) * pr.p[j+k]
			}
			pr.p[i] = clamp2k(sum >> 8)
		case typeISSE:
			if pr.c8 == 1 || (pr.c8&0xf0) == 16 {
				cr.c = find(cr.ht, s.arg(0)+2, h+16*uint32(pr.c8))
			}
			cr.cxt = uint32(cr.ht[cr.c+(pr.hmap4&15)])
			w0 := int32(cr.cm[cr.cxt*2])
			w1 := int32(cr.cm[cr.cxt*2+1])
			j := s.arg(1)
			pr.p[i] = clamp2k((w0*pr.p[j] + w1*64) >> 16)
		case typeSSE:
			j := s.arg(1)
			mask := uint32(len(cr.cm) - 1)
			base := ((h + uint32(pr.c8)) * 32) & mask
			pq := pr.p[j] + 992
			if pq < 0 {
				pq = 0
			}
			if pq > 1983 {
				pq = 1983
			}
			wt := pq & 63
			pq >>= 6
			idx := (base + uint32(pq)) & mask
			cr.cxt = idx
			lo := cr.cm[idx] >> 10
			hi := cr.cm[(idx+1)&mask] >> 10
			pr.p[i] = pr.stretch(int32((lo*uint32(64-wt) + hi*uint32(wt)) >> 13))
			cr.cxt = (idx + uint32(wt>>5)) & mask
		}
		pr.p[i] = clamp2k(pr.p[i])
	}
	return pr.squash(pr.p[len(pr.specs)-1])
}

// trainCM applies the CM/SSE Bayesian-shift update against a dt-scaled
// error term, shared verbatim by both variants (§4.3.2 step 4).
func (pr *Predictor) trainCM(cr *component, y int) {
	pn := cr.cm[cr.cxt]
	count := int(pn & 0x3ff)
	errv := int32(y)*32767 - int32(pn>>17)
	pn = uint32(int32(pn) + ((errv*pr.dt[count])&^1023))
	if count < cr.limit {
		pn++
	}
	cr.cm[cr.cxt] = pn
}

// Update applies §4.3.2 step 4-5: every component's per-variant update
// rule on the just-decoded bit y, then the c8/hmap4 bookkeeping,
// running HCOMP on byte completion to refresh H for the next byte.
func (pr *Predictor) Update(y int) error {
	for i, s := range pr.specs {
		cr := &pr.comp[i]
		switch s.Type {
		case typeCons:
		case typeCM:
			pr.trainCM(cr, y)
		case typeICM:
			idx := cr.c + (pr.hmap4 & 15)
			cr.ht[idx] = pr.st.Next(cr.ht[idx], y)
			pn := cr.cm[cr.cxt]
			delta := (int32(y)*32767 - int32(pn>>8)) >> 2
			cr.cm[cr.cxt] = uint32(int32(pn) + delta)
		case typeMatch:
			if cr.c != y {
				cr.a = 0
			}
			byteIdx := (cr.limit >> 3) & (len(cr.ht) - 1)
			cr.ht[byteIdx] = cr.ht[byteIdx]<<1 | byte(y)
			cr.limit++
			if cr.limit&7 == 0 {
				pos := cr.limit >> 3
				h := pr.mach.H(i)
				idx := h & uint32(len(cr.cm)-1)
				if cr.a == 0 {
					cr.b = pos - int(cr.cm[idx])
					if cr.b&(len(cr.ht)-1) != 0 {
						for cr.a < 255 && cr.ht[(pos-cr.a-1)&(len(cr.ht)-1)] == cr.ht[(pos-cr.a-cr.b-1)&(len(cr.ht)-1)] {
							cr.a++
						}
					}
				} else if cr.a < 255 {
					cr.a++
				}
				cr.cm[idx] = uint32(pos)
			}
		case typeAvg:
		case typeMix2:
			j, k, rate := s.arg(1), s.arg(2), int32(s.arg(3))
			errv := (int32(y)*32767 - pr.squash(pr.p[i])) * rate >> 5
			w := int32(cr.a16[cr.cxt])
			w += (errv*(pr.p[j]-pr.p[k]) + (1 << 12)) >> 13
			if w < 0 {
				w = 0
			}
			if w > 65535 {
				w = 65535
			}
			cr.a16[cr.cxt] = uint16(w)
		case typeMix:
			j, m, rate := s.arg(1), s.arg(2), int32(s.arg(3))
			errv := (int32(y)*32767 - pr.squash(pr.p[i])) * rate >> 4
			base := int(cr.cxt)
			for k := 0; k < m; k++ {
				w := int32(cr.cm[base+k])
				w = int32(clamp512k(w + ((errv*pr.p[j+k] + (1 << 12)) >> 13)))
				cr.cm[base+k] = uint32(w)
			}
		case typeISSE:
			j := s.arg(1)
			errv := int32(y)*32767 - pr.squash(pr.p[i])
			w0 := int32(cr.cm[cr.cxt*2])
			w1 := int32(cr.cm[cr.cxt*2+1])
			w0 = int32(clamp512k(w0 + ((errv*pr.p[j] + (1 << 12)) >> 13)))
			w1 = int32(clamp512k(w1 + ((errv + 16) >> 5)))
			cr.cm[cr.cxt*2] = uint32(w0)
			cr.cm[cr.cxt*2+1] = uint32(w1)
			idx := cr.c + (pr.hmap4 & 15)
			cr.ht[idx] = pr.st.Next(byte(cr.cxt), y)
		case typeSSE:
			pr.trainCM(cr, y)
		}
	}

	pr.c8 += pr.c8 + y
	if pr.c8 >= 256 {
		if err := pr.mach.Run(uint32(pr.c8 - 256)); err != nil {
			return err
		}
		pr.hmap4 = 1
		pr.c8 = 1
	} else if pr.c8 >= 16 && pr.c8 < 32 {
		pr.hmap4 = (pr.hmap4&0xf)<<5 | y<<4 | 1
	} else {
		pr.hmap4 = (pr.hmap4 & 0x1f0) | (((pr.hmap4&0xf)*2 + y) & 0xf)
	}
	return nil
}

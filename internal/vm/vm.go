// Package vm implements the small register/memory machine that executes a
// block's HCOMP program (context-hash computation) and, optionally, its
// PCOMP program (post-processing). Both programs share the same
// instruction set; only the program bytes, the memory/hash array sizes
// and the calling convention differ, so both use the one Machine type,
// built by New with the matching arguments.
package vm

import "fmt"

// InvalidInstructionError reports an undefined opcode or an out-of-range
// long jump target encountered while executing a program.
type InvalidInstructionError struct {
	PC     int
	Opcode byte
	Reason string
}

func (e *InvalidInstructionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("vm: %s at pc=%d (opcode %d)", e.Reason, e.PC, e.Opcode)
	}
	return fmt.Sprintf("vm: undefined opcode %d at pc=%d", e.Opcode, e.PC)
}

// undefinedOpcodes lists the opcodes with no defined behavior; executing
// one fails with InvalidInstructionError.
var undefinedOpcodes = buildUndefinedSet()

func buildUndefinedSet() [256]bool {
	var u [256]bool
	for _, op := range []int{5, 6, 13, 14, 21, 22, 29, 30, 37, 38, 45, 46, 53, 54, 58, 61, 62} {
		u[op] = true
	}
	for op := 120; op <= 127; op++ {
		u[op] = true
	}
	for op := 240; op <= 254; op++ {
		u[op] = true
	}
	return u
}

// Machine is a HCOMP/PCOMP interpreter: four 32-bit registers, a condition
// flag, a byte memory M, a u32 hash array H, a 256-entry register file R,
// and the program counter into the owning program's byte slice.
type Machine struct {
	a, b, c, d uint32
	f          bool
	pc         int

	m []byte   // memory, size a power of two
	h []uint32 // hash array, size a power of two
	r [256]uint32

	prog  []byte // the full header bytes; pc indexes into this
	begin int    // program start (first executable byte)

	out  func(byte)      // OUT sink for PCOMP plaintext / HCOMP tee
	sha1 func(byte) bool // optional second OUT sink (checksum accumulator)
}

// New constructs a machine over prog (for HCOMP, the full serialized
// block header, so that JT/JF/JMP/LJ offsets index the same byte slice
// as the reference), with hash-array and memory sizes 2^hBits and
// 2^mBits taken from the arguments, executing starting at begin.
func New(prog []byte, begin, hBits, mBits int) *Machine {
	return &Machine{
		m:     make([]byte, 1<<uint(mBits)),
		h:     make([]uint32, 1<<uint(hBits)),
		prog:  prog,
		begin: begin,
	}
}

// SetOutput installs the OUT opcode's primary sink (plaintext writer).
func (m *Machine) SetOutput(f func(byte)) { m.out = f }

// SetChecksum installs the OUT opcode's secondary sink (checksum feed).
// The bool that f returns is ignored: OUT always feeds both sinks.
func (m *Machine) SetChecksum(f func(byte) bool) { m.sha1 = f }

// H returns the current content of hash-array slot i (mod the array
// size), the per-component context hash HCOMP leaves behind after a run.
func (m *Machine) H(i int) uint32 { return m.h[i&(len(m.h)-1)] }

// memAt returns a pointer-free accessor to M[i mod size].
func (m *Machine) memAt(i uint32) byte { return m.m[i&uint32(len(m.m)-1)] }

func (m *Machine) setMemAt(i uint32, v byte) { m.m[i&uint32(len(m.m)-1)] = v }

func (m *Machine) hashAt(i uint32) uint32 { return m.h[i&uint32(len(m.h)-1)] }

func (m *Machine) setHashAt(i uint32, v uint32) { m.h[i&uint32(len(m.h)-1)] = v }

// Run executes the program starting at m.begin with register A preloaded
// with input, until a HALT opcode (or an error). It is called once per
// decoded byte for HCOMP, and once per output byte (plus once at EOF,
// via RunEOF) for PCOMP.
func (m *Machine) Run(input uint32) error {
	m.a = input
	m.pc = m.begin
	for {
		halt, err := m.step()
		if err != nil {
			return err
		}
		if halt {
			return nil
		}
	}
}

// RunEOF runs the program with the PCOMP EOF sentinel: a register value
// outside 0..255, so that `a > 255` comparisons in the bytecode detect
// end of stream, matching the reference's -1-as-U32 convention.
func (m *Machine) RunEOF() error {
	return m.Run(0xFFFFFFFF)
}

func (m *Machine) fetch() byte {
	b := m.prog[m.pc]
	m.pc++
	return b
}

func (m *Machine) fetchSigned() int {
	b := m.fetch()
	return int((int(b)+128)&255) - 128
}

// step executes exactly one instruction. It returns (true, nil) on HALT.
func (m *Machine) step() (bool, error) {
	pcAtFetch := m.pc
	op := m.fetch()
	if undefinedOpcodes[op] {
		return false, &InvalidInstructionError{PC: pcAtFetch, Opcode: op}
	}

	switch op {
	case 0:
		return false, &InvalidInstructionError{PC: pcAtFetch, Opcode: op, Reason: "ERROR opcode executed"}

	// A
	case 1:
		m.a++
	case 2:
		m.a--
	case 3:
		m.a = ^m.a
	case 4:
		m.a = 0
	case 7:
		m.a = m.r[m.fetch()]

	// B
	case 8:
		m.a, m.b = m.b, m.a
	case 9:
		m.b++
	case 10:
		m.b--
	case 11:
		m.b = ^m.b
	case 12:
		m.b = 0
	case 15:
		m.b = m.r[m.fetch()]

	// C
	case 16:
		m.a, m.c = m.c, m.a
	case 17:
		m.c++
	case 18:
		m.c--
	case 19:
		m.c = ^m.c
	case 20:
		m.c = 0
	case 23:
		m.c = m.r[m.fetch()]

	// D
	case 24:
		m.a, m.d = m.d, m.a
	case 25:
		m.d++
	case 26:
		m.d--
	case 27:
		m.d = ^m.d
	case 28:
		m.d = 0
	case 31:
		m.d = m.r[m.fetch()]

	// *B
	case 32:
		v := m.memAt(m.b)
		m.setMemAt(m.b, byte(m.a))
		m.a = uint32(v)
	case 33:
		m.setMemAt(m.b, m.memAt(m.b)+1)
	case 34:
		m.setMemAt(m.b, m.memAt(m.b)-1)
	case 35:
		m.setMemAt(m.b, ^m.memAt(m.b))
	case 36:
		m.setMemAt(m.b, 0)
	case 39: // JT N
		n := m.fetchSigned()
		if m.f {
			m.pc += n
		}

	// *C
	case 40:
		v := m.memAt(m.c)
		m.setMemAt(m.c, byte(m.a))
		m.a = uint32(v)
	case 41:
		m.setMemAt(m.c, m.memAt(m.c)+1)
	case 42:
		m.setMemAt(m.c, m.memAt(m.c)-1)
	case 43:
		m.setMemAt(m.c, ^m.memAt(m.c))
	case 44:
		m.setMemAt(m.c, 0)
	case 47: // JF N
		n := m.fetchSigned()
		if !m.f {
			m.pc += n
		}

	// *D (hash array)
	case 48:
		v := m.hashAt(m.d)
		m.setHashAt(m.d, m.a)
		m.a = v
	case 49:
		m.setHashAt(m.d, m.hashAt(m.d)+1)
	case 50:
		m.setHashAt(m.d, m.hashAt(m.d)-1)
	case 51:
		m.setHashAt(m.d, ^m.hashAt(m.d))
	case 52:
		m.setHashAt(m.d, 0)
	case 55:
		m.r[m.fetch()] = m.a
	case 56: // HALT
		return true, nil
	case 57: // OUT
		if m.out != nil {
			m.out(byte(m.a))
		}
		if m.sha1 != nil {
			m.sha1(byte(m.a))
		}
	case 59: // HASH
		m.a = (m.a + uint32(m.memAt(m.b)) + 512) * 773
	case 60: // HASHD
		m.setHashAt(m.d, (m.hashAt(m.d)+m.a+512)*773)
	case 63: // JMP N
		n := m.fetchSigned()
		m.pc += n

	// Moves (64..119): dest = src, 7 dests x 8 sources (the self-moves
	// a=a, b=b, c=c, d=d, *b=*b, *c=*c, *d=*d are no-ops).
	case 64:
		m.a = m.a
	case 65:
		m.a = m.b
	case 66:
		m.a = m.c
	case 67:
		m.a = m.d
	case 68:
		m.a = uint32(m.memAt(m.b))
	case 69:
		m.a = uint32(m.memAt(m.c))
	case 70:
		m.a = m.hashAt(m.d)
	case 71:
		m.a = uint32(m.fetch())
	case 72:
		m.b = m.a
	case 73:
		m.b = m.b
	case 74:
		m.b = m.c
	case 75:
		m.b = m.d
	case 76:
		m.b = uint32(m.memAt(m.b))
	case 77:
		m.b = uint32(m.memAt(m.c))
	case 78:
		m.b = m.hashAt(m.d)
	case 79:
		m.b = uint32(m.fetch())
	case 80:
		m.c = m.a
	case 81:
		m.c = m.b
	case 82:
		m.c = m.c
	case 83:
		m.c = m.d
	case 84:
		m.c = uint32(m.memAt(m.b))
	case 85:
		m.c = uint32(m.memAt(m.c))
	case 86:
		m.c = m.hashAt(m.d)
	case 87:
		m.c = uint32(m.fetch())
	case 88:
		m.d = m.a
	case 89:
		m.d = m.b
	case 90:
		m.d = m.c
	case 91:
		m.d = m.d
	case 92:
		m.d = uint32(m.memAt(m.b))
	case 93:
		m.d = uint32(m.memAt(m.c))
	case 94:
		m.d = m.hashAt(m.d)
	case 95:
		m.d = uint32(m.fetch())
	case 96:
		m.setMemAt(m.b, byte(m.a))
	case 97:
		m.setMemAt(m.b, byte(m.b))
	case 98:
		m.setMemAt(m.b, byte(m.c))
	case 99:
		m.setMemAt(m.b, byte(m.d))
	case 100:
		m.setMemAt(m.b, m.memAt(m.b))
	case 101:
		m.setMemAt(m.b, m.memAt(m.c))
	case 102:
		m.setMemAt(m.b, byte(m.hashAt(m.d)))
	case 103:
		m.setMemAt(m.b, m.fetch())
	case 104:
		m.setMemAt(m.c, byte(m.a))
	case 105:
		m.setMemAt(m.c, byte(m.b))
	case 106:
		m.setMemAt(m.c, byte(m.c))
	case 107:
		m.setMemAt(m.c, byte(m.d))
	case 108:
		m.setMemAt(m.c, m.memAt(m.b))
	case 109:
		m.setMemAt(m.c, m.memAt(m.c))
	case 110:
		m.setMemAt(m.c, byte(m.hashAt(m.d)))
	case 111:
		m.setMemAt(m.c, m.fetch())
	case 112:
		m.setHashAt(m.d, m.a)
	case 113:
		m.setHashAt(m.d, m.b)
	case 114:
		m.setHashAt(m.d, m.c)
	case 115:
		m.setHashAt(m.d, m.d)
	case 116:
		m.setHashAt(m.d, uint32(m.memAt(m.b)))
	case 117:
		m.setHashAt(m.d, uint32(m.memAt(m.c)))
	case 118:
		m.setHashAt(m.d, m.hashAt(m.d))
	case 119:
		m.setHashAt(m.d, uint32(m.fetch()))

	// Arithmetic (128..167)
	case 128:
		m.a += m.a
	case 129:
		m.a += m.b
	case 130:
		m.a += m.c
	case 131:
		m.a += m.d
	case 132:
		m.a += uint32(m.memAt(m.b))
	case 133:
		m.a += uint32(m.memAt(m.c))
	case 134:
		m.a += m.hashAt(m.d)
	case 135:
		m.a += uint32(m.fetch())
	case 136:
		m.a -= m.a
	case 137:
		m.a -= m.b
	case 138:
		m.a -= m.c
	case 139:
		m.a -= m.d
	case 140:
		m.a -= uint32(m.memAt(m.b))
	case 141:
		m.a -= uint32(m.memAt(m.c))
	case 142:
		m.a -= m.hashAt(m.d)
	case 143:
		m.a -= uint32(m.fetch())
	case 144:
		m.a *= m.a
	case 145:
		m.a *= m.b
	case 146:
		m.a *= m.c
	case 147:
		m.a *= m.d
	case 148:
		m.a *= uint32(m.memAt(m.b))
	case 149:
		m.a *= uint32(m.memAt(m.c))
	case 150:
		m.a *= m.hashAt(m.d)
	case 151:
		m.a *= uint32(m.fetch())
	case 152:
		m.a = divU32(m.a, m.a)
	case 153:
		m.a = divU32(m.a, m.b)
	case 154:
		m.a = divU32(m.a, m.c)
	case 155:
		m.a = divU32(m.a, m.d)
	case 156:
		m.a = divU32(m.a, uint32(m.memAt(m.b)))
	case 157:
		m.a = divU32(m.a, uint32(m.memAt(m.c)))
	case 158:
		m.a = divU32(m.a, m.hashAt(m.d))
	case 159:
		m.a = divU32(m.a, uint32(m.fetch()))
	case 160:
		m.a = modU32(m.a, m.a)
	case 161:
		m.a = modU32(m.a, m.b)
	case 162:
		m.a = modU32(m.a, m.c)
	case 163:
		m.a = modU32(m.a, m.d)
	case 164:
		m.a = modU32(m.a, uint32(m.memAt(m.b)))
	case 165:
		m.a = modU32(m.a, uint32(m.memAt(m.c)))
	case 166:
		m.a = modU32(m.a, m.hashAt(m.d))
	case 167:
		m.a = modU32(m.a, uint32(m.fetch()))

	// Bitwise (168..199)
	case 168:
		m.a &= m.a
	case 169:
		m.a &= m.b
	case 170:
		m.a &= m.c
	case 171:
		m.a &= m.d
	case 172:
		m.a &= uint32(m.memAt(m.b))
	case 173:
		m.a &= uint32(m.memAt(m.c))
	case 174:
		m.a &= m.hashAt(m.d)
	case 175:
		m.a &= uint32(m.fetch())
	case 176:
		m.a &^= m.a
	case 177:
		m.a &^= m.b
	case 178:
		m.a &^= m.c
	case 179:
		m.a &^= m.d
	case 180:
		m.a &^= uint32(m.memAt(m.b))
	case 181:
		m.a &^= uint32(m.memAt(m.c))
	case 182:
		m.a &^= m.hashAt(m.d)
	case 183:
		m.a &^= uint32(m.fetch())
	case 184:
		m.a |= m.a
	case 185:
		m.a |= m.b
	case 186:
		m.a |= m.c
	case 187:
		m.a |= m.d
	case 188:
		m.a |= uint32(m.memAt(m.b))
	case 189:
		m.a |= uint32(m.memAt(m.c))
	case 190:
		m.a |= m.hashAt(m.d)
	case 191:
		m.a |= uint32(m.fetch())
	case 192:
		m.a ^= m.a
	case 193:
		m.a ^= m.b
	case 194:
		m.a ^= m.c
	case 195:
		m.a ^= m.d
	case 196:
		m.a ^= uint32(m.memAt(m.b))
	case 197:
		m.a ^= uint32(m.memAt(m.c))
	case 198:
		m.a ^= m.hashAt(m.d)
	case 199:
		m.a ^= uint32(m.fetch())

	// Shifts (200..215), amount masked to 5 bits
	case 200:
		m.a <<= m.a & 31
	case 201:
		m.a <<= m.b & 31
	case 202:
		m.a <<= m.c & 31
	case 203:
		m.a <<= m.d & 31
	case 204:
		m.a <<= uint32(m.memAt(m.b)) & 31
	case 205:
		m.a <<= uint32(m.memAt(m.c)) & 31
	case 206:
		m.a <<= m.hashAt(m.d) & 31
	case 207:
		m.a <<= uint32(m.fetch()) & 31
	case 208:
		m.a >>= m.a & 31
	case 209:
		m.a >>= m.b & 31
	case 210:
		m.a >>= m.c & 31
	case 211:
		m.a >>= m.d & 31
	case 212:
		m.a >>= uint32(m.memAt(m.b)) & 31
	case 213:
		m.a >>= uint32(m.memAt(m.c)) & 31
	case 214:
		m.a >>= m.hashAt(m.d) & 31
	case 215:
		m.a >>= uint32(m.fetch()) & 31

	// Comparisons (216..239)
	case 216:
		m.f = m.a == m.a
	case 217:
		m.f = m.a == m.b
	case 218:
		m.f = m.a == m.c
	case 219:
		m.f = m.a == m.d
	case 220:
		m.f = m.a == uint32(m.memAt(m.b))
	case 221:
		m.f = m.a == uint32(m.memAt(m.c))
	case 222:
		m.f = m.a == m.hashAt(m.d)
	case 223:
		m.f = m.a == uint32(m.fetch())
	case 224:
		m.f = m.a < m.a
	case 225:
		m.f = m.a < m.b
	case 226:
		m.f = m.a < m.c
	case 227:
		m.f = m.a < m.d
	case 228:
		m.f = m.a < uint32(m.memAt(m.b))
	case 229:
		m.f = m.a < uint32(m.memAt(m.c))
	case 230:
		m.f = m.a < m.hashAt(m.d)
	case 231:
		m.f = m.a < uint32(m.fetch())
	case 232:
		m.f = m.a > m.a
	case 233:
		m.f = m.a > m.b
	case 234:
		m.f = m.a > m.c
	case 235:
		m.f = m.a > m.d
	case 236:
		m.f = m.a > uint32(m.memAt(m.b))
	case 237:
		m.f = m.a > uint32(m.memAt(m.c))
	case 238:
		m.f = m.a > m.hashAt(m.d)
	case 239:
		m.f = m.a > uint32(m.fetch())

	case 255: // LJ NN — 2-byte little-endian absolute target
		lo := int(m.fetch())
		hi := int(m.fetch())
		target := m.begin + lo + 256*hi
		if target < m.begin || target >= len(m.prog) {
			return false, &InvalidInstructionError{PC: pcAtFetch, Opcode: op, Reason: "long jump target out of bounds"}
		}
		m.pc = target

	default:
		return false, &InvalidInstructionError{PC: pcAtFetch, Opcode: op}
	}
	return false, nil
}

func divU32(a, x uint32) uint32 {
	if x == 0 {
		return 0
	}
	return a / x
}

func modU32(a, x uint32) uint32 {
	if x == 0 {
		return 0
	}
	return a % x
}

package vm

import "testing"

func progWith(begin int, body ...byte) ([]byte, int) {
	prog := make([]byte, begin)
	prog = append(prog, body...)
	return prog, begin
}

func TestHaltStopsExecution(t *testing.T) {
	prog, begin := progWith(0, 1, 1, 56) // A++ A++ HALT
	m := New(prog, begin, 4, 4)
	if err := m.Run(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.a != 2 {
		t.Fatalf("a = %d, want 2", m.a)
	}
}

func TestUndefinedOpcodeFails(t *testing.T) {
	prog, begin := progWith(0, 5)
	m := New(prog, begin, 4, 4)
	err := m.Run(0)
	if err == nil {
		t.Fatal("expected error for undefined opcode 5")
	}
	var ierr *InvalidInstructionError
	if !asInvalid(err, &ierr) {
		t.Fatalf("expected InvalidInstructionError, got %T: %v", err, err)
	}
	if ierr.Opcode != 5 {
		t.Fatalf("opcode = %d, want 5", ierr.Opcode)
	}
}

func asInvalid(err error, target **InvalidInstructionError) bool {
	if e, ok := err.(*InvalidInstructionError); ok {
		*target = e
		return true
	}
	return false
}

func TestDivByZero(t *testing.T) {
	// a=7 b=0 d = a/b (op 156 uses *b) -- simpler: use immediate divide by 0.
	prog, begin := progWith(0,
		71, 7, // a = 7
		159, 0, // a /= 0 (immediate)
		56, // HALT
	)
	m := New(prog, begin, 4, 4)
	if err := m.Run(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.a != 0 {
		t.Fatalf("a = %d, want 0 (div by zero)", m.a)
	}
}

func TestModByZero(t *testing.T) {
	prog, begin := progWith(0,
		71, 7, // a = 7
		167, 0, // a %= 0 (immediate)
		56,
	)
	m := New(prog, begin, 4, 4)
	if err := m.Run(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.a != 0 {
		t.Fatalf("a = %d, want 0 (mod by zero)", m.a)
	}
}

func TestHashOpcode(t *testing.T) {
	// a=0, *b=0 (memory starts zero) => a = (0+0+512)*773
	prog, begin := progWith(0, 59, 56) // HASH HALT
	m := New(prog, begin, 4, 4)
	if err := m.Run(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint32(512 * 773)
	if m.a != want {
		t.Fatalf("a = %d, want %d", m.a, want)
	}
}

func TestJumpTakenOnFlag(t *testing.T) {
	// a=5, compare a==5 -> f=true, JT +2 skips the A++ A++ and lands on HALT.
	prog, begin := progWith(0,
		71, 5, // a = 5
		223, 5, // f = (a == 5)
		39, 2, // JT +2
		1, 1, // A++ A++ (skipped)
		56, // HALT
	)
	m := New(prog, begin, 4, 4)
	if err := m.Run(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.a != 5 {
		t.Fatalf("a = %d, want 5 (jump should have skipped increments)", m.a)
	}
}

func TestOutSinksReceiveByte(t *testing.T) {
	prog, begin := progWith(0, 71, 65, 57, 56) // a = 65 ('A'); OUT; HALT
	m := New(prog, begin, 4, 4)
	var got byte
	m.SetOutput(func(b byte) { got = b })
	var sum int
	m.SetChecksum(func(b byte) bool { sum += int(b); return true })
	if err := m.Run(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 65 {
		t.Fatalf("out byte = %d, want 65", got)
	}
	if sum != 65 {
		t.Fatalf("checksum sum = %d, want 65", sum)
	}
}

func TestLongJumpOutOfBoundsFails(t *testing.T) {
	prog, begin := progWith(0, 255, 0xFF, 0xFF) // LJ far out of range
	m := New(prog, begin, 4, 4)
	if err := m.Run(0); err == nil {
		t.Fatal("expected error for out-of-bounds long jump")
	}
}

package memory

import (
	"encoding/binary"
	"fmt"
)

// Block layout: an 8-byte mark word, an 8-byte size word, then payload.
const (
	blockHeaderSize = 16
	wordSize        = 8
	spaceAlign      = 16
)

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// BlockSize returns the number of bytes a block with the given payload
// occupies.
func BlockSize(payload int) int {
	return alignUp(blockHeaderSize+payload, wordSize)
}

// ---------------------------------------------------------------------------
// Space: one contiguous bump-allocated region
// ---------------------------------------------------------------------------

// Space is a contiguous arena with a bump cursor. Its addresses start at a
// synthetic base so that spaces never overlap.
type Space struct {
	name string
	base Addr
	mem  []byte
	top  int
}

func newSpace(name string, base Addr, size int) *Space {
	s := &Space{name: name, base: base, mem: make([]byte, size)}
	s.reset(false)
	return s
}

// Name returns the space's role name.
func (s *Space) Name() string { return s.name }

// Base returns the first address of the space.
func (s *Space) Base() Addr { return s.base }

// End returns one past the last address of the space.
func (s *Space) End() Addr { return s.base + Addr(len(s.mem)) }

// Size returns the total size in bytes.
func (s *Space) Size() int { return len(s.mem) }

// Used returns the number of bytes handed out since the last reset.
func (s *Space) Used() int { return s.top }

// Capacity returns the number of bytes still available.
func (s *Space) Capacity() int { return len(s.mem) - s.top }

// Contains reports whether addr lies inside the space.
func (s *Space) Contains(addr Addr) bool {
	return addr >= s.base && addr < s.End()
}

// CanAlloc reports whether n bytes (after rounding) fit.
func (s *Space) CanAlloc(n int) bool {
	return alignUp(n, wordSize) <= s.Capacity()
}

func (s *Space) alloc(n int) Addr {
	n = alignUp(n, wordSize)
	if n > s.Capacity() {
		panic(fmt.Sprintf("memory: %s overflow allocating %d bytes", s.name, n))
	}
	addr := s.base + Addr(s.top)
	s.top += n
	return addr
}

// reset rewinds the cursor. Memory is only cleared when zero is set.
func (s *Space) reset(zero bool) {
	if zero {
		clear(s.mem)
	}
	s.top = alignUp(int(s.base), spaceAlign) - int(s.base)
}

func (s *Space) offset(addr Addr) int {
	if !s.Contains(addr) {
		panic(fmt.Sprintf("memory: address %#x outside %s", uint64(addr), s.name))
	}
	return int(addr - s.base)
}

func (s *Space) word(addr Addr) uint64 {
	return binary.LittleEndian.Uint64(s.mem[s.offset(addr):])
}

func (s *Space) setWord(addr Addr, w uint64) {
	binary.LittleEndian.PutUint64(s.mem[s.offset(addr):], w)
}

// Bytes returns n bytes starting at addr.
func (s *Space) Bytes(addr Addr, n int) []byte {
	off := s.offset(addr)
	return s.mem[off : off+n : off+n]
}

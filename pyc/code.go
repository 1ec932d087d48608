// Package pyc reads and writes the marshalled bytecode container that
// pyrite executes: a fixed 16-byte header followed by one marshalled code
// object in the CPython 3.9 layout.
package pyc

import (
	"fmt"
	"strings"
)

// Magic39 is the header magic written by CPython 3.9.
const Magic39 uint32 = 0x0a0d0d61

// HeaderSize is the size of the fixed file header.
const HeaderSize = 16

// Code flags consumed by the interpreter.
const (
	FlagOptimized   = 0x01
	FlagNewLocals   = 0x02
	FlagVarArgs     = 0x04
	FlagVarKeywords = 0x08
	FlagNested      = 0x10
	FlagGenerator   = 0x20
	FlagNoFree      = 0x40
)

// Value is one decoded marshal value. The concrete types are None,
// Ellipsis, bool, int64, float64, string, Bytes, Tuple, FrozenSet and
// *Code.
type Value any

// None is the marshalled None singleton.
type None struct{}

// Ellipsis is the marshalled Ellipsis singleton.
type Ellipsis struct{}

// Bytes is a marshalled byte string ('s').
type Bytes []byte

// Tuple is a marshalled tuple.
type Tuple []Value

// FrozenSet is a marshalled frozenset constant.
type FrozenSet []Value

// Header is the fixed file header.
type Header struct {
	Magic    uint32
	Bitfield uint32
	Mtime    uint32
	Size     uint32
}

// File is a decoded container.
type File struct {
	Header Header
	Code   *Code
}

// Code is a decoded code object. Field order matches the marshal layout.
type Code struct {
	ArgCount        int32
	PosOnlyArgCount int32
	KwOnlyArgCount  int32
	NLocals         int32
	StackSize       int32
	Flags           int32
	Bytecode        []byte
	Consts          []Value
	Names           []string
	VarNames        []string
	FreeVars        []string
	CellVars        []string
	Filename        string
	Name            string
	FirstLineNo     int32
	LNoTab          []byte
}

// String returns a short description.
func (c *Code) String() string {
	return fmt.Sprintf("<code %s, file %q, line %d>", c.Name, c.Filename, c.FirstLineNo)
}

// Dump renders the code tree for debugging.
func (c *Code) Dump() string {
	var b strings.Builder
	c.dump(&b, "")
	return b.String()
}

func (c *Code) dump(b *strings.Builder, indent string) {
	fmt.Fprintf(b, "%scode %s (%s:%d)\n", indent, c.Name, c.Filename, c.FirstLineNo)
	fmt.Fprintf(b, "%s  args=%d posonly=%d kwonly=%d nlocals=%d stack=%d flags=%#x\n",
		indent, c.ArgCount, c.PosOnlyArgCount, c.KwOnlyArgCount, c.NLocals, c.StackSize, c.Flags)
	fmt.Fprintf(b, "%s  names=%v varnames=%v freevars=%v cellvars=%v\n",
		indent, c.Names, c.VarNames, c.FreeVars, c.CellVars)
	for i, k := range c.Consts {
		if sub, ok := k.(*Code); ok {
			fmt.Fprintf(b, "%s  const %d:\n", indent, i)
			sub.dump(b, indent+"    ")
			continue
		}
		fmt.Fprintf(b, "%s  const %d: %#v\n", indent, i, k)
	}
}

package pyc

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Encoder
// ---------------------------------------------------------------------------

// Encode writes f to w. The encoder never emits back-references.
func Encode(w io.Writer, f *File) error {
	if f == nil || f.Code == nil {
		return errors.New("pyc: nothing to encode")
	}
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}

	hdr := f.Header
	if hdr.Magic == 0 {
		hdr.Magic = Magic39
	}
	e.uint32(hdr.Magic)
	e.uint32(hdr.Bitfield)
	e.uint32(hdr.Mtime)
	e.uint32(hdr.Size)
	e.value(f.Code)

	if e.err != nil {
		return errors.Wrap(e.err, "encode pyc")
	}
	return errors.Wrap(bw.Flush(), "flush pyc")
}

// EncodeCode wraps c in a default header and writes it.
func EncodeCode(w io.Writer, c *Code) error {
	return Encode(w, &File{Code: c})
}

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) byte(b byte) {
	if e.err == nil {
		e.err = e.w.WriteByte(b)
	}
}

func (e *encoder) write(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) uint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.write(buf[:])
}

func (e *encoder) int32(v int32) { e.uint32(uint32(v)) }

func (e *encoder) value(v Value) {
	switch x := v.(type) {
	case nil:
		e.byte(tagNull)
	case None:
		e.byte(tagNone)
	case Ellipsis:
		e.byte(tagEllipsis)
	case bool:
		if x {
			e.byte(tagTrue)
		} else {
			e.byte(tagFalse)
		}
	case int:
		e.int(int64(x))
	case int64:
		e.int(x)
	case float64:
		e.byte(tagBinaryFloat)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		e.write(buf[:])
	case string:
		e.str(x)
	case Bytes:
		e.byte(tagString)
		e.int32(int32(len(x)))
		e.write(x)
	case Tuple:
		e.seq(tagTuple, []Value(x))
	case FrozenSet:
		e.byte(tagFrozenSet)
		e.int32(int32(len(x)))
		for _, item := range x {
			e.value(item)
		}
	case *Code:
		e.code(x)
	default:
		if e.err == nil {
			e.err = errors.Errorf("pyc: cannot encode %T", v)
		}
	}
}

func (e *encoder) int(n int64) {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		e.byte(tagInt)
		e.int32(int32(n))
		return
	}
	e.byte(tagLong)
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	var digits []uint16
	for u != 0 {
		digits = append(digits, uint16(u&0x7fff))
		u >>= 15
	}
	count := int32(len(digits))
	if neg {
		count = -count
	}
	e.int32(count)
	var buf [2]byte
	for _, d := range digits {
		binary.LittleEndian.PutUint16(buf[:], d)
		e.write(buf[:])
	}
}

func (e *encoder) str(s string) {
	if len(s) < 256 && isASCII(s) {
		e.byte(tagShortASCII)
		e.byte(byte(len(s)))
		e.write([]byte(s))
		return
	}
	if isASCII(s) {
		e.byte(tagASCII)
	} else {
		e.byte(tagUnicode)
	}
	e.int32(int32(len(s)))
	e.write([]byte(s))
}

func (e *encoder) seq(tag byte, items []Value) {
	if len(items) < 256 {
		e.byte(tagSmallTuple)
		e.byte(byte(len(items)))
	} else {
		e.byte(tag)
		e.int32(int32(len(items)))
	}
	for _, item := range items {
		e.value(item)
	}
}

func (e *encoder) names(ss []string) {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = s
	}
	e.seq(tagTuple, items)
}

func (e *encoder) code(c *Code) {
	e.byte(tagCode)
	for _, v := range []int32{c.ArgCount, c.PosOnlyArgCount, c.KwOnlyArgCount,
		c.NLocals, c.StackSize, c.Flags} {
		e.int32(v)
	}
	e.value(Bytes(c.Bytecode))
	e.seq(tagTuple, c.Consts)
	e.names(c.Names)
	e.names(c.VarNames)
	e.names(c.FreeVars)
	e.names(c.CellVars)
	e.str(c.Filename)
	e.str(c.Name)
	e.int32(c.FirstLineNo)
	e.value(Bytes(c.LNoTab))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

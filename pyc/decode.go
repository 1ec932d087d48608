package pyc

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Marshal type tags.
const (
	tagNull         = '0'
	tagNone         = 'N'
	tagFalse        = 'F'
	tagTrue         = 'T'
	tagStopIter     = 'S'
	tagEllipsis     = '.'
	tagInt          = 'i'
	tagLong         = 'l'
	tagBinaryFloat  = 'g'
	tagString       = 's'
	tagInterned     = 't'
	tagRef          = 'r'
	tagRefAlt       = 'R'
	tagTuple        = '('
	tagSmallTuple   = ')'
	tagCode         = 'c'
	tagUnicode      = 'u'
	tagSet          = '<'
	tagFrozenSet    = '>'
	tagASCII        = 'a'
	tagASCIIIntern  = 'A'
	tagShortASCII   = 'z'
	tagShortASCIIIn = 'Z'

	flagRef = 0x80
)

var (
	ErrTruncated  = errors.New("truncated marshal data")
	ErrUnknownTag = errors.New("unknown marshal tag")
	ErrBadRef     = errors.New("invalid back-reference")
	ErrBadField   = errors.New("unexpected code field type")
)

// ---------------------------------------------------------------------------
// Decoder
// ---------------------------------------------------------------------------

type decoder struct {
	data []byte
	pos  int
	refs []Value
}

// DecodeFile reads a container from disk.
func DecodeFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	f, err := DecodeBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return f, nil
}

// Decode reads a container from r.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read pyc")
	}
	return DecodeBytes(data)
}

// DecodeBytes decodes a container held in memory.
func DecodeBytes(data []byte) (*File, error) {
	if len(data) < HeaderSize {
		return nil, errors.Wrapf(ErrTruncated, "header needs %d bytes, have %d", HeaderSize, len(data))
	}
	f := &File{Header: Header{
		Magic:    binary.LittleEndian.Uint32(data[0:]),
		Bitfield: binary.LittleEndian.Uint32(data[4:]),
		Mtime:    binary.LittleEndian.Uint32(data[8:]),
		Size:     binary.LittleEndian.Uint32(data[12:]),
	}}

	d := &decoder{data: data, pos: HeaderSize}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	code, ok := v.(*Code)
	if !ok {
		return nil, errors.Wrapf(ErrBadField, "top-level value is %T, not code", v)
	}
	f.Code = code
	return f, nil
}

// DecodeValue decodes a single marshalled value with no file header.
func DecodeValue(data []byte) (Value, error) {
	d := &decoder{data: data}
	return d.value()
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.data) {
		return errors.Wrapf(ErrTruncated, "need %d bytes at offset %d", n, d.pos)
	}
	return nil
}

func (d *decoder) byte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) int32() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(d.data[d.pos:]))
	d.pos += 4
	return v, nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrTruncated, "negative length %d", n)
	}
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.data[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

// reserve claims a ref slot before children are decoded.
func (d *decoder) reserve(flag bool) int {
	if !flag {
		return -1
	}
	d.refs = append(d.refs, nil)
	return len(d.refs) - 1
}

func (d *decoder) fill(idx int, v Value) {
	if idx >= 0 {
		d.refs[idx] = v
	}
}

func (d *decoder) record(flag bool, v Value) Value {
	if flag {
		d.refs = append(d.refs, v)
	}
	return v
}

func (d *decoder) value() (Value, error) {
	at := d.pos
	code, err := d.byte()
	if err != nil {
		return nil, err
	}
	flag := code&flagRef != 0
	tag := code &^ flagRef

	switch tag {
	case tagNone:
		return d.record(flag, None{}), nil
	case tagNull:
		return nil, nil
	case tagFalse:
		return d.record(flag, false), nil
	case tagTrue:
		return d.record(flag, true), nil
	case tagEllipsis, tagStopIter:
		return d.record(flag, Ellipsis{}), nil

	case tagInt:
		n, err := d.int32()
		if err != nil {
			return nil, err
		}
		return d.record(flag, int64(n)), nil

	case tagLong:
		n, err := d.long()
		if err != nil {
			return nil, err
		}
		return d.record(flag, n), nil

	case tagBinaryFloat:
		b, err := d.bytes(8)
		if err != nil {
			return nil, err
		}
		return d.record(flag, math.Float64frombits(binary.LittleEndian.Uint64(b))), nil

	case tagString:
		n, err := d.int32()
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return d.record(flag, Bytes(b)), nil

	case tagInterned, tagUnicode, tagASCII, tagASCIIIntern:
		n, err := d.int32()
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return d.record(flag, string(b)), nil

	case tagShortASCII, tagShortASCIIIn:
		n, err := d.byte()
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return d.record(flag, string(b)), nil

	case tagRef, tagRefAlt:
		n, err := d.int32()
		if err != nil {
			return nil, err
		}
		if n < 0 || int(n) >= len(d.refs) || d.refs[n] == nil {
			return nil, errors.Wrapf(ErrBadRef, "ref %d at offset %d (%d recorded)", n, at, len(d.refs))
		}
		return d.refs[n], nil

	case tagSmallTuple:
		n, err := d.byte()
		if err != nil {
			return nil, err
		}
		return d.tuple(flag, int(n))

	case tagTuple:
		n, err := d.int32()
		if err != nil {
			return nil, err
		}
		return d.tuple(flag, int(n))

	case tagSet, tagFrozenSet:
		n, err := d.int32()
		if err != nil {
			return nil, err
		}
		idx := d.reserve(flag)
		items, err := d.items(int(n))
		if err != nil {
			return nil, err
		}
		fs := FrozenSet(items)
		d.fill(idx, fs)
		return fs, nil

	case tagCode:
		idx := d.reserve(flag)
		c, err := d.code()
		if err != nil {
			return nil, errors.Wrapf(err, "code object at offset %d", at)
		}
		d.fill(idx, c)
		return c, nil
	}

	return nil, errors.Wrapf(ErrUnknownTag, "tag %q (%#02x) at offset %d", rune(tag), code, at)
}

func (d *decoder) items(n int) ([]Value, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrTruncated, "negative count %d", n)
	}
	items := make([]Value, n)
	for i := range items {
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

func (d *decoder) tuple(flag bool, n int) (Value, error) {
	idx := d.reserve(flag)
	items, err := d.items(n)
	if err != nil {
		return nil, err
	}
	t := Tuple(items)
	d.fill(idx, t)
	return t, nil
}

// long decodes a base-2**15 digit sequence.
func (d *decoder) long() (int64, error) {
	n, err := d.int32()
	if err != nil {
		return 0, err
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var v int64
	for i := int32(0); i < n; i++ {
		b, err := d.bytes(2)
		if err != nil {
			return 0, err
		}
		digit := int64(binary.LittleEndian.Uint16(b))
		v |= digit << (15 * uint(i))
	}
	if neg {
		v = -v
	}
	return v, nil
}

func (d *decoder) code() (*Code, error) {
	c := &Code{}
	for _, p := range []*int32{&c.ArgCount, &c.PosOnlyArgCount, &c.KwOnlyArgCount,
		&c.NLocals, &c.StackSize, &c.Flags} {
		v, err := d.int32()
		if err != nil {
			return nil, err
		}
		*p = v
	}

	var err error
	if c.Bytecode, err = d.rawField("code"); err != nil {
		return nil, err
	}
	consts, err := d.value()
	if err != nil {
		return nil, err
	}
	ct, ok := consts.(Tuple)
	if !ok {
		return nil, errors.Wrapf(ErrBadField, "consts is %T", consts)
	}
	c.Consts = ct

	for _, f := range []struct {
		name string
		dst  *[]string
	}{
		{"names", &c.Names},
		{"varnames", &c.VarNames},
		{"freevars", &c.FreeVars},
		{"cellvars", &c.CellVars},
	} {
		if *f.dst, err = d.nameTuple(f.name); err != nil {
			return nil, err
		}
	}

	if c.Filename, err = d.text("filename"); err != nil {
		return nil, err
	}
	if c.Name, err = d.text("name"); err != nil {
		return nil, err
	}
	if c.FirstLineNo, err = d.int32(); err != nil {
		return nil, err
	}
	if c.LNoTab, err = d.rawField("lnotab"); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *decoder) rawField(name string) ([]byte, error) {
	v, err := d.value()
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	switch b := v.(type) {
	case Bytes:
		return []byte(b), nil
	case string:
		return []byte(b), nil
	}
	return nil, errors.Wrapf(ErrBadField, "%s is %T", name, v)
}

func (d *decoder) text(name string) (string, error) {
	v, err := d.value()
	if err != nil {
		return "", errors.Wrap(err, name)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case Bytes:
		return string(s), nil
	}
	return "", errors.Wrapf(ErrBadField, "%s is %T", name, v)
}

func (d *decoder) nameTuple(name string) ([]string, error) {
	v, err := d.value()
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	t, ok := v.(Tuple)
	if !ok {
		return nil, errors.Wrapf(ErrBadField, "%s is %T", name, v)
	}
	out := make([]string, len(t))
	for i, e := range t {
		s, ok := e.(string)
		if !ok {
			return nil, errors.Wrapf(ErrBadField, "%s[%d] is %T", name, i, e)
		}
		out[i] = s
	}
	return out, nil
}

package pyc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCode() *Code {
	inner := &Code{
		ArgCount:    1,
		NLocals:     2,
		StackSize:   2,
		Flags:       FlagOptimized | FlagNewLocals | FlagGenerator,
		Bytecode:    []byte{124, 0, 86, 0, 1, 0, 100, 0, 83, 0},
		Consts:      []Value{None{}},
		Names:       []string{},
		VarNames:    []string{"n", "i"},
		FreeVars:    []string{},
		CellVars:    []string{},
		Filename:    "gen.py",
		Name:        "count",
		FirstLineNo: 3,
		LNoTab:      []byte{0, 1, 4, 1},
	}
	return &Code{
		NLocals:   0,
		StackSize: 4,
		Bytecode:  []byte{100, 0, 100, 1, 132, 0, 90, 0, 100, 2, 83, 0},
		Consts: []Value{
			inner,
			"count",
			None{},
			int64(-7),
			int64(1) << 40,
			3.25,
			true,
			Tuple{int64(1), "two", Bytes("three")},
			Bytes{0xff, 0x00},
			"héllo",
			FrozenSet{int64(1), int64(2)},
		},
		Names:       []string{"count"},
		VarNames:    []string{},
		FreeVars:    []string{},
		CellVars:    []string{},
		Filename:    "gen.py",
		Name:        "<module>",
		FirstLineNo: 1,
		LNoTab:      []byte{4, 1},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := sampleCode()
	require.NoError(t, EncodeCode(&buf, want))

	f, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, Magic39, f.Header.Magic)
	assert.Equal(t, want, f.Code)
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.pyc")
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &File{Header: Header{Magic: Magic39, Mtime: 42}, Code: sampleCode()}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), f.Header.Mtime)
	assert.Equal(t, "<module>", f.Code.Name)

	_, err = DecodeFile(filepath.Join(t.TempDir(), "missing.pyc"))
	assert.Error(t, err)
}

// TestDecodeBackReferences hand-assembles a value that records strings and
// a tuple in the ref table and refers back to them.
func TestDecodeBackReferences(t *testing.T) {
	var b bytes.Buffer
	ref := func(n int32) {
		b.WriteByte('r')
		binary.Write(&b, binary.LittleEndian, n)
	}
	// slot 0 is the tuple itself, slot 1 the string, slot 2 the int
	b.WriteByte(')' | flagRef)
	b.WriteByte(4)
	b.WriteByte('z' | flagRef)
	b.WriteByte(1)
	b.WriteString("x")
	ref(1)
	b.WriteByte('i' | flagRef)
	binary.Write(&b, binary.LittleEndian, int32(99))
	ref(2)

	v, err := DecodeValue(b.Bytes())
	require.NoError(t, err)
	assert.Equal(t, Tuple{"x", "x", int64(99), int64(99)}, v)
}

func TestDecodeRefToUnfinishedTupleFails(t *testing.T) {
	raw := []byte{')' | flagRef, 1, 'r', 0, 0, 0, 0}
	_, err := DecodeValue(raw)
	require.Error(t, err)
	assert.Equal(t, ErrBadRef, errors.Cause(err))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		cause error
	}{
		{"short header", []byte{1, 2, 3}, ErrTruncated},
		{"unknown tag", append(make([]byte, HeaderSize), '?'), ErrUnknownTag},
		{"truncated int", append(make([]byte, HeaderSize), 'i', 1), ErrTruncated},
		{"not code", append(make([]byte, HeaderSize), 'N'), ErrBadField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBytes(tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.cause, errors.Cause(err))
		})
	}
}

func TestLongDigits(t *testing.T) {
	for _, n := range []int64{1 << 31, -(1 << 33), 1<<62 + 12345} {
		var b bytes.Buffer
		e := &encoder{w: bufio.NewWriter(&b)}
		e.value(n)
		require.NoError(t, e.w.Flush())
		assert.Equal(t, byte('l'), b.Bytes()[0])

		v, err := DecodeValue(b.Bytes())
		require.NoError(t, err)
		assert.Equal(t, n, v)
	}
}

func TestCodeDump(t *testing.T) {
	out := sampleCode().Dump()
	assert.Contains(t, out, "code <module> (gen.py:1)")
	assert.Contains(t, out, "    code count (gen.py:3)")
	assert.Contains(t, out, "varnames=[n i]")
}

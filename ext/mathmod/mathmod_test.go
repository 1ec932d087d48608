package mathmod_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/pyrite/ext/mathmod"
	"github.com/chazu/pyrite/vm"
)

// importMath runs `import math` and returns the module namespace.
func importMath(t *testing.T) (*vm.VM, *vm.Dict) {
	t.Helper()
	cfg := vm.DefaultConfig()
	cfg.LoadBuiltinLib = false
	cfg.Output = &bytes.Buffer{}
	v := vm.New(cfg)

	b := vm.NewCodeBuilder("<module>", "test.py")
	b.LoadConst(int64(0)).LoadConst(nil).Op(vm.OpImportName, b.Name(mathmod.Name))
	b.Op(vm.OpReturnValue)
	r, err := v.Run(b.Build())
	require.NoError(t, err)
	m, ok := r.(*vm.Module)
	require.True(t, ok, "import returned %T", r)
	return v, m.Globals()
}

func call(t *testing.T, v *vm.VM, ns *vm.Dict, name string, args ...vm.Value) vm.Value {
	t.Helper()
	fn := ns.GetStr(name)
	require.NotNil(t, fn, "math.%s missing", name)
	r, err := v.Call(fn, args...)
	require.NoError(t, err)
	return r
}

func callErr(t *testing.T, v *vm.VM, ns *vm.Dict, name string, args ...vm.Value) *vm.ExceptionError {
	t.Helper()
	_, err := v.Call(ns.GetStr(name), args...)
	var exc *vm.ExceptionError
	require.ErrorAs(t, err, &exc)
	return exc
}

func requireFloat(t *testing.T, want float64, r vm.Value) {
	t.Helper()
	_, isFloat := r.(*vm.Float)
	require.True(t, isFloat, "expected float, got %T", r)
	got, _ := vm.AsFloat(r)
	assert.InDelta(t, want, got, 1e-12)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, vm.RegisteredModules(), "math")
}

func TestConstants(t *testing.T) {
	_, ns := importMath(t)
	requireFloat(t, math.Pi, ns.GetStr("pi"))
	requireFloat(t, math.E, ns.GetStr("e"))
}

func TestFunctions(t *testing.T) {
	v, ns := importMath(t)
	requireFloat(t, 3, call(t, v, ns, "sqrt", v.Int(9)))
	requireFloat(t, 1.5, call(t, v, ns, "sqrt", v.Float(2.25)))
	requireFloat(t, 0, call(t, v, ns, "sin", v.Int(0)))
	requireFloat(t, 1, call(t, v, ns, "sin", v.Float(math.Pi/2)))
	requireFloat(t, -1, call(t, v, ns, "cos", v.Float(math.Pi)))
	requireFloat(t, 2.5, call(t, v, ns, "fabs", v.Float(-2.5)))
	requireFloat(t, 3, call(t, v, ns, "fabs", v.Int(-3)))
	requireFloat(t, 1024, call(t, v, ns, "pow", v.Int(2), v.Int(10)))
	requireFloat(t, 0.25, call(t, v, ns, "pow", v.Int(2), v.Int(-2)))
	requireFloat(t, 3, call(t, v, ns, "pow", v.Float(9), v.Float(0.5)))

	r := call(t, v, ns, "floor", v.Float(-2.5))
	n, ok := vm.AsInt(r)
	require.True(t, ok, "floor returned %T", r)
	assert.Equal(t, int64(-3), n)
	n, _ = vm.AsInt(call(t, v, ns, "floor", v.Int(7)))
	assert.Equal(t, int64(7), n)
}

func TestErrors(t *testing.T) {
	v, ns := importMath(t)
	tests := []struct {
		name    string
		fn      string
		args    []vm.Value
		excType string
		desc    string
	}{
		{"sqrt negative", "sqrt", []vm.Value{v.Int(-1)}, "ValueError", "math domain error"},
		{"sin infinity", "sin", []vm.Value{v.Float(math.Inf(1))}, "ValueError", "math domain error"},
		{"sqrt str", "sqrt", []vm.Value{v.Str("4")}, "TypeError", "must be real number, not str"},
		{"sqrt arity", "sqrt", nil, "TypeError", "sqrt() takes exactly 1 arguments (0 given)"},
		{"pow arity", "pow", []vm.Value{v.Int(1)}, "TypeError", "pow expected 2 arguments, got 1"},
		{"pow zero negative", "pow", []vm.Value{v.Int(0), v.Int(-1)}, "ValueError", "math domain error"},
		{"pow negative fraction", "pow", []vm.Value{v.Int(-8), v.Float(1.0 / 3)}, "ValueError", "math domain error"},
		{"pow overflow", "pow", []vm.Value{v.Float(10), v.Int(400)}, "OverflowError", "math range error"},
		{"floor nan", "floor", []vm.Value{v.Float(math.NaN())}, "ValueError", "cannot convert float NaN to integer"},
		{"floor infinity", "floor", []vm.Value{v.Float(math.Inf(-1))}, "OverflowError", "cannot convert float infinity to integer"},
		{"floor huge", "floor", []vm.Value{v.Float(1e300)}, "OverflowError", "int too large to convert"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exc := callErr(t, v, ns, tt.fn, tt.args...)
			assert.Equal(t, tt.excType, exc.Type)
			assert.Equal(t, tt.desc, exc.Description)
		})
	}
}

func TestEntriesHaveDocs(t *testing.T) {
	for _, e := range mathmod.Entries() {
		if e.Const == nil {
			assert.NotEmpty(t, e.Doc, "math.%s has no doc", e.Name)
		}
	}
}

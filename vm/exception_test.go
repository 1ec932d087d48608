package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinKlass(t *testing.T, vm *VM, name string) *Klass {
	t.Helper()
	typ, ok := vm.Builtins().GetStr(name).(*Type)
	require.True(t, ok, "%s is not a builtin type", name)
	return typ.own
}

func TestExceptionHierarchy(t *testing.T) {
	vm, _ := newTestVM(t)
	for _, tc := range []struct {
		child, parent string
	}{
		{"KeyError", "LookupError"},
		{"IndexError", "LookupError"},
		{"LookupError", "Exception"},
		{"ZeroDivisionError", "ArithmeticError"},
		{"OverflowError", "ArithmeticError"},
		{"NotImplementedError", "RuntimeError"},
		{"RecursionError", "RuntimeError"},
		{"StopIteration", "Exception"},
		{"Exception", "object"},
	} {
		child, parent := builtinKlass(t, vm, tc.child), builtinKlass(t, vm, tc.parent)
		assert.True(t, child.IsSubklass(parent), "%s should derive from %s", tc.child, tc.parent)
	}
	assert.False(t, builtinKlass(t, vm, "KeyError").IsSubklass(builtinKlass(t, vm, "ArithmeticError")))
}

func TestExceptionArgs(t *testing.T) {
	vm, _ := newTestVM(t)
	valueError := builtinKlass(t, vm, "ValueError").typ

	for _, tc := range []struct {
		args      []Value
		str, repr string
	}{
		{nil, "", "ValueError"},
		{[]Value{vm.Str("bad")}, "bad", "ValueError: 'bad'"},
		{[]Value{vm.Str("a"), vm.Int(2)}, "('a', 2)", "ValueError: ('a', 2)"},
	} {
		exc, err := vm.Call(valueError, tc.args...)
		require.NoError(t, err)
		assert.Len(t, excArgs(exc), len(tc.args))
		assert.Equal(t, tc.str, vm.str(exc))
		assert.Equal(t, tc.repr, vm.repr(exc))
	}
}

func TestExcMatches(t *testing.T) {
	vm, _ := newTestVM(t)
	keyError := builtinKlass(t, vm, "KeyError").typ
	lookupError := builtinKlass(t, vm, "LookupError").typ
	typeError := builtinKlass(t, vm, "TypeError").typ

	assert.True(t, vm.excMatches(keyError, keyError))
	assert.True(t, vm.excMatches(keyError, lookupError))
	assert.False(t, vm.excMatches(lookupError, keyError))
	assert.False(t, vm.excMatches(keyError, typeError))
	assert.True(t, vm.excMatches(keyError, vm.NewTuple(typeError, lookupError)))
	assert.False(t, vm.excMatches(keyError, vm.NewTuple(typeError)))
}

func TestRaiseFromGo(t *testing.T) {
	vm, _ := newTestVM(t)

	vm.Raise("KeyError", "missing %q", "k")
	exc := vm.takeException()
	assert.Equal(t, "KeyError", exc.Type)
	assert.Equal(t, `missing "k"`, exc.Description)
	assert.Equal(t, statusOK, vm.status)

	vm.Raise("NoSuchError", "fallback")
	exc = vm.takeException()
	assert.Equal(t, "Exception", exc.Type)

	vm.Raise("len", "not an exception type")
	assert.Equal(t, "Exception", vm.takeException().Type)
}

func TestRaiseRequiresException(t *testing.T) {
	vm, _ := newTestVM(t)
	for _, operand := range []any{int64(5), "oops"} {
		_, err := vm.Run(module(func(b *CodeBuilder) {
			b.LoadConst(operand).Op(OpRaiseVarargs, 1)
			b.LoadConst(nil).Op(OpReturnValue)
		}))
		var exc *ExceptionError
		require.ErrorAs(t, err, &exc)
		assert.Equal(t, "TypeError", exc.Type)
		assert.Equal(t, "exceptions must derive from Exception", exc.Description)
	}

	_, err := vm.Run(module(func(b *CodeBuilder) {
		b.Op(OpLoadName, b.Name("int")).Op(OpRaiseVarargs, 1)
		b.LoadConst(nil).Op(OpReturnValue)
	}))
	assert.EqualError(t, err, "TypeError: exceptions must derive from Exception")
}

func TestRaiseTypeInstantiates(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.Run(module(func(b *CodeBuilder) {
		b.Op(OpLoadName, b.Name("ValueError")).Op(OpRaiseVarargs, 1)
		b.LoadConst(nil).Op(OpReturnValue)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "ValueError", exc.Type)
	assert.Equal(t, "", exc.Description)
	assert.Equal(t, "ValueError", exc.Error())
}

func TestExceptionErrorFormat(t *testing.T) {
	exc := &ExceptionError{
		Type:        "ZeroDivisionError",
		Description: "division by zero",
		Traceback: []TracebackEntry{
			{File: "calc.py", Name: "divide", Line: 12},
			{File: "calc.py", Name: "<module>", Line: 3},
		},
	}
	assert.Equal(t, "ZeroDivisionError: division by zero", exc.Error())
	assert.Equal(t, "Traceback (most recent call last):\n"+
		"  File \"calc.py\", line 3, in <module>\n"+
		"  File \"calc.py\", line 12, in divide\n"+
		"ZeroDivisionError: division by zero\n", exc.Format())
}

func TestTracebackLines(t *testing.T) {
	vm, _ := newTestVM(t)
	// def fail():
	//     raise ValueError("deep")   # line 20
	// fail()                         # line 4
	fb := NewCodeBuilder("fail", "test.py")
	fb.Line(20).Op(OpLoadGlobal, fb.Name("ValueError")).LoadConst("deep").Op(OpCallFunction, 1).Op(OpRaiseVarargs, 1)
	fb.LoadConst(nil).Op(OpReturnValue)

	_, err := vm.Run(module(func(b *CodeBuilder) {
		b.Line(1)
		defineFunction(b, "fail", fb.Build())
		b.Line(4)
		callName(b, "fail")
		b.Op(OpReturnValue)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	require.Len(t, exc.Traceback, 2)
	assert.Equal(t, TracebackEntry{File: "test.py", Name: "fail", Line: 20}, exc.Traceback[0])
	assert.Equal(t, TracebackEntry{File: "test.py", Name: "<module>", Line: 4}, exc.Traceback[1])
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", statusOK.String())
	assert.Equal(t, "exception", statusException.String())
	assert.Equal(t, "yield", statusYield.String())
}

func TestFatalError(t *testing.T) {
	msg := fatalMessage(t, func() { fatalf("heap %s", "exhausted") })
	assert.Equal(t, "heap exhausted", msg)
	assert.Equal(t, "fatal: x", (&FatalError{Msg: "x"}).Error())
}

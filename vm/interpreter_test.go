package vm

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/pyrite/pyc"
)

// ---------------------------------------------------------------------------
// Loops and branches
// ---------------------------------------------------------------------------

func TestForLoopRunsBodyOncePerItem(t *testing.T) {
	vm, _ := newTestVM(t)
	r := mustRun(t, vm, func(b *CodeBuilder) {
		loop, end := b.NewLabel(), b.NewLabel()
		b.LoadConst(int64(0)).Op(OpStoreName, b.Name("n"))
		b.LoadConst(int64(0)).Op(OpStoreName, b.Name("sum"))
		b.LoadConst(int64(10)).LoadConst(int64(20)).LoadConst(int64(30)).Op(OpBuildList, 3)
		b.Op(OpGetIter)
		b.Mark(loop).Jump(OpForIter, end)
		b.Op(OpStoreName, b.Name("item"))
		b.Op(OpLoadName, b.Name("n")).LoadConst(int64(1)).Op(OpInplaceAdd).Op(OpStoreName, b.Name("n"))
		b.Op(OpLoadName, b.Name("sum")).Op(OpLoadName, b.Name("item")).Op(OpInplaceAdd).Op(OpStoreName, b.Name("sum"))
		b.Jump(OpJumpAbsolute, loop)
		b.Mark(end)
		b.Op(OpLoadName, b.Name("n")).Op(OpReturnValue)
	})
	requireInt(t, 3, r)
	requireInt(t, 60, global(vm, "sum"))
	requireInt(t, 30, global(vm, "item"))
}

func TestConditionalJumps(t *testing.T) {
	vm, _ := newTestVM(t)
	// total = 0
	// for i in range(10):
	//     if i % 2 == 0: total += i
	r := mustRun(t, vm, func(b *CodeBuilder) {
		loop, end := b.NewLabel(), b.NewLabel()
		b.LoadConst(int64(0)).Op(OpStoreName, b.Name("total"))
		callName(b, "range", int64(10))
		b.Op(OpGetIter)
		b.Mark(loop).Jump(OpForIter, end)
		b.Op(OpStoreName, b.Name("i"))
		b.Op(OpLoadName, b.Name("i")).LoadConst(int64(2)).Op(OpBinaryModulo).LoadConst(int64(0)).Op(OpCompareOp, CmpEQ)
		b.Jump(OpPopJumpIfFalse, loop)
		b.Op(OpLoadName, b.Name("total")).Op(OpLoadName, b.Name("i")).Op(OpInplaceAdd).Op(OpStoreName, b.Name("total"))
		b.Jump(OpJumpAbsolute, loop)
		b.Mark(end)
		b.Op(OpLoadName, b.Name("total")).Op(OpReturnValue)
	})
	requireInt(t, 20, r)
}

func TestShortCircuitJumps(t *testing.T) {
	vm, _ := newTestVM(t)
	// return (0 or "fallback", 5 and 6)
	r := mustRun(t, vm, func(b *CodeBuilder) {
		or, and := b.NewLabel(), b.NewLabel()
		b.LoadConst(int64(0)).Jump(OpJumpIfTrueOrPop, or).LoadConst("fallback").Mark(or)
		b.LoadConst(int64(5)).Jump(OpJumpIfFalseOrPop, and).LoadConst(int64(6)).Mark(and)
		b.Op(OpBuildTuple, 2).Op(OpReturnValue)
	})
	got := items(t, r)
	requireStr(t, "fallback", got[0])
	requireInt(t, 6, got[1])
}

func TestUnpacking(t *testing.T) {
	vm, _ := newTestVM(t)
	mustRun(t, vm, func(b *CodeBuilder) {
		// a, b, c = (1, 2, 3)
		b.LoadConst(pyc.Tuple{int64(1), int64(2), int64(3)}).Op(OpUnpackSequence, 3)
		b.Op(OpStoreName, b.Name("a")).Op(OpStoreName, b.Name("b")).Op(OpStoreName, b.Name("c"))
		// first, *middle, last = [1, 2, 3, 4]
		b.LoadConst(int64(1)).LoadConst(int64(2)).LoadConst(int64(3)).LoadConst(int64(4)).Op(OpBuildList, 4)
		b.Op(OpUnpackEx, 1|1<<8)
		b.Op(OpStoreName, b.Name("first")).Op(OpStoreName, b.Name("middle")).Op(OpStoreName, b.Name("last"))
	})
	requireInt(t, 1, global(vm, "a"))
	requireInt(t, 3, global(vm, "c"))
	requireInt(t, 1, global(vm, "first"))
	requireInt(t, 4, global(vm, "last"))
	middle := items(t, global(vm, "middle"))
	require.Len(t, middle, 2)
	requireInt(t, 2, middle[0])

	_, err := vm.Run(module(func(b *CodeBuilder) {
		b.LoadConst(pyc.Tuple{int64(1), int64(2)}).Op(OpUnpackSequence, 3)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "ValueError", exc.Type)
	assert.Equal(t, "not enough values to unpack (expected 3, got 2)", exc.Description)
}

func TestFormatValueAndBuildString(t *testing.T) {
	vm, _ := newTestVM(t)
	// f"{3.14159:.2f}|{'x'!r}|{7}"
	r := mustRun(t, vm, func(b *CodeBuilder) {
		b.LoadConst(3.14159).LoadConst(".2f").Op(OpFormatValue, 4)
		b.LoadConst("|")
		b.LoadConst("x").Op(OpFormatValue, 2)
		b.LoadConst("|")
		b.LoadConst(int64(7)).Op(OpFormatValue, 0)
		b.Op(OpBuildString, 5).Op(OpReturnValue)
	})
	requireStr(t, "3.14|'x'|7", r)
}

// ---------------------------------------------------------------------------
// Functions and arguments
// ---------------------------------------------------------------------------

func TestArgumentBinding(t *testing.T) {
	vm, _ := newTestVM(t)
	fb := NewCodeBuilder("f", "test.py").Params("a", "b").KwOnly("c")
	fb.Op(OpLoadFast, fb.Local("a")).Op(OpLoadFast, fb.Local("b")).Op(OpBinaryAdd)
	fb.Op(OpLoadFast, fb.Local("c")).Op(OpBinaryAdd).Op(OpReturnValue)

	mustRun(t, vm, func(b *CodeBuilder) {
		b.LoadConst(pyc.Tuple{int64(2)})
		b.LoadConst(int64(3)).LoadConst(pyc.Tuple{"c"}).Op(OpBuildConstKeyMap, 1)
		b.LoadConst(fb.Build()).LoadConst("f").Op(OpMakeFunction, MakeDefaults|MakeKwDefaults)
		b.Op(OpStoreName, b.Name("f"))
	})
	f := global(vm, "f")

	r, err := vm.Call(f, vm.Int(1))
	require.NoError(t, err)
	requireInt(t, 6, r)

	r, err = vm.Call(f, vm.Int(1), vm.Int(1))
	require.NoError(t, err)
	requireInt(t, 5, r)

	kw := vm.newDict()
	vm.dictSetStr(kw, "c", vm.Int(10))
	vm.dictSetStr(kw, "b", vm.Int(0))
	r = vm.callVirtual(f, []Value{vm.Int(1)}, kw)
	require.Equal(t, statusOK, vm.status)
	requireInt(t, 11, r)

	cases := []struct {
		name string
		args []Value
	}{
		{"too many positionals", []Value{vm.Int(1), vm.Int(2), vm.Int(3)}},
		{"missing required", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := vm.Call(f, tc.args...)
			var exc *ExceptionError
			require.ErrorAs(t, err, &exc)
			assert.Equal(t, "TypeError", exc.Type)
		})
	}
}

func TestVarArgsAndVarKeywords(t *testing.T) {
	vm, _ := newTestVM(t)
	// def f(first, *args, **kw): return (first, len(args), len(kw))
	fb := NewCodeBuilder("f", "test.py").Params("first").SetFlags(CodeVarArgs | CodeVarKeywords)
	fb.Local("args")
	fb.Local("kw")
	fb.Op(OpLoadFast, fb.Local("first"))
	fb.Op(OpLoadGlobal, fb.Name("len")).Op(OpLoadFast, fb.Local("args")).Op(OpCallFunction, 1)
	fb.Op(OpLoadGlobal, fb.Name("len")).Op(OpLoadFast, fb.Local("kw")).Op(OpCallFunction, 1)
	fb.Op(OpBuildTuple, 3).Op(OpReturnValue)

	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "f", fb.Build())
		// f("x", 1, 2, k=3)
		b.Op(OpLoadName, b.Name("f")).LoadConst("x").LoadConst(int64(1)).LoadConst(int64(2)).LoadConst(int64(3))
		b.LoadConst(pyc.Tuple{"k"}).Op(OpCallFunctionKw, 4).Op(OpReturnValue)
	})
	got := items(t, r)
	requireStr(t, "x", got[0])
	requireInt(t, 2, got[1])
	requireInt(t, 1, got[2])
}

func TestCallFunctionEx(t *testing.T) {
	vm, _ := newTestVM(t)
	fb := NewCodeBuilder("f", "test.py").Params("a", "b")
	fb.Op(OpLoadFast, fb.Local("a")).Op(OpLoadFast, fb.Local("b")).Op(OpBinarySubtract).Op(OpReturnValue)

	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "f", fb.Build())
		// f(*(10,), **{"b": 4})
		b.Op(OpLoadName, b.Name("f")).LoadConst(pyc.Tuple{int64(10)})
		b.LoadConst(int64(4)).LoadConst(pyc.Tuple{"b"}).Op(OpBuildConstKeyMap, 1)
		b.Op(OpCallFunctionEx, 1).Op(OpReturnValue)
	})
	requireInt(t, 6, r)
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestClosureObservesReassignment(t *testing.T) {
	vm, _ := newTestVM(t)
	// def outer():
	//     x = 1
	//     def inner(): return x
	//     x = 2
	//     return inner()
	ib := NewCodeBuilder("inner", "test.py").FreeVars("x")
	ib.Op(OpLoadDeref, ib.Deref("x")).Op(OpReturnValue)

	ob := NewCodeBuilder("outer", "test.py").CellVars("x")
	ob.LoadConst(int64(1)).Op(OpStoreDeref, ob.Deref("x"))
	ob.Op(OpLoadClosure, ob.Deref("x")).Op(OpBuildTuple, 1)
	ob.LoadConst(ib.Build()).LoadConst("outer.<locals>.inner").Op(OpMakeFunction, MakeClosure)
	ob.Op(OpStoreFast, ob.Local("inner"))
	ob.LoadConst(int64(2)).Op(OpStoreDeref, ob.Deref("x"))
	ob.Op(OpLoadFast, ob.Local("inner")).Op(OpCallFunction, 0).Op(OpReturnValue)

	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "outer", ob.Build())
		callName(b, "outer")
		b.Op(OpReturnValue)
	})
	requireInt(t, 2, r)
}

// counterCode is:
//
//	def counter():
//	    n = 0
//	    def inc():
//	        nonlocal n
//	        n = n + 1
//	        return n
//	    return inc
func counterCode() *pyc.Code {
	ib := NewCodeBuilder("inc", "test.py").FreeVars("n")
	ib.Op(OpLoadDeref, ib.Deref("n")).LoadConst(int64(1)).Op(OpBinaryAdd).Op(OpStoreDeref, ib.Deref("n"))
	ib.Op(OpLoadDeref, ib.Deref("n")).Op(OpReturnValue)

	cb := NewCodeBuilder("counter", "test.py").CellVars("n")
	cb.LoadConst(int64(0)).Op(OpStoreDeref, cb.Deref("n"))
	cb.Op(OpLoadClosure, cb.Deref("n")).Op(OpBuildTuple, 1)
	cb.LoadConst(ib.Build()).LoadConst("counter.<locals>.inc").Op(OpMakeFunction, MakeClosure)
	cb.Op(OpReturnValue)
	return cb.Build()
}

func TestClosureMutationOutlivesFrame(t *testing.T) {
	vm, _ := newTestVM(t)
	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "counter", counterCode())
		callName(b, "counter")
		b.Op(OpStoreName, b.Name("c1"))
		callName(b, "counter")
		b.Op(OpStoreName, b.Name("c2"))
		for i := 0; i < 2; i++ {
			b.Op(OpLoadName, b.Name("c1")).Op(OpCallFunction, 0).Op(OpPopTop)
		}
		b.Op(OpLoadName, b.Name("c1")).Op(OpCallFunction, 0)
		b.Op(OpLoadName, b.Name("c2")).Op(OpCallFunction, 0)
		b.Op(OpBuildTuple, 2).Op(OpReturnValue)
	})
	got := items(t, r)
	requireInt(t, 3, got[0])
	requireInt(t, 1, got[1])

	// The captured cell survives collections after counter() returned.
	vm.Collect()
	r, err := vm.Call(global(vm, "c1"))
	require.NoError(t, err)
	requireInt(t, 4, r)
}

func TestParameterCapturedByClosure(t *testing.T) {
	vm, _ := newTestVM(t)
	// def make_adder(n): return lambda y: n + y
	lb := NewCodeBuilder("<lambda>", "test.py").Params("y").FreeVars("n")
	lb.Op(OpLoadDeref, lb.Deref("n")).Op(OpLoadFast, lb.Local("y")).Op(OpBinaryAdd).Op(OpReturnValue)

	mb := NewCodeBuilder("make_adder", "test.py").Params("n").CellVars("n")
	mb.Op(OpLoadClosure, mb.Deref("n")).Op(OpBuildTuple, 1)
	mb.LoadConst(lb.Build()).LoadConst("make_adder.<locals>.<lambda>").Op(OpMakeFunction, MakeClosure)
	mb.Op(OpReturnValue)

	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "make_adder", mb.Build())
		callName(b, "make_adder", int64(10))
		b.LoadConst(int64(5)).Op(OpCallFunction, 1).Op(OpReturnValue)
	})
	requireInt(t, 15, r)
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// twoYields is `def gen(): yield 1; yield 2`.
func twoYields() *pyc.Code {
	gb := NewCodeBuilder("gen", "test.py").SetFlags(CodeGenerator)
	gb.LoadConst(int64(1)).Op(OpYieldValue).Op(OpPopTop)
	gb.LoadConst(int64(2)).Op(OpYieldValue).Op(OpPopTop)
	gb.LoadConst(nil).Op(OpReturnValue)
	return gb.Build()
}

func TestGeneratorYieldsTwiceThenExhausts(t *testing.T) {
	vm, _ := newTestVM(t)
	mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "gen", twoYields())
		callName(b, "gen")
		b.Op(OpStoreName, b.Name("g"))
	})
	g, ok := global(vm, "g").(*Generator)
	require.True(t, ok, "calling a generator function should return a generator")
	assert.Equal(t, GenCreated, g.State())

	next := vm.Builtins().GetStr("next")
	r, err := vm.Call(next, g)
	require.NoError(t, err)
	requireInt(t, 1, r)
	assert.Equal(t, GenSuspended, g.State())

	r, err = vm.Call(next, g)
	require.NoError(t, err)
	requireInt(t, 2, r)

	_, err = vm.Call(next, g)
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "StopIteration", exc.Type)
	assert.Equal(t, GenDone, g.State())

	// Further resumes keep reporting exhaustion.
	r, err = vm.Call(next, g, vm.Str("done"))
	require.NoError(t, err)
	requireStr(t, "done", r)
}

func TestGeneratorDrivesForLoop(t *testing.T) {
	vm, _ := newTestVM(t)
	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "gen", twoYields())
		b.Op(OpLoadName, b.Name("list"))
		callName(b, "gen")
		b.Op(OpCallFunction, 1).Op(OpReturnValue)
	})
	got := items(t, r)
	require.Len(t, got, 2)
	requireInt(t, 1, got[0])
	requireInt(t, 2, got[1])
}

func TestGeneratorSend(t *testing.T) {
	vm, _ := newTestVM(t)
	// def gen():
	//     x = yield 1
	//     yield x * 2
	gb := NewCodeBuilder("gen", "test.py").SetFlags(CodeGenerator)
	gb.LoadConst(int64(1)).Op(OpYieldValue).Op(OpStoreFast, gb.Local("x"))
	gb.Op(OpLoadFast, gb.Local("x")).LoadConst(int64(2)).Op(OpBinaryMultiply).Op(OpYieldValue).Op(OpPopTop)
	gb.LoadConst(nil).Op(OpReturnValue)

	mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "gen", gb.Build())
		callName(b, "gen")
		b.Op(OpStoreName, b.Name("g"))
	})
	g := global(vm, "g")

	_, err := vm.Call(vm.getattr(g, "send"), vm.Int(5))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "TypeError", exc.Type)

	r, err := vm.Call(vm.getattr(g, "send"), vm.None)
	require.NoError(t, err)
	requireInt(t, 1, r)

	r, err = vm.Call(vm.getattr(g, "send"), vm.Int(21))
	require.NoError(t, err)
	requireInt(t, 42, r)
}

func TestYieldFromDelegates(t *testing.T) {
	vm, _ := newTestVM(t)
	// def outer(): yield 0; yield from gen(); yield 3
	ob := NewCodeBuilder("outer", "test.py").SetFlags(CodeGenerator)
	ob.LoadConst(int64(0)).Op(OpYieldValue).Op(OpPopTop)
	ob.Op(OpLoadGlobal, ob.Name("gen")).Op(OpCallFunction, 0).Op(OpGetYieldFromIter)
	ob.LoadConst(nil).Op(OpYieldFrom).Op(OpPopTop)
	ob.LoadConst(int64(3)).Op(OpYieldValue).Op(OpPopTop)
	ob.LoadConst(nil).Op(OpReturnValue)

	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "gen", twoYields())
		defineFunction(b, "outer", ob.Build())
		b.Op(OpLoadName, b.Name("list"))
		callName(b, "outer")
		b.Op(OpCallFunction, 1).Op(OpReturnValue)
	})
	got := items(t, r)
	require.Len(t, got, 4)
	for i, v := range got {
		requireInt(t, int64(i), v)
	}
}

func TestYieldFromReturnsDelegateResult(t *testing.T) {
	vm, _ := newTestVM(t)
	// def inner(): yield 1; return 7
	ib := NewCodeBuilder("inner", "test.py").SetFlags(CodeGenerator)
	ib.LoadConst(int64(1)).Op(OpYieldValue).Op(OpPopTop)
	ib.LoadConst(int64(7)).Op(OpReturnValue)

	// def outer(): x = yield from inner(); yield x
	ob := NewCodeBuilder("outer", "test.py").SetFlags(CodeGenerator)
	ob.Op(OpLoadGlobal, ob.Name("inner")).Op(OpCallFunction, 0).Op(OpGetYieldFromIter)
	ob.LoadConst(nil).Op(OpYieldFrom)
	ob.Op(OpYieldValue).Op(OpPopTop)
	ob.LoadConst(nil).Op(OpReturnValue)

	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineFunction(b, "inner", ib.Build())
		defineFunction(b, "outer", ob.Build())
		b.Op(OpLoadName, b.Name("list"))
		callName(b, "outer")
		b.Op(OpCallFunction, 1).Op(OpReturnValue)
	})
	got := items(t, r)
	require.Len(t, got, 2)
	requireInt(t, 1, got[0])
	requireInt(t, 7, got[1])
}

// ---------------------------------------------------------------------------
// Exceptions and blocks
// ---------------------------------------------------------------------------

// appendTo emits `<list>.append(<const>)` as a statement using globals.
func appendTo(b *CodeBuilder, list string, v pyc.Value) {
	b.Op(OpLoadGlobal, b.Name(list)).Op(OpLoadMethod, b.Name("append")).LoadConst(v).Op(OpCallMethod, 1).Op(OpPopTop)
}

// exceptHandler emits the `except <name>:` prologue; unmatched exceptions
// jump to reraise.
func exceptHandler(b *CodeBuilder, name string, reraise *Label) {
	b.Op(OpDupTop).Op(OpLoadName, b.Name(name)).Jump(OpJumpIfNotExcMatch, reraise)
	b.Op(OpPopTop).Op(OpPopTop).Op(OpPopTop)
}

func TestFinallyRunsBeforePropagation(t *testing.T) {
	vm, _ := newTestVM(t)
	// def f():
	//     try:
	//         raise ValueError("x")
	//     finally:
	//         log.append("finally")
	fb := NewCodeBuilder("f", "test.py")
	handler := fb.NewLabel()
	fb.Jump(OpSetupFinally, handler)
	fb.Op(OpLoadGlobal, fb.Name("ValueError")).LoadConst("x").Op(OpCallFunction, 1).Op(OpRaiseVarargs, 1)
	fb.Op(OpPopBlock)
	appendTo(fb, "log", "finally")
	fb.LoadConst(nil).Op(OpReturnValue)
	fb.Mark(handler)
	appendTo(fb, "log", "finally")
	fb.Op(OpReraise)

	// log = []
	// try: f()
	// except ValueError: log.append("caught")
	r := mustRun(t, vm, func(b *CodeBuilder) {
		except, reraise, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Op(OpBuildList, 0).Op(OpStoreName, b.Name("log"))
		defineFunction(b, "f", fb.Build())
		b.Jump(OpSetupFinally, except)
		callName(b, "f")
		b.Op(OpPopTop).Op(OpPopBlock).Jump(OpJumpForward, done)
		b.Mark(except)
		exceptHandler(b, "ValueError", reraise)
		appendTo(b, "log", "caught")
		b.Op(OpPopExcept).Jump(OpJumpForward, done)
		b.Mark(reraise).Op(OpReraise)
		b.Mark(done)
		b.Op(OpLoadName, b.Name("log")).Op(OpReturnValue)
	})
	got := items(t, r)
	require.Len(t, got, 2)
	requireStr(t, "finally", got[0])
	requireStr(t, "caught", got[1])
}

func TestNestedFinallyRestoresStackDepth(t *testing.T) {
	vm, _ := newTestVM(t)
	var depths []int
	vm.dictSetStr(vm.builtins, "depth", vm.newNative("depth", func(vm *VM, args []Value) Value {
		depths = append(depths, vm.frame.Depth())
		return vm.None
	}))
	recordDepth := func(b *CodeBuilder) {
		b.Op(OpLoadName, b.Name("depth")).Op(OpCallFunction, 0).Op(OpPopTop)
	}

	const levels = 5
	mustRun(t, vm, func(b *CodeBuilder) {
		handlers := make([]*Label, levels)
		for i := range handlers {
			handlers[i] = b.NewLabel()
			// Leave a marker below each block so every level differs.
			b.LoadConst(int64(i)).Jump(OpSetupFinally, handlers[i])
		}
		b.LoadConst("junk").LoadConst("more junk")
		b.Op(OpLoadName, b.Name("ValueError")).Op(OpRaiseVarargs, 1)

		for i := levels - 1; i > 0; i-- {
			b.Mark(handlers[i])
			recordDepth(b)
			b.Op(OpReraise)
		}
		b.Mark(handlers[0])
		recordDepth(b)
		b.Op(OpPopTop).Op(OpPopTop).Op(OpPopTop).Op(OpPopExcept).Op(OpPopTop)
		recordDepth(b)
	})

	// Handler i sees its i+1 markers plus the three exception values.
	want := make([]int, 0, levels+1)
	for i := levels - 1; i >= 0; i-- {
		want = append(want, i+4)
	}
	want = append(want, 0)
	assert.Equal(t, want, depths)
}

func TestExceptMatchesBaseClass(t *testing.T) {
	vm, _ := newTestVM(t)
	// try: {}["k"]
	// except LookupError: caught = True
	mustRun(t, vm, func(b *CodeBuilder) {
		except, reraise, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Jump(OpSetupFinally, except)
		b.Op(OpBuildMap, 0).LoadConst("k").Op(OpBinarySubscr).Op(OpPopTop)
		b.Op(OpPopBlock).Jump(OpJumpForward, done)
		b.Mark(except)
		exceptHandler(b, "LookupError", reraise)
		b.LoadConst(true).Op(OpStoreName, b.Name("caught"))
		b.Op(OpPopExcept).Jump(OpJumpForward, done)
		b.Mark(reraise).Op(OpReraise)
		b.Mark(done)
	})
	assert.Equal(t, vm.True, global(vm, "caught"))
}

func TestUnmatchedExceptReraises(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.Run(module(func(b *CodeBuilder) {
		except, reraise, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Jump(OpSetupFinally, except)
		b.Op(OpLoadName, b.Name("TypeError")).LoadConst("boom").Op(OpCallFunction, 1).Op(OpRaiseVarargs, 1)
		b.Op(OpPopBlock).Jump(OpJumpForward, done)
		b.Mark(except)
		exceptHandler(b, "KeyError", reraise)
		b.Op(OpPopExcept).Jump(OpJumpForward, done)
		b.Mark(reraise).Op(OpReraise)
		b.Mark(done)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "TypeError", exc.Type)
	assert.Equal(t, "boom", exc.Description)
}

func TestBareRaiseOutsideHandler(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.Run(module(func(b *CodeBuilder) {
		b.Op(OpRaiseVarargs, 0)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "RuntimeError", exc.Type)
	assert.Equal(t, "No active exception to reraise", exc.Description)
}

func TestBareRaiseAfterHandlerFinished(t *testing.T) {
	vm, _ := newTestVM(t)
	// try: raise KeyError("gone")
	// except KeyError: pass
	// raise
	_, err := vm.Run(module(func(b *CodeBuilder) {
		except, reraise, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Jump(OpSetupFinally, except)
		b.Op(OpLoadName, b.Name("KeyError")).LoadConst("gone").Op(OpCallFunction, 1).Op(OpRaiseVarargs, 1)
		b.Op(OpPopBlock).Jump(OpJumpForward, done)
		b.Mark(except)
		exceptHandler(b, "KeyError", reraise)
		b.Op(OpPopExcept).Jump(OpJumpForward, done)
		b.Mark(reraise).Op(OpReraise)
		b.Mark(done)
		b.Op(OpRaiseVarargs, 0)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "RuntimeError", exc.Type)
	assert.Equal(t, "No active exception to reraise", exc.Description)
}

func TestBareRaiseAfterNestedHandler(t *testing.T) {
	vm, _ := newTestVM(t)
	// try: raise ValueError("outer")
	// except ValueError:
	//     try: raise KeyError("inner")
	//     except KeyError: pass
	//     raise
	_, err := vm.Run(module(func(b *CodeBuilder) {
		outer, outerReraise, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
		inner, innerReraise, after := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Jump(OpSetupFinally, outer)
		b.Op(OpLoadName, b.Name("ValueError")).LoadConst("outer").Op(OpCallFunction, 1).Op(OpRaiseVarargs, 1)
		b.Op(OpPopBlock).Jump(OpJumpForward, done)

		b.Mark(outer)
		exceptHandler(b, "ValueError", outerReraise)
		b.Jump(OpSetupFinally, inner)
		b.Op(OpLoadName, b.Name("KeyError")).LoadConst("inner").Op(OpCallFunction, 1).Op(OpRaiseVarargs, 1)
		b.Op(OpPopBlock).Jump(OpJumpForward, after)
		b.Mark(inner)
		exceptHandler(b, "KeyError", innerReraise)
		b.Op(OpPopExcept).Jump(OpJumpForward, after)
		b.Mark(innerReraise).Op(OpReraise)
		b.Mark(after)
		b.Op(OpRaiseVarargs, 0)
		b.Op(OpPopExcept).Jump(OpJumpForward, done)

		b.Mark(outerReraise).Op(OpReraise)
		b.Mark(done)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "ValueError", exc.Type)
	assert.Equal(t, "outer", exc.Description)
}

func TestAssertionFailure(t *testing.T) {
	vm, _ := newTestVM(t)
	// assert 1 == 2, "math"
	_, err := vm.Run(module(func(b *CodeBuilder) {
		ok := b.NewLabel()
		b.LoadConst(int64(1)).LoadConst(int64(2)).Op(OpCompareOp, CmpEQ).Jump(OpPopJumpIfTrue, ok)
		b.Op(OpLoadAssertionError).LoadConst("math").Op(OpCallFunction, 1).Op(OpRaiseVarargs, 1)
		b.Mark(ok)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "AssertionError", exc.Type)
	assert.Equal(t, "math", exc.Description)
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

func importName(b *CodeBuilder, name string) {
	b.LoadConst(int64(0)).LoadConst(nil).Op(OpImportName, b.Name(name)).Op(OpStoreName, b.Name(name))
}

func TestImportNativeModule(t *testing.T) {
	RegisterModule("pyrite_test_native", []NativeEntry{
		{Name: "double", Flags: NativeOneArg, Fn: func(vm *VM, args []Value) Value {
			n, ok := AsInt(args[0])
			if !ok {
				vm.Raise("TypeError", "double() needs an int")
				return nil
			}
			return vm.Int(2 * n)
		}},
		{Name: "answer", Const: 21},
	})
	assert.Contains(t, RegisteredModules(), "pyrite_test_native")

	vm, _ := newTestVM(t)
	r := mustRun(t, vm, func(b *CodeBuilder) {
		importName(b, "pyrite_test_native")
		b.Op(OpLoadName, b.Name("pyrite_test_native")).Op(OpLoadMethod, b.Name("double"))
		b.Op(OpLoadName, b.Name("pyrite_test_native")).Op(OpLoadAttr, b.Name("answer"))
		b.Op(OpCallMethod, 1).Op(OpReturnValue)
	})
	requireInt(t, 42, r)
	assert.NotNil(t, vm.Module("pyrite_test_native"))
}

func TestImportFailureIsCatchable(t *testing.T) {
	vm, _ := newTestVMWith(t, func(c *Config) {
		c.SearchPath = []string{t.TempDir()}
		c.LibPath = ""
	})
	mustRun(t, vm, func(b *CodeBuilder) {
		except, reraise, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.Jump(OpSetupFinally, except)
		importName(b, "no_such_module")
		b.Op(OpPopBlock).Jump(OpJumpForward, done)
		b.Mark(except)
		exceptHandler(b, "ImportError", reraise)
		b.LoadConst("missing").Op(OpStoreName, b.Name("status"))
		b.Op(OpPopExcept).Jump(OpJumpForward, done)
		b.Mark(reraise).Op(OpReraise)
		b.Mark(done)
	})
	requireStr(t, "missing", global(vm, "status"))
}

func TestImportCompiledModuleFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	// helper.py: value = 7; def twice(x): return x * 2
	tb := NewCodeBuilder("twice", "helper.py").Params("x")
	tb.Op(OpLoadFast, tb.Local("x")).LoadConst(int64(2)).Op(OpBinaryMultiply).Op(OpReturnValue)
	hb := NewCodeBuilder("<module>", "helper.py")
	hb.LoadConst(int64(7)).Op(OpStoreName, hb.Name("value"))
	defineFunction(hb, "twice", tb.Build())
	hb.LoadConst(nil).Op(OpReturnValue)

	var buf bytes.Buffer
	require.NoError(t, pyc.EncodeCode(&buf, hb.Build()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.pyc"), buf.Bytes(), 0o644))

	vm, _ := newTestVMWith(t, func(c *Config) {
		c.SearchPath = []string{dir}
	})
	r := mustRun(t, vm, func(b *CodeBuilder) {
		// from helper import twice; import helper
		b.LoadConst(int64(0)).LoadConst(pyc.Tuple{"twice"}).Op(OpImportName, b.Name("helper"))
		b.Op(OpImportFrom, b.Name("twice")).Op(OpStoreName, b.Name("twice")).Op(OpPopTop)
		importName(b, "helper")
		b.Op(OpLoadName, b.Name("twice"))
		b.Op(OpLoadName, b.Name("helper")).Op(OpLoadAttr, b.Name("value"))
		b.Op(OpCallFunction, 1).Op(OpReturnValue)
	})
	requireInt(t, 14, r)

	m := vm.Module("helper")
	require.NotNil(t, m)
	assert.Equal(t, filepath.Join(dir, "helper.pyc"), m.file)
}

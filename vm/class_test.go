package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/pyrite/pyc"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// method assembles a function body with the given parameters.
func method(name string, params []string, build func(b *CodeBuilder)) *pyc.Code {
	b := NewCodeBuilder(name, "test.py").Params(params...)
	build(b)
	return b.Build()
}

// returning is a method whose body returns a constant.
func returning(name string, v pyc.Value, params ...string) *pyc.Code {
	return method(name, append([]string{"self"}, params...), func(b *CodeBuilder) {
		b.LoadConst(v).Op(OpReturnValue)
	})
}

// classBody binds each method in a fresh class namespace.
func classBody(name string, methods ...*pyc.Code) *pyc.Code {
	b := NewCodeBuilder(name, "test.py")
	b.LoadConst(name).Op(OpStoreName, b.Name("__qualname__"))
	for _, m := range methods {
		b.LoadConst(m).LoadConst(name+"."+m.Name).Op(OpMakeFunction, 0).Op(OpStoreName, b.Name(m.Name))
	}
	b.LoadConst(nil).Op(OpReturnValue)
	return b.Build()
}

// defineClass emits `class name(bases...): body`.
func defineClass(b *CodeBuilder, name string, body *pyc.Code, bases ...string) {
	b.Op(OpLoadBuildClass)
	b.LoadConst(body).LoadConst(name).Op(OpMakeFunction, 0)
	b.LoadConst(name)
	for _, base := range bases {
		b.Op(OpLoadName, b.Name(base))
	}
	b.Op(OpCallFunction, 2+len(bases)).Op(OpStoreName, b.Name(name))
}

// klass creates a klass directly, bypassing the interpreter.
func klass(vm *VM, name string, bases ...*Klass) *Klass {
	supers := make([]*Type, len(bases))
	for i, k := range bases {
		supers[i] = k.typ
	}
	return vm.newKlass(name, supers, vm.newDict())
}

// fatalMessage runs fn and returns the message of the FatalError it
// panics with.
func fatalMessage(t *testing.T, fn func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a fatal error")
		fe, ok := r.(*FatalError)
		require.True(t, ok, "expected *FatalError, got %T", r)
		msg = fe.Msg
	}()
	fn()
	return ""
}

// ---------------------------------------------------------------------------
// MRO
// ---------------------------------------------------------------------------

func TestMRODiamond(t *testing.T) {
	for _, strategy := range []string{MROC3, MROSimple} {
		t.Run(strategy, func(t *testing.T) {
			vm, _ := newTestVMWith(t, func(c *Config) { c.MRO = strategy })
			a := klass(vm, "A")
			b := klass(vm, "B", a)
			c := klass(vm, "C", a)
			d := klass(vm, "D", b, c)

			assert.Equal(t, []string{"B", "C", "A", "object"}, d.mroNames())
			assert.Equal(t, []string{"A", "object"}, b.mroNames())
			assert.True(t, d.IsSubklass(a))
			assert.False(t, a.IsSubklass(d))
		})
	}
}

func TestMROIsDeterministic(t *testing.T) {
	for _, strategy := range []string{MROC3, MROSimple} {
		t.Run(strategy, func(t *testing.T) {
			vm, _ := newTestVMWith(t, func(c *Config) { c.MRO = strategy })
			o := klass(vm, "O")
			a := klass(vm, "A", o)
			b := klass(vm, "B", o)
			c := klass(vm, "C", o)
			d := klass(vm, "D", o)
			e := klass(vm, "E", o)
			k1 := klass(vm, "K1", a, b, c)
			k2 := klass(vm, "K2", d, b, e)
			z := klass(vm, "Z", k1, k2)

			first, err := vm.linearize(z)
			require.NoError(t, err)
			second, err := vm.linearize(z)
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.Equal(t, first, z.MRO())
		})
	}
}

func TestMROC3OrdersWikipediaExample(t *testing.T) {
	vm, _ := newTestVM(t)
	o := klass(vm, "O")
	a := klass(vm, "A", o)
	b := klass(vm, "B", o)
	c := klass(vm, "C", o)
	d := klass(vm, "D", o)
	e := klass(vm, "E", o)
	k1 := klass(vm, "K1", a, b, c)
	k2 := klass(vm, "K2", d, b, e)
	k3 := klass(vm, "K3", d, a)
	z := klass(vm, "Z", k1, k2, k3)

	assert.Equal(t,
		[]string{"K1", "K2", "K3", "D", "A", "B", "C", "E", "O", "object"},
		z.mroNames())
}

func TestMROConflictIsFatal(t *testing.T) {
	for _, strategy := range []string{MROC3, MROSimple} {
		t.Run(strategy, func(t *testing.T) {
			vm, _ := newTestVMWith(t, func(c *Config) { c.MRO = strategy })
			r := klass(vm, "R")
			s := klass(vm, "S")
			p := klass(vm, "P", r, s)
			q := klass(vm, "Q", s, r)

			msg := fatalMessage(t, func() { klass(vm, "X", p, q) })
			assert.Equal(t, "cannot create a consistent method resolution order (MRO) for X(P, Q)", msg)
		})
	}
}

func TestMROConflictFromBytecode(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.Run(module(func(b *CodeBuilder) {
		defineClass(b, "R", classBody("R"))
		defineClass(b, "S", classBody("S"))
		defineClass(b, "P", classBody("P"), "R", "S")
		defineClass(b, "Q", classBody("Q"), "S", "R")
		defineClass(b, "X", classBody("X"), "P", "Q")
	}))
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Msg, "X(P, Q)")

	// The VM stays usable.
	r := mustRun(t, vm, func(b *CodeBuilder) {
		b.LoadConst(int64(1)).Op(OpReturnValue)
	})
	requireInt(t, 1, r)
}

// ---------------------------------------------------------------------------
// Classes from bytecode
// ---------------------------------------------------------------------------

// pointClass is:
//
//	class Point:
//	    def __init__(self, x, y):
//	        self.x = x
//	        self.y = y
//	    def total(self):
//	        return self.x + self.y
func pointClass() *pyc.Code {
	init := method("__init__", []string{"self", "x", "y"}, func(b *CodeBuilder) {
		b.Op(OpLoadFast, b.Local("x")).Op(OpLoadFast, b.Local("self")).Op(OpStoreAttr, b.Name("x"))
		b.Op(OpLoadFast, b.Local("y")).Op(OpLoadFast, b.Local("self")).Op(OpStoreAttr, b.Name("y"))
		b.LoadConst(nil).Op(OpReturnValue)
	})
	total := method("total", []string{"self"}, func(b *CodeBuilder) {
		b.Op(OpLoadFast, b.Local("self")).Op(OpLoadAttr, b.Name("x"))
		b.Op(OpLoadFast, b.Local("self")).Op(OpLoadAttr, b.Name("y"))
		b.Op(OpBinaryAdd).Op(OpReturnValue)
	})
	return classBody("Point", init, total)
}

func TestBuildClassAndInstantiate(t *testing.T) {
	vm, _ := newTestVM(t)
	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineClass(b, "Point", pointClass())
		callName(b, "Point", int64(3), int64(4))
		b.Op(OpStoreName, b.Name("p"))
		b.Op(OpLoadName, b.Name("p")).Op(OpLoadMethod, b.Name("total")).Op(OpCallMethod, 0).Op(OpReturnValue)
	})
	requireInt(t, 7, r)

	point, ok := global(vm, "Point").(*Type)
	require.True(t, ok)
	assert.Equal(t, "Point", point.Own().Name())
	assert.Equal(t, []*Type{vm.k.object.typ}, point.Own().Supers())

	p := global(vm, "p")
	assert.Same(t, point.Own(), p.Klass())
	requireInt(t, 3, vm.getattr(p, "x"))

	// A bound method from attribute access.
	m, ok := vm.getattr(p, "total").(*Method)
	require.True(t, ok)
	r, err := vm.Call(m)
	require.NoError(t, err)
	requireInt(t, 7, r)
}

func TestInheritanceAndOverride(t *testing.T) {
	vm, _ := newTestVM(t)
	// class A:
	//     def who(self): return "A"
	//     def hello(self): return "hello " + self.who()
	// class B(A):
	//     def who(self): return "B"
	hello := method("hello", []string{"self"}, func(b *CodeBuilder) {
		b.LoadConst("hello ")
		b.Op(OpLoadFast, b.Local("self")).Op(OpLoadMethod, b.Name("who")).Op(OpCallMethod, 0)
		b.Op(OpBinaryAdd).Op(OpReturnValue)
	})
	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineClass(b, "A", classBody("A", returning("who", "A"), hello))
		defineClass(b, "B", classBody("B", returning("who", "B")), "A")
		callName(b, "B")
		b.Op(OpStoreName, b.Name("obj"))
		b.Op(OpLoadName, b.Name("obj")).Op(OpLoadMethod, b.Name("hello")).Op(OpCallMethod, 0)
		b.Op(OpLoadName, b.Name("isinstance")).Op(OpLoadName, b.Name("obj")).Op(OpLoadName, b.Name("A")).Op(OpCallFunction, 2)
		b.Op(OpLoadName, b.Name("issubclass")).Op(OpLoadName, b.Name("A")).Op(OpLoadName, b.Name("B")).Op(OpCallFunction, 2)
		b.Op(OpBuildTuple, 3).Op(OpReturnValue)
	})
	got := items(t, r)
	requireStr(t, "hello B", got[0])
	assert.Equal(t, vm.True, got[1])
	assert.Equal(t, vm.False, got[2])
}

func TestUserDunderDispatch(t *testing.T) {
	vm, _ := newTestVM(t)
	getitem := method("__getitem__", []string{"self", "key"}, func(b *CodeBuilder) {
		b.Op(OpLoadFast, b.Local("key")).LoadConst(int64(2)).Op(OpBinaryMultiply).Op(OpReturnValue)
	})
	body := classBody("V",
		returning("__add__", int64(100), "other"),
		returning("__radd__", "reflected", "other"),
		returning("__len__", int64(5)),
		returning("__repr__", "<V>"),
		returning("__bool__", false),
		getitem,
	)
	r := mustRun(t, vm, func(b *CodeBuilder) {
		defineClass(b, "V", body)
		callName(b, "V")
		b.Op(OpStoreName, b.Name("v"))
		b.Op(OpLoadName, b.Name("v")).LoadConst(int64(1)).Op(OpBinaryAdd)
		b.LoadConst(int64(1)).Op(OpLoadName, b.Name("v")).Op(OpBinaryAdd)
		b.Op(OpLoadName, b.Name("len")).Op(OpLoadName, b.Name("v")).Op(OpCallFunction, 1)
		b.Op(OpLoadName, b.Name("v")).LoadConst(int64(4)).Op(OpBinarySubscr)
		b.Op(OpLoadName, b.Name("repr")).Op(OpLoadName, b.Name("v")).Op(OpCallFunction, 1)
		b.Op(OpLoadName, b.Name("v")).Op(OpUnaryNot)
		b.Op(OpBuildTuple, 6).Op(OpReturnValue)
	})
	got := items(t, r)
	requireInt(t, 100, got[0])
	requireStr(t, "reflected", got[1])
	requireInt(t, 5, got[2])
	requireInt(t, 8, got[3])
	requireStr(t, "<V>", got[4])
	assert.Equal(t, vm.True, got[5])
}

func TestUnsupportedOperandRaisesTypeError(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.Run(module(func(b *CodeBuilder) {
		defineClass(b, "Empty", classBody("Empty"))
		callName(b, "Empty")
		b.LoadConst(int64(1)).Op(OpBinarySubtract).Op(OpReturnValue)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "TypeError", exc.Type)
	assert.Equal(t, "unsupported operand type(s) for -: 'Empty' and 'int'", exc.Description)
}

func TestGetattrHookAndMissingAttribute(t *testing.T) {
	vm, _ := newTestVM(t)
	hook := method("__getattr__", []string{"self", "name"}, func(b *CodeBuilder) {
		b.LoadConst("got ").Op(OpLoadFast, b.Local("name")).Op(OpBinaryAdd).Op(OpReturnValue)
	})
	mustRun(t, vm, func(b *CodeBuilder) {
		defineClass(b, "Dyn", classBody("Dyn", hook))
		callName(b, "Dyn")
		b.Op(OpLoadAttr, b.Name("anything")).Op(OpStoreName, b.Name("r"))
	})
	requireStr(t, "got anything", global(vm, "r"))

	// Each Run gets a fresh __main__, so Plain is defined where it is used.
	_, err := vm.Run(module(func(b *CodeBuilder) {
		defineClass(b, "Plain", classBody("Plain"))
		callName(b, "Plain")
		b.Op(OpLoadAttr, b.Name("nope")).Op(OpReturnValue)
	}))
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "AttributeError", exc.Type)
	assert.Equal(t, "'Plain' object has no attribute 'nope'", exc.Description)
}

func TestClassAttributeWritePurgesMethodCache(t *testing.T) {
	vm, _ := newTestVM(t)
	tagBody := func() *pyc.Code {
		b := NewCodeBuilder("Tagged", "test.py")
		b.LoadConst(int64(1)).Op(OpStoreName, b.Name("tag"))
		b.LoadConst(nil).Op(OpReturnValue)
		return b.Build()
	}
	mustRun(t, vm, func(b *CodeBuilder) {
		defineClass(b, "Tagged", tagBody())
		callName(b, "Tagged")
		b.Op(OpStoreName, b.Name("obj"))
	})
	obj := global(vm, "obj")
	requireInt(t, 1, vm.getattr(obj, "tag"))
	requireInt(t, 1, vm.getattr(obj, "tag"))

	_, _, purges := vm.MethodCache()
	require.True(t, vm.setattr(global(vm, "Tagged"), "tag", vm.Int(2)))
	_, _, after := vm.MethodCache()
	assert.Equal(t, purges+1, after)
	requireInt(t, 2, vm.getattr(obj, "tag"))
}

func TestTypeBuiltin(t *testing.T) {
	vm, _ := newTestVM(t)
	typ := vm.Builtins().GetStr("type")

	r, err := vm.Call(typ, vm.Int(3))
	require.NoError(t, err)
	assert.Same(t, vm.k.int.typ, r)

	ns := vm.newDict()
	vm.dictSetStr(ns, "kind", vm.Str("dynamic"))
	r, err = vm.Call(typ, vm.Str("Dynamic"), vm.NewTuple(vm.k.object.typ), ns)
	require.NoError(t, err)
	dyn, ok := r.(*Type)
	require.True(t, ok)
	assert.Equal(t, "Dynamic", dyn.Own().Name())

	inst, err := vm.Call(dyn)
	require.NoError(t, err)
	requireStr(t, "dynamic", vm.getattr(inst, "kind"))
	assert.Equal(t, "<class 'Dynamic'>", vm.repr(dyn))

	mro := vm.getattr(dyn, "__mro__")
	assert.Len(t, items(t, mro), 2)
}

func TestBoolIsSubklassOfInt(t *testing.T) {
	vm, _ := newTestVM(t)
	assert.True(t, vm.k.bool.IsSubklass(vm.k.int))
	r, err := vm.Call(vm.Builtins().GetStr("isinstance"), vm.True, vm.k.int.typ)
	require.NoError(t, err)
	assert.Equal(t, vm.True, r)

	sum, err := vm.Call(vm.getattr(vm.True, "__add__"), vm.True)
	require.NoError(t, err)
	requireInt(t, 2, sum)
}

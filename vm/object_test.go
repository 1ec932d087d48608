package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceAttributes(t *testing.T) {
	vm, _ := newTestVM(t)
	k := klass(vm, "Point")
	p := vm.newInstance(k)
	assert.Nil(t, p.Dict(), "the instance dict is created on first write")

	require.True(t, vm.setattr(p, "x", vm.Int(3)))
	require.NotNil(t, p.Dict())
	requireInt(t, 3, vm.getattr(p, "x"))

	require.True(t, vm.delattr(p, "x"))
	assert.Nil(t, vm.getattr(p, "x"))
	exc := vm.takeException()
	assert.Equal(t, "AttributeError", exc.Type)
	assert.Equal(t, "'Point' object has no attribute 'x'", exc.Description)

	assert.False(t, vm.delattr(p, "x"))
	assert.Equal(t, "AttributeError", vm.takeException().Type)
}

func TestInstanceShadowsKlass(t *testing.T) {
	vm, _ := newTestVM(t)
	k := klass(vm, "C")
	require.True(t, vm.setattr(k.typ, "color", vm.Str("red")))

	a, b := vm.newInstance(k), vm.newInstance(k)
	require.True(t, vm.setattr(a, "color", vm.Str("blue")))
	requireStr(t, "blue", vm.getattr(a, "color"))
	requireStr(t, "red", vm.getattr(b, "color"))
}

func TestFunctionsBindOnAccess(t *testing.T) {
	vm, _ := newTestVM(t)
	mustRun(t, vm, func(b *CodeBuilder) {
		defineClass(b, "C", classBody("C", returning("who", "me")))
	})
	typ := global(vm, "C").(*Type)
	inst := vm.newInstance(typ.own)

	m, ok := vm.getattr(inst, "who").(*Method)
	require.True(t, ok, "expected a bound method")
	assert.Same(t, inst, m.self)

	r, err := vm.Call(m)
	require.NoError(t, err)
	requireStr(t, "me", r)

	_, isMethod := vm.getattr(typ, "who").(*Method)
	assert.False(t, isMethod, "functions read from the type are unbound")
}

func TestTypeAttributes(t *testing.T) {
	vm, _ := newTestVM(t)
	a := klass(vm, "A")
	b := klass(vm, "B", a)

	requireStr(t, "B", vm.getattr(b.typ, "__name__"))
	assert.Equal(t, "(<class 'B'>, <class 'A'>, <class 'object'>)", vm.repr(vm.getattr(b.typ, "__mro__")))
	assert.Equal(t, "(<class 'A'>,)", vm.repr(vm.getattr(b.typ, "__bases__")))
	assert.Same(t, b.dict, vm.getattr(b.typ, "__dict__"))
	assert.Same(t, b.typ, vm.getattr(vm.newInstance(b), "__class__"))
}

func TestReprQuoting(t *testing.T) {
	vm, _ := newTestVM(t)
	for _, tc := range []struct {
		in, want string
	}{
		{"plain", `'plain'`},
		{"it's", `"it's"`},
		{`say "hi"`, `'say "hi"'`},
		{`both ' and "`, `'both \' and "'`},
		{"tab\there\n", `'tab\there\n'`},
		{"back\\slash", `'back\\slash'`},
		{"\x01", `'\x01'`},
		{"ünï", `'ünï'`},
	} {
		assert.Equal(t, tc.want, vm.repr(vm.Str(tc.in)), "repr(%q)", tc.in)
	}
}

func TestStrFallsBackToRepr(t *testing.T) {
	vm, _ := newTestVM(t)
	assert.Equal(t, "raw", vm.str(vm.Str("raw")))
	assert.Equal(t, "[1, 'a']", vm.str(vm.NewList(vm.Int(1), vm.Str("a"))))
	assert.Equal(t, "None", vm.str(vm.None))
	assert.Equal(t, "2.5", vm.str(vm.Float(2.5)))
}

func TestIdentityIsStable(t *testing.T) {
	vm, _ := newTestVM(t)
	a, b := vm.newInstance(vm.k.object), vm.newInstance(vm.k.object)
	assert.Equal(t, vm.id(a), vm.id(a))
	assert.NotEqual(t, vm.id(a), vm.id(b))
}

func TestIdentitySurvivesCollection(t *testing.T) {
	vm, _ := newTestVM(t)
	a := vm.newInstance(vm.k.object)
	vm.dictSetStr(vm.builtins, "kept", a)
	assert.Zero(t, a.base().id, "ids are assigned lazily")

	id := vm.id(a)
	before := a.ObjHeader().Addr()
	vm.Collect()
	kept := vm.builtins.GetStr("kept")
	assert.NotEqual(t, before, kept.ObjHeader().Addr(), "object should have moved")
	assert.Equal(t, id, vm.id(kept))
	assert.Equal(t, id, kept.base().id)

	fresh := vm.newInstance(vm.k.object)
	assert.Greater(t, vm.id(fresh), id)
}

func TestCallMethodMissing(t *testing.T) {
	vm, _ := newTestVM(t)
	assert.Nil(t, vm.callMethod(vm.Int(1), "nope"))
	exc := vm.takeException()
	assert.Equal(t, "TypeError", exc.Type)
	assert.Equal(t, "'int' object has no method nope", exc.Description)
}

package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Operator dispatch
// ---------------------------------------------------------------------------

// binop names the dunder pair an operator dispatches to.
type binop struct {
	symbol  string
	name    string
	reflect string
	inplace string
}

var binaryOps = map[Opcode]binop{
	OpBinaryAdd:         {"+", "__add__", "__radd__", ""},
	OpBinarySubtract:    {"-", "__sub__", "__rsub__", ""},
	OpBinaryMultiply:    {"*", "__mul__", "__rmul__", ""},
	OpBinaryTrueDivide:  {"/", "__truediv__", "__rtruediv__", ""},
	OpBinaryFloorDivide: {"//", "__floordiv__", "__rfloordiv__", ""},
	OpBinaryModulo:      {"%", "__mod__", "__rmod__", ""},
	OpBinaryPower:       {"** or pow()", "__pow__", "__rpow__", ""},
	OpBinaryLShift:      {"<<", "__lshift__", "__rlshift__", ""},
	OpBinaryRShift:      {">>", "__rshift__", "__rrshift__", ""},
	OpBinaryAnd:         {"&", "__and__", "__rand__", ""},
	OpBinaryXor:         {"^", "__xor__", "__rxor__", ""},
	OpBinaryOr:          {"|", "__or__", "__ror__", ""},

	OpInplaceAdd:      {"+=", "__add__", "__radd__", "__iadd__"},
	OpInplaceSubtract: {"-=", "__sub__", "__rsub__", "__isub__"},
	OpInplaceMultiply: {"*=", "__mul__", "__rmul__", "__imul__"},
	OpInplaceTrueDiv:  {"/=", "__truediv__", "__rtruediv__", "__itruediv__"},
	OpInplaceFloorDiv: {"//=", "__floordiv__", "__rfloordiv__", "__ifloordiv__"},
	OpInplaceModulo:   {"%=", "__mod__", "__rmod__", "__imod__"},
	OpInplacePower:    {"**=", "__pow__", "__rpow__", "__ipow__"},
	OpInplaceLShift:   {"<<=", "__lshift__", "__rlshift__", "__ilshift__"},
	OpInplaceRShift:   {">>=", "__rshift__", "__rrshift__", "__irshift__"},
	OpInplaceAnd:      {"&=", "__and__", "__rand__", "__iand__"},
	OpInplaceXor:      {"^=", "__xor__", "__rxor__", "__ixor__"},
	OpInplaceOr:       {"|=", "__or__", "__ror__", "__ior__"},
}

// binaryOp applies a binary operator: the in-place dunder if any, then the
// left operand's dunder, then the right operand's reflected dunder. A
// NotImplemented answer moves on to the next candidate.
func (vm *VM) binaryOp(op binop, a, b Value) Value {
	if op.inplace != "" {
		if r, done := vm.tryDunder(a, op.inplace, b); done {
			return r
		}
	}
	if r, done := vm.tryDunder(a, op.name, b); done {
		return r
	}
	if a.Klass() != b.Klass() {
		if r, done := vm.tryDunder(b, op.reflect, a); done {
			return r
		}
	}
	vm.raise(vm.k.typeError, "unsupported operand type(s) for %s: '%s' and '%s'",
		op.symbol, a.Klass().name, b.Klass().name)
	return nil
}

// tryDunder calls recv.name(arg). done is false when the method is missing
// or answered NotImplemented.
func (vm *VM) tryDunder(recv Value, name string, arg Value) (Value, bool) {
	m := vm.lookup(recv.Klass(), name)
	if m == nil {
		return nil, false
	}
	r := vm.callVirtual(m, []Value{recv, arg}, nil)
	if r == nil {
		return nil, true
	}
	if r == vm.NotImplemented {
		return nil, false
	}
	return r, true
}

// unaryOp applies a unary dunder.
func (vm *VM) unaryOp(v Value, name, symbol string) Value {
	m := vm.lookup(v.Klass(), name)
	if m == nil {
		vm.raise(vm.k.typeError, "bad operand type for unary %s: '%s'", symbol, v.Klass().name)
		return nil
	}
	return vm.callVirtual(m, []Value{v}, nil)
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

var compareDunders = [...]struct{ name, reflect string }{
	CmpLT: {"__lt__", "__gt__"},
	CmpLE: {"__le__", "__ge__"},
	CmpEQ: {"__eq__", "__eq__"},
	CmpNE: {"__ne__", "__ne__"},
	CmpGT: {"__gt__", "__lt__"},
	CmpGE: {"__ge__", "__le__"},
}

// compare implements the rich comparisons. When neither operand answers,
// == and != fall back to identity and the orderings fall back to the
// default total order, so a comparison always produces an answer.
func (vm *VM) compare(a, b Value, op int) Value {
	if op < 0 || op >= len(compareDunders) {
		fatalf("COMPARE_OP: bad operand %d", op)
	}
	d := compareDunders[op]
	if r, done := vm.tryDunder(a, d.name, b); done {
		return r
	}
	if r, done := vm.tryDunder(b, d.reflect, a); done {
		return r
	}
	switch op {
	case CmpEQ:
		return vm.Bool(a == b)
	case CmpNE:
		return vm.Bool(a != b)
	}
	c := vm.defaultOrder(a, b)
	switch op {
	case CmpLT:
		return vm.Bool(c < 0)
	case CmpLE:
		return vm.Bool(c <= 0)
	case CmpGT:
		return vm.Bool(c > 0)
	}
	return vm.Bool(c >= 0)
}

// defaultOrder orders unrelated values by klass name, with numbers before
// everything else. Values of the same klass order by identity.
func (vm *VM) defaultOrder(a, b Value) int {
	rank := func(v Value) string {
		if _, ok := AsFloat(v); ok {
			return ""
		}
		return v.Klass().name
	}
	if c := strings.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	if fa, ok := AsFloat(a); ok {
		if fb, ok := AsFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	ia, ib := vm.id(a), vm.id(b)
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	}
	return 0
}

// equal reports a == b. It is false with an exception pending if the
// comparison raised.
func (vm *VM) equal(a, b Value) bool {
	if a == b {
		return true
	}
	r := vm.compare(a, b, CmpEQ)
	if r == nil {
		return false
	}
	return vm.truthy(r)
}

// less reports a < b.
func (vm *VM) less(a, b Value) bool {
	r := vm.compare(a, b, CmpLT)
	if r == nil {
		return false
	}
	return vm.truthy(r)
}

// contains implements the in operator through __contains__, falling back
// to iteration.
func (vm *VM) contains(container, item Value) (bool, bool) {
	if m := vm.lookup(container.Klass(), "__contains__"); m != nil {
		r := vm.callVirtual(m, []Value{container, item}, nil)
		if r == nil {
			return false, false
		}
		return vm.truthy(r), vm.status != statusException
	}
	found := false
	ok := vm.iterate(container, func(x Value) bool {
		if vm.equal(x, item) {
			found = true
			return false
		}
		return true
	})
	return found, ok
}

// ---------------------------------------------------------------------------
// Subscripts
// ---------------------------------------------------------------------------

func (vm *VM) getItem(obj, key Value) Value {
	m := vm.lookup(obj.Klass(), "__getitem__")
	if m == nil {
		vm.raise(vm.k.typeError, "'%s' object is not subscriptable", obj.Klass().name)
		return nil
	}
	return vm.callVirtual(m, []Value{obj, key}, nil)
}

func (vm *VM) setItem(obj, key, val Value) bool {
	m := vm.lookup(obj.Klass(), "__setitem__")
	if m == nil {
		vm.raise(vm.k.typeError, "'%s' object does not support item assignment", obj.Klass().name)
		return false
	}
	return vm.callVirtual(m, []Value{obj, key, val}, nil) != nil
}

func (vm *VM) delItem(obj, key Value) bool {
	m := vm.lookup(obj.Klass(), "__delitem__")
	if m == nil {
		vm.raise(vm.k.typeError, "'%s' object does not support item deletion", obj.Klass().name)
		return false
	}
	return vm.callVirtual(m, []Value{obj, key}, nil) != nil
}

// length implements len().
func (vm *VM) length(v Value) (int, bool) {
	switch x := v.(type) {
	case *Str:
		if x.klass == vm.k.str {
			return len([]rune(x.s)), true
		}
	case *Tuple:
		return len(x.items), true
	case *List:
		if x.klass == vm.k.list {
			return len(x.items), true
		}
	case *Dict:
		if x.klass == vm.k.dict {
			return x.Len(), true
		}
	case *Set:
		return x.Len(), true
	}
	m := vm.lookup(v.Klass(), "__len__")
	if m == nil {
		vm.raise(vm.k.typeError, "object of type '%s' has no len()", v.Klass().name)
		return 0, false
	}
	r := vm.callVirtual(m, []Value{v}, nil)
	if r == nil {
		return 0, false
	}
	n, ok := AsInt(r)
	if !ok {
		vm.raise(vm.k.typeError, "'%s' object cannot be interpreted as an integer", r.Klass().name)
		return 0, false
	}
	return int(n), true
}

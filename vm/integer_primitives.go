package vm

import (
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// int Primitives
// ---------------------------------------------------------------------------

// Integers are 64-bit. Results that do not fit raise OverflowError.

type intOp func(vm *VM, a, b int64) Value

func (vm *VM) registerIntPrimitives() {
	c := vm.k.int
	c.construct = constructInt

	// Arithmetic. The r-forms receive the operands swapped.
	arith := map[string]intOp{
		"add":      intAdd,
		"sub":      intSub,
		"mul":      intMul,
		"floordiv": intFloorDiv,
		"mod":      intMod,
		"truediv":  intTrueDiv,
		"pow":      intPow,
		"lshift":   intLShift,
		"rshift":   intRShift,
		"and":      func(vm *VM, a, b int64) Value { return vm.Int(a & b) },
		"or":       func(vm *VM, a, b int64) Value { return vm.Int(a | b) },
		"xor":      func(vm *VM, a, b int64) Value { return vm.Int(a ^ b) },
	}
	for name, op := range arith {
		vm.addMethod1(c, "__"+name+"__", intBinary(op, false))
		vm.addMethod1(c, "__r"+name+"__", intBinary(op, true))
	}

	// Comparison
	cmp := map[string]func(a, b int64) bool{
		"__eq__": func(a, b int64) bool { return a == b },
		"__ne__": func(a, b int64) bool { return a != b },
		"__lt__": func(a, b int64) bool { return a < b },
		"__le__": func(a, b int64) bool { return a <= b },
		"__gt__": func(a, b int64) bool { return a > b },
		"__ge__": func(a, b int64) bool { return a >= b },
	}
	for name, test := range cmp {
		test := test
		vm.addMethod1(c, name, func(vm *VM, self, arg Value) Value {
			a, _ := AsInt(self)
			b, ok := AsInt(arg)
			if !ok {
				return vm.NotImplemented
			}
			return vm.Bool(test(a, b))
		})
	}

	// Unary
	vm.addMethod0(c, "__neg__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		if a == math.MinInt64 {
			return vm.overflow()
		}
		return vm.Int(-a)
	})
	vm.addMethod0(c, "__pos__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Int(a)
	})
	vm.addMethod0(c, "__abs__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		if a == math.MinInt64 {
			return vm.overflow()
		}
		if a < 0 {
			a = -a
		}
		return vm.Int(a)
	})
	vm.addMethod0(c, "__invert__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Int(^a)
	})

	// Conversion
	vm.addMethod0(c, "__bool__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Bool(a != 0)
	})
	vm.addMethod0(c, "__int__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Int(a)
	})
	vm.addMethod0(c, "__index__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Int(a)
	})
	vm.addMethod0(c, "__float__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Float(float64(a))
	})
	vm.addMethod0(c, "__hash__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Int(a)
	})
	vm.addMethodN(c, "__round__", 0, 1, func(vm *VM, self Value, args []Value) Value {
		a, _ := AsInt(self)
		if len(args) == 0 {
			return vm.Int(a)
		}
		nd, ok := AsInt(args[0])
		if !ok {
			vm.raise(vm.k.typeError, "'%s' object cannot be interpreted as an integer", args[0].Klass().name)
			return nil
		}
		if nd >= 0 {
			return vm.Int(a)
		}
		p := math.Pow(10, float64(-nd))
		return vm.Int(int64(math.RoundToEven(float64(a)/p) * p))
	})
	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		return vm.Str(strconv.FormatInt(a, 10))
	})
	vm.addMethod0(c, "bit_length", func(vm *VM, self Value) Value {
		a, _ := AsInt(self)
		if a < 0 {
			a = -a
		}
		return vm.Int(int64(bits.Len64(uint64(a))))
	})
}

// intBinary adapts an int operator to a dunder. Non-int operands answer
// NotImplemented so the other operand's reflected method gets a turn.
func intBinary(op intOp, reflected bool) func(vm *VM, self, arg Value) Value {
	return func(vm *VM, self, arg Value) Value {
		a, _ := AsInt(self)
		b, ok := AsInt(arg)
		if !ok {
			return vm.NotImplemented
		}
		if reflected {
			a, b = b, a
		}
		return op(vm, a, b)
	}
}

func (vm *VM) overflow() Value {
	vm.raise(vm.k.overflowError, "integer overflow")
	return nil
}

func intAdd(vm *VM, a, b int64) Value {
	r := a + b
	if (r > a) != (b > 0) {
		return vm.overflow()
	}
	return vm.Int(r)
}

func intSub(vm *VM, a, b int64) Value {
	r := a - b
	if (r < a) != (b > 0) {
		return vm.overflow()
	}
	return vm.Int(r)
}

func intMul(vm *VM, a, b int64) Value {
	if a == 0 || b == 0 {
		return vm.Int(0)
	}
	r := a * b
	if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return vm.overflow()
	}
	return vm.Int(r)
}

// intFloorDiv rounds toward negative infinity.
func intFloorDiv(vm *VM, a, b int64) Value {
	if b == 0 {
		vm.raise(vm.k.zeroDivisionError, "integer division or modulo by zero")
		return nil
	}
	if a == math.MinInt64 && b == -1 {
		return vm.overflow()
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return vm.Int(q)
}

// intMod takes the sign of the divisor.
func intMod(vm *VM, a, b int64) Value {
	if b == 0 {
		vm.raise(vm.k.zeroDivisionError, "integer division or modulo by zero")
		return nil
	}
	if b == -1 {
		return vm.Int(0)
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return vm.Int(r)
}

func intTrueDiv(vm *VM, a, b int64) Value {
	if b == 0 {
		vm.raise(vm.k.zeroDivisionError, "division by zero")
		return nil
	}
	return vm.Float(float64(a) / float64(b))
}

// intPow returns a float for negative exponents.
func intPow(vm *VM, a, b int64) Value {
	if b < 0 {
		if a == 0 {
			vm.raise(vm.k.zeroDivisionError, "0 cannot be raised to a negative power")
			return nil
		}
		return vm.Float(math.Pow(float64(a), float64(b)))
	}
	r := int64(1)
	base := a
	for b > 0 {
		if b&1 != 0 {
			hi, lo := bits.Mul64(uint64(abs64(r)), uint64(abs64(base)))
			if hi != 0 || lo > math.MaxInt64 {
				return vm.overflow()
			}
			neg := (r < 0) != (base < 0)
			r = int64(lo)
			if neg {
				r = -r
			}
		}
		b >>= 1
		if b > 0 {
			hi, lo := bits.Mul64(uint64(abs64(base)), uint64(abs64(base)))
			if hi != 0 || lo > math.MaxInt64 {
				return vm.overflow()
			}
			base = int64(lo)
		}
	}
	return vm.Int(r)
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func intLShift(vm *VM, a, b int64) Value {
	if b < 0 {
		vm.raise(vm.k.valueError, "negative shift count")
		return nil
	}
	if a == 0 {
		return vm.Int(0)
	}
	if b >= 63 || bits.Len64(uint64(abs64(a)))+int(b) > 63 {
		return vm.overflow()
	}
	return vm.Int(a << uint(b))
}

func intRShift(vm *VM, a, b int64) Value {
	if b < 0 {
		vm.raise(vm.k.valueError, "negative shift count")
		return nil
	}
	if b > 63 {
		b = 63
	}
	return vm.Int(a >> uint(b))
}

// constructInt implements int(x=0, base=10).
func constructInt(vm *VM, k *Klass, args []Value, kw *Dict) Value {
	if !vm.arity("int", args, 0, 2) || !vm.checkKw("int", kw, "base") {
		return nil
	}
	if len(args) == 0 {
		return vm.Int(0)
	}
	base := int64(10)
	if b := kwArg(kw, "base", nil); b != nil {
		base, _ = AsInt(b)
	}
	if len(args) == 2 {
		base, _ = AsInt(args[1])
	}
	switch x := args[0].(type) {
	case *Int:
		return vm.Int(x.v)
	case *Bool:
		n, _ := AsInt(x)
		return vm.Int(n)
	case *Float:
		if math.IsInf(x.v, 0) || math.IsNaN(x.v) || !isIntegral(math.Trunc(x.v)) {
			vm.raise(vm.k.overflowError, "cannot convert float %s to integer", formatFloat(x.v))
			return nil
		}
		return vm.Int(int64(math.Trunc(x.v)))
	case *Str:
		s := strings.ReplaceAll(strings.TrimSpace(x.s), "_", "")
		n, err := strconv.ParseInt(s, int(base), 64)
		if err != nil {
			vm.raise(vm.k.valueError, "invalid literal for int() with base %d: %s", base, quote(x.s))
			return nil
		}
		return vm.Int(n)
	}
	if m := vm.lookup(args[0].Klass(), "__int__"); m != nil {
		return vm.callVirtual(m, []Value{args[0]}, nil)
	}
	vm.raise(vm.k.typeError, "int() argument must be a string or a number, not '%s'", args[0].Klass().name)
	return nil
}

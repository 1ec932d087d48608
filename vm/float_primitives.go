package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// float Primitives
// ---------------------------------------------------------------------------

type floatOp func(vm *VM, a, b float64) Value

func (vm *VM) registerFloatPrimitives() {
	c := vm.k.float
	c.construct = constructFloat

	arith := map[string]floatOp{
		"add":      func(vm *VM, a, b float64) Value { return vm.Float(a + b) },
		"sub":      func(vm *VM, a, b float64) Value { return vm.Float(a - b) },
		"mul":      func(vm *VM, a, b float64) Value { return vm.Float(a * b) },
		"truediv":  floatDiv,
		"floordiv": floatFloorDiv,
		"mod":      floatMod,
		"pow":      floatPow,
	}
	for name, op := range arith {
		vm.addMethod1(c, "__"+name+"__", floatBinary(op, false))
		vm.addMethod1(c, "__r"+name+"__", floatBinary(op, true))
	}

	cmp := map[string]func(a, b float64) bool{
		"__eq__": func(a, b float64) bool { return a == b },
		"__ne__": func(a, b float64) bool { return a != b },
		"__lt__": func(a, b float64) bool { return a < b },
		"__le__": func(a, b float64) bool { return a <= b },
		"__gt__": func(a, b float64) bool { return a > b },
		"__ge__": func(a, b float64) bool { return a >= b },
	}
	for name, test := range cmp {
		test := test
		vm.addMethod1(c, name, func(vm *VM, self, arg Value) Value {
			a, _ := AsFloat(self)
			b, ok := AsFloat(arg)
			if !ok {
				return vm.NotImplemented
			}
			return vm.Bool(test(a, b))
		})
	}

	vm.addMethod0(c, "__neg__", func(vm *VM, self Value) Value { return vm.Float(-self.(*Float).v) })
	vm.addMethod0(c, "__pos__", func(vm *VM, self Value) Value { return self })
	vm.addMethod0(c, "__abs__", func(vm *VM, self Value) Value { return vm.Float(math.Abs(self.(*Float).v)) })
	vm.addMethod0(c, "__bool__", func(vm *VM, self Value) Value { return vm.Bool(self.(*Float).v != 0) })
	vm.addMethod0(c, "__float__", func(vm *VM, self Value) Value { return self })
	vm.addMethod0(c, "__int__", func(vm *VM, self Value) Value {
		return constructInt(vm, vm.k.int, []Value{self}, nil)
	})
	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value { return vm.Str(formatFloat(self.(*Float).v)) })
	vm.addMethod0(c, "is_integer", func(vm *VM, self Value) Value {
		f := self.(*Float).v
		return vm.Bool(f == math.Trunc(f) && !math.IsInf(f, 0))
	})

	// round(x) rounds half to even and returns an int; round(x, n)
	// returns a float.
	vm.addMethodN(c, "__round__", 0, 1, func(vm *VM, self Value, args []Value) Value {
		f := self.(*Float).v
		if len(args) == 0 {
			r := math.RoundToEven(f)
			if !isIntegral(r) {
				vm.raise(vm.k.overflowError, "cannot convert float %s to integer", formatFloat(f))
				return nil
			}
			return vm.Int(int64(r))
		}
		nd, ok := AsInt(args[0])
		if !ok {
			vm.raise(vm.k.typeError, "'%s' object cannot be interpreted as an integer", args[0].Klass().name)
			return nil
		}
		p := math.Pow(10, float64(nd))
		return vm.Float(math.RoundToEven(f*p) / p)
	})
}

// floatBinary accepts int and bool operands as well as floats.
func floatBinary(op floatOp, reflected bool) func(vm *VM, self, arg Value) Value {
	return func(vm *VM, self, arg Value) Value {
		a, _ := AsFloat(self)
		b, ok := AsFloat(arg)
		if !ok {
			return vm.NotImplemented
		}
		if reflected {
			a, b = b, a
		}
		return op(vm, a, b)
	}
}

func floatDiv(vm *VM, a, b float64) Value {
	if b == 0 {
		vm.raise(vm.k.zeroDivisionError, "float division by zero")
		return nil
	}
	return vm.Float(a / b)
}

func floatFloorDiv(vm *VM, a, b float64) Value {
	if b == 0 {
		vm.raise(vm.k.zeroDivisionError, "float divmod()")
		return nil
	}
	return vm.Float(math.Floor(a / b))
}

func floatMod(vm *VM, a, b float64) Value {
	if b == 0 {
		vm.raise(vm.k.zeroDivisionError, "float modulo")
		return nil
	}
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return vm.Float(r)
}

func floatPow(vm *VM, a, b float64) Value {
	if a == 0 && b < 0 {
		vm.raise(vm.k.zeroDivisionError, "0.0 cannot be raised to a negative power")
		return nil
	}
	r := math.Pow(a, b)
	if math.IsNaN(r) && !math.IsNaN(a) && !math.IsNaN(b) {
		vm.raise(vm.k.valueError, "math domain error")
		return nil
	}
	return vm.Float(r)
}

// constructFloat implements float(x=0.0).
func constructFloat(vm *VM, k *Klass, args []Value, kw *Dict) Value {
	if !vm.arity("float", args, 0, 1) || !vm.checkKw("float", kw) {
		return nil
	}
	if len(args) == 0 {
		return vm.Float(0)
	}
	if f, ok := AsFloat(args[0]); ok {
		return vm.Float(f)
	}
	if s, ok := AsString(args[0]); ok {
		t := strings.ToLower(strings.TrimSpace(s))
		switch t {
		case "inf", "+inf", "infinity":
			return vm.Float(math.Inf(1))
		case "-inf", "-infinity":
			return vm.Float(math.Inf(-1))
		case "nan", "+nan", "-nan":
			return vm.Float(math.NaN())
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(t, "_", ""), 64)
		if err != nil {
			vm.raise(vm.k.valueError, "could not convert string to float: %s", quote(s))
			return nil
		}
		return vm.Float(f)
	}
	if m := vm.lookup(args[0].Klass(), "__float__"); m != nil {
		return vm.callVirtual(m, []Value{args[0]}, nil)
	}
	vm.raise(vm.k.typeError, "float() argument must be a string or a number, not '%s'", args[0].Klass().name)
	return nil
}

// Package mathmod provides the native math module. Importing the package
// registers it with every VM.
package mathmod

import (
	"math"

	"github.com/chazu/pyrite/vm"
)

// Name is the module name seen by import.
const Name = "math"

func init() {
	vm.RegisterModule(Name, Entries())
}

// Entries returns the members of the math module.
func Entries() []vm.NativeEntry {
	return []vm.NativeEntry{
		unary("sqrt", "sqrt(x)\n\nReturn the square root of x.", math.Sqrt, func(x float64) bool { return x >= 0 }),
		unary("sin", "sin(x)\n\nReturn the sine of x (measured in radians).", math.Sin, finite),
		unary("cos", "cos(x)\n\nReturn the cosine of x (measured in radians).", math.Cos, finite),
		unary("fabs", "fabs(x)\n\nReturn the absolute value of the float x.", math.Abs, nil),
		{Name: "floor", Flags: vm.NativeOneArg, Fn: floor,
			Doc: "floor(x)\n\nReturn the floor of x as an int."},
		{Name: "pow", Flags: vm.NativeVarArgs, Fn: pow,
			Doc: "pow(x, y)\n\nReturn x**y (x to the power of y)."},
		{Name: "pi", Const: math.Pi},
		{Name: "e", Const: math.E},
	}
}

// finite rejects the infinities, where the trig functions are undefined.
func finite(x float64) bool { return !math.IsInf(x, 0) }

// unary wraps a float function. domain, when set, reports whether x is
// a valid argument.
func unary(name, doc string, fn func(float64) float64, domain func(float64) bool) vm.NativeEntry {
	return vm.NativeEntry{
		Name:  name,
		Flags: vm.NativeOneArg,
		Doc:   doc,
		Fn: func(v *vm.VM, args []vm.Value) vm.Value {
			x, ok := realArg(v, args[0])
			if !ok {
				return nil
			}
			if domain != nil && !math.IsNaN(x) && !domain(x) {
				v.Raise("ValueError", "math domain error")
				return nil
			}
			return v.Float(fn(x))
		},
	}
}

func floor(v *vm.VM, args []vm.Value) vm.Value {
	if n, ok := vm.AsInt(args[0]); ok {
		return v.Int(n)
	}
	x, ok := realArg(v, args[0])
	if !ok {
		return nil
	}
	switch {
	case math.IsNaN(x):
		v.Raise("ValueError", "cannot convert float NaN to integer")
		return nil
	case math.IsInf(x, 0):
		v.Raise("OverflowError", "cannot convert float infinity to integer")
		return nil
	}
	f := math.Floor(x)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		v.Raise("OverflowError", "int too large to convert")
		return nil
	}
	return v.Int(int64(f))
}

func pow(v *vm.VM, args []vm.Value) vm.Value {
	if len(args) != 2 {
		v.Raise("TypeError", "pow expected 2 arguments, got %d", len(args))
		return nil
	}
	x, ok := realArg(v, args[0])
	if !ok {
		return nil
	}
	y, ok := realArg(v, args[1])
	if !ok {
		return nil
	}
	if x == 0 && y < 0 || x < 0 && y != math.Trunc(y) && !math.IsInf(y, 0) {
		v.Raise("ValueError", "math domain error")
		return nil
	}
	r := math.Pow(x, y)
	if math.IsInf(r, 0) && !math.IsInf(x, 0) && !math.IsInf(y, 0) {
		v.Raise("OverflowError", "math range error")
		return nil
	}
	return v.Float(r)
}

func realArg(v *vm.VM, arg vm.Value) (float64, bool) {
	x, ok := vm.AsFloat(arg)
	if !ok {
		v.Raise("TypeError", "must be real number, not %s", arg.Klass().Name())
	}
	return x, ok
}

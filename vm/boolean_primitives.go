package vm

// ---------------------------------------------------------------------------
// bool and None Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerBooleanPrimitives() {
	c := vm.k.bool
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.arity("bool", args, 0, 1) || !vm.checkKw("bool", kw) {
			return nil
		}
		if len(args) == 0 {
			return vm.False
		}
		t := vm.truthy(args[0])
		if vm.status == statusException {
			return nil
		}
		return vm.Bool(t)
	}

	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value {
		if self.(*Bool).v {
			return vm.Str("True")
		}
		return vm.Str("False")
	})

	// & | ^ stay boolean when both operands are; otherwise the int
	// versions apply.
	logic := map[string]func(a, b bool) bool{
		"and": func(a, b bool) bool { return a && b },
		"or":  func(a, b bool) bool { return a || b },
		"xor": func(a, b bool) bool { return a != b },
	}
	for name, op := range logic {
		op := op
		fallback := vm.k.int.dict.GetStr("__" + name + "__")
		for _, dunder := range []string{"__" + name + "__", "__r" + name + "__"} {
			vm.addMethod1(c, dunder, func(vm *VM, self, arg Value) Value {
				if b, ok := arg.(*Bool); ok {
					return vm.Bool(op(self.(*Bool).v, b.v))
				}
				return vm.callVirtual(fallback, []Value{self, arg}, nil)
			})
		}
	}

	none := vm.k.none
	vm.addMethod0(none, "__repr__", func(vm *VM, self Value) Value {
		return vm.Str(self.(*NoneType).name)
	})
	vm.addMethod0(none, "__bool__", func(vm *VM, self Value) Value {
		return vm.Bool(self != vm.None)
	})
}

package vm

import (
	"fmt"
)

// installPrimitives registers the native methods of every builtin klass.
// bool extends int, so its primitives go in after int's.
func (vm *VM) installPrimitives() {
	vm.registerObjectPrimitives()
	vm.registerTypePrimitives()
	vm.registerIntPrimitives()
	vm.registerFloatPrimitives()
	vm.registerBooleanPrimitives()
	vm.registerStringPrimitives()
	vm.registerListPrimitives()
	vm.registerTuplePrimitives()
	vm.registerDictPrimitives()
	vm.registerSetPrimitives()
	vm.registerRuntimePrimitives()
	vm.cache.purge()
}

// ---------------------------------------------------------------------------
// object Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerObjectPrimitives() {
	c := vm.k.object
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.arity("object", args, 0, 0) || !vm.checkKw("object", kw) {
			return nil
		}
		return vm.newInstance(k)
	}

	vm.addMethodKw(c, "__init__", func(vm *VM, self Value, args []Value, kw *Dict) Value {
		return vm.None
	})
	vm.addMethod1(c, "__eq__", func(vm *VM, self, arg Value) Value {
		if self == arg {
			return vm.True
		}
		return vm.NotImplemented
	})
	vm.addMethod1(c, "__ne__", func(vm *VM, self, arg Value) Value {
		r := vm.compare(self, arg, CmpEQ)
		if r == nil {
			return nil
		}
		return vm.Bool(!vm.truthy(r))
	})
	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value {
		return vm.Str(fmt.Sprintf("<%s object at %#x>", self.Klass().name, vm.id(self)))
	})
	vm.addMethod0(c, "__str__", func(vm *VM, self Value) Value {
		return vm.strResult(vm.repr(self))
	})
	vm.addMethod0(c, "__hash__", func(vm *VM, self Value) Value {
		return vm.Int(vm.id(self))
	})
	vm.addMethod1(c, "__format__", func(vm *VM, self, spec Value) Value {
		s, _ := AsString(spec)
		if s != "" {
			vm.raise(vm.k.typeError, "unsupported format string passed to %s.__format__", self.Klass().name)
			return nil
		}
		return vm.strResult(vm.str(self))
	})
}

// ---------------------------------------------------------------------------
// type Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerTypePrimitives() {
	c := vm.k.typ
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.checkKw("type", kw) {
			return nil
		}
		switch len(args) {
		case 1:
			return args[0].Klass().typ
		case 3:
			name, ok := AsString(args[0])
			if !ok {
				vm.raise(vm.k.typeError, "type.__new__() argument 1 must be str, not %s", args[0].Klass().name)
				return nil
			}
			bases, ok := args[1].(*Tuple)
			if !ok {
				vm.raise(vm.k.typeError, "type.__new__() argument 2 must be tuple, not %s", args[1].Klass().name)
				return nil
			}
			src, ok := args[2].(*Dict)
			if !ok {
				vm.raise(vm.k.typeError, "type.__new__() argument 3 must be dict, not %s", args[2].Klass().name)
				return nil
			}
			supers := make([]*Type, 0, len(bases.items))
			for _, b := range bases.items {
				t, ok := b.(*Type)
				if !ok {
					vm.raise(vm.k.typeError, "bases must be types, not %s", b.Klass().name)
					return nil
				}
				supers = append(supers, t)
			}
			ns := vm.newDict()
			vm.keep(ns)
			src.Range(func(key, val Value) bool {
				ns.t.set(mustKey(key), key, val)
				return true
			})
			return vm.newKlass(name, supers, ns).typ
		}
		vm.raise(vm.k.typeError, "type() takes 1 or 3 arguments")
		return nil
	}

	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value {
		return vm.Str(fmt.Sprintf("<class '%s'>", self.(*Type).own.name))
	})
	vm.addMethod0(c, "mro", func(vm *VM, self Value) Value {
		t := self.(*Type)
		return vm.newList(append([]Value{t}, typesToValues(t.own.mro)...))
	})
	vm.addMethod1(c, "__instancecheck__", func(vm *VM, self, arg Value) Value {
		return vm.Bool(vm.isInstance(arg, self.(*Type)))
	})
	vm.addMethod1(c, "__subclasscheck__", func(vm *VM, self, arg Value) Value {
		t, ok := arg.(*Type)
		if !ok {
			vm.raise(vm.k.typeError, "issubclass() arg 1 must be a class")
			return nil
		}
		return vm.Bool(t.own.IsSubklass(self.(*Type).own))
	})
}

// ---------------------------------------------------------------------------
// Runtime object Primitives
// ---------------------------------------------------------------------------

// registerRuntimePrimitives covers the klasses the interpreter creates
// itself: functions, methods, modules, code, cells, slices, tracebacks,
// generators and builtin iterators.
func (vm *VM) registerRuntimePrimitives() {
	vm.addMethod0(vm.k.function, "__repr__", func(vm *VM, self Value) Value {
		return vm.Str(fmt.Sprintf("<function %s at %#x>", self.(*Function).name, vm.id(self)))
	})
	vm.addMethod0(vm.k.native, "__repr__", func(vm *VM, self Value) Value {
		return vm.Str(fmt.Sprintf("<built-in function %s>", self.(*NativeFunction).name))
	})
	vm.addMethod0(vm.k.method, "__repr__", func(vm *VM, self Value) Value {
		m := self.(*Method)
		name := "?"
		switch fn := m.fn.(type) {
		case *Function:
			name = fn.name
		case *NativeFunction:
			name = fn.name
		}
		return vm.strResult(fmt.Sprintf("<bound method %s.%s of %s>", m.self.Klass().name, name, vm.repr(m.self)))
	})
	vm.addMethod0(vm.k.module, "__repr__", func(vm *VM, self Value) Value {
		m := self.(*Module)
		if m.file == "" {
			return vm.Str(fmt.Sprintf("<module '%s' (built-in)>", m.name))
		}
		return vm.Str(fmt.Sprintf("<module '%s' from '%s'>", m.name, m.file))
	})
	vm.addMethod0(vm.k.code, "__repr__", func(vm *VM, self Value) Value {
		c := self.(*Code)
		return vm.Str(fmt.Sprintf("<code object %s at %#x, file %q, line %d>", c.name, vm.id(self), c.filename, c.firstLine))
	})
	vm.addMethod0(vm.k.cell, "__repr__", func(vm *VM, self Value) Value {
		c := self.(*Cell)
		if c.get() == nil {
			return vm.Str(fmt.Sprintf("<cell at %#x: empty>", vm.id(self)))
		}
		return vm.Str(fmt.Sprintf("<cell at %#x: %s object>", vm.id(self), c.get().Klass().name))
	})
	vm.addMethod0(vm.k.slice, "__repr__", func(vm *VM, self Value) Value {
		s := self.(*Slice)
		part := func(v Value) string {
			if v == nil {
				return "None"
			}
			return vm.repr(v)
		}
		return vm.strResult(fmt.Sprintf("slice(%s, %s, %s)", part(s.start), part(s.stop), part(s.step)))
	})
	vm.addMethod0(vm.k.traceback, "__repr__", func(vm *VM, self Value) Value {
		return vm.Str(fmt.Sprintf("<traceback object at %#x>", vm.id(self)))
	})

	// Generators

	g := vm.k.generator
	vm.addMethod0(g, "__iter__", func(vm *VM, self Value) Value { return self })
	vm.addMethod0(g, "__next__", func(vm *VM, self Value) Value {
		return vm.advance(self.(*Generator), nil)
	})
	vm.addMethod1(g, "send", func(vm *VM, self, arg Value) Value {
		return vm.advance(self.(*Generator), arg)
	})
	vm.addMethod0(g, "__repr__", func(vm *VM, self Value) Value {
		gen := self.(*Generator)
		return vm.Str(fmt.Sprintf("<generator object %s at %#x>", gen.name, vm.id(self)))
	})

	// Builtin iterators

	it := vm.k.iterator
	vm.addMethod0(it, "__iter__", func(vm *VM, self Value) Value { return self })
	vm.addMethod0(it, "__next__", func(vm *VM, self Value) Value {
		r := self.(Iterator).iterNext(vm)
		if r == nil && vm.status != statusException {
			vm.raiseStop()
		}
		return r
	})
	vm.addMethod0(it, "__repr__", func(vm *VM, self Value) Value {
		return vm.Str(fmt.Sprintf("<iterator object at %#x>", vm.id(self)))
	})
}

// advance resumes g on behalf of __next__ and send, turning exhaustion
// into StopIteration.
func (vm *VM) advance(g *Generator, send Value) Value {
	r := vm.resume(g, send)
	if r == nil && vm.status != statusException {
		vm.raiseStop()
	}
	return r
}

package vm

// ---------------------------------------------------------------------------
// Call dispatch
// ---------------------------------------------------------------------------

// invoke dispatches a call on the kind of callable. Interpreted functions
// come back as a new frame for the caller to run; every other kind runs to
// completion and returns its result. A nil result and nil frame mean an
// exception is pending.
func (vm *VM) invoke(fn Value, args []Value, kw *Dict) (Value, *Frame) {
	vm.keep(fn)
	vm.keep(args...)
	if kw != nil {
		vm.keep(kw)
	}

	switch x := fn.(type) {
	case *NativeFunction:
		return vm.callNative(x, args, kw), nil

	case *Method:
		return vm.invoke(x.fn, prepend(x.self, args), kw)

	case *Function:
		f := vm.newCallFrame(x, args, kw)
		if f == nil {
			return nil, nil
		}
		if x.code.flags&CodeGenerator != 0 {
			return vm.newGenerator(f), nil
		}
		return nil, f

	case *Type:
		return vm.allocateInstance(x, args, kw), nil
	}

	if hook := vm.lookup(fn.Klass(), "__call__"); hook != nil {
		return vm.invoke(hook, prepend(fn, args), kw)
	}
	vm.raise(vm.k.typeError, "'%s' object is not callable", fn.Klass().name)
	return nil, nil
}

// callNative runs a Go function. A nil result is None unless the native
// raised.
func (vm *VM) callNative(n *NativeFunction, args []Value, kw *Dict) Value {
	var r Value
	if n.kwfn != nil {
		r = n.kwfn(vm, args, kw)
	} else {
		if kw != nil && kw.Len() > 0 {
			vm.raise(vm.k.typeError, "%s() takes no keyword arguments", n.name)
			return nil
		}
		r = n.fn(vm, args)
	}
	if vm.status == statusException {
		return nil
	}
	if r == nil {
		return vm.None
	}
	return r
}

// callVirtual calls fn from Go code and returns its result. Interpreted
// callables run on an entry frame so that control comes back here when
// they finish. It returns nil if an exception is pending.
func (vm *VM) callVirtual(fn Value, args []Value, kw *Dict) Value {
	r, f := vm.invoke(fn, args, kw)
	if f == nil {
		return r
	}
	return vm.runFrame(f)
}

// deepen places f one level above caller. It raises RecursionError
// instead when caller is already at the depth limit.
func (vm *VM) deepen(f, caller *Frame) bool {
	if caller == nil {
		f.depth = 0
		return true
	}
	if caller.depth+1 >= vm.config.MaxDepth {
		vm.raise(vm.k.recursionError, "maximum recursion depth exceeded")
		return false
	}
	f.depth = caller.depth + 1
	return true
}

// runFrame evaluates f as an entry frame on top of the current frame.
func (vm *VM) runFrame(f *Frame) Value {
	if !vm.deepen(f, vm.frame) {
		return nil
	}
	f.entry = true
	f.caller = vm.frame
	vm.frame = f

	vm.eval()

	vm.frame = f.caller
	f.caller = nil
	if vm.status == statusException {
		return nil
	}
	r := vm.ret
	vm.ret = nil
	vm.status = statusOK
	vm.keep(r)
	return r
}

// Call invokes a callable from Go and reports an uncaught exception as an
// *ExceptionError.
func (vm *VM) Call(fn Value, args ...Value) (Value, error) {
	r := vm.callVirtual(fn, args, nil)
	if vm.status == statusException {
		return nil, vm.takeException()
	}
	return r, nil
}

// arity checks the argument count of a native.
func (vm *VM) arity(name string, args []Value, lo, hi int) bool {
	if len(args) >= lo && (hi < 0 || len(args) <= hi) {
		return true
	}
	switch {
	case lo == hi:
		vm.raise(vm.k.typeError, "%s() takes exactly %d arguments (%d given)", name, lo, len(args))
	case len(args) < lo:
		vm.raise(vm.k.typeError, "%s() takes at least %d arguments (%d given)", name, lo, len(args))
	default:
		vm.raise(vm.k.typeError, "%s() takes at most %d arguments (%d given)", name, hi, len(args))
	}
	return false
}

// ---------------------------------------------------------------------------
// Class construction
// ---------------------------------------------------------------------------

// buildClass is __build_class__(body, name, *bases): it runs the body
// function against a fresh namespace, then creates the klass from the
// bases and that namespace.
func (vm *VM) buildClass(args []Value, kw *Dict) Value {
	if len(args) < 2 {
		vm.raise(vm.k.typeError, "__build_class__: not enough arguments")
		return nil
	}
	body, ok := args[0].(*Function)
	if !ok {
		vm.raise(vm.k.typeError, "__build_class__: func must be a function")
		return nil
	}
	name, ok := AsString(args[1])
	if !ok {
		vm.raise(vm.k.typeError, "__build_class__: name is not a string")
		return nil
	}
	supers := make([]*Type, 0, len(args)-2)
	for _, b := range args[2:] {
		t, ok := b.(*Type)
		if !ok {
			vm.raise(vm.k.typeError, "bases must be types, not %s", b.Klass().name)
			return nil
		}
		supers = append(supers, t)
	}

	ns := vm.newDict()
	vm.keep(ns)
	f := vm.newClassFrame(body, ns)
	vm.runFrame(f)
	if vm.status == statusException {
		return nil
	}

	k := vm.newKlass(name, supers, ns)
	log.Debugf("built class %s mro=%v", name, k.mroNames())
	return k.typ
}

func (k *Klass) mroNames() []string {
	out := make([]string, len(k.mro))
	for i, t := range k.mro {
		out[i] = t.own.name
	}
	return out
}

package vm

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// eval runs vm.frame until that frame returns, yields, or lets an
// exception escape. Calls to interpreted functions push a frame and
// continue in the same loop; the loop only returns at an entry frame or a
// frame without a caller. The finished frame is left current for the
// caller of eval to pop.
//
// On return the status is ok with the result in vm.ret, yield with the
// yielded value in vm.ret, or exception.
func (vm *VM) eval() {
	base := vm.heap.Mark()
	f := vm.frame
	ext := 0

	for {
		vm.heap.Release(base)

		code := f.code.bytecode.Bytes()
		if f.pc >= len(code) {
			vm.ret = vm.None
			vm.status = statusReturn
		} else {
			if ext == 0 {
				f.lasti = f.pc
			}
			op := Opcode(code[f.pc])
			f.pc++
			arg := 0
			if op >= HaveArgument {
				arg = int(code[f.pc]) | ext
				f.pc++
			}
			if op == OpExtendedArg {
				ext = arg << 8
				continue
			}
			ext = 0
			vm.step(f, op, arg)
		}

		switch vm.status {
		case statusOK:
			f = vm.frame
			continue
		case statusYield:
			vm.heap.Release(base)
			return
		}
		if f = vm.unwind(f); f == nil {
			vm.heap.Release(base)
			return
		}
	}
}

// unwind handles a non-ok status after an instruction. Blocks are popped
// until one takes control; a frame whose block stack runs out is left,
// and propagation continues in its caller. It returns the frame to resume,
// or nil when the entry frame itself has finished.
func (vm *VM) unwind(f *Frame) *Frame {
	for {
		if len(f.blocks) > 0 {
			b := f.popBlock()
			f.truncate(b.level)
			if b.kind == blockExceptHandler {
				vm.handled = b.saved
				continue
			}
			switch vm.status {
			case statusException:
				f.enterHandler(vm.handled)
				f.push(vm.excTB)
				f.push(vm.excValue)
				f.push(vm.excType)
				vm.handled = [3]Value{vm.excType, vm.excValue, vm.excTB}
				vm.excType, vm.excValue, vm.excTB = nil, nil, nil
			case statusReturn:
				f.push(vm.ret)
				vm.ret = nil
			}
			vm.status = statusOK
			f.pc = b.handler
			return f
		}

		if vm.status == statusException {
			vm.recordFrame(f)
		}
		if f.entry || f.caller == nil {
			if vm.status == statusReturn {
				vm.status = statusOK
			}
			return nil
		}

		caller := f.caller
		f.caller = nil
		vm.frame = caller
		if vm.status == statusReturn {
			caller.push(vm.ret)
			vm.ret = nil
			vm.status = statusOK
			return caller
		}
		f = caller
	}
}

// pop removes the top of f's stack and keeps it rooted until the end of
// the instruction.
func (vm *VM) pop(f *Frame) Value {
	v := f.pop()
	if v != nil {
		vm.heap.Keep(v)
	}
	return v
}

func (vm *VM) popN(f *Frame, n int) []Value {
	vals := f.popN(n)
	vm.keep(vals...)
	return vals
}

// call invokes fn for a CALL instruction. An interpreted callee becomes
// the current frame; any other result is pushed on f.
func (vm *VM) call(f *Frame, fn Value, args []Value, kw *Dict) {
	r, nf := vm.invoke(fn, args, kw)
	if nf != nil {
		if !vm.deepen(nf, f) {
			return
		}
		nf.caller = f
		nf.entry = false
		vm.frame = nf
		return
	}
	if r != nil {
		f.push(r)
	}
}

// step executes one instruction.
func (vm *VM) step(f *Frame, op Opcode, arg int) {
	switch op {
	case OpPad, OpNop:

	// Stack shuffles

	case OpPopTop:
		f.pop()
	case OpRotTwo:
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]
	case OpRotThree:
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2], f.stack[n-3] = f.stack[n-2], f.stack[n-3], f.stack[n-1]
	case OpRotFour:
		n := len(f.stack)
		top := f.stack[n-1]
		copy(f.stack[n-3:], f.stack[n-4:n-1])
		f.stack[n-4] = top
	case OpDupTop:
		f.push(f.top())
	case OpDupTopTwo:
		a, b := f.peek(2), f.peek(1)
		f.push(a)
		f.push(b)

	// Operators

	case OpUnaryPositive:
		vm.unary(f, "__pos__", "+")
	case OpUnaryNegative:
		vm.unary(f, "__neg__", "-")
	case OpUnaryInvert:
		vm.unary(f, "__invert__", "~")
	case OpUnaryNot:
		t := vm.truthy(f.top())
		if vm.status == statusOK {
			f.setTop(vm.Bool(!t))
		}

	case OpBinaryPower, OpBinaryMultiply, OpBinaryModulo, OpBinaryAdd, OpBinarySubtract,
		OpBinaryFloorDivide, OpBinaryTrueDivide, OpBinaryLShift, OpBinaryRShift,
		OpBinaryAnd, OpBinaryXor, OpBinaryOr,
		OpInplaceAdd, OpInplaceSubtract, OpInplaceMultiply, OpInplaceModulo, OpInplacePower,
		OpInplaceFloorDiv, OpInplaceTrueDiv, OpInplaceLShift, OpInplaceRShift,
		OpInplaceAnd, OpInplaceXor, OpInplaceOr:
		b := vm.pop(f)
		r := vm.binaryOp(binaryOps[op], f.top(), b)
		if r != nil {
			f.setTop(r)
		}

	case OpCompareOp:
		b := vm.pop(f)
		r := vm.compare(f.top(), b, arg)
		if r != nil {
			f.setTop(r)
		}

	case OpIsOp:
		b := f.pop()
		f.setTop(vm.Bool((f.top() == b) != (arg == 1)))

	case OpContainsOp:
		container := vm.pop(f)
		found, ok := vm.contains(container, f.top())
		if ok {
			f.setTop(vm.Bool(found != (arg == 1)))
		}

	// Subscripts

	case OpBinarySubscr:
		key := vm.pop(f)
		r := vm.getItem(f.top(), key)
		if r != nil {
			f.setTop(r)
		}
	case OpStoreSubscr:
		key := vm.pop(f)
		obj := vm.pop(f)
		val := vm.pop(f)
		vm.setItem(obj, key, val)
	case OpDeleteSubscr:
		key := vm.pop(f)
		obj := vm.pop(f)
		vm.delItem(obj, key)

	// Iteration

	case OpGetIter, OpGetYieldFromIter:
		if _, isGen := f.top().(*Generator); op == OpGetYieldFromIter && isGen {
			break
		}
		if it := vm.getIter(f.top()); it != nil {
			f.setTop(it)
		}

	case OpForIter:
		x := vm.next(f.top())
		switch {
		case x != nil:
			f.push(x)
		case vm.status == statusOK:
			f.pop()
			f.pc += arg
		}

	case OpYieldFrom:
		vm.yieldFrom(f)

	// Names

	case OpLoadConst:
		f.push(f.code.consts[arg])

	case OpLoadName:
		name := f.code.names[arg]
		if v := vm.lookupName(f, name); v != nil {
			f.push(v)
		}
	case OpStoreName:
		vm.dictSetStr(f.namespace(), f.code.names[arg], vm.pop(f))
	case OpDeleteName:
		name := f.code.names[arg]
		if !f.namespace().t.del(strKey(name)) {
			vm.raise(vm.k.nameError, "name '%s' is not defined", name)
		}

	case OpLoadGlobal:
		name := f.code.names[arg]
		if v := vm.lookupGlobal(f, name); v != nil {
			f.push(v)
		}
	case OpStoreGlobal:
		vm.dictSetStr(f.globals, f.code.names[arg], vm.pop(f))
	case OpDeleteGlobal:
		name := f.code.names[arg]
		if !f.globals.t.del(strKey(name)) {
			vm.raise(vm.k.nameError, "name '%s' is not defined", name)
		}

	case OpLoadFast:
		v := f.fast[arg]
		if v == nil {
			vm.raise(vm.k.nameError, "local variable '%s' referenced before assignment", f.code.varnames[arg])
			return
		}
		f.push(v)
	case OpStoreFast:
		f.fast[arg] = f.pop()
	case OpDeleteFast:
		if f.fast[arg] == nil {
			vm.raise(vm.k.nameError, "local variable '%s' referenced before assignment", f.code.varnames[arg])
			return
		}
		f.fast[arg] = nil

	case OpLoadClosure:
		f.push(vm.cellFor(f, arg))
	case OpLoadDeref:
		if v := vm.deref(f, arg); v != nil {
			f.push(v)
		}
	case OpLoadClassDeref:
		if v := f.locals.GetStr(derefName(f.code, arg)); v != nil {
			f.push(v)
		} else if v := vm.deref(f, arg); v != nil {
			f.push(v)
		}
	case OpStoreDeref:
		v := f.pop()
		if c, ok := f.closure.items[arg].(*Cell); ok {
			c.set(v)
		} else {
			f.closure.items[arg] = v
		}

	// Attributes

	case OpLoadAttr:
		if r := vm.getattr(f.top(), f.code.names[arg]); r != nil {
			f.setTop(r)
		}
	case OpStoreAttr:
		obj := vm.pop(f)
		val := vm.pop(f)
		vm.setattr(obj, f.code.names[arg], val)
	case OpDeleteAttr:
		obj := vm.pop(f)
		vm.delattr(obj, f.code.names[arg])

	case OpLoadMethod:
		obj := vm.pop(f)
		m, unbound := vm.loadMethod(obj, f.code.names[arg])
		switch {
		case m == nil:
		case unbound:
			f.push(m)
			f.push(obj)
		default:
			f.push(nil)
			f.push(m)
		}
	case OpCallMethod:
		args := vm.popN(f, arg)
		second := vm.pop(f)
		first := vm.pop(f)
		if first == nil {
			vm.call(f, second, args, nil)
		} else {
			vm.call(f, first, prepend(second, args), nil)
		}

	// Containers

	case OpBuildTuple:
		f.push(vm.newTuple(vm.popN(f, arg)))
	case OpBuildList:
		f.push(vm.newList(vm.popN(f, arg)))
	case OpListToTuple:
		l := f.top().(*List)
		f.setTop(vm.NewTuple(l.items...))
	case OpBuildSet:
		items := vm.popN(f, arg)
		s := vm.newSet()
		for _, x := range items {
			if !vm.setAdd(s, x) {
				return
			}
		}
		f.push(s)
	case OpBuildMap:
		items := vm.popN(f, 2*arg)
		d := vm.newDict()
		for i := 0; i < len(items); i += 2 {
			if !vm.dictSet(d, items[i], items[i+1]) {
				return
			}
		}
		f.push(d)
	case OpBuildConstKeyMap:
		keys := vm.pop(f).(*Tuple)
		vals := vm.popN(f, arg)
		d := vm.newDict()
		for i, k := range keys.items {
			if !vm.dictSet(d, k, vals[i]) {
				return
			}
		}
		f.push(d)
	case OpBuildString:
		parts := vm.popN(f, arg)
		n := 0
		for _, p := range parts {
			n += len(p.(*Str).s)
		}
		buf := make([]byte, 0, n)
		for _, p := range parts {
			buf = append(buf, p.(*Str).s...)
		}
		f.push(vm.Str(string(buf)))
	case OpBuildSlice:
		var step Value = vm.None
		if arg == 3 {
			step = vm.pop(f)
		}
		stop := vm.pop(f)
		start := vm.pop(f)
		f.push(vm.newSlice(start, stop, step))

	case OpListAppend:
		v := f.pop()
		l := f.peek(arg).(*List)
		l.items = append(l.items, v)
	case OpSetAdd:
		v := vm.pop(f)
		vm.setAdd(f.peek(arg).(*Set), v)
	case OpMapAdd:
		val := vm.pop(f)
		key := vm.pop(f)
		vm.dictSet(f.peek(arg).(*Dict), key, val)
	case OpListExtend:
		src := vm.pop(f)
		l := f.peek(arg).(*List)
		if items, ok := vm.collect(src); ok {
			l.items = append(l.items, items...)
		}
	case OpSetUpdate:
		src := vm.pop(f)
		s := f.peek(arg).(*Set)
		vm.iterate(src, func(x Value) bool { return vm.setAdd(s, x) })
	case OpDictUpdate, OpDictMerge:
		src := vm.pop(f)
		d := f.peek(arg).(*Dict)
		other, ok := src.(*Dict)
		if !ok {
			vm.raise(vm.k.typeError, "'%s' object is not a mapping", src.Klass().name)
			return
		}
		other.Range(func(k, v Value) bool {
			if op == OpDictMerge && d.t.find(mustKey(k)) >= 0 {
				vm.raise(vm.k.typeError, "got multiple values for keyword argument '%s'", vm.str(k))
				return false
			}
			d.t.set(mustKey(k), k, v)
			return true
		})

	case OpUnpackSequence:
		vm.unpack(f, arg, -1)
	case OpUnpackEx:
		vm.unpack(f, arg&0xff, arg>>8)

	case OpFormatValue:
		vm.formatValue(f, arg)

	// Jumps

	case OpJumpForward:
		f.pc += arg
	case OpJumpAbsolute:
		f.pc = arg
	case OpPopJumpIfFalse, OpPopJumpIfTrue:
		v := vm.pop(f)
		t := vm.truthy(v)
		if vm.status == statusOK && t == (op == OpPopJumpIfTrue) {
			f.pc = arg
		}
	case OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		t := vm.truthy(f.top())
		if vm.status != statusOK {
			return
		}
		if t == (op == OpJumpIfTrueOrPop) {
			f.pc = arg
		} else {
			f.pop()
		}

	// Calls and functions

	case OpCallFunction:
		args := vm.popN(f, arg)
		fn := vm.pop(f)
		vm.call(f, fn, args, nil)

	case OpCallFunctionKw:
		names := vm.pop(f).(*Tuple)
		args := vm.popN(f, arg)
		fn := vm.pop(f)
		npos := len(args) - len(names.items)
		kw := vm.newDict()
		for i, k := range names.items {
			vm.dictSetStr(kw, k.(*Str).s, args[npos+i])
		}
		vm.call(f, fn, args[:npos], kw)

	case OpCallFunctionEx:
		var kw *Dict
		if arg&1 != 0 {
			src := vm.pop(f)
			d, ok := src.(*Dict)
			if !ok {
				vm.raise(vm.k.typeError, "argument after ** must be a mapping, not %s", src.Klass().name)
				return
			}
			kw = d
		}
		callargs := vm.pop(f)
		fn := vm.pop(f)
		args, ok := vm.collect(callargs)
		if !ok {
			return
		}
		vm.call(f, fn, args, kw)

	case OpMakeFunction:
		vm.makeFunction(f, arg)

	case OpLoadBuildClass:
		f.push(vm.builtins.GetStr("__build_class__"))

	case OpReturnValue:
		vm.ret = f.pop()
		vm.status = statusReturn

	case OpYieldValue:
		vm.ret = f.top()
		vm.status = statusYield

	// Blocks and exceptions

	case OpSetupFinally:
		f.pushBlock(blockFinally, f.pc+arg)
	case OpPopBlock:
		f.popBlock()
	case OpPopExcept:
		b := f.popBlock()
		if b.kind != blockExceptHandler {
			fatalf("%s: popped block is not an except handler", f.code.name)
		}
		vm.handled = b.saved

	case OpReraise:
		typ := f.pop()
		val := f.pop()
		tb := f.pop()
		vm.reraise(typ, val, tb)

	case OpJumpIfNotExcMatch:
		right := f.pop()
		left := f.pop()
		if !vm.excMatches(left, right) {
			f.pc = arg
		}

	case OpRaiseVarargs:
		vm.raiseVarargs(f, arg)

	case OpLoadAssertionError:
		f.push(vm.k.assertionError.typ)

	case OpSetupWith:
		vm.setupWith(f, arg)

	case OpWithExceptStart:
		exit := f.peek(4)
		r := vm.callVirtual(exit, []Value{f.peek(1), f.peek(2), f.peek(3)}, nil)
		if r != nil {
			f.push(r)
		}

	// Modules and output

	case OpImportName:
		vm.pop(f) // fromlist
		vm.pop(f) // level
		if m := vm.importModule(f.code.names[arg]); m != nil {
			f.push(m)
		}
	case OpImportFrom:
		vm.importFrom(f, f.code.names[arg])
	case OpImportStar:
		vm.importStar(f, vm.pop(f))

	case OpSetupAnnotations:
		ns := f.namespace()
		if ns.GetStr("__annotations__") == nil {
			vm.dictSetStr(ns, "__annotations__", vm.newDict())
		}

	case OpPrintExpr:
		v := vm.pop(f)
		if v != vm.None {
			s := vm.repr(v)
			if vm.status == statusOK {
				vm.write(s + "\n")
			}
		}

	default:
		fatalf("%s: unknown opcode %d (%s) at offset %d", f.code.name, byte(op), op, f.lasti)
	}
}

func mustKey(v Value) dictKey {
	k, _ := keyOf(v)
	return k
}

// namespace returns the table STORE_NAME writes to.
func (f *Frame) namespace() *Dict {
	if f.locals != nil {
		return f.locals
	}
	return f.globals
}

func (vm *VM) unary(f *Frame, name, symbol string) {
	if r := vm.unaryOp(f.top(), name, symbol); r != nil {
		f.setTop(r)
	}
}

// lookupName resolves a name through locals, globals and builtins.
func (vm *VM) lookupName(f *Frame, name string) Value {
	if f.locals != nil {
		if v := f.locals.GetStr(name); v != nil {
			return v
		}
	}
	return vm.lookupGlobal(f, name)
}

// lookupGlobal resolves a name through globals and builtins.
func (vm *VM) lookupGlobal(f *Frame, name string) Value {
	if v := f.globals.GetStr(name); v != nil {
		return v
	}
	if v := vm.builtins.GetStr(name); v != nil {
		return v
	}
	vm.raise(vm.k.nameError, "name '%s' is not defined", name)
	return nil
}

func (vm *VM) deref(f *Frame, i int) Value {
	v := f.closure.items[i]
	if c, ok := v.(*Cell); ok {
		v = c.get()
	}
	if v == nil {
		vm.raise(vm.k.nameError, "free variable '%s' referenced before assignment in enclosing scope",
			derefName(f.code, i))
	}
	return v
}

// unpack implements UNPACK_SEQUENCE (after < 0) and UNPACK_EX.
func (vm *VM) unpack(f *Frame, before, after int) {
	src := vm.pop(f)
	items, ok := vm.collect(src)
	if !ok {
		return
	}
	if after < 0 {
		switch {
		case len(items) < before:
			vm.raise(vm.k.valueError, "not enough values to unpack (expected %d, got %d)", before, len(items))
			return
		case len(items) > before:
			vm.raise(vm.k.valueError, "too many values to unpack (expected %d)", before)
			return
		}
		for i := len(items) - 1; i >= 0; i-- {
			f.push(items[i])
		}
		return
	}
	if len(items) < before+after {
		vm.raise(vm.k.valueError, "not enough values to unpack (expected at least %d, got %d)",
			before+after, len(items))
		return
	}
	for i := len(items) - 1; i >= len(items)-after; i-- {
		f.push(items[i])
	}
	f.push(vm.NewList(items[before : len(items)-after]...))
	for i := before - 1; i >= 0; i-- {
		f.push(items[i])
	}
}

// makeFunction implements MAKE_FUNCTION. Operands are popped in flag order:
// closure, annotations, keyword defaults, defaults.
func (vm *VM) makeFunction(f *Frame, flags int) {
	qualname := vm.pop(f).(*Str)
	code := vm.pop(f).(*Code)
	fn := vm.newFunction(code, f.globals, qualname.s)
	vm.keep(fn)
	if flags&MakeClosure != 0 {
		fn.closure = append([]Value(nil), vm.pop(f).(*Tuple).items...)
	}
	if flags&MakeAnnotations != 0 {
		ann := vm.pop(f)
		vm.dictSetStr(vm.instanceDict(fn), "__annotations__", ann)
	}
	if flags&MakeKwDefaults != 0 {
		fn.kwdefaults = vm.pop(f).(*Dict)
	}
	if flags&MakeDefaults != 0 {
		fn.defaults = append([]Value(nil), vm.pop(f).(*Tuple).items...)
	}
	f.push(fn)
}

func (vm *VM) raiseVarargs(f *Frame, n int) {
	switch n {
	case 0:
		if vm.handled[1] == nil {
			vm.raise(vm.k.runtimeError, "No active exception to reraise")
			return
		}
		vm.reraise(vm.handled[0], vm.handled[1], vm.handled[2])
	case 1:
		vm.raiseValue(vm.pop(f))
	case 2:
		cause := vm.pop(f)
		exc := vm.pop(f)
		vm.raiseValue(exc)
		if vm.status == statusException && vm.isInstance(vm.excValue, vm.k.exception.typ) {
			vm.dictSetStr(vm.instanceDict(vm.excValue), "__cause__", cause)
		}
	default:
		fatalf("RAISE_VARARGS: bad operand %d", n)
	}
}

// setupWith implements SETUP_WITH: the bound __exit__ is pushed, __enter__
// is called, a finally block is set up and __enter__'s result pushed.
func (vm *VM) setupWith(f *Frame, delta int) {
	mgr := vm.pop(f)
	enter := vm.lookup(mgr.Klass(), "__enter__")
	exit := vm.lookup(mgr.Klass(), "__exit__")
	if enter == nil || exit == nil {
		vm.raise(vm.k.attributeError, "'%s' object does not support the context manager protocol", mgr.Klass().name)
		return
	}
	f.push(vm.newMethod(exit, mgr))
	r := vm.callVirtual(enter, []Value{mgr}, nil)
	if r == nil {
		return
	}
	f.pushBlock(blockWith, f.pc+delta)
	f.push(r)
}

// yieldFrom implements YIELD_FROM. The sub-iterator stays below the sent
// value; while it produces values the instruction re-executes on every
// resume. When the sub-iterator finishes, its return value replaces it.
func (vm *VM) yieldFrom(f *Frame) {
	send := vm.pop(f)
	recv := f.top()
	var r Value
	result := vm.None
	switch it := recv.(type) {
	case *Generator:
		r = vm.resume(it, send)
		if r == nil && it.result != nil {
			result, it.result = it.result, nil
		}
	case Iterator:
		r = it.iterNext(vm)
	default:
		r = vm.callMethod(recv, "__next__")
	}
	if r == nil && vm.isPendingStop() {
		if args := excArgs(vm.excValue); len(args) > 0 {
			result = args[0]
		}
		vm.clearException()
	}
	if r == nil {
		if vm.status == statusOK {
			f.setTop(result)
		}
		return
	}
	f.push(r)
	vm.ret = r
	vm.status = statusYield
	f.pc = f.lasti
}

func (vm *VM) isPendingStop() bool {
	return vm.status == statusException && vm.isInstance(vm.excValue, vm.k.stopIteration.typ)
}

// formatValue implements FORMAT_VALUE for f-strings.
func (vm *VM) formatValue(f *Frame, flags int) {
	spec := ""
	if flags&0x04 != 0 {
		spec = vm.pop(f).(*Str).s
	}
	v := vm.pop(f)
	var s string
	switch flags & 0x03 {
	case 2, 3:
		s = vm.repr(v)
	case 1:
		s = vm.str(v)
	default:
		if spec == "" {
			s = vm.str(v)
		} else {
			s = vm.format(v, spec)
		}
	}
	if vm.status == statusOK {
		f.push(vm.Str(s))
	}
}

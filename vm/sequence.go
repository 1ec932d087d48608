package vm

import (
	"github.com/chazu/pyrite/memory"
)

// Sequence is implemented by values that expose their items directly.
type Sequence interface {
	Value
	Items() []Value
}

// Iterator is implemented by builtin iterators. iterNext returns nil when
// exhausted; a pending exception distinguishes failure from exhaustion.
type Iterator interface {
	Value
	iterNext(vm *VM) Value
}

// ---------------------------------------------------------------------------
// Tuple and List
// ---------------------------------------------------------------------------

// Tuple is an immutable sequence.
type Tuple struct {
	Obj
	items []Value
}

func (t *Tuple) Trace(v memory.Visitor) {
	t.traceObj(v)
	visitValues(v, t.items)
}

// Items returns the elements.
func (t *Tuple) Items() []Value { return t.items }

// List is a mutable sequence.
type List struct {
	Obj
	items []Value
}

func (l *List) Trace(v memory.Visitor) {
	l.traceObj(v)
	visitValues(v, l.items)
}

// Items returns the elements.
func (l *List) Items() []Value { return l.items }

func (vm *VM) newTuple(items []Value) *Tuple {
	t := &Tuple{Obj: Obj{klass: vm.k.tuple}, items: items}
	vm.heap.Allocate(t, seqPayload(len(items)))
	return t
}

// NewTuple builds a tuple from items.
func (vm *VM) NewTuple(items ...Value) *Tuple {
	return vm.newTuple(append([]Value(nil), items...))
}

func (vm *VM) newList(items []Value) *List {
	l := &List{Obj: Obj{klass: vm.k.list}, items: items}
	vm.heap.Allocate(l, seqPayload(0)+2*wordBytes)
	return l
}

// NewList builds a list from items.
func (vm *VM) NewList(items ...Value) *List {
	return vm.newList(append([]Value(nil), items...))
}

// ---------------------------------------------------------------------------
// Slices
// ---------------------------------------------------------------------------

// Slice is the value built by BUILD_SLICE.
type Slice struct {
	Obj
	start, stop, step Value
}

func (s *Slice) Trace(v memory.Visitor) {
	s.traceObj(v)
	visitValues(v, []Value{s.start, s.stop, s.step})
}

func (vm *VM) newSlice(start, stop, step Value) *Slice {
	s := &Slice{Obj: Obj{klass: vm.k.slice}, start: start, stop: stop, step: step}
	vm.heap.Allocate(s, objPayload+3*wordBytes)
	return s
}

// indices resolves the slice against a sequence of length n.
func (vm *VM) sliceIndices(s *Slice, n int) (start, stop, step int, ok bool) {
	step = 1
	if s.step != nil && s.step != vm.None {
		st, isInt := AsInt(s.step)
		if !isInt {
			vm.raise(vm.k.typeError, "slice indices must be integers or None")
			return 0, 0, 0, false
		}
		if st == 0 {
			vm.raise(vm.k.valueError, "slice step cannot be zero")
			return 0, 0, 0, false
		}
		step = int(st)
	}
	bound := func(v Value, def int) (int, bool) {
		if v == nil || v == vm.None {
			return def, true
		}
		i, isInt := AsInt(v)
		if !isInt {
			vm.raise(vm.k.typeError, "slice indices must be integers or None")
			return 0, false
		}
		x := int(i)
		if x < 0 {
			x += n
			if x < 0 {
				if step < 0 {
					x = -1
				} else {
					x = 0
				}
			}
		} else if x >= n {
			if step < 0 {
				x = n - 1
			} else {
				x = n
			}
		}
		return x, true
	}
	if step > 0 {
		if start, ok = bound(s.start, 0); !ok {
			return
		}
		stop, ok = bound(s.stop, n)
	} else {
		if start, ok = bound(s.start, n-1); !ok {
			return
		}
		stop, ok = bound(s.stop, -1)
	}
	return
}

func sliceItems(items []Value, start, stop, step int) []Value {
	var out []Value
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, items[i])
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, items[i])
		}
	}
	return out
}

// normIndex resolves a possibly negative index, raising IndexError when it
// is out of range.
func (vm *VM) normIndex(idx Value, n int, what string) (int, bool) {
	i, ok := AsInt(idx)
	if !ok {
		vm.raise(vm.k.typeError, "%s indices must be integers, not %s", what, idx.Klass().name)
		return 0, false
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		vm.raise(vm.k.indexError, "%s index out of range", what)
		return 0, false
	}
	return int(i), true
}

// ---------------------------------------------------------------------------
// Builtin iterators
// ---------------------------------------------------------------------------

// SeqIter walks a tuple, list or str by index. Lists may grow during
// iteration.
type SeqIter struct {
	Obj
	seq Value
	i   int
}

func (it *SeqIter) Trace(v memory.Visitor) {
	it.traceObj(v)
	if it.seq != nil {
		v.VisitRef(it.seq)
	}
}

func (it *SeqIter) iterNext(vm *VM) Value {
	switch s := it.seq.(type) {
	case Sequence:
		items := s.Items()
		if it.i >= len(items) {
			return nil
		}
		it.i++
		return items[it.i-1]
	case *Str:
		r := []rune(s.s)
		if it.i >= len(r) {
			return nil
		}
		it.i++
		return vm.Str(string(r[it.i-1]))
	}
	return nil
}

// TableIter walks the keys (or, for items, the pairs) of a dict or set.
type TableIter struct {
	Obj
	src  Value
	t    *table
	i    int
	mode byte // 'k' keys, 'v' values, 'i' items
}

func (it *TableIter) Trace(v memory.Visitor) {
	it.traceObj(v)
	if it.src != nil {
		v.VisitRef(it.src)
	}
}

func (it *TableIter) iterNext(vm *VM) Value {
	if it.i >= it.t.len() {
		return nil
	}
	i := it.i
	it.i++
	switch it.mode {
	case 'v':
		return it.t.vals[i]
	case 'i':
		return vm.NewTuple(it.t.keys[i], it.t.vals[i])
	}
	return it.t.keys[i]
}

// RangeIter is the lazy integer sequence produced by xrange.
type RangeIter struct {
	Obj
	cur, stop, step int64
}

func (it *RangeIter) Trace(v memory.Visitor) { it.traceObj(v) }

func (it *RangeIter) iterNext(vm *VM) Value {
	if (it.step > 0 && it.cur >= it.stop) || (it.step < 0 && it.cur <= it.stop) {
		return nil
	}
	n := it.cur
	it.cur += it.step
	return vm.Int(n)
}

func (vm *VM) newSeqIter(seq Value) *SeqIter {
	it := &SeqIter{Obj: Obj{klass: vm.k.iterator}, seq: seq}
	vm.heap.Allocate(it, objPayload+2*wordBytes)
	return it
}

func (vm *VM) newTableIter(src Value, t *table, mode byte) *TableIter {
	it := &TableIter{Obj: Obj{klass: vm.k.iterator}, src: src, t: t, mode: mode}
	vm.heap.Allocate(it, objPayload+3*wordBytes)
	return it
}

func (vm *VM) newRangeIter(start, stop, step int64) *RangeIter {
	it := &RangeIter{Obj: Obj{klass: vm.k.iterator}, cur: start, stop: stop, step: step}
	vm.heap.Allocate(it, objPayload+3*wordBytes)
	return it
}

// ---------------------------------------------------------------------------
// Iteration helpers
// ---------------------------------------------------------------------------

// getIter implements iter(v): builtin iterators are returned as is,
// sequences and tables get a native iterator, everything else goes
// through __iter__.
func (vm *VM) getIter(v Value) Value {
	switch x := v.(type) {
	case Iterator:
		return x
	case *Tuple, *List, *Str:
		if findInKlass(v.Klass(), "__iter__") == vm.builtinIter(v) {
			return vm.newSeqIter(v)
		}
	case *Dict:
		if findInKlass(v.Klass(), "__iter__") == vm.builtinIter(v) {
			return vm.newTableIter(x, &x.t, 'k')
		}
	case *Set:
		return vm.newTableIter(x, &x.t, 'k')
	}
	return vm.callMethod(v, "__iter__")
}

// builtinIter returns the native __iter__ registered for v's builtin
// representation, so user overrides can be detected.
func (vm *VM) builtinIter(v Value) Value {
	switch v.(type) {
	case *Tuple:
		return vm.k.tuple.dict.GetStr("__iter__")
	case *List:
		return vm.k.list.dict.GetStr("__iter__")
	case *Str:
		return vm.k.str.dict.GetStr("__iter__")
	case *Dict:
		return vm.k.dict.dict.GetStr("__iter__")
	}
	return nil
}

// next advances an iterator. nil with no pending exception means
// exhaustion; a StopIteration raised while advancing is absorbed.
func (vm *VM) next(it Value) Value {
	var r Value
	if x, ok := it.(Iterator); ok {
		r = x.iterNext(vm)
	} else {
		r = vm.callMethod(it, "__next__")
	}
	if r == nil && vm.status == statusException && vm.isInstance(vm.excValue, vm.k.stopIteration.typ) {
		vm.clearException()
	}
	return r
}

// iterate calls fn on each element of v until fn returns false. Handles
// taken while processing one element are released before the next, so fn
// must store anything it keeps in a heap container. It reports false if an
// exception is pending afterwards.
func (vm *VM) iterate(v Value, fn func(item Value) bool) bool {
	if seq, ok := v.(Sequence); ok && vm.builtinIter(v) == findInKlass(v.Klass(), "__iter__") {
		items := seq.Items()
		for i := 0; i < len(items); i++ {
			mark := vm.heap.Mark()
			more := fn(items[i])
			vm.heap.Release(mark)
			if !more || vm.status == statusException {
				break
			}
			items = seq.Items()
		}
		return vm.status != statusException
	}
	it := vm.getIter(v)
	if it == nil {
		return false
	}
	vm.keep(it)
	for {
		mark := vm.heap.Mark()
		x := vm.next(it)
		if x == nil {
			vm.heap.Release(mark)
			return vm.status != statusException
		}
		more := fn(x)
		vm.heap.Release(mark)
		if !more || vm.status == statusException {
			return vm.status != statusException
		}
	}
}

// collect gathers the elements of an iterable.
func (vm *VM) collect(v Value) ([]Value, bool) {
	if seq, ok := v.(Sequence); ok && vm.builtinIter(v) == findInKlass(v.Klass(), "__iter__") {
		return append([]Value(nil), seq.Items()...), true
	}
	acc := vm.newList(nil)
	vm.keep(acc)
	ok := vm.iterate(v, func(x Value) bool {
		acc.items = append(acc.items, x)
		return true
	})
	return acc.items, ok
}

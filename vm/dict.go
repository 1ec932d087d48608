package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/pyrite/memory"
)

// ---------------------------------------------------------------------------
// Hash keys
// ---------------------------------------------------------------------------

// dictKey is the normalized Go map key of a hashable value. Equal numbers
// share a key regardless of representation; strings key by content;
// tuples key by their elements; everything else keys by identity.
type dictKey struct {
	kind byte
	n    int64
	s    string
	p    Value
}

// Hashable is implemented by values whose key depends on content.
type Hashable interface {
	Value
	hashKey() (dictKey, bool)
}

func (i *Int) hashKey() (dictKey, bool) { return dictKey{kind: 'i', n: i.v}, true }

func (b *Bool) hashKey() (dictKey, bool) {
	n, _ := AsInt(b)
	return dictKey{kind: 'i', n: n}, true
}

func (f *Float) hashKey() (dictKey, bool) {
	if isIntegral(f.v) {
		return dictKey{kind: 'i', n: int64(f.v)}, true
	}
	return dictKey{kind: 'f', n: int64(math.Float64bits(f.v))}, true
}

func (s *Str) hashKey() (dictKey, bool) { return dictKey{kind: 's', s: s.s}, true }

func (t *Tuple) hashKey() (dictKey, bool) {
	var b strings.Builder
	for _, item := range t.items {
		k, ok := keyOf(item)
		if !ok {
			return dictKey{}, false
		}
		switch k.kind {
		case 's':
			fmt.Fprintf(&b, "s%d:%s|", len(k.s), k.s)
		case 't':
			fmt.Fprintf(&b, "t%d:%s|", len(k.s), k.s)
		case 'p':
			fmt.Fprintf(&b, "p%p|", k.p)
		default:
			fmt.Fprintf(&b, "%c%d|", k.kind, k.n)
		}
	}
	return dictKey{kind: 't', s: b.String()}, true
}

// keyOf returns the key of v. Lists, dicts and sets are unhashable.
func keyOf(v Value) (dictKey, bool) {
	switch x := v.(type) {
	case Hashable:
		return x.hashKey()
	case *List, *Dict, *Set:
		return dictKey{}, false
	}
	return dictKey{kind: 'p', p: v}, true
}

func strKey(name string) dictKey { return dictKey{kind: 's', s: name} }

// ---------------------------------------------------------------------------
// Ordered hash table shared by dict and set
// ---------------------------------------------------------------------------

type table struct {
	keys  []Value
	vals  []Value
	index map[dictKey]int
}

func (t *table) len() int { return len(t.keys) }

func (t *table) find(k dictKey) int {
	if t.index == nil {
		return -1
	}
	if i, ok := t.index[k]; ok {
		return i
	}
	return -1
}

func (t *table) get(k dictKey) Value {
	if i := t.find(k); i >= 0 {
		return t.vals[i]
	}
	return nil
}

func (t *table) set(k dictKey, key, val Value) {
	if i := t.find(k); i >= 0 {
		t.vals[i] = val
		return
	}
	if t.index == nil {
		t.index = make(map[dictKey]int)
	}
	t.index[k] = len(t.keys)
	t.keys = append(t.keys, key)
	t.vals = append(t.vals, val)
}

func (t *table) del(k dictKey) bool {
	i := t.find(k)
	if i < 0 {
		return false
	}
	delete(t.index, k)
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	t.vals = append(t.vals[:i], t.vals[i+1:]...)
	for j := i; j < len(t.keys); j++ {
		kj, _ := keyOf(t.keys[j])
		t.index[kj] = j
	}
	return true
}

func (t *table) clear() {
	t.keys, t.vals, t.index = nil, nil, nil
}

func (t *table) trace(v memory.Visitor) {
	visitValues(v, t.keys)
	visitValues(v, t.vals)
}

// ---------------------------------------------------------------------------
// Dict and Set
// ---------------------------------------------------------------------------

// Dict is an insertion-ordered mapping.
type Dict struct {
	Obj
	t table
}

func (d *Dict) Trace(v memory.Visitor) {
	d.traceObj(v)
	d.t.trace(v)
}

// Len returns the number of entries.
func (d *Dict) Len() int { return d.t.len() }

// GetStr looks up a string key without allocating.
func (d *Dict) GetStr(name string) Value {
	if d == nil {
		return nil
	}
	return d.t.get(strKey(name))
}

// Range calls fn for each entry in insertion order until fn returns false.
func (d *Dict) Range(fn func(k, v Value) bool) {
	for i := 0; i < len(d.t.keys); i++ {
		if !fn(d.t.keys[i], d.t.vals[i]) {
			return
		}
	}
}

// Set is an insertion-ordered set.
type Set struct {
	Obj
	t table
}

func (s *Set) Trace(v memory.Visitor) {
	s.traceObj(v)
	s.t.trace(v)
}

// Len returns the number of members.
func (s *Set) Len() int { return s.t.len() }

func (vm *VM) newDict() *Dict {
	d := &Dict{Obj: Obj{klass: vm.k.dict}}
	vm.heap.Allocate(d, objPayload+2*wordBytes)
	return d
}

func (vm *VM) newSet() *Set {
	s := &Set{Obj: Obj{klass: vm.k.set}}
	vm.heap.Allocate(s, objPayload+2*wordBytes)
	return s
}

// hashKey returns the key of v, raising TypeError when v is unhashable.
func (vm *VM) hashKey(v Value) (dictKey, bool) {
	k, ok := keyOf(v)
	if !ok {
		vm.raise(vm.k.typeError, "unhashable type: '%s'", unhashable(v).Klass().name)
	}
	return k, ok
}

// unhashable finds the item that makes v unhashable, looking inside tuples.
func unhashable(v Value) Value {
	if t, ok := v.(*Tuple); ok {
		for _, item := range t.items {
			if _, ok := keyOf(item); !ok {
				return unhashable(item)
			}
		}
	}
	return v
}

// dictGet returns the value for key. A nil result with no pending
// exception means the key is absent.
func (vm *VM) dictGet(d *Dict, key Value) Value {
	k, ok := vm.hashKey(key)
	if !ok {
		return nil
	}
	return d.t.get(k)
}

func (vm *VM) dictSet(d *Dict, key, val Value) bool {
	k, ok := vm.hashKey(key)
	if ok {
		d.t.set(k, key, val)
	}
	return ok
}

func (vm *VM) dictDel(d *Dict, key Value) bool {
	k, ok := vm.hashKey(key)
	if !ok {
		return false
	}
	if !d.t.del(k) {
		vm.raise(vm.k.keyError, "%s", vm.repr(key))
		return false
	}
	return true
}

// dictSetStr stores val under an interned string key.
func (vm *VM) dictSetStr(d *Dict, name string, val Value) {
	k := strKey(name)
	if i := d.t.find(k); i >= 0 {
		d.t.vals[i] = val
		return
	}
	d.t.set(k, vm.intern(name), val)
}

func (vm *VM) setAdd(s *Set, v Value) bool {
	k, ok := vm.hashKey(v)
	if ok {
		s.t.set(k, v, nil)
	}
	return ok
}

func (vm *VM) setHas(s *Set, v Value) (bool, bool) {
	k, ok := vm.hashKey(v)
	if !ok {
		return false, false
	}
	return s.t.find(k) >= 0, true
}

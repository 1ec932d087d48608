package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/pyrite/memory"
)

// ---------------------------------------------------------------------------
// Klass: the metaobject behind every type
// ---------------------------------------------------------------------------

// Klass describes a type: its name, attribute dict, direct supers and MRO.
// Klasses live in metaspace and never move.
type Klass struct {
	memory.MetaHeader

	name   string
	dict   *Dict
	supers []*Type
	mro    []*Type // linearized ancestors, excluding the klass itself
	typ    *Type

	// construct overrides allocate_instance for builtin types whose
	// instances are immutable or converted from an argument.
	construct func(vm *VM, k *Klass, args []Value, kw *Dict) Value
}

// Name returns the klass name.
func (k *Klass) Name() string { return k.name }

// Type returns the first-class type object for the klass.
func (k *Klass) Type() *Type { return k.typ }

// MRO returns the linearized ancestor list, excluding k itself.
func (k *Klass) MRO() []*Type { return k.mro }

// Supers returns the declared base types.
func (k *Klass) Supers() []*Type { return k.supers }

// Trace visits the dict, supers, MRO and type object.
func (k *Klass) Trace(v memory.Visitor) {
	if k.dict != nil {
		v.VisitRef(k.dict)
	}
	for _, t := range k.supers {
		v.VisitRef(t)
	}
	for _, t := range k.mro {
		v.VisitRef(t)
	}
	if k.typ != nil {
		v.VisitRef(k.typ)
	}
}

// IsSubklass reports whether k is other or has other's type in its MRO.
func (k *Klass) IsSubklass(other *Klass) bool {
	if k == other {
		return true
	}
	for _, t := range k.mro {
		if t.own == other {
			return true
		}
	}
	return false
}

func (k *Klass) String() string { return fmt.Sprintf("<klass %s>", k.name) }

// klassMetaSize is the metaspace footprint of a klass.
func klassMetaSize(name string) int { return 6*wordBytes + len(name) }

// Type is the heap handle for a klass. isinstance and attribute search
// operate on the type objects recorded in a klass's MRO.
type Type struct {
	Obj
	own *Klass
}

// Own returns the klass the type stands for.
func (t *Type) Own() *Klass { return t.own }

func (t *Type) Trace(v memory.Visitor) {
	t.traceObj(v)
	if t.own != nil {
		v.VisitKlass(t.own)
	}
}

// ---------------------------------------------------------------------------
// Klass construction
// ---------------------------------------------------------------------------

// allocKlass places a new klass in metaspace. Running out of metaspace is
// fatal.
func (vm *VM) allocKlass(name string) *Klass {
	k := &Klass{name: name}
	if !vm.heap.AllocateMeta(k, klassMetaSize(name)) {
		fatalf("metaspace exhausted allocating klass %s", name)
	}
	return k
}

// finishKlass gives k its dict and type object. The dict may be supplied
// by a class body.
func (vm *VM) finishKlass(k *Klass, dict *Dict) {
	if dict == nil {
		dict = vm.newDict()
	}
	k.dict = dict
	t := &Type{Obj: Obj{klass: vm.k.typ}, own: k}
	vm.heap.Allocate(t, objPayload+wordBytes)
	k.typ = t
}

// setSupers records the bases and computes the MRO. It runs once per
// klass.
func (vm *VM) setSupers(k *Klass, supers []*Type) {
	if k.mro != nil {
		fatalf("klass %s: MRO already computed", k.name)
	}
	k.supers = supers
	mro, err := vm.linearize(k)
	if err != nil {
		fatalf("%s", err)
	}
	k.mro = mro
}

// newKlass creates a user klass: build_class minus running the body.
func (vm *VM) newKlass(name string, supers []*Type, dict *Dict) *Klass {
	if len(supers) == 0 {
		supers = []*Type{vm.k.object.typ}
	}
	k := vm.allocKlass(name)
	vm.finishKlass(k, dict)
	vm.setSupers(k, supers)
	return k
}

// ---------------------------------------------------------------------------
// MRO linearization
// ---------------------------------------------------------------------------

// MRO strategies.
const (
	MROC3     = "c3"
	MROSimple = "simple"
)

// MROConflictError reports a hierarchy that cannot be linearized.
type MROConflictError struct {
	Klass string
	Bases []string
}

func (e *MROConflictError) Error() string {
	return fmt.Sprintf("cannot create a consistent method resolution order (MRO) for %s(%s)",
		e.Klass, strings.Join(e.Bases, ", "))
}

func (vm *VM) linearize(k *Klass) ([]*Type, error) {
	if vm.config.MRO == MROSimple {
		return mroSimple(k)
	}
	return mroC3(k)
}

func conflict(k *Klass) error {
	names := make([]string, len(k.supers))
	for i, t := range k.supers {
		names[i] = t.own.name
	}
	return &MROConflictError{Klass: k.name, Bases: names}
}

// mroC3 computes the C3 linearization of k's bases. The result excludes k.
func mroC3(k *Klass) ([]*Type, error) {
	seqs := make([][]*Type, 0, len(k.supers)+1)
	for _, b := range k.supers {
		seq := make([]*Type, 0, len(b.own.mro)+1)
		seq = append(seq, b)
		seq = append(seq, b.own.mro...)
		seqs = append(seqs, seq)
	}
	seqs = append(seqs, append([]*Type(nil), k.supers...))

	res := mroMerge(seqs)
	if res == nil && len(k.supers) > 0 {
		return nil, conflict(k)
	}
	return res, nil
}

// mroMerge repeatedly takes the first head that appears in no tail.
func mroMerge(seqs [][]*Type) []*Type {
	var res []*Type
	for {
		nonEmpty := false
		var cand *Type
		for _, seq := range seqs {
			if len(seq) == 0 {
				continue
			}
			nonEmpty = true
			cand = seq[0]
			for _, other := range seqs {
				for _, t := range other[min(1, len(other)):] {
					if t == cand {
						cand = nil
						break
					}
				}
				if cand == nil {
					break
				}
			}
			if cand != nil {
				break
			}
		}
		if !nonEmpty {
			return res
		}
		if cand == nil {
			return nil
		}
		res = append(res, cand)
		for i, seq := range seqs {
			if len(seq) > 0 && seq[0] == cand {
				seqs[i] = seq[1:]
			}
		}
	}
}

// mroSimple is the left-to-right merge: each base is followed by its own
// MRO, and an ancestor already present moves to the end. Meeting an
// ancestor placed before the previously found one is a conflict. Base
// MROs are never modified.
func mroSimple(k *Klass) ([]*Type, error) {
	var res []*Type
	cur := -1
	place := func(t *Type) bool {
		if idx := indexType(res, t); idx >= 0 {
			if idx < cur {
				return false
			}
			cur = idx
			res = append(res[:idx], res[idx+1:]...)
		}
		res = append(res, t)
		return true
	}
	for _, b := range k.supers {
		if !place(b) {
			return nil, conflict(k)
		}
		for _, t := range b.own.mro {
			if !place(t) {
				return nil, conflict(k)
			}
		}
	}
	return res, nil
}

func indexType(ts []*Type, t *Type) int {
	for i, x := range ts {
		if x == t {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Attribute lookup along the MRO
// ---------------------------------------------------------------------------

// findInKlass searches k's dict and then each MRO entry's dict. It does
// not bind functions.
func findInKlass(k *Klass, name string) Value {
	if v := k.dict.GetStr(name); v != nil {
		return v
	}
	for _, t := range k.mro {
		if v := t.own.dict.GetStr(name); v != nil {
			return v
		}
	}
	return nil
}

// lookup is findInKlass through the method cache.
func (vm *VM) lookup(k *Klass, name string) Value {
	if v, ok := vm.cache.get(k, name); ok {
		return v
	}
	v := findInKlass(k, name)
	vm.cache.put(k, name, v)
	return v
}

// isFunction reports whether v is a function or has function in its MRO.
func (vm *VM) isFunction(v Value) bool {
	if v == nil {
		return false
	}
	return v.Klass().IsSubklass(vm.k.function)
}

// isInstance reports whether v's klass is t or has t in its MRO.
func (vm *VM) isInstance(v Value, t *Type) bool {
	return v.Klass().IsSubklass(t.own)
}

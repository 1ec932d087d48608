package memory

import (
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Cheney scavenger
// ---------------------------------------------------------------------------

// scavenger copies every object reachable from the roots out of the
// from-space. It implements Visitor.
type scavenger struct {
	heap  *Heap
	from  *Space
	to    *Space
	epoch uint32

	stack []Object

	copied  int
	live    int
	rescued int
}

func newScavenger(h *Heap) *scavenger {
	return &scavenger{
		heap:  h,
		from:  h.eden,
		to:    h.survivor,
		epoch: h.cycles + 1,
		stack: make([]Object, 0, 128),
	}
}

func (s *scavenger) run() {
	// step 1: roots
	for _, r := range s.heap.roots {
		r.TraceRoots(s)
	}
	for _, o := range s.heap.handles {
		s.VisitRef(o)
	}

	// step 2: drain the worklist
	for len(s.stack) > 0 {
		o := s.stack[len(s.stack)-1]
		s.stack[len(s.stack)-1] = nil
		s.stack = s.stack[:len(s.stack)-1]
		o.Trace(s)
	}
}

// VisitRef copies o into to-space the first time it is reached. A second
// visit finds the block already relocated and leaves it alone.
func (s *scavenger) VisitRef(o Object) {
	if o == nil {
		return
	}
	h := o.ObjHeader()
	if h == nil || h.addr == 0 || h.epoch == s.epoch {
		return
	}

	if s.from.Contains(h.addr) {
		if fwd, ok := DecodeForward(s.from.word(h.addr)); ok {
			h.addr = fwd
			h.epoch = s.epoch
			return
		}
		s.copyAndPush(o, h)
		return
	}

	// Not in from-space and not copied this cycle: an earlier collection
	// never saw it.
	if s.heap.verify {
		panic(errors.Wrapf(ErrStaleReference, "object at %#x (epoch %d, collection %d)",
			uint64(h.addr), h.epoch, s.epoch))
	}
	s.rescue(o, h)
}

func (s *scavenger) copyAndPush(o Object, h *Header) {
	size := int(h.size)
	target := s.to.alloc(size)
	copy(s.to.Bytes(target, size), s.from.Bytes(h.addr, size))
	s.from.setWord(h.addr, EncodeForward(target))

	h.addr = target
	h.epoch = s.epoch
	s.copied += size
	s.live++
	s.stack = append(s.stack, o)
}

// rescue gives a stale object a fresh block so that it survives from now
// on. Its old block may already have been reused, so only the header words
// are rebuilt.
func (s *scavenger) rescue(o Object, h *Header) {
	size := int(h.size)
	target := s.to.alloc(size)
	s.to.setWord(target, 0)
	s.to.setWord(target+wordSize, uint64(size))
	h.addr = target
	h.epoch = s.epoch
	s.copied += size
	s.live++
	s.rescued++
	s.stack = append(s.stack, o)
	log.Debugf("rescued stale object of %d bytes", size)
}

// VisitRaw copies the buffer verbatim into to-space.
func (s *scavenger) VisitRaw(r *Raw) {
	if r == nil || len(r.data) == 0 || r.epoch == s.epoch {
		return
	}
	if !s.from.Contains(r.addr) && s.heap.verify {
		panic(errors.Wrapf(ErrStaleReference, "raw buffer at %#x", uint64(r.addr)))
	}
	n := len(r.data)
	target := s.to.alloc(n)
	buf := s.to.Bytes(target, n)
	copy(buf, r.data)
	r.addr = target
	r.data = buf
	r.epoch = s.epoch
	s.copied += alignUp(n, wordSize)
}

// VisitKlass traces a metaspace resident once per cycle. It is never
// moved.
func (s *scavenger) VisitKlass(m Meta) {
	if m == nil {
		return
	}
	mh := m.MetaHdr()
	if mh == nil || mh.epoch == s.epoch {
		return
	}
	mh.epoch = s.epoch
	m.Trace(s)
}

package memory

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pyrite.memory")

// ErrHeapExhausted is the cause of the panic raised when an allocation
// still does not fit after a collection.
var ErrHeapExhausted = errors.New("heap exhausted")

// ErrStaleReference is the cause of the panic raised in verify mode when
// the scavenger meets an object that an earlier collection missed.
var ErrStaleReference = errors.New("stale heap reference")

// Synthetic bases keep the three spaces in disjoint address ranges.
const (
	edenBase      Addr = 0x1000_0000
	survivorBase  Addr = 0x2000_0000
	metaspaceBase Addr = 0x4000_0000
)

// DefaultSemispaceSize is the size of each semispace when none is
// configured.
const DefaultSemispaceSize = 4 << 20

// Config sizes a heap.
type Config struct {
	SemispaceSize int  // bytes per semispace
	MetaspaceSize int  // 0 means SemispaceSize/16
	Verify        bool // stale references are fatal instead of rescued
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap owns the eden, survivor and metaspace regions.
type Heap struct {
	eden      *Space
	survivor  *Space
	metaspace *Space

	verify bool
	cycles uint32

	roots   []RootSet
	handles []Object
	hooks   []func(CollectStats)

	stats *Stats
	trace *TraceWriter

	collecting bool
}

// NewHeap creates a heap with two semispaces and a metaspace.
func NewHeap(cfg Config) *Heap {
	size := cfg.SemispaceSize
	if size <= 0 {
		size = DefaultSemispaceSize
	}
	size = alignUp(size, spaceAlign)
	meta := cfg.MetaspaceSize
	if meta <= 0 {
		meta = size / 16
	}
	meta = alignUp(meta, spaceAlign)

	h := &Heap{
		eden:      newSpace("eden", edenBase, size),
		survivor:  newSpace("survivor", survivorBase, size),
		metaspace: newSpace("metaspace", metaspaceBase, meta),
		verify:    cfg.Verify,
		handles:   make([]Object, 0, 256),
	}
	h.stats = newStats(h)
	return h
}

// Eden returns the space new objects are allocated in.
func (h *Heap) Eden() *Space { return h.eden }

// Survivor returns the idle semispace.
func (h *Heap) Survivor() *Space { return h.survivor }

// Metaspace returns the non-moving klass region.
func (h *Heap) Metaspace() *Space { return h.metaspace }

// Cycles returns the number of completed collections.
func (h *Heap) Cycles() int { return int(h.cycles) }

// Stats returns the heap statistics.
func (h *Heap) Stats() *Stats { return h.stats }

// SetTrace installs a writer that receives one record per collection.
func (h *Heap) SetTrace(w *TraceWriter) { h.trace = w }

// AddRoots registers a root provider. Providers are enumerated in
// registration order.
func (h *Heap) AddRoots(r RootSet) {
	h.roots = append(h.roots, r)
}

// OnCollect registers a hook that runs after every collection.
func (h *Heap) OnCollect(fn func(CollectStats)) {
	h.hooks = append(h.hooks, fn)
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate gives o a block in eden with room for payload bytes after the
// block header. If eden is full it collects once and retries; a second
// failure panics with ErrHeapExhausted. The new object is recorded in the
// handle area until the enclosing scope is released.
func (h *Heap) Allocate(o Object, payload int) {
	size := BlockSize(payload)
	h.ensure(size)

	hdr := o.ObjHeader()
	hdr.addr = h.eden.alloc(size)
	hdr.size = uint32(size)
	hdr.epoch = h.cycles
	h.eden.setWord(hdr.addr, 0)
	h.eden.setWord(hdr.addr+wordSize, uint64(size))
	h.handles = append(h.handles, o)
	h.stats.allocated(size)
}

// NewRaw copies data into a fresh eden buffer.
func (h *Heap) NewRaw(data []byte) Raw {
	if len(data) == 0 {
		return Raw{}
	}
	h.ensure(len(data))
	addr := h.eden.alloc(len(data))
	buf := h.eden.Bytes(addr, len(data))
	copy(buf, data)
	h.stats.allocated(len(data))
	return Raw{addr: addr, epoch: h.cycles, data: buf}
}

func (h *Heap) ensure(size int) {
	if h.collecting {
		panic("memory: allocation during collection")
	}
	if h.eden.CanAlloc(size) {
		return
	}
	h.Collect()
	if !h.eden.CanAlloc(size) {
		panic(errors.Wrapf(ErrHeapExhausted, "need %d bytes, %d free of %d after collection",
			size, h.eden.Capacity(), h.eden.Size()))
	}
}

// AllocateMeta gives m a block in metaspace. It never collects; false is
// returned when metaspace is exhausted.
func (h *Heap) AllocateMeta(m Meta, size int) bool {
	size = BlockSize(size)
	if !h.metaspace.CanAlloc(size) {
		log.Warningf("metaspace exhausted: need %d bytes, %d free", size, h.metaspace.Capacity())
		return false
	}
	mh := m.MetaHdr()
	mh.addr = h.metaspace.alloc(size)
	mh.size = uint32(size)
	return true
}

// Forwarded reads the mark word left at an address of the previous eden.
// It reports the address the object was copied to by the last collection.
// The answer is only meaningful until the survivor space is reused.
func (h *Heap) Forwarded(old Addr) (Addr, bool) {
	if !h.survivor.Contains(old) {
		return 0, false
	}
	return DecodeForward(h.survivor.word(old))
}

// ---------------------------------------------------------------------------
// Handle area
// ---------------------------------------------------------------------------

// Mark returns the current depth of the handle area.
func (h *Heap) Mark() int { return len(h.handles) }

// Release drops every handle recorded after mark.
func (h *Heap) Release(mark int) {
	if mark < len(h.handles) {
		clear(h.handles[mark:])
		h.handles = h.handles[:mark]
	}
}

// Keep roots objects until the enclosing scope is released. Nil entries
// are skipped.
func (h *Heap) Keep(objs ...Object) {
	for _, o := range objs {
		if o != nil {
			h.handles = append(h.handles, o)
		}
	}
}

// Handles returns the number of live handles.
func (h *Heap) Handles() int { return len(h.handles) }

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// Collect runs one stop-the-world scavenge from eden into survivor and
// then swaps the two spaces.
func (h *Heap) Collect() {
	if h.collecting {
		panic("memory: recursive collection")
	}
	h.collecting = true
	start := time.Now()
	before := h.eden.Used()

	s := newScavenger(h)
	s.run()

	h.eden, h.survivor = h.survivor, h.eden
	h.survivor.reset(false)
	h.eden.name, h.survivor.name = "eden", "survivor"
	h.cycles = s.epoch
	h.collecting = false

	cs := CollectStats{
		Seq:        int(h.cycles),
		Start:      start,
		Pause:      time.Since(start),
		Copied:     s.copied,
		Live:       s.live,
		Rescued:    s.rescued,
		EdenBefore: before,
		EdenAfter:  h.eden.Used(),
		MetaUsed:   h.metaspace.Used(),
	}
	h.stats.collected(cs)
	log.Debug("collection finished",
		"collection", cs.Seq, "live", cs.Live, "copied", cs.Copied, "duration", cs.Pause)

	if h.trace != nil {
		if err := h.trace.Write(cs); err != nil {
			log.Errorf("gc trace: %s", err)
		}
	}
	for _, fn := range h.hooks {
		fn(cs)
	}
}

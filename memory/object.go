// Package memory implements the pyrite heap: two equal semispaces with a
// bump allocator, a non-moving metaspace for klass metadata, and a
// stop-the-world Cheney scavenger.
//
// Heap values are ordinary Go structs. Each one owns a block inside the
// current eden arena; the block's first word is the mark (forwarding)
// word and its header records where the block currently lives. The
// collector relocates blocks and rewrites headers, so a Go pointer to a
// heap value stays a stable handle across collections.
package memory

// Addr is an address inside one of the heap's spaces.
type Addr uint64

// ---------------------------------------------------------------------------
// Object headers
// ---------------------------------------------------------------------------

// Header is embedded in every heap-allocated value.
type Header struct {
	addr  Addr
	size  uint32
	epoch uint32
}

// ObjHeader returns the header itself, so embedding types satisfy Object.
func (h *Header) ObjHeader() *Header { return h }

// Addr returns the current address of the object's block.
func (h *Header) Addr() Addr { return h.addr }

// Size returns the size in bytes of the object's block.
func (h *Header) Size() int { return int(h.size) }

// Allocated reports whether the object has been given a block.
func (h *Header) Allocated() bool { return h.addr != 0 }

// MetaHeader is embedded in metaspace residents (klasses).
type MetaHeader struct {
	addr  Addr
	size  uint32
	epoch uint32
}

// MetaHdr returns the header itself, so embedding types satisfy Meta.
func (h *MetaHeader) MetaHdr() *MetaHeader { return h }

// Addr returns the metaspace address of the block.
func (h *MetaHeader) Addr() Addr { return h.addr }

// ---------------------------------------------------------------------------
// Tracing protocol
// ---------------------------------------------------------------------------

// Object is anything the scavenger can relocate.
type Object interface {
	ObjHeader() *Header
	// Trace reports every reference the object holds.
	Trace(v Visitor)
}

// Meta is a non-moving metaspace resident that may still hold references
// into the moving spaces.
type Meta interface {
	MetaHdr() *MetaHeader
	Trace(v Visitor)
}

// Visitor receives the references reported by Trace.
type Visitor interface {
	// VisitRef visits a reference to a heap object. Nil is ignored.
	VisitRef(o Object)
	// VisitRaw relocates an untraced byte buffer verbatim.
	VisitRaw(r *Raw)
	// VisitKlass visits a metaspace resident without moving it.
	VisitKlass(m Meta)
}

// RootSet enumerates references that keep objects alive.
type RootSet interface {
	TraceRoots(v Visitor)
}

// RootFunc adapts a function to RootSet.
type RootFunc func(v Visitor)

// TraceRoots calls f(v).
func (f RootFunc) TraceRoots(v Visitor) { f(v) }

// ---------------------------------------------------------------------------
// Raw buffers
// ---------------------------------------------------------------------------

// Raw is an untraced byte buffer living in the eden arena. The scavenger
// copies it byte for byte and never interprets its contents.
type Raw struct {
	addr  Addr
	epoch uint32
	data  []byte
}

// Bytes returns the buffer contents. The slice is only valid until the
// next collection.
func (r *Raw) Bytes() []byte { return r.data }

// Len returns the buffer length.
func (r *Raw) Len() int { return len(r.data) }

// Addr returns the current address of the buffer.
func (r *Raw) Addr() Addr { return r.addr }

// ---------------------------------------------------------------------------
// Forwarding words
// ---------------------------------------------------------------------------

const forwardTag = 1

// EncodeForward builds the mark word that forwards to addr.
func EncodeForward(addr Addr) uint64 {
	return uint64(addr) | forwardTag
}

// DecodeForward extracts the forwarding address from a mark word. The
// second result is false for an unforwarded (zero or untagged) word.
func DecodeForward(word uint64) (Addr, bool) {
	if word&forwardTag == 0 {
		return 0, false
	}
	return Addr(word &^ 7), true
}

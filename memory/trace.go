package memory

import (
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// GC trace: one CBOR record per collection
// ---------------------------------------------------------------------------

// TraceRecord is the on-disk form of a collection.
type TraceRecord struct {
	Run        string    `cbor:"run"`
	Seq        int       `cbor:"seq"`
	Start      time.Time `cbor:"start"`
	PauseNanos int64     `cbor:"pause_ns"`
	Copied     int       `cbor:"copied"`
	Live       int       `cbor:"live"`
	EdenBefore int       `cbor:"eden_before"`
	EdenAfter  int       `cbor:"eden_after"`
	MetaUsed   int       `cbor:"meta_used"`
}

// TraceWriter streams trace records to w.
type TraceWriter struct {
	run string
	enc *cbor.Encoder
	n   int
}

// NewTraceWriter returns a writer that stamps every record with run.
func NewTraceWriter(w io.Writer, run string) *TraceWriter {
	return &TraceWriter{run: run, enc: cbor.NewEncoder(w)}
}

// Write encodes one record.
func (t *TraceWriter) Write(cs CollectStats) error {
	rec := TraceRecord{
		Run:        t.run,
		Seq:        cs.Seq,
		Start:      cs.Start,
		PauseNanos: cs.Pause.Nanoseconds(),
		Copied:     cs.Copied,
		Live:       cs.Live,
		EdenBefore: cs.EdenBefore,
		EdenAfter:  cs.EdenAfter,
		MetaUsed:   cs.MetaUsed,
	}
	if err := t.enc.Encode(rec); err != nil {
		return errors.Wrapf(err, "encode trace record %d", cs.Seq)
	}
	t.n++
	return nil
}

// Records returns the number of records written.
func (t *TraceWriter) Records() int { return t.n }

// ReadTrace decodes every record in r.
func ReadTrace(r io.Reader) ([]TraceRecord, error) {
	dec := cbor.NewDecoder(r)
	var out []TraceRecord
	for {
		var rec TraceRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, errors.Wrapf(err, "decode trace record %d", len(out))
		}
		out = append(out, rec)
	}
}

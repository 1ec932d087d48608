package memory

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceRecordsEachCollection(t *testing.T) {
	var buf bytes.Buffer
	h := NewHeap(Config{SemispaceSize: 4096})
	tw := NewTraceWriter(&buf, "run-1")
	h.SetTrace(tw)

	r := &roots{}
	h.AddRoots(r)
	r.objs = append(r.objs, chain(h, 3))
	h.Release(0)

	h.Collect()
	h.Collect()
	require.Equal(t, 2, tw.Records())

	recs, err := ReadTrace(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for i, rec := range recs {
		assert.Equal(t, "run-1", rec.Run)
		assert.Equal(t, i+1, rec.Seq)
		assert.Equal(t, 3, rec.Live)
		assert.Equal(t, rec.EdenAfter, recs[0].EdenAfter)
	}
}

func TestReadTraceEmpty(t *testing.T) {
	recs, err := ReadTrace(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

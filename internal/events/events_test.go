package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seqs(evs []Event) []uint64 {
	out := make([]uint64, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Seq)
	}
	return out
}

func TestRingPull(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 6; i++ {
		r.Push(Event{Topic: "t"})
	}
	assert.EqualValues(t, 6, r.Last())

	// первые два вытеснены
	assert.Equal(t, []uint64{3, 4, 5, 6}, seqs(r.Pull(0, 100)))
	assert.Equal(t, []uint64{5, 6}, seqs(r.Pull(4, 100)))
	assert.Equal(t, []uint64{3, 4}, seqs(r.Pull(0, 2)))
	assert.Empty(t, r.Pull(6, 100))
}

func TestRingSetsTime(t *testing.T) {
	r := NewRing(2)
	r.Push(Event{Topic: "t"})
	evs := r.Pull(0, 1)
	assert.False(t, evs[0].Time.IsZero())
}

// internal/engine/bag_test.go
package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drawN(b *Bag, n int) []Kind {
	out := make([]Kind, n)
	for i := range out {
		out[i] = b.Next()
	}
	return out
}

// Every aligned window of seven draws must be a permutation of the seven
// kinds: the generator concatenates shuffled bags, it never samples freely.
func TestBagEverySevenIsAPermutation(t *testing.T) {
	b := NewBag(12345)
	seq := drawN(b, 70)

	for start := 0; start < len(seq); start += 7 {
		seen := make(map[Kind]int)
		for _, k := range seq[start : start+7] {
			seen[k]++
		}
		require.Len(t, seen, 7, "bag starting at draw %d repeats a kind", start)
		for _, k := range Kinds {
			assert.Equal(t, 1, seen[k], "kind %s in bag starting at draw %d", k, start)
		}
	}
}

func TestBagSameSeedSameSequence(t *testing.T) {
	a := NewBag(42)
	b := NewBag(42)
	require.Equal(t, drawN(a, 140), drawN(b, 140))
}

func TestBagDifferentSeedsDiverge(t *testing.T) {
	a := drawN(NewBag(1), 70)
	b := drawN(NewBag(2), 70)
	assert.NotEqual(t, a, b)
}

func TestBagPeekDoesNotConsume(t *testing.T) {
	b := NewBag(7)
	preview := b.Peek(5)
	require.Len(t, preview, 5)

	for i, want := range preview {
		assert.Equal(t, want, b.Next(), "draw %d disagrees with the earlier peek", i)
	}
}

// internal/engine/bag.go
package engine

// previewCount is how many upcoming kinds a snapshot previews. The bag is
// refilled whenever fewer than previewCount+1 kinds remain queued so that the
// preview never shortens.
const previewCount = 3

// Bag is the 7-bag piece source: an infinite sequence built by appending
// independently shuffled permutations of the seven kinds. It is driven by a
// splitmix64 generator so that the same seed yields the identical sequence on
// every platform; never substitute a platform-dependent PRNG here.
type Bag struct {
	state uint64
	queue []Kind
}

// NewBag returns a bag seeded with the shared match seed.
func NewBag(seed int64) *Bag {
	return &Bag{state: uint64(seed)}
}

// next64 advances the splitmix64 state and returns the next 64-bit value.
func (b *Bag) next64() uint64 {
	b.state += 0x9E3779B97F4A7C15
	z := b.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// refill appends one freshly shuffled permutation of the seven kinds.
func (b *Bag) refill() {
	perm := Kinds
	// Fisher-Yates, high-to-low
	for i := len(perm) - 1; i > 0; i-- {
		j := int(b.next64() % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	b.queue = append(b.queue, perm[:]...)
}

// ensure tops the queue up to at least n kinds.
func (b *Bag) ensure(n int) {
	for len(b.queue) < n {
		b.refill()
	}
}

// Next consumes and returns the next kind.
func (b *Bag) Next() Kind {
	b.ensure(previewCount + 1)
	k := b.queue[0]
	b.queue = b.queue[1:]
	return k
}

// Peek returns the next n kinds without consuming them.
func (b *Bag) Peek(n int) []Kind {
	b.ensure(n)
	out := make([]Kind, n)
	copy(out, b.queue[:n])
	return out
}

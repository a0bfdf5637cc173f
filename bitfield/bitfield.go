// Package bitfield wraps go-bitmap to give per-meta chunk-presence vectors a
// named type instead of passing a bare bitmap.Bitmap around.
package bitfield

import bitmap "github.com/boljen/go-bitmap"

// Bitfield is a presence vector: bit i is set iff chunk i is fully held.
type Bitfield struct {
	bits bitmap.Bitmap
	n    int
}

// New returns a Bitfield of n bits, all clear.
func New(n int) Bitfield {
	return Bitfield{bits: bitmap.New(n), n: n}
}

// FromBytes wraps an already-encoded bitfield of n bits, as received from a
// remote peer's advertisement.
func FromBytes(data []byte, n int) Bitfield {
	return Bitfield{bits: bitmap.Bitmap(data), n: n}
}

// Len returns the number of chunks this bitfield describes.
func (b Bitfield) Len() int { return b.n }

// Has reports whether chunk i is marked present.
func (b Bitfield) Has(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.bits.Get(i)
}

// Set marks chunk i present.
func (b Bitfield) Set(i int) {
	if i < 0 || i >= b.n {
		return
	}
	b.bits.Set(i, true)
}

// Bytes returns the packed byte representation, suitable for sending to a
// peer as a wire-level advertisement (framing itself is out of scope here).
func (b Bitfield) Bytes() []byte { return b.bits.Data(true) }

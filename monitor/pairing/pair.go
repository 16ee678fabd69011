// Package pairing ranks catalog candidates against a reference scene and
// derives the canonical identity of each candidate pair.
package pairing

import (
	"github.com/example/go-itslive/monitor/scene"
)

// KeySeparator joins the two scene ids of a pair key.
const KeySeparator = "_X_"

// Key returns the canonical, order-independent identity of a pair.
func Key(a, b string) string {
	lo, hi := Canonical(a, b)
	return lo + KeySeparator + hi
}

// Canonical returns the two ids in lexicographic order.
func Canonical(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Pair is a reference scene matched with one candidate secondary.
type Pair struct {
	Reference scene.Descriptor
	Secondary scene.Descriptor
	Key       string
}

// NewPair builds a pair with its canonical key.
func NewPair(reference, secondary scene.Descriptor) Pair {
	return Pair{
		Reference: reference,
		Secondary: secondary,
		Key:       Key(reference.ID(), secondary.ID()),
	}
}

// Granules returns the two scene ids in canonical order, the order used when
// the pair is submitted so that artifact names embed the key.
func (p Pair) Granules() [2]string {
	lo, hi := Canonical(p.Reference.ID(), p.Secondary.ID())
	return [2]string{lo, hi}
}

// Mission returns the mission of the pair's reference scene.
func (p Pair) Mission() scene.Mission {
	return p.Reference.Mission()
}

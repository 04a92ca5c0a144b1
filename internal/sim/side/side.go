// Package side names the six faces of a machine relative to the way it is
// facing and keeps sets of them in a single byte.
package side

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/df-mc/dragonfly/server/block/cube"
)

type RelativeSide uint8

const (
	Front RelativeSide = iota
	Back
	Top
	Bottom
	Left
	Right

	sideCount
)

var names = [sideCount]string{"FRONT", "BACK", "TOP", "BOTTOM", "LEFT", "RIGHT"}

func (r RelativeSide) String() string {
	if r >= sideCount {
		return fmt.Sprintf("RelativeSide(%d)", uint8(r))
	}
	return names[r]
}

// Parse accepts the upper case enum name.
func Parse(name string) (RelativeSide, bool) {
	for i, n := range names {
		if n == strings.ToUpper(strings.TrimSpace(name)) {
			return RelativeSide(i), true
		}
	}
	return 0, false
}

// All returns every side in enum order.
func All() []RelativeSide {
	out := make([]RelativeSide, 0, sideCount)
	for r := Front; r < sideCount; r++ {
		out = append(out, r)
	}
	return out
}

// Set is a bitset over RelativeSide.
type Set uint8

const allMask = Set(1<<sideCount - 1)

func AllSides() Set { return allMask }

func Of(rs ...RelativeSide) Set {
	var s Set
	for _, r := range rs {
		s.Add(r)
	}
	return s
}

func (s *Set) Add(r RelativeSide) {
	if r < sideCount {
		*s |= 1 << r
	}
}

func (s *Set) Remove(r RelativeSide) { *s &^= 1 << r }

func (s Set) Has(r RelativeSide) bool { return r < sideCount && s&(1<<r) != 0 }

func (s Set) Count() int { return bits.OnesCount8(uint8(s & allMask)) }

// Sides lists the members in enum order.
func (s Set) Sides() []RelativeSide {
	out := make([]RelativeSide, 0, s.Count())
	for r := Front; r < sideCount; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s Set) Names() []string {
	out := make([]string, 0, s.Count())
	for _, r := range s.Sides() {
		out = append(out, r.String())
	}
	return out
}

// ParseNames rebuilds a set from enum names. Unknown names are an error.
func ParseNames(in []string) (Set, error) {
	var s Set
	for _, n := range in {
		r, ok := Parse(n)
		if !ok {
			return 0, fmt.Errorf("unknown side %q", n)
		}
		s.Add(r)
	}
	return s, nil
}

// Orientation maps relative sides of a horizontally placed block to world faces.
type Orientation struct {
	Facing cube.Direction
}

func (o Orientation) Face(r RelativeSide) cube.Face {
	switch r {
	case Front:
		return o.Facing.Face()
	case Back:
		return o.Facing.Opposite().Face()
	case Top:
		return cube.FaceUp
	case Bottom:
		return cube.FaceDown
	case Left:
		return o.Facing.RotateLeft().Face()
	default:
		return o.Facing.RotateRight().Face()
	}
}

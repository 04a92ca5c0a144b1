// Package energy models AE power storage: bounded buffers that are probed
// with Simulate and drawn from with Modulate.
package energy

import "math"

type Actionable int

const (
	Modulate Actionable = iota
	Simulate
)

func (a Actionable) String() string {
	if a == Simulate {
		return "SIMULATE"
	}
	return "MODULATE"
}

// PowerMultiplier converts between requested and stored power units.
type PowerMultiplier float64

const One PowerMultiplier = 1

func (m PowerMultiplier) Multiply(v float64) float64 {
	if m <= 0 {
		return v
	}
	return v * float64(m)
}

func (m PowerMultiplier) Divide(v float64) float64 {
	if m <= 0 {
		return v
	}
	return v / float64(m)
}

// Source is anything a machine can draw power from.
type Source interface {
	ExtractAEPower(amount float64, mode Actionable, mult PowerMultiplier) float64
}

// Buffer is a bounded power store. It backs both a machine's internal
// storage and the grid-wide energy service.
type Buffer struct {
	stored float64
	max    float64
	drawn  float64
}

func NewBuffer(capacity, initial float64) *Buffer {
	b := &Buffer{max: math.Max(0, capacity)}
	b.stored = math.Min(math.Max(0, initial), b.max)
	return b
}

func (b *Buffer) Stored() float64 { return b.stored }
func (b *Buffer) Max() float64    { return b.max }

func (b *Buffer) SetMax(capacity float64) {
	b.max = math.Max(0, capacity)
	if b.stored > b.max {
		b.stored = b.max
	}
}

// SetStored restores a persisted level, clamped to the capacity.
func (b *Buffer) SetStored(v float64) {
	b.stored = math.Min(math.Max(0, v), b.max)
}

func (b *Buffer) ExtractAEPower(amount float64, mode Actionable, mult PowerMultiplier) float64 {
	if amount <= 0 {
		return 0
	}
	want := mult.Multiply(amount)
	got := math.Min(want, b.stored)
	if mode == Modulate {
		b.stored -= got
		b.drawn += got
	}
	return mult.Divide(got)
}

// InjectAEPower stores up to amount and returns what did not fit.
func (b *Buffer) InjectAEPower(amount float64, mode Actionable) float64 {
	if amount <= 0 {
		return 0
	}
	room := b.max - b.stored
	put := math.Min(room, amount)
	if mode == Modulate {
		b.stored += put
	}
	return amount - put
}

// TakeDrawn returns the power extracted with Modulate since the last call.
func (b *Buffer) TakeDrawn() float64 {
	d := b.drawn
	b.drawn = 0
	return d
}

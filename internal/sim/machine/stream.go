package machine

import (
	"errors"
	"fmt"

	"chamberworks.ai/internal/sim/encoding"
	"chamberworks.ai/internal/sim/inventory"
)

var ErrBadStream = errors.New("machine: bad stream")

// WriteToStream encodes the client view: the working flag, the three inputs
// and the output in slot order, then the tank.
func (c *Chamber) WriteToStream() []byte {
	var w encoding.Writer
	w.Bool(c.working)
	for _, s := range c.syncSlots() {
		writeStack(&w, s)
	}
	f := c.tank.Get()
	w.Bool(!f.Empty())
	if !f.Empty() {
		w.Text(f.Fluid)
		w.Uvarint(uint64(f.Amount))
	}
	return w.Bytes()
}

func (c *Chamber) syncSlots() []inventory.Stack {
	return append(c.input.Stacks(), c.output.Get(0))
}

func writeStack(w *encoding.Writer, s inventory.Stack) {
	if s.Empty() {
		w.Uvarint(0)
		return
	}
	w.Uvarint(uint64(s.Count))
	w.Text(s.Item)
}

func readStack(r *encoding.Reader) inventory.Stack {
	n := r.Uvarint()
	if n == 0 {
		return inventory.Stack{}
	}
	return inventory.Stack{Item: r.Text(), Count: int(n)}
}

// ReadFromStream applies a client view. The payload is decoded in full before
// anything is changed. A working flag in the payload can only switch the
// chamber on; it is switched off by its own tick.
func (c *Chamber) ReadFromStream(b []byte) error {
	r := encoding.NewReader(b)
	working := r.Bool()
	stacks := make([]inventory.Stack, c.input.Size()+1)
	for i := range stacks {
		stacks[i] = readStack(r)
	}
	var f inventory.FluidStack
	if r.Bool() {
		f.Fluid = r.Text()
		f.Amount = int(r.Uvarint())
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("machine: read stream: %w", err)
	}
	for i, st := range stacks {
		limit := c.input.Limit()
		if i == len(stacks)-1 {
			limit = c.output.Limit()
		}
		if err := checkStack(st, limit); err != nil {
			return fmt.Errorf("%w: slot %d: %v", ErrBadStream, i, err)
		}
	}
	if err := checkFluid(f.Amount, c.tank.Capacity()); err != nil {
		return fmt.Errorf("%w: tank: %v", ErrBadStream, err)
	}

	if working {
		c.SetWorking(true)
	}
	for i := 0; i < c.input.Size(); i++ {
		c.input.Set(i, stacks[i])
	}
	c.output.Set(0, stacks[len(stacks)-1])
	c.tank.Set(f)
	c.cachedTask = nil
	return nil
}

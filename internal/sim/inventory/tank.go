package inventory

// FluidStack is an amount of one fluid in millibuckets.
type FluidStack struct {
	Fluid  string `json:"fluid"`
	Amount int    `json:"amount"`
}

func (f FluidStack) Empty() bool { return f.Fluid == "" || f.Amount <= 0 }

// Tank holds a single fluid up to a fixed capacity.
type Tank struct {
	stack    FluidStack
	capacity int
	onChange func()
}

func NewTank(capacity int, onChange func()) *Tank {
	return &Tank{capacity: capacity, onChange: onChange}
}

func (t *Tank) Capacity() int     { return t.capacity }
func (t *Tank) Get() FluidStack   { return t.stack }
func (t *Tank) IsEmpty() bool     { return t.stack.Empty() }
func (t *Tank) SetCapacity(n int) { t.capacity = n }

// Set replaces the tank content. Empty stacks clear the tank.
func (t *Tank) Set(f FluidStack) {
	if f.Empty() {
		f = FluidStack{}
	}
	t.stack = f
	t.changed()
}

// Fill adds as much of f as fits and returns the accepted amount.
func (t *Tank) Fill(f FluidStack, simulate bool) int {
	if f.Empty() {
		return 0
	}
	if !t.stack.Empty() && t.stack.Fluid != f.Fluid {
		return 0
	}
	n := min(t.capacity-t.stack.Amount, f.Amount)
	if n <= 0 {
		return 0
	}
	if !simulate {
		t.stack = FluidStack{Fluid: f.Fluid, Amount: t.stack.Amount + n}
		t.changed()
	}
	return n
}

// Drain removes up to n millibuckets.
func (t *Tank) Drain(n int, simulate bool) FluidStack {
	if n <= 0 || t.stack.Empty() {
		return FluidStack{}
	}
	n = min(n, t.stack.Amount)
	out := FluidStack{Fluid: t.stack.Fluid, Amount: n}
	if !simulate {
		left := t.stack.Amount - n
		if left <= 0 {
			t.stack = FluidStack{}
		} else {
			t.stack.Amount = left
		}
		t.changed()
	}
	return out
}

func (t *Tank) Clear() {
	if t.stack.Empty() {
		return
	}
	t.stack = FluidStack{}
	t.changed()
}

func (t *Tank) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}

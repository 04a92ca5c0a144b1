package inventory

import "testing"

func TestInsertSimulateDoesNotMutate(t *testing.T) {
	changes := 0
	s := NewSlots(1, 64, func(int) { changes++ })
	rem := s.Insert(0, Stack{Item: "SILICON", Count: 10}, true)
	if !rem.Empty() {
		t.Fatalf("expected everything to fit, remainder %+v", rem)
	}
	if !s.Get(0).Empty() || changes != 0 {
		t.Fatalf("simulate mutated slot: %+v changes=%d", s.Get(0), changes)
	}
}

func TestInsertRespectsLimitAndType(t *testing.T) {
	s := NewSlots(1, 64, nil)
	s.Set(0, Stack{Item: "SILICON", Count: 60})

	rem := s.Insert(0, Stack{Item: "SILICON", Count: 10}, false)
	if rem.Count != 6 || s.Get(0).Count != 64 {
		t.Fatalf("expected 4 to fit, slot=%+v rem=%+v", s.Get(0), rem)
	}
	rem = s.Insert(0, Stack{Item: "QUARTZ", Count: 1}, false)
	if rem.Count != 1 {
		t.Fatalf("mismatched item must not merge, rem=%+v", rem)
	}
}

func TestExtractClearsSlot(t *testing.T) {
	s := NewSlots(1, 64, nil)
	s.Set(0, Stack{Item: "QUARTZ", Count: 5})
	got := s.Extract(0, 64, false)
	if got.Count != 5 || got.Item != "QUARTZ" {
		t.Fatalf("extract: %+v", got)
	}
	if !s.Get(0).Empty() {
		t.Fatalf("slot should be empty, got %+v", s.Get(0))
	}
}

func TestAddItemsTopsUpBeforeEmptySlots(t *testing.T) {
	s := NewSlots(3, 64, nil)
	s.Set(1, Stack{Item: "QUARTZ", Count: 60})
	rem := s.AddItems(Stack{Item: "QUARTZ", Count: 10})
	if !rem.Empty() {
		t.Fatalf("remainder: %+v", rem)
	}
	if s.Get(1).Count != 64 || s.Get(0).Count != 6 {
		t.Fatalf("unexpected layout: %+v", s.Stacks())
	}
}

func TestTankFillAndDrain(t *testing.T) {
	tk := NewTank(1000, nil)
	if n := tk.Fill(FluidStack{Fluid: "WATER", Amount: 1500}, false); n != 1000 {
		t.Fatalf("fill: got %d", n)
	}
	if n := tk.Fill(FluidStack{Fluid: "LAVA", Amount: 1}, false); n != 0 {
		t.Fatalf("fill other fluid: got %d", n)
	}
	out := tk.Drain(1000, false)
	if out.Amount != 1000 || !tk.IsEmpty() {
		t.Fatalf("drain: out=%+v tank=%+v", out, tk.Get())
	}
}

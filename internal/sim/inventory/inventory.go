package inventory

// Stack is a count of a single item id. The zero value is the empty stack.
type Stack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (s Stack) Empty() bool { return s.Item == "" || s.Count <= 0 }

func (s Stack) WithCount(n int) Stack {
	if n <= 0 {
		return Stack{}
	}
	return Stack{Item: s.Item, Count: n}
}

// Slots is a fixed-size item inventory where every slot holds at most limit items.
type Slots struct {
	stacks   []Stack
	limit    int
	onChange func(slot int)
}

func NewSlots(size, limit int, onChange func(slot int)) *Slots {
	return &Slots{
		stacks:   make([]Stack, size),
		limit:    limit,
		onChange: onChange,
	}
}

func (s *Slots) Size() int  { return len(s.stacks) }
func (s *Slots) Limit() int { return s.limit }

func (s *Slots) Get(slot int) Stack {
	if slot < 0 || slot >= len(s.stacks) {
		return Stack{}
	}
	return s.stacks[slot]
}

// Set replaces a slot without any capacity check.
func (s *Slots) Set(slot int, st Stack) {
	if slot < 0 || slot >= len(s.stacks) {
		return
	}
	if st.Empty() {
		st = Stack{}
	}
	s.stacks[slot] = st
	s.changed(slot)
}

// Insert puts as much of st into slot as fits and returns what did not fit.
// With simulate set nothing is changed.
func (s *Slots) Insert(slot int, st Stack, simulate bool) Stack {
	if st.Empty() || slot < 0 || slot >= len(s.stacks) {
		return st
	}
	cur := s.stacks[slot]
	if !cur.Empty() && cur.Item != st.Item {
		return st
	}
	space := s.limit - cur.Count
	if space <= 0 {
		return st
	}
	n := min(space, st.Count)
	if !simulate {
		s.stacks[slot] = Stack{Item: st.Item, Count: cur.Count + n}
		s.changed(slot)
	}
	return st.WithCount(st.Count - n)
}

// Extract removes up to n items from slot and returns them.
func (s *Slots) Extract(slot, n int, simulate bool) Stack {
	if n <= 0 || slot < 0 || slot >= len(s.stacks) {
		return Stack{}
	}
	cur := s.stacks[slot]
	if cur.Empty() {
		return Stack{}
	}
	n = min(n, cur.Count)
	if !simulate {
		s.stacks[slot] = cur.WithCount(cur.Count - n)
		s.changed(slot)
	}
	return cur.WithCount(n)
}

// AddItems spreads st over the inventory, topping up matching slots before
// filling empty ones. It returns the remainder.
func (s *Slots) AddItems(st Stack) Stack {
	if st.Empty() {
		return st
	}
	for i := range s.stacks {
		if s.stacks[i].Item == st.Item && !s.stacks[i].Empty() {
			st = s.Insert(i, st, false)
			if st.Empty() {
				return Stack{}
			}
		}
	}
	for i := range s.stacks {
		if s.stacks[i].Empty() {
			st = s.Insert(i, st, false)
			if st.Empty() {
				return Stack{}
			}
		}
	}
	return st
}

func (s *Slots) Count(item string) int {
	n := 0
	for _, st := range s.stacks {
		if st.Item == item {
			n += st.Count
		}
	}
	return n
}

func (s *Slots) Stacks() []Stack {
	out := make([]Stack, len(s.stacks))
	copy(out, s.stacks)
	return out
}

func (s *Slots) IsEmpty() bool {
	for _, st := range s.stacks {
		if !st.Empty() {
			return false
		}
	}
	return true
}

func (s *Slots) Clear() {
	for i := range s.stacks {
		if !s.stacks[i].Empty() {
			s.stacks[i] = Stack{}
			s.changed(i)
		}
	}
}

func (s *Slots) changed(slot int) {
	if s.onChange != nil {
		s.onChange(slot)
	}
}

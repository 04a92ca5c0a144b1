package grid

import (
	"fmt"
	"sort"
)

// TickRateModulation is what a device asks of the tick manager after it ran.
type TickRateModulation int

const (
	// Idle drops the device to its slowest rate.
	Idle TickRateModulation = iota
	// Slower backs off by one tick.
	Slower
	// SameSpeed keeps the current rate.
	SameSpeed
	// Faster speeds up by two ticks.
	Faster
	// Urgent jumps straight to the fastest rate.
	Urgent
	// Sleep stops ticking until the device is woken.
	Sleep
)

var modulationNames = [...]string{"IDLE", "SLOWER", "SAME_SPEED", "FASTER", "URGENT", "SLEEP"}

func (m TickRateModulation) String() string {
	if m < 0 || int(m) >= len(modulationNames) {
		return fmt.Sprintf("TickRateModulation(%d)", int(m))
	}
	return modulationNames[m]
}

type TickingRequest struct {
	MinTicks int
	MaxTicks int
	Sleeping bool
}

// Tickable is implemented by devices driven by the tick manager.
type Tickable interface {
	TickingRequest() TickingRequest
	Tick(ticksSinceLastCall int) TickRateModulation
}

type tracker struct {
	id       string
	dev      Tickable
	req      TickingRequest
	rate     int
	lastTick uint64
	nextTick uint64
	sleeping bool
}

func (t *tracker) setRate(r int) {
	t.rate = max(t.req.MinTicks, min(t.req.MaxTicks, r))
}

// TickManager schedules devices. It is not safe for concurrent use; the world
// loop owns it.
type TickManager struct {
	now      uint64
	trackers map[string]*tracker
	order    []string
}

func NewTickManager() *TickManager {
	return &TickManager{trackers: map[string]*tracker{}}
}

func (m *TickManager) CurrentTick() uint64 { return m.now }

// Add registers dev under id, replacing any previous registration.
func (m *TickManager) Add(id string, dev Tickable) {
	req := dev.TickingRequest()
	if req.MinTicks <= 0 {
		req.MinTicks = 1
	}
	if req.MaxTicks < req.MinTicks {
		req.MaxTicks = req.MinTicks
	}
	t := &tracker{
		id:       id,
		dev:      dev,
		req:      req,
		lastTick: m.now,
		sleeping: req.Sleeping,
	}
	t.setRate((req.MinTicks + req.MaxTicks) / 2)
	t.nextTick = m.now + uint64(t.rate)

	if _, ok := m.trackers[id]; !ok {
		m.order = append(m.order, id)
		sort.Strings(m.order)
	}
	m.trackers[id] = t
}

func (m *TickManager) Remove(id string) {
	if _, ok := m.trackers[id]; !ok {
		return
	}
	delete(m.trackers, id)
	i := sort.SearchStrings(m.order, id)
	if i < len(m.order) && m.order[i] == id {
		m.order = append(m.order[:i], m.order[i+1:]...)
	}
}

// WakeDevice makes a device due on the next tick. It reports whether the
// device is registered.
func (m *TickManager) WakeDevice(id string) bool {
	t := m.trackers[id]
	if t == nil {
		return false
	}
	t.sleeping = false
	t.nextTick = m.now + 1
	return true
}

func (m *TickManager) SleepDevice(id string) bool {
	t := m.trackers[id]
	if t == nil {
		return false
	}
	t.sleeping = true
	return true
}

func (m *TickManager) IsSleeping(id string) bool {
	t := m.trackers[id]
	return t != nil && t.sleeping
}

func (m *TickManager) Rate(id string) int {
	if t := m.trackers[id]; t != nil {
		return t.rate
	}
	return 0
}

// TickResult lists what ran during one manager tick, in call order.
type TickResult struct {
	Tick    uint64
	Devices []DeviceTick
}

type DeviceTick struct {
	ID         string
	Modulation TickRateModulation
}

// Tick advances the clock by one and runs every due, awake device in id order.
func (m *TickManager) Tick() TickResult {
	m.now++
	res := TickResult{Tick: m.now}

	ids := append([]string(nil), m.order...)
	for _, id := range ids {
		t := m.trackers[id]
		if t == nil || t.sleeping || t.nextTick > m.now {
			continue
		}
		since := int(m.now - t.lastTick)
		mod := t.dev.Tick(since)
		t.lastTick = m.now
		m.apply(t, mod)
		res.Devices = append(res.Devices, DeviceTick{ID: id, Modulation: mod})
	}
	return res
}

func (m *TickManager) apply(t *tracker, mod TickRateModulation) {
	switch mod {
	case Urgent:
		t.setRate(t.req.MinTicks)
	case Faster:
		t.setRate(t.rate - 2)
	case Slower:
		t.setRate(t.rate + 1)
	case Idle:
		t.setRate(t.req.MaxTicks)
	case Sleep:
		t.sleeping = true
	}
	t.nextTick = m.now + uint64(t.rate)
}

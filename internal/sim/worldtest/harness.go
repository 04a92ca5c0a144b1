package worldtest

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"

	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/machine"
	"chamberworks.ai/internal/sim/tuning"
	"chamberworks.ai/internal/sim/world"
)

// Harness drives a world through its exported APIs only:
// - Step()/StepFor() issue commands via StepOnce()
// - the harness is the world's tick and audit logger
// - Snapshot() exports at the last executed tick
//
// It avoids world internals so tests can live outside the world package.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World

	Ticks  []world.TickLogEntry
	Audits []world.AuditEntry
}

// RepoCatalogs loads the catalogs shipped in configs/.
func RepoCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	cats, err := catalogs.Load(filepath.Join(filepath.Dir(file), "..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func NewHarness(t *testing.T, id string, tune tuning.Tuning) *Harness {
	t.Helper()
	cats := RepoCatalogs(t)
	return NewHarnessWithWorld(t, world.New(world.ConfigFromTuning(id, tune), cats, nil), cats)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported first.
func NewHarnessWithWorld(t *testing.T, w *world.World, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	h := &Harness{T: t, Cats: cats, W: w}
	w.SetTickLogger(h)
	w.SetAuditLogger(h)
	return h
}

func (h *Harness) WriteTick(e world.TickLogEntry) error {
	h.Ticks = append(h.Ticks, e)
	return nil
}

func (h *Harness) WriteAudit(e world.AuditEntry) error {
	h.Audits = append(h.Audits, e)
	return nil
}

// Step runs one tick with cmds and fails the test if any command was rejected.
func (h *Harness) Step(cmds ...world.Command) world.TickLogEntry {
	h.T.Helper()
	e := h.step(cmds)
	for _, rc := range e.Commands {
		if rc.Code != "" {
			h.T.Fatalf("tick %d: %s rejected with %s", e.Tick, rc.Cmd.Type, rc.Code)
		}
	}
	return e
}

// StepExpect runs one tick with a single command that must fail with code.
func (h *Harness) StepExpect(code string, cmd world.Command) {
	h.T.Helper()
	e := h.step([]world.Command{cmd})
	if len(e.Commands) != 1 || e.Commands[0].Code != code {
		h.T.Fatalf("tick %d: %s got %+v, want code %s", e.Tick, cmd.Type, e.Commands, code)
	}
}

func (h *Harness) step(cmds []world.Command) world.TickLogEntry {
	h.T.Helper()
	n := len(h.Ticks)
	tick, digest := h.W.StepOnce(cmds)
	if len(h.Ticks) != n+1 {
		h.T.Fatalf("tick %d: no tick log entry", tick)
	}
	e := h.Ticks[n]
	if e.Digest != digest {
		h.T.Fatalf("tick %d: logged digest %s, StepOnce returned %s", tick, e.Digest, digest)
	}
	return e
}

func (h *Harness) StepFor(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.step(nil)
	}
}

// StepUntil steps until cond holds and returns the number of ticks taken. It
// fails the test after max ticks.
func (h *Harness) StepUntil(max int, cond func() bool) int {
	h.T.Helper()
	for i := 1; i <= max; i++ {
		h.step(nil)
		if cond() {
			return i
		}
	}
	h.T.Fatalf("condition not met within %d ticks", max)
	return 0
}

// Snapshot exports at the last executed tick, so an import resumes at the
// current tick.
func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	cur := h.W.CurrentTick()
	if cur == 0 {
		return 0, h.W.ExportSnapshot(0)
	}
	tick = cur - 1
	return tick, h.W.ExportSnapshot(tick)
}

func (h *Harness) Chamber(pos [3]int) *machine.Chamber {
	h.T.Helper()
	c := h.W.Chamber(cube.Pos{pos[0], pos[1], pos[2]})
	if c == nil {
		h.T.Fatalf("no chamber at %v", pos)
	}
	return c
}

// ContainerCount is how many of item the container at pos holds.
func (h *Harness) ContainerCount(pos [3]int, item string) int {
	h.T.Helper()
	c := h.W.Container(cube.Pos{pos[0], pos[1], pos[2]})
	if c == nil {
		h.T.Fatalf("no container at %v", pos)
	}
	return c.Slots.Count(item)
}

func (h *Harness) AuditsOf(action string) []world.AuditEntry {
	var out []world.AuditEntry
	for _, e := range h.Audits {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

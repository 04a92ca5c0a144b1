package worldtest

import (
	"testing"

	"chamberworks.ai/internal/sim/tuning"
	"chamberworks.ai/internal/sim/world"
)

var (
	posA = [3]int{0, 64, 0}
	posB = [3]int{4, 64, 0}
	posC = [3]int{8, 64, 0}
)

func powered() tuning.Tuning {
	tune := tuning.Defaults()
	tune.Grid.InitialEnergy = 200000
	return tune
}

func place(pos [3]int, facing string) world.Command {
	return world.Command{Type: world.CmdPlaceChamber, Pos: pos, Facing: facing}
}

func insert(pos [3]int, item string, n int) world.Command {
	return world.Command{Type: world.CmdInsertItem, Pos: pos, Item: item, Count: n}
}

func water(pos [3]int, mb int) world.Command {
	return world.Command{Type: world.CmdFillTank, Pos: pos, Fluid: "WATER", Amount: mb}
}

// script places three chambers doing different work and returns the
// commands to issue at given ticks.
func script() map[int][]world.Command {
	return map[int][]world.Command{
		0: {
			place(posA, "NORTH"),
			place(posB, "EAST"),
			place(posC, "SOUTH"),
			{Type: world.CmdPlaceContainer, Pos: [3]int{0, 65, 0}},
		},
		1: {
			insert(posA, "CERTUS_QUARTZ_CRYSTAL", 32),
			water(posA, 1000),
			{Type: world.CmdSetAutoExport, Pos: posA, On: true},
			{Type: world.CmdInstallUpgrade, Pos: posB, Item: "SPEED_CARD", Count: 4},
			insert(posB, "CERTUS_QUARTZ_CRYSTAL", 16),
		},
		3:  {water(posB, 250)},
		10: {insert(posC, "REDSTONE", 16), insert(posC, "QUARTZ", 16)},
		20: {insert(posC, "CHARGED_CERTUS_QUARTZ_CRYSTAL", 16), water(posC, 500)},
		60: {{Type: world.CmdExtractOutput, Pos: posB}},
	}
}

func runScript(t *testing.T, h *Harness, ticks int) []string {
	t.Helper()
	cmds := script()
	digests := make([]string, 0, ticks)
	for i := 0; i < ticks; i++ {
		digests = append(digests, h.Step(cmds[i]...).Digest)
	}
	return digests
}

func TestSameScriptSameDigests(t *testing.T) {
	a := NewHarness(t, "det", powered())
	b := NewHarness(t, "det", powered())
	da := runScript(t, a, 240)
	db := runScript(t, b, 240)

	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("digest diverged at tick %d: %s vs %s", i, da[i], db[i])
		}
	}
	for _, pos := range [][3]int{posA, posB, posC} {
		if a.Chamber(pos).ID() != b.Chamber(pos).ID() {
			t.Fatalf("chamber ids differ at %v", pos)
		}
	}
	if len(a.Audits) != len(b.Audits) {
		t.Fatalf("audit counts differ: %d vs %d", len(a.Audits), len(b.Audits))
	}

	// Speed cards finish the first batch at B long before A completes its own.
	if n := len(a.AuditsOf(world.AuditBatchComplete)); n < 2 {
		t.Fatalf("batch completions = %d, want at least 2", n)
	}
	if got := a.ContainerCount([3]int{0, 65, 0}, "CHARGED_CERTUS_QUARTZ_CRYSTAL"); got == 0 {
		t.Fatalf("nothing exported into the container above A")
	}

	// A world with a different id derives different chamber ids.
	c := NewHarness(t, "other", powered())
	c.Step(place(posA, "NORTH"))
	if c.Chamber(posA).ID() == a.Chamber(posA).ID() {
		t.Fatalf("chamber id does not depend on the world id")
	}
}

func TestSnapshotRestoreRestartsProgress(t *testing.T) {
	h := NewHarness(t, "snap", powered())
	h.Step(place(posA, "WEST"), insert(posA, "CERTUS_QUARTZ_CRYSTAL", 16), water(posA, 250))
	h.StepUntil(200, func() bool { return h.Chamber(posA).ProcessingTime() >= 100 })

	tick, snap := h.Snapshot()
	id := h.Chamber(posA).ID()
	gridAt := h.W.Grid().Stored()

	w2 := world.New(world.ConfigFromTuning("snap", powered()), h.Cats, nil)
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	r := NewHarnessWithWorld(t, w2, h.Cats)
	if r.W.CurrentTick() != tick+1 {
		t.Fatalf("restored tick = %d, want %d", r.W.CurrentTick(), tick+1)
	}
	c := r.Chamber(posA)
	if c.ID() != id {
		t.Fatalf("id = %s, want %s", c.ID(), id)
	}
	if c.ProcessingTime() != 0 {
		t.Fatalf("progress after restore = %d, want 0", c.ProcessingTime())
	}
	if got := r.W.Grid().Stored(); got != gridAt {
		t.Fatalf("grid = %v, want %v", got, gridAt)
	}

	done := func(h *Harness) func() bool {
		return func() bool { return len(h.AuditsOf(world.AuditBatchComplete)) == 1 }
	}
	origTicks := h.StepUntil(300, done(h))
	restTicks := r.StepUntil(300, done(r))
	if restTicks <= origTicks {
		t.Fatalf("restored chamber finished in %d ticks, original in %d", restTicks, origTicks)
	}
	for _, x := range []*Harness{h, r} {
		out := x.Chamber(posA).Output().Get(0)
		if out.Item != "CHARGED_CERTUS_QUARTZ_CRYSTAL" || out.Count != 16 {
			t.Fatalf("output = %+v", out)
		}
		if !x.Chamber(posA).Tank().Get().Empty() {
			t.Fatalf("tank not drained: %+v", x.Chamber(posA).Tank().Get())
		}
	}
}

func TestFullOutputStallsUntilExtracted(t *testing.T) {
	h := NewHarness(t, "stall", powered())
	h.Step(place(posA, "NORTH"), insert(posA, "CERTUS_QUARTZ_CRYSTAL", 80), water(posA, 2000))

	h.StepUntil(1000, func() bool { return len(h.AuditsOf(world.AuditBatchComplete)) == 4 })
	c := h.Chamber(posA)
	if out := c.Output().Get(0); out.Count != 64 {
		t.Fatalf("output = %+v, want 64", out)
	}
	h.StepFor(50)
	if n := len(h.AuditsOf(world.AuditBatchComplete)); n != 4 {
		t.Fatalf("completions with a full output = %d", n)
	}
	if len(h.AuditsOf(world.AuditBatchLost)) != 0 {
		t.Fatalf("a batch was lost")
	}
	if c.IsWorking() || !h.W.Ticks().IsSleeping(c.ID()) {
		t.Fatalf("stalled chamber working=%v sleeping=%v", c.IsWorking(), h.W.Ticks().IsSleeping(c.ID()))
	}
	if got := c.Input().Count("CERTUS_QUARTZ_CRYSTAL"); got != 16 {
		t.Fatalf("input left = %d, want 16", got)
	}

	h.Step(world.Command{Type: world.CmdExtractOutput, Pos: posA})
	if h.W.Ticks().IsSleeping(c.ID()) {
		t.Fatalf("extracting did not wake the chamber")
	}
	h.StepUntil(300, func() bool { return len(h.AuditsOf(world.AuditBatchComplete)) == 5 })
	if out := c.Output().Get(0); out.Count != 16 {
		t.Fatalf("output after fifth batch = %+v", out)
	}
	if got := c.Tank().Get().Amount; got != 750 {
		t.Fatalf("water left = %d, want 750", got)
	}
}

func TestPartialGridPowerStallsProgress(t *testing.T) {
	h := NewHarness(t, "power", tuning.Defaults())
	h.Step(
		place(posA, "NORTH"),
		insert(posA, "CERTUS_QUARTZ_CRYSTAL", 16),
		water(posA, 250),
		world.Command{Type: world.CmdChargeGrid, Power: 5000},
	)

	// 10000 AE over 100 steps of 2: the grid pays for half the batch.
	h.StepFor(120)
	c := h.Chamber(posA)
	if got := c.ProcessingTime(); got != 100 {
		t.Fatalf("progress = %d, want 100", got)
	}
	if h.W.Grid().Stored() != 0 {
		t.Fatalf("grid not drained: %v", h.W.Grid().Stored())
	}
	if !c.IsWorking() || len(h.AuditsOf(world.AuditBatchComplete)) != 0 {
		t.Fatalf("working=%v completions=%d", c.IsWorking(), len(h.AuditsOf(world.AuditBatchComplete)))
	}

	h.Step(world.Command{Type: world.CmdChargeGrid, Power: 5000})
	h.StepUntil(100, func() bool { return len(h.AuditsOf(world.AuditBatchComplete)) == 1 })
	if out := c.Output().Get(0); out.Count != 16 {
		t.Fatalf("output = %+v", out)
	}
}

func TestInternalBufferIsDrawnBeforeGrid(t *testing.T) {
	h := NewHarness(t, "buffer", tuning.Defaults())
	h.Step(
		place(posA, "NORTH"),
		insert(posA, "CERTUS_QUARTZ_CRYSTAL", 16),
		water(posA, 250),
		world.Command{Type: world.CmdInjectPower, Pos: posA, Power: 10000},
		world.Command{Type: world.CmdChargeGrid, Power: 1000},
	)
	h.StepUntil(200, func() bool { return len(h.AuditsOf(world.AuditBatchComplete)) == 1 })
	if got := h.W.Grid().Stored(); got != 1000 {
		t.Fatalf("grid = %v, want untouched 1000", got)
	}
	if got := h.Chamber(posA).Power().Stored(); got != 0 {
		t.Fatalf("buffer = %v, want 0", got)
	}
}

func TestRejectedCommandsAreRecorded(t *testing.T) {
	h := NewHarness(t, "codes", powered())
	h.Step(place(posA, "NORTH"))
	h.StepExpect(world.CodeOccupied, place(posA, "SOUTH"))
	h.StepExpect(world.CodeNoMachine, insert(posB, "REDSTONE", 1))
	h.StepExpect(world.CodeUnknownItem, insert(posA, "DIRT", 1))
	h.StepExpect(world.CodeRejected, world.Command{Type: world.CmdRemoveUpgrade, Pos: posA})
	if n := len(h.AuditsOf(world.AuditPlace)); n != 1 {
		t.Fatalf("place audits = %d", n)
	}
}

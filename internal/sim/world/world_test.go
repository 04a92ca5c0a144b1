package world

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"

	"chamberworks.ai/internal/observerproto"
	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/inventory"
	"chamberworks.ai/internal/sim/machine"
	"chamberworks.ai/internal/sim/tuning"
)

type recordingTicks struct{ entries []TickLogEntry }

func (r *recordingTicks) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

type recordingAudits struct{ entries []AuditEntry }

func (r *recordingAudits) WriteAudit(e AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudits) byAction(action string) []AuditEntry {
	var out []AuditEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newTestWorld(t *testing.T) (*World, *recordingTicks, *recordingAudits) {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	w := New(ConfigFromTuning("test", tuning.Defaults()), cats, nil)
	ticks := &recordingTicks{}
	audits := &recordingAudits{}
	w.SetTickLogger(ticks)
	w.SetAuditLogger(audits)
	return w, ticks, audits
}

var (
	chamberPos = [3]int{0, 64, 0}
	// North of a north-facing chamber: its front.
	frontPos = [3]int{0, 64, -1}
)

// chargedCertusSetup loads one charged_certus batch with four speed cards, so
// it completes in four chamber ticks.
func chargedCertusSetup() []Command {
	return []Command{
		{Type: CmdPlaceChamber, Pos: chamberPos, Facing: "north"},
		{Type: CmdPlaceContainer, Pos: frontPos},
		{Type: CmdChargeGrid, Power: 20000},
		{Type: CmdInstallUpgrade, Pos: chamberPos, Item: "SPEED_CARD", Count: 4},
		{Type: CmdFillTank, Pos: chamberPos, Fluid: "WATER", Amount: 250},
		{Type: CmdSetAutoExport, Pos: chamberPos, On: true},
		{Type: CmdInsertItem, Pos: chamberPos, Item: "CERTUS_QUARTZ_CRYSTAL", Count: 16},
	}
}

func TestBatchCompletesAndExportsToContainer(t *testing.T) {
	w, ticks, audits := newTestWorld(t)

	w.StepOnce(chargedCertusSetup())
	for i := 0; i < 10; i++ {
		w.StepOnce(nil)
	}

	for _, e := range ticks.entries[0].Commands {
		if e.Code != "" {
			t.Fatalf("setup command %s failed: %s", e.Cmd.Type, e.Code)
		}
	}

	box := w.Container(posFromArray(frontPos))
	if box == nil {
		t.Fatalf("container missing")
	}
	if got := box.Slots.Count("CHARGED_CERTUS_QUARTZ_CRYSTAL"); got != 16 {
		t.Fatalf("container holds %d charged certus, want 16", got)
	}
	c := w.Chamber(posFromArray(chamberPos))
	if !c.Output().Get(0).Empty() {
		t.Fatalf("output not exported: %+v", c.Output().Get(0))
	}
	if !c.Input().IsEmpty() || !c.Tank().IsEmpty() {
		t.Fatalf("inputs not consumed: %+v tank=%+v", c.Input().Stacks(), c.Tank().Get())
	}
	if got := w.Grid().Stored(); got != 10000 {
		t.Fatalf("grid stored = %v, want 10000", got)
	}

	done := audits.byAction(AuditBatchComplete)
	if len(done) != 1 || done[0].Recipe != "charged_certus" || done[0].Actor != c.ID() {
		t.Fatalf("batch audits = %+v", done)
	}
	exports := audits.byAction(AuditExport)
	if len(exports) != 1 || exports[0].Target == nil || *exports[0].Target != frontPos || exports[0].Count != 16 {
		t.Fatalf("export audits = %+v", exports)
	}

	var drawn float64
	completedAt := -1
	for i, e := range ticks.entries {
		drawn += e.EnergyDrawn
		if len(e.Completed) > 0 {
			completedAt = i
		}
	}
	if drawn != 10000 {
		t.Fatalf("tick log energy = %v, want 10000", drawn)
	}
	if completedAt != 3 {
		t.Fatalf("completed on tick %d, want 3", completedAt)
	}
	if c.IsWorking() {
		t.Fatalf("chamber still working after the only batch")
	}
}

func TestCommandErrorCodes(t *testing.T) {
	w, _, _ := newTestWorld(t)
	if res := w.ApplyCommand(Command{Type: CmdPlaceChamber, Pos: chamberPos, Facing: "NORTH"}); !res.OK || res.ID == "" {
		t.Fatalf("place: %+v", res)
	}

	cases := []struct {
		name string
		cmd  Command
		code string
	}{
		{"missing type", Command{Pos: [3]int{9, 9, 9}}, CodeBadRequest},
		{"bad facing", Command{Type: CmdPlaceChamber, Pos: [3]int{1, 64, 0}, Facing: "UP"}, CodeBadRequest},
		{"occupied", Command{Type: CmdPlaceContainer, Pos: chamberPos}, CodeOccupied},
		{"no machine", Command{Type: CmdRemoveChamber, Pos: [3]int{5, 5, 5}}, CodeNoMachine},
		{"no container", Command{Type: CmdRemoveContainer, Pos: [3]int{5, 5, 5}}, CodeNoContainer},
		{"unknown item", Command{Type: CmdInsertItem, Pos: chamberPos, Item: "DIRT", Count: 1}, CodeUnknownItem},
		{"zero count", Command{Type: CmdInsertItem, Pos: chamberPos, Item: "REDSTONE"}, CodeBadRequest},
		{"unknown fluid", Command{Type: CmdFillTank, Pos: chamberPos, Fluid: "MILK", Amount: 10}, CodeUnknownFluid},
		{"foreign upgrade", Command{Type: CmdInstallUpgrade, Pos: chamberPos, Item: "REDSTONE", Count: 1}, CodeRejected},
		{"no upgrades", Command{Type: CmdRemoveUpgrade, Pos: chamberPos}, CodeRejected},
		{"bad side", Command{Type: CmdSetOutputSides, Pos: chamberPos, Sides: []string{"UPWARDS"}}, CodeBadRequest},
		{"no power", Command{Type: CmdInjectPower, Pos: chamberPos}, CodeBadRequest},
		{"unknown type", Command{Type: "EXPLODE", Pos: chamberPos}, CodeBadRequest},
	}
	for _, tc := range cases {
		res := w.ApplyCommand(tc.cmd)
		if res.OK || res.Code != tc.code {
			t.Fatalf("%s: got %+v, want code %s", tc.name, res, tc.code)
		}
	}
}

func TestRemoveChamberDropsItemsAndVoidsFluid(t *testing.T) {
	w, _, audits := newTestWorld(t)
	for _, cmd := range []Command{
		{Type: CmdPlaceChamber, Pos: chamberPos, Facing: "EAST"},
		{Type: CmdInsertItem, Pos: chamberPos, Item: "REDSTONE", Count: 5},
		{Type: CmdInstallUpgrade, Pos: chamberPos, Item: "SPEED_CARD", Count: 2},
		{Type: CmdFillTank, Pos: chamberPos, Fluid: "WATER", Amount: 1000},
	} {
		if res := w.ApplyCommand(cmd); !res.OK {
			t.Fatalf("%s: %+v", cmd.Type, res)
		}
	}

	res := w.ApplyCommand(Command{Type: CmdRemoveChamber, Pos: chamberPos})
	if !res.OK {
		t.Fatalf("remove: %+v", res)
	}
	total := 0
	for _, s := range res.Items {
		if s.Item == "WATER" || s.Item == "WATER_BUCKET" {
			t.Fatalf("fluid dropped as %+v", s)
		}
		total += s.Count
	}
	if total != 7 {
		t.Fatalf("dropped %d items, want 7: %+v", total, res.Items)
	}
	if w.Chamber(posFromArray(chamberPos)) != nil || len(w.Chambers()) != 0 {
		t.Fatalf("chamber still registered")
	}
	if got := len(audits.byAction(AuditRemove)); got != 1 {
		t.Fatalf("remove audits = %d", got)
	}
}

func TestSnapshotRoundTripThroughFile(t *testing.T) {
	w, _, _ := newTestWorld(t)
	w.StepOnce(chargedCertusSetup())
	w.StepOnce([]Command{{Type: CmdInjectPower, Pos: chamberPos, Power: 1234}})

	src := w.Chamber(posFromArray(chamberPos))
	if src.ProcessingTime() == 0 {
		t.Fatalf("expected progress before snapshot")
	}
	w.Container(posFromArray(frontPos)).AddItems(inventory.Stack{Item: "QUARTZ", Count: 3})

	snapTick := w.CurrentTick() - 1
	path := filepath.Join(t.TempDir(), "snap.zst")
	if err := snapshot.WriteSnapshot(path, w.ExportSnapshot(snapTick)); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	w2, _, _ := newTestWorld(t)
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := w2.CurrentTick(); got != snapTick+1 {
		t.Fatalf("tick after import = %d, want %d", got, snapTick+1)
	}

	dst := w2.ChamberByID(src.ID())
	if dst == nil {
		t.Fatalf("chamber %s missing after import", src.ID())
	}
	if dst.Pos() != src.Pos() || dst.Orientation() != src.Orientation() {
		t.Fatalf("placement differs: %v/%v vs %v/%v", dst.Pos(), dst.Orientation(), src.Pos(), src.Orientation())
	}
	if dst.Input().Count("CERTUS_QUARTZ_CRYSTAL") != 16 || dst.Tank().Get() != src.Tank().Get() {
		t.Fatalf("contents differ: %+v tank=%+v", dst.Input().Stacks(), dst.Tank().Get())
	}
	if dst.InstalledUpgrades("SPEED_CARD") != 4 || !dst.AutoExport() {
		t.Fatalf("upgrades=%d autoExport=%v", dst.InstalledUpgrades("SPEED_CARD"), dst.AutoExport())
	}
	if dst.Power().Stored() != src.Power().Stored() {
		t.Fatalf("power = %v, want %v", dst.Power().Stored(), src.Power().Stored())
	}
	if dst.ProcessingTime() != 0 {
		t.Fatalf("progress restored as %d, want 0", dst.ProcessingTime())
	}
	if w2.Grid().Stored() != w.Grid().Stored() {
		t.Fatalf("grid = %v, want %v", w2.Grid().Stored(), w.Grid().Stored())
	}
	if got := w2.Container(posFromArray(frontPos)).Slots.Count("QUARTZ"); got != 3 {
		t.Fatalf("container quartz = %d", got)
	}

	// The restored chamber picks its batch back up.
	box := w2.Container(posFromArray(frontPos))
	for i := 0; i < 40 && box.Slots.Count("CHARGED_CERTUS_QUARTZ_CRYSTAL") == 0; i++ {
		w2.StepOnce(nil)
	}
	if got := box.Slots.Count("CHARGED_CERTUS_QUARTZ_CRYSTAL"); got != 16 {
		t.Fatalf("restored chamber exported %d, want 16", got)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	w, _, _ := newTestWorld(t)
	s := w.ExportSnapshot(0)
	s.Header.Version = 99
	if err := w.ImportSnapshot(s); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestImportRejectsDuplicateChamberIDs(t *testing.T) {
	w, _, _ := newTestWorld(t)
	if res := w.ApplyCommand(Command{Type: CmdPlaceChamber, Pos: chamberPos, Facing: "SOUTH"}); !res.OK {
		t.Fatalf("place: %+v", res)
	}
	s := w.ExportSnapshot(0)
	id := s.Machines[0].ID

	other := posFromArray([3]int{20, 64, 0})
	twin := machine.New(id, other, cube.South, w.cfg.Chamber, w.services())
	b, err := twin.EncodeNBT()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s.Machines = append(s.Machines, snapshot.MachineV1{ID: id, Pos: posArray(other), NBT: b})

	w2, _, _ := newTestWorld(t)
	if err := w2.ImportSnapshot(s); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if len(w2.Chambers()) != 0 {
		t.Fatalf("rejected import left %d chambers", len(w2.Chambers()))
	}
}

func TestObserverSeesChambersInRadius(t *testing.T) {
	w, _, _ := newTestWorld(t)
	near := w.ApplyCommand(Command{Type: CmdPlaceChamber, Pos: chamberPos, Facing: "SOUTH"})
	far := w.ApplyCommand(Command{Type: CmdPlaceChamber, Pos: [3]int{100, 64, 0}, Facing: "SOUTH"})
	if !near.OK || !far.OK {
		t.Fatalf("place: %+v %+v", near, far)
	}

	out := make(chan []byte, 1)
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", TickOut: out, Center: [3]int{2, 64, 0}, Radius: 8})

	read := func() observerproto.MachinesMsg {
		t.Helper()
		var msg observerproto.MachinesMsg
		select {
		case b := <-out:
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
		default:
			t.Fatalf("no observer message")
		}
		return msg
	}

	w.StepOnce(nil)
	msg := read()
	if msg.Type != observerproto.TypeMachines || len(msg.Machines) != 1 || msg.Machines[0].ID != near.ID {
		t.Fatalf("radius 8 message = %+v", msg)
	}
	if msg.Machines[0].Facing != "SOUTH" || msg.Machines[0].MaxSteps != 200 || msg.Machines[0].Stream == "" {
		t.Fatalf("machine state = %+v", msg.Machines[0])
	}

	w.handleObserverSubscribe(ObserverSubscribeRequest{SessionID: "O1", Radius: 0})
	w.StepOnce(nil)
	if msg := read(); len(msg.Machines) != 2 {
		t.Fatalf("radius 0 sees %d machines, want 2", len(msg.Machines))
	}

	w.handleObserverLeave("O1")
	if _, ok := <-out; ok {
		t.Fatalf("observer channel not closed on leave")
	}
}

func TestRunKeepsObserverRequestsInOrder(t *testing.T) {
	w, _, _ := newTestWorld(t)
	w.cfg.TickRateHz = 200
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 50; i++ {
		sid := fmt.Sprintf("O%d", i)
		w.ObserverRequests() <- ObserverRequest{Join: &ObserverJoinRequest{SessionID: sid, TickOut: make(chan []byte, 1)}}
		w.ObserverRequests() <- ObserverRequest{Subscribe: &ObserverSubscribeRequest{SessionID: sid, Radius: 4}}
		w.ObserverRequests() <- ObserverRequest{Leave: sid}
	}
	last := make(chan []byte, 1)
	w.ObserverRequests() <- ObserverRequest{Join: &ObserverJoinRequest{SessionID: "last", TickOut: last}}
	select {
	case <-last:
	case <-ctx.Done():
		t.Fatalf("no message for the last observer")
	}

	w.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(w.observers) != 1 || w.observers["last"] == nil {
		t.Fatalf("observers left registered: %d", len(w.observers))
	}
}

func TestRunAppliesInboxAndServesSnapshots(t *testing.T) {
	w, _, _ := newTestWorld(t)
	w.cfg.TickRateHz = 200
	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	resp := make(chan CommandResult, 1)
	w.Inbox() <- CommandRequest{Cmd: Command{Type: CmdPlaceChamber, Pos: chamberPos, Facing: "WEST"}, Resp: resp}
	var res CommandResult
	select {
	case res = <-resp:
	case <-ctx.Done():
		t.Fatalf("no command response")
	}
	if !res.OK {
		t.Fatalf("place via inbox: %+v", res)
	}

	if _, err := w.RequestSnapshot(ctx); err != nil {
		t.Fatalf("request snapshot: %v", err)
	}
	snap := <-sink
	if len(snap.Machines) != 1 || snap.Machines[0].ID != res.ID {
		t.Fatalf("snapshot machines = %+v", snap.Machines)
	}

	w.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestFacingNames(t *testing.T) {
	for _, d := range []cube.Direction{cube.North, cube.South, cube.West, cube.East} {
		got, ok := ParseFacing(FacingName(d))
		if !ok || got != d {
			t.Fatalf("facing %v round trip = %v, %v", d, got, ok)
		}
	}
}

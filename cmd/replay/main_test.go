package main

import (
	"path/filepath"
	"strings"
	"testing"

	persistlog "chamberworks.ai/internal/persistence/log"
	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/tuning"
	"chamberworks.ai/internal/sim/world"
)

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	return cats
}

var setup = []world.Command{
	{Type: world.CmdPlaceChamber, Pos: [3]int{0, 64, 0}, Facing: "NORTH"},
	{Type: world.CmdPlaceContainer, Pos: [3]int{0, 64, -1}},
	{Type: world.CmdChargeGrid, Power: 20000},
	{Type: world.CmdInstallUpgrade, Pos: [3]int{0, 64, 0}, Item: "SPEED_CARD", Count: 2},
	{Type: world.CmdFillTank, Pos: [3]int{0, 64, 0}, Fluid: "WATER", Amount: 250},
	{Type: world.CmdSetAutoExport, Pos: [3]int{0, 64, 0}, On: true},
	{Type: world.CmdInsertItem, Pos: [3]int{0, 64, 0}, Item: "CERTUS_QUARTZ_CRYSTAL", Count: 16},
}

// recordRun steps a fresh world for n ticks, writing its tick log under a
// temp world dir, and returns the dir.
func recordRun(t *testing.T, cats *catalogs.Catalogs, tune tuning.Tuning, n int) string {
	t.Helper()
	dir := t.TempDir()
	w := world.New(world.ConfigFromTuning("replay_w", tune), cats, nil)
	tl := persistlog.NewTickLogger(dir)
	w.SetTickLogger(tl)
	w.StepOnce(setup)
	for i := 1; i < n; i++ {
		w.StepOnce(nil)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}
	return dir
}

func tickFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := persistlog.Files(filepath.Join(dir, "ticks"), "ticks")
	if err != nil || len(files) == 0 {
		t.Fatalf("tick files = %v, %v", files, err)
	}
	return files
}

func TestReplayFromGenesisMatchesDigests(t *testing.T) {
	cats := loadCatalogs(t)
	tune := tuning.Defaults()
	dir := recordRun(t, cats, tune, 30)

	w, err := newReplayWorld(world.ConfigFromTuning("replay_w", tune), cats, "")
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	checked, err := replayFiles(w, tickFiles(t, dir), 0, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 30 || w.CurrentTick() != 30 {
		t.Fatalf("checked=%d tick=%d", checked, w.CurrentTick())
	}
	if len(w.Chambers()) != 1 {
		t.Fatalf("chambers = %d", len(w.Chambers()))
	}
}

func TestReplayStopsAtToTick(t *testing.T) {
	cats := loadCatalogs(t)
	tune := tuning.Defaults()
	dir := recordRun(t, cats, tune, 20)

	w, _ := newReplayWorld(world.ConfigFromTuning("replay_w", tune), cats, "")
	checked, err := replayFiles(w, tickFiles(t, dir), 5, 9)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 5 || w.CurrentTick() != 10 {
		t.Fatalf("checked=%d tick=%d", checked, w.CurrentTick())
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	cats := loadCatalogs(t)
	tune := tuning.Defaults()
	dir := recordRun(t, cats, tune, 10)

	other := tuning.Defaults()
	other.Grid.InitialEnergy = 777
	w, _ := newReplayWorld(world.ConfigFromTuning("replay_w", other), cats, "")
	_, err := replayFiles(w, tickFiles(t, dir), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 0") {
		t.Fatalf("err = %v", err)
	}
}

func TestReplayWorldFromSnapshot(t *testing.T) {
	cats := loadCatalogs(t)
	tune := tuning.Defaults()
	src := world.New(world.ConfigFromTuning("snap_w", tune), cats, nil)
	src.StepOnce(setup)
	path := filepath.Join(t.TempDir(), "0.snap.zst")
	if err := snapshot.WriteSnapshot(path, src.ExportSnapshot(0)); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := newReplayWorld(world.ConfigFromTuning("ignored", tune), cats, path)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	if w.ID() != "snap_w" || w.CurrentTick() != 1 || len(w.Chambers()) != 1 {
		t.Fatalf("id=%s tick=%d chambers=%d", w.ID(), w.CurrentTick(), len(w.Chambers()))
	}
}

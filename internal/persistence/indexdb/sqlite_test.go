package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/tuning"
	"chamberworks.ai/internal/sim/world"
)

func openForRead(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteIndex_BatchesAndExports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	_ = idx.WriteTick(world.TickLogEntry{
		Tick:        7,
		Digest:      "abc",
		Commands:    []world.RecordedCommand{{Cmd: world.Command{Type: world.CmdInsertItem}}, {Cmd: world.Command{Type: world.CmdFillTank}, Code: world.CodeUnknownFluid}},
		Completed:   []string{"c1"},
		EnergyDrawn: 2500,
	})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 7, Actor: "c1", Action: world.AuditBatchComplete, Recipe: "charged_certus", Item: "CHARGED_CERTUS_QUARTZ_CRYSTAL", Count: 16})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 7, Actor: "c1", Action: world.AuditExport, Item: "CHARGED_CERTUS_QUARTZ_CRYSTAL", Count: 16, Target: &[3]int{0, 64, -1}})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 9, Actor: "c2", Action: world.AuditBatchLost, Recipe: "fluix_crystals", Reason: "output full"})
	idx.RecordSnapshot("/abs/9.snap.zst", snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 9},
		Grid:     snapshot.GridV1{EnergyStored: 1500},
		Machines: []snapshot.MachineV1{{ID: "c1"}, {ID: "c2"}},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openForRead(t, path)

	var commands, completed int
	var drawn float64
	if err := db.QueryRow(`SELECT commands,completed,energy_drawn FROM ticks WHERE tick=7`).Scan(&commands, &completed, &drawn); err != nil {
		t.Fatalf("ticks: %v", err)
	}
	if commands != 2 || completed != 1 || drawn != 2500 {
		t.Fatalf("tick row: commands=%d completed=%d drawn=%v", commands, completed, drawn)
	}
	var code string
	if err := db.QueryRow(`SELECT code FROM commands WHERE tick=7 AND seq=1`).Scan(&code); err != nil || code != world.CodeUnknownFluid {
		t.Fatalf("command code = %q, %v", code, err)
	}

	var ok, lost int
	if err := db.QueryRow(`SELECT COUNT(*) FROM batches WHERE lost=0 AND recipe='charged_certus'`).Scan(&ok); err != nil {
		t.Fatalf("batches: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM batches WHERE lost=1`).Scan(&lost); err != nil {
		t.Fatalf("batches: %v", err)
	}
	if ok != 1 || lost != 1 {
		t.Fatalf("batches ok=%d lost=%d", ok, lost)
	}

	var item string
	var count, tz int
	if err := db.QueryRow(`SELECT item,count,tz FROM exports WHERE chamber='c1'`).Scan(&item, &count, &tz); err != nil {
		t.Fatalf("exports: %v", err)
	}
	if item != "CHARGED_CERTUS_QUARTZ_CRYSTAL" || count != 16 || tz != -1 {
		t.Fatalf("export row: %s x%d tz=%d", item, count, tz)
	}

	var machines int
	var worldID string
	if err := db.QueryRow(`SELECT machines,world_id FROM snapshots WHERE tick=9`).Scan(&machines, &worldID); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if machines != 2 || worldID != "w1" {
		t.Fatalf("snapshot row: machines=%d world=%s", machines, worldID)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	configDir := filepath.Join("..", "..", "..", "configs")
	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalogs(configDir, cats, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openForRead(t, path)
	var digest string
	if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name='recipes'`).Scan(&digest); err != nil {
		t.Fatalf("recipes row: %v", err)
	}
	if digest != cats.Recipes.Digest {
		t.Fatalf("recipes digest = %s, want %s", digest, cats.Recipes.Digest)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil || n != 5 {
		t.Fatalf("catalog rows = %d, %v", n, err)
	}
}

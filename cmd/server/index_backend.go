package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chamberworks.ai/internal/persistence/indexdb"
	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/tuning"
	"chamberworks.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.AuditLogger
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

// openRuntimeIndex opens the read-model index selected by CW_INDEX_BACKEND
// (sqlite by default). A nil index means indexing is off.
func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported CW_INDEX_BACKEND: %s", backend)
	}
}

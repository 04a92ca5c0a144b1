package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "chamberworks.ai/internal/persistence/log"
	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/tuning"
	"chamberworks.ai/internal/sim/world"
)

func main() {
	var (
		worldDir   = flag.String("world_dir", "", "world data dir containing ticks/ (e.g. ./data/worlds/world_1)")
		worldID    = flag.String("world", "", "world id (default: base name of -world_dir)")
		snapPath   = flag.String("snapshot", "", "snapshot to start from (optional; replays from tick 0 when empty)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if strings.TrimSpace(*worldDir) == "" {
		fmt.Fprintln(os.Stderr, "missing -world_dir")
		os.Exit(2)
	}
	id := strings.TrimSpace(*worldID)
	if id == "" {
		id = filepath.Base(filepath.Clean(*worldDir))
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if err := cats.Recipes.CheckSlotCapacity(tune.Chamber.SlotCapacity); err != nil {
		fmt.Fprintln(os.Stderr, "recipes vs tuning:", err)
		os.Exit(1)
	}

	w, err := newReplayWorld(world.ConfigFromTuning(id, tune), cats, strings.TrimSpace(*snapPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	files, err := persistlog.Files(filepath.Join(*worldDir, "ticks"), "ticks")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", filepath.Join(*worldDir, "ticks"))
		os.Exit(1)
	}

	startTick := w.CurrentTick()
	checked, err := replayFiles(w, files, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (start tick=%d, end tick=%d, chambers=%d)\n", checked, startTick, w.CurrentTick(), len(w.Chambers()))
}

// newReplayWorld builds the world the tick log is replayed against. Chamber
// progress is not part of a snapshot, so a replay from a snapshot only matches
// logs written by a server that resumed from that same snapshot.
func newReplayWorld(cfg world.WorldConfig, cats *catalogs.Catalogs, snapPath string) (*world.World, error) {
	if snapPath == "" {
		return world.New(cfg, cats, nil), nil
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	fmt.Printf("snapshot v%d world=%s tick=%d machines=%d containers=%d grid=%.1f\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, len(snap.Machines), len(snap.Containers), snap.Grid.EnergyStored)
	if snap.Header.WorldID != "" {
		cfg.ID = snap.Header.WorldID
	}
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	w := world.New(cfg, cats, nil)
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return w, nil
}

var errStop = errors.New("stop")

// replayFiles steps w through every logged tick at or after its current tick
// and compares digests for ticks >= verifyFrom.
func replayFiles(w *world.World, files []string, verifyFrom, toTick uint64) (checked uint64, err error) {
	startTick := w.CurrentTick()
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line json.RawMessage) error {
			var entry world.TickLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if entry.Tick < startTick {
				return nil
			}
			if toTick != 0 && entry.Tick > toTick {
				return errStop
			}
			if entry.Tick != w.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
			}

			cmds := make([]world.Command, 0, len(entry.Commands))
			for _, rc := range entry.Commands {
				cmds = append(cmds, rc.Cmd)
			}
			tick, gotDigest := w.StepOnce(cmds)
			if tick != entry.Tick {
				return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", tick, entry.Tick, filepath.Base(path))
			}
			if tick >= verifyFrom {
				checked++
				if gotDigest != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			return checked, nil
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}

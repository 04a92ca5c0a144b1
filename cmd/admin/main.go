package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	persistlog "chamberworks.ai/internal/persistence/log"
	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/machine"
	"chamberworks.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "catalogs":
			catalogsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "command":
			commandCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional; lists snapshots when set)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID == "" {
		entries, err := os.ReadDir(base)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			if e.IsDir() {
				fmt.Println(e.Name())
			}
		}
		return
	}

	for _, path := range snapshotFiles(filepath.Join(base, *worldID)) {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			continue
		}
		fmt.Printf("%s\tv%d\tworld=%s\ttick=%d\n", filepath.Base(path), h.Version, h.WorldID, h.Tick)
	}
}

type snapshotReport struct {
	Header        snapshot.Header  `json:"header"`
	TickRate      int              `json:"tick_rate_hz"`
	ItemsDigest   string           `json:"items_digest"`
	RecipesDigest string           `json:"recipes_digest"`
	Grid          snapshot.GridV1  `json:"grid"`
	Machines      []machine.Record `json:"machines"`
	Containers    int              `json:"containers"`
}

// inspectSnapshot decodes every machine record in the snapshot at path.
func inspectSnapshot(path string) (snapshotReport, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return snapshotReport{}, err
	}
	rep := snapshotReport{
		Header:        snap.Header,
		TickRate:      snap.TickRate,
		ItemsDigest:   snap.ItemsDigest,
		RecipesDigest: snap.RecipesDigest,
		Grid:          snap.Grid,
		Machines:      make([]machine.Record, 0, len(snap.Machines)),
		Containers:    len(snap.Containers),
	}
	for _, m := range snap.Machines {
		rec, err := machine.DecodeNBT(m.NBT)
		if err != nil {
			return rep, fmt.Errorf("machine %s: %w", m.ID, err)
		}
		rep.Machines = append(rep.Machines, rec)
	}
	return rep, nil
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used when -snapshot is empty)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found")
		os.Exit(2)
	}
	rep, err := inspectSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
	printJSON(rep)
}

type auditFilter struct {
	Action    string
	SinceTick uint64
	ToTick    uint64
	AABB      bool
	Min, Max  [3]int
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if e.Tick < f.SinceTick {
		return false
	}
	if f.ToTick != 0 && e.Tick > f.ToTick {
		return false
	}
	if f.AABB && !withinAABB(e.Pos, f.Min, f.Max) {
		return false
	}
	return true
}

// readAudit returns the audit entries of a world in log order.
func readAudit(worldDir string, f auditFilter) ([]world.AuditEntry, error) {
	files, err := persistlog.Files(filepath.Join(worldDir, "audit"), "audit")
	if err != nil {
		return nil, err
	}
	var out []world.AuditEntry
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line json.RawMessage) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if f.match(e) {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	action := fs.String("action", "", "action filter (e.g. BATCH_COMPLETE, EXPORT)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	f := auditFilter{Action: strings.ToUpper(strings.TrimSpace(*action)), SinceTick: *sinceTick, ToTick: *toTick}
	if strings.TrimSpace(*aabb) != "" {
		min, max, err := parseAABB(*aabb)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -aabb:", err)
			os.Exit(2)
		}
		f.AABB, f.Min, f.Max = true, min, max
	}

	recs, err := readAudit(filepath.Join(*dataDir, "worlds", *worldID), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	for _, e := range recs {
		printJSON(e)
	}
}

type catalogSummary struct {
	Items         int      `json:"items"`
	Fluids        int      `json:"fluids"`
	Recipes       []string `json:"recipes"`
	ItemsDigest   string   `json:"items_digest"`
	FluidsDigest  string   `json:"fluids_digest"`
	RecipesDigest string   `json:"recipes_digest"`
}

func summarizeCatalogs(configDir string) (catalogSummary, error) {
	cats, err := catalogs.Load(configDir)
	if err != nil {
		return catalogSummary{}, err
	}
	return catalogSummary{
		Items:         len(cats.Items.Defs),
		Fluids:        len(cats.Fluids.Defs),
		Recipes:       cats.Recipes.IDs(),
		ItemsDigest:   cats.Items.DefsDigest,
		FluidsDigest:  cats.Fluids.DefsDigest,
		RecipesDigest: cats.Recipes.Digest,
	}, nil
}

func catalogsCmd(args []string) {
	fs := flag.NewFlagSet("catalogs", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	_ = fs.Parse(args)

	sum, err := summarizeCatalogs(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "catalogs invalid:", err)
		os.Exit(1)
	}
	printJSON(sum)
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

// snapshotFiles lists the tick-named snapshots of a world, oldest first.
func snapshotFiles(worldDir string) []string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type snapFile struct {
		tick uint64
		path string
	}
	var files []snapFile
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapFile{tick: tick, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tick < files[j].tick })
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.path)
	}
	return out
}

func latestSnapshot(worldDir string) string {
	files := snapshotFiles(worldDir)
	if len(files) == 0 {
		return ""
	}
	return files[len(files)-1]
}

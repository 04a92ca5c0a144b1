package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"chamberworks.ai/internal/persistence/snapshot"
)

// EpochMeta describes an archived snapshot.
type EpochMeta struct {
	Epoch         int    `json:"epoch"`
	Tick          uint64 `json:"tick"`
	WorldID       string `json:"world_id"`
	Snapshot      string `json:"snapshot"`
	Machines      int    `json:"machines"`
	ItemsDigest   string `json:"items_digest"`
	RecipesDigest string `json:"recipes_digest"`
	CreatedAt     string `json:"created_at"`
}

// ArchiveEpochSnapshot copies the snapshot into worldDir/archives/epoch_<NNN>/
// when its tick is a multiple of everyTicks. Archived copies are never pruned.
// A failed meta.json write still reports the copy as archived, with the error.
func ArchiveEpochSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks uint64) (archivedPath string, archived bool, err error) {
	if everyTicks == 0 || snap.Header.Tick == 0 || snap.Header.Tick%everyTicks != 0 {
		return "", false, nil
	}
	epoch := int(snap.Header.Tick / everyTicks)
	dir := filepath.Join(worldDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := EpochMeta{
		Epoch:         epoch,
		Tick:          snap.Header.Tick,
		WorldID:       snap.Header.WorldID,
		Snapshot:      filepath.Base(dst),
		Machines:      len(snap.Machines),
		ItemsDigest:   snap.ItemsDigest,
		RecipesDigest: snap.RecipesDigest,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	if err != nil {
		// The snapshot copy is in place; only its metadata is missing.
		return dst, true, fmt.Errorf("archive: write meta: %w", err)
	}
	return dst, true, nil
}

// PruneSnapshots deletes all but the newest keep tick-named snapshots in
// worldDir/snapshots and returns the removed paths.
func PruneSnapshots(worldDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snapFile struct {
		tick uint64
		name string
	}
	var files []snapFile
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapFile{tick: tick, name: e.Name()})
	}
	if len(files) <= keep {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tick > files[j].tick })

	var removed []string
	for _, f := range files[keep:] {
		p := filepath.Join(dir, f.name)
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

package world

import (
	"fmt"
	"sort"

	"github.com/df-mc/dragonfly/server/block/cube"

	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/grid"
	"chamberworks.ai/internal/sim/machine"
)

// ExportSnapshot captures the world as of the end of tick.
func (w *World) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	s := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    tick,
		},
		TickRate:           w.cfg.TickRateHz,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		Grid: snapshot.GridV1{
			EnergyCapacity: w.gridPower.Max(),
			EnergyStored:   w.gridPower.Stored(),
		},
	}
	if w.catalogs != nil {
		s.ItemsDigest = w.catalogs.Items.DefsDigest
		s.RecipesDigest = w.catalogs.Recipes.Digest
	}

	for _, c := range w.Chambers() {
		b, err := c.EncodeNBT()
		if err != nil {
			w.log.Printf("snapshot: skip chamber %s: %v", c.ID(), err)
			continue
		}
		s.Machines = append(s.Machines, snapshot.MachineV1{ID: c.ID(), Pos: posArray(c.Pos()), NBT: b})
	}

	positions := make([]cube.Pos, 0, len(w.containers))
	for p := range w.containers {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return lessPos(positions[i], positions[j]) })
	for _, p := range positions {
		s.Containers = append(s.Containers, w.containers[p].snapshot())
	}
	return s
}

// ImportSnapshot replaces all world state with s. The next tick to run is
// the one after the snapshot tick.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if w.catalogs != nil && s.RecipesDigest != "" && s.RecipesDigest != w.catalogs.Recipes.Digest {
		w.log.Printf("snapshot: recipes digest %s differs from loaded catalogs %s", s.RecipesDigest, w.catalogs.Recipes.Digest)
	}

	chambers := map[cube.Pos]*machine.Chamber{}
	ids := map[string]bool{}
	for _, m := range s.Machines {
		rec, err := machine.DecodeNBT(m.NBT)
		if err != nil {
			return fmt.Errorf("machine %s: %w", m.ID, err)
		}
		pos := rec.PosOf()
		if _, dup := chambers[pos]; dup {
			return fmt.Errorf("machine %s: duplicate position %v", m.ID, pos)
		}
		if ids[rec.ID] {
			return fmt.Errorf("machine %s: duplicate id", rec.ID)
		}
		ids[rec.ID] = true
		c := machine.New(rec.ID, pos, cube.Direction(rec.Facing), w.cfg.Chamber, w.services())
		if err := c.LoadRecord(rec); err != nil {
			return fmt.Errorf("machine %s: %w", m.ID, err)
		}
		chambers[pos] = c
	}

	w.ticks = grid.NewTickManager()
	w.chambers = map[cube.Pos]*machine.Chamber{}
	w.byID = map[string]*machine.Chamber{}
	w.containers = map[cube.Pos]*Container{}
	for _, c := range chambers {
		// Services captured the old tick manager.
		c.SetServices(w.services())
		w.addChamber(c)
	}
	for _, in := range s.Containers {
		c := newContainer(posFromArray(in.Pos), w.cfg.Grid.ContainerSlots, w.cfg.Grid.ContainerStackSz)
		c.load(in)
		w.containers[c.Pos] = c
	}

	if s.Grid.EnergyCapacity > 0 {
		w.gridPower.SetMax(s.Grid.EnergyCapacity)
	}
	w.gridPower.SetStored(s.Grid.EnergyStored)
	w.gridPower.TakeDrawn()
	w.cur = tickEvents{}

	w.tick.Store(s.Header.Tick + 1)
	return nil
}

func lessPos(a, b cube.Pos) bool {
	if a.X() != b.X() {
		return a.X() < b.X()
	}
	if a.Y() != b.Y() {
		return a.Y() < b.Y()
	}
	return a.Z() < b.Z()
}

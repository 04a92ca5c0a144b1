package machine

import (
	"errors"
	"fmt"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/sandertv/gophertunnel/minecraft/nbt"

	"chamberworks.ai/internal/sim/inventory"
	"chamberworks.ai/internal/sim/side"
)

// RecordVersion is the current save schema. Progress is not part of it: a
// reloaded chamber restarts its batch from zero.
const RecordVersion = 1

var (
	ErrBadRecord          = errors.New("machine: bad record")
	ErrUnsupportedVersion = errors.New("machine: unsupported record version")
)

// Record is the persisted form of a chamber. Field order is the schema order.
type Record struct {
	Version    int32         `nbt:"version" json:"version"`
	ID         string        `nbt:"id" json:"id"`
	X          int32         `nbt:"x" json:"x"`
	Y          int32         `nbt:"y" json:"y"`
	Z          int32         `nbt:"z" json:"z"`
	Facing     int32         `nbt:"facing" json:"facing"`
	Working    bool          `nbt:"working" json:"working"`
	Inputs     []StackRecord `nbt:"inputs" json:"inputs"`
	Output     StackRecord   `nbt:"output" json:"output"`
	Tank       FluidRecord   `nbt:"tank" json:"tank"`
	Upgrades   []StackRecord `nbt:"upgrades" json:"upgrades"`
	Outputs    []string      `nbt:"outputs" json:"outputs"`
	AutoExport bool          `nbt:"auto_export" json:"auto_export"`
	Power      float64       `nbt:"power" json:"power"`
}

type StackRecord struct {
	Item  string `nbt:"item" json:"item"`
	Count int32  `nbt:"count" json:"count"`
}

type FluidRecord struct {
	Fluid  string `nbt:"fluid" json:"fluid"`
	Amount int32  `nbt:"amount" json:"amount"`
}

func stackRecord(s inventory.Stack) StackRecord {
	if s.Empty() {
		return StackRecord{}
	}
	return StackRecord{Item: s.Item, Count: int32(s.Count)}
}

func (r StackRecord) stack() inventory.Stack {
	return inventory.Stack{Item: r.Item, Count: int(r.Count)}
}

func (c *Chamber) ToRecord() Record {
	rec := Record{
		Version:    RecordVersion,
		ID:         c.id,
		X:          int32(c.pos.X()),
		Y:          int32(c.pos.Y()),
		Z:          int32(c.pos.Z()),
		Facing:     int32(c.orientation.Facing),
		Working:    c.working,
		Output:     stackRecord(c.output.Get(0)),
		Outputs:    c.allowedOutputs.Names(),
		AutoExport: c.autoExport,
		Power:      c.power.Stored(),
	}
	for _, s := range c.input.Stacks() {
		rec.Inputs = append(rec.Inputs, stackRecord(s))
	}
	for _, s := range c.upgrades.Stacks() {
		rec.Upgrades = append(rec.Upgrades, stackRecord(s))
	}
	if f := c.tank.Get(); !f.Empty() {
		rec.Tank = FluidRecord{Fluid: f.Fluid, Amount: int32(f.Amount)}
	}
	return rec
}

// PosOf returns the block position stored in a record.
func (r Record) PosOf() cube.Pos {
	return cube.Pos{int(r.X), int(r.Y), int(r.Z)}
}

// LoadRecord restores persisted state into the chamber. The recipe cache and
// progress start empty.
func (c *Chamber) LoadRecord(rec Record) error {
	if rec.Version != RecordVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	if len(rec.Inputs) > c.input.Size() || len(rec.Upgrades) > c.upgrades.Size() {
		return fmt.Errorf("%w: %d inputs, %d upgrades", ErrBadRecord, len(rec.Inputs), len(rec.Upgrades))
	}
	if rec.Facing < 0 || rec.Facing > int32(cube.East) {
		return fmt.Errorf("%w: facing %d", ErrBadRecord, rec.Facing)
	}
	sides, err := side.ParseNames(rec.Outputs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if err := c.checkRecordContents(rec); err != nil {
		return err
	}

	if rec.ID != "" {
		c.id = rec.ID
	}
	c.pos = rec.PosOf()
	c.orientation = side.Orientation{Facing: cube.Direction(rec.Facing)}
	for i := 0; i < c.input.Size(); i++ {
		var s inventory.Stack
		if i < len(rec.Inputs) {
			s = rec.Inputs[i].stack()
		}
		c.input.Set(i, s)
	}
	c.output.Set(0, rec.Output.stack())
	for i := 0; i < c.upgrades.Size(); i++ {
		var s inventory.Stack
		if i < len(rec.Upgrades) {
			s = rec.Upgrades[i].stack()
		}
		c.upgrades.Set(i, s)
	}
	c.tank.Set(inventory.FluidStack{Fluid: rec.Tank.Fluid, Amount: int(rec.Tank.Amount)})
	c.allowedOutputs = sides
	c.autoExport = rec.AutoExport
	c.power.SetStored(rec.Power)

	c.SetWorking(rec.Working)
	c.processingTime = 0
	c.cachedTask = nil
	return nil
}

// checkRecordContents holds restored slots and the tank to their capacities.
// Upgrade slots only take single speed cards.
func (c *Chamber) checkRecordContents(rec Record) error {
	for i, r := range rec.Inputs {
		if err := checkStack(r.stack(), c.input.Limit()); err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrBadRecord, i, err)
		}
	}
	if err := checkStack(rec.Output.stack(), c.output.Limit()); err != nil {
		return fmt.Errorf("%w: output: %v", ErrBadRecord, err)
	}
	for i, r := range rec.Upgrades {
		st := r.stack()
		if !st.Empty() && st.Item != SpeedCard {
			return fmt.Errorf("%w: upgrade %d: %s is not a speed card", ErrBadRecord, i, st.Item)
		}
		if err := checkStack(st, c.upgrades.Limit()); err != nil {
			return fmt.Errorf("%w: upgrade %d: %v", ErrBadRecord, i, err)
		}
	}
	if err := checkFluid(int(rec.Tank.Amount), c.tank.Capacity()); err != nil {
		return fmt.Errorf("%w: tank: %v", ErrBadRecord, err)
	}
	return nil
}

func checkStack(s inventory.Stack, limit int) error {
	if s.Count < 0 || s.Count > limit {
		return fmt.Errorf("count %d outside 0..%d", s.Count, limit)
	}
	return nil
}

func checkFluid(amount, capacity int) error {
	if amount < 0 || amount > capacity {
		return fmt.Errorf("amount %d outside 0..%d mB", amount, capacity)
	}
	return nil
}

// EncodeNBT writes the chamber's record as little-endian NBT, the on-disk
// block entity format.
func (c *Chamber) EncodeNBT() ([]byte, error) {
	b, err := nbt.MarshalEncoding(c.ToRecord(), nbt.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("machine: encode nbt: %w", err)
	}
	return b, nil
}

func DecodeNBT(data []byte) (Record, error) {
	var rec Record
	if err := nbt.UnmarshalEncoding(data, &rec, nbt.LittleEndian); err != nil {
		return rec, fmt.Errorf("%w: decode nbt: %v", ErrBadRecord, err)
	}
	return rec, nil
}

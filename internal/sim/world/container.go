package world

import (
	"github.com/df-mc/dragonfly/server/block/cube"

	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/inventory"
)

// ContainerBlock is the block id of a plain storage container.
const ContainerBlock = "CHEST"

// Container is a passive chest next to which chambers can export results.
type Container struct {
	Pos   cube.Pos
	Slots *inventory.Slots
}

func newContainer(pos cube.Pos, size, stackSize int) *Container {
	if size <= 0 {
		size = 27
	}
	if stackSize <= 0 {
		stackSize = 64
	}
	return &Container{Pos: pos, Slots: inventory.NewSlots(size, stackSize, nil)}
}

// AddItems stores as much of s as fits and returns the remainder.
func (c *Container) AddItems(s inventory.Stack) inventory.Stack { return c.Slots.AddItems(s) }

func (c *Container) snapshot() snapshot.ContainerV1 {
	out := snapshot.ContainerV1{Pos: posArray(c.Pos)}
	for _, s := range c.Slots.Stacks() {
		out.Slots = append(out.Slots, snapshot.StackV1{Item: s.Item, Count: s.Count})
	}
	return out
}

func (c *Container) load(in snapshot.ContainerV1) {
	for i, s := range in.Slots {
		if i >= c.Slots.Size() {
			break
		}
		c.Slots.Set(i, inventory.Stack{Item: s.Item, Count: s.Count})
	}
}

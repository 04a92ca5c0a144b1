// Package machine implements the reaction chamber: a powered block entity
// with three item inputs, a fluid tank, one output slot and speed upgrades
// that turns inputs into a result over a fixed number of progress steps.
package machine

import (
	"github.com/df-mc/dragonfly/server/block/cube"

	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/energy"
	"chamberworks.ai/internal/sim/inventory"
	"chamberworks.ai/internal/sim/side"
	"chamberworks.ai/internal/sim/tuning"
)

// SpeedCard is the upgrade item counted for the speed factor.
const SpeedCard = "SPEED_CARD"

// BlockName is the block id the chamber occupies.
const BlockName = "REACTION_CHAMBER"

type Config struct {
	MaxProcessingSteps int
	MaxPowerStorage    int
	MaxTankCapacity    int
	SlotCapacity       int
	UpgradeSlots       int
	ExportBatch        int
	SpeedFactors       map[int]int
	MinTicks           int
	MaxTicks           int
	PowerMultiplier    energy.PowerMultiplier
}

func ConfigFromTuning(t tuning.Tuning) Config {
	c := t.Chamber
	factors := make(map[int]int, len(c.SpeedFactors))
	for k, v := range c.SpeedFactors {
		factors[k] = v
	}
	return Config{
		MaxProcessingSteps: c.MaxProcessingSteps,
		MaxPowerStorage:    c.MaxPowerStorage,
		MaxTankCapacity:    c.MaxTankCapacity,
		SlotCapacity:       c.SlotCapacity,
		UpgradeSlots:       c.UpgradeSlots,
		ExportBatch:        c.ExportBatch,
		SpeedFactors:       factors,
		MinTicks:           c.MinTicks,
		MaxTicks:           c.MaxTicks,
		PowerMultiplier:    energy.PowerMultiplier(t.Grid.PowerMultiplier),
	}
}

func DefaultConfig() Config { return ConfigFromTuning(tuning.Defaults()) }

// Recipes finds the recipe the current inputs satisfy.
type Recipes interface {
	FindRecipe(a, b, c inventory.Stack, tank inventory.FluidStack) (catalogs.RecipeDef, bool)
}

// DeviceWaker reschedules a sleeping tick device.
type DeviceWaker interface {
	WakeDevice(id string) bool
}

// ItemReceiver accepts items and hands back what it could not take.
type ItemReceiver interface {
	AddItems(s inventory.Stack) inventory.Stack
}

// Surroundings answers questions about the blocks next to a chamber.
type Surroundings interface {
	IsChamber(pos cube.Pos) bool
	ExternalInventory(pos cube.Pos, from cube.Face) (ItemReceiver, bool)
	BlockName(pos cube.Pos) string
}

// Listener observes state changes that the world persists or reports.
type Listener interface {
	WorkingChanged(c *Chamber, working bool)
	Saved(c *Chamber)
	BatchCompleted(c *Chamber, r catalogs.RecipeDef)
	BatchLost(c *Chamber, r catalogs.RecipeDef)
	Exported(c *Chamber, target cube.Pos, moved inventory.Stack)
}

// Services are the grid collaborators a chamber is constructed with. Energy
// nil means the chamber is not connected to a grid and cannot draw power.
type Services struct {
	Recipes  Recipes
	Energy   energy.Source
	Ticks    DeviceWaker
	World    Surroundings
	Listener Listener
}

type Chamber struct {
	id          string
	pos         cube.Pos
	orientation side.Orientation
	cfg         Config
	svc         Services

	input    *inventory.Slots
	output   *inventory.Slots
	tank     *inventory.Tank
	upgrades *inventory.Slots
	power    *energy.Buffer

	autoExport     bool
	allowedOutputs side.Set

	working        bool
	processingTime int
	dirty          bool
	cachedTask     *catalogs.RecipeDef
}

func New(id string, pos cube.Pos, facing cube.Direction, cfg Config, svc Services) *Chamber {
	if svc.Listener == nil {
		svc.Listener = nopListener{}
	}
	c := &Chamber{
		id:             id,
		pos:            pos,
		orientation:    side.Orientation{Facing: facing},
		cfg:            cfg,
		svc:            svc,
		power:          energy.NewBuffer(float64(cfg.MaxPowerStorage), 0),
		allowedOutputs: side.AllSides(),
	}
	c.input = inventory.NewSlots(catalogs.MaxRecipeInputs, cfg.SlotCapacity, func(int) { c.onChangeInventory() })
	c.output = inventory.NewSlots(1, cfg.SlotCapacity, func(int) { c.onChangeInventory() })
	c.tank = inventory.NewTank(cfg.MaxTankCapacity, c.onChangeInventory)
	c.upgrades = inventory.NewSlots(cfg.UpgradeSlots, 1, func(int) { c.saveChanges() })
	return c
}

func (c *Chamber) ID() string                    { return c.id }
func (c *Chamber) Pos() cube.Pos                 { return c.pos }
func (c *Chamber) Orientation() side.Orientation { return c.orientation }
func (c *Chamber) Input() *inventory.Slots       { return c.input }
func (c *Chamber) Output() *inventory.Slots      { return c.output }
func (c *Chamber) Tank() *inventory.Tank         { return c.tank }
func (c *Chamber) Upgrades() *inventory.Slots    { return c.upgrades }
func (c *Chamber) Power() *energy.Buffer         { return c.power }
func (c *Chamber) AllowedOutputs() side.Set      { return c.allowedOutputs }
func (c *Chamber) AutoExport() bool              { return c.autoExport }
func (c *Chamber) IsWorking() bool               { return c.working }
func (c *Chamber) ProcessingTime() int           { return c.processingTime }
func (c *Chamber) MaxProcessingTime() int        { return c.cfg.MaxProcessingSteps }

// CachedRecipe returns the recipe id the chamber is currently working towards
// without triggering a lookup.
func (c *Chamber) CachedRecipe() (string, bool) {
	if c.cachedTask == nil {
		return "", false
	}
	return c.cachedTask.RecipeID, true
}

// SetServices rewires the grid collaborators, e.g. after loading from a snapshot.
func (c *Chamber) SetServices(svc Services) {
	if svc.Listener == nil {
		svc.Listener = nopListener{}
	}
	c.svc = svc
}

func (c *Chamber) SetWorking(working bool) {
	if working != c.working {
		c.svc.Listener.WorkingChanged(c, working)
	}
	c.working = working
}

func (c *Chamber) setProcessingTime(t int) { c.processingTime = t }

func (c *Chamber) onChangeInventory() {
	c.dirty = true
	c.wake()
}

func (c *Chamber) wake() {
	if c.svc.Ticks != nil {
		c.svc.Ticks.WakeDevice(c.id)
	}
}

func (c *Chamber) saveChanges() { c.svc.Listener.Saved(c) }

// SetAutoExport toggles pushing results into neighbouring inventories.
func (c *Chamber) SetAutoExport(on bool) {
	if c.autoExport == on {
		return
	}
	c.autoExport = on
	c.wake()
	c.saveChanges()
}

func (c *Chamber) UpdateOutputSides(s side.Set) {
	c.allowedOutputs = s
	c.saveChanges()
}

// InstalledUpgrades counts installed cards of the given item.
func (c *Chamber) InstalledUpgrades(item string) int {
	return c.upgrades.Count(item)
}

// InstallUpgrade accepts speed cards only and returns what did not fit.
func (c *Chamber) InstallUpgrade(s inventory.Stack) inventory.Stack {
	if s.Item != SpeedCard {
		return s
	}
	return c.upgrades.AddItems(s)
}

// RemoveUpgrade takes one card out of the last occupied upgrade slot.
func (c *Chamber) RemoveUpgrade() inventory.Stack {
	for i := c.upgrades.Size() - 1; i >= 0; i-- {
		if !c.upgrades.Get(i).Empty() {
			return c.upgrades.Extract(i, 1, false)
		}
	}
	return inventory.Stack{}
}

// InsertInput is the insert-only view exposed to pipes and players.
func (c *Chamber) InsertInput(s inventory.Stack) inventory.Stack {
	return c.input.AddItems(s)
}

// ExtractOutput is the extract-only view of the result slot.
func (c *Chamber) ExtractOutput(n int) inventory.Stack {
	return c.output.Extract(0, n, false)
}

func (c *Chamber) FillTank(f inventory.FluidStack) int {
	return c.tank.Fill(f, false)
}

// InjectPower charges the internal buffer and returns the overflow.
func (c *Chamber) InjectPower(amount float64) float64 {
	return c.power.InjectAEPower(amount, energy.Modulate)
}

// Drops is what the block leaves behind when broken. Fluids are voided.
func (c *Chamber) Drops() []inventory.Stack {
	var out []inventory.Stack
	for _, inv := range []*inventory.Slots{c.input, c.output, c.upgrades} {
		for _, s := range inv.Stacks() {
			if !s.Empty() {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Chamber) ClearContent() {
	c.input.Clear()
	c.output.Clear()
	c.tank.Clear()
	c.upgrades.Clear()
}

func (c *Chamber) ClearFluid() { c.tank.Clear() }

// AdjacentBlock names the block on the given relative side.
func (c *Chamber) AdjacentBlock(r side.RelativeSide) string {
	if c.svc.World == nil {
		return ""
	}
	return c.svc.World.BlockName(c.pos.Side(c.orientation.Face(r)))
}

type nopListener struct{}

func (nopListener) WorkingChanged(*Chamber, bool)                {}
func (nopListener) Saved(*Chamber)                               {}
func (nopListener) BatchCompleted(*Chamber, catalogs.RecipeDef)  {}
func (nopListener) BatchLost(*Chamber, catalogs.RecipeDef)       {}
func (nopListener) Exported(*Chamber, cube.Pos, inventory.Stack) {}

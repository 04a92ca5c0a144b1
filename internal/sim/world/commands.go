package world

import (
	"fmt"
	"strings"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/google/uuid"

	"chamberworks.ai/internal/sim/energy"
	"chamberworks.ai/internal/sim/inventory"
	"chamberworks.ai/internal/sim/machine"
	"chamberworks.ai/internal/sim/side"
)

// Command types accepted by the world inbox.
const (
	CmdPlaceChamber    = "PLACE_CHAMBER"
	CmdRemoveChamber   = "REMOVE_CHAMBER"
	CmdPlaceContainer  = "PLACE_CONTAINER"
	CmdRemoveContainer = "REMOVE_CONTAINER"
	CmdInsertItem      = "INSERT_ITEM"
	CmdFillTank        = "FILL_TANK"
	CmdClearFluid      = "CLEAR_FLUID"
	CmdExtractOutput   = "EXTRACT_OUTPUT"
	CmdInstallUpgrade  = "INSTALL_UPGRADE"
	CmdRemoveUpgrade   = "REMOVE_UPGRADE"
	CmdSetAutoExport   = "SET_AUTO_EXPORT"
	CmdSetOutputSides  = "SET_OUTPUT_SIDES"
	CmdInjectPower     = "INJECT_POWER"
	CmdChargeGrid      = "CHARGE_GRID"
)

// Result codes.
const (
	CodeBadRequest   = "E_BAD_REQUEST"
	CodeUnknownItem  = "E_UNKNOWN_ITEM"
	CodeUnknownFluid = "E_UNKNOWN_FLUID"
	CodeOccupied     = "E_OCCUPIED"
	CodeNoMachine    = "E_NO_MACHINE"
	CodeNoContainer  = "E_NO_CONTAINER"
	CodeRejected     = "E_REJECTED"
)

type Command struct {
	Type   string   `json:"type"`
	Pos    [3]int   `json:"pos"`
	Facing string   `json:"facing,omitempty"`
	Item   string   `json:"item,omitempty"`
	Count  int      `json:"count,omitempty"`
	Fluid  string   `json:"fluid,omitempty"`
	Amount int      `json:"amount,omitempty"`
	Power  float64  `json:"power,omitempty"`
	Sides  []string `json:"sides,omitempty"`
	On     bool     `json:"on,omitempty"`
}

type CommandResult struct {
	OK      bool              `json:"ok"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	ID      string            `json:"id,omitempty"`
	Moved   int               `json:"moved,omitempty"`
	Items   []inventory.Stack `json:"items,omitempty"`
}

type CommandRequest struct {
	Cmd  Command
	Resp chan CommandResult
}

var facings = map[string]cube.Direction{
	"NORTH": cube.North,
	"SOUTH": cube.South,
	"WEST":  cube.West,
	"EAST":  cube.East,
}

// ParseFacing accepts NORTH, SOUTH, WEST or EAST in any case.
func ParseFacing(s string) (cube.Direction, bool) {
	d, ok := facings[strings.ToUpper(strings.TrimSpace(s))]
	return d, ok
}

func FacingName(d cube.Direction) string {
	for n, f := range facings {
		if f == d {
			return n
		}
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func fail(code, format string, args ...any) CommandResult {
	return CommandResult{Code: code, Message: fmt.Sprintf(format, args...)}
}

// PlaceChamber creates a chamber with a fresh node id and registers it with
// the tick manager.
func (w *World) PlaceChamber(pos cube.Pos, facing cube.Direction) (*machine.Chamber, error) {
	if w.occupied(pos) {
		return nil, fmt.Errorf("place chamber: %v is occupied", pos)
	}
	c := machine.New(w.chamberID(pos), pos, facing, w.cfg.Chamber, w.services())
	w.addChamber(c)
	w.audit(AuditEntry{Actor: c.ID(), Action: AuditPlace, Pos: posArray(pos), Item: machine.BlockName, Count: 1})
	return c, nil
}

// chamberID derives the node id from the world, tick and position so that a
// replay of the same commands reproduces the same ids.
func (w *World) chamberID(pos cube.Pos) string {
	name := fmt.Sprintf("%s/%d/%d,%d,%d", w.cfg.ID, w.tick.Load(), pos.X(), pos.Y(), pos.Z())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (w *World) addChamber(c *machine.Chamber) {
	w.chambers[c.Pos()] = c
	w.byID[c.ID()] = c
	w.ticks.Add(c.ID(), c)
}

// RemoveChamber breaks the chamber at pos and returns its drops. Tank
// contents are voided.
func (w *World) RemoveChamber(pos cube.Pos) ([]inventory.Stack, bool) {
	c, ok := w.chambers[pos]
	if !ok {
		return nil, false
	}
	drops := c.Drops()
	w.ticks.Remove(c.ID())
	delete(w.chambers, pos)
	delete(w.byID, c.ID())
	c.ClearContent()
	w.audit(AuditEntry{Actor: c.ID(), Action: AuditRemove, Pos: posArray(pos), Item: machine.BlockName, Count: 1, Reason: fmt.Sprintf("%d stacks dropped", len(drops))})
	return drops, true
}

func (w *World) PlaceContainer(pos cube.Pos) (*Container, error) {
	if w.occupied(pos) {
		return nil, fmt.Errorf("place container: %v is occupied", pos)
	}
	c := newContainer(pos, w.cfg.Grid.ContainerSlots, w.cfg.Grid.ContainerStackSz)
	w.containers[pos] = c
	w.audit(AuditEntry{Actor: "world", Action: AuditPlace, Pos: posArray(pos), Item: ContainerBlock, Count: 1})
	return c, nil
}

func (w *World) RemoveContainer(pos cube.Pos) ([]inventory.Stack, bool) {
	c, ok := w.containers[pos]
	if !ok {
		return nil, false
	}
	var drops []inventory.Stack
	for _, s := range c.Slots.Stacks() {
		if !s.Empty() {
			drops = append(drops, s)
		}
	}
	delete(w.containers, pos)
	w.audit(AuditEntry{Actor: "world", Action: AuditRemove, Pos: posArray(pos), Item: ContainerBlock, Count: 1})
	return drops, true
}

func (w *World) occupied(pos cube.Pos) bool {
	_, a := w.chambers[pos]
	_, b := w.containers[pos]
	return a || b
}

func (w *World) knownItem(item string) bool {
	if w.catalogs == nil {
		return item != ""
	}
	_, ok := w.catalogs.Items.Defs[item]
	return ok
}

func (w *World) knownFluid(fluid string) bool {
	if w.catalogs == nil {
		return fluid != ""
	}
	_, ok := w.catalogs.Fluids.Defs[fluid]
	return ok
}

// ApplyCommand executes a command immediately. Run applies inbox commands at
// the start of the next tick.
func (w *World) ApplyCommand(cmd Command) CommandResult {
	pos := posFromArray(cmd.Pos)

	switch cmd.Type {
	case CmdPlaceChamber:
		facing, ok := ParseFacing(cmd.Facing)
		if !ok {
			return fail(CodeBadRequest, "bad facing %q", cmd.Facing)
		}
		c, err := w.PlaceChamber(pos, facing)
		if err != nil {
			return fail(CodeOccupied, "%v", err)
		}
		return CommandResult{OK: true, ID: c.ID()}

	case CmdRemoveChamber:
		drops, ok := w.RemoveChamber(pos)
		if !ok {
			return fail(CodeNoMachine, "no chamber at %v", cmd.Pos)
		}
		return CommandResult{OK: true, Items: drops}

	case CmdPlaceContainer:
		if _, err := w.PlaceContainer(pos); err != nil {
			return fail(CodeOccupied, "%v", err)
		}
		return CommandResult{OK: true}

	case CmdRemoveContainer:
		drops, ok := w.RemoveContainer(pos)
		if !ok {
			return fail(CodeNoContainer, "no container at %v", cmd.Pos)
		}
		return CommandResult{OK: true, Items: drops}

	case CmdChargeGrid:
		if cmd.Power <= 0 {
			return fail(CodeBadRequest, "power must be > 0")
		}
		left := w.gridPower.InjectAEPower(cmd.Power, energy.Modulate)
		return CommandResult{OK: true, Message: fmt.Sprintf("overflow %.2f", left)}
	}

	c := w.chambers[pos]
	if c == nil {
		if cmd.Type == "" {
			return fail(CodeBadRequest, "missing type")
		}
		return fail(CodeNoMachine, "no chamber at %v", cmd.Pos)
	}

	switch cmd.Type {
	case CmdInsertItem, CmdInstallUpgrade:
		if !w.knownItem(cmd.Item) {
			return fail(CodeUnknownItem, "unknown item %q", cmd.Item)
		}
		if cmd.Count <= 0 {
			return fail(CodeBadRequest, "count must be > 0")
		}
		st := inventory.Stack{Item: cmd.Item, Count: cmd.Count}
		var rest inventory.Stack
		if cmd.Type == CmdInsertItem {
			rest = c.InsertInput(st)
		} else {
			rest = c.InstallUpgrade(st)
		}
		moved := cmd.Count - rest.Count
		if moved == 0 {
			return fail(CodeRejected, "nothing accepted")
		}
		return CommandResult{OK: true, Moved: moved}

	case CmdFillTank:
		if !w.knownFluid(cmd.Fluid) {
			return fail(CodeUnknownFluid, "unknown fluid %q", cmd.Fluid)
		}
		n := c.FillTank(inventory.FluidStack{Fluid: cmd.Fluid, Amount: cmd.Amount})
		if n == 0 {
			return fail(CodeRejected, "tank did not accept %s", cmd.Fluid)
		}
		return CommandResult{OK: true, Moved: n}

	case CmdClearFluid:
		c.ClearFluid()
		return CommandResult{OK: true}

	case CmdExtractOutput:
		n := cmd.Count
		if n <= 0 {
			n = w.cfg.Chamber.SlotCapacity
		}
		st := c.ExtractOutput(n)
		if st.Empty() {
			return CommandResult{OK: true}
		}
		return CommandResult{OK: true, Moved: st.Count, Items: []inventory.Stack{st}}

	case CmdRemoveUpgrade:
		st := c.RemoveUpgrade()
		if st.Empty() {
			return fail(CodeRejected, "no upgrades installed")
		}
		return CommandResult{OK: true, Moved: 1, Items: []inventory.Stack{st}}

	case CmdSetAutoExport:
		c.SetAutoExport(cmd.On)
		return CommandResult{OK: true}

	case CmdSetOutputSides:
		s, err := side.ParseNames(cmd.Sides)
		if err != nil {
			return fail(CodeBadRequest, "%v", err)
		}
		c.UpdateOutputSides(s)
		return CommandResult{OK: true}

	case CmdInjectPower:
		if cmd.Power <= 0 {
			return fail(CodeBadRequest, "power must be > 0")
		}
		left := c.InjectPower(cmd.Power)
		return CommandResult{OK: true, Message: fmt.Sprintf("overflow %.2f", left)}

	default:
		return fail(CodeBadRequest, "unknown command type %q", cmd.Type)
	}
}

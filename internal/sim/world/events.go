package world

import (
	"github.com/df-mc/dragonfly/server/block/cube"

	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/inventory"
	"chamberworks.ai/internal/sim/machine"
)

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick        uint64            `json:"tick"`
	Commands    []RecordedCommand `json:"commands,omitempty"`
	Devices     []DeviceTick      `json:"devices,omitempty"`
	Started     []string          `json:"started,omitempty"`
	Stopped     []string          `json:"stopped,omitempty"`
	Completed   []string          `json:"completed,omitempty"`
	EnergyDrawn float64           `json:"energy_drawn"`
	Digest      string            `json:"digest"`
}

type RecordedCommand struct {
	Cmd  Command `json:"cmd"`
	Code string  `json:"code,omitempty"`
}

type DeviceTick struct {
	ID         string `json:"id"`
	Modulation string `json:"modulation"`
}

// Audit actions.
const (
	AuditPlace         = "PLACE"
	AuditRemove        = "REMOVE"
	AuditBatchComplete = "BATCH_COMPLETE"
	AuditBatchLost     = "BATCH_LOST"
	AuditExport        = "EXPORT"
)

type AuditEntry struct {
	Tick   uint64  `json:"tick"`
	Actor  string  `json:"actor"`
	Action string  `json:"action"`
	Pos    [3]int  `json:"pos"`
	Item   string  `json:"item,omitempty"`
	Count  int     `json:"count,omitempty"`
	Recipe string  `json:"recipe,omitempty"`
	Target *[3]int `json:"target,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

type tickEvents struct {
	started   []string
	stopped   []string
	completed []string
}

func (w *World) audit(e AuditEntry) {
	e.Tick = w.tick.Load()
	if w.auditLogger != nil {
		_ = w.auditLogger.WriteAudit(e)
	}
}

// chamberEvents turns chamber callbacks into tick log and audit records.
type chamberEvents struct{ w *World }

func (e chamberEvents) WorkingChanged(c *machine.Chamber, working bool) {
	if working {
		e.w.cur.started = append(e.w.cur.started, c.ID())
	} else {
		e.w.cur.stopped = append(e.w.cur.stopped, c.ID())
	}
}

func (e chamberEvents) Saved(*machine.Chamber) {}

func (e chamberEvents) BatchCompleted(c *machine.Chamber, r catalogs.RecipeDef) {
	e.w.cur.completed = append(e.w.cur.completed, c.ID())
	e.w.audit(AuditEntry{
		Actor:  c.ID(),
		Action: AuditBatchComplete,
		Pos:    posArray(c.Pos()),
		Item:   r.Output.Item,
		Count:  r.Output.Count,
		Recipe: r.RecipeID,
	})
}

func (e chamberEvents) BatchLost(c *machine.Chamber, r catalogs.RecipeDef) {
	e.w.log.Printf("chamber %s at %v: output full on completion, batch %s lost", c.ID(), c.Pos(), r.RecipeID)
	e.w.audit(AuditEntry{
		Actor:  c.ID(),
		Action: AuditBatchLost,
		Pos:    posArray(c.Pos()),
		Recipe: r.RecipeID,
		Reason: "output full",
	})
}

func (e chamberEvents) Exported(c *machine.Chamber, target cube.Pos, moved inventory.Stack) {
	t := posArray(target)
	e.w.audit(AuditEntry{
		Actor:  c.ID(),
		Action: AuditExport,
		Pos:    posArray(c.Pos()),
		Item:   moved.Item,
		Count:  moved.Count,
		Target: &t,
	})
}

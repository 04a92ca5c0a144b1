package world

import (
	"log"
	"sort"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/block/cube"

	"chamberworks.ai/internal/persistence/snapshot"
	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/energy"
	"chamberworks.ai/internal/sim/grid"
	"chamberworks.ai/internal/sim/machine"
	"chamberworks.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int

	Chamber machine.Config
	Grid    tuning.Grid
}

func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Chamber:            machine.ConfigFromTuning(t),
		Grid:               t.Grid,
	}
}

// World hosts reaction chambers, the containers they export into and the
// grid services they draw on.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	log      *log.Logger

	tick atomic.Uint64

	ticks     *grid.TickManager
	gridPower *energy.Buffer

	chambers   map[cube.Pos]*machine.Chamber
	byID       map[string]*machine.Chamber
	containers map[cube.Pos]*Container

	inbox        chan CommandRequest
	observerReqs chan ObserverRequest
	admin        chan adminSnapshotReq
	stop         chan struct{}

	observers map[string]*observerClient

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	// Events collected while the current tick runs.
	cur tickEvents

	metrics atomic.Value
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, logger *log.Logger) *World {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags)
	}
	return &World{
		cfg:          cfg,
		catalogs:     cats,
		log:          logger,
		ticks:        grid.NewTickManager(),
		gridPower:    energy.NewBuffer(float64(cfg.Grid.EnergyCapacity), float64(cfg.Grid.InitialEnergy)),
		chambers:     map[cube.Pos]*machine.Chamber{},
		byID:         map[string]*machine.Chamber{},
		containers:   map[cube.Pos]*Container{},
		inbox:        make(chan CommandRequest, 1024),
		observerReqs: make(chan ObserverRequest, 256),
		admin:        make(chan adminSnapshotReq, 8),
		stop:         make(chan struct{}),
		observers:    map[string]*observerClient{},
	}
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- CommandRequest             { return w.inbox }
func (w *World) ObserverRequests() chan<- ObserverRequest { return w.observerReqs }

func (w *World) ID() string                   { return w.cfg.ID }
func (w *World) Config() WorldConfig          { return w.cfg }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }
func (w *World) Grid() *energy.Buffer         { return w.gridPower }
func (w *World) Ticks() *grid.TickManager     { return w.ticks }
func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }

func (w *World) Chamber(pos cube.Pos) *machine.Chamber  { return w.chambers[pos] }
func (w *World) ChamberByID(id string) *machine.Chamber { return w.byID[id] }
func (w *World) Container(pos cube.Pos) *Container      { return w.containers[pos] }

// Chambers returns every chamber in id order.
func (w *World) Chambers() []*machine.Chamber {
	ids := make([]string, 0, len(w.byID))
	for id := range w.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*machine.Chamber, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.byID[id])
	}
	return out
}

func (w *World) services() machine.Services {
	svc := machine.Services{
		Energy:   w.gridPower,
		Ticks:    w.ticks,
		World:    surroundings{w: w},
		Listener: chamberEvents{w: w},
	}
	if w.catalogs != nil {
		svc.Recipes = &w.catalogs.Recipes
	}
	return svc
}

// surroundings answers neighbour queries for chambers.
type surroundings struct{ w *World }

func (s surroundings) IsChamber(pos cube.Pos) bool {
	_, ok := s.w.chambers[pos]
	return ok
}

func (s surroundings) ExternalInventory(pos cube.Pos, _ cube.Face) (machine.ItemReceiver, bool) {
	c, ok := s.w.containers[pos]
	if !ok {
		return nil, false
	}
	return c, true
}

func (s surroundings) BlockName(pos cube.Pos) string {
	if _, ok := s.w.chambers[pos]; ok {
		return machine.BlockName
	}
	if _, ok := s.w.containers[pos]; ok {
		return ContainerBlock
	}
	return "AIR"
}

func posArray(p cube.Pos) [3]int     { return [3]int{p.X(), p.Y(), p.Z()} }
func posFromArray(a [3]int) cube.Pos { return cube.Pos{a[0], a[1], a[2]} }

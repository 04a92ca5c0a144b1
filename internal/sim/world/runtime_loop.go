package world

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingCommands []CommandRequest
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerReqs:
			w.handleObserverRequest(req)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case req := <-w.inbox:
			pendingCommands = append(pendingCommands, req)
		case <-ticker.C:
			w.step(pendingCommands)
			w.handleAdminSnapshotRequests(pendingAdmin)
			pendingCommands = pendingCommands[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering
// semantics as Run. It is intended for tests and offline tools.
func (w *World) StepOnce(cmds []Command) (tick uint64, digest string) {
	reqs := make([]CommandRequest, 0, len(cmds))
	for _, c := range cmds {
		reqs = append(reqs, CommandRequest{Cmd: c})
	}
	tick = w.tick.Load()
	digest = w.step(reqs)
	return tick, digest
}

// step applies queued commands, runs the tick manager once and emits the
// tick log, observer updates and periodic snapshots.
func (w *World) step(cmds []CommandRequest) string {
	start := time.Now()
	tick := w.tick.Load()
	w.cur = tickEvents{}

	entry := TickLogEntry{Tick: tick}
	for _, req := range cmds {
		res := w.ApplyCommand(req.Cmd)
		entry.Commands = append(entry.Commands, RecordedCommand{Cmd: req.Cmd, Code: res.Code})
		if req.Resp != nil {
			select {
			case req.Resp <- res:
			default:
			}
		}
	}

	res := w.ticks.Tick()
	for _, d := range res.Devices {
		entry.Devices = append(entry.Devices, DeviceTick{ID: d.ID, Modulation: d.Modulation.String()})
	}
	entry.Started = w.cur.started
	entry.Stopped = w.cur.stopped
	entry.Completed = w.cur.completed
	entry.EnergyDrawn = w.gridPower.TakeDrawn()
	entry.Digest = w.stateDigest(tick)

	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(entry)
	}
	w.broadcastObservers(tick)

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && tick > 0 && tick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		select {
		case w.snapshotSink <- w.ExportSnapshot(tick):
		default:
			w.log.Printf("snapshot sink full; skipped tick %d", tick)
		}
	}

	w.tick.Add(1)
	w.storeMetrics(tick, time.Since(start))
	return entry.Digest
}

// stateDigest hashes every chamber's client view, progress and power plus
// the grid level, in id order.
func (w *World) stateDigest(tick uint64) string {
	h := sha256.New()
	var tmp [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	put(tick)
	put(math.Float64bits(w.gridPower.Stored()))
	for _, c := range w.Chambers() {
		h.Write([]byte(c.ID()))
		h.Write(c.WriteToStream())
		put(uint64(c.ProcessingTime()))
		put(math.Float64bits(c.Power().Stored()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WorldMetrics is a read-only view updated by the world loop and read from
// HTTP handlers.
type WorldMetrics struct {
	Tick       uint64  `json:"tick"`
	Chambers   int     `json:"chambers"`
	Working    int     `json:"working"`
	Containers int     `json:"containers"`
	Observers  int     `json:"observers"`
	GridEnergy float64 `json:"grid_energy"`
	InboxDepth int     `json:"inbox_depth"`
	StepMS     float64 `json:"step_ms"`
}

func (w *World) storeMetrics(tick uint64, took time.Duration) {
	m := WorldMetrics{
		Tick:       tick,
		Chambers:   len(w.chambers),
		Containers: len(w.containers),
		Observers:  len(w.observers),
		GridEnergy: w.gridPower.Stored(),
		InboxDepth: len(w.inbox),
		StepMS:     float64(took.Microseconds()) / 1000,
	}
	for _, c := range w.chambers {
		if c.IsWorking() {
			m.Working++
		}
	}
	w.metrics.Store(m)
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m, _ := w.metrics.Load().(WorldMetrics)
	return m
}

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	if w == nil || w.admin == nil {
		return 0, errors.New("admin snapshot not available")
	}
	resp := make(chan adminSnapshotResp, 1)
	select {
	case w.admin <- adminSnapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case w.snapshotSink <- w.ExportSnapshot(snapTick):
		default:
			errStr = "snapshot sink full"
		}
	}
	for _, r := range reqs {
		r.Resp <- adminSnapshotResp{Tick: snapTick, Err: errStr}
	}
}

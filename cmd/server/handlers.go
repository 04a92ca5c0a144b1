package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"time"

	"chamberworks.ai/internal/persistence/objmirror"
	"chamberworks.ai/internal/sim/world"
	"chamberworks.ai/internal/transport/observer"
)

const commandTimeout = 5 * time.Second

func newMux(w *world.World, idx runtimeIndex, mirror *objmirror.Mirror, enableAdmin bool, logger *log.Logger) *http.ServeMux {
	worldID := w.ID()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP chamberworks_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE chamberworks_world_tick gauge\n")
		fmt.Fprintf(rw, "chamberworks_world_tick{world=%q} %d\n", worldID, tick)

		fmt.Fprintf(rw, "# HELP chamberworks_chambers Reaction chambers in the world.\n")
		fmt.Fprintf(rw, "# TYPE chamberworks_chambers gauge\n")
		fmt.Fprintf(rw, "chamberworks_chambers{world=%q,state=%q} %d\n", worldID, "working", m.Working)
		fmt.Fprintf(rw, "chamberworks_chambers{world=%q,state=%q} %d\n", worldID, "idle", m.Chambers-m.Working)

		fmt.Fprintf(rw, "# HELP chamberworks_containers Storage containers in the world.\n")
		fmt.Fprintf(rw, "# TYPE chamberworks_containers gauge\n")
		fmt.Fprintf(rw, "chamberworks_containers{world=%q} %d\n", worldID, m.Containers)

		fmt.Fprintf(rw, "# HELP chamberworks_observers Connected observers.\n")
		fmt.Fprintf(rw, "# TYPE chamberworks_observers gauge\n")
		fmt.Fprintf(rw, "chamberworks_observers{world=%q} %d\n", worldID, m.Observers)

		fmt.Fprintf(rw, "# HELP chamberworks_grid_energy Energy stored in the grid.\n")
		fmt.Fprintf(rw, "# TYPE chamberworks_grid_energy gauge\n")
		fmt.Fprintf(rw, "chamberworks_grid_energy{world=%q} %.2f\n", worldID, m.GridEnergy)

		fmt.Fprintf(rw, "# HELP chamberworks_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE chamberworks_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "chamberworks_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "inbox", m.InboxDepth)

		fmt.Fprintf(rw, "# HELP chamberworks_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE chamberworks_world_step_ms gauge\n")
		fmt.Fprintf(rw, "chamberworks_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP chamberworks_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE chamberworks_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "chamberworks_index_queue_depth{world=%q} %d\n", worldID, st.QueueDepth)
			fmt.Fprintf(rw, "# HELP chamberworks_index_dropped_total Index entries dropped under load.\n")
			fmt.Fprintf(rw, "# TYPE chamberworks_index_dropped_total counter\n")
			fmt.Fprintf(rw, "chamberworks_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "tick", st.DropTickTotal)
			fmt.Fprintf(rw, "chamberworks_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "audit", st.DropAuditTotal)
			fmt.Fprintf(rw, "chamberworks_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "snapshot", st.DropSnapshotTotal)
		}
		if mirror != nil {
			ms := mirror.Stats()
			fmt.Fprintf(rw, "# HELP chamberworks_mirror_queue_depth Files waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE chamberworks_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "chamberworks_mirror_queue_depth %d\n", ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP chamberworks_mirror_files_total Mirrored files by outcome.\n")
			fmt.Fprintf(rw, "# TYPE chamberworks_mirror_files_total counter\n")
			fmt.Fprintf(rw, "chamberworks_mirror_files_total{outcome=%q} %d\n", "uploaded", ms.UploadedTotal)
			fmt.Fprintf(rw, "chamberworks_mirror_files_total{outcome=%q} %d\n", "failed", ms.FailedTotal)
			fmt.Fprintf(rw, "chamberworks_mirror_files_total{outcome=%q} %d\n", "dropped", ms.DroppedTotal)
		}
	})

	if !enableAdmin {
		return mux
	}

	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			WorldID string             `json:"world_id"`
			Tick    uint64             `json:"tick"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{
			WorldID: worldID,
			Tick:    w.CurrentTick(),
			Metrics: w.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel2()
		tick, err := w.RequestSnapshot(ctx2)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	})
	mux.HandleFunc("/admin/v1/commands", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var cmd world.Command
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024)).Decode(&cmd); err != nil {
			http.Error(rw, "bad command: "+err.Error(), http.StatusBadRequest)
			return
		}
		res, err := submitCommand(r.Context(), w, cmd)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if !res.OK {
			rw.WriteHeader(http.StatusUnprocessableEntity)
		}
		_ = json.NewEncoder(rw).Encode(res)
	})

	obsSrv := observer.NewServer(w, log.New(logger.Writer(), "[observer] ", logger.Flags()))
	mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())

	if envBool("CW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// submitCommand queues cmd for the next tick and waits for its result.
func submitCommand(ctx context.Context, w *world.World, cmd world.Command) (world.CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	resp := make(chan world.CommandResult, 1)
	select {
	case w.Inbox() <- world.CommandRequest{Cmd: cmd, Resp: resp}:
	case <-ctx.Done():
		return world.CommandResult{}, fmt.Errorf("world busy: %w", ctx.Err())
	}
	select {
	case res := <-resp:
		return res, nil
	case <-ctx.Done():
		return world.CommandResult{}, fmt.Errorf("no result: %w", ctx.Err())
	}
}

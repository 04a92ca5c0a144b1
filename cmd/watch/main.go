package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/gorilla/websocket"

	"chamberworks.ai/internal/observerproto"
	"chamberworks.ai/internal/sim/machine"
	"chamberworks.ai/internal/sim/tuning"
	"chamberworks.ai/internal/sim/world"
)

func main() {
	var (
		url    = flag.String("url", "ws://127.0.0.1:8080/admin/v1/observer/ws", "observer ws url")
		center = flag.String("center", "0,64,0", "subscription center x,y,z")
		radius = flag.Int("radius", 0, "subscription radius in blocks (0 = every chamber)")
		every  = flag.Uint64("every", 100, "print every chamber each N ticks (0 = only changes)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	c, err := parseCenter(*center)
	if err != nil {
		logger.Fatalf("bad -center: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Center:          c,
		Radius:          *radius,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	rep := newReplica(machine.ConfigFromTuning(tuning.Defaults()))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}
		switch base.Type {
		case observerproto.TypeError:
			var e observerproto.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			logger.Fatalf("server error %s: %s", e.Code, e.Message)

		case observerproto.TypeMachines:
			var m observerproto.MachinesMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			events, err := rep.apply(m)
			if err != nil {
				logger.Printf("tick %d: %v", m.Tick, err)
			}
			for _, e := range events {
				logger.Printf("tick %d: %s", m.Tick, e)
			}
			if *every > 0 && m.Tick%*every == 0 {
				logger.Printf("tick %d: grid=%.1f chambers=%d", m.Tick, m.GridEnergy, len(m.Machines))
				for _, line := range rep.lines() {
					logger.Printf("  %s", line)
				}
			}
		}
	}
}

// replica rebuilds each observed chamber's slots and tank from its sync
// stream, the way a client view would.
type replica struct {
	cfg      machine.Config
	chambers map[string]*machine.Chamber
	last     map[string]observerproto.MachineState
}

func newReplica(cfg machine.Config) *replica {
	return &replica{
		cfg:      cfg,
		chambers: map[string]*machine.Chamber{},
		last:     map[string]observerproto.MachineState{},
	}
}

// apply ingests one MACHINES message and returns the changes worth printing.
func (r *replica) apply(msg observerproto.MachinesMsg) ([]string, error) {
	var events []string
	var firstErr error
	seen := map[string]bool{}
	for _, ms := range msg.Machines {
		seen[ms.ID] = true
		c := r.chambers[ms.ID]
		if c == nil {
			facing, _ := world.ParseFacing(ms.Facing)
			c = machine.New(ms.ID, cube.Pos{ms.Pos[0], ms.Pos[1], ms.Pos[2]}, facing, r.cfg, machine.Services{})
			r.chambers[ms.ID] = c
			events = append(events, fmt.Sprintf("%s appeared at %v facing %s", shortID(ms.ID), ms.Pos, ms.Facing))
		}
		b, err := base64.StdEncoding.DecodeString(ms.Stream)
		if err == nil {
			err = c.ReadFromStream(b)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", shortID(ms.ID), err)
		}

		prev, known := r.last[ms.ID]
		switch {
		case known && !prev.Working && ms.Working:
			events = append(events, fmt.Sprintf("%s started %s", shortID(ms.ID), ms.Recipe))
		case known && prev.Working && !ms.Working:
			events = append(events, fmt.Sprintf("%s stopped", shortID(ms.ID)))
		}
		r.last[ms.ID] = ms
	}
	var gone []string
	for id := range r.chambers {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	for _, id := range gone {
		delete(r.chambers, id)
		delete(r.last, id)
		events = append(events, fmt.Sprintf("%s left view", shortID(id)))
	}
	return events, firstErr
}

// lines renders every known chamber, ordered by id.
func (r *replica) lines() []string {
	ids := make([]string, 0, len(r.chambers))
	for id := range r.chambers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		c := r.chambers[id]
		ms := r.last[id]
		var inputs []string
		for _, s := range c.Input().Stacks() {
			if !s.Empty() {
				inputs = append(inputs, fmt.Sprintf("%dx%s", s.Count, s.Item))
			}
		}
		line := fmt.Sprintf("%s %v working=%v %d/%d in=[%s]", shortID(id), ms.Pos, ms.Working, ms.Progress, ms.MaxSteps, strings.Join(inputs, " "))
		if out0 := c.Output().Get(0); !out0.Empty() {
			line += fmt.Sprintf(" out=%dx%s", out0.Count, out0.Item)
		}
		if f := c.Tank().Get(); !f.Empty() {
			line += fmt.Sprintf(" tank=%dmB %s", f.Amount, f.Fluid)
		}
		out = append(out, line)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func parseCenter(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

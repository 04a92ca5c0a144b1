package world

import (
	"encoding/base64"
	"encoding/json"

	"github.com/go-gl/mathgl/mgl64"

	"chamberworks.ai/internal/observerproto"
	"chamberworks.ai/internal/sim/machine"
)

const maxObserverRadius = 1024

type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	Center [3]int
	Radius int
}

type ObserverSubscribeRequest struct {
	SessionID string
	Center    [3]int
	Radius    int
}

// ObserverRequest carries one of a join, a subscription update or a leave.
// A session sends all of them on the same channel, so the world applies them
// in the order they were sent.
type ObserverRequest struct {
	Join      *ObserverJoinRequest
	Subscribe *ObserverSubscribeRequest
	Leave     string
}

type observerClient struct {
	id      string
	tickOut chan []byte

	center mgl64.Vec3
	radius float64
}

func clampRadius(r int) int {
	if r < 0 {
		return 0
	}
	if r > maxObserverRadius {
		return maxObserverRadius
	}
	return r
}

func centerOf(p [3]int) mgl64.Vec3 {
	return posFromArray(p).Vec3Centre()
}

func (w *World) handleObserverRequest(req ObserverRequest) {
	switch {
	case req.Join != nil:
		w.handleObserverJoin(*req.Join)
	case req.Subscribe != nil:
		w.handleObserverSubscribe(*req.Subscribe)
	case req.Leave != "":
		w.handleObserverLeave(req.Leave)
	}
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		center:  centerOf(req.Center),
		radius:  float64(clampRadius(req.Radius)),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.center = centerOf(req.Center)
	c.radius = float64(clampRadius(req.Radius))
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
}

// sees reports whether a chamber lies inside the observer's sphere. A zero
// radius sees everything.
func (c *observerClient) sees(m *machine.Chamber) bool {
	if c.radius == 0 {
		return true
	}
	return m.Pos().Vec3Centre().Sub(c.center).Len() <= c.radius
}

func machineState(c *machine.Chamber) observerproto.MachineState {
	st := observerproto.MachineState{
		ID:         c.ID(),
		Pos:        posArray(c.Pos()),
		Facing:     FacingName(c.Orientation().Facing),
		Stream:     base64.StdEncoding.EncodeToString(c.WriteToStream()),
		Working:    c.IsWorking(),
		Progress:   c.ProcessingTime(),
		MaxSteps:   c.MaxProcessingTime(),
		Power:      c.Power().Stored(),
		AutoExport: c.AutoExport(),
		Outputs:    c.AllowedOutputs().Names(),
		Upgrades:   c.InstalledUpgrades(machine.SpeedCard),
	}
	if id, ok := c.CachedRecipe(); ok {
		st.Recipe = id
	}
	if st.Outputs == nil {
		st.Outputs = []string{}
	}
	return st
}

func (w *World) broadcastObservers(tick uint64) {
	if len(w.observers) == 0 {
		return
	}
	chambers := w.Chambers()
	states := make([]observerproto.MachineState, len(chambers))
	for i, c := range chambers {
		states[i] = machineState(c)
	}

	for _, o := range w.observers {
		msg := observerproto.MachinesMsg{
			Type:            observerproto.TypeMachines,
			ProtocolVersion: observerproto.Version,
			Tick:            tick,
			GridEnergy:      w.gridPower.Stored(),
			Machines:        []observerproto.MachineState{},
		}
		for i, c := range chambers {
			if o.sees(c) {
				msg.Machines = append(msg.Machines, states[i])
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			w.log.Printf("observer %s: marshal: %v", o.id, err)
			continue
		}
		sendLatest(o.tickOut, b)
	}
}

// sendLatest replaces the oldest queued message when a slow observer falls
// behind.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

package machine

import (
	"math"

	"chamberworks.ai/internal/sim/catalogs"
	"chamberworks.ai/internal/sim/energy"
	"chamberworks.ai/internal/sim/grid"
)

// TickingRequest is read once when the chamber joins the tick manager.
func (c *Chamber) TickingRequest() grid.TickingRequest {
	return grid.TickingRequest{
		MinTicks: c.cfg.MinTicks,
		MaxTicks: c.cfg.MaxTicks,
		Sleeping: !c.hasAutoExportWork() && !c.HasCraftWork(),
	}
}

func (c *Chamber) hasAutoExportWork() bool {
	return !c.output.Get(0).Empty() && c.autoExport
}

// HasCraftWork reports whether a recipe matches and its whole result would
// fit into the output slot. Without a recipe progress is reset and the current
// working flag is returned, so a running chamber gets one more tick to halt.
func (c *Chamber) HasCraftWork() bool {
	if task, ok := c.Task(); ok {
		return c.output.Insert(0, task.Result(), true).Empty()
	}
	c.setProcessingTime(0)
	return c.working
}

// Task returns the cached recipe, looking it up when nothing is cached.
func (c *Chamber) Task() (catalogs.RecipeDef, bool) {
	if c.cachedTask == nil {
		r, ok := c.findRecipe()
		if !ok {
			return catalogs.RecipeDef{}, false
		}
		c.cachedTask = &r
	}
	return *c.cachedTask, true
}

// taskStillValid re-checks the cached recipe against the current inputs.
// Inputs that now belong to another recipe invalidate the cached one.
func (c *Chamber) taskStillValid() bool {
	if c.cachedTask != nil {
		return c.cachedTask.Matches(c.input.Stacks(), c.tank.Get())
	}
	_, ok := c.findRecipe()
	return ok
}

func (c *Chamber) findRecipe() (catalogs.RecipeDef, bool) {
	if c.svc.Recipes == nil {
		return catalogs.RecipeDef{}, false
	}
	return c.svc.Recipes.FindRecipe(c.input.Get(0), c.input.Get(1), c.input.Get(2), c.tank.Get())
}

// SpeedFactor is the number of progress steps one fully powered tick adds.
func (c *Chamber) SpeedFactor() int {
	if f, ok := c.cfg.SpeedFactors[c.InstalledUpgrades(SpeedCard)]; ok && f > 0 {
		return f
	}
	if f := c.cfg.SpeedFactors[0]; f > 0 {
		return f
	}
	return 2
}

// Tick runs one scheduling step and returns how soon it wants to run again.
func (c *Chamber) Tick(ticksSinceLastCall int) grid.TickRateModulation {
	if c.dirty {
		if !c.taskStillValid() {
			c.setProcessingTime(0)
			c.SetWorking(false)
			c.cachedTask = nil
		}
		c.dirty = false
	}

	if c.HasCraftWork() {
		c.SetWorking(true)
		if c.svc.Energy != nil {
			c.drawPower(c.svc.Energy)
		}

		if c.processingTime >= c.cfg.MaxProcessingSteps {
			c.setProcessingTime(0)
			if out, ok := c.Task(); ok {
				if c.output.Insert(0, out.Result(), false).Empty() {
					c.setProcessingTime(0)
					c.consumeInputs(out)
					c.svc.Listener.BatchCompleted(c, out)
				} else {
					c.svc.Listener.BatchLost(c, out)
				}
			}
			c.saveChanges()
			c.cachedTask = nil
			c.SetWorking(false)
		}
	}

	if c.PushOutResult() {
		return grid.Urgent
	}
	switch {
	case c.HasCraftWork():
		return grid.Urgent
	case c.hasAutoExportWork():
		return grid.Slower
	default:
		return grid.Sleep
	}
}

// drawPower advances progress by what this tick's power allows. The internal
// buffer is tried first and the grid only when the buffer cannot cover the
// full draw. A partial supply still buys a reduced number of steps.
func (c *Chamber) drawPower(gridSrc energy.Source) {
	task, ok := c.Task()
	if !ok {
		return
	}
	speedFactor := c.SpeedFactor()
	mult := c.cfg.PowerMultiplier

	progressReq := c.cfg.MaxProcessingSteps - c.processingTime
	powerRatio := float32(1)
	if progressReq < speedFactor {
		powerRatio = float32(progressReq) / float32(speedFactor)
	}
	requiredTicks := int(math.Ceil(float64(float32(c.cfg.MaxProcessingSteps) / float32(speedFactor))))
	powerConsumption := int(math.Floor(float64(float32(task.Energy) / float32(requiredTicks) * powerRatio)))
	powerThreshold := float64(powerConsumption) - 0.01

	var src energy.Source = c.power
	powerReq := src.ExtractAEPower(float64(powerConsumption), energy.Simulate, mult)
	if powerReq <= powerThreshold {
		src = gridSrc
		powerReq = src.ExtractAEPower(float64(powerConsumption), energy.Simulate, mult)
	}

	if powerReq > powerThreshold {
		src.ExtractAEPower(float64(powerConsumption), energy.Modulate, mult)
		c.setProcessingTime(c.processingTime + speedFactor)
	} else if powerReq != 0 {
		factor := int(math.Floor(float64(speedFactor) / (float64(powerConsumption) - powerReq)))
		if factor > 1 {
			src.ExtractAEPower(float64(powerConsumption*factor)/float64(speedFactor), energy.Modulate, mult)
			c.setProcessingTime(c.processingTime + factor)
		}
	}
}

// consumeInputs takes each recipe input from the first slots holding it and
// drains the recipe fluid from the tank.
func (c *Chamber) consumeInputs(r catalogs.RecipeDef) {
	for _, in := range r.Inputs {
		remaining := in.Count
		for x := 0; x < c.input.Size() && remaining > 0; x++ {
			st := c.input.Get(x)
			if st.Empty() || st.Item != in.Item {
				continue
			}
			n := min(remaining, st.Count)
			c.input.Set(x, st.WithCount(st.Count-n))
			remaining -= n
		}
	}
	if r.Fluid != nil {
		c.tank.Drain(r.Fluid.Amount, false)
	}
}

// PushOutResult hands the output stack to the first neighbouring inventory,
// in allowed-side order, that takes any of it. Other chambers are skipped.
func (c *Chamber) PushOutResult() bool {
	if !c.hasAutoExportWork() || c.svc.World == nil {
		return false
	}
	for _, rs := range c.allowedOutputs.Sides() {
		face := c.orientation.Face(rs)
		target := c.pos.Side(face)
		if c.svc.World.IsChamber(target) {
			continue
		}
		recv, ok := c.svc.World.ExternalInventory(target, face.Opposite())
		if !ok {
			continue
		}
		startItems := c.output.Get(0).Count
		extracted := c.output.Extract(0, c.cfg.ExportBatch, false)
		rest := recv.AddItems(extracted)
		c.output.Insert(0, rest, false)
		endItems := c.output.Get(0).Count

		if startItems != endItems {
			c.svc.Listener.Exported(c, target, extracted.WithCount(extracted.Count-rest.Count))
			return true
		}
	}
	return false
}

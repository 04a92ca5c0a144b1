package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Chamber Chamber `yaml:"chamber"`
	Grid    Grid    `yaml:"grid"`
}

type Chamber struct {
	MaxProcessingSteps int `yaml:"max_processing_steps"`
	MaxPowerStorage    int `yaml:"max_power_storage"`
	MaxTankCapacity    int `yaml:"max_tank_capacity"`
	SlotCapacity       int `yaml:"slot_capacity"`
	UpgradeSlots       int `yaml:"upgrade_slots"`
	ExportBatch        int `yaml:"export_batch"`

	// SpeedFactors maps installed speed cards to progress steps per tick.
	SpeedFactors map[int]int `yaml:"speed_factors"`

	MinTicks int `yaml:"min_ticks"`
	MaxTicks int `yaml:"max_ticks"`
}

type Grid struct {
	EnergyCapacity   int     `yaml:"energy_capacity"`
	InitialEnergy    int     `yaml:"initial_energy"`
	PowerMultiplier  float64 `yaml:"power_multiplier"`
	ContainerSlots   int     `yaml:"container_slots"`
	ContainerStackSz int     `yaml:"container_stack_size"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "0.1",
		TickRateHz:         20,
		SnapshotEveryTicks: 6000,
		Chamber: Chamber{
			MaxProcessingSteps: 200,
			MaxPowerStorage:    500000,
			MaxTankCapacity:    16000,
			SlotCapacity:       64,
			UpgradeSlots:       4,
			ExportBatch:        64,
			SpeedFactors:       map[int]int{0: 2, 1: 3, 2: 5, 3: 10, 4: 50},
			MinTicks:           1,
			MaxTicks:           20,
		},
		Grid: Grid{
			EnergyCapacity:   1600000,
			InitialEnergy:    0,
			PowerMultiplier:  1,
			ContainerSlots:   27,
			ContainerStackSz: 64,
		},
	}
}

// Load reads a tuning file. Keys missing from the file keep their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	c := t.Chamber
	if c.MaxProcessingSteps <= 0 {
		return fmt.Errorf("chamber.max_processing_steps must be > 0")
	}
	if c.SlotCapacity <= 0 || c.ExportBatch <= 0 {
		return fmt.Errorf("chamber slot_capacity and export_batch must be > 0")
	}
	if c.MinTicks <= 0 || c.MaxTicks < c.MinTicks {
		return fmt.Errorf("chamber tick bounds invalid: min=%d max=%d", c.MinTicks, c.MaxTicks)
	}
	for n := 0; n <= c.UpgradeSlots; n++ {
		if c.SpeedFactors[n] <= 0 {
			return fmt.Errorf("chamber.speed_factors[%d] missing or not positive", n)
		}
	}
	if t.Grid.PowerMultiplier <= 0 {
		return fmt.Errorf("grid.power_multiplier must be > 0")
	}
	return nil
}

package observerproto

// Version is the observer protocol version (separate from the admin command API).
const Version = "0.1"

// Message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeMachines  = "MACHINES"
	TypeError     = "ERROR"
)

// Error codes sent in ErrorMsg.
const (
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrProtoVersion = "E_PROTO_VERSION"
	ErrInternal     = "E_INTERNAL"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Center and Radius select the chambers to stream, in blocks. Radius 0
	// means every chamber in the world.
	Center [3]int `json:"center"`
	Radius int    `json:"radius"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Recipes         []string    `json:"recipes"`
}

type WorldParams struct {
	TickRateHz         int   `json:"tick_rate_hz"`
	MaxProcessingSteps int   `json:"max_processing_steps"`
	SpeedFactors       []int `json:"speed_factors"`
}

// Server -> Client. Sent every tick.
type MachinesMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Tick            uint64         `json:"tick"`
	GridEnergy      float64        `json:"grid_energy"`
	Machines        []MachineState `json:"machines"`
}

type MachineState struct {
	ID     string `json:"id"`
	Pos    [3]int `json:"pos"`
	Facing string `json:"facing"`

	// Stream is the base64 client sync payload: working flag, slots and tank.
	Stream string `json:"stream"`

	Working    bool     `json:"working"`
	Progress   int      `json:"progress"`
	MaxSteps   int      `json:"max_steps"`
	Recipe     string   `json:"recipe,omitempty"`
	Power      float64  `json:"power"`
	AutoExport bool     `json:"auto_export"`
	Outputs    []string `json:"outputs"`
	Upgrades   int      `json:"upgrades"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

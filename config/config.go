// Package config loads and defaults a Controller's JSON configuration
// (§6 "Configuration"). The shape — unmarshal into a typed struct, then
// run a separate applyDefaults pass that only fills zero-valued fields
// — follows the teacher firmware's standalone/config/config.go
// LoadConfig/applyDefaults directly, generalized from a firmware
// MachineConfig to the controller's serial/dialect/queue settings.
package config

import "encoding/json"

// Dialect names which protocol state machine a Config selects.
type Dialect string

const (
	DialectGRBL  Dialect = "grbl"
	DialectTinyG Dialect = "tinyg"
)

// Config is the recognized configuration surface from §6.
type Config struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty"` // "N", "E", "O"

	Dialect Dialect `json:"dialect"`

	UsedAxes    string    `json:"used_axes,omitempty"` // e.g. "xyz"
	HomableAxes string    `json:"homable_axes,omitempty"`
	AxisMaxFeeds []float64 `json:"axis_max_feeds,omitempty"`

	MaxUnackedRequests int `json:"max_unacked_requests,omitempty"` // TinyG, default 32
	RxBufferSize       int `json:"rx_buffer_size,omitempty"`       // GRBL, default 128
	BlockBufferSize    int `json:"block_buffer_size,omitempty"`    // GRBL, autodetected from OPT
	PlannerQueueSize   int `json:"planner_queue_size,omitempty"`   // TinyG, default 28

	StatusUpdateIntervalMS int `json:"status_update_interval_ms,omitempty"` // default 250

	StreamSendQueueHighWaterMark int `json:"stream_send_queue_high_water_mark,omitempty"` // default 20
	StreamSendQueueLowWaterMark  int `json:"stream_send_queue_low_water_mark,omitempty"`  // default min(10, hwm/5)

	RealTimeMovesMaxQueued         int     `json:"real_time_moves_max_queued,omitempty"`          // default 8
	RealTimeMovesMaxOvershootFactor float64 `json:"real_time_moves_max_overshoot_factor,omitempty"` // default 2

	// ProbeUsesMachineCoords is TinyG's coord-frame policy (§4.6):
	// nil means auto-detect, else true/false pins the policy.
	ProbeUsesMachineCoords *bool `json:"probe_uses_machine_coords,omitempty"`

	Retry bool `json:"retry,omitempty"`
}

// Load parses a JSON configuration blob and applies defaults.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills in every zero-valued field with the default
// named in §6, mirroring the teacher's applyDefaults pass.
func applyDefaults(cfg *Config) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectGRBL
	}
	if cfg.UsedAxes == "" {
		cfg.UsedAxes = "xyz"
	}
	if cfg.HomableAxes == "" {
		cfg.HomableAxes = cfg.UsedAxes
	}
	if cfg.MaxUnackedRequests == 0 {
		cfg.MaxUnackedRequests = 32
	}
	if cfg.RxBufferSize == 0 {
		cfg.RxBufferSize = 128
	}
	if cfg.PlannerQueueSize == 0 {
		cfg.PlannerQueueSize = 28
	}
	if cfg.StatusUpdateIntervalMS == 0 {
		cfg.StatusUpdateIntervalMS = 250
	}
	if cfg.StreamSendQueueHighWaterMark == 0 {
		cfg.StreamSendQueueHighWaterMark = 20
	}
	if cfg.StreamSendQueueLowWaterMark == 0 {
		lwm := cfg.StreamSendQueueHighWaterMark / 5
		if lwm > 10 {
			lwm = 10
		}
		if lwm < 1 {
			lwm = 1
		}
		cfg.StreamSendQueueLowWaterMark = lwm
	}
	if cfg.RealTimeMovesMaxQueued == 0 {
		cfg.RealTimeMovesMaxQueued = 8
	}
	if cfg.RealTimeMovesMaxOvershootFactor == 0 {
		cfg.RealTimeMovesMaxOvershootFactor = 2
	}
	if len(cfg.AxisMaxFeeds) == 0 {
		cfg.AxisMaxFeeds = make([]float64, len(cfg.UsedAxes))
		for i := range cfg.AxisMaxFeeds {
			cfg.AxisMaxFeeds[i] = 1000
		}
	}
}

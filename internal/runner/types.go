package runner

import (
	"fmt"
	"time"

	"dsbench/internal/engine"
	"dsbench/internal/probe"
	"dsbench/internal/ramp"
	"dsbench/internal/transport"
	"dsbench/internal/wire"
)

type Config struct {
	Connections      int `mapstructure:"connections"`
	MessagesPerRound int `mapstructure:"messages"`

	URLTemplate    string        `mapstructure:"url-template"`
	PerAddress     int           `mapstructure:"per-address"`
	AddressCount   int           `mapstructure:"addresses"`
	EventName      string        `mapstructure:"event"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	Window         int           `mapstructure:"window"`

	// Readiness probe: "process" or "none"
	Probe         string        `mapstructure:"probe"`
	ProbePort     int           `mapstructure:"probe-port"`
	ProbeInterval time.Duration `mapstructure:"probe-interval"`

	MetricsAddr string `mapstructure:"metrics-addr"`
}

const (
	ProbeProcess = "process"
	ProbeNone    = "none"
)

func DefaultConfig() Config {
	plan := ramp.DefaultAddressPlan()
	return Config{
		URLTemplate:    plan.Template,
		PerAddress:     plan.PerAddress,
		AddressCount:   plan.Count,
		EventName:      "eventName",
		ConnectTimeout: transport.DefaultConnectTimeout,
		Window:         engine.DefaultWindow,
		Probe:          ProbeProcess,
		ProbePort:      6020,
		ProbeInterval:  probe.DefaultInterval,
	}
}

func (c Config) Target() (ramp.RunTarget, error) {
	return ramp.NewRunTarget(c.Connections, c.MessagesPerRound)
}

func (c Config) AddressPlan() ramp.AddressPlan {
	return ramp.AddressPlan{
		Template:   c.URLTemplate,
		PerAddress: c.PerAddress,
		Count:      c.AddressCount,
	}
}

func (c Config) Validate() error {
	if _, err := c.Target(); err != nil {
		return err
	}
	if err := c.AddressPlan().Validate(); err != nil {
		return err
	}
	if len(c.EventName) != wire.EventNameSize {
		return fmt.Errorf("event name %q must be %d bytes so each notification is one %d byte unit",
			c.EventName, wire.EventNameSize, wire.UnitSize)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", c.Window)
	}
	switch c.Probe {
	case ProbeProcess, ProbeNone:
	default:
		return fmt.Errorf("unknown probe %q (want %s or %s)", c.Probe, ProbeProcess, ProbeNone)
	}
	return nil
}

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseProbing
	PhaseRamping
	PhaseBenchmark
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseProbing:
		return "Waiting for server"
	case PhaseRamping:
		return "Ramping"
	case PhaseBenchmark:
		return "Benchmark"
	case PhaseDone:
		return "Done"
	case PhaseFailed:
		return "Failed"
	}
	return "Unknown"
}

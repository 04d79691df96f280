// Package config loads the settings shared by the simulator, the collector
// and the log tools: an optional YAML file, then .env and environment
// overrides.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dlobba/lwb-cc2538/go/internal/deployment"
	"github.com/dlobba/lwb-cc2538/go/internal/glossy"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	InitiatorID           uint16 `yaml:"initiator_id"`
	NTx                   uint8  `yaml:"n_tx"`
	PayloadDataLen        int    `yaml:"payload_data_len"`
	PeriodMs              int    `yaml:"period_ms"`
	SlotMs                int    `yaml:"slot_ms"`
	GuardMs               int    `yaml:"guard_ms"`
	InitiatorStartDelayMs int    `yaml:"initiator_start_delay_ms"`
	ReceiverStartDelayMs  int    `yaml:"receiver_start_delay_ms"`
	// Tag is the hex encoded integrity tag.
	Tag string `yaml:"tag"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	NATSURL     string `yaml:"nats_url"`
	MetricsAddr string `yaml:"metrics_addr"`

	Deployment []deployment.Entry `yaml:"deployment"`
	Simulation Simulation         `yaml:"simulation"`
	Collector  Collector          `yaml:"collector"`
	Database   Database           `yaml:"database"`
}

type Simulation struct {
	Loss      float64   `yaml:"loss"`
	Corrupt   float64   `yaml:"corrupt"`
	Seed      uint64    `yaml:"seed"`
	HopTimeUs int       `yaml:"hop_time_us"`
	Nodes     []SimNode `yaml:"nodes"`
}

// SimNode places a simulated device in the network.
type SimNode struct {
	Addr deployment.IEEEAddr `yaml:"ieee_addr"`
	Hops uint8               `yaml:"hops"`
}

type Collector struct {
	ListenAddr string `yaml:"listen_addr"`
	Consumer   string `yaml:"consumer"`
}

// Default mirrors the firmware build defaults.
func Default() Config {
	return Config{
		NTx:                   round.DefaultNTx,
		PayloadDataLen:        round.DefaultPayloadDataLen,
		PeriodMs:              250,
		SlotMs:                20,
		GuardMs:               1,
		InitiatorStartDelayMs: 10000,
		ReceiverStartDelayMs:  2000,
		Tag:                   hex.EncodeToString(round.DefaultTag),
		LogLevel:              "info",
		LogFormat:             "console",
		Simulation: Simulation{
			HopTimeUs: 4000,
		},
		Collector: Collector{
			ListenAddr: ":8090",
			Consumer:   "glossy-collector",
		},
		Database: DefaultDatabase(),
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	initiator, err := getEnvAsUint("GLOSSY_INITIATOR_ID", uint64(c.InitiatorID), 16)
	if err != nil {
		return err
	}
	c.InitiatorID = uint16(initiator)
	nTx, err := getEnvAsUint("GLOSSY_N_TX", uint64(c.NTx), 8)
	if err != nil {
		return err
	}
	c.NTx = uint8(nTx)
	c.PayloadDataLen = getEnvAsInt("GLOSSY_PAYLOAD_DATA_LEN", c.PayloadDataLen)
	c.PeriodMs = getEnvAsInt("GLOSSY_PERIOD_MS", c.PeriodMs)
	c.SlotMs = getEnvAsInt("GLOSSY_SLOT_MS", c.SlotMs)
	c.GuardMs = getEnvAsInt("GLOSSY_GUARD_MS", c.GuardMs)
	c.Tag = getEnv("GLOSSY_TAG", c.Tag)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.Collector.ListenAddr = getEnv("COLLECTOR_ADDR", c.Collector.ListenAddr)
	c.Database.applyEnv()
	return nil
}

func (c *Config) Validate() error {
	if c.InitiatorID == 0 {
		return fmt.Errorf("%w: initiator_id is required", ErrInvalid)
	}
	if c.NTx == 0 {
		return fmt.Errorf("%w: n_tx must be positive", ErrInvalid)
	}
	if c.PayloadDataLen <= 0 {
		return fmt.Errorf("%w: payload_data_len must be positive", ErrInvalid)
	}
	if _, err := c.TagBytes(); err != nil {
		return fmt.Errorf("%w: tag: %v", ErrInvalid, err)
	}
	if c.Simulation.Loss < 0 || c.Simulation.Loss > 1 {
		return fmt.Errorf("%w: loss %v outside [0,1]", ErrInvalid, c.Simulation.Loss)
	}
	if c.Simulation.Corrupt < 0 || c.Simulation.Corrupt > 1 {
		return fmt.Errorf("%w: corrupt %v outside [0,1]", ErrInvalid, c.Simulation.Corrupt)
	}

	rc, err := c.Driver(glossy.NodeID(c.InitiatorID))
	if err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if len(c.Simulation.Nodes) > 0 {
		nodes, err := c.SimNodes()
		if err != nil {
			return err
		}
		found := false
		for _, n := range nodes {
			if n.ID == glossy.NodeID(c.InitiatorID) {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("%w: initiator %d is not among the simulated nodes", ErrInvalid, c.InitiatorID)
		}
	}
	return nil
}

// TagBytes decodes the integrity tag.
func (c *Config) TagBytes() ([]byte, error) {
	return hex.DecodeString(c.Tag)
}

// Driver builds the round driver configuration for one node. Millisecond
// settings are truncated to whole clock ticks.
func (c *Config) Driver(nodeID glossy.NodeID) (round.Config, error) {
	tag, err := c.TagBytes()
	if err != nil {
		return round.Config{}, fmt.Errorf("%w: tag: %v", ErrInvalid, err)
	}
	return round.Config{
		NodeID:              nodeID,
		InitiatorID:         glossy.NodeID(c.InitiatorID),
		NTx:                 c.NTx,
		PayloadDataLen:      c.PayloadDataLen,
		Period:              ms(c.PeriodMs),
		Slot:                ms(c.SlotMs),
		Guard:               ms(c.GuardMs),
		InitiatorStartDelay: ms(c.InitiatorStartDelayMs),
		ReceiverStartDelay:  ms(c.ReceiverStartDelayMs),
		Tag:                 tag,
	}, nil
}

// ResolvedNode is a simulated node with its id assigned.
type ResolvedNode struct {
	ID   glossy.NodeID
	Addr deployment.IEEEAddr
	Hops uint8
}

// SimNodes assigns node ids to the simulated devices through the deployment
// table.
func (c *Config) SimNodes() ([]ResolvedNode, error) {
	table, err := deployment.NewTable(c.Deployment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[glossy.NodeID]bool, len(c.Simulation.Nodes))
	nodes := make([]ResolvedNode, 0, len(c.Simulation.Nodes))
	for _, n := range c.Simulation.Nodes {
		id, err := table.NodeID(n.Addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if seen[glossy.NodeID(id)] {
			return nil, fmt.Errorf("%w: node id %d assigned twice", ErrInvalid, id)
		}
		seen[glossy.NodeID(id)] = true
		nodes = append(nodes, ResolvedNode{ID: glossy.NodeID(id), Addr: n.Addr, Hops: n.Hops})
	}
	return nodes, nil
}

// HopTime is the simulated relay slot length in ticks.
func (c *Config) HopTime() rtimer.Time {
	return rtimer.Ticks(time.Duration(c.Simulation.HopTimeUs) * time.Microsecond)
}

func ms(v int) rtimer.Time {
	return rtimer.Ticks(time.Duration(v) * time.Millisecond)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsUint reads an unsigned value of the given bit size. Unlike
// getEnvAsInt, a value that does not fit is an error rather than ignored.
func getEnvAsUint(key string, defaultValue uint64, bitSize int) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseUint(value, 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a %d-bit unsigned integer", ErrInvalid, key, value, bitSize)
	}
	return v, nil
}

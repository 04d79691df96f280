package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlobba/lwb-cc2538/go/internal/glossy"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

const sample = `
initiator_id: 1
n_tx: 3
payload_data_len: 32
tag: "cafe"
nats_url: "nats://broker:4222"
deployment:
  - ieee_addr: "00:12:4b:00:06:0d:b6:3a"
    node_id: 1
simulation:
  loss: 0.1
  seed: 42
  nodes:
    - ieee_addr: "00:12:4b:00:06:0d:b6:3a"
      hops: 0
    - ieee_addr: "00:12:4b:00:06:0d:00:02"
      hops: 1
    - ieee_addr: "00:12:4b:00:06:0d:00:03"
      hops: 2
database:
  host: db
  name: testbed
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glossy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, uint16(1), cfg.InitiatorID)
	assert.Equal(t, uint8(3), cfg.NTx)
	assert.Equal(t, 250, cfg.PeriodMs)
	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, "postgres://postgres:postgres@db:5432/testbed?sslmode=disable", cfg.Database.DSN())

	nodes, err := cfg.SimNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, glossy.NodeID(1), nodes[0].ID)
	assert.Equal(t, glossy.NodeID(2), nodes[1].ID)
	assert.Equal(t, glossy.NodeID(3), nodes[2].ID)
	assert.Equal(t, uint8(2), nodes[2].Hops)

	rc, err := cfg.Driver(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, rc.Tag)
	assert.Equal(t, 32, rc.PayloadDataLen)
	assert.False(t, rc.IsInitiator())
}

func TestDefaultsMatchFirmware(t *testing.T) {
	cfg := Default()
	cfg.InitiatorID = 1

	rc, err := cfg.Driver(2)
	require.NoError(t, err)
	assert.Equal(t, round.DefaultPeriod, rc.Period)
	assert.Equal(t, round.DefaultSlot, rc.Slot)
	assert.Equal(t, round.DefaultGuard, rc.Guard)
	assert.Equal(t, round.DefaultInitiatorStartDelay, rc.InitiatorStartDelay)
	assert.Equal(t, round.DefaultReceiverStartDelay, rc.ReceiverStartDelay)
	assert.Equal(t, round.DefaultTag, rc.Tag)
	assert.Equal(t, rtimer.Time(131), cfg.HopTime())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GLOSSY_INITIATOR_ID", "4")
	t.Setenv("GLOSSY_PERIOD_MS", "500")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint16(4), cfg.InitiatorID)
	assert.Equal(t, 500, cfg.PeriodMs)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestEnvOverridesOutOfRange(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"GLOSSY_INITIATOR_ID", "65537"},
		{"GLOSSY_INITIATOR_ID", "-1"},
		{"GLOSSY_N_TX", "258"},
		{"GLOSSY_N_TX", "two"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestEnvOverridesAtRangeLimit(t *testing.T) {
	t.Setenv("GLOSSY_INITIATOR_ID", "65535")
	t.Setenv("GLOSSY_N_TX", "255")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), cfg.InitiatorID)
	assert.Equal(t, uint8(255), cfg.NTx)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing initiator", func(c *Config) { c.InitiatorID = 0 }},
		{"zero n_tx", func(c *Config) { c.NTx = 0 }},
		{"bad tag", func(c *Config) { c.Tag = "xyz" }},
		{"loss above one", func(c *Config) { c.Simulation.Loss = 1.5 }},
		{"negative corrupt", func(c *Config) { c.Simulation.Corrupt = -0.1 }},
		{"slot longer than period", func(c *Config) { c.SlotMs = 300 }},
		{"initiator not simulated", func(c *Config) {
			c.Simulation.Nodes = []SimNode{{Addr: [8]byte{0, 0, 0, 0, 0, 0, 0, 9}}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.InitiatorID = 1
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, SetupLogging("debug", "json"))
	assert.NoError(t, SetupLogging("info", "console"))
	assert.Error(t, SetupLogging("loud", "console"))
	assert.Error(t, SetupLogging("info", "xml"))
}

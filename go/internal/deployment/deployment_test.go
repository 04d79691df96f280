package deployment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIEEEAddr(t *testing.T) {
	a, err := ParseIEEEAddr("00:12:4b:00:06:0d:b6:3a")
	require.NoError(t, err)
	assert.Equal(t, IEEEAddr{0x00, 0x12, 0x4b, 0x00, 0x06, 0x0d, 0xb6, 0x3a}, a)
	assert.Equal(t, "00:12:4b:00:06:0d:b6:3a", a.String())

	b, err := ParseIEEEAddr("00124B00060DB63A")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for _, bad := range []string{"", "00:12", "zz:12:4b:00:06:0d:b6:3a"} {
		_, err := ParseIEEEAddr(bad)
		assert.ErrorIs(t, err, ErrBadAddr, bad)
	}
}

func TestTableLookupAndFallback(t *testing.T) {
	known, _ := ParseIEEEAddr("00:12:4b:00:06:0d:b6:3a")
	unknown, _ := ParseIEEEAddr("00:12:4b:00:06:0d:01:02")
	zero, _ := ParseIEEEAddr("00:12:4b:00:06:0d:00:00")

	table, err := NewTable([]Entry{{Addr: known, NodeID: 7}})
	require.NoError(t, err)

	id, err := table.NodeID(known)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), id)

	id, err = table.NodeID(unknown)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), id)

	_, err = table.NodeID(zero)
	assert.ErrorIs(t, err, ErrZeroID)

	var empty *Table
	id, err = empty.NodeID(unknown)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), id)
}

func TestNewTableRejectsBadEntries(t *testing.T) {
	a, _ := ParseIEEEAddr("00:12:4b:00:06:0d:b6:3a")
	b, _ := ParseIEEEAddr("00:12:4b:00:06:0d:b6:3b")

	_, err := NewTable([]Entry{{Addr: a, NodeID: 0}})
	assert.ErrorIs(t, err, ErrZeroID)

	_, err = NewTable([]Entry{{Addr: a, NodeID: 1}, {Addr: a, NodeID: 2}})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = NewTable([]Entry{{Addr: a, NodeID: 1}, {Addr: b, NodeID: 1}})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- ieee_addr: "00:12:4b:00:06:0d:b6:3a"
  node_id: 1
- ieee_addr: "00:12:4b:00:06:0d:b5:11"
  node_id: 2
`), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)

	addr, _ := ParseIEEEAddr("00:12:4b:00:06:0d:b5:11")
	id, err := table.NodeID(addr)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
}

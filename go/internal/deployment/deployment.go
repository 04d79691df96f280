// Package deployment maps hardware IEEE addresses to node ids.
package deployment

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrBadAddr   = errors.New("deployment: malformed IEEE address")
	ErrZeroID    = errors.New("deployment: node id 0 is reserved")
	ErrDuplicate = errors.New("deployment: duplicate entry")
)

// IEEEAddr is an 8 byte extended MAC address.
type IEEEAddr [8]byte

// ParseIEEEAddr accepts "00:12:4b:00:06:0d:b6:3a" or the same digits without
// separators.
func ParseIEEEAddr(s string) (IEEEAddr, error) {
	var a IEEEAddr
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.TrimSpace(s))
	if len(clean) != 2*len(a) {
		return a, fmt.Errorf("%w: %q", ErrBadAddr, s)
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("%w: %q: %v", ErrBadAddr, s, err)
	}
	return a, nil
}

func (a IEEEAddr) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

func (a *IEEEAddr) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseIEEEAddr(node.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Entry binds one address to a node id.
type Entry struct {
	Addr   IEEEAddr `yaml:"ieee_addr"`
	NodeID uint16   `yaml:"node_id"`
}

// Table is a deployment map.
type Table struct {
	byAddr map[IEEEAddr]uint16
}

func NewTable(entries []Entry) (*Table, error) {
	t := &Table{byAddr: make(map[IEEEAddr]uint16, len(entries))}
	seen := make(map[uint16]IEEEAddr, len(entries))
	for _, e := range entries {
		if e.NodeID == 0 {
			return nil, fmt.Errorf("%w: %s", ErrZeroID, e.Addr)
		}
		if _, ok := t.byAddr[e.Addr]; ok {
			return nil, fmt.Errorf("%w: address %s", ErrDuplicate, e.Addr)
		}
		if other, ok := seen[e.NodeID]; ok {
			return nil, fmt.Errorf("%w: node id %d used by %s and %s", ErrDuplicate, e.NodeID, other, e.Addr)
		}
		t.byAddr[e.Addr] = e.NodeID
		seen[e.NodeID] = e.Addr
	}
	return t, nil
}

// LoadTable reads a YAML list of entries.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment file: %w", err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse deployment file: %w", err)
	}
	return NewTable(entries)
}

// NodeID returns the id bound to addr. Unknown addresses fall back to the
// last two address bytes read big-endian.
func (t *Table) NodeID(addr IEEEAddr) (uint16, error) {
	if t != nil {
		if id, ok := t.byAddr[addr]; ok {
			return id, nil
		}
	}
	id := binary.BigEndian.Uint16(addr[6:])
	if id == 0 {
		return 0, fmt.Errorf("%w: %s", ErrZeroID, addr)
	}
	return id, nil
}

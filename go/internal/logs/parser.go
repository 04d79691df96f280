// Package logs parses the diagnostic stream of a test run and summarises
// delivery and synchronisation per node.
package logs

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	testbedPrefix = regexp.MustCompile(`^\[\d+-\d+-\d+\s+\d+:\d+:\d+,\d+\]\s+\w+:[\w\-.]+:\s+(\d+)\s*<\s*(.*)$`)
	nodePrefix    = regexp.MustCompile(`^(\d+)\s*<\s*(.*)$`)
	tagged        = regexp.MustCompile(`^\[\s*([\w-]+)\s*\]\s*(.*)$`)
	statsTag      = regexp.MustCompile(`^GLOSSY_STATS(?:_\d+)?$`)
	keyValue      = regexp.MustCompile(`(\w+):?\s+(\d+)`)
	rcvdSeq       = regexp.MustCompile(`^rcvd_seq\s*(\d+)`)
	sentSeq       = regexp.MustCompile(`^\s*sent_seq\s+(\d+),\s+payload_len\s+\d+`)
	appStats      = regexp.MustCompile(`^\s*n_rx\s+(\d+),\s*n_tx\s+(\d+),(?:\s*f_relay_cnt\s+(\d+))?`)
	epochDiff     = regexp.MustCompile(`^Epoch_diff\s+rtimer\s+(\d+)`)
	endOfTest     = regexp.MustCompile(`(?i)testbed-server:\s+end\s+test`)
	escapes       = regexp.MustCompile(`(?:\\t|\\n|\\r)+`)
)

const initMessage = "Starting Glossy"

// keys accepted in GLOSSY_STATS and GLOSSY_FLOOD_DEBUG lines
var allowedKeys = map[string]bool{
	"n_T_slots": true, "T_slot": true, "relay_cnt_t_ref": true, "tref_ts": true, "T_slot_estimated": true,
	"n_rx": true, "n_tx": true, "relay_cnt_first_rx": true,
	"n_bad_length": true, "n_bad_header": true, "n_bad_payload": true,
	"n_rx_err": true, "rx_to": true, "bad_crc": true, "rf_err": true,
}

// Flood is one payload a node accepted.
type Flood struct {
	SeqNo     uint32           `json:"seq_no" yaml:"seq_no"`
	NRx       int64            `json:"n_rx" yaml:"n_rx"`
	NTx       int64            `json:"n_tx" yaml:"n_tx"`
	RelayCnt  int64            `json:"f_relay_cnt" yaml:"f_relay_cnt"`
	FloodInfo map[string]int64 `json:"flood_info,omitempty" yaml:"flood_info,omitempty"`
}

// NodeLog collects everything one node printed.
type NodeLog struct {
	NodeID      int              `json:"node" yaml:"node"`
	Restarts    int              `json:"restarts" yaml:"restarts"`
	Broadcast   []uint32         `json:"broadcast" yaml:"broadcast"`
	Floods      []*Flood         `json:"floods" yaml:"floods"`
	GlossyStats map[string]int64 `json:"glossy_stats" yaml:"glossy_stats"`
	Sync        int              `json:"n_sync" yaml:"n_sync"`
	NoSync      int              `json:"n_nosync" yaml:"n_nosync"`
	EpochDiffs  []uint32         `json:"epoch_rtimer" yaml:"epoch_rtimer"`
	Corrupted   int              `json:"corrupted" yaml:"corrupted"`

	current *Flood
	index   map[uint32]*Flood
}

func newNodeLog(id int) *NodeLog {
	return &NodeLog{
		NodeID:      id,
		GlossyStats: make(map[string]int64),
		index:       make(map[uint32]*Flood),
	}
}

// Result is the parsed content of one log.
type Result struct {
	Nodes     map[int]*NodeLog `json:"nodes" yaml:"nodes"`
	Lines     int              `json:"lines" yaml:"lines"`
	Malformed int              `json:"malformed" yaml:"malformed"`
	Ended     bool             `json:"ended" yaml:"ended"`
}

// Parse reads a diagnostic stream. Lines may carry the testbed prefix or the
// "<node_id> < " prefix; bare lines belong to node 0. Parsing stops at the
// testbed end-of-test marker.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{Nodes: make(map[int]*NodeLog)}
	unmanaged := make(map[string]bool)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		res.Lines++
		line := sc.Text()
		if endOfTest.MatchString(line) {
			log.Debug().Int("line", res.Lines).Msg("end of test reached, stop parsing")
			res.Ended = true
			break
		}

		nodeID, content := splitPrefix(line)
		content = cleanContent(content)
		if content == "" {
			continue
		}

		if strings.HasPrefix(content, initMessage) {
			prev := res.Nodes[nodeID]
			n := newNodeLog(nodeID)
			if prev != nil {
				n.Restarts = prev.Restarts + 1
			}
			res.Nodes[nodeID] = n
			continue
		}

		m := tagged.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		label, body := m[1], m[2]

		n := res.Nodes[nodeID]
		if n == nil {
			n = newNodeLog(nodeID)
			res.Nodes[nodeID] = n
		}
		if !n.apply(label, body) {
			res.Malformed++
			if label != "" && !known(label) && !unmanaged[label] {
				unmanaged[label] = true
				log.Debug().Str("tag", label).Msg("unmanaged tag")
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return res, nil
}

func known(label string) bool {
	switch label {
	case "GLOSSY_PAYLOAD", "GLOSSY_BROADCAST", "GLOSSY_FLOOD_DEBUG", "APP_STATS", "APP_DEBUG", "APP_INFO":
		return true
	}
	return statsTag.MatchString(label)
}

func splitPrefix(line string) (int, string) {
	if m := testbedPrefix.FindStringSubmatch(line); m != nil {
		id, _ := strconv.Atoi(m[1])
		return id, m[2]
	}
	if m := nodePrefix.FindStringSubmatch(line); m != nil {
		id, _ := strconv.Atoi(m[1])
		return id, m[2]
	}
	return 0, line
}

// cleanContent strips the b'...' wrapping some serial loggers add and folds
// escaped whitespace.
func cleanContent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && s[0] == 'b' && (s[1] == '\'' || s[1] == '"') && s[len(s)-1] == s[1] {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(escapes.ReplaceAllString(s, " "))
}

// apply folds one tagged line into the node log and reports whether it was
// understood.
func (n *NodeLog) apply(label, body string) bool {
	switch {
	case statsTag.MatchString(label):
		kv, ok := parseKeyValues(body)
		if !ok {
			return false
		}
		for k, v := range kv {
			n.GlossyStats[k] = v
		}
		return true

	case label == "GLOSSY_FLOOD_DEBUG":
		kv, ok := parseKeyValues(body)
		if !ok || n.current == nil {
			return false
		}
		if n.current.FloodInfo == nil {
			n.current.FloodInfo = make(map[string]int64, len(kv))
		}
		for k, v := range kv {
			n.current.FloodInfo[k] = v
		}
		return true

	case label == "GLOSSY_PAYLOAD":
		m := rcvdSeq.FindStringSubmatch(body)
		if m == nil {
			return false
		}
		seq := parseUint32(m[1])
		f, ok := n.index[seq]
		if !ok {
			f = &Flood{SeqNo: seq}
			n.index[seq] = f
			n.Floods = append(n.Floods, f)
		}
		n.current = f
		return true

	case label == "GLOSSY_BROADCAST":
		m := sentSeq.FindStringSubmatch(body)
		if m == nil {
			return false
		}
		n.Broadcast = append(n.Broadcast, parseUint32(m[1]))
		return true

	case label == "APP_STATS":
		m := appStats.FindStringSubmatch(body)
		if m == nil || n.current == nil {
			return false
		}
		n.current.NRx, _ = strconv.ParseInt(m[1], 10, 64)
		n.current.NTx, _ = strconv.ParseInt(m[2], 10, 64)
		if m[3] != "" {
			n.current.RelayCnt, _ = strconv.ParseInt(m[3], 10, 64)
		}
		return true

	case label == "APP_DEBUG":
		body = strings.TrimSpace(body)
		switch {
		case body == "Synced":
			n.Sync++
		case body == "Not Synced":
			n.NoSync++
		case strings.HasPrefix(strings.ToLower(body), "epoch_diff"):
			m := epochDiff.FindStringSubmatch(body)
			if m == nil {
				return false
			}
			n.EpochDiffs = append(n.EpochDiffs, parseUint32(m[1]))
		case strings.HasPrefix(body, "Received a corrupted packet"):
			n.Corrupted++
		default:
			return false
		}
		return true

	case label == "APP_INFO":
		return true
	}
	return false
}

// parseKeyValues reads "key value, key value" pairs. A single unknown key
// invalidates the whole line.
func parseKeyValues(body string) (map[string]int64, bool) {
	matches := keyValue.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, false
	}
	kv := make(map[string]int64, len(matches))
	for _, m := range matches {
		if !allowedKeys[m[1]] {
			return nil, false
		}
		v, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil, false
		}
		kv[m[1]] = v
	}
	return kv, true
}

func parseUint32(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}

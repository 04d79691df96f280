package logs

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	ErrNoData     = errors.New("logs: no broadcast found, check the log format")
	ErrUnknownSeq = errors.New("logs: node received a sequence number nobody broadcast")
	ErrBadOffset  = errors.New("logs: offset leaves no broadcast to analyse")
)

// slotUnitUs is the duration of one T_slot unit in microseconds (31.25ns).
const slotUnitUs = 0.03125

// DefaultOffset is the number of leading and trailing floods the analysis
// tooling drops by default.
const DefaultOffset = 20

type Options struct {
	// Offset drops the first and last Offset broadcast sequence numbers, and
	// the first and last Offset epoch samples of every node.
	Offset int
}

// Stat describes a sample. Percentiles use the lower sample.
type Stat struct {
	Count int     `json:"count" yaml:"count"`
	Mean  float64 `json:"mean" yaml:"mean"`
	Min   uint32  `json:"min" yaml:"min"`
	Max   uint32  `json:"max" yaml:"max"`
	P25   uint32  `json:"p25" yaml:"p25"`
	P75   uint32  `json:"p75" yaml:"p75"`
}

type NodeSummary struct {
	NodeID    int      `json:"node" yaml:"node"`
	Received  int      `json:"received" yaml:"received"`
	PDR       float64  `json:"pdr" yaml:"pdr"`
	Lost      []uint32 `json:"lost,omitempty" yaml:"lost,omitempty"`
	Sync      int      `json:"n_sync" yaml:"n_sync"`
	NoSync    int      `json:"n_nosync" yaml:"n_nosync"`
	SyncRatio float64  `json:"sync_ratio" yaml:"sync_ratio"`
	Corrupted int      `json:"corrupted" yaml:"corrupted"`
	EpochDiff *Stat    `json:"epoch_diff,omitempty" yaml:"epoch_diff,omitempty"`
	RelayCnt  *Stat    `json:"f_relay_cnt,omitempty" yaml:"f_relay_cnt,omitempty"`

	// TSlot holds the non-zero slot estimates, in radio time units.
	TSlot       *Stat   `json:"t_slot,omitempty" yaml:"t_slot,omitempty"`
	TSlotUs     float64 `json:"t_slot_us,omitempty" yaml:"t_slot_us,omitempty"`
	FailedTSlot int     `json:"t_slot_failed" yaml:"t_slot_failed"`

	FloodTx int64 `json:"flood_n_tx" yaml:"flood_n_tx"`
	FloodRx int64 `json:"flood_n_rx" yaml:"flood_n_rx"`

	// RxErrors is n_rx_err + rx_to, BadPackets the sum of the n_bad_* counters.
	RxErrors   int64 `json:"rx_errors" yaml:"rx_errors"`
	BadPackets int64 `json:"bad_packets" yaml:"bad_packets"`
}

type Summary struct {
	Offset       int     `json:"offset" yaml:"offset"`
	Broadcast    int     `json:"broadcast" yaml:"broadcast"`
	MeanReceived float64 `json:"pkt_rcvd_mean" yaml:"pkt_rcvd_mean"`
	MeanPDR      float64 `json:"pdr_mean" yaml:"pdr_mean"`
	MinPDR       float64 `json:"pdr_min" yaml:"pdr_min"`
	MaxPDR       float64 `json:"pdr_max" yaml:"pdr_max"`

	MeanRelayCnt float64 `json:"frc_avg" yaml:"frc_avg"`
	MinRelayCnt  uint32  `json:"frc_min" yaml:"frc_min"`
	MaxRelayCnt  uint32  `json:"frc_max" yaml:"frc_max"`
	MinRelayP25  uint32  `json:"frc25_min" yaml:"frc25_min"`
	MaxRelayP75  uint32  `json:"frc75_max" yaml:"frc75_max"`

	MeanTSlotUs float64 `json:"t_slot_us" yaml:"t_slot_us"`

	// Errors totals the detailed radio errors of every node. unknown_err is
	// the part of n_rx_err + rx_to no detailed counter accounts for.
	Errors map[string]int64 `json:"errors,omitempty" yaml:"errors,omitempty"`

	Nodes []NodeSummary `json:"nodes" yaml:"nodes"`
}

// radio error counters with a detailed cause
var detailedErrors = []string{"bad_crc", "rf_err"}

// Summarize computes per node delivery against the set of sequence numbers
// broadcast by any node, after dropping opts.Offset sequence numbers at both
// ends of the run.
func Summarize(res *Result, opts Options) (*Summary, error) {
	all := make(map[uint32]bool)
	for _, n := range res.Nodes {
		for _, seq := range n.Broadcast {
			all[seq] = true
		}
	}
	if len(all) == 0 {
		return nil, ErrNoData
	}
	broadcast, err := window(all, opts.Offset)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(res.Nodes))
	for id := range res.Nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	s := &Summary{Offset: opts.Offset, Broadcast: len(broadcast), MinPDR: 1}
	var (
		relayNodes int
		slotNodes  int
		nerrs      int64
		detailed   int64
	)
	for _, id := range ids {
		n := res.Nodes[id]

		got := make(map[uint32]bool, len(n.Floods))
		relay := make([]uint32, 0, len(n.Floods))
		var slots []uint32
		ns := NodeSummary{NodeID: id}
		for _, f := range n.Floods {
			if !all[f.SeqNo] {
				return nil, fmt.Errorf("%w: node %d, seq %d", ErrUnknownSeq, id, f.SeqNo)
			}
			if !broadcast[f.SeqNo] {
				continue
			}
			got[f.SeqNo] = true
			relay = append(relay, uint32(f.RelayCnt))
			ns.FloodTx += f.NTx
			ns.FloodRx += f.NRx
			if v, ok := f.FloodInfo["T_slot"]; ok {
				if v == 0 {
					ns.FailedTSlot++
				} else {
					slots = append(slots, uint32(v))
				}
			}
		}

		ns.Received = len(got)
		ns.PDR = float64(len(got)) / float64(len(broadcast))
		ns.Lost = missing(broadcast, got)
		ns.Sync = n.Sync
		ns.NoSync = n.NoSync
		ns.Corrupted = n.Corrupted
		ns.EpochDiff = describe(trim(n.EpochDiffs, opts.Offset))
		ns.RelayCnt = describe(relay)
		ns.TSlot = describe(slots)
		if ns.TSlot != nil {
			ns.TSlotUs = ns.TSlot.Mean * slotUnitUs
		}
		if total := n.Sync + n.NoSync; total > 0 {
			ns.SyncRatio = float64(n.Sync) / float64(total)
		}

		gs := n.GlossyStats
		ns.RxErrors = gs["n_rx_err"] + gs["rx_to"]
		ns.BadPackets = gs["n_bad_length"] + gs["n_bad_header"] + gs["n_bad_payload"]
		nerrs += ns.RxErrors
		for _, k := range detailedErrors {
			if v, ok := gs[k]; ok {
				if s.Errors == nil {
					s.Errors = make(map[string]int64)
				}
				s.Errors[k] += v
				detailed += v
			}
		}

		s.Nodes = append(s.Nodes, ns)
		s.MeanReceived += float64(ns.Received)
		s.MeanPDR += ns.PDR
		s.MinPDR = min(s.MinPDR, ns.PDR)
		s.MaxPDR = max(s.MaxPDR, ns.PDR)
		if st := ns.RelayCnt; st != nil {
			if relayNodes == 0 {
				s.MinRelayCnt, s.MaxRelayCnt = st.Min, st.Max
				s.MinRelayP25, s.MaxRelayP75 = st.P25, st.P75
			}
			s.MeanRelayCnt += st.Mean
			s.MinRelayCnt = min(s.MinRelayCnt, st.Min)
			s.MaxRelayCnt = max(s.MaxRelayCnt, st.Max)
			s.MinRelayP25 = min(s.MinRelayP25, st.P25)
			s.MaxRelayP75 = max(s.MaxRelayP75, st.P75)
			relayNodes++
		}
		if ns.TSlot != nil {
			s.MeanTSlotUs += ns.TSlotUs
			slotNodes++
		}
	}
	if len(s.Nodes) > 0 {
		s.MeanPDR /= float64(len(s.Nodes))
		s.MeanReceived /= float64(len(s.Nodes))
	}
	if relayNodes > 0 {
		s.MeanRelayCnt /= float64(relayNodes)
	}
	if slotNodes > 0 {
		s.MeanTSlotUs /= float64(slotNodes)
	}
	if nerrs > 0 || s.Errors != nil {
		if s.Errors == nil {
			s.Errors = make(map[string]int64)
		}
		s.Errors["unknown_err"] = nerrs - detailed
	}
	return s, nil
}

// window keeps the broadcast sequence numbers left after dropping offset
// of them at each end.
func window(all map[uint32]bool, offset int) (map[uint32]bool, error) {
	if offset == 0 {
		return all, nil
	}
	if offset < 0 || 2*offset >= len(all) {
		return nil, fmt.Errorf("%w: offset %d, %d broadcast", ErrBadOffset, offset, len(all))
	}
	seqs := make([]uint32, 0, len(all))
	for seq := range all {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	kept := make(map[uint32]bool, len(seqs)-2*offset)
	for _, seq := range seqs[offset : len(seqs)-offset] {
		kept[seq] = true
	}
	return kept, nil
}

// trim drops offset samples at each end. A sample too short to trim is
// dropped entirely.
func trim(sample []uint32, offset int) []uint32 {
	if offset <= 0 {
		return sample
	}
	if len(sample) <= 2*offset {
		return nil
	}
	return sample[offset : len(sample)-offset]
}

func missing(all, got map[uint32]bool) []uint32 {
	var lost []uint32
	for seq := range all {
		if !got[seq] {
			lost = append(lost, seq)
		}
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i] < lost[j] })
	return lost
}

func describe(sample []uint32) *Stat {
	if len(sample) == 0 {
		return nil
	}
	sorted := slices.Clone(sample)
	slices.Sort(sorted)

	st := &Stat{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P25:   percentile(sorted, 25),
		P75:   percentile(sorted, 75),
	}
	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	st.Mean = sum / float64(len(sorted))
	return st
}

// percentile picks the sample at or below the p-th percentile of a sorted
// sample.
func percentile(sorted []uint32, p int) uint32 {
	return sorted[(len(sorted)-1)*p/100]
}

package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

var (
	Registry = prometheus.NewRegistry()

	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glossy",
			Name:      "rounds_total",
			Help:      "Completed rounds.",
		},
		[]string{"node", "role"},
	)

	PacketsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glossy",
			Name:      "packets_received_total",
			Help:      "Rounds in which at least one packet was received.",
		},
		[]string{"node"},
	)

	PacketsMissed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glossy",
			Name:      "packets_missed_total",
			Help:      "Rounds in which nothing was received.",
		},
		[]string{"node"},
	)

	PacketsCorrupted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glossy",
			Name:      "packets_corrupted_total",
			Help:      "Received payloads that failed the integrity check.",
		},
		[]string{"node"},
	)

	BootstrapAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glossy",
			Name:      "bootstrap_attempts_total",
			Help:      "Bootstrap slots spent listening before the first sync.",
		},
		[]string{"node"},
	)

	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glossy",
			Name:      "sync_total",
			Help:      "Rounds by synchronisation outcome.",
		},
		[]string{"node", "status"},
	)

	EpochDiff = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glossy",
			Name:      "epoch_diff_ticks",
			Help:      "Reference time elapsed between consecutive floods, in clock ticks.",
			// centred on one default period of 8192 ticks
			Buckets: prometheus.LinearBuckets(8184, 2, 9),
		},
		[]string{"node"},
	)

	RelayCntFirstRx = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "glossy",
			Name:      "relay_cnt_first_rx",
			Help:      "Relay counter of the first packet received in the last round.",
		},
		[]string{"node"},
	)

	LastSeqNo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "glossy",
			Name:      "last_seq_no",
			Help:      "Last sequence number sent or received.",
		},
		[]string{"node"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "glossy",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RoundsTotal, PacketsReceived, PacketsMissed, PacketsCorrupted,
		BootstrapAttempts, SyncTotal, EpochDiff, RelayCntFirstRx, LastSeqNo, uptime,
	)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Observer records every round report into the registry.
type Observer struct{}

func (Observer) ObserveRound(r round.Report) {
	node := strconv.Itoa(int(r.NodeID))

	RoundsTotal.WithLabelValues(node, string(r.Role)).Inc()
	if r.BootstrapAttempts > 0 {
		BootstrapAttempts.WithLabelValues(node).Add(float64(r.BootstrapAttempts))
	}

	status := "not_synced"
	if r.Synced {
		status = "synced"
	}
	SyncTotal.WithLabelValues(node, status).Inc()

	if !r.Received {
		PacketsMissed.WithLabelValues(node).Inc()
		return
	}
	PacketsReceived.WithLabelValues(node).Inc()
	if r.Corrupted {
		PacketsCorrupted.WithLabelValues(node).Inc()
		return
	}

	RelayCntFirstRx.WithLabelValues(node).Set(float64(r.RelayCntFirstRx))
	LastSeqNo.WithLabelValues(node).Set(float64(r.SeqNo))
	if r.EpochDiff != nil {
		EpochDiff.WithLabelValues(node).Observe(float64(*r.EpochDiff))
	}
}

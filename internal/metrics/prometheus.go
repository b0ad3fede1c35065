package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	FlowsInitiatedTotal       prometheus.Counter
	FlowInitiateFailuresTotal prometheus.Counter
	PollsTotal                *prometheus.CounterVec
	FlowsCompletedTotal       prometheus.Counter
	VaultWriteFailuresTotal   prometheus.Counter
	NotifierFailuresTotal     prometheus.Counter
	ReaperExpiredTotal        prometheus.Counter
	ReaperDeletedTotal        prometheus.Counter
)

// Init registers the devicelink metrics. Call once at startup; a nil
// registerer leaves the metrics usable but unregistered, which tests rely
// on.
func Init(reg prometheus.Registerer) {
	FlowsInitiatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_flows_initiated_total",
		Help: "Total number of device link flows initiated.",
	})
	FlowInitiateFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_flow_initiate_failures_total",
		Help: "Total number of initiations that failed at the upstream device-code endpoint.",
	})
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicelink_polls_total",
		Help: "Total number of flow polls, labelled by outcome.",
	}, []string{"outcome"})
	FlowsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_flows_completed_total",
		Help: "Total number of flows that linked a credential.",
	})
	VaultWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_vault_write_failures_total",
		Help: "Total number of credential vault write failures on the success path.",
	})
	NotifierFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_notifier_failures_total",
		Help: "Total number of post-link notifier failures (best effort, never surfaced).",
	})
	ReaperExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_reaper_expired_total",
		Help: "Total number of pending flows force-expired by the reaper.",
	})
	ReaperDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_reaper_deleted_total",
		Help: "Total number of terminal flow records removed by the retention sweep.",
	})

	if reg == nil {
		return
	}

	collectors := []prometheus.Collector{
		FlowsInitiatedTotal,
		FlowInitiateFailuresTotal,
		PollsTotal,
		FlowsCompletedTotal,
		VaultWriteFailuresTotal,
		NotifierFailuresTotal,
		ReaperExpiredTotal,
		ReaperDeletedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register devicelink metric")
		}
	}
}

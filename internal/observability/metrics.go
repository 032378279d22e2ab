package observability

import "github.com/prometheus/client_golang/prometheus"

// Result and reason label values. Keeping them as constants bounds label
// cardinality.
const (
	PromptSent   = "sent"
	PromptFailed = "failed"

	ConfirmConfirmed     = "confirmed"
	ConfirmRejected      = "rejected"
	ConfirmOrphaned      = "orphaned"
	ConfirmRestoreFailed = "restore_failed"

	SuppressedCooldown   = "cooldown"
	SuppressedDuplicate  = "duplicate"
	SuppressedInProgress = "in_progress"
)

var (
	// Prompts counts onboarding messages by outcome.
	Prompts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolegate_prompts_total",
			Help: "Onboarding prompts posted, by result.",
		},
		[]string{"result"},
	)

	// Confirmations counts confirmation actions by outcome.
	Confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolegate_confirmations_total",
			Help: "Confirmation actions handled, by result.",
		},
		[]string{"result"},
	)

	// Suppressed counts trigger evaluations skipped by a guard.
	Suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolegate_triggers_suppressed_total",
			Help: "Flow triggers suppressed, by reason.",
		},
		[]string{"reason"},
	)

	// Expired counts onboarding entries force-expired by the timeout.
	Expired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rolegate_onboarding_expired_total",
			Help: "Onboarding entries expired by ONBOARDING_TIMEOUT.",
		},
	)

	// Runners gauges the sequencer runners currently draining a batch.
	Runners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rolegate_sequencer_runners",
			Help: "Active sequencer runners.",
		},
	)

	// PendingWaits gauges sequencer runners blocked on a confirmation.
	PendingWaits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rolegate_sequencer_pending_waits",
			Help: "Sequencer entries waiting for confirmation.",
		},
	)
)

func init() {
	prometheus.MustRegister(Prompts, Confirmations, Suppressed, Expired, Runners, PendingWaits)
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Alarm kinds raised when the stores disagree or a message is abandoned.
const (
	AlarmConfirmationOrphaned    = "confirmation_orphaned"
	AlarmConfirmationAfterCancel = "confirmation_after_cancel"
	AlarmCountryMismatch         = "country_mismatch"
	AlarmDeadLetter              = "dead_letter"
)

// Saga exposes counters/histograms for the appointment saga.
type Saga struct {
	created         *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	messages        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	deadLetters     *prometheus.CounterVec
	alarms          *prometheus.CounterVec
	republished     prometheus.Counter
}

// New registers the saga collectors on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Saga {
	m := &Saga{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Name:      "created_total",
			Help:      "Appointment creation attempts by country and outcome",
		}, []string{"country", "outcome"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Name:      "publish_failures_total",
			Help:      "Events that could not be published after a successful store write",
		}, []string{"event"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Name:      "transitions_total",
			Help:      "Persisted appointment status transitions",
		}, []string{"from", "to"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saga",
			Name:      "messages_total",
			Help:      "Consumed messages by consumer and disposition",
		}, []string{"consumer", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "saga",
			Name:      "message_duration_seconds",
			Help:      "Handler latency per consumed message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"consumer"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saga",
			Name:      "dead_letters_total",
			Help:      "Messages moved to a dead-letter destination",
		}, []string{"consumer"}),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saga",
			Name:      "alarms_total",
			Help:      "Operational alarms requiring manual inspection",
		}, []string{"kind"}),
		republished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reconcile",
			Name:      "republished_total",
			Help:      "Creation events re-published by the reconciliation sweep",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.created, m.publishFailures, m.transitions, m.messages, m.duration, m.deadLetters, m.alarms, m.republished)
	return m
}

func (m *Saga) ObserveCreated(country, outcome string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(country, outcome).Inc()
}

func (m *Saga) ObservePublishFailure(event string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(event).Inc()
}

func (m *Saga) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Saga) ObserveMessage(consumer, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(consumer, outcome).Inc()
	m.duration.WithLabelValues(consumer).Observe(seconds)
}

func (m *Saga) ObserveDeadLetter(consumer string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(consumer).Inc()
	m.alarms.WithLabelValues(AlarmDeadLetter).Inc()
}

// RaiseAlarm counts an inconsistency that needs an operator.
func (m *Saga) RaiseAlarm(kind string) {
	if m == nil {
		return
	}
	m.alarms.WithLabelValues(kind).Inc()
}

func (m *Saga) ObserveRepublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.republished.Add(float64(n))
}

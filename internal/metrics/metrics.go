// Package metrics exports session and device counters to prometheus.
package metrics

import (
	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_signer"

// Request outcomes.
const (
	OutcomeSigned  = "signed"
	OutcomeDenied  = "denied"
	OutcomeTimeout = "timeout"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Metrics implements session.Observer and counts what it is told.
type Metrics struct {
	Transitions    *prometheus.CounterVec
	Proposals      prometheus.Counter
	Requests       *prometheus.CounterVec
	SessionFailure prometheus.Counter
	DeviceRetries  *prometheus.CounterVec
}

var _ session.Observer = (*Metrics)(nil)

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions.",
		}, []string{"from", "to"}),
		Proposals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_proposals_total",
			Help:      "Proposals shown to the user.",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Finished requests by method and outcome.",
		}, []string{"method", "outcome"}),
		SessionFailure: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Sessions that ended in the error state.",
		}),
		DeviceRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hardware_retries_total",
			Help:      "Hardware device actions retried because the device was busy.",
		}, []string{"action"}),
	}
}

func (m *Metrics) StateChanged(from session.State, to session.State) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) ProposalReceived(*session.Proposal) {
	m.Proposals.Inc()
}

func (m *Metrics) RequestReceived(*rpc.Call) {}

func (m *Metrics) RequestFinished(call *rpc.Call, reply *rpc.Reply) {
	method := call.Method.String()
	m.Requests.WithLabelValues(method, outcome(call, reply)).Inc()
}

func (m *Metrics) SessionFailed(error) {
	m.SessionFailure.Inc()
}

// HardwareRetry matches hardware.Retrier.OnRetry.
func (m *Metrics) HardwareRetry(action string, _ int) {
	m.DeviceRetries.WithLabelValues(action).Inc()
}

func outcome(call *rpc.Call, reply *rpc.Reply) string {
	switch {
	case !reply.Failed():
		return OutcomeSigned
	case call.Method == rpc.MethodUnknown:
		return OutcomeInvalid
	case reply.Error.Message == rpc.ErrRequestTimedOut.Message:
		return OutcomeTimeout
	case errors.Is(reply.Error, rpc.ErrNotApproved):
		return OutcomeDenied
	default:
		return OutcomeFailed
	}
}

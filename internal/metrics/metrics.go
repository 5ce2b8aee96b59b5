// Package metrics defines the Prometheus collectors exported at
// /metrics on the operator gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbot_messages_inbound_total",
		Help: "Inbound chat messages by outcome (processed, denied, injection, busy, locked).",
	}, []string{"outcome"})

	CommandsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbot_commands_classified_total",
		Help: "Shell commands by classifier decision.",
	}, []string{"decision"})

	OutputsSanitized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbot_outputs_sanitized_total",
		Help: "Tool outputs by sanitizer action (clean, redacted, blocked_encoded, blocked_envdump).",
	}, []string{"action"})

	ApprovalsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbot_approvals_resolved_total",
		Help: "Pending command resolutions (approved, denied, expired).",
	}, []string{"result"})

	SandboxesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandbot_sandboxes_active",
		Help: "Live sandbox containers.",
	})

	SandboxCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbot_sandbox_commands_total",
		Help: "Commands executed in sandboxes by result (ok, error, timeout).",
	}, []string{"result"})

	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandbot_active_users",
		Help: "Users currently admitted by the concurrency gate.",
	})

	AgentIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandbot_agent_iterations",
		Help:    "Model/tool iterations per agent turn.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 30},
	})

	AgentTurnSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandbot_agent_turn_seconds",
		Help:    "Wall-clock duration of one agent turn.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbot_llm_requests_total",
		Help: "LLM completion calls by result.",
	}, []string{"result"})

	SendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandbot_send_retries_total",
		Help: "Outbound sends retried after platform throttling.",
	})
)

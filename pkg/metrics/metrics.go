package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plume_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_commands_total",
			Help: "Total number of protocol commands processed",
		},
		[]string{"protocol", "command", "status"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_command_duration_seconds",
			Help:    "Duration of protocol commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol", "command"},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"protocol", "result"},
	)
)

// Mail throughput metrics
var (
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_messages_delivered_total",
			Help: "Inbound messages delivered to user inboxes",
		},
		[]string{"source", "status"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_messages_sent_total",
			Help: "Outbound messages submitted via SMTP",
		},
		[]string{"status"},
	)

	MessageSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_message_size_bytes",
			Help:    "Size of processed messages in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"protocol"},
	)

	TrackingOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_tracking_opens_total",
			Help: "Tracking pixel open events recorded",
		},
	)
)

// Database metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBPoolTotalConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plume_db_pool_total_conns",
			Help: "Total connections in the database pool",
		},
	)

	DBPoolIdleConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plume_db_pool_idle_conns",
			Help: "Idle connections in the database pool",
		},
	)
)

// Workflow metrics
var (
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_workflow_executions_total",
			Help: "Workflow executions by terminal status",
		},
		[]string{"workflow_type", "status"},
	)

	WorkflowNodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_workflow_nodes_total",
			Help: "Workflow node executions by subtype and status",
		},
		[]string{"node_subtype", "status"},
	)

	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_workflow_execution_duration_seconds",
			Help:    "Wall time of workflow executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_type"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_events_published_total",
			Help: "Domain events published on the event bus",
		},
		[]string{"event_type"},
	)

	RuleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_rule_runs_total",
			Help: "Automation rule runs by status",
		},
		[]string{"status"},
	)
)

// IMAP sync metrics
var (
	IMAPSyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_imap_sync_runs_total",
			Help: "Per-user IMAP sync runs",
		},
		[]string{"status"},
	)

	IMAPSyncMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_imap_sync_messages_total",
			Help: "Messages reconciled from the companion IMAP store",
		},
	)
)

// WebSocket metrics
var (
	WSConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plume_ws_connections_current",
			Help: "Currently open WebSocket connections",
		},
	)

	WSNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_ws_notifications_total",
			Help: "WebSocket notifications pushed",
		},
		[]string{"type", "status"},
	)
)

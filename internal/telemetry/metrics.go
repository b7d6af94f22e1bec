// Package telemetry registers the actor's Prometheus metrics on the default
// registry. Importing the package is enough; /metrics is served by httpapi.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_events_processed_total",
		Help: "Chat events pulled from the transport.",
	})
	EventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actor_events_discarded_total",
		Help: "Chat events discarded before the pipeline.",
	}, []string{"reason"})
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_messages_deleted_total",
		Help: "Messages deleted by pipeline actions.",
	})
	CommandsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_commands_run_total",
		Help: "Commands that passed all gates and ran.",
	})
	CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actor_commands_rejected_total",
		Help: "Command invocations rejected by a gate.",
	}, []string{"reason"})
	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "actor_outbox_depth",
		Help: "Messages waiting in the outbound queue.",
	})
	OutboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_outbox_dropped_total",
		Help: "Oldest pending messages dropped from a full outbox.",
	})
	SegmentsCached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_clip_segments_cached_total",
		Help: "Media segments stored in the ring buffer.",
	})
	SegmentsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_clip_segments_evicted_total",
		Help: "Media segments evicted from the ring buffer.",
	})
	ClipsAssembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_clips_assembled_total",
		Help: "Clips assembled successfully.",
	})
	ClipsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actor_clips_failed_total",
		Help: "Clip assemblies that failed.",
	})
	SegmentDownload = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "actor_clip_segment_download_seconds",
		Help:    "Segment download duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	ActionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actor_action_errors_total",
		Help: "Errors recovered from pipeline actions and command handlers.",
	}, []string{"handler"})
)

// Package metrics holds the Prometheus collectors of the chat engine and its status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChangeEventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_change_events_applied_total",
		Help: "Change-feed records merged into the message log",
	})

	LocalMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_local_mutations_total",
		Help: "Optimistic mutations applied to the message log",
	}, []string{"kind"})

	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_persist_failures_total",
		Help: "Backend writes that failed after an optimistic update",
	}, []string{"op"})

	UploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_upload_failures_total",
		Help: "Attachments skipped because the object store rejected them",
	})

	PresenceSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_presence_syncs_total",
		Help: "Full-state presence syncs received",
	})

	ChannelDisruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_channel_disruptions_total",
		Help: "Presence channel or change feed drops",
	}, []string{"channel"})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_online_users",
		Help: "Members currently in the presence set",
	})

	Unread = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_unread",
		Help: "1 when the log holds messages newer than the local watermark",
	})

	ReplyIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_reply_intents_total",
		Help: "Reply intents fired by the gesture recognizer",
	}, []string{"source"})
)

// Package metrics exposes Prometheus metrics for the frame-sharing daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/videostream/internal/events"
)

var (
	framesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "frames_published_total",
		Help:      "Frames published to the sharing channel",
	})

	framesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "frames_released_total",
		Help:      "Release records received from clients",
	})

	slotsReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "slots_reclaimed_total",
		Help:      "Buffer slots returned to the free pool",
	}, []string{"forced"})

	staleReferences = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "stale_references_total",
		Help:      "References discarded by forced reclamation",
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "connected_clients",
		Help:      "Clients currently attached to the sharing channel",
	})

	publishedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "videostream",
		Subsystem: "host",
		Name:      "published_bytes_total",
		Help:      "Buffer bytes made visible to clients (not copied)",
	})
)

// Bind subscribes the metric set to a host event bus. Returns an
// unsubscribe function that detaches all handlers.
func Bind(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.FramePublishedEvent) {
			framesPublished.Inc()
			publishedBytes.Add(float64(e.Size))
		}),
		bus.Subscribe(func(e events.FrameReleasedEvent) {
			framesReleased.Inc()
		}),
		bus.Subscribe(func(e events.SlotReclaimedEvent) {
			if e.Forced {
				slotsReclaimed.WithLabelValues("true").Inc()
				staleReferences.Add(float64(e.Outstanding))
			} else {
				slotsReclaimed.WithLabelValues("false").Inc()
			}
		}),
		bus.Subscribe(func(e events.ClientConnectedEvent) {
			connectedClients.Inc()
		}),
		bus.Subscribe(func(e events.ClientDisconnectedEvent) {
			connectedClients.Dec()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

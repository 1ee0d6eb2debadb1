package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/smazurov/videostream/internal/events"
)

// waitFor polls until check passes or the deadline runs out. Event
// delivery through the bus is asynchronous.
func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBindCountsFrames(t *testing.T) {
	bus := events.New()
	unbind := Bind(bus)
	defer unbind()

	before := testutil.ToFloat64(framesPublished)
	bytesBefore := testutil.ToFloat64(publishedBytes)

	bus.Publish(events.FramePublishedEvent{Serial: 1, Size: 4096})

	waitFor(t, func() bool {
		return testutil.ToFloat64(framesPublished) == before+1
	})
	if got := testutil.ToFloat64(publishedBytes); got != bytesBefore+4096 {
		t.Errorf("Expected published bytes %v, got %v", bytesBefore+4096, got)
	}
}

func TestBindTracksClients(t *testing.T) {
	bus := events.New()
	unbind := Bind(bus)
	defer unbind()

	before := testutil.ToFloat64(connectedClients)
	bus.Publish(events.ClientConnectedEvent{ClientID: "a"})
	waitFor(t, func() bool {
		return testutil.ToFloat64(connectedClients) == before+1
	})

	bus.Publish(events.ClientDisconnectedEvent{ClientID: "a"})
	waitFor(t, func() bool {
		return testutil.ToFloat64(connectedClients) == before
	})
}

func TestBindCountsForcedReclaims(t *testing.T) {
	bus := events.New()
	unbind := Bind(bus)
	defer unbind()

	forced := slotsReclaimed.WithLabelValues("true")
	before := testutil.ToFloat64(forced)
	staleBefore := testutil.ToFloat64(staleReferences)

	bus.Publish(events.SlotReclaimedEvent{Serial: 3, Forced: true, Outstanding: 2})

	waitFor(t, func() bool {
		return testutil.ToFloat64(forced) == before+1
	})
	if got := testutil.ToFloat64(staleReferences); got != staleBefore+2 {
		t.Errorf("Expected stale references %v, got %v", staleBefore+2, got)
	}
}

func TestUnbindStopsCounting(t *testing.T) {
	bus := events.New()
	unbind := Bind(bus)
	unbind()

	before := testutil.ToFloat64(framesReleased)
	bus.Publish(events.FrameReleasedEvent{Serial: 1})
	time.Sleep(100 * time.Millisecond)
	if got := testutil.ToFloat64(framesReleased); got != before {
		t.Errorf("Counter moved after unbind: %v -> %v", before, got)
	}
}

package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/models"
)

func TestFrameFormat(t *testing.T) {
	frame, err := Frame(7, map[string]any{"type": "scan_completed"})
	require.NoError(t, err)
	assert.Equal(t, "id: 7\ndata: {\"type\":\"scan_completed\"}\n\n", frame)
}

func TestNextFrameIDMonotonic(t *testing.T) {
	a := NextFrameID()
	b := NextFrameID()
	c := NextFrameID()
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestGapPayload(t *testing.T) {
	payload := GapPayload(50, 100, 101, 130)

	assert.Equal(t, "_gap", payload["type"])
	data := payload["data"].(map[string]any)
	assert.Equal(t, 50, data["replayed"])
	assert.Equal(t, int64(100), data["last_event_id"])
	assert.Equal(t, int64(130), data["to_id"])
	assert.Equal(t, int64(29), data["dropped_count"])
}

func TestGapPayloadNoNegativeDrop(t *testing.T) {
	payload := GapPayload(3, 10, 11, 11)
	data := payload["data"].(map[string]any)
	assert.Equal(t, int64(0), data["dropped_count"])
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	evt := models.NewEvent(models.EventScanCompleted, "executor", "ws1", nil)
	b.Publish(evt)

	for _, ch := range []<-chan models.Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, models.EventScanCompleted, got.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	unsub()
	unsub() // second call is a no-op

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := NewBroker()
	slow, unsubSlow := b.Subscribe()
	defer unsubSlow()
	fast, unsubFast := b.Subscribe()
	defer unsubFast()

	// Fill the slow client's buffer, then one more publish evicts it.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish(models.NewEvent(models.EventFileChanged, "watcher", "ws1",
			map[string]any{"i": i}))
		// Keep the fast client drained so it survives.
		select {
		case <-fast:
		default:
		}
	}

	assert.Equal(t, 1, b.SubscriberCount())

	// The dropped client's channel closes after its buffered events drain.
	drained := 0
	for range slow {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestCloseDisconnectsEverything(t *testing.T) {
	b := NewBroker()
	ch, _ := b.Subscribe()

	b.Close()
	_, open := <-ch
	assert.False(t, open)

	// Publishing and subscribing after close are safe no-ops.
	b.Publish(models.NewEvent(models.EventFileChanged, "watcher", "ws1", nil))
	late, unsub := b.Subscribe()
	defer unsub()
	_, open = <-late
	assert.False(t, open)
}

func TestFrameWithReplayMarker(t *testing.T) {
	frame, err := Frame(3, map[string]any{"type": "file_changed", "_replay": true})
	require.NoError(t, err)
	assert.Contains(t, frame, `"_replay":true`)
	assert.Contains(t, frame, fmt.Sprintf("id: %d\n", 3))
}

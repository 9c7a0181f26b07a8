package eventbus

import (
	"bytes"
	"testing"

	"github.com/jmylchreest/hlsrec/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	bus.EmitReady()

	evt := <-ch
	assert.Equal(t, TypeReady, evt.Type)
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	bus := New()
	id1, ch1 := bus.Subscribe()
	id2, ch2 := bus.Subscribe()
	defer bus.Unsubscribe(id1)
	defer bus.Unsubscribe(id2)

	bus.EmitStop("complete", "", "", "hls_basic")

	evt1 := <-ch1
	evt2 := <-ch2
	assert.Equal(t, TypeStop, evt1.Type)
	assert.Equal(t, TypeStop, evt2.Type)
	assert.Equal(t, "complete", evt1.Reason)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe()
	bus.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	bus := New()
	id, _ := bus.Subscribe()
	bus.Unsubscribe(id)
	bus.Unsubscribe(id)
}

func TestPublishDropsOldestWhenSubscriberBacklogIsFull(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	for i := 0; i < subscriberBacklog+10; i++ {
		bus.EmitReady()
	}

	assert.LessOrEqual(t, len(ch), subscriberBacklog)
}

func TestEmitStartImplementsSegmentEventSink(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	var sink segment.EventSink = bus
	sink.EmitStart(segment.StartEvent{
		URL:          "http://example.com/seg1.ts",
		RecFile:      "/tmp/rec/stream_0.ts",
		SectionIndex: 0,
		SegmentIndex: 5,
		RecorderID:   "hls_live",
	})

	evt := <-ch
	assert.Equal(t, TypeStart, evt.Type)
	assert.Equal(t, "http://example.com/seg1.ts", evt.URL)
	assert.Equal(t, 5, evt.SegmentIndex)
}

func TestWriteFramedReadFramedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	original := Event{Type: TypeStart, URL: "http://example.com/seg.ts", SectionIndex: 1, SegmentIndex: 2}

	require.NoError(t, WriteFramed(&buf, original))

	decoded, err := ReadFramed(&buf)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestReadFramedRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)

	_, err := ReadFramed(&buf)
	assert.Error(t, err)
}

func TestReadFramedRejectsTruncatedHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00})

	_, err := ReadFramed(&buf)
	assert.Error(t, err)
}

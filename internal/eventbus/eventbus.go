// Package eventbus delivers the three lifecycle events a recording emits
// (ready, start, stop) to any number of subscribers, fanning them out to a
// length-prefixed framed writer and/or an HTTP streaming endpoint without
// blocking the recorder loop on a slow reader.
package eventbus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/jmylchreest/hlsrec/internal/segment"
	"github.com/oklog/ulid/v2"
)

// MaxFrameSize is the largest JSON payload a framed writer will accept or
// emit, matching the wire protocol's rejection threshold.
const MaxFrameSize = 100 * 1024 * 1024 // 100 MiB

// Type tags the three events a recording can publish.
type Type string

const (
	TypeReady Type = "ready"
	TypeStart Type = "start"
	TypeStop  Type = "stop"
)

// Event is the wire shape of one lifecycle event, covering the union of
// fields any of ready/start/stop may carry; unused fields are omitted.
type Event struct {
	Type         Type   `json:"type"`
	URL          string `json:"url,omitempty"`
	RecFile      string `json:"rec_file,omitempty"`
	SectionIndex int    `json:"section_index,omitempty"`
	SegmentIndex int    `json:"segment_index,omitempty"`
	RecorderID   string `json:"recorder_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	ErrorID      string `json:"error_id,omitempty"`
	Msg          string `json:"msg,omitempty"`
}

// subscriberBacklog bounds how many unread events queue up per subscriber
// before the bus starts dropping the oldest ones, keeping publish
// non-blocking for a slow or stalled reader.
const subscriberBacklog = 64

// Bus is a publish-only, multi-subscriber event channel. The zero value is
// not usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new listener and returns its id (a sortable ULID)
// and the channel it should range over. Call Unsubscribe when done.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := ulid.Make().String()
	ch := make(chan Event, subscriberBacklog)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel. It is safe to call
// more than once for the same id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish fans an event out to every current subscriber. Delivery is
// best-effort: a subscriber whose channel is full has its oldest queued
// event dropped to make room, rather than blocking the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// EmitStart implements segment.EventSink, publishing a start{} event on the
// buffering handshake and on every bumper/section insertion.
func (b *Bus) EmitStart(evt segment.StartEvent) {
	b.Publish(Event{
		Type:         TypeStart,
		URL:          evt.URL,
		RecFile:      evt.RecFile,
		SectionIndex: evt.SectionIndex,
		SegmentIndex: evt.SegmentIndex,
		RecorderID:   evt.RecorderID,
	})
}

// EmitReady publishes a ready{} event.
func (b *Bus) EmitReady() { b.Publish(Event{Type: TypeReady}) }

// EmitStop publishes a terminal stop{} event.
func (b *Bus) EmitStop(reason, errorID, msg, recorderID string) {
	b.Publish(Event{Type: TypeStop, Reason: reason, ErrorID: errorID, Msg: msg, RecorderID: recorderID})
}

// WriteFramed encodes evt as length-prefixed JSON (4-byte big-endian length
// + UTF-8 JSON payload) onto w, the wire framing used by subprocess/IPC
// consumers reading a single stream.
func WriteFramed(w io.Writer, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("event payload of %d bytes exceeds %d byte limit", len(payload), MaxFrameSize)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFramed decodes one length-prefixed JSON event from r, rejecting any
// frame whose declared length exceeds MaxFrameSize before reading its body.
func ReadFramed(r io.Reader) (Event, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Event{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return Event{}, fmt.Errorf("frame of %d bytes exceeds %d byte limit", size, MaxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Event{}, fmt.Errorf("reading frame payload: %w", err)
	}

	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("decoding frame payload: %w", err)
	}
	return evt, nil
}

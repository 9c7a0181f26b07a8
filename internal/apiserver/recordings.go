package apiserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/jmylchreest/hlsrec/internal/eventbus"
	"github.com/jmylchreest/hlsrec/internal/historystore"
	"github.com/jmylchreest/hlsrec/internal/procmon"
	"github.com/jmylchreest/hlsrec/internal/recorder"
)

// RecordingsHandler implements the start/stop/list/stream-events control
// plane. The underlying recorder.Manager only ever runs one recording at a
// time, so a single in-memory "active" row is all the correlation state
// this handler needs between the recorder's ulid and the history store's
// uuid primary key.
type RecordingsHandler struct {
	manager *recorder.Manager
	store   *historystore.Store
	bus     *eventbus.Bus
	log     *slog.Logger

	mu               sync.Mutex
	activeRowID      uuid.UUID
	activeRecorderID string
	sectionsSeen     int
	segmentsSeen     int
}

// NewRecordingsHandler builds a handler and starts its background
// subscription to bus, which watches for the active recording's terminal
// stop event so it can close out the history row.
func NewRecordingsHandler(manager *recorder.Manager, store *historystore.Store, bus *eventbus.Bus, log *slog.Logger) *RecordingsHandler {
	if log == nil {
		log = slog.Default()
	}
	h := &RecordingsHandler{manager: manager, store: store, bus: bus, log: log}
	go h.watch()
	return h
}

// watch runs for the handler's lifetime, updating the running
// sections/segments counters from start events and closing out the ledger
// row on stop.
func (h *RecordingsHandler) watch() {
	_, events := h.bus.Subscribe()
	for evt := range events {
		switch evt.Type {
		case eventbus.TypeStart:
			h.mu.Lock()
			if evt.RecorderID == h.activeRecorderID {
				if evt.SectionIndex+1 > h.sectionsSeen {
					h.sectionsSeen = evt.SectionIndex + 1
				}
				if evt.SegmentIndex+1 > h.segmentsSeen {
					h.segmentsSeen = evt.SegmentIndex + 1
				}
			}
			h.mu.Unlock()
		case eventbus.TypeStop:
			h.mu.Lock()
			if evt.RecorderID != h.activeRecorderID || h.activeRowID == uuid.Nil {
				h.mu.Unlock()
				continue
			}
			rowID := h.activeRowID
			sections, segments := h.sectionsSeen, h.segmentsSeen
			h.activeRowID = uuid.Nil
			h.activeRecorderID = ""
			h.mu.Unlock()

			bytesWritten := h.diskUsage(rowID)
			ctx := context.Background()
			if err := h.store.Complete(ctx, rowID, evt.Reason, evt.ErrorID, sections, segments, bytesWritten); err != nil {
				h.log.Error("recording-history: failed to complete row", slog.String("id", rowID.String()), slog.Any("error", err))
			}
		}
	}
}

// diskUsage sums the size of every regular file under the recording's
// directory, the closest approximation of bytes_written available without
// per-write accounting in the muxer sink.
func (h *RecordingsHandler) diskUsage(rowID uuid.UUID) int64 {
	rec, err := h.store.Get(context.Background(), rowID)
	if err != nil || rec == nil || rec.RecDir == "" {
		return 0
	}
	var total int64
	_ = filepath.Walk(rec.RecDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Register registers the recording routes with api.
func (h *RecordingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startRecording",
		Method:      "POST",
		Path:        "/v1/recordings",
		Summary:     "Start a recording",
		Description: "Begins recording the given resolved URL; stops any recording already in progress first",
		Tags:        []string{"Recordings"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/v1/recordings",
		Summary:     "List recording history",
		Description: "Returns every recording session, most recently started first",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/v1/recordings/{id}",
		Summary:     "Get a recording",
		Description: "Returns one recording session by id",
		Tags:        []string{"Recordings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "stopRecording",
		Method:      "DELETE",
		Path:        "/v1/recordings/{id}",
		Summary:     "Stop a recording",
		Description: "Stops the recording if it is still the active one",
		Tags:        []string{"Recordings"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "recordingStatus",
		Method:      "GET",
		Path:        "/v1/status",
		Summary:     "Report recorder status",
		Description: "Reports whether a recording is active and its current download throughput",
		Tags:        []string{"Recordings"},
	}, h.Status)
}

// StartRecordingInput mirrors the reference server's start{} request shape.
type StartRecordingInput struct {
	Body struct {
		ResolvedURL string `json:"resolved_url" doc:"Resolved media/master playlist URL to record"`
		RecDir      string `json:"rec_dir" doc:"Directory the recording is written into"`
		Kind        string `json:"kind" enum:"hls_live,hls_basic" doc:"Recorder variant"`
		Buffering   int    `json:"buffering,omitempty" doc:"Segment index at which the start handshake fires; default 5"`
	}
}

// StartRecordingOutput returns the new recording's history-store id and the
// recorder's own correlation id (used to match events on the stream).
type StartRecordingOutput struct {
	Body struct {
		ID         uuid.UUID `json:"id"`
		RecorderID string    `json:"recorder_id"`
	}
}

// Create starts a new recording.
func (h *RecordingsHandler) Create(ctx context.Context, input *StartRecordingInput) (*StartRecordingOutput, error) {
	kind := recorder.Kind(input.Body.Kind)
	if kind != recorder.KindHLSLive && kind != recorder.KindHLSBasic {
		return nil, huma.Error400BadRequest(fmt.Sprintf("unsupported recorder kind %q", input.Body.Kind), recorder.ErrUnsupportedKind)
	}
	if input.Body.ResolvedURL == "" || input.Body.RecDir == "" {
		return nil, huma.Error400BadRequest("resolved_url and rec_dir are required")
	}

	rec := &historystore.Recording{
		RecorderID:  input.Body.Kind,
		ResolvedURL: input.Body.ResolvedURL,
		RecDir:      input.Body.RecDir,
	}
	if err := h.store.Create(ctx, rec); err != nil {
		return nil, huma.Error500InternalServerError("recording history", err)
	}

	recorderID, err := h.manager.Start(context.Background(), recorder.Request{
		ResolvedURL: input.Body.ResolvedURL,
		RecDir:      input.Body.RecDir,
		Buffering:   input.Body.Buffering,
		Kind:        kind,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("starting recorder", err)
	}

	h.mu.Lock()
	h.activeRowID = rec.ID
	h.activeRecorderID = recorderID
	h.sectionsSeen = 0
	h.segmentsSeen = 0
	h.mu.Unlock()

	out := &StartRecordingOutput{}
	out.Body.ID = rec.ID
	out.Body.RecorderID = recorderID
	return out, nil
}

// ListRecordingsInput has no parameters.
type ListRecordingsInput struct{}

// ListRecordingsOutput is the response body for listing recording history.
type ListRecordingsOutput struct {
	Body struct {
		Recordings []*historystore.Recording `json:"recordings"`
	}
}

// List returns recording history, most recent first.
func (h *RecordingsHandler) List(ctx context.Context, _ *ListRecordingsInput) (*ListRecordingsOutput, error) {
	recs, err := h.store.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing recordings", err)
	}
	out := &ListRecordingsOutput{}
	out.Body.Recordings = recs
	return out, nil
}

// GetRecordingInput identifies a recording by its history-store id.
type GetRecordingInput struct {
	ID string `path:"id" doc:"Recording id (UUID)"`
}

// GetRecordingOutput wraps the ledger row.
type GetRecordingOutput struct {
	Body *historystore.Recording
}

// Get returns one recording by id.
func (h *RecordingsHandler) Get(ctx context.Context, input *GetRecordingInput) (*GetRecordingOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid id format", err)
	}
	rec, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("getting recording", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", input.ID))
	}
	return &GetRecordingOutput{Body: rec}, nil
}

// DeleteRecordingInput identifies the recording to stop.
type DeleteRecordingInput struct {
	ID string `path:"id" doc:"Recording id (UUID)"`
}

// DeleteRecordingOutput has no body; a successful stop returns 204.
type DeleteRecordingOutput struct{}

// Delete stops the recording if it is still the active one.
func (h *RecordingsHandler) Delete(ctx context.Context, input *DeleteRecordingInput) (*DeleteRecordingOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid id format", err)
	}

	h.mu.Lock()
	active := h.activeRowID == id
	h.mu.Unlock()
	if !active {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s is not active", input.ID))
	}

	h.manager.Stop()
	return &DeleteRecordingOutput{}, nil
}

// StatusInput has no parameters.
type StatusInput struct{}

// StatusOutput reports whether a recording is active, its download
// throughput, and (when the active recording uses the multiplexer
// subprocess) that subprocess's resource usage.
type StatusOutput struct {
	Body struct {
		Active        bool           `json:"active"`
		RecordingID   string         `json:"recording_id,omitempty"`
		BitsPerSecond float64        `json:"bits_per_second,omitempty"`
		Process       *procmon.Stats `json:"process,omitempty"`
	}
}

// Status reports the currently active recording, if any.
func (h *RecordingsHandler) Status(ctx context.Context, _ *StatusInput) (*StatusOutput, error) {
	out := &StatusOutput{}
	h.mu.Lock()
	rowID := h.activeRowID
	h.mu.Unlock()

	if rowID == uuid.Nil {
		return out, nil
	}

	bps, ok := h.manager.BandwidthBitsPerSecond()
	out.Body.Active = ok
	if ok {
		out.Body.RecordingID = rowID.String()
		out.Body.BitsPerSecond = bps
	}
	if stats, ok := h.manager.ProcessStats(); ok {
		out.Body.Process = &stats
	}
	return out, nil
}

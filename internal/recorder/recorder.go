// Package recorder drives the main per-recording loop: resolve a master
// playlist, poll the selected media playlist, hand each new segment to the
// segment processor, and publish lifecycle events until told to stop or
// until the stream itself signals completion (VOD) or exhaustion (too many
// consecutive failures).
package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/hlsrec/internal/drm"
	"github.com/jmylchreest/hlsrec/internal/eventbus"
	"github.com/jmylchreest/hlsrec/internal/ffmpeg"
	"github.com/jmylchreest/hlsrec/internal/muxer"
	"github.com/jmylchreest/hlsrec/internal/playlist"
	"github.com/jmylchreest/hlsrec/internal/procmon"
	"github.com/jmylchreest/hlsrec/internal/segment"
	"github.com/jmylchreest/hlsrec/pkg/httpclient"
	"github.com/oklog/ulid/v2"
)

// Kind tags the closed set of recorder variants. Only KindHLSLive and
// KindHLSBasic have a body here; KindHLSM4S and KindMP4 are accepted as
// valid requests (matching the reference server's four-way recorder_id)
// but have no in-scope implementation and are rejected by Start.
type Kind string

const (
	KindHLSLive  Kind = "hls_live"
	KindHLSBasic Kind = "hls_basic"
	KindHLSM4S   Kind = "hls_m4s"
	KindMP4      Kind = "mp4"
)

// Recovery thresholds, fixed by the external interface contract: 5
// consecutive playlist-fetch failures force a master reload, 10 consecutive
// empty playlists force a master reload, 5 consecutive segment failures is
// fatal.
const (
	maxFailedPlaylists  = 5
	maxEmptyPlaylists   = 10
	maxFailedSegments   = 5
	pollBetweenFailures = 1 * time.Second
)

var ErrUnsupportedKind = errors.New("recorder: kind has no in-scope implementation")

// Request starts one recording, mirroring the reference server's
// resolve_result shape.
type Request struct {
	ResolvedURL string
	RecDir      string
	Buffering   int // segment index at which the playback-start handshake fires; default 5
	Kind        Kind
}

// Deps are the shared collaborators a Manager wires into every recording it
// starts. The muxer's per-section mode (direct append for filler, external
// multiplexer for content, per §4.C6/§4.C7) is chosen by the segment
// processor on every section transition, not fixed here.
type Deps struct {
	HTTPClient          *httpclient.Client
	FFprobePath         string
	FFmpegPath          string
	BumperPath          string
	BumperMaxSegmentIdx int
	SegmentMaxRetries   int
}

// handle tracks one in-flight recording goroutine.
type handle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	proc   atomic.Pointer[segment.Processor]
	sink   atomic.Pointer[muxer.Sink]

	monMu  sync.Mutex
	mon    *procmon.Monitor
	monPID int
}

// processStats lazily starts (or reuses) a procmon.Monitor for the
// multiplexer subprocess currently backing the Sink, if any. The currently
// open section may be a filler section in direct-append mode, which has no
// subprocess; processStats reports ok=false in that case.
func (h *handle) processStats() (procmon.Stats, bool) {
	s := h.sink.Load()
	if s == nil {
		return procmon.Stats{}, false
	}
	pid := s.PID()
	if pid == 0 {
		return procmon.Stats{}, false
	}

	h.monMu.Lock()
	defer h.monMu.Unlock()

	if h.mon == nil || h.monPID != pid {
		if h.mon != nil {
			h.mon.Stop()
		}
		mon, err := procmon.NewMonitor(pid)
		if err != nil {
			return procmon.Stats{}, false
		}
		mon.Start()
		h.mon = mon
		h.monPID = pid
	}
	return h.mon.Stats(), true
}

// stopMonitor releases any procmon.Monitor started for this recording.
func (h *handle) stopMonitor() {
	h.monMu.Lock()
	mon := h.mon
	h.mon = nil
	h.monMu.Unlock()
	if mon != nil {
		mon.Stop()
	}
}

// Manager enforces the "only one recorder may run at a time" rule: starting
// a new recording first fully stops whatever is currently running.
type Manager struct {
	deps Deps
	bus  *eventbus.Bus

	muCh chan struct{} // binary semaphore; avoids holding a mutex across Stop's blocking wait
	cur  *handle
}

// NewManager builds a Manager. bus receives every lifecycle event published
// by recordings this Manager starts.
func NewManager(deps Deps, bus *eventbus.Bus) *Manager {
	m := &Manager{deps: deps, bus: bus, muCh: make(chan struct{}, 1)}
	m.muCh <- struct{}{}
	return m
}

func (m *Manager) lock()   { <-m.muCh }
func (m *Manager) unlock() { m.muCh <- struct{}{} }

// Start stops any currently running recording, then begins req in a new
// goroutine and returns its id immediately (it does not wait for the
// recording to finish).
func (m *Manager) Start(parent context.Context, req Request) (string, error) {
	if req.Kind != KindHLSLive && req.Kind != KindHLSBasic {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, req.Kind)
	}
	if req.Buffering < 1 {
		req.Buffering = 5
	}

	m.lock()
	prev := m.cur
	m.cur = nil
	m.unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(parent)
	h := &handle{id: id, cancel: cancel, done: make(chan struct{})}

	m.lock()
	m.cur = h
	m.unlock()

	go func() {
		defer close(h.done)
		run(ctx, m.deps, req, m.bus, id, h)
	}()

	return id, nil
}

// BandwidthBitsPerSecond reports the active recording's rolling download
// throughput. The second return value is false when no recording is active.
func (m *Manager) BandwidthBitsPerSecond() (float64, bool) {
	m.lock()
	cur := m.cur
	m.unlock()
	if cur == nil {
		return 0, false
	}
	p := cur.proc.Load()
	if p == nil {
		return 0, false
	}
	return p.BitsPerSecond(), true
}

// ProcessStats reports CPU/RSS/bandwidth usage of the active recording's
// multiplexer subprocess. ok is false when no recording is active or its
// currently open section is a filler section (direct append, no subprocess
// to sample).
func (m *Manager) ProcessStats() (procmon.Stats, bool) {
	m.lock()
	cur := m.cur
	m.unlock()
	if cur == nil {
		return procmon.Stats{}, false
	}
	return cur.processStats()
}

// ActiveID returns the id of the currently running recording, if any.
func (m *Manager) ActiveID() (string, bool) {
	m.lock()
	cur := m.cur
	m.unlock()
	if cur == nil {
		return "", false
	}
	return cur.id, true
}

// Stop cancels the active recording, if any, and blocks until its goroutine
// has exited.
func (m *Manager) Stop() {
	m.lock()
	cur := m.cur
	m.cur = nil
	m.unlock()
	if cur == nil {
		return
	}
	cur.cancel()
	<-cur.done
}

// run implements the shared control loop described by the reference
// server's record_stream, parameterized on req.Kind for the two points
// where hls_live and hls_basic genuinely diverge: whether an in-flight
// #EXT-X-ENDLIST means "reload, the live edge moved" or "recording
// complete."
func run(ctx context.Context, deps Deps, req Request, bus *eventbus.Bus, recorderID string, h *handle) {
	log := newStreamLog(req.RecDir)
	fetcher := playlist.NewFetcher(deps.HTTPClient)
	plProcessor := playlist.NewProcessor()
	downloader := segment.NewDownloader(deps.HTTPClient).WithRetries(deps.SegmentMaxRetries)
	prober := segment.NewProber(ffmpeg.NewProber(deps.FFprobePath))
	sink := muxer.NewSink(deps.FFmpegPath)

	segCfg := segment.Config{
		RecorderID:          recorderID,
		RecDir:              req.RecDir,
		BumperPath:          deps.BumperPath,
		BumperMaxSegmentIdx: deps.BumperMaxSegmentIdx,
	}
	segProcessor := segment.NewProcessor(segCfg, downloader, prober, sink, bus, req.Buffering)
	if h != nil {
		h.proc.Store(segProcessor)
		h.sink.Store(sink)
	}

	isLive := req.Kind == KindHLSLive

	var (
		mediaURL           string
		reloadMaster       = true
		failedPlaylists    int
		emptyPlaylists     int
		failedSegments     int
		stopReason         string
		stopErrorID        string
		stopMsg            string
		terminal           bool
	)

	defer func() {
		_ = sink.Close()
		if h != nil {
			h.stopMonitor()
		}
		if !terminal {
			stopReason = "stopped"
		}
		bus.EmitStop(stopReason, stopErrorID, stopMsg, recorderID)
		log.write(recorderID, "none", -1, -1, fmt.Sprintf("stop:%s", stopReason))
	}()

	for {
		if ctx.Err() != nil {
			stopReason = "stopped"
			return
		}

		if reloadMaster {
			resolved, err := fetcher.ResolveMaster(ctx, req.ResolvedURL)
			if err != nil {
				resolved = req.ResolvedURL
			}
			mediaURL = resolved
			reloadMaster = false
			log.write(recorderID, "none", -1, -1, "media-playlist-ready")
		}

		text, err := fetcher.FetchMedia(ctx, mediaURL)
		if err != nil || text == "" {
			failedPlaylists++
			if failedPlaylists >= maxFailedPlaylists {
				reloadMaster = true
				failedPlaylists = 0
				continue
			}
			if !sleepOrDone(ctx, pollBetweenFailures) {
				stopReason = "stopped"
				return
			}
			continue
		}
		failedPlaylists = 0

		if drm.DetectInContent(drm.Config{}, text, "m3u8").HasDRM {
			stopReason = "error"
			stopErrorID = "drm_protected"
			stopMsg = "stream uses DRM protection"
			terminal = true
			return
		}

		segments := plProcessor.Process(text)

		// For a live recording, endlist means the stream ended and the
		// server will hand out a fresh URL on reload; any segments on this
		// same refresh are not worth processing. VOD defers this check
		// until after every segment in the refresh has been handled.
		if isLive && plProcessor.EndlistSeen() {
			reloadMaster = true
			if !sleepOrDone(ctx, pollBetweenFailures) {
				stopReason = "stopped"
				return
			}
			continue
		}

		targetDurationSec, ok := plProcessor.TargetDuration()
		if !ok || targetDurationSec <= 0 {
			targetDurationSec = 6
		}
		targetDurationPTS := int64(targetDurationSec) * 90000

		if len(segments) == 0 {
			emptyPlaylists++
			if emptyPlaylists >= maxEmptyPlaylists {
				reloadMaster = true
				continue
			}
			if !sleepOrDone(ctx, pollSleep(targetDurationSec)) {
				stopReason = "stopped"
				return
			}
			continue
		}
		emptyPlaylists = 0

		// A short VOD asset with fewer segments than the configured
		// buffering depth would otherwise never reach the start-event
		// threshold; lower it to the playlist's own segment count so the
		// start event still fires once the whole asset has been processed.
		if !isLive && len(segments) < req.Buffering {
			segProcessor.SetBuffering(len(segments))
		}

		for _, seg := range segments {
			if ctx.Err() != nil {
				stopReason = "stopped"
				return
			}

			segURL, err := playlist.ResolveSegmentURL(mediaURL, seg.URI)
			if err != nil {
				segURL = seg.URI
			}

			desc := segment.Descriptor{
				Sequence:      seg.Sequence,
				URI:           seg.URI,
				URL:           segURL,
				Encryption:    seg.Encryption,
				Discontinuity: seg.Discontinuity,
			}

			procErr := segProcessor.Process(ctx, desc, targetDurationPTS)
			if procErr != nil {
				if errors.Is(procErr, segment.ErrDRMProtected) {
					stopReason = "error"
					stopErrorID = "drm_protected"
					stopMsg = procErr.Error()
					terminal = true
					return
				}
				failedSegments++
				log.write(recorderID, seg.URI, segProcessor.SectionIndex(), segProcessor.SegmentIndex(), "segment-failed")
				if failedSegments >= maxFailedSegments {
					stopReason = "error"
					stopErrorID = "failure"
					stopMsg = "too many failed segments"
					terminal = true
					return
				}
				continue
			}
			failedSegments = 0
			log.write(recorderID, seg.URI, segProcessor.SectionIndex(), segProcessor.SegmentIndex(), "segment-processed")
		}

		if !isLive && plProcessor.EndlistSeen() {
			stopReason = "complete"
			terminal = true
			return
		}

		if !sleepOrDone(ctx, pollSleep(targetDurationSec)) {
			stopReason = "stopped"
			return
		}
	}
}

// pollSleep mirrors calculate_sleep_duration: half the target duration,
// capped at 3 seconds, with a 1 second floor when no target is known.
func pollSleep(targetDurationSec int) time.Duration {
	if targetDurationSec <= 0 {
		return 1 * time.Second
	}
	half := float64(targetDurationSec) / 2
	capped := math.Min(half, 3.0)
	return time.Duration(capped * float64(time.Second))
}

// sleepOrDone sleeps for d, returning false early (without sleeping the
// full duration) if ctx is canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

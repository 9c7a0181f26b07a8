package segment

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/hlsrec/internal/playlist"
	"github.com/jmylchreest/hlsrec/internal/tscodec"
)

// Descriptor is one segment entry handed to the processor by the recorder
// loop, adapted from a playlist.Segment plus its resolved absolute URL.
type Descriptor struct {
	Sequence      int64
	URI           string // playlist-relative URI, used for filler/resolution-change detection
	URL           string // resolved absolute URL to download
	Encryption    playlist.EncryptionInfo
	Discontinuity bool
}

// StartEvent mirrors the reference server's ["start", {...}] broadcast,
// emitted both on the initial buffering handshake and on bumper/section
// insertion.
type StartEvent struct {
	URL          string
	RecFile      string
	SectionIndex int
	SegmentIndex int
	RecorderID   string
}

// EventSink receives lifecycle notifications from the processor. The
// concrete implementation is internal/eventbus.Bus.
type EventSink interface {
	EmitStart(StartEvent)
}

// Muxer receives decoded segment bytes for one recording section. Open is
// called once per section (new stream_<n>.ts target); throughMultiplexer
// selects the external-remultiplexer path for content sections, leaving
// filler sections to bypass it with a direct append. Write may be called
// many times; Close ends the section. The concrete implementation is
// internal/muxer.Sink.
type Muxer interface {
	Open(ctx context.Context, sectionFile string, throughMultiplexer bool) error
	Write(data []byte) error
	Close() error
}

// Config tunes processor behavior that is operator-configurable rather than
// hardcoded, unlike the reference server's fixed bumper path and thresholds.
type Config struct {
	RecorderID          string
	RecDir              string
	BumperPath          string
	BumperMaxSegmentIdx int // only insert a bumper within this many segments of a section start; 0 disables the check
}

// Processor implements the per-recording-session segment pipeline: download,
// decrypt, continuity-shift, discontinuity-flag, and forward to a Muxer,
// tracking section and resolution transitions across a live HLS recording.
type Processor struct {
	cfg        Config
	downloader *Downloader
	prober     *Prober
	muxer      Muxer
	events     EventSink
	bandwidth  *BandwidthTracker

	segmentIndex         int
	previousSegmentIndex int
	sectionIndex         int
	previousURI          string
	previousDurationPTS  int64
	previousPTS          int64
	hasPreviousPTS       bool
	currentResolution    string
	previousResolution   string
	offset               int64
	continuousPTS        int64
	ccMap                map[int]byte
	previousFiller       bool
	currentFiller        bool
	sectionFile          string
	buffering            int
	buffered             bool
}

// NewProcessor builds a Processor. buffering is the segment index at which
// the initial playback-start handshake fires (mirrors record_stream's
// buffering parameter, default 5 upstream).
func NewProcessor(cfg Config, downloader *Downloader, prober *Prober, muxer Muxer, events EventSink, buffering int) *Processor {
	return &Processor{
		cfg:                  cfg,
		downloader:           downloader,
		prober:               prober,
		muxer:                muxer,
		events:               events,
		bandwidth:            NewBandwidthTracker(30 * time.Second),
		previousSegmentIndex: -1,
		sectionIndex:         -1,
		buffering:            buffering,
		ccMap:                make(map[int]byte),
	}
}

// Process downloads, decrypts, and writes one segment, advancing all
// section/continuity/buffering state. targetDuration (90kHz ticks) is used
// as a duration fallback when ffprobe can't determine one.
func (p *Processor) Process(ctx context.Context, seg Descriptor, targetDurationPTS int64) error {
	data, err := p.downloader.Download(ctx, seg.URL, seg.Sequence, toEncryptionInfo(seg.Encryption), nil)
	if err != nil {
		return fmt.Errorf("downloading segment %d: %w", seg.Sequence, err)
	}

	p.bandwidth.Record(time.Now(), int64(len(data)))

	props, err := p.prober.Probe(ctx, data)
	if err != nil {
		return fmt.Errorf("probing segment %d: %w", seg.Sequence, err)
	}
	if !props.HasFirstPTS {
		return fmt.Errorf("segment %d: no PTS could be determined", seg.Sequence)
	}
	currentPTS := props.FirstPTS
	currentDuration := props.DurationPTS
	if currentDuration == 0 {
		currentDuration = targetDurationPTS
	}
	p.currentResolution = props.Resolution
	p.currentFiller = IsFillerSegment(seg.URI)

	// The very first segment of a recording always starts a section: there
	// is no previous section to compare against.
	newSection := p.sectionIndex == -1
	if !newSection && playlist.DirectoryDiffers(p.previousURI, seg.URI) {
		if p.currentResolution != "" && p.previousResolution != "" && p.currentResolution != p.previousResolution {
			newSection = true
		}
		if p.currentFiller != p.previousFiller {
			newSection = true
		}
	}
	monotonize := p.currentFiller

	if newSection && p.buffered && p.previousFiller &&
		(p.cfg.BumperMaxSegmentIdx == 0 || p.previousSegmentIndex < p.cfg.BumperMaxSegmentIdx) {
		if err := p.insertBumper(ctx); err != nil {
			return fmt.Errorf("inserting bumper at section %d: %w", p.sectionIndex, err)
		}
	}

	if newSection {
		if err := p.muxer.Close(); err != nil {
			return fmt.Errorf("closing previous section: %w", err)
		}
		p.segmentIndex = 0
		p.sectionIndex++
		p.continuousPTS = currentPTS
		p.offset = 0
		p.ccMap = make(map[int]byte)
		p.sectionFile = fmt.Sprintf("%s/stream_%d.ts", p.cfg.RecDir, p.sectionIndex)
		if err := p.muxer.Open(ctx, p.sectionFile, !p.currentFiller); err != nil {
			return fmt.Errorf("opening section %d: %w", p.sectionIndex, err)
		}
	} else {
		p.continuousPTS += p.previousDurationPTS
		p.offset = p.continuousPTS - currentPTS
	}

	if monotonize {
		data = tscodec.ShiftSegment(data, p.offset)
		var updated []byte
		updated, p.ccMap = tscodec.UpdateContinuityCounters(data, p.ccMap)
		data = updated
	}
	if seg.Discontinuity {
		data = tscodec.SetDiscontinuityIndicator(data)
	}

	if err := p.muxer.Write(data); err != nil {
		return fmt.Errorf("writing segment %d: %w", seg.Sequence, err)
	}

	if !p.buffered && p.segmentIndex == p.buffering {
		p.events.EmitStart(StartEvent{
			URL:          seg.URL,
			RecFile:      p.sectionFile,
			SectionIndex: p.sectionIndex,
			SegmentIndex: p.segmentIndex,
			RecorderID:   p.cfg.RecorderID,
		})
		p.buffered = true
	}

	p.previousURI = seg.URI
	p.previousDurationPTS = currentDuration
	p.previousPTS = currentPTS
	p.hasPreviousPTS = true
	p.previousResolution = p.currentResolution
	p.previousFiller = p.currentFiller
	p.previousSegmentIndex = p.segmentIndex
	p.segmentIndex++
	return nil
}

func (p *Processor) insertBumper(ctx context.Context) error {
	bumper := NewBumperSource(p.cfg.BumperPath)
	data, err := bumper.Read()
	if err != nil {
		return err
	}
	if err := p.muxer.Close(); err != nil {
		return err
	}
	if err := p.muxer.Write(data); err != nil {
		return err
	}
	p.events.EmitStart(StartEvent{
		URL:          "bumper-file",
		RecFile:      p.sectionFile,
		SectionIndex: p.sectionIndex,
		SegmentIndex: p.previousSegmentIndex,
		RecorderID:   p.cfg.RecorderID,
	})
	return nil
}

// SectionIndex reports the current section number, for diagnostics/tests.
func (p *Processor) SectionIndex() int { return p.sectionIndex }

// SetBuffering adjusts the start-event threshold after construction. Used
// for short VOD playlists (fewer segments than the configured buffering
// depth) so the start event still fires once the whole asset is processed,
// rather than never.
func (p *Processor) SetBuffering(buffering int) {
	p.buffering = buffering
}

// SegmentIndex reports the current within-section segment counter.
func (p *Processor) SegmentIndex() int { return p.segmentIndex }

// BitsPerSecond reports the rolling 30-second download throughput, surfaced
// through the control-plane API as an operational signal.
func (p *Processor) BitsPerSecond() float64 { return p.bandwidth.BitsPerSecond(time.Now()) }

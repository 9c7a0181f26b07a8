package segment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/asticode/go-astits"
	"github.com/jmylchreest/hlsrec/internal/ffmpeg"
)

// Properties is the set of facts about a downloaded segment the recorder
// needs to decide continuity, resolution changes, and section boundaries.
type Properties struct {
	Resolution string // "1920x1080", empty if unknown
	DurationPTS int64 // 90kHz ticks, 0 if unknown
	FirstPTS   int64
	HasFirstPTS bool
	VideoPIDs  []int
	AudioPIDs  []int
}

// Prober extracts Properties from raw segment bytes by writing them to a
// temp file and shelling out to ffprobe.
type Prober struct {
	prober *ffmpeg.Prober
}

// NewProber builds a Prober around an existing ffmpeg.Prober instance.
func NewProber(p *ffmpeg.Prober) *Prober {
	return &Prober{prober: p}
}

// Probe writes data to a temporary .ts file and runs ffprobe against it,
// extracting resolution, duration, first video PTS, and video/audio PIDs.
func (p *Prober) Probe(ctx context.Context, data []byte) (Properties, error) {
	tmp, err := os.CreateTemp("", "hlsrec-segment-*.ts")
	if err != nil {
		return Properties{}, fmt.Errorf("creating temp segment file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return Properties{}, fmt.Errorf("writing temp segment file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return Properties{}, fmt.Errorf("flushing temp segment file: %w", err)
	}

	result, err := p.prober.Probe(ctx, tmp.Name())
	if err != nil {
		return Properties{}, fmt.Errorf("probing segment: %w", err)
	}

	var props Properties
	videoStream := result.GetVideoStream()
	if videoStream != nil && videoStream.Width > 0 && videoStream.Height > 0 {
		props.Resolution = fmt.Sprintf("%dx%d", videoStream.Width, videoStream.Height)
	}

	if result.Format.Duration != "" {
		if d, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			props.DurationPTS = int64(roundFloat(d)) * 90000
		}
	}
	if props.DurationPTS == 0 && videoStream != nil && videoStream.Duration != "" {
		if d, err := strconv.ParseFloat(videoStream.Duration, 64); err == nil {
			props.DurationPTS = int64(roundFloat(d)) * 90000
		}
	}

	if videoStream != nil && videoStream.StartPts != 0 {
		props.FirstPTS = videoStream.StartPts
		props.HasFirstPTS = true
	}

	for _, s := range result.Streams {
		pid, ok := parseStreamPID(s.ID)
		if !ok {
			continue
		}
		switch s.CodecType {
		case "video":
			props.VideoPIDs = append(props.VideoPIDs, pid)
		case "audio":
			props.AudioPIDs = append(props.AudioPIDs, pid)
		}
	}

	if err := crossCheckPIDs(ctx, data, props.VideoPIDs, props.AudioPIDs); err != nil {
		return Properties{}, fmt.Errorf("structural PID cross-check: %w", err)
	}

	return props, nil
}

// crossCheckPIDs demuxes data with go-astits, an independent MPEG-TS parser,
// and confirms every PID ffprobe reported for data actually carries PES
// packets in the demuxer's own view of the stream. This catches the case
// where ffprobe's container-level metadata disagrees with the packet
// stream itself, which the hand-rolled byte parser in tscodec never checks.
func crossCheckPIDs(ctx context.Context, data []byte, videoPIDs, audioPIDs []int) error {
	want := make(map[int]bool, len(videoPIDs)+len(audioPIDs))
	for _, pid := range videoPIDs {
		want[pid] = true
	}
	for _, pid := range audioPIDs {
		want[pid] = true
	}
	if len(want) == 0 {
		return nil
	}

	dem := astits.NewDemuxer(ctx, bytes.NewReader(data))
	seen := make(map[int]bool, len(want))
	for {
		d, err := dem.NextData()
		if err != nil {
			if err == astits.ErrNoMorePackets {
				break
			}
			return fmt.Errorf("demuxing for PID cross-check: %w", err)
		}
		if d.PES != nil {
			seen[int(d.PID)] = true
		}
		if len(seen) == len(want) {
			break
		}
	}

	for pid := range want {
		if !seen[pid] {
			return fmt.Errorf("PID %d reported by ffprobe never carried a PES packet in the demuxed stream", pid)
		}
	}
	return nil
}

func parseStreamPID(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		v, err := strconv.ParseInt(id[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return int(v), true
	}
	v, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return v, true
}

func roundFloat(f float64) int64 {
	if f < 0 {
		return int64(f - 0.5)
	}
	return int64(f + 0.5)
}

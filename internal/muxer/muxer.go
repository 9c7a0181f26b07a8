// Package muxer writes decoded MPEG-TS segment bytes into a recording
// section file, either by appending directly (the filler-section path,
// matching the reference server's append_to_rec_file) or by piping through
// an external remux subprocess (the content-section path, for continuity
// repair). The mode is chosen per section by the caller, not fixed for the
// Sink's lifetime.
package muxer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jmylchreest/hlsrec/internal/ffmpeg"
	"github.com/jmylchreest/hlsrec/internal/tscodec"
)

// Mode selects how segment bytes reach the section file.
type Mode int

const (
	// ModeDirectAppend appends validated TS bytes straight onto the section
	// file. Used for filler sections, which bypass the multiplexer.
	ModeDirectAppend Mode = iota
	// ModeThroughMultiplexer pipes segment bytes into an external ffmpeg
	// remux process's stdin, which writes a cleaned copy-codec stream to
	// the section file. Used for content sections, for continuity repair.
	ModeThroughMultiplexer
)

// Sink implements segment.Muxer for one recording section at a time. Mode
// is chosen per section (via Open's throughMultiplexer argument), not fixed
// for the Sink's lifetime: a single recording alternates between filler
// sections (direct append) and content sections (multiplexer).
type Sink struct {
	ffmpegPath  string
	mode        Mode // mode of the currently (or most recently) open section
	file        *os.File
	cmd         *ffmpeg.Command
	stdin       io.WriteCloser
	sectionFile string
}

// NewSink builds a Sink, using ffmpegPath for the multiplexer subprocess on
// sections opened with throughMultiplexer = true.
func NewSink(ffmpegPath string) *Sink {
	return &Sink{ffmpegPath: ffmpegPath}
}

// Open begins a new recording section at sectionFile, closing whatever
// section may have been open previously (callers are expected to have
// already called Close, but Open is defensive). throughMultiplexer selects
// ModeThroughMultiplexer for this section; otherwise ModeDirectAppend.
func (s *Sink) Open(ctx context.Context, sectionFile string, throughMultiplexer bool) error {
	if s.file != nil || s.stdin != nil {
		_ = s.Close()
	}
	s.sectionFile = sectionFile
	if throughMultiplexer {
		s.mode = ModeThroughMultiplexer
	} else {
		s.mode = ModeDirectAppend
	}

	switch s.mode {
	case ModeDirectAppend:
		f, err := os.OpenFile(sectionFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening section file %q: %w", sectionFile, err)
		}
		s.file = f
		return nil

	case ModeThroughMultiplexer:
		builder := ffmpeg.NewCommandBuilder(s.ffmpegPath).
			Input("pipe:0").
			RemuxCopyArgs().
			MpegtsArgs().
			FlushPackets().
			Output(sectionFile)
		cmd := builder.Build()
		stdin, err := cmd.StartWithStdin(ctx)
		if err != nil {
			return fmt.Errorf("starting multiplexer for section %q: %w", sectionFile, err)
		}
		s.cmd = cmd
		s.stdin = stdin
		return nil

	default:
		return fmt.Errorf("unknown muxer mode %d", s.mode)
	}
}

// Write appends data (already continuity-shifted and discontinuity-flagged
// by the segment processor) to the current section, validating it looks
// like a real TS payload first.
func (s *Sink) Write(data []byte) error {
	if !tscodec.IsValidTS(data) {
		return fmt.Errorf("refusing to write invalid TS segment (%d bytes)", len(data))
	}

	switch s.mode {
	case ModeDirectAppend:
		if s.file == nil {
			return fmt.Errorf("write called before Open")
		}
		if _, err := s.file.Write(data); err != nil {
			return fmt.Errorf("appending to section file: %w", err)
		}
		return s.file.Sync()

	case ModeThroughMultiplexer:
		if s.stdin == nil {
			return fmt.Errorf("write called before Open")
		}
		_, err := s.stdin.Write(data)
		return err

	default:
		return fmt.Errorf("unknown muxer mode %d", s.mode)
	}
}

// PID returns the multiplexer subprocess's process id, or 0 when the Sink
// is in ModeDirectAppend (no subprocess) or has no section open.
func (s *Sink) PID() int {
	if s.cmd == nil {
		return 0
	}
	return s.cmd.Pid()
}

// Close ends the current section, releasing the file handle or stdin pipe
// and waiting for the multiplexer subprocess (if any) to exit. Close on an
// already-closed Sink is a no-op.
func (s *Sink) Close() error {
	switch s.mode {
	case ModeDirectAppend:
		if s.file == nil {
			return nil
		}
		err := s.file.Close()
		s.file = nil
		return err

	case ModeThroughMultiplexer:
		if s.stdin == nil {
			return nil
		}
		closeErr := s.stdin.Close()
		s.stdin = nil
		var waitErr error
		if s.cmd != nil {
			waitErr = s.cmd.Wait()
			s.cmd = nil
		}
		if closeErr != nil {
			return closeErr
		}
		return waitErr

	default:
		return nil
	}
}

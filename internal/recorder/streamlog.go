package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// streamLogFilename is the per-recording lifecycle log, one line per
// significant event, living alongside the stream_<n>.ts section files.
const streamLogFilename = "stream.log"

// streamLog appends human-readable lifecycle lines to rec_dir/stream.log,
// matching the reference server's write_log.
type streamLog struct {
	mu   sync.Mutex
	path string
}

func newStreamLog(recDir string) *streamLog {
	return &streamLog{path: filepath.Join(recDir, streamLogFilename)}
}

// write appends one line of the form
// "HH:MM:SS.mmm <recorderID> <section:03d>/<segment:03d>: <uri> - <tag>",
// substituting "---" for either index when it is negative (not yet known).
func (l *streamLog) write(recorderID, uri string, sectionIndex, segmentIndex int, tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	now := time.Now()
	timestamp := fmt.Sprintf("%s.%03d", now.Format("15:04:05"), now.Nanosecond()/1_000_000)

	section := "---"
	if sectionIndex >= 0 {
		section = fmt.Sprintf("%03d", sectionIndex)
	}
	segment := "---"
	if segmentIndex >= 0 {
		segment = fmt.Sprintf("%03d", segmentIndex)
	}

	fmt.Fprintf(f, "%s %s %s/%s: %s - %s\n", timestamp, recorderID, section, segment, uri, tag)
}

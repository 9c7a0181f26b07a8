package segment

import (
	"fmt"
	"os"
)

// BumperSource reads a pre-authored filler clip that gets spliced in when a
// recording transitions out of filler content into a new program section.
// Unlike the reference server's hardcoded bumper path, this is configured
// explicitly by the caller.
type BumperSource struct {
	path string
}

// NewBumperSource builds a BumperSource reading from path.
func NewBumperSource(path string) *BumperSource {
	return &BumperSource{path: path}
}

// Read loads the full bumper clip into memory. Bumpers are small,
// pre-authored clips (a few seconds of MPEG-TS), so reading whole is
// appropriate.
func (b *BumperSource) Read() ([]byte, error) {
	if b.path == "" {
		return nil, fmt.Errorf("no bumper file configured")
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("reading bumper file %q: %w", b.path, err)
	}
	return data, nil
}

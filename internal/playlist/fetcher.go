// Package playlist resolves HLS master/media playlists over HTTP and turns
// refreshed media playlists into an incremental stream of new segments via a
// deduplicating, stateful processor.
package playlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/hlsrec/pkg/httpclient"
)

// masterTimeout and mediaTimeout mirror the two distinct timeouts used by
// the reference server: master-playlist resolution can involve slower
// redirect chains, while steady-state media-playlist polling needs to be
// snappier.
const (
	masterTimeout = 15 * time.Second
	mediaTimeout  = 10 * time.Second
)

// Variant describes one entry of an HLS master playlist's #EXT-X-STREAM-INF
// list.
type Variant struct {
	Bandwidth  int
	Resolution string
	URI        string
}

var streamInfAttrPattern = regexp.MustCompile(`([A-Z0-9\-]+)=(".*?"|[^",]*)`)

// ParseAttributes parses an attribute-list tag body of the form
// KEY1=VAL1,KEY2="VAL2" into a map with quotes stripped.
func ParseAttributes(attrStr string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range streamInfAttrPattern.FindAllStringSubmatch(attrStr, -1) {
		key, val := m[1], m[2]
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			val = strings.Trim(val, `"`)
		}
		attrs[key] = val
	}
	return attrs
}

// Fetcher resolves master playlists and downloads media playlist bodies.
type Fetcher struct {
	client *httpclient.Client
}

// NewFetcher builds a Fetcher using client for all HTTP access.
func NewFetcher(client *httpclient.Client) *Fetcher {
	return &Fetcher{client: client}
}

// ResolveMaster fetches playlistURL and, if it is an HLS master playlist,
// returns the absolute URL of its highest-bandwidth variant. If
// playlistURL is already a media playlist (no #EXT-X-STREAM-INF entries),
// it is returned unchanged.
func (f *Fetcher) ResolveMaster(ctx context.Context, playlistURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, masterTimeout)
	defer cancel()

	resp, err := f.client.Get(ctx, playlistURL)
	if err != nil {
		return "", fmt.Errorf("fetching master playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching master playlist: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading master playlist: %w", err)
	}

	variants := parseVariants(string(body))
	if len(variants) == 0 {
		return playlistURL, nil
	}

	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}

	base := playlistURL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}
	resolved, err := resolveRelative(base, best.URI)
	if err != nil {
		return "", fmt.Errorf("resolving variant URI: %w", err)
	}
	return resolved, nil
}

// parseVariants extracts #EXT-X-STREAM-INF/URI pairs from a master
// playlist body, in document order.
func parseVariants(body string) []Variant {
	lines := strings.Split(body, "\n")
	var variants []Variant
	var pending *Variant

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			attrs := ParseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			v := Variant{Resolution: attrs["RESOLUTION"]}
			if bw, err := strconv.Atoi(attrs["BANDWIDTH"]); err == nil {
				v.Bandwidth = bw
			}
			pending = &v
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending != nil {
			pending.URI = line
			variants = append(variants, *pending)
			pending = nil
		}
	}
	return variants
}

// FetchMedia downloads the current body of a media playlist. It returns
// ("", nil) on a non-200 response or network error, mirroring the
// reference server's tolerant polling loop where a failed fetch is skipped
// rather than treated as fatal.
func (f *Fetcher) FetchMedia(ctx context.Context, playlistURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	resp, err := f.client.Get(ctx, playlistURL)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil
	}
	return string(body), nil
}

// ResolveSegmentURL resolves a segment URI found in a media playlist
// against the playlist's own URL, unless it is already absolute.
func ResolveSegmentURL(playlistURL, segmentURI string) (string, error) {
	if strings.HasPrefix(segmentURI, "http://") || strings.HasPrefix(segmentURI, "https://") {
		return segmentURI, nil
	}
	return resolveRelative(playlistURL, segmentURI)
}

func resolveRelative(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// DifferentURIs reports whether two URIs are "different" for HLS
// reference-server resolution-change purposes: true if either is empty, if
// their hosts differ, or if their hosts are the same but their first path
// directory component differs. This mirrors hls_playlist_utils.py's
// different_uris and is distinct from DirectoryDiffers below, which ignores
// host entirely.
func DifferentURIs(uri1, uri2 string) bool {
	if uri1 == "" || uri2 == "" {
		return true
	}
	u1, err1 := url.Parse(uri1)
	u2, err2 := url.Parse(uri2)
	if err1 != nil || err2 != nil {
		return true
	}
	if u1.Host != u2.Host {
		return true
	}
	return firstPathComponent(u1.Path) != firstPathComponent(u2.Path)
}

func firstPathComponent(p string) string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	return parts[0]
}

// DirectoryDiffers reports whether two segment URLs live in different
// directories, comparing the full directory path (everything up to the
// last "/") rather than just the host plus first path component. Used by
// the segment processor's own resolution/section-boundary detection, kept
// distinct from DifferentURIs which this package also exposes for any
// master-playlist-resolution caller that wants the reference server's
// exact host-plus-first-directory semantics.
func DirectoryDiffers(uri1, uri2 string) bool {
	if uri1 == "" || uri2 == "" {
		return true
	}
	return directoryOf(uri1) != directoryOf(uri2)
}

func directoryOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		idx := strings.LastIndex(rawURL, "/")
		if idx == -1 {
			return ""
		}
		return rawURL[:idx]
	}
	idx := strings.LastIndex(u.Path, "/")
	if idx == -1 {
		return ""
	}
	return u.Path[:idx]
}

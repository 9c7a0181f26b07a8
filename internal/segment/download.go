package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/hlsrec/internal/cryptutil"
	"github.com/jmylchreest/hlsrec/internal/drm"
	"github.com/jmylchreest/hlsrec/internal/playlist"
	"github.com/jmylchreest/hlsrec/pkg/httpclient"
)

// ErrDRMProtected is returned (wrapped with context) when a download failure
// is classified as DRM rather than a transient network error.
var ErrDRMProtected = errors.New("segment protected by DRM")

// DefaultMaxRetries and DefaultTimeout match the reference server's
// steady-state segment polling defaults.
const (
	DefaultMaxRetries = 10
	DefaultTimeout     = 5 * time.Second
	retryDelay         = 1 * time.Second
)

// fillerSignatures are known ad/error/filler content URI substrings.
var fillerSignatures = []string{
	"_plutotv_error_", "_plutotv_filler_", "_Space_Station_",
	"_Promo/", "_ad_bumper_", "_Well_be_right_back/",
}

// IsFillerSegment reports whether uri identifies filler/ad/error content
// rather than regular program content.
func IsFillerSegment(uri string) bool {
	for _, sig := range fillerSignatures {
		if strings.Contains(uri, sig) {
			return true
		}
	}
	return false
}

// Downloader fetches and, where required, decrypts HLS segments.
type Downloader struct {
	client     *httpclient.Client
	keyFetcher *cryptutil.KeyFetcher
	maxRetries int
	timeout    time.Duration
}

// NewDownloader builds a Downloader using client for both segment and key
// fetches.
func NewDownloader(client *httpclient.Client) *Downloader {
	return &Downloader{
		client:     client,
		keyFetcher: cryptutil.NewKeyFetcher(client),
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
	}
}

// WithRetries overrides the retry count.
func (d *Downloader) WithRetries(n int) *Downloader {
	d.maxRetries = n
	return d
}

// Download fetches segmentURL, retrying transient failures up to
// maxRetries times with a fixed delay between attempts, and decrypts the
// body if key describes AES-128 encryption. The first failed attempt that
// the DRM check flags returns ErrDRMProtected at once, without further
// retries.
func (d *Downloader) Download(ctx context.Context, segmentURL string, segmentSequence int64, key cryptutil.KeyInfo, mediaSequenceBase *int64) ([]byte, error) {
	var keyBytes []byte
	if key.IsAES128() && key.URI != "" {
		var err error
		keyBytes, err = d.keyFetcher.FetchKey(ctx, key.URI)
		if err != nil {
			return nil, fmt.Errorf("fetching segment key: %w", err)
		}
	}

	var lastErr error
	var lastHeaders map[string]string

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		data, headers, err := d.fetchOnce(ctx, segmentURL)
		if err == nil {
			if key.IsAES128() && len(keyBytes) > 0 {
				iv, ivErr := cryptutil.ResolveIV(key, segmentSequence, mediaSequenceBase)
				if ivErr != nil {
					return nil, fmt.Errorf("resolving IV: %w", ivErr)
				}
				decrypted, decErr := cryptutil.Decrypt(data, keyBytes, iv)
				if decErr != nil {
					return nil, fmt.Errorf("decrypting segment: %w", decErr)
				}
				return decrypted, nil
			}
			return data, nil
		}

		lastErr = err
		lastHeaders = headers
		check := drm.Comprehensive(drm.Config{}, segmentURL, "", headers, err.Error(), "")
		if check.HasDRM {
			return nil, fmt.Errorf("%w: %s", ErrDRMProtected, check.DRMType)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	_ = lastHeaders
	return nil, fmt.Errorf("downloading segment after %d attempts: %w", d.maxRetries, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, segmentURL string) ([]byte, map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.client.Get(ctx, segmentURL)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, headers, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, headers, err
	}
	return data, headers, nil
}

// toEncryptionInfo adapts a playlist.EncryptionInfo into the cryptutil.KeyInfo
// shape the downloader and IV resolution use.
func toEncryptionInfo(info playlist.EncryptionInfo) cryptutil.KeyInfo {
	return cryptutil.KeyInfo{Method: info.Method, URI: info.URI, IV: info.IV}
}

package recorder

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmylchreest/hlsrec/internal/eventbus"
	"github.com/jmylchreest/hlsrec/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRejectsUnsupportedKind(t *testing.T) {
	m := NewManager(Deps{HTTPClient: httpclient.NewWithDefaults()}, eventbus.New())
	_, err := m.Start(t.Context(), Request{Kind: KindMP4})
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestManagerStopWithoutStartIsNoop(t *testing.T) {
	m := NewManager(Deps{HTTPClient: httpclient.NewWithDefaults()}, eventbus.New())
	m.Stop()
}

func TestManagerStartThenStopCancelsPromptly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	bus := eventbus.New()
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	m := NewManager(Deps{
		HTTPClient: httpclient.NewWithDefaults(),
	}, bus)

	_, err := m.Start(t.Context(), Request{
		ResolvedURL: server.URL + "/playlist.m3u8",
		RecDir:      dir,
		Buffering:   5,
		Kind:        KindHLSLive,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return promptly")
	}

	var sawStop bool
drain:
	for {
		select {
		case evt := <-ch:
			if evt.Type == eventbus.TypeStop {
				sawStop = true
			}
		default:
			break drain
		}
	}
	assert.True(t, sawStop, "expected a terminal stop event to have been published")
}

func TestManagerProcessStatsFalseBeforeAnySectionOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	m := NewManager(Deps{
		HTTPClient: httpclient.NewWithDefaults(),
	}, eventbus.New())

	_, err := m.Start(t.Context(), Request{
		ResolvedURL: server.URL + "/playlist.m3u8",
		RecDir:      t.TempDir(),
		Buffering:   5,
		Kind:        KindHLSLive,
	})
	require.NoError(t, err)
	defer m.Stop()

	_, ok := m.ProcessStats()
	assert.False(t, ok, "no section has been opened yet, so there is no subprocess to sample")
}

func TestManagerProcessStatsFalseWhenNoRecordingActive(t *testing.T) {
	m := NewManager(Deps{HTTPClient: httpclient.NewWithDefaults()}, eventbus.New())
	_, ok := m.ProcessStats()
	assert.False(t, ok)
}

func TestPollSleepCapsAtThreeSeconds(t *testing.T) {
	assert.Equal(t, 3*time.Second, pollSleep(10))
}

func TestPollSleepHalvesTargetDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, pollSleep(4))
}

func TestPollSleepFloorsAtOneSecondWhenUnknown(t *testing.T) {
	assert.Equal(t, 1*time.Second, pollSleep(0))
}

func TestStreamLogWriteFormatsLine(t *testing.T) {
	dir := t.TempDir()
	log := newStreamLog(dir)

	log.write("hls_live", "http://example.com/seg1.ts", 2, 7, "segment-processed")

	data, err := os.ReadFile(filepath.Join(dir, streamLogFilename))
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "hls_live 002/007: http://example.com/seg1.ts - segment-processed")
}

func TestStreamLogWriteUsesPlaceholderForUnknownIndices(t *testing.T) {
	dir := t.TempDir()
	log := newStreamLog(dir)

	log.write("hls_basic", "none", -1, -1, "media-playlist-ready")

	data, err := os.ReadFile(filepath.Join(dir, streamLogFilename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hls_basic ---/---: none - media-playlist-ready")
}

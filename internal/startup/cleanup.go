// Package startup provides utilities for application startup and periodic
// maintenance tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StreamFilePrefix is the prefix used for recording output files in a
// recording directory (stream_0.ts, stream_1.ts, stream.log, ...).
const StreamFilePrefix = "stream"

// CleanupRecordingDir removes leftover stream_* section files and the
// stream.log file from a recording directory before a new recording starts.
// This mirrors the start-of-recording sweep that discards artifacts from a
// previous, possibly crashed, session using the same directory.
func CleanupRecordingDir(logger *slog.Logger, recDir string) (int, error) {
	entries, err := os.ReadDir(recDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, StreamFilePrefix) {
			continue
		}
		path := filepath.Join(recDir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale recording file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}

// CleanupOrphanedTempDirs removes directories under baseDir matching prefix
// whose modification time is older than maxAge. It is used to reclaim
// recording directories abandoned by recorders that never called stop.
func CleanupOrphanedTempDirs(logger *slog.Logger, baseDir string, prefix string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping cleanup", slog.String("path", baseDir))
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup", slog.String("path", baseDir), slog.String("error", err.Error()))
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get directory info", slog.String("path", dirPath), slog.String("error", err.Error()))
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned recording directory", slog.String("path", dirPath), slog.String("error", err.Error()))
			continue
		}

		logger.Info("removed orphaned recording directory",
			slog.String("path", dirPath),
			slog.Duration("age", time.Since(info.ModTime())))
		removed++
	}

	return removed, nil
}

// DefaultCleanupAge is the default maximum age for orphaned recording directories.
const DefaultCleanupAge = 1 * time.Hour

// Package fsutil locates model weights on disk and formats sizes and
// durations for log lines.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CacheEnv overrides the cache root.
const CacheEnv = "SPEECH_WORKER_CACHE"

const appName = "speech-worker"

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// CacheDir is $SPEECH_WORKER_CACHE, or ~/.cache/speech-worker.
func CacheDir() string {
	if dir := os.Getenv(CacheEnv); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, "cache")
	}

	return filepath.Join(home, ".cache", appName)
}

// ModelsDir is where downloaded weights go.
func ModelsDir() string {
	return filepath.Join(CacheDir(), "models")
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	rest, found := strings.CutPrefix(path, "~/")
	if !found {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, rest)
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// FindModel returns the absolute path of the first existing candidate: the
// name itself, each of searchDirs, ./models, then ModelsDir.
func FindModel(fileName string, searchDirs ...string) (string, error) {
	candidates := []string{fileName}
	for _, dir := range searchDirs {
		if dir != "" {
			candidates = append(candidates, filepath.Join(ExpandHome(dir), fileName))
		}
	}

	candidates = append(candidates, filepath.Join("models", fileName), filepath.Join(ModelsDir(), fileName))

	for _, candidate := range candidates {
		_, statErr := os.Stat(candidate)
		if errors.Is(statErr, os.ErrNotExist) {
			continue
		}

		if statErr != nil {
			return "", fmt.Errorf("failed to check model path %q: %w", candidate, statErr)
		}

		abs, absErr := filepath.Abs(candidate)
		if absErr != nil {
			return "", fmt.Errorf("failed to resolve %q: %w", candidate, absErr)
		}

		return abs, nil
	}

	return "", fmt.Errorf("%w: %s", ErrModelNotFound, fileName)
}

// FormatDuration renders "45.2s", "5m 30.5s" or, from one hour, "1h 15m".
func FormatDuration(elapsed time.Duration) string {
	switch {
	case elapsed < time.Minute:
		return fmt.Sprintf("%.1fs", elapsed.Seconds())
	case elapsed < time.Hour:
		minutes := elapsed / time.Minute

		return fmt.Sprintf("%dm %.1fs", int(minutes), (elapsed - minutes*time.Minute).Seconds())
	default:
		hours := elapsed / time.Hour

		return fmt.Sprintf("%dh %dm", int(hours), int((elapsed-hours*time.Hour)/time.Minute))
	}
}

var sizeUnits = []string{"KB", "MB", "GB"}

// FormatFileSize renders a byte count with one decimal in the largest unit
// that keeps the value at or above one, capped at GB.
func FormatFileSize(size int64) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}

	value := float64(size) / 1024
	unit := 0

	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}

	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}

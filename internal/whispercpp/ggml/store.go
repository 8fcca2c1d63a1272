// Package ggml maps Hugging Face whisper model ids to whisper.cpp ggml weight
// files and fetches missing weights.
package ggml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-worker/internal/fsutil"
)

// DefaultBaseURL hosts the converted ggml weights.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

const (
	filePrefix      = "ggml-"
	fileSuffix      = ".bin"
	idPrefix        = "whisper-"
	englishSuffix   = ".en"
	downloadSuffix  = ".download"
	progressEvery   = 5 * time.Second
	copyBufferBytes = 1024 * 1024
)

var (
	// ErrUnsupportedModel is returned for ids that have no ggml conversion.
	ErrUnsupportedModel = errors.New("no whisper.cpp weights for model")
	// ErrNotDownloaded is returned when weights are missing and downloading
	// is disabled.
	ErrNotDownloaded = errors.New("whisper.cpp weights not present and auto download disabled")
)

// sizes lists the published ggml conversions. The bool marks sizes that also
// exist as English-only ".en" variants.
var sizes = map[string]bool{
	"tiny":           true,
	"base":           true,
	"small":          true,
	"medium":         true,
	"large-v1":       false,
	"large-v2":       false,
	"large-v3":       false,
	"large-v3-turbo": false,
}

// Resolve returns the ggml file name for a model id such as
// "openai/whisper-tiny.en". "openai/whisper-large" maps to large-v1, which
// is what that checkpoint is.
func Resolve(modelID string) (string, error) {
	name := strings.ToLower(modelID)
	if slash := strings.LastIndex(name, "/"); slash >= 0 {
		name = name[slash+1:]
	}

	size, found := strings.CutPrefix(name, idPrefix)
	if !found {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedModel, modelID)
	}

	base, english := strings.CutSuffix(size, englishSuffix)
	if base == "large" {
		base = "large-v1"
	}

	hasEnglish, known := sizes[base]
	if !known || (english && !hasEnglish) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedModel, modelID)
	}

	if english {
		return filePrefix + base + englishSuffix + fileSuffix, nil
	}

	return filePrefix + base + fileSuffix, nil
}

// Store locates weight files on disk and downloads missing ones.
type Store struct {
	Dir          string
	BaseURL      string
	AutoDownload bool
	HTTPClient   *http.Client
	Log          *logger.Logger
}

// NewStore creates a store rooted at dir, or the cache models directory when
// dir is empty.
func NewStore(dir string, autoDownload bool, log *logger.Logger) *Store {
	if dir == "" {
		dir = filepath.Join(fsutil.ModelsDir(), "whisper")
	}

	return &Store{
		Dir:          fsutil.ExpandHome(dir),
		BaseURL:      DefaultBaseURL,
		AutoDownload: autoDownload,
		HTTPClient:   &http.Client{},
		Log:          log,
	}
}

// Path returns the weight file for modelID. An id that already names an
// existing .bin file is returned unchanged.
func (s *Store) Path(ctx context.Context, modelID string) (string, error) {
	if strings.HasSuffix(modelID, fileSuffix) {
		info, statErr := os.Stat(modelID)
		if statErr == nil && !info.IsDir() {
			return modelID, nil
		}
	}

	fileName, err := Resolve(modelID)
	if err != nil {
		return "", err
	}

	path, err := fsutil.FindModel(fileName, s.Dir)
	if err == nil {
		return path, nil
	}

	if !errors.Is(err, fsutil.ErrModelNotFound) {
		return "", err
	}

	if !s.AutoDownload {
		return "", fmt.Errorf("%w: %s (looked for %s in %s)", ErrNotDownloaded, modelID, fileName, s.Dir)
	}

	return s.download(ctx, fileName)
}

// download fetches fileName into Dir through a temporary file so a partial
// transfer never looks like valid weights.
func (s *Store) download(ctx context.Context, fileName string) (path string, err error) {
	ensureErr := fsutil.EnsureDir(s.Dir)
	if ensureErr != nil {
		return "", ensureErr
	}

	url := strings.TrimSuffix(s.BaseURL, "/") + "/" + fileName
	destPath := filepath.Join(s.Dir, fileName)
	tempPath := destPath + downloadSuffix

	s.Log.Info("Downloading whisper.cpp weights %s from %s", fileName, url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: HTTP %s", fileName, resp.Status)
	}

	tempFile, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(tempPath)
		}
	}()

	written, copyErr := io.CopyBuffer(tempFile, &progressReader{
		reader: resp.Body,
		total:  resp.ContentLength,
		name:   fileName,
		log:    s.Log,
		last:   time.Now(),
	}, make([]byte, copyBufferBytes))

	closeErr := tempFile.Close()
	if copyErr != nil {
		return "", fmt.Errorf("write %s: %w", tempPath, copyErr)
	}

	if closeErr != nil {
		return "", fmt.Errorf("close %s: %w", tempPath, closeErr)
	}

	renameErr := os.Rename(tempPath, destPath)
	if renameErr != nil {
		return "", fmt.Errorf("rename %s: %w", tempPath, renameErr)
	}

	s.Log.Info("Downloaded %s (%s) to %s", fileName, fsutil.FormatFileSize(written), destPath)

	return destPath, nil
}

type progressReader struct {
	reader io.Reader
	total  int64
	read   int64
	name   string
	log    *logger.Logger
	last   time.Time
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	p.read += int64(n)

	if time.Since(p.last) >= progressEvery {
		p.last = time.Now()

		if p.total > 0 {
			p.log.Info("Downloading %s: %d%% (%s of %s)", p.name, p.read*100/p.total,
				fsutil.FormatFileSize(p.read), fsutil.FormatFileSize(p.total))
		} else {
			p.log.Info("Downloading %s: %s", p.name, fsutil.FormatFileSize(p.read))
		}
	}

	return n, err
}

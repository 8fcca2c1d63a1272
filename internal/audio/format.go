// Package audio converts between audio files and the sample buffers the
// speech backends consume and produce.
package audio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// TargetSampleRate is the rate speech recognizers expect.
const TargetSampleRate = 16000

// G711SampleRate is the rate of headerless telephony files.
const G711SampleRate = 8000

// Format is an audio container or encoding the decoder can handle.
type Format string

const (
	FormatWAV   Format = "wav"
	FormatOgg   Format = "ogg"
	FormatULaw  Format = "ulaw"
	FormatALaw  Format = "alaw"
	FormatOther Format = "other"
)

var g711Extensions = map[string]Format{
	".ulaw":  FormatULaw,
	".mulaw": FormatULaw,
	".ul":    FormatULaw,
	".alaw":  FormatALaw,
	".al":    FormatALaw,
}

// DetectFormat sniffs the file content. Raw G.711 has no header, so it is
// recognized by extension.
func DetectFormat(path string) (Format, error) {
	if format, ok := g711Extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return format, nil
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect audio format: %w", err)
	}

	for mime := detected; mime != nil; mime = mime.Parent() {
		switch {
		case mime.Is("audio/wav"):
			return FormatWAV, nil
		case mime.Is("audio/ogg"), mime.Is("application/ogg"), mime.Is("audio/opus"):
			return FormatOgg, nil
		}
	}

	return FormatOther, nil
}

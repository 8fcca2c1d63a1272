package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	pcmFormat    = 1
	outputDepth  = 16
	int16Scale   = 32767
	int16Divisor = 32768.0
)

var (
	// ErrInvalidWAV is returned for files that are not RIFF/WAVE.
	ErrInvalidWAV = errors.New("invalid WAV file")
	// ErrInvalidSampleRate is returned when asked to write at a non-positive rate.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// WriteWAV writes mono float samples in [-1, 1] as 16-bit PCM. Samples
// outside that range are clipped.
func WriteWAV(path string, samples []float32, sampleRate int) (err error) {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil && err == nil {
			err = fmt.Errorf("close wav file: %w", closeErr)
		}
	}()

	encoder := wav.NewEncoder(file, sampleRate, outputDepth, 1, pcmFormat)

	data := make([]int, len(samples))
	for i, sample := range samples {
		data[i] = floatToPCM16(sample)
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: outputDepth,
	}

	writeErr := encoder.Write(buffer)
	if writeErr != nil {
		return fmt.Errorf("encode wav samples: %w", writeErr)
	}

	encodeCloseErr := encoder.Close()
	if encodeCloseErr != nil {
		return fmt.Errorf("finalize wav header: %w", encodeCloseErr)
	}

	return nil
}

// Clip holds decoded interleaved 16-bit samples.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// ReadWAV decodes a PCM WAV file into 16-bit samples.
func ReadWAV(path string) (Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open wav file: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav samples: %w", err)
	}

	depth := buffer.SourceBitDepth
	if depth == 0 {
		depth = int(decoder.BitDepth)
	}

	samples := make([]int16, len(buffer.Data))
	for i, value := range buffer.Data {
		samples[i] = toInt16(value, depth)
	}

	return Clip{
		Samples:    samples,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}, nil
}

func floatToPCM16(sample float32) int {
	clipped := math.Max(-1, math.Min(1, float64(sample)))

	return int(math.Round(clipped * int16Scale))
}

func toInt16(value, depth int) int16 {
	switch {
	case depth == 8:
		// 8-bit WAV is unsigned.
		return int16((value - 128) << 8)
	case depth > 16:
		return int16(value >> (depth - 16))
	default:
		return int16(value)
	}
}

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/zaf/g711"
	"github.com/zeozeozeo/gomplerate"
)

// Largest Opus frame: 120 ms at 48 kHz.
const maxOpusFrameSize = 5760

var (
	// ErrNoSamples is returned when a file decodes to nothing.
	ErrNoSamples = errors.New("no audio samples decoded")
	// ErrUnsupportedFormat is returned when a file needs ffmpeg and it is missing.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// LoadSpeech decodes any supported file into 16 kHz mono float32 samples in
// [-1, 1], the input format speech recognizers expect.
func LoadSpeech(path string) ([]float32, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var clip Clip

	switch format {
	case FormatWAV:
		clip, err = ReadWAV(path)
		if err != nil && ffmpegAvailable() {
			// Float and compressed WAV variants go through ffmpeg.
			return decodeWithFFmpeg(path)
		}
	case FormatULaw, FormatALaw:
		clip, err = readG711(path, format)
	case FormatOgg:
		if ffmpegAvailable() {
			return decodeWithFFmpeg(path)
		}

		clip, err = readOggOpus(path)
	default:
		if !ffmpegAvailable() {
			return nil, fmt.Errorf("%w: %s (install ffmpeg)", ErrUnsupportedFormat, path)
		}

		return decodeWithFFmpeg(path)
	}

	if err != nil {
		return nil, err
	}

	return clip.Speech()
}

// Speech downmixes and resamples the clip to 16 kHz mono float32.
func (c Clip) Speech() ([]float32, error) {
	if len(c.Samples) == 0 {
		return nil, ErrNoSamples
	}

	mono := ToMono(c.Samples, c.Channels)

	resampled, err := Resample(mono, c.SampleRate, TargetSampleRate)
	if err != nil {
		return nil, err
	}

	return Int16ToFloat32(resampled), nil
}

// ToMono averages interleaved channels.
func ToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}

		mono[i] = int16(sum / int32(channels))
	}

	return mono
}

// Resample converts mono samples between rates.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate == toRate {
		return samples, nil
	}

	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		return nil, fmt.Errorf("create resampler %d->%d: %w", fromRate, toRate, err)
	}

	return resampler.ResampleInt16(samples), nil
}

// Int16ToFloat32 normalizes samples to [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, sample := range samples {
		result[i] = float32(sample) / int16Divisor
	}

	return result
}

// Duration is the playing time of n samples at TargetSampleRate.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / TargetSampleRate
}

func readG711(path string, format Format) (Clip, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf("read g711 file: %w", err)
	}

	var pcm []byte
	if format == FormatALaw {
		pcm = g711.DecodeAlaw(encoded)
	} else {
		pcm = g711.DecodeUlaw(encoded)
	}

	return Clip{
		Samples:    bytesToInt16(pcm),
		SampleRate: G711SampleRate,
		Channels:   1,
	}, nil
}

func readOggOpus(path string) (clip Clip, err error) {
	// The pure Go Opus decoder panics on some streams.
	defer func() {
		if recovered := recover(); recovered != nil {
			clip = Clip{}
			err = fmt.Errorf("opus decoder panic: %v", recovered)
		}
	}()

	file, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open ogg file: %w", err)
	}
	defer file.Close()

	reader, header, err := oggreader.NewWith(file)
	if err != nil {
		return Clip{}, fmt.Errorf("parse ogg container: %w", err)
	}

	decoder := opus.NewDecoder()
	frame := make([]byte, maxOpusFrameSize*2*2)

	var samples []int16

	for {
		segments, _, pageErr := reader.ParseNextPage()
		if errors.Is(pageErr, io.EOF) {
			break
		}

		if pageErr != nil {
			return Clip{}, fmt.Errorf("parse ogg page: %w", pageErr)
		}

		for _, segment := range segments {
			if len(segment) == 0 {
				continue
			}

			clear(frame)

			_, isStereo, decodeErr := decoder.Decode(segment, frame)
			if decodeErr != nil {
				// Header and comment packets do not decode.
				continue
			}

			decoded := trimTrailingSilence(bytesToInt16(frame))
			if isStereo {
				decoded = ToMono(decoded, 2)
			}

			samples = append(samples, decoded...)
		}
	}

	if len(samples) == 0 {
		return Clip{}, fmt.Errorf("%w: %s", ErrNoSamples, path)
	}

	return Clip{Samples: samples, SampleRate: int(header.SampleRate), Channels: 1}, nil
}

func ffmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")

	return err == nil
}

func decodeWithFFmpeg(path string) ([]float32, error) {
	// #nosec G204 -- path is the request's audio file, passed as a single argument.
	cmd := exec.Command("ffmpeg",
		"-nostdin",
		"-i", path,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", "1",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	)

	var stderr limitedBuffer
	cmd.Stderr = &stderr

	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w: %s", err, stderr.String())
	}

	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, path)
	}

	return Int16ToFloat32(bytesToInt16(raw)), nil
}

func bytesToInt16(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	return samples
}

func trimTrailingSilence(samples []int16) []int16 {
	end := len(samples)
	for end > 0 && samples[end-1] == 0 {
		end--
	}

	return samples[:end]
}

// limitedBuffer keeps the tail of ffmpeg's stderr for error messages.
type limitedBuffer struct {
	data []byte
}

const stderrTail = 2048

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > stderrTail {
		b.data = b.data[len(b.data)-stderrTail:]
	}

	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return string(b.data)
}

package capture

import (
	"errors"
	"time"
)

// Format identifies what the bytes in a captured frame contain. Callers
// forwarding frames to the relay treat them as opaque either way; the
// format only matters for local analysis, which needs raw PCM.
type Format string

const (
	// FormatPCM is 16-bit signed little-endian PCM at the configured
	// sample rate, mono.
	FormatPCM Format = "pcm_s16le"

	// FormatOpus is a segmented Ogg/Opus container stream. Frames are
	// larger and carry encoder framing; local waveform analysis is
	// unavailable on this path.
	FormatOpus Format = "ogg_opus"
)

var (
	// ErrPermissionDenied means the platform refused microphone access.
	// Surfaced to the caller, never retried.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable means no usable capture device was found.
	ErrDeviceUnavailable = errors.New("no capture device available")
)

// Config holds capture parameters shared by all strategies.
type Config struct {
	SampleRate int
	Channels   int

	// FrameDuration is the target length of each emitted frame on the
	// low-latency path. The fallback path ignores it.
	FrameDuration time.Duration

	// Device selects a specific input device. Empty means the platform
	// default.
	Device string
}

// DefaultConfig matches what the upstream transcription services expect.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 100 * time.Millisecond,
	}
}

// Strategy is one way of getting audio frames off the machine. The
// engine probes its strategies in preference order at initialization
// and commits to the first that opens; strategies are never mixed
// within a session.
type Strategy interface {
	Name() string
	Format() Format

	// Open claims the device. It must fail fast with
	// ErrPermissionDenied or ErrDeviceUnavailable when capture cannot
	// work, so the engine can fall through to the next strategy.
	Open(cfg Config) error

	// Start begins frame production, invoking onFrame for each frame in
	// production order. The callback must not retain the slice.
	Start(onFrame func(frame []byte)) error

	// Stop halts frame production but keeps the device claimed.
	Stop() error

	// Close releases the device. Idempotent.
	Close() error
}

package capture

import (
	"math"
	"sync"
)

// SnapshotSize is the fixed length of waveform and frequency snapshots.
const SnapshotSize = 128

// fftSize is the analysis window. Doubling the snapshot size keeps one
// usable magnitude bin per snapshot byte.
const fftSize = 2 * SnapshotSize

// analyser keeps a sliding window of the most recent PCM samples and
// derives visualization snapshots and a band-limited RMS from it. All
// methods are safe for concurrent use; reads never mutate state.
type analyser struct {
	mu     sync.Mutex
	window [fftSize]float64 // normalized samples in [-1,1]
	filled bool
}

func newAnalyser() *analyser {
	return &analyser{}
}

// push folds a raw s16le PCM frame into the sliding window.
func (a *analyser) push(frame []byte) {
	n := len(frame) / 2
	if n == 0 {
		return
	}

	samples := make([]float64, 0, fftSize)
	start := 0
	if n > fftSize {
		start = n - fftSize
	}
	for i := start; i < n; i++ {
		s := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		samples = append(samples, float64(s)/32768.0)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) >= fftSize {
		copy(a.window[:], samples[len(samples)-fftSize:])
	} else {
		copy(a.window[:], a.window[len(samples):])
		copy(a.window[fftSize-len(samples):], samples)
	}
	a.filled = true
}

// reset zeroes the window so snapshots go quiet immediately.
func (a *analyser) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = [fftSize]float64{}
	a.filled = false
}

// waveform returns the latest time-domain snapshot, downsampled to
// SnapshotSize bytes with silence at 128.
func (a *analyser) waveform() [SnapshotSize]byte {
	var out [SnapshotSize]byte

	a.mu.Lock()
	if !a.filled {
		a.mu.Unlock()
		for i := range out {
			out[i] = 128
		}
		return out
	}
	var window [fftSize]float64
	copy(window[:], a.window[:])
	a.mu.Unlock()

	step := fftSize / SnapshotSize
	for i := 0; i < SnapshotSize; i++ {
		v := window[i*step]
		out[i] = byte(math.Round((v + 1) * 127.5))
	}
	return out
}

// frequency returns the latest magnitude spectrum as SnapshotSize bytes,
// low bins first.
func (a *analyser) frequency() [SnapshotSize]byte {
	var out [SnapshotSize]byte

	a.mu.Lock()
	if !a.filled {
		a.mu.Unlock()
		return out
	}
	var window [fftSize]float64
	copy(window[:], a.window[:])
	a.mu.Unlock()

	mags := spectrum(window[:])
	for i := 0; i < SnapshotSize; i++ {
		v := mags[i] * 255
		if v > 255 {
			v = 255
		}
		out[i] = byte(v)
	}
	return out
}

// bandRMS returns the RMS of the voice-band portion of the spectrum,
// normalized to [0,1]. This feeds the smoothed audio level.
func (a *analyser) bandRMS() float64 {
	a.mu.Lock()
	if !a.filled {
		a.mu.Unlock()
		return 0
	}
	var window [fftSize]float64
	copy(window[:], a.window[:])
	a.mu.Unlock()

	mags := spectrum(window[:])

	// Bins 2..64 cover roughly 125 Hz to 4 kHz at 16 kHz sampling,
	// which is where speech energy lives.
	const lo, hi = 2, 64
	var sum float64
	for i := lo; i < hi; i++ {
		sum += mags[i] * mags[i]
	}
	rms := math.Sqrt(sum / float64(hi-lo))
	if rms > 1 {
		rms = 1
	}
	return rms
}

// spectrum computes normalized magnitudes for the first half of a
// Hann-windowed FFT of the input.
func spectrum(samples []float64) []float64 {
	n := len(samples)
	buf := make([]complex128, n)
	for i, s := range samples {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		buf[i] = complex(s*w, 0)
	}
	fft(buf)

	mags := make([]float64, n/2)
	scale := 2.0 / float64(n)
	for i := range mags {
		mags[i] = cmplxAbs(buf[i]) * scale
	}
	return mags
}

// fft is an in-place iterative radix-2 transform. len(buf) must be a
// power of two.
func fft(buf []complex128) {
	n := len(buf)

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j &^= bit
		}
		j |= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wl := complex(math.Cos(angle), math.Sin(angle))
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			for j := 0; j < length/2; j++ {
				u := buf[i+j]
				v := buf[i+j+length/2] * w
				buf[i+j] = u + v
				buf[i+j+length/2] = u - v
				w *= wl
			}
		}
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

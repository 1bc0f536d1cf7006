package capture

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level smoothing and fade-out constants. Tuned for a ~60 Hz monitor
// tick so the level tracks speech without flicker and fades out instead
// of snapping to zero.
const (
	levelKeep   = 0.7
	levelBlend  = 0.3
	levelDecay  = 0.9
	levelFloor  = 0.01
	monitorTick = 16 * time.Millisecond
)

// Engine captures microphone audio through the best available strategy
// and exposes a smoothed level plus fixed-size visualization snapshots.
// One Engine owns at most one open strategy at a time.
type Engine struct {
	cfg        Config
	logger     *zap.Logger
	strategies []Strategy
	analyser   *analyser

	mu          sync.Mutex
	active      Strategy
	initialized bool
	recording   bool
	stopping    bool // fading the level out after StopRecording
	streaming   bool
	closed      bool
	level       float64
	onFrame     func([]byte)

	monitorDone chan struct{}
}

// NewEngine creates an engine over the given strategies, probed in
// order. With no strategies supplied it uses the default ranking:
// low-latency raw PCM first, segmented Opus encoding as fallback.
func NewEngine(cfg Config, logger *zap.Logger, strategies ...Strategy) *Engine {
	if cfg.SampleRate <= 0 {
		cfg = DefaultConfig()
	}
	if len(strategies) == 0 {
		strategies = []Strategy{
			newMalgoStrategy(logger),
			newFFmpegStrategy(logger),
		}
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		strategies: strategies,
		analyser:   newAnalyser(),
	}
}

// Initialize claims a capture device by probing strategies in
// preference order. Permission and device errors are surfaced, not
// retried; any other probe failure falls through to the next strategy.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initializeLocked()
}

func (e *Engine) initializeLocked() error {
	if e.closed {
		return fmt.Errorf("capture engine is closed")
	}
	if e.initialized {
		return nil
	}

	var lastErr error
	for _, s := range e.strategies {
		err := s.Open(e.cfg)
		if err == nil {
			e.active = s
			e.initialized = true
			e.logger.Info("Capture strategy selected",
				zap.String("strategy", s.Name()),
				zap.String("format", string(s.Format())))
			return nil
		}
		e.logger.Warn("Capture strategy unavailable",
			zap.String("strategy", s.Name()),
			zap.Error(err))
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrDeviceUnavailable
	}
	return lastErr
}

// Format reports the frame format of the selected strategy. Empty until
// initialized.
func (e *Engine) Format() Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.Format()
}

// StartRecording begins capture and the level monitor. Idempotent;
// initializes lazily on first call. A call during the post-stop fade
// cancels the fade and restarts the device, which StopRecording had
// already stopped.
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	if e.recording && !e.stopping {
		e.mu.Unlock()
		return nil
	}
	if err := e.initializeLocked(); err != nil {
		e.mu.Unlock()
		return err
	}

	e.recording = true
	e.stopping = false
	active := e.active
	e.mu.Unlock()

	if err := active.Start(e.handleFrame); err != nil {
		e.mu.Lock()
		e.recording = false
		e.mu.Unlock()
		return fmt.Errorf("starting capture: %w", err)
	}
	e.startMonitor()
	e.logger.Info("Recording started")
	return nil
}

// StopRecording stops streaming and the device, then fades the level to
// zero over successive monitor ticks before IsRecording flips false.
// Idempotent.
func (e *Engine) StopRecording() {
	e.mu.Lock()
	if !e.recording || e.stopping {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	e.streaming = false
	e.onFrame = nil
	active := e.active
	e.mu.Unlock()

	if active != nil {
		if err := active.Stop(); err != nil {
			e.logger.Warn("Failed to stop capture device", zap.Error(err))
		}
	}
	e.analyser.reset()
	e.logger.Info("Recording stopping, fading level out")
}

// IsRecording reports whether the engine is capturing or still fading
// out after a stop.
func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// Level returns the current smoothed audio level in [0,1].
func (e *Engine) Level() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// StartStreaming begins handing captured frames to onFrame in
// production order. Frames are not retained after the callback returns.
// Idempotent; replaces the callback if already streaming.
func (e *Engine) StartStreaming(onFrame func(frame []byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.recording || e.stopping {
		return fmt.Errorf("cannot stream while not recording")
	}
	e.streaming = true
	e.onFrame = onFrame
	return nil
}

// StopStreaming detaches the frame callback. Capture and level
// monitoring continue. Idempotent.
func (e *Engine) StopStreaming() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streaming = false
	e.onFrame = nil
}

// FrequencyData returns the latest magnitude-spectrum snapshot. Zeroed
// when uninitialized or on the encoded fallback path.
func (e *Engine) FrequencyData() [SnapshotSize]byte {
	if !e.analysisAvailable() {
		return [SnapshotSize]byte{}
	}
	return e.analyser.frequency()
}

// WaveformData returns the latest time-domain snapshot, centered at 128.
func (e *Engine) WaveformData() [SnapshotSize]byte {
	if !e.analysisAvailable() {
		var out [SnapshotSize]byte
		for i := range out {
			out[i] = 128
		}
		return out
	}
	return e.analyser.waveform()
}

func (e *Engine) analysisAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized && e.active != nil && e.active.Format() == FormatPCM
}

// Close tears everything down: monitor loop, device, strategy. Safe to
// call multiple times.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.recording = false
	e.stopping = false
	e.streaming = false
	e.onFrame = nil
	e.level = 0
	active := e.active
	e.active = nil
	e.initialized = false
	done := e.monitorDone
	e.monitorDone = nil
	e.mu.Unlock()

	if done != nil {
		close(done)
	}
	if active != nil {
		active.Stop()
		active.Close()
	}
	e.analyser.reset()
	e.logger.Info("Capture engine closed")
}

// handleFrame is the strategy callback: feed the analyser on the PCM
// path, then forward to the streaming consumer if attached.
func (e *Engine) handleFrame(frame []byte) {
	e.mu.Lock()
	if e.closed || !e.recording || e.stopping {
		e.mu.Unlock()
		return
	}
	pcm := e.active != nil && e.active.Format() == FormatPCM
	forward := e.streaming
	onFrame := e.onFrame
	e.mu.Unlock()

	if pcm {
		e.analyser.push(frame)
	}
	if forward && onFrame != nil {
		onFrame(frame)
	}
}

// startMonitor launches the level loop. One goroutine per recording
// session; it exits on its own once the post-stop fade completes.
func (e *Engine) startMonitor() {
	done := make(chan struct{})
	e.mu.Lock()
	if e.monitorDone != nil {
		close(e.monitorDone)
	}
	e.monitorDone = done
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(monitorTick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !e.tick() {
					return
				}
			}
		}
	}()
}

// tick advances the level state machine one monitor step. While
// recording the level blends toward the current band RMS; after
// StopRecording it decays multiplicatively until it falls under the
// floor and snaps to zero. Returns false once the loop should exit.
func (e *Engine) tick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.recording {
		return false
	}

	if e.stopping {
		e.level *= levelDecay
		if e.level < levelFloor {
			e.level = 0
			e.recording = false
			e.stopping = false
			return false
		}
		return true
	}

	e.level = e.level*levelKeep + e.analyser.bandRMS()*levelBlend
	if e.level > 1 {
		e.level = 1
	}
	return true
}

package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// malgoStrategy captures raw PCM through the platform's native audio
// backend (ALSA, CoreAudio, WASAPI). This is the low-latency primary
// path: small frames, analyzable locally.
type malgoStrategy struct {
	logger *zap.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	cfg     Config
	onFrame func([]byte)
	buf     []byte
	frameSz int
	running bool
}

func newMalgoStrategy(logger *zap.Logger) *malgoStrategy {
	return &malgoStrategy{logger: logger}
}

func (m *malgoStrategy) Name() string   { return "malgo" }
func (m *malgoStrategy) Format() Format { return FormatPCM }

func (m *malgoStrategy) Open(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug("malgo: " + strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	// Bytes per emitted frame: s16 mono at the configured rate.
	m.frameSz = cfg.SampleRate * 2 * cfg.Channels * int(cfg.FrameDuration.Milliseconds()) / 1000
	if m.frameSz <= 0 {
		m.frameSz = cfg.SampleRate / 5 * 2 // 100ms default
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			m.onData(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		if strings.Contains(strings.ToLower(err.Error()), "access denied") {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	m.ctx = ctx
	m.device = device
	m.cfg = cfg
	return nil
}

func (m *malgoStrategy) Start(onFrame func([]byte)) error {
	m.mu.Lock()
	if m.device == nil {
		m.mu.Unlock()
		return fmt.Errorf("capture device not open")
	}
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.onFrame = onFrame
	m.buf = m.buf[:0]
	m.running = true
	device := m.device
	m.mu.Unlock()

	if err := device.Start(); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("starting capture device: %w", err)
	}
	return nil
}

func (m *malgoStrategy) Stop() error {
	m.mu.Lock()
	if !m.running || m.device == nil {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.onFrame = nil
	device := m.device
	m.mu.Unlock()

	return device.Stop()
}

func (m *malgoStrategy) Close() error {
	m.mu.Lock()
	device := m.device
	ctx := m.ctx
	m.device = nil
	m.ctx = nil
	m.running = false
	m.onFrame = nil
	m.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if ctx != nil {
		ctx.Uninit()
		ctx.Free()
	}
	return nil
}

// onData accumulates driver buffers until a full frame is ready, then
// hands it off. Runs on malgo's audio thread, so it copies and returns
// quickly.
func (m *malgoStrategy) onData(input []byte) {
	m.mu.Lock()
	if !m.running || m.onFrame == nil {
		m.mu.Unlock()
		return
	}
	m.buf = append(m.buf, input...)
	var frames [][]byte
	for len(m.buf) >= m.frameSz {
		frame := make([]byte, m.frameSz)
		copy(frame, m.buf[:m.frameSz])
		m.buf = m.buf[m.frameSz:]
		frames = append(frames, frame)
	}
	onFrame := m.onFrame
	m.mu.Unlock()

	for _, f := range frames {
		onFrame(f)
	}
}

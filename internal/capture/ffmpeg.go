package capture

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// ffmpegStrategy shells out to ffmpeg and reads a segmented Ogg/Opus
// stream from its stdout. Fallback path for machines where native
// capture is unavailable: frames are larger, arrive less often, and
// carry container framing rather than raw PCM.
type ffmpegStrategy struct {
	logger *zap.Logger

	mu      sync.Mutex
	cfg     Config
	opened  bool
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	running bool
	done    chan struct{}
}

const ffmpegChunkSize = 4096

func newFFmpegStrategy(logger *zap.Logger) *ffmpegStrategy {
	return &ffmpegStrategy{logger: logger}
}

func (f *ffmpegStrategy) Name() string   { return "ffmpeg" }
func (f *ffmpegStrategy) Format() Format { return FormatOpus }

func (f *ffmpegStrategy) Open(cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("%w: ffmpeg not found in PATH", ErrDeviceUnavailable)
	}
	if _, _, err := inputArgs(cfg.Device); err != nil {
		return err
	}

	f.cfg = cfg
	f.opened = true
	return nil
}

func (f *ffmpegStrategy) Start(onFrame func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return fmt.Errorf("capture device not open")
	}
	if f.running {
		return nil
	}

	format, device, err := inputArgs(f.cfg.Device)
	if err != nil {
		return err
	}

	args := []string{
		"-loglevel", "error",
		"-f", format,
		"-i", device,
		"-ac", strconv.Itoa(f.cfg.Channels),
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-c:a", "libopus",
		"-f", "ogg",
		"-",
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching to ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	f.cmd = cmd
	f.stdout = stdout
	f.running = true
	f.done = make(chan struct{})

	go f.readLoop(stdout, onFrame, f.done)
	f.logger.Info("ffmpeg capture started",
		zap.String("input", format),
		zap.String("device", device))
	return nil
}

func (f *ffmpegStrategy) readLoop(r io.Reader, onFrame func([]byte), done chan struct{}) {
	defer close(done)
	buf := make([]byte, ffmpegChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			onFrame(frame)
		}
		if err != nil {
			if err != io.EOF {
				f.logger.Warn("ffmpeg stream read failed", zap.Error(err))
			}
			return
		}
	}
}

func (f *ffmpegStrategy) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cmd := f.cmd
	stdout := f.stdout
	done := f.done
	f.cmd = nil
	f.stdout = nil
	f.done = nil
	f.mu.Unlock()

	if stdout != nil {
		stdout.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (f *ffmpegStrategy) Close() error {
	if err := f.Stop(); err != nil {
		return err
	}
	f.mu.Lock()
	f.opened = false
	f.mu.Unlock()
	return nil
}

// inputArgs picks the ffmpeg input format and device name for the
// current platform.
func inputArgs(device string) (string, string, error) {
	switch runtime.GOOS {
	case "linux":
		if device == "" {
			device = "default"
		}
		return "alsa", device, nil
	case "darwin":
		if device == "" {
			device = ":0"
		}
		return "avfoundation", device, nil
	case "windows":
		if device == "" {
			return "", "", fmt.Errorf("%w: dshow requires an explicit device name", ErrDeviceUnavailable)
		}
		return "dshow", "audio=" + device, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported platform %s", ErrDeviceUnavailable, runtime.GOOS)
	}
}

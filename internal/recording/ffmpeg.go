package recording

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Process is a running capture started by a Capturer.
type Process interface {
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
}

// Capturer is the external capture program as seen by the Manager.
type Capturer interface {
	// CheckBinary fails when the capture binary cannot be resolved.
	CheckBinary() error
	// ProbeDevice fails when the capture device cannot be reached.
	ProbeDevice(ctx context.Context) error
	Start(outputPath string, maxDuration time.Duration) (Process, error)
}

// FFmpegOptions configures the ffmpeg capturer.
type FFmpegOptions struct {
	Path        string // binary name or path, "ffmpeg" when empty
	Input       string // webcam URL or device path
	InputFormat string // optional -f value for the input, e.g. v4l2 or mjpeg
	DialTimeout time.Duration
}

// FFmpegService records the webcam feed with ffmpeg.
type FFmpegService struct {
	ffmpegPath  string
	input       string
	inputFormat string
	dialTimeout time.Duration
}

// NewFFmpegService creates a new FFmpeg capturer
func NewFFmpegService(opts FFmpegOptions) *FFmpegService {
	path := opts.Path
	if path == "" {
		path = "ffmpeg"
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &FFmpegService{
		ffmpegPath:  path,
		input:       opts.Input,
		inputFormat: opts.InputFormat,
		dialTimeout: timeout,
	}
}

// CheckBinary checks if FFmpeg is installed and resolvable
func (f *FFmpegService) CheckBinary() error {
	if _, err := exec.LookPath(f.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpegService) Version() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg version check failed: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 && strings.Contains(lines[0], "ffmpeg version") {
		return strings.TrimSpace(lines[0]), nil
	}
	return "", fmt.Errorf("ffmpeg not properly installed")
}

// ProbeDevice checks the webcam is reachable. Network inputs get a TCP dial
// to their host; anything else is treated as a local device path.
func (f *FFmpegService) ProbeDevice(ctx context.Context) error {
	if f.input == "" {
		return fmt.Errorf("no webcam input configured")
	}

	addr, ok := networkAddress(f.input)
	if !ok {
		if _, err := os.Stat(f.input); err != nil {
			return fmt.Errorf("webcam device %s: %w", f.input, err)
		}
		return nil
	}

	dialer := net.Dialer{Timeout: f.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("webcam %s unreachable: %w", addr, err)
	}
	return conn.Close()
}

// Args builds the ffmpeg command line for one recording.
func (f *FFmpegService) Args(outputPath string, maxDuration time.Duration) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if f.inputFormat != "" {
		args = append(args, "-f", f.inputFormat)
	}
	if strings.HasPrefix(f.input, "rtsp://") || strings.HasPrefix(f.input, "rtsps://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", f.input,
		"-t", strconv.Itoa(int(maxDuration/time.Second)),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		// fragmented output stays playable if ffmpeg is killed
		"-movflags", "+frag_keyframe+empty_moov",
		"-y",
		outputPath,
	)
	return args
}

func (f *FFmpegService) command(outputPath string, maxDuration time.Duration) *exec.Cmd {
	cmd := exec.Command(f.ffmpegPath, f.Args(outputPath, maxDuration)...)
	detach(cmd)
	return cmd
}

// Start spawns ffmpeg writing to outputPath.
func (f *FFmpegService) Start(outputPath string, maxDuration time.Duration) (Process, error) {
	cmd := f.command(outputPath, maxDuration)
	tail := &stderrTail{limit: 4096}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return &ffmpegProcess{cmd: cmd, stderr: tail}, nil
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	stderr *stderrTail
}

func (p *ffmpegProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *ffmpegProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *ffmpegProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	if out := p.stderr.String(); out != "" {
		return fmt.Errorf("%w: %s", err, out)
	}
	return err
}

// stderrTail keeps the last limit bytes written to it.
type stderrTail struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

var defaultPorts = map[string]string{
	"rtsp":  "554",
	"rtsps": "322",
	"rtmp":  "1935",
	"http":  "80",
	"https": "443",
	"tcp":   "",
}

// networkAddress returns host:port for URL inputs with a known scheme.
func networkAddress(input string) (string, bool) {
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return "", false
	}
	port, known := defaultPorts[strings.ToLower(u.Scheme)]
	if !known {
		return "", false
	}
	if u.Port() != "" {
		port = u.Port()
	}
	if port == "" {
		return "", false
	}
	return net.JoinHostPort(u.Hostname(), port), true
}

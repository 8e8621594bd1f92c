package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// ErrRendererMissing 表示找不到 mermaid-cli 可执行文件，这种失败不值得重试。
var ErrRendererMissing = errors.New("mermaid-cli (mmdc) not found")

const (
	DefaultTheme      = "default"
	DefaultBackground = "white"
	DefaultWidth      = 2000
	DefaultHeight     = 1500
	DefaultScale      = 3
	DefaultTimeout    = 60 * time.Second
)

// Result is what one renderer invocation produced.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Renderer turns a diagram source file into an image file.
// A non-nil error means the renderer could not run at all; a failed render
// is reported through Result.ExitCode and the captured output.
type Renderer interface {
	Render(ctx context.Context, inputPath, outputPath string) (Result, error)
}

// MMDCOptions 对应 mmdc 的命令行参数。
type MMDCOptions struct {
	Path       string
	Theme      string
	Background string
	Width      int
	Height     int
	Scale      int
	Timeout    time.Duration
}

// MMDC runs the mermaid-cli binary as a subprocess.
type MMDC struct {
	opts MMDCOptions
}

// NewMMDC fills defaults. The binary path comes from opts.Path, then MMDC_PATH, then "mmdc" on PATH.
func NewMMDC(opts MMDCOptions) *MMDC {
	if opts.Path == "" {
		opts.Path = os.Getenv("MMDC_PATH")
	}
	if opts.Path == "" {
		opts.Path = "mmdc"
	}
	if opts.Theme == "" {
		opts.Theme = DefaultTheme
	}
	if opts.Background == "" {
		opts.Background = DefaultBackground
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &MMDC{opts: opts}
}

// Path returns the resolved binary path.
func (m *MMDC) Path() string { return m.opts.Path }

// Args builds the mmdc argument list.
func (m *MMDC) Args(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-o", outputPath,
		"-t", m.opts.Theme,
		"--backgroundColor", m.opts.Background,
		"--width", strconv.Itoa(m.opts.Width),
		"--height", strconv.Itoa(m.opts.Height),
		"--scale", strconv.Itoa(m.opts.Scale),
	}
}

// Available reports whether the binary can be found.
func (m *MMDC) Available() error {
	if _, err := exec.LookPath(m.opts.Path); err != nil {
		return fmt.Errorf("%w: %s", ErrRendererMissing, m.opts.Path)
	}
	return nil
}

func (m *MMDC) Render(ctx context.Context, inputPath, outputPath string) (Result, error) {
	if err := m.Available(); err != nil {
		return Result{ExitCode: -1}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, m.opts.Path, m.Args(inputPath, outputPath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = fmt.Sprintf("mermaid-cli timed out after %s", m.opts.Timeout)
		}
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return Result{ExitCode: -1}, fmt.Errorf("%w: %v", ErrRendererMissing, err)
	default:
		return Result{ExitCode: -1}, fmt.Errorf("run mermaid-cli: %w", err)
	}
}

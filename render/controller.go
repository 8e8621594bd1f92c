package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"litflow/generator"
	"litflow/metrics"
)

// DefaultMaxAttempts 渲染总次数上限（含首次）。
const DefaultMaxAttempts = 2

// State is a render-retry state.
type State string

const (
	StateRendering    State = "Rendering"
	StateRetryPending State = "RetryPending"
	StateSucceeded    State = "Succeeded"
	StateFailed       State = "Failed"
)

// Regenerator produces a corrected diagram given the renderer's error text.
// *generator.Session satisfies it.
type Regenerator interface {
	Revise(ctx context.Context, hint string) (generator.Artifact, error)
}

// Job describes one item's render.
type Job struct {
	// Name is used in log fields only.
	Name       string
	Source     string
	OutputPath string
	// SourceExt is the temp file extension, ".mmd" when empty.
	SourceExt string
	// Regen is nil when the original text is unavailable; failures are then final.
	Regen Regenerator
}

// Outcome is the terminal result of a render-retry run.
type Outcome struct {
	Succeeded bool
	ImagePath string
	// Source is the diagram text of the last attempt.
	Source     string
	Diagnostic string
	Attempts   int
	States     []State
}

// Controller drives the bounded render/regenerate loop.
type Controller struct {
	renderer    Renderer
	maxAttempts int
	logger      *zap.Logger
	metrics     *metrics.Pipeline
}

func NewController(r Renderer, maxAttempts int, logger *zap.Logger) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{renderer: r, maxAttempts: maxAttempts, logger: logger}
}

// WithMetrics attaches a metrics recorder.
func (c *Controller) WithMetrics(m *metrics.Pipeline) *Controller {
	c.metrics = m
	return c
}

// MaxAttempts returns the attempt cap.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// Run renders job.Source, regenerating with the renderer's error on failure
// until it succeeds or the attempt budget is spent.
func (c *Controller) Run(ctx context.Context, job Job) Outcome {
	log := c.logger.With(zap.String("item", job.Name))
	out := Outcome{Source: job.Source}
	out.States = append(out.States, StateRendering)

	fail := func(diag string) Outcome {
		out.Diagnostic = diag
		out.States = append(out.States, StateFailed)
		return out
	}

	source := job.Source
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		out.Source = source
		log.Debug("rendering", zap.Int("attempt", attempt), zap.Int("max_attempts", c.maxAttempts))

		res, diag, err := c.attempt(ctx, job, source, attempt)
		c.metrics.RecordRenderAttempt(ctx, err == nil && diag == "")
		if err != nil {
			log.Error("renderer unavailable", zap.Error(err))
			return fail(err.Error())
		}
		if diag == "" {
			log.Info("render succeeded", zap.Int("attempt", attempt), zap.Duration("duration", res.Duration))
			out.Succeeded = true
			out.ImagePath = job.OutputPath
			out.States = append(out.States, StateSucceeded)
			return out
		}

		log.Warn("render failed", zap.Int("attempt", attempt), zap.Int("exit_code", res.ExitCode), zap.String("diagnostic", diag))
		if attempt >= c.maxAttempts || job.Regen == nil || ctx.Err() != nil {
			return fail(diag)
		}

		out.States = append(out.States, StateRetryPending)
		art, rerr := job.Regen.Revise(ctx, correctionHint(res, diag))
		if rerr != nil || art.DiagramSource == "" {
			log.Warn("regeneration produced no diagram", zap.Error(rerr))
			return fail(diag)
		}
		source = art.DiagramSource
		out.States = append(out.States, StateRendering)
	}
}

// attempt writes the temp source, runs the renderer and removes the temp file.
// diag is empty on success.
func (c *Controller) attempt(ctx context.Context, job Job, source string, n int) (Result, string, error) {
	ext := job.SourceExt
	if ext == "" {
		ext = ".mmd"
	}
	stem := strings.TrimSuffix(filepath.Base(job.OutputPath), filepath.Ext(job.OutputPath))
	tmp := filepath.Join(filepath.Dir(job.OutputPath), fmt.Sprintf("temp_%s_%d%s", stem, n, ext))

	if err := os.WriteFile(tmp, []byte(source), 0o644); err != nil {
		return Result{ExitCode: -1}, "", fmt.Errorf("write temp source: %w", err)
	}
	defer os.Remove(tmp)

	// 避免上一轮残留的图片让失败看起来像成功
	if err := os.Remove(job.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{ExitCode: -1}, "", fmt.Errorf("clear output: %w", err)
	}

	res, err := c.renderer.Render(ctx, tmp, job.OutputPath)
	if err != nil {
		return res, "", err
	}
	return res, diagnose(res, job.OutputPath), nil
}

// diagnose returns "" when the render produced a non-empty output file.
func diagnose(res Result, outputPath string) string {
	if res.ExitCode == 0 {
		info, err := os.Stat(outputPath)
		if err == nil && info.Size() > 0 {
			return ""
		}
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(res.Stdout); s != "" && res.ExitCode != 0 {
		return s
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("mermaid-cli 渲染失败 (返回码: %d)", res.ExitCode)
	}
	return fmt.Sprintf("mermaid-cli 未生成输出文件: %s", filepath.Base(outputPath))
}

func correctionHint(res Result, diag string) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return "mermaid-cli 错误: " + diag
	}
	return diag
}

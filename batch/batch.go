// Package batch runs a set of uploaded documents through generation,
// rendering and packaging, and assembles an ordered report.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"litflow/document"
	"litflow/generator"
	"litflow/metrics"
	"litflow/publisher"
	"litflow/render"
)

const (
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

// Item is one uploaded document. Text, when set, skips decoding Data.
type Item struct {
	Name string
	Data []byte
	Text string
}

// ProgressFunc is called after each item finishes; done counts finished items.
type ProgressFunc func(done, total int, result ItemResult)

type Options struct {
	Dialect        generator.Dialect
	IncludeSummary bool
	Render         bool
	Mode           string
	// Concurrency bounds concurrent mode; <=0 means one goroutine per item.
	Concurrency int
	// OutputDir is the parent directory; each run writes into OutputDir/<report id>.
	OutputDir   string
	MaxAttempts int
	Progress    ProgressFunc
}

// ItemResult 单个文件的处理结果。
type ItemResult struct {
	Name           string         `json:"name"`
	Stem           string         `json:"stem"`
	Succeeded      bool           `json:"succeeded"`
	DiagramSource  string         `json:"diagram_source,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Fallback       bool           `json:"fallback,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	SourcePath     string         `json:"source_path,omitempty"`
	ImagePath      string         `json:"image_path,omitempty"`
	SummaryPath    string         `json:"summary_path,omitempty"`
	RenderAttempts int            `json:"render_attempts,omitempty"`
	RenderStates   []render.State `json:"render_states,omitempty"`
	ErrorKind      generator.Kind `json:"error_kind,omitempty"`
	Error          string         `json:"error,omitempty"`
	Diagnostic     string         `json:"diagnostic,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// Report 一次批处理的完整结果，条目顺序与输入顺序一致。
type Report struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Mode      string        `json:"mode"`
	Dialect   string        `json:"dialect"`
	Items     []ItemResult  `json:"items"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	// Archive is nil when no item succeeded.
	Archive      []byte `json:"-"`
	ArchiveError string `json:"archive_error,omitempty"`
	// Dir 本次运行独占的输出目录。
	Dir string `json:"-"`
}

// HasArchive reports whether a download is available.
func (r *Report) HasArchive() bool { return r != nil && len(r.Archive) > 0 }

// RemoveFiles deletes the run directory and everything written into it.
func (r *Report) RemoveFiles() error {
	if r == nil || r.Dir == "" {
		return nil
	}
	return os.RemoveAll(r.Dir)
}

// ErrInvalidOptions marks batch-level option errors caused by the caller.
var ErrInvalidOptions = errors.New("invalid batch options")

// LLMFactory builds the completion client for one batch. It is called once
// before any item is processed so a missing credential aborts the whole batch.
type LLMFactory func() (generator.LLMClient, error)

// Runner processes batches.
type Runner struct {
	newLLM   LLMFactory
	renderer render.Renderer
	logger   *zap.Logger
	metrics  *metrics.Pipeline
}

func NewRunner(newLLM LLMFactory, renderer render.Renderer, logger *zap.Logger) (*Runner, error) {
	if newLLM == nil {
		return nil, errors.New("llm factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{newLLM: newLLM, renderer: renderer, logger: logger}, nil
}

// WithMetrics attaches a metrics recorder.
func (r *Runner) WithMetrics(m *metrics.Pipeline) *Runner {
	r.metrics = m
	return r
}

// Run processes items and returns the report. The only errors returned are
// batch-level ones: bad options, a missing credential, or an unusable output dir.
// Per-item failures are recorded in the report.
func (r *Runner) Run(ctx context.Context, items []Item, opts Options) (*Report, error) {
	start := time.Now()
	if err := r.normalize(&opts); err != nil {
		return nil, err
	}

	llm, err := r.newLLM()
	if err != nil {
		return nil, err
	}
	agent, err := generator.NewAgent(llm)
	if err != nil {
		return nil, err
	}
	agent.WithMetrics(r.metrics)

	id := uuid.NewString()
	pub, err := publisher.New(filepath.Join(opts.OutputDir, id), r.logger)
	if err != nil {
		return nil, err
	}
	if err := pub.Prepare(); err != nil {
		return nil, err
	}

	var ctrl *render.Controller
	if opts.Render {
		ctrl = render.NewController(r.renderer, opts.MaxAttempts, r.logger).WithMetrics(r.metrics)
	}

	report := &Report{
		ID:        id,
		CreatedAt: start,
		Mode:      opts.Mode,
		Dialect:   opts.Dialect.Name,
		Items:     make([]ItemResult, len(items)),
		Dir:       pub.Dir(),
	}
	log := r.logger.With(zap.String("batch", report.ID))
	log.Info("batch started", zap.Int("items", len(items)), zap.String("mode", opts.Mode),
		zap.String("dialect", opts.Dialect.Name), zap.Bool("render", opts.Render), zap.Bool("summary", opts.IncludeSummary))

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	stems := document.UniqueStems(names)

	w := &worker{
		agent: agent,
		ctrl:  ctrl,
		pub:   pub,
		opts:  opts,
		log:   log,
	}

	var (
		mu   sync.Mutex
		done int
	)
	finish := func(i int, res ItemResult) {
		report.Items[i] = res
		r.metrics.RecordItem(ctx, res.Succeeded, string(res.ErrorKind))
		if opts.Progress == nil {
			return
		}
		mu.Lock()
		done++
		n := done
		opts.Progress(n, len(items), res)
		mu.Unlock()
	}

	switch opts.Mode {
	case ModeConcurrent:
		g := new(errgroup.Group)
		if opts.Concurrency > 0 {
			g.SetLimit(opts.Concurrency)
		}
		for i := range items {
			i := i
			g.Go(func() error {
				finish(i, w.process(ctx, items[i], stems[i]))
				return nil
			})
		}
		_ = g.Wait()
	default:
		for i := range items {
			finish(i, w.process(ctx, items[i], stems[i]))
		}
	}

	var paths []string
	for _, res := range report.Items {
		if !res.Succeeded {
			report.Failed++
			continue
		}
		report.Succeeded++
		paths = append(paths, res.SourcePath, res.ImagePath, res.SummaryPath)
	}
	if report.Succeeded > 0 {
		archive, err := pub.BuildArchive(paths)
		if err != nil {
			log.Error("archive failed", zap.Error(err))
			report.ArchiveError = err.Error()
		} else {
			report.Archive = archive
		}
	}

	report.Duration = time.Since(start)
	r.metrics.RecordBatch(ctx, opts.Mode, len(items), report.Duration)
	log.Info("batch finished", zap.Int("succeeded", report.Succeeded), zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (r *Runner) normalize(opts *Options) error {
	if opts.Dialect.Name == "" {
		opts.Dialect = generator.DefaultDialect()
	}
	opts.Mode = strings.ToLower(opts.Mode)
	if opts.Mode == "" {
		opts.Mode = ModeSequential
	}
	if opts.Mode != ModeSequential && opts.Mode != ModeConcurrent {
		return fmt.Errorf("%w: batch mode %s not supported", ErrInvalidOptions, opts.Mode)
	}
	if opts.OutputDir == "" {
		return fmt.Errorf("%w: output dir is required", ErrInvalidOptions)
	}
	if opts.Render && r.renderer == nil {
		return errors.New("rendering requested but no renderer configured")
	}
	return nil
}

type worker struct {
	agent *generator.Agent
	ctrl  *render.Controller
	pub   *publisher.Publisher
	opts  Options
	log   *zap.Logger
}

// process 处理单个文件；所有错误都落在返回的 ItemResult 里。
func (w *worker) process(ctx context.Context, item Item, stem string) (res ItemResult) {
	start := time.Now()
	res = ItemResult{Name: item.Name, Stem: stem}
	log := w.log.With(zap.String("item", item.Name))
	defer func() {
		res.Duration = time.Since(start)
		if res.Succeeded {
			log.Info("item succeeded", zap.Duration("duration", res.Duration))
		} else {
			log.Warn("item failed", zap.String("kind", string(res.ErrorKind)), zap.String("error", res.Error))
		}
	}()

	fail := func(err error) ItemResult {
		res.ErrorKind = generator.KindOf(err)
		if res.ErrorKind == "" {
			res.ErrorKind = generator.KindIO
		}
		res.Error = err.Error()
		return res
	}

	text := item.Text
	if strings.TrimSpace(text) == "" {
		decoded, err := document.Decode(item.Name, item.Data)
		if err != nil {
			return fail(err)
		}
		text = decoded
	}

	req := generator.CompletionRequest{
		SourceText:     text,
		Task:           generator.DiagramTask(w.opts.Dialect),
		IncludeSummary: w.opts.IncludeSummary,
	}
	sess := generator.NewSession(item.Name, req, w.agent)
	art, err := sess.Propose(ctx)
	res.Summary = art.Summary
	res.Warnings = art.Warnings
	res.Fallback = art.Fallback
	if err != nil {
		res.Diagnostic = art.Diagnostic
		return fail(err)
	}
	if art.Fallback {
		log.Warn("diagram taken from unfenced reply, may be truncated")
	}

	source := art.DiagramSource
	var renderErr error
	if w.opts.Render {
		out := w.ctrl.Run(ctx, render.Job{
			Name:       item.Name,
			Source:     source,
			OutputPath: w.pub.ImagePath(stem),
			SourceExt:  w.opts.Dialect.Extension,
			Regen:      sess,
		})
		source = out.Source
		res.RenderAttempts = out.Attempts
		res.RenderStates = out.States
		if out.Succeeded {
			res.ImagePath = out.ImagePath
		} else {
			res.Diagnostic = out.Diagnostic
			renderErr = generator.Failf(generator.KindRender, "未能生成图表图片: %s", out.Diagnostic)
		}
	}
	res.DiagramSource = source
	res.Warnings = sess.Artifact.Warnings

	path, err := w.pub.WriteSource(stem, w.opts.Dialect.Extension, source)
	if err != nil {
		return fail(err)
	}
	res.SourcePath = path

	if w.opts.IncludeSummary && art.Summary != "" {
		path, err := w.pub.WriteSummary(stem, art.Summary)
		if err != nil {
			return fail(err)
		}
		res.SummaryPath = path
	}

	if renderErr != nil {
		return fail(renderErr)
	}
	if w.opts.IncludeSummary && art.Summary == "" {
		return fail(generator.Failf(generator.KindNoArtifact, "要求了摘要但未能生成或提取"))
	}
	res.Succeeded = true
	return res
}

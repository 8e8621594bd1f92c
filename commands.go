package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"litflow/batch"
	"litflow/generator"
	"litflow/publisher"
	"litflow/review"
	"litflow/search"
	"litflow/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI and JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			searcher, err := a.searcher()
			if err != nil {
				return err
			}
			if searcher == nil {
				a.logger.Warn("search api key missing; reviews need search_api_key per request")
			}
			r := a.renderer()
			if a.cfg.Render.On() {
				if err := r.Available(); err != nil {
					a.logger.Warn("mermaid-cli not found; batches with rendering will fail",
						zap.String("mmdc", r.Path()), zap.Error(err))
				}
			}

			srv, err := server.New(server.Options{
				Config:        a.cfg,
				BuildLLM:      buildLLM,
				Renderer:      r,
				Searcher:      searcher,
				BuildSearcher: a.buildSearcher,
				Logger:        a.logger,
				Metrics:       a.metrics,
			})
			if err != nil {
				return err
			}
			listen := a.cfg.ServerAddr
			if addr != "" {
				listen = addr
			}
			return serve(cmd.Context(), listen, srv.Routes(), a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address (overrides config.server_addr)")
	return cmd
}

type batchFlags struct {
	dialect string
	summary bool
	render  bool
	mode    string
	outDir  string
	archive string
}

func newBatchCmd(a *app) *cobra.Command {
	var f batchFlags
	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Generate diagrams for .txt/.md/.pdf files and write a zip archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.dialect, "dialect", "flowchart", "diagram dialect, see 'litflow dialects'")
	fl.BoolVar(&f.summary, "summary", false, "also ask for a Chinese summary per document")
	fl.BoolVar(&f.render, "render", true, "render PNG images with mermaid-cli")
	fl.StringVar(&f.mode, "mode", "", "sequential|concurrent (default from config)")
	fl.StringVar(&f.outDir, "out-dir", "", "working directory for generated files (default from config)")
	fl.StringVarP(&f.archive, "out", "o", publisher.ArchiveName, "zip archive path")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, paths []string, f batchFlags) error {
	dialect, ok := generator.LookupDialect(f.dialect)
	if !ok {
		return fmt.Errorf("unknown dialect %q", f.dialect)
	}

	items := make([]batch.Item, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		items = append(items, batch.Item{Name: filepath.Base(p), Data: data})
	}

	mode := f.mode
	if mode == "" {
		mode = a.cfg.Batch.Mode
	}
	outDir := f.outDir
	if outDir == "" {
		outDir = a.cfg.Batch.OutputDir
	}
	render := f.render
	if !cmd.Flags().Changed("render") {
		render = a.cfg.Render.On()
	}

	runner, err := batch.NewRunner(func() (generator.LLMClient, error) {
		return buildLLM(a.cfg.LLM)
	}, a.renderer(), a.logger)
	if err != nil {
		return err
	}
	runner.WithMetrics(a.metrics)

	out := cmd.OutOrStdout()
	rep, err := runner.Run(cmd.Context(), items, batch.Options{
		Dialect:        dialect,
		IncludeSummary: f.summary,
		Render:         render,
		Mode:           mode,
		Concurrency:    a.cfg.Batch.Limit(),
		OutputDir:      outDir,
		MaxAttempts:    a.cfg.Render.MaxAttempts,
		Progress: func(done, total int, res batch.ItemResult) {
			status := "ok"
			if !res.Succeeded {
				status = "失败: " + res.Error
			}
			fmt.Fprintf(out, "[%d/%d] %s %s\n", done, total, res.Name, status)
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "完成: 成功 %d, 失败 %d, 用时 %s\n", rep.Succeeded, rep.Failed, rep.Duration.Round(time.Millisecond))
	if !rep.HasArchive() {
		if rep.ArchiveError != "" {
			return fmt.Errorf("archive: %s", rep.ArchiveError)
		}
		return fmt.Errorf("no document succeeded")
	}
	if err := os.WriteFile(f.archive, rep.Archive, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	fmt.Fprintf(out, "已打包: %s (中间文件: %s)\n", f.archive, rep.Dir)
	return nil
}

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer an interview question with a thinking diagram, key points and a reference answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			llm, err := buildLLM(a.cfg.LLM)
			if err != nil {
				return err
			}
			agent, err := generator.NewAgent(llm)
			if err != nil {
				return err
			}
			agent.WithMetrics(a.metrics)
			res, err := agent.Interview(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Markdown())
			return nil
		},
	}
}

func newReviewCmd(a *app) *cobra.Command {
	var (
		customPrompt string
		maxResults   int
	)
	cmd := &cobra.Command{
		Use:   "review <topic>",
		Short: "Search scholarly sources and write a literature review",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			searcher, err := a.searcher()
			if err != nil {
				return err
			}
			if searcher == nil {
				return search.ErrAPIKeyMissing
			}
			llmCfg := a.cfg.LLM
			temp := review.Temperature
			llmCfg.Temperature = &temp
			llm, err := buildLLM(llmCfg)
			if err != nil {
				return err
			}
			reviewer, err := review.New(llm, searcher, a.logger)
			if err != nil {
				return err
			}
			if maxResults <= 0 {
				maxResults = a.cfg.Search.MaxResults
			}
			rv, err := reviewer.Run(cmd.Context(), review.Request{
				Topic:        strings.Join(args, " "),
				MaxResults:   maxResults,
				Custom:       customPrompt != "",
				CustomPrompt: customPrompt,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rv.Markdown)
			return nil
		},
	}
	cmd.Flags().StringVar(&customPrompt, "custom-prompt", "", "replace the expert panel with a single custom prompt")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "number of search results to keep (default from config)")
	return cmd
}

func newDialectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List supported diagram dialects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLABEL\tHEADER")
			for _, d := range generator.Dialects() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Label, d.Header)
			}
			return tw.Flush()
		},
	}
}

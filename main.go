package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"litflow/config"
	"litflow/generator"
	"litflow/logging"
	"litflow/metrics"
	"litflow/render"
	"litflow/search"
)

// app 保存各子命令共享的全局参数和依赖。
type app struct {
	configPath string
	envPath    string
	verbose    bool
	logFormat  string

	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Pipeline
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "litflow",
		Short: "文献转流程图：批量生成 Mermaid 图表、面试答题思路与文献综述",
		Long: `litflow turns documents into Mermaid diagrams with an LLM, renders them
with mermaid-cli (retrying with the renderer's error fed back to the model),
and packages the results into a zip archive.

Run "litflow serve" for the web UI or use the batch/ask/review subcommands.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultPath, "path to config.json or config.yaml")
	pf.StringVar(&a.envPath, "env-file", ".env", "dotenv file loaded before the config")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")
	pf.StringVar(&a.logFormat, "log-format", string(logging.FormatConsole), "log format: console|json")

	root.AddCommand(
		newServeCmd(a),
		newBatchCmd(a),
		newAskCmd(a),
		newReviewCmd(a),
		newDialectsCmd(a),
	)
	return root
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envPath); err != nil {
		return err
	}
	a.logger = logging.New(logging.Format(a.logFormat), a.verbose)

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	m, err := metrics.NewPipeline()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.metrics = m
	return nil
}

// loadConfig 配置文件不存在且使用默认路径时退回到默认配置（仍读取环境变量）。
func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err == nil {
		return cfg, nil
	}
	if a.configPath == config.DefaultPath && errors.Is(err, os.ErrNotExist) {
		a.logger.Debug("config file not found, using defaults", zap.String("path", a.configPath))
		return config.Parse("defaults.json", []byte("{}"))
	}
	return config.Config{}, err
}

func (a *app) renderer() *render.MMDC {
	return render.NewMMDC(a.cfg.Render.MMDCOptions())
}

// searcher returns nil when no search api key is configured.
func (a *app) searcher() (search.Searcher, error) {
	if a.cfg.Search.APIKey == "" {
		return nil, nil
	}
	return a.buildSearcher(a.cfg.Search)
}

func (a *app) buildSearcher(cfg config.SearchConfig) (search.Searcher, error) {
	return search.NewTavily(search.Options{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		IncludeDomains: cfg.IncludeDomains,
		ExcludeDomains: cfg.ExcludeDomains,
		Logger:         a.logger,
	})
}

func buildLLM(cfg config.LLMConfig) (generator.LLMClient, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm config missing; please set llm.provider/model/api_key in config")
	}
	switch cfg.Provider {
	case "openai":
		return generator.NewOpenAILLMFromConfig(cfg.Settings())
	case "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url（例如官方/网关地址）。
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAILLMFromConfig(cfg.Settings())
	case "mock":
		return generator.MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Sugar().Infof("starting web server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"litflow/batch"
	"litflow/config"
	"litflow/generator"
	"litflow/metrics"
	"litflow/publisher"
	"litflow/render"
	"litflow/review"
	"litflow/search"
)

//go:embed web/dist web/dist/* web/dist/assets/*
var embeddedStatic embed.FS

const (
	maxUploadBytes   = 64 << 20
	interviewTimeout = 3 * time.Minute
	reviewTimeout    = 10 * time.Minute
)

// LLMBuilder builds a completion client from an llm config section.
type LLMBuilder func(cfg config.LLMConfig) (generator.LLMClient, error)

// SearcherBuilder builds a search client from a search config section.
type SearcherBuilder func(cfg config.SearchConfig) (search.Searcher, error)

type Options struct {
	Config   config.Config
	BuildLLM LLMBuilder
	// Renderer may be nil; batches asking for rendering are then rejected.
	Renderer render.Renderer
	// Searcher may be nil; /api/reviews then answers 503 unless the request
	// carries its own search_api_key and BuildSearcher is set.
	Searcher      search.Searcher
	BuildSearcher SearcherBuilder
	Logger        *zap.Logger
	Metrics       *metrics.Pipeline
}

type Server struct {
	cfg      config.Config
	buildLLM LLMBuilder
	renderer render.Renderer
	searcher search.Searcher
	newSrch  SearcherBuilder
	logger   *zap.Logger
	metrics  *metrics.Pipeline
	reports  *reportStore
	staticFS http.Handler
}

func New(opts Options) (*Server, error) {
	if opts.BuildLLM == nil {
		return nil, errors.New("llm builder required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	sub, err := fs.Sub(embeddedStatic, "web/dist")
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:      opts.Config,
		buildLLM: opts.BuildLLM,
		renderer: opts.Renderer,
		searcher: opts.Searcher,
		newSrch:  opts.BuildSearcher,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		reports:  newReportStore(defaultStoreSize, opts.Logger),
		staticFS: http.FileServer(http.FS(sub)),
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dialects", s.handleDialects)
	mux.HandleFunc("/api/batches", s.handleBatchCreate)
	mux.HandleFunc("/api/batches/", s.handleBatchByID)
	mux.HandleFunc("/api/interview", s.handleInterview)
	mux.HandleFunc("/api/reviews", s.handleReview)
	mux.Handle("/", s.staticHandler())
	return logMiddleware(s.logger, mux)
}

func (s *Server) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// fall back to index.html for SPA-ish behavior
		upath := r.URL.Path
		if upath == "/" || !strings.HasPrefix(upath, "/api/") {
			p := upath
			if p == "/" {
				p = "/index.html"
			}
			r.URL.Path = p
			s.staticFS.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleDialects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, generator.Dialects())
}

type itemView struct {
	batch.ItemResult
	SummaryHTML string `json:"summary_html,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type reportView struct {
	*batch.Report
	Items      []itemView `json:"items"`
	HasArchive bool       `json:"has_archive"`
	ArchiveURL string     `json:"archive_url,omitempty"`
}

func newReportView(rep *batch.Report) reportView {
	v := reportView{Report: rep, HasArchive: rep.HasArchive(), Items: make([]itemView, len(rep.Items))}
	if v.HasArchive {
		v.ArchiveURL = "/api/batches/" + rep.ID + "/archive"
	}
	for i, it := range rep.Items {
		iv := itemView{ItemResult: it}
		if it.Summary != "" {
			if html, err := publisher.MarkdownToHTML(it.Summary); err == nil {
				iv.SummaryHTML = html
			}
		}
		if it.ImagePath != "" {
			iv.ImageURL = "/api/batches/" + rep.ID + "/images/" + it.Stem
		}
		v.Items[i] = iv
	}
	return v
}

func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	items, err := readUploads(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(items) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}

	dialect, ok := generator.LookupDialect(r.FormValue("dialect"))
	if !ok {
		http.Error(w, fmt.Sprintf("unknown dialect %q", r.FormValue("dialect")), http.StatusBadRequest)
		return
	}
	mode := r.FormValue("mode")
	if mode == "" {
		mode = s.cfg.Batch.Mode
	}

	llmCfg := s.llmConfig(r.FormValue("api_key"))
	runner, err := batch.NewRunner(func() (generator.LLMClient, error) {
		return s.buildLLM(llmCfg)
	}, s.renderer, s.logger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	runner.WithMetrics(s.metrics)

	rep, err := runner.Run(r.Context(), items, batch.Options{
		Dialect:        dialect,
		IncludeSummary: formBool(r, "summary", false),
		Render:         formBool(r, "render", s.cfg.Render.On()),
		Mode:           mode,
		Concurrency:    s.cfg.Batch.Limit(),
		OutputDir:      s.cfg.Batch.OutputDir,
		MaxAttempts:    s.cfg.Render.MaxAttempts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.reports.set(rep.ID, rep)
	writeJSON(w, http.StatusOK, newReportView(rep))
}

func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	rep, ok := s.reports.get(id)
	if !ok {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}

	switch {
	case sub == "":
		writeJSON(w, http.StatusOK, newReportView(rep))
	case sub == "archive":
		if !rep.HasArchive() {
			http.Error(w, "no successful items to download", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", publisher.ArchiveName))
		w.Header().Set("Content-Length", strconv.Itoa(len(rep.Archive)))
		_, _ = w.Write(rep.Archive)
	case strings.HasPrefix(sub, "images/"):
		stem := strings.TrimPrefix(sub, "images/")
		for _, it := range rep.Items {
			if it.Stem == stem && it.ImagePath != "" {
				w.Header().Set("Content-Type", "image/png")
				http.ServeFile(w, r, it.ImagePath)
				return
			}
		}
		http.NotFound(w, r)
	default:
		http.NotFound(w, r)
	}
}

type interviewReq struct {
	Question string `json:"question"`
	APIKey   string `json:"api_key"`
}

type interviewResp struct {
	generator.InterviewResult
	KeyPointsHTML string `json:"key_points_html"`
	AnswerHTML    string `json:"answer_html,omitempty"`
}

func (s *Server) handleInterview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req interviewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	llm, err := s.buildLLM(s.llmConfig(req.APIKey))
	if err != nil {
		writeError(w, err)
		return
	}
	agent, err := generator.NewAgent(llm)
	if err != nil {
		writeError(w, err)
		return
	}
	agent.WithMetrics(s.metrics)

	ctx, cancel := context.WithTimeout(r.Context(), interviewTimeout)
	defer cancel()
	res, err := agent.Interview(ctx, req.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := interviewResp{InterviewResult: res}
	resp.KeyPointsHTML, _ = publisher.MarkdownToHTML(res.KeyPoints)
	if res.Answer != "" {
		resp.AnswerHTML, _ = publisher.MarkdownToHTML(res.Answer)
	}
	writeJSON(w, http.StatusOK, resp)
}

type reviewReq struct {
	Topic        string `json:"topic"`
	MaxResults   int    `json:"max_results"`
	Custom       bool   `json:"custom"`
	CustomPrompt string `json:"custom_prompt"`
	APIKey       string `json:"api_key"`
	SearchAPIKey string `json:"search_api_key"`
}

type reviewResp struct {
	*review.Review
	HTML string `json:"html"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reviewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	searcher, err := s.reviewSearcher(req.SearchAPIKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if searcher == nil {
		http.Error(w, "search is not configured; set search.api_key or pass search_api_key", http.StatusServiceUnavailable)
		return
	}
	llmCfg := s.llmConfig(req.APIKey)
	temp := review.Temperature
	llmCfg.Temperature = &temp
	llm, err := s.buildLLM(llmCfg)
	if err != nil {
		writeError(w, err)
		return
	}
	reviewer, err := review.New(llm, searcher, s.logger)
	if err != nil {
		writeError(w, err)
		return
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.Search.MaxResults
	}
	ctx, cancel := context.WithTimeout(r.Context(), reviewTimeout)
	defer cancel()
	rv, err := reviewer.Run(ctx, review.Request{
		Topic:        req.Topic,
		MaxResults:   maxResults,
		Custom:       req.Custom,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	html, _ := publisher.MarkdownToHTML(rv.Markdown)
	writeJSON(w, http.StatusOK, reviewResp{Review: rv, HTML: html})
}

// --- Helpers ---

func (s *Server) llmConfig(apiKey string) config.LLMConfig {
	c := s.cfg.LLM
	if k := strings.TrimSpace(apiKey); k != "" {
		c.APIKey = k
	}
	return c
}

// reviewSearcher 请求里带了 search_api_key 时按该 key 新建检索客户端，否则用启动时配置的。
func (s *Server) reviewSearcher(apiKey string) (search.Searcher, error) {
	k := strings.TrimSpace(apiKey)
	if k == "" || s.newSrch == nil {
		return s.searcher, nil
	}
	c := s.cfg.Search
	c.APIKey = k
	return s.newSrch(c)
}

func readUploads(r *http.Request) ([]batch.Item, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File["files"]
	items := make([]batch.Item, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		items = append(items, batch.Item{Name: fh.Filename, Data: data})
	}
	return items, nil
}

func formBool(r *http.Request, key string, def bool) bool {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def
	}
	if v == "on" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error string         `json:"error"`
	Kind  generator.Kind `json:"kind,omitempty"`
}

// writeError maps failure kinds onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := generator.KindOf(err)
	switch {
	case kind == generator.KindCredentialMissing, errors.Is(err, search.ErrAPIKeyMissing),
		errors.Is(err, batch.ErrInvalidOptions):
		status = http.StatusBadRequest
	case kind == generator.KindTransport, kind == generator.KindMalformedResponse:
		status = http.StatusBadGateway
	case kind == generator.KindNoArtifact, errors.Is(err, review.ErrNoResults):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorResp{Error: err.Error(), Kind: kind})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// Package search queries the Tavily search API for academic sources.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL    = "https://api.tavily.com"
	DefaultMaxResults = 10
	DefaultTimeout    = 60 * time.Second
)

// ProfessionalDomains 默认只保留这些学术站点的结果。
var ProfessionalDomains = []string{
	"agupubs.onlinelibrary.wiley.com",
	"journals.ametsoc.org",
	"rmets.onlinelibrary.wiley.com",
	"wmo.int",
	"nasa.gov",
	"arxiv.org",
	"springer.com",
	"nature.com",
	"researchgate.net",
	"science.org",
	"pnas.org",
	"jstor.org",
}

// DefaultExcludeDomains are always excluded unless overridden.
var DefaultExcludeDomains = []string{"wikipedia.org"}

// ErrAPIKeyMissing is returned before any request when no Tavily key is set.
var ErrAPIKeyMissing = errors.New("search api key missing; provide search.api_key")

// Result is one filtered search hit.
type Result struct {
	Title         string   `json:"title"`
	Snippet       string   `json:"content"`
	URL           string   `json:"url"`
	PublishedDate string   `json:"published_date"`
	Authors       []string `json:"authors"`
	Score         float64  `json:"score"`
}

// Searcher is implemented by TavilyClient; the review package depends on this.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

type Options struct {
	APIKey         string
	BaseURL        string
	IncludeDomains []string
	ExcludeDomains []string
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// TavilyClient calls POST {base}/search behind a circuit breaker.
type TavilyClient struct {
	baseURL    string
	apiKey     string
	include    []string
	exclude    []string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

type searchRequest struct {
	APIKey            string   `json:"api_key"`
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeRawContent bool     `json:"include_raw_content"`
	MaxResults        int      `json:"max_results"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

func NewTavily(opts Options) (*TavilyClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrAPIKeyMissing
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if len(opts.IncludeDomains) == 0 {
		opts.IncludeDomains = ProfessionalDomains
	}
	if opts.ExcludeDomains == nil {
		opts.ExcludeDomains = DefaultExcludeDomains
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger

	settings := gobreaker.Settings{
		Name:        "tavily-search",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", zap.String("name", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &TavilyClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		include:    opts.IncludeDomains,
		exclude:    opts.ExcludeDomains,
		httpClient: opts.HTTPClient,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}, nil
}

// Search 检索并只保留白名单域名的结果，按相关度降序截断到 maxResults。
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	c.logger.Info("searching", zap.String("query", query), zap.Int("max_results", maxResults))

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.searchInternal(ctx, query, maxResults)
	})
	if err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}

	results := FilterDomains(out.([]Result), c.include)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	c.logger.Info("search finished", zap.Int("results", len(results)))
	return results, nil
}

func (c *TavilyClient) searchInternal(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:         c.apiKey,
		Query:          query,
		SearchDepth:    "advanced",
		MaxResults:     maxResults,
		IncludeDomains: c.include,
		ExcludeDomains: c.exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tavily returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return sr.Results, nil
}

// FilterDomains keeps results whose URL contains one of domains.
func FilterDomains(results []Result, domains []string) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		for _, d := range domains {
			if strings.Contains(r.URL, d) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

var unsafeTopicChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeTopic strips characters that are unsafe in file names and queries.
func SanitizeTopic(topic string) string {
	return strings.TrimSpace(unsafeTopicChars.ReplaceAllString(topic, ""))
}

// Combine joins results into the text block handed to the experts.
func Combine(results []Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("标题: %s\n作者: %s\n摘要: %s", r.Title, strings.Join(r.Authors, ", "), r.Snippet)
	}
	return strings.Join(parts, "\n\n")
}

// Package config loads litflow's JSON or YAML configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"litflow/generator"
	"litflow/render"
)

const (
	DefaultPath        = "config/config.json"
	DefaultServerAddr  = ":8080"
	DefaultProvider    = "deepseek"
	DefaultModel       = "deepseek-chat"
	DeepSeekBaseURL    = "https://api.deepseek.com/v1"
	DefaultOutputDir   = "output"
	DefaultSearchURL   = "https://api.tavily.com"
	DefaultMaxResults  = 10
	DefaultConcurrency = 4

	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

type Config struct {
	LLM        LLMConfig    `json:"llm" yaml:"llm"`
	Render     RenderConfig `json:"render" yaml:"render"`
	Search     SearchConfig `json:"search" yaml:"search"`
	Batch      BatchConfig  `json:"batch" yaml:"batch"`
	ServerAddr string       `json:"server_addr,omitempty" yaml:"server_addr"`
}

// LLMConfig 模型配置；api_key 为空时从 DEEPSEEK_API_KEY / OPENAI_API_KEY 读取。
type LLMConfig struct {
	Provider       string   `json:"provider,omitempty" yaml:"provider"`
	Model          string   `json:"model,omitempty" yaml:"model"`
	APIKey         string   `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url"`
	Temperature    *float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens      int64    `json:"max_tokens,omitempty" yaml:"max_tokens"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
}

type RenderConfig struct {
	Enabled        *bool  `json:"enabled,omitempty" yaml:"enabled"`
	MMDCPath       string `json:"mmdc_path,omitempty" yaml:"mmdc_path"`
	Theme          string `json:"theme,omitempty" yaml:"theme"`
	Background     string `json:"background,omitempty" yaml:"background"`
	Width          int    `json:"width,omitempty" yaml:"width"`
	Height         int    `json:"height,omitempty" yaml:"height"`
	Scale          int    `json:"scale,omitempty" yaml:"scale"`
	MaxAttempts    int    `json:"max_attempts,omitempty" yaml:"max_attempts"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
}

// SearchConfig 文献综述用的 Tavily 检索配置。
type SearchConfig struct {
	Provider       string   `json:"provider,omitempty" yaml:"provider"`
	APIKey         string   `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url"`
	MaxResults     int      `json:"max_results,omitempty" yaml:"max_results"`
	IncludeDomains []string `json:"include_domains,omitempty" yaml:"include_domains"`
	ExcludeDomains []string `json:"exclude_domains,omitempty" yaml:"exclude_domains"`
}

type BatchConfig struct {
	Mode string `json:"mode,omitempty" yaml:"mode"`
	// Concurrency 并发模式下的同时处理上限；显式写 0（或负数）表示不限。
	Concurrency *int   `json:"concurrency,omitempty" yaml:"concurrency"`
	OutputDir   string `json:"output_dir,omitempty" yaml:"output_dir"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a JSON (or .yaml/.yml) config from disk, expanding ${VAR}
// references before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config file not found: %s: %w", path, os.ErrNotExist)
		}
		return Config{}, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes data using the format implied by name's extension.
func Parse(name string, data []byte) (Config, error) {
	expanded := []byte(ExpandEnv(string(data)))

	var cfg Config
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid YAML in %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid JSON in %s: %w", name, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment; a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerAddr
	}

	l := &c.LLM
	if l.Provider == "" {
		l.Provider = DefaultProvider
	}
	l.Provider = strings.ToLower(l.Provider)
	if l.Model == "" && l.Provider == "deepseek" {
		l.Model = DefaultModel
	}
	if l.BaseURL == "" && l.Provider == "deepseek" {
		l.BaseURL = DeepSeekBaseURL
	}
	if l.APIKey == "" {
		switch l.Provider {
		case "deepseek":
			l.APIKey = os.Getenv("DEEPSEEK_API_KEY")
		case "openai":
			l.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	r := &c.Render
	if r.Enabled == nil {
		on := true
		r.Enabled = &on
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = render.DefaultMaxAttempts
	}

	s := &c.Search
	if s.Provider == "" {
		s.Provider = "tavily"
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultSearchURL
	}
	if s.APIKey == "" {
		s.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	if s.MaxResults <= 0 {
		s.MaxResults = DefaultMaxResults
	}

	b := &c.Batch
	if b.Mode == "" {
		b.Mode = ModeSequential
	}
	b.Mode = strings.ToLower(b.Mode)
	if b.Concurrency == nil {
		n := DefaultConcurrency
		b.Concurrency = &n
	}
	if b.OutputDir == "" {
		b.OutputDir = DefaultOutputDir
	}
}

// Validate checks enumerated fields. A missing API key is not a config error;
// it is reported when a batch starts.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "deepseek", "mock":
	default:
		return fmt.Errorf("llm provider %s not supported", c.LLM.Provider)
	}
	switch c.Batch.Mode {
	case ModeSequential, ModeConcurrent:
	default:
		return fmt.Errorf("batch mode %s not supported", c.Batch.Mode)
	}
	if c.Search.Provider != "tavily" {
		return fmt.Errorf("search provider %s not supported", c.Search.Provider)
	}
	return nil
}

// Settings converts the llm section for the completion client.
func (l LLMConfig) Settings() *generator.LLMSettings {
	s := &generator.LLMSettings{
		Provider:  l.Provider,
		Model:     l.Model,
		APIKey:    l.APIKey,
		BaseURL:   l.BaseURL,
		MaxTokens: l.MaxTokens,
	}
	if l.Temperature != nil {
		t := *l.Temperature
		s.Temperature = &t
	}
	if l.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(l.TimeoutSeconds) * time.Second
	}
	return s
}

// Limit returns the concurrent-mode bound; 0 means unbounded.
func (b BatchConfig) Limit() int {
	if b.Concurrency == nil {
		return DefaultConcurrency
	}
	if *b.Concurrency < 0 {
		return 0
	}
	return *b.Concurrency
}

// On reports whether rendering is enabled.
func (r RenderConfig) On() bool { return r.Enabled == nil || *r.Enabled }

// MMDCOptions converts the render section for the mmdc renderer.
func (r RenderConfig) MMDCOptions() render.MMDCOptions {
	return render.MMDCOptions{
		Path:       r.MMDCPath,
		Theme:      r.Theme,
		Background: r.Background,
		Width:      r.Width,
		Height:     r.Height,
		Scale:      r.Scale,
		Timeout:    time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

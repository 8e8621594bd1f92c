package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

// OpenAILLM implements LLMClient using the official openai-go SDK (chat completions).
// It works against any OpenAI-compatible endpoint such as DeepSeek.
type OpenAILLM struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	Opts        []option.RequestOption
}

func NewOpenAILLMFromConfig(cfg *LLMSettings) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrCredentialMissing
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	// 重试与并发由调用方控制，SDK 自带重试关闭。
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAILLM{
		Model:       cfg.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
		Opts:        opts,
	}, nil
}

// Complete issues exactly one chat completion call. Errors are always *Failure.
func (o *OpenAILLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	client := openai.NewClient(o.Opts...)

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(prompt.System),
	}
	for _, h := range prompt.History {
		switch h.Role {
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt.User))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.Model),
		Messages:    msgs,
		Temperature: openai.Float(o.Temperature),
		MaxTokens:   openai.Int(o.MaxTokens),
	})
	if err != nil {
		return "", classifyCompletionError(err)
	}
	if len(resp.Choices) == 0 {
		if msg := gjson.Get(resp.RawJSON(), "error.message"); msg.Exists() {
			return "", Failf(KindTransport, "api returned error: %s", msg.String())
		}
		return "", Failf(KindMalformedResponse, "response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyCompletionError(err error) error {
	var apiErr *openai.Error
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &apiErr):
		return Wrap(KindTransport, err, fmt.Sprintf("api returned status %d", apiErr.StatusCode))
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTransport, err, "request timed out")
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return Wrap(KindMalformedResponse, err, "cannot decode response")
	default:
		return Wrap(KindTransport, err, "request failed")
	}
}

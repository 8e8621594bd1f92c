package generator

import (
	"context"
	"errors"
	"time"

	"litflow/metrics"
)

// Agent 负责组装提示词、调用模型并提取结果。
type Agent struct {
	llm     LLMClient
	metrics *metrics.Pipeline
}

func NewAgent(llm LLMClient) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Agent{llm: llm}, nil
}

// WithMetrics attaches a metrics recorder; nil disables recording.
func (a *Agent) WithMetrics(m *metrics.Pipeline) *Agent {
	a.metrics = m
	return a
}

// LLM exposes the underlying client for callers that build their own prompts.
func (a *Agent) LLM() LLMClient { return a.llm }

// Complete 调用一次模型，失败时返回带分类的 Failure 而不是 error。
func (a *Agent) Complete(ctx context.Context, req CompletionRequest) CompletionResult {
	start := time.Now()
	raw, err := a.llm.Complete(ctx, BuildPrompt(req))
	a.metrics.RecordCompletion(ctx, string(req.Task.Kind), time.Since(start), err)
	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			f = Wrap(KindTransport, err, "completion failed")
		}
		return CompletionResult{Failure: f}
	}
	return CompletionResult{RawText: raw}
}

// Generate 调用模型并提取图表/摘要；找不到图表时返回 NoArtifactFound，
// 同时仍返回已提取的部分结果（例如摘要与原始回复）。
func (a *Agent) Generate(ctx context.Context, req CompletionRequest) (Artifact, error) {
	res := a.Complete(ctx, req)
	if !res.OK() {
		return Artifact{}, res.Failure
	}
	art := Extract(res.RawText, OptionsFor(req))
	if !art.Found {
		return art, Failf(KindNoArtifact, "未能从模型回复中提取有效的图表代码")
	}
	return art, nil
}

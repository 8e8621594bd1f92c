package generator

import (
	"context"
	"time"
)

// Session 持有单个输入项的生成上下文：原文、任务以及每次调用的记录。
type Session struct {
	ID       string
	Request  CompletionRequest
	Artifact Artifact
	History  []Turn
	agent    *Agent
}

// NewSession 创建 session，尚未调用模型。
func NewSession(id string, req CompletionRequest, agent *Agent) *Session {
	req.CorrectionHint = ""
	return &Session{
		ID:      id,
		Request: req,
		agent:   agent,
	}
}

// SourceText returns the original input text the session was created with.
func (s *Session) SourceText() string { return s.Request.SourceText }

// Propose 首次生成图表（及可选摘要）。
func (s *Session) Propose(ctx context.Context) (Artifact, error) {
	art, err := s.agent.Generate(ctx, s.Request)
	s.appendTurn("", art, err)
	if err != nil {
		return art, err
	}
	s.Artifact = art
	return art, nil
}

// Revise 带上渲染错误重新生成图表代码。
// 重生成只替换图表源码，首稿中提取的摘要保持不变。
func (s *Session) Revise(ctx context.Context, hint string) (Artifact, error) {
	req := s.Request
	req.CorrectionHint = hint
	art, err := s.agent.Generate(ctx, req)
	s.appendTurn(hint, art, err)
	if err != nil {
		return art, err
	}
	s.Artifact.DiagramSource = art.DiagramSource
	s.Artifact.Found = true
	s.Artifact.Warnings = append(s.Artifact.Warnings, art.Warnings...)
	return art, nil
}

func (s *Session) appendTurn(hint string, art Artifact, err error) {
	t := Turn{
		Hint:      hint,
		Artifact:  art,
		CreatedAt: time.Now(),
	}
	if err != nil {
		t.Err = err.Error()
	}
	s.History = append(s.History, t)
}

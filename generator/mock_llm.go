package generator

import (
	"context"
	"strings"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	// 按提示词里要求的格式拼一个最小可渲染的回复。
	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("graph TD\n")
	sb.WriteString("    A[输入文本] --> B[提取流程]\n")
	sb.WriteString("    B --> C[生成图表]\n")
	sb.WriteString("```\n")
	switch {
	case strings.Contains(prompt.User, KeyPointsSeparator):
		sb.WriteString(KeyPointsSeparator + "\n1. 明确目标\n2. 分步落实\n3. 总结反馈\n")
		sb.WriteString(AnswerSeparator + "\n这是一个用于本地调试的参考答案。\n")
	case strings.Contains(prompt.User, SummarySeparator):
		sb.WriteString(SummarySeparator + "\n这是一个用于本地调试的中文摘要。\n")
	}
	return sb.String(), nil
}

package generator

import (
	"context"
	"fmt"
	"strings"
)

// InterviewResult 结构化面试题的作答：答题思路图、关键要点、参考答案。
type InterviewResult struct {
	Question  string   `json:"question"`
	Diagram   string   `json:"diagram"`
	KeyPoints string   `json:"key_points"`
	Answer    string   `json:"answer"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Interview answers one interview question. Both the diagram and the key
// points must be present; the answer section is optional.
func (a *Agent) Interview(ctx context.Context, question string) (InterviewResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return InterviewResult{}, fmt.Errorf("question is required")
	}
	art, err := a.Generate(ctx, CompletionRequest{SourceText: question, Task: InterviewTask()})
	res := InterviewResult{
		Question:  question,
		Diagram:   art.DiagramSource,
		KeyPoints: art.Summary,
		Answer:    art.Answer,
		Warnings:  art.Warnings,
	}
	if err != nil {
		return res, err
	}
	if res.KeyPoints == "" {
		return res, Failf(KindNoArtifact, "未能从模型回复中提取关键要点")
	}
	return res, nil
}

// Markdown renders the result with the diagram as a fenced block.
func (r InterviewResult) Markdown() string {
	d := DefaultDialect()
	var b strings.Builder
	fmt.Fprintf(&b, "## 题目\n%s\n\n", r.Question)
	fmt.Fprintf(&b, "## 答题思路\n%s\n%s\n%s\n\n", d.OpenMarker(), r.Diagram, closeFence)
	fmt.Fprintf(&b, "## 关键要点\n%s\n\n", r.KeyPoints)
	if r.Answer != "" {
		fmt.Fprintf(&b, "## 参考答案\n%s\n", r.Answer)
	}
	return b.String()
}

package generator

import (
	"fmt"
	"strings"
)

// ExtractOptions 控制从模型回复中提取哪些部分。
type ExtractOptions struct {
	Dialect          Dialect
	WantSummary      bool
	SummarySeparator string
	// AnswerSeparator 非空时，摘要部分再按此分隔符切出参考答案（面试任务）。
	AnswerSeparator string
}

// OptionsFor derives extraction options from the request that produced the reply.
func OptionsFor(req CompletionRequest) ExtractOptions {
	if req.Task.Kind == TaskInterview {
		return ExtractOptions{
			Dialect:          req.Task.Dialect,
			WantSummary:      true,
			SummarySeparator: KeyPointsSeparator,
			AnswerSeparator:  AnswerSeparator,
		}
	}
	return ExtractOptions{
		Dialect:          req.Task.Dialect,
		WantSummary:      req.IncludeSummary,
		SummarySeparator: SummarySeparator,
	}
}

// Extract 按固定标记扫描原始回复，提取图表源码与摘要。
// 纯函数：相同输入总得到相同结果；从不 panic，找不到时 Found=false。
func Extract(raw string, opts ExtractOptions) Artifact {
	d := opts.Dialect
	if d.Name == "" {
		d = DefaultDialect()
	}
	sep := opts.SummarySeparator
	if sep == "" {
		sep = SummarySeparator
	}

	var art Artifact
	text := strings.TrimSpace(raw)
	if text == "" {
		art.Warnings = append(art.Warnings, "模型返回内容为空")
		return art
	}

	open := d.OpenMarker()
	summaryFrom := 0
	start := strings.Index(text, open)
	end := -1
	if start != -1 {
		if rel := strings.Index(text[start+len(open):], closeFence); rel != -1 {
			end = start + len(open) + rel
		}
	}

	switch {
	case start != -1 && end != -1:
		art.DiagramSource = strings.TrimSpace(text[start+len(open) : end])
		summaryFrom = end
		if art.DiagramSource == "" {
			art.Warnings = append(art.Warnings, "代码块为空")
		} else if !d.containsStartToken(art.DiagramSource) {
			art.Warnings = append(art.Warnings, fmt.Sprintf("提取的代码块似乎不包含有效的图定义 (%s)", strings.Join(d.StartTokens, "/")))
		}
	case d.containsStartToken(text):
		art.Fallback = true
		art.Warnings = append(art.Warnings, fmt.Sprintf("未找到标准代码块 '%s...%s'，按图定义关键字截取代码", open, closeFence))
		art.DiagramSource = fallbackSource(text, d, opts.WantSummary, sep)
	}
	art.Found = art.DiagramSource != ""

	if opts.WantSummary {
		extractSummary(&art, text[summaryFrom:], sep, opts.AnswerSeparator)
	}
	if !art.Found {
		art.Warnings = append(art.Warnings, "未能提取有效的图表代码")
		art.Diagnostic = text
	}
	return art
}

// fallbackSource 从第一行图定义开始截取连续的代码行。
// 这是启发式规则：模型不遵守代码块格式时尽力而为，可能截错。
func fallbackSource(text string, d Dialect, stopAtSeparator bool, sep string) string {
	var lines []string
	in := false
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		if d.HasStartToken(s) {
			in = true
		}
		if !in || s == "" || strings.HasPrefix(s, closeFence) {
			continue
		}
		if stopAtSeparator && strings.HasPrefix(s, sep) {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractSummary(art *Artifact, text, sep, answerSep string) {
	idx := strings.Index(text, sep)
	if idx == -1 {
		art.Warnings = append(art.Warnings, fmt.Sprintf("要求了摘要，但未在回复中找到分隔符 '%s'", sep))
		if answerSep != "" {
			if j := strings.Index(text, answerSep); j != -1 {
				art.Answer = strings.TrimSpace(text[j+len(answerSep):])
			}
		}
		return
	}

	rest := text[idx+len(sep):]
	if answerSep != "" {
		if j := strings.Index(rest, answerSep); j != -1 {
			art.Answer = strings.TrimSpace(rest[j+len(answerSep):])
			rest = rest[:j]
		} else {
			art.Warnings = append(art.Warnings, fmt.Sprintf("未找到分隔符 '%s'", answerSep))
		}
	}
	art.Summary = strings.TrimSpace(rest)
	if art.Summary == "" {
		art.Warnings = append(art.Warnings, "找到了摘要分隔符，但摘要内容为空")
	}
}

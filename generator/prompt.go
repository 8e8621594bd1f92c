package generator

import (
	"fmt"
	"strings"
)

// 模型输出中使用的固定分隔符。
const (
	SummarySeparator   = "---摘要---"
	KeyPointsSeparator = "---关键要点---"
	AnswerSeparator    = "---参考答案---"
	closeFence         = "```"
)

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	System  string
	User    string
	History []Message
}

// Message 用于少量历史（可选）。
type Message struct {
	Role    string
	Content string
}

// BuildPrompt 根据任务类型组装提示词；相同输入总是得到相同输出。
func BuildPrompt(req CompletionRequest) Prompt {
	switch req.Task.Kind {
	case TaskInterview:
		return buildInterviewPrompt(req)
	default:
		return buildDiagramPrompt(req)
	}
}

func buildDiagramPrompt(req CompletionRequest) Prompt {
	d := req.Task.Dialect
	if d.Name == "" {
		d = DefaultDialect()
	}

	var sb strings.Builder
	sb.WriteString("请分析以下文本内容：\n\"\"\"\n")
	sb.WriteString(req.SourceText)
	sb.WriteString("\n\"\"\"\n\n任务：\n")
	sb.WriteString(fmt.Sprintf("1. 将描述的内容转换为 Mermaid 语法的%s代码 (%s)。\n", d.Label, d.Header))
	sb.WriteString("   - 只需要 Mermaid 代码块，不要包含任何额外的解释或文字。\n")
	sb.WriteString(fmt.Sprintf("   - 确保代码块以 '%s' 开始，以 '%s' 结束。\n", d.OpenMarker(), closeFence))
	sb.WriteString("   - 不要在节点名称或链接中使用特殊字符（例如括号、引号），尽量使用字母数字和下划线。\n")

	if req.IncludeSummary {
		sb.WriteString("2. 生成该文本内容的中文摘要。\n\n")
		sb.WriteString("输出格式要求：\n")
		sb.WriteString(fmt.Sprintf("首先输出 Mermaid 代码块，然后紧接着输出分隔符 '%s'，最后输出中文摘要。\n", SummarySeparator))
		sb.WriteString("示例：\n")
		sb.WriteString(d.OpenMarker() + "\n" + d.Header + "\n    A --> B\n" + closeFence + "\n")
		sb.WriteString(SummarySeparator + "\n这是中文摘要内容。\n")
	} else {
		sb.WriteString("\n输出格式要求：\n只需要输出 Mermaid 代码块。\n")
	}
	writeCorrectionHint(&sb, req.CorrectionHint)
	if req.IncludeSummary {
		sb.WriteString("\n请严格按照此格式输出：\n")
	} else {
		sb.WriteString("\nMermaid 代码：\n")
	}

	return Prompt{
		System: fmt.Sprintf("你是一个将文本转换为 Mermaid %s代码的助手。", d.Label),
		User:   sb.String(),
	}
}

func buildInterviewPrompt(req CompletionRequest) Prompt {
	d := req.Task.Dialect
	if d.Name == "" {
		d = DefaultDialect()
	}

	var sb strings.Builder
	sb.WriteString("请根据以下事业编结构化面试题目生成高质量的参考答案：\n\n")
	sb.WriteString(fmt.Sprintf("题目：%s\n\n", req.SourceText))
	sb.WriteString("要求：\n")
	sb.WriteString("1. 生成详细的参考答案，体现公务员/事业编面试的规范性和专业性\n")
	sb.WriteString(fmt.Sprintf("2. 将答案的逻辑结构转换为 Mermaid 语法的流程图代码 (%s)\n", d.Header))
	sb.WriteString("   - 只需要 Mermaid 代码块，不要包含任何额外的解释或文字\n")
	sb.WriteString(fmt.Sprintf("   - 确保代码块以 '%s' 开始，以 '%s' 结束\n", d.OpenMarker(), closeFence))
	sb.WriteString("3. 提取3-5个关键答题要点\n\n")
	sb.WriteString("输出格式要求：\n")
	sb.WriteString(d.OpenMarker() + "\n" + d.Header + "\n    A[开始] --> B[第一要点]\n    B --> C[第二要点]\n" + closeFence + "\n")
	sb.WriteString(KeyPointsSeparator + "\n1. 要点一\n2. 要点二\n3. 要点三\n")
	sb.WriteString(AnswerSeparator + "\n这里是详细的参考答案内容...\n")
	writeCorrectionHint(&sb, req.CorrectionHint)

	return Prompt{
		System: "你是一位资深的事业编面试考官，擅长生成结构化面试的参考答案和分析。",
		User:   sb.String(),
	}
}

func writeCorrectionHint(sb *strings.Builder, hint string) {
	if hint == "" {
		return
	}
	sb.WriteString("\n\n重要提示：上次生成的代码渲染失败，错误信息：")
	sb.WriteString(hint)
	sb.WriteString("\n请根据此错误调整生成的 Mermaid 代码。\n")
}

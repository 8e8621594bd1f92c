package generator

import "time"

// TaskKind 区分流水线的任务变体：文献转图表，或结构化面试问答。
type TaskKind string

const (
	TaskDiagram   TaskKind = "diagram"
	TaskInterview TaskKind = "interview"
)

// Task is the task descriptor handed to the prompt builder and extractor.
type Task struct {
	Kind    TaskKind
	Dialect Dialect
}

// DiagramTask returns a diagram task for the given dialect.
func DiagramTask(d Dialect) Task {
	return Task{Kind: TaskDiagram, Dialect: d}
}

// InterviewTask 面试问答固定使用流程图方言描述答题结构。
func InterviewTask() Task {
	return Task{Kind: TaskInterview, Dialect: DefaultDialect()}
}

// CompletionRequest 每次调用模型前重新构造，不做修改。
type CompletionRequest struct {
	SourceText     string
	Task           Task
	IncludeSummary bool
	// CorrectionHint 为上一次渲染失败的诊断信息，重试时原样附加到提示词末尾。
	CorrectionHint string
}

// CompletionResult holds either the raw reply text or a failure, never both.
type CompletionResult struct {
	RawText string
	Failure *Failure
}

// OK reports whether the call produced text.
func (r CompletionResult) OK() bool { return r.Failure == nil }

// Artifact 是从模型原始回复中提取出的结构化结果，只依赖原始文本。
type Artifact struct {
	DiagramSource string
	// Summary 在图表任务里是摘要，在面试任务里是关键要点。
	Summary string
	// Answer 仅面试任务使用（参考答案）。
	Answer string
	Found  bool
	// Fallback 表示代码块未找到，图表源码由启发式规则截取（可能截错）。
	Fallback bool
	Warnings []string
	// Diagnostic carries the raw reply when nothing usable was found.
	Diagnostic string
}

// Turn 记录一次模型调用（首稿或带纠错提示的重生成）。
type Turn struct {
	Hint      string
	Artifact  Artifact
	Err       string
	CreatedAt time.Time
}

// Package review builds a literature review from search results using
// several expert prompts against the completion client.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"litflow/generator"
	"litflow/search"
)

// Temperature 综述写作使用更高的温度。
const Temperature = 0.7

// DefaultCustomPrompt is used when custom mode is requested with an empty prompt.
const DefaultCustomPrompt = "请根据以下搜索结果撰写文献综述，重点关注方法论和研究空白:"

var ErrNoResults = errors.New("未找到符合条件的搜索结果")

// Expert is one analysis role; Prompt contains a %s for the topic.
type Expert struct {
	Name   string
	Prompt string
}

const (
	ExpertSummary   = "总结专家"
	ExpertQuestions = "问题生成专家"
	ExpertConcepts  = "关键概念专家"
	ExpertFuture    = "未来方向专家"
)

// Experts run concurrently; their order fixes the discussion input order.
var Experts = []Expert{
	{ExpertSummary, `请根据以下搜索结果，撰写关于主题"%s"的文献综述。
文章应包含关键事实、背景信息和相关概念。
请确保内容准确、流畅，并整合来自不同来源的信息。
请使用中文撰写，严格遵循WMO术语标准。`},
	{ExpertQuestions, `请根据以下关于主题"%s"的搜索结果摘要，提出相关的研究问题。
请以列表形式列出这些问题，并标注推荐分析方法。
请使用中文回答。`},
	{ExpertConcepts, `请从以下文本中提取与主题"%s"相关的关键概念和术语。
请确保使用WMO标准术语。
请以列表形式列出这些概念。`},
	{ExpertFuture, `请根据以下关于主题"%s"的搜索结果摘要，提出可能的未来研究方向。
请以列表形式列出这些建议。
请使用中文回答。`},
}

const (
	backgroundPrompt = `请从以下文本中提取背景信息部分。
请保持学术严谨性，使用WMO标准术语。`
	methodologyPrompt = `请将以下分析方法建议整理为规范的方法论描述，按以下结构组织：
1. 数据来源
2. 分析方法
3. 技术路线`
	discussionPrompt = `请根据以下专家意见，撰写综合讨论，请突出：
1. 主要发现
2. 研究限制
3. 未来方向`
)

const humanizeSystemPrompt = `# Role
你是一位资深的语言风格转换与文本润色专家，需要帮助用户将 AI 生成的文章改写成具有人性化和自然表达的内容。文章应避免机械感，确保在语言风格、情感表达、逻辑结构等方面与人类写作保持一致。

# Goals
调整文章至接近人类写作风格，降低AI特征，提升自然度和个性化。

# Constraints
调整时保持原有信息准确性，避免改变文章基本意图和内容，确保语言多样性和表现力。

现在请处理以下内容，让其读起来不像AI生成，并且仍然要保持学术论文的特点：`

type Request struct {
	Topic      string
	MaxResults int
	// Custom 为 true 时只用 CustomPrompt 调用一次模型。
	Custom       bool
	CustomPrompt string
}

// ExpertOutput is one expert's reply; Err is set when the call failed.
type ExpertOutput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Err     string `json:"error,omitempty"`
}

type Review struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	CreatedAt time.Time       `json:"created_at"`
	Sources   []search.Result `json:"sources"`
	Experts   []ExpertOutput  `json:"experts,omitempty"`
	Markdown  string          `json:"markdown"`
}

// Reviewer runs the search and expert pipeline.
type Reviewer struct {
	llm      generator.LLMClient
	searcher search.Searcher
	logger   *zap.Logger
	now      func() time.Time
}

func New(llm generator.LLMClient, searcher search.Searcher, logger *zap.Logger) (*Reviewer, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{llm: llm, searcher: searcher, logger: logger, now: time.Now}, nil
}

// Run searches for the topic and writes the review.
func (r *Reviewer) Run(ctx context.Context, req Request) (*Review, error) {
	topic := search.SanitizeTopic(req.Topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	log := r.logger.With(zap.String("topic", topic))

	sources, err := r.searcher.Search(ctx, topic, req.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrNoResults
	}
	combined := search.Combine(sources)

	rv := &Review{
		ID:        uuid.NewString(),
		Topic:     topic,
		CreatedAt: r.now(),
		Sources:   sources,
	}

	if req.Custom {
		prompt := strings.TrimSpace(req.CustomPrompt)
		if prompt == "" {
			prompt = DefaultCustomPrompt
		}
		rv.Markdown = r.call(ctx, prompt, combined)
		log.Info("custom review finished", zap.Int("sources", len(sources)))
		return rv, nil
	}

	rv.Experts = r.runExperts(ctx, topic, combined)
	rv.Markdown = r.format(ctx, rv.Experts, sources)
	log.Info("review finished", zap.Int("sources", len(sources)), zap.Int("experts", len(rv.Experts)))
	return rv, nil
}

func (r *Reviewer) runExperts(ctx context.Context, topic, combined string) []ExpertOutput {
	outputs := make([]ExpertOutput, len(Experts))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range Experts {
		i, e := i, e
		g.Go(func() error {
			content, err := r.complete(gctx, fmt.Sprintf(e.Prompt, topic), combined)
			outputs[i] = ExpertOutput{Name: e.Name, Content: content}
			if err != nil {
				outputs[i].Err = err.Error()
				outputs[i].Content = "处理错误: " + err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

// format 组装 摘要 / 背景 / 方法论 / 结果与讨论 / 参考文献 几个部分。
func (r *Reviewer) format(ctx context.Context, experts []ExpertOutput, sources []search.Result) string {
	byName := make(map[string]string, len(experts))
	all := make([]string, 0, len(experts))
	for _, e := range experts {
		byName[e.Name] = e.Content
		all = append(all, e.Content)
	}
	summary := byName[ExpertSummary]

	var background, methodology, discussion string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		background = r.call(gctx, backgroundPrompt, summary)
		return nil
	})
	g.Go(func() error {
		methodology = r.call(gctx, methodologyPrompt, byName[ExpertQuestions])
		return nil
	})
	g.Go(func() error {
		discussion = r.call(gctx, discussionPrompt, strings.Join(all, "\n\n"))
		return nil
	})
	_ = g.Wait()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", titleLine(summary))
	fmt.Fprintf(&b, "## 摘要\n%s\n\n", summary)
	fmt.Fprintf(&b, "## 背景\n%s\n\n", background)
	fmt.Fprintf(&b, "## 方法论\n%s\n\n", methodology)
	fmt.Fprintf(&b, "## 结果与讨论\n%s\n\n", discussion)
	b.WriteString("## 参考文献\n")
	accessed := r.now()
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, Citation(s, accessed))
	}
	return b.String()
}

// call returns the reply, or an inline error note when the call fails.
func (r *Reviewer) call(ctx context.Context, prompt, text string) string {
	out, err := r.complete(ctx, prompt, text)
	if err != nil {
		return "处理错误: " + err.Error()
	}
	return out
}

func (r *Reviewer) complete(ctx context.Context, prompt, text string) (string, error) {
	out, err := r.llm.Complete(ctx, generator.Prompt{
		System: humanizeSystemPrompt,
		User:   prompt + "\n\n" + text,
	})
	if err != nil {
		r.logger.Warn("review call failed", zap.Error(err))
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func titleLine(summary string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(summary), "\n")
	line = strings.TrimSpace(strings.TrimLeft(line, "# "))
	if line == "" || strings.HasPrefix(line, "处理错误") {
		return "文献综述"
	}
	return line
}

// Citation formats a source as: authors (year). title. [Online] Available: url [Accessed: date]
func Citation(s search.Result, accessed time.Time) string {
	authors := strings.Join(s.Authors, ", ")
	if authors == "" {
		authors = "匿名作者"
	}
	year, _, _ := strings.Cut(s.PublishedDate, "-")
	if strings.TrimSpace(year) == "" {
		year = "n.d."
	}
	title := s.Title
	if title == "" {
		title = "无标题"
	}
	return fmt.Sprintf("%s (%s). %s. [Online] Available: %s [Accessed: %s]",
		authors, year, title, s.URL, accessed.Format("02 Jan 2006"))
}

package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowchartOpts(summary bool) ExtractOptions {
	return OptionsFor(CompletionRequest{Task: DiagramTask(DefaultDialect()), IncludeSummary: summary})
}

func TestExtract_FencedBlockInsideProse(t *testing.T) {
	art := Extract("blah ```mermaid\ngraph TD\nA-->B\n``` blah", flowchartOpts(false))

	assert.True(t, art.Found)
	assert.False(t, art.Fallback)
	assert.Equal(t, "graph TD\nA-->B", art.DiagramSource)
	assert.Empty(t, art.Summary)
	assert.Empty(t, art.Diagnostic)
}

func TestExtract_FencedBlockWithSummary(t *testing.T) {
	art := Extract("```mermaid\ngraph TD\nA-->B\n```\n---摘要---\nSummary text", flowchartOpts(true))

	assert.True(t, art.Found)
	assert.Equal(t, "graph TD\nA-->B", art.DiagramSource)
	assert.Equal(t, "Summary text", art.Summary)
	assert.Empty(t, art.Warnings)
}

func TestExtract_TrimmedInteriorRegardlessOfProse(t *testing.T) {
	cases := []string{
		"```mermaid\n  graph LR\n  X-->Y  \n```",
		"Here you go:\n\n```mermaid\ngraph LR\n  X-->Y\n```\nHope it helps!",
		"前言 ```mermaid graph LR\n  X-->Y``` 结尾 ``` more fences ```",
	}
	for _, raw := range cases {
		art := Extract(raw, flowchartOpts(false))
		require.True(t, art.Found, raw)
		assert.Contains(t, art.DiagramSource, "graph LR")
		assert.Equal(t, strings.TrimSpace(art.DiagramSource), art.DiagramSource)
	}
}

func TestExtract_MissingFenceNoFallbackToken(t *testing.T) {
	cases := []string{
		"no diagram here at all",
		"```mermaid\nA-->B without close",
		"A-->B\n```",
	}
	for _, raw := range cases {
		art := Extract(raw, flowchartOpts(false))
		assert.False(t, art.Found, raw)
		assert.Empty(t, art.DiagramSource, raw)
		assert.Equal(t, raw, art.Diagnostic)
	}
}

func TestExtract_EmptyText(t *testing.T) {
	art := Extract("   \n ", flowchartOpts(true))
	assert.False(t, art.Found)
	assert.Empty(t, art.Diagnostic)
	assert.NotEmpty(t, art.Warnings)
}

func TestExtract_FallbackHeuristic(t *testing.T) {
	raw := "Sure, here it is:\ngraph TD\n    A-->B\n\n    B-->C\n---摘要---\n这是摘要"

	art := Extract(raw, flowchartOpts(true))
	assert.True(t, art.Found)
	assert.True(t, art.Fallback)
	assert.Equal(t, "graph TD\n    A-->B\n    B-->C", art.DiagramSource)
	assert.Equal(t, "这是摘要", art.Summary)
}

func TestExtract_FallbackWithoutSummaryKeepsTrailingLines(t *testing.T) {
	raw := "graph LR\nA-->B\n---摘要---\nafter"

	art := Extract(raw, flowchartOpts(false))
	assert.True(t, art.Fallback)
	assert.Equal(t, "graph LR\nA-->B\n---摘要---\nafter", art.DiagramSource)
}

func TestExtract_FallbackSkipsUnclosedFence(t *testing.T) {
	raw := "```mermaid\ngraph TD\nA-->B"

	art := Extract(raw, flowchartOpts(false))
	assert.True(t, art.Found)
	assert.True(t, art.Fallback)
	assert.Equal(t, "graph TD\nA-->B", art.DiagramSource)
}

func TestExtract_TokenOnlyInlineIsNotADiagram(t *testing.T) {
	art := Extract("you could write graph TD here", flowchartOpts(false))
	assert.False(t, art.Found)
	assert.True(t, art.Fallback)
}

func TestExtract_SummaryIndependentOfDiagram(t *testing.T) {
	art := Extract("I cannot draw this.\n---摘要---\n只有摘要", flowchartOpts(true))

	assert.False(t, art.Found)
	assert.Empty(t, art.DiagramSource)
	assert.Equal(t, "只有摘要", art.Summary)
	assert.NotEmpty(t, art.Diagnostic)
}

func TestExtract_MissingSeparatorOnlyWarns(t *testing.T) {
	art := Extract("```mermaid\ngraph TD\nA-->B\n```\ntrailing prose", flowchartOpts(true))

	assert.True(t, art.Found)
	assert.Empty(t, art.Summary)
	assert.NotEmpty(t, art.Warnings)
}

func TestExtract_SeparatorBeforeBlockIsIgnored(t *testing.T) {
	raw := "---摘要---\n```mermaid\ngraph TD\nA-->B\n```"

	art := Extract(raw, flowchartOpts(true))
	assert.True(t, art.Found)
	assert.Empty(t, art.Summary)
}

func TestExtract_EmptyFencedBlock(t *testing.T) {
	art := Extract("```mermaid\n\n```", flowchartOpts(false))
	assert.False(t, art.Found)
	assert.False(t, art.Fallback)
}

func TestExtract_ValidationWarning(t *testing.T) {
	art := Extract("```mermaid\nA-->B\n```", flowchartOpts(false))
	assert.True(t, art.Found)
	assert.Len(t, art.Warnings, 1)
}

func TestExtract_Idempotent(t *testing.T) {
	raws := []string{
		"blah ```mermaid\ngraph TD\nA-->B\n``` blah",
		"graph TD\nA-->B\n---摘要---\nx",
		"nothing",
	}
	for _, raw := range raws {
		assert.Equal(t, Extract(raw, flowchartOpts(true)), Extract(raw, flowchartOpts(true)))
	}
}

func TestExtract_Interview(t *testing.T) {
	raw := "```mermaid\ngraph TD\nA[开始]-->B[要点]\n```\n---关键要点---\n1. 一\n2. 二\n---参考答案---\n详细答案"
	opts := OptionsFor(CompletionRequest{Task: InterviewTask()})

	art := Extract(raw, opts)
	assert.True(t, art.Found)
	assert.Equal(t, "1. 一\n2. 二", art.Summary)
	assert.Equal(t, "详细答案", art.Answer)
}

func TestExtract_InterviewMissingKeyPoints(t *testing.T) {
	raw := "```mermaid\ngraph TD\nA-->B\n```\n---参考答案---\n只有答案"
	opts := OptionsFor(CompletionRequest{Task: InterviewTask()})

	art := Extract(raw, opts)
	assert.Empty(t, art.Summary)
	assert.Equal(t, "只有答案", art.Answer)
	assert.NotEmpty(t, art.Warnings)
}

func TestExtract_OtherDialect(t *testing.T) {
	d, ok := LookupDialect("sequence")
	require.True(t, ok)

	art := Extract("sequenceDiagram\n  Alice->>Bob: hi", ExtractOptions{Dialect: d})
	assert.True(t, art.Found)
	assert.True(t, art.Fallback)
	assert.Equal(t, "sequenceDiagram\n  Alice->>Bob: hi", art.DiagramSource)
}

package generator

import (
	"sort"
	"strings"
)

// Dialect describes one diagram flavour the model can be asked to emit.
type Dialect struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	FenceTag  string `json:"fence_tag"`
	Extension string `json:"extension"`
	// Header 是提示词示例里的图定义首行。
	Header string `json:"header"`
	// StartTokens 用于代码块缺失时的兜底识别。
	StartTokens []string `json:"start_tokens"`
}

// OpenMarker returns the fixed opening fence, e.g. "```mermaid".
func (d Dialect) OpenMarker() string {
	return "```" + d.FenceTag
}

// HasStartToken reports whether s begins with one of the dialect's declaration keywords.
func (d Dialect) HasStartToken(s string) bool {
	for _, tok := range d.StartTokens {
		if strings.HasPrefix(s, tok) {
			return true
		}
	}
	return false
}

// containsStartToken reports whether any declaration keyword appears anywhere in s.
func (d Dialect) containsStartToken(s string) bool {
	for _, tok := range d.StartTokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

const defaultDialect = "flowchart"

var dialects = map[string]Dialect{
	"flowchart": {
		Name: "flowchart", Label: "流程图", FenceTag: "mermaid", Extension: ".mmd",
		Header:      "graph TD",
		StartTokens: []string{"graph TD", "graph LR", "graph TB", "graph RL", "graph BT", "flowchart TD", "flowchart LR"},
	},
	"sequence": {
		Name: "sequence", Label: "时序图", FenceTag: "mermaid", Extension: ".mmd",
		Header:      "sequenceDiagram",
		StartTokens: []string{"sequenceDiagram"},
	},
	"class": {
		Name: "class", Label: "类图", FenceTag: "mermaid", Extension: ".mmd",
		Header:      "classDiagram",
		StartTokens: []string{"classDiagram"},
	},
	"state": {
		Name: "state", Label: "状态图", FenceTag: "mermaid", Extension: ".mmd",
		Header:      "stateDiagram-v2",
		StartTokens: []string{"stateDiagram-v2", "stateDiagram"},
	},
	"er": {
		Name: "er", Label: "实体关系图", FenceTag: "mermaid", Extension: ".mmd",
		Header:      "erDiagram",
		StartTokens: []string{"erDiagram"},
	},
	"gantt": {
		Name: "gantt", Label: "甘特图", FenceTag: "mermaid", Extension: ".mmd",
		Header:      "gantt",
		StartTokens: []string{"gantt"},
	},
	"mindmap": {
		Name: "mindmap", Label: "思维导图", FenceTag: "mermaid", Extension: ".mmd",
		Header:      "mindmap",
		StartTokens: []string{"mindmap"},
	},
}

// LookupDialect finds a dialect by name; the empty name means the default flowchart.
func LookupDialect(name string) (Dialect, bool) {
	if strings.TrimSpace(name) == "" {
		name = defaultDialect
	}
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

func DefaultDialect() Dialect {
	return dialects[defaultDialect]
}

// Dialects lists the built-in dialects sorted by name.
func Dialects() []Dialect {
	out := make([]Dialect, 0, len(dialects))
	for _, d := range dialects {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

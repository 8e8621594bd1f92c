package generator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM replays canned replies in order and records the prompts it saw.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []Prompt
}

func (s *scriptedLLM) Complete(_ context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, p)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("script exhausted")
}

func TestNewAgent_RequiresClient(t *testing.T) {
	_, err := NewAgent(nil)
	assert.Error(t, err)
}

func TestAgent_Complete_WrapsPlainErrors(t *testing.T) {
	agent, err := NewAgent(&scriptedLLM{errs: []error{errors.New("dial tcp: refused")}})
	require.NoError(t, err)

	res := agent.Complete(context.Background(), CompletionRequest{SourceText: "x"})
	assert.False(t, res.OK())
	assert.Equal(t, KindTransport, res.Failure.Kind)
	assert.Empty(t, res.RawText)
}

func TestAgent_Complete_KeepsFailureKind(t *testing.T) {
	agent, err := NewAgent(&scriptedLLM{errs: []error{Failf(KindMalformedResponse, "bad json")}})
	require.NoError(t, err)

	res := agent.Complete(context.Background(), CompletionRequest{SourceText: "x"})
	require.NotNil(t, res.Failure)
	assert.Equal(t, KindMalformedResponse, res.Failure.Kind)
}

func TestAgent_Generate_NoArtifact(t *testing.T) {
	agent, err := NewAgent(&scriptedLLM{replies: []string{"sorry, I can't"}})
	require.NoError(t, err)

	art, err := agent.Generate(context.Background(), CompletionRequest{SourceText: "x", Task: DiagramTask(DefaultDialect())})
	assert.Equal(t, KindNoArtifact, KindOf(err))
	assert.Equal(t, "sorry, I can't", art.Diagnostic)
}

func TestSession_ProposeAndRevise(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"```mermaid\ngraph TD\nA-->B(\n```\n---摘要---\n摘要一",
		"```mermaid\ngraph TD\nA-->B\n```\n---摘要---\n摘要二",
	}}
	agent, err := NewAgent(llm)
	require.NoError(t, err)

	req := CompletionRequest{SourceText: "原文", Task: DiagramTask(DefaultDialect()), IncludeSummary: true, CorrectionHint: "stale"}
	sess := NewSession("a.txt", req, agent)
	assert.Empty(t, sess.Request.CorrectionHint)
	assert.Equal(t, "原文", sess.SourceText())

	art, err := sess.Propose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "graph TD\nA-->B(", art.DiagramSource)
	assert.NotContains(t, llm.prompts[0].User, "重要提示")

	_, err = sess.Revise(context.Background(), "Parse error on line 2")
	require.NoError(t, err)
	assert.Contains(t, llm.prompts[1].User, "Parse error on line 2")

	assert.Equal(t, "graph TD\nA-->B", sess.Artifact.DiagramSource)
	assert.Equal(t, "摘要一", sess.Artifact.Summary)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "Parse error on line 2", sess.History[1].Hint)
}

func TestSession_ReviseFailureKeepsPreviousArtifact(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"```mermaid\ngraph TD\nA-->B\n```", "no code"}}
	agent, err := NewAgent(llm)
	require.NoError(t, err)

	sess := NewSession("a.txt", CompletionRequest{SourceText: "x", Task: DiagramTask(DefaultDialect())}, agent)
	_, err = sess.Propose(context.Background())
	require.NoError(t, err)

	_, err = sess.Revise(context.Background(), "boom")
	assert.Equal(t, KindNoArtifact, KindOf(err))
	assert.Equal(t, "graph TD\nA-->B", sess.Artifact.DiagramSource)
	assert.NotEmpty(t, sess.History[1].Err)
}

func TestMockLLM(t *testing.T) {
	agent, err := NewAgent(MockLLM{})
	require.NoError(t, err)

	art, err := agent.Generate(context.Background(), CompletionRequest{SourceText: "x", Task: DiagramTask(DefaultDialect()), IncludeSummary: true})
	require.NoError(t, err)
	assert.NotEmpty(t, art.DiagramSource)
	assert.NotEmpty(t, art.Summary)

	art, err = agent.Generate(context.Background(), CompletionRequest{SourceText: "q", Task: InterviewTask()})
	require.NoError(t, err)
	assert.NotEmpty(t, art.Summary)
	assert.NotEmpty(t, art.Answer)
}

func TestFailure_Is(t *testing.T) {
	err := Failf(KindCredentialMissing, "other message")
	assert.ErrorIs(t, err, ErrCredentialMissing)
	assert.NotErrorIs(t, Failf(KindIO, "x"), ErrCredentialMissing)
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

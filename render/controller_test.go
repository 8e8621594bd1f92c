package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litflow/generator"
)

// fakeRenderer fails with the scripted stderr values in order, then succeeds.
type fakeRenderer struct {
	mu       sync.Mutex
	failures []string
	inputs   []string
	sources  []string
	err      error
}

func (f *fakeRenderer) Render(_ context.Context, in, out string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := os.ReadFile(in)
	f.inputs = append(f.inputs, in)
	f.sources = append(f.sources, string(data))
	if f.err != nil {
		return Result{ExitCode: -1}, f.err
	}
	n := len(f.inputs) - 1
	if n < len(f.failures) {
		return Result{ExitCode: 1, Stderr: f.failures[n]}, nil
	}
	return Result{}, os.WriteFile(out, []byte("png"), 0o644)
}

type fakeRegen struct {
	sources []string
	hints   []string
	err     error
}

func (r *fakeRegen) Revise(_ context.Context, hint string) (generator.Artifact, error) {
	r.hints = append(r.hints, hint)
	if r.err != nil {
		return generator.Artifact{}, r.err
	}
	i := len(r.hints) - 1
	if i >= len(r.sources) {
		return generator.Artifact{}, errors.New("no more sources")
	}
	return generator.Artifact{DiagramSource: r.sources[i], Found: true}, nil
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "temp_*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestController_SucceedsFirstTry(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{}
	c := NewController(r, 2, nil)

	out := c.Run(context.Background(), Job{Name: "a.txt", Source: "graph TD\nA-->B", OutputPath: filepath.Join(dir, "a.png")})
	assert.True(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, filepath.Join(dir, "a.png"), out.ImagePath)
	assert.Equal(t, []State{StateRendering, StateSucceeded}, out.States)
	assert.Equal(t, filepath.Join(dir, "temp_a_1.mmd"), r.inputs[0])
	assertNoTempFiles(t, dir)
}

func TestController_TwoFailuresWithCapTwo(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{failures: []string{"Parse error on line 2", "Parse error on line 5"}}
	regen := &fakeRegen{sources: []string{"graph TD\nA-->C"}}
	c := NewController(r, 2, nil)

	out := c.Run(context.Background(), Job{Name: "a.txt", Source: "graph TD\nA-->B(", OutputPath: filepath.Join(dir, "a.png"), Regen: regen})
	assert.False(t, out.Succeeded)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, "Parse error on line 5", out.Diagnostic)
	assert.Equal(t, []State{StateRendering, StateRetryPending, StateRendering, StateFailed}, out.States)
	assert.Empty(t, out.ImagePath)

	require.Len(t, regen.hints, 1)
	assert.Equal(t, "mermaid-cli 错误: Parse error on line 2", regen.hints[0])
	assert.Equal(t, []string{"graph TD\nA-->B(", "graph TD\nA-->C"}, r.sources)
	assertNoTempFiles(t, dir)
}

func TestController_RetrySucceeds(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{failures: []string{"bad"}}
	regen := &fakeRegen{sources: []string{"graph TD\nA-->C"}}
	c := NewController(r, 2, nil)

	out := c.Run(context.Background(), Job{Name: "a", Source: "graph TD\nA-->B(", OutputPath: filepath.Join(dir, "a.png"), Regen: regen})
	assert.True(t, out.Succeeded)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, "graph TD\nA-->C", out.Source)
	assertNoTempFiles(t, dir)
}

func TestController_AttemptsNeverExceedCap(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 5} {
		dir := t.TempDir()
		r := &fakeRenderer{failures: []string{"e", "e", "e", "e", "e", "e", "e"}}
		regen := &fakeRegen{sources: []string{"s", "s", "s", "s", "s", "s"}}
		c := NewController(r, limit, nil)

		out := c.Run(context.Background(), Job{Source: "graph TD", OutputPath: filepath.Join(dir, "x.png"), Regen: regen})
		assert.False(t, out.Succeeded)
		assert.Equal(t, limit, out.Attempts)
		assert.Len(t, r.inputs, limit)
		assert.Equal(t, StateFailed, out.States[len(out.States)-1])
		assertNoTempFiles(t, dir)
	}
}

func TestController_NoRegeneratorFailsAfterFirstAttempt(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{failures: []string{"boom"}}
	c := NewController(r, 3, nil)

	out := c.Run(context.Background(), Job{Source: "graph TD", OutputPath: filepath.Join(dir, "x.png")})
	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "boom", out.Diagnostic)
}

func TestController_RegenerationFailureKeepsLastDiagnostic(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{failures: []string{"boom"}}
	regen := &fakeRegen{err: generator.Failf(generator.KindNoArtifact, "nothing")}
	c := NewController(r, 2, nil)

	out := c.Run(context.Background(), Job{Source: "graph TD", OutputPath: filepath.Join(dir, "x.png"), Regen: regen})
	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "boom", out.Diagnostic)
	assert.Equal(t, []State{StateRendering, StateRetryPending, StateFailed}, out.States)
}

func TestController_MissingRendererFailsFast(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{err: ErrRendererMissing}
	regen := &fakeRegen{sources: []string{"s"}}
	c := NewController(r, 2, nil)

	out := c.Run(context.Background(), Job{Source: "graph TD", OutputPath: filepath.Join(dir, "x.png"), Regen: regen})
	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, regen.hints)
	assertNoTempFiles(t, dir)
}

// exitZeroNoOutput exits cleanly but never writes the image.
type exitZeroNoOutput struct{}

func (exitZeroNoOutput) Render(context.Context, string, string) (Result, error) {
	return Result{}, nil
}

func TestController_ExitZeroWithoutOutputIsFailure(t *testing.T) {
	dir := t.TempDir()
	c := NewController(exitZeroNoOutput{}, 1, nil)

	out := c.Run(context.Background(), Job{Source: "graph TD", OutputPath: filepath.Join(dir, "x.png")})
	assert.False(t, out.Succeeded)
	assert.Contains(t, out.Diagnostic, "x.png")
}

func TestController_StaleOutputDoesNotCountAsSuccess(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "x.png")
	require.NoError(t, os.WriteFile(outPath, []byte("old"), 0o644))

	c := NewController(exitZeroNoOutput{}, 1, nil)
	out := c.Run(context.Background(), Job{Source: "graph TD", OutputPath: outPath})
	assert.False(t, out.Succeeded)
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "mmdc.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestMMDC_ScriptRenderer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	dir := t.TempDir()
	script := writeScript(t, dir, `while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then shift; printf 'png' > "$1"; fi
  shift
done
`)
	c := NewController(NewMMDC(MMDCOptions{Path: script}), 2, nil)

	out := c.Run(context.Background(), Job{Source: "graph TD\nA-->B", OutputPath: filepath.Join(dir, "flow.png")})
	require.True(t, out.Succeeded, out.Diagnostic)
	info, err := os.Stat(filepath.Join(dir, "flow.png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assertNoTempFiles(t, dir)
}

func TestMMDC_ScriptRendererFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	dir := t.TempDir()
	script := writeScript(t, dir, "echo 'Parse error on line 2' >&2\nexit 1\n")
	m := NewMMDC(MMDCOptions{Path: script})

	res, err := m.Render(context.Background(), filepath.Join(dir, "in.mmd"), filepath.Join(dir, "out.png"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "Parse error on line 2")
}

func TestMMDC_MissingBinary(t *testing.T) {
	m := NewMMDC(MMDCOptions{Path: filepath.Join(t.TempDir(), "does-not-exist")})

	_, err := m.Render(context.Background(), "in.mmd", "out.png")
	assert.ErrorIs(t, err, ErrRendererMissing)
}

func TestMMDC_Args(t *testing.T) {
	m := NewMMDC(MMDCOptions{Path: "mmdc"})
	assert.Equal(t, []string{
		"-i", "in.mmd", "-o", "out.png", "-t", "default",
		"--backgroundColor", "white", "--width", "2000", "--height", "1500", "--scale", "3",
	}, m.Args("in.mmd", "out.png"))
}

func TestNewMMDC_PathFromEnv(t *testing.T) {
	t.Setenv("MMDC_PATH", "/opt/mmdc")
	assert.Equal(t, "/opt/mmdc", NewMMDC(MMDCOptions{}).Path())
	assert.Equal(t, "/x/mmdc", NewMMDC(MMDCOptions{Path: "/x/mmdc"}).Path())
}

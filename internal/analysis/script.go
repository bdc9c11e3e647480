package analysis

import (
	"context"
	"sync"
)

// ScriptClient is a deterministic Client for testing and offline runs. Each
// stage replays a fixed script of responses in order, repeating the last entry
// once the script is exhausted. It also counts calls so tests can assert how
// many model invocations a pipeline run performed.
type ScriptClient struct {
	mu          sync.Mutex
	quickScript []ScriptStep
	deepScript  []ScriptStep
	quickCalls  int
	deepCalls   int
}

// ScriptStep is one scripted model response.
type ScriptStep struct {
	Response string
	Err      error
}

// NewScriptClient creates a client that replays the given scripts.
func NewScriptClient(quick, deep []ScriptStep) *ScriptClient {
	return &ScriptClient{quickScript: quick, deepScript: deep}
}

func (c *ScriptClient) QuickClassify(_ context.Context, _, _, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := stepAt(c.quickScript, c.quickCalls)
	c.quickCalls++
	return step.Response, step.Err
}

func (c *ScriptClient) DeepAnalyze(_ context.Context, _, _, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := stepAt(c.deepScript, c.deepCalls)
	c.deepCalls++
	return step.Response, step.Err
}

// QuickCalls returns how many quick-classification calls were made.
func (c *ScriptClient) QuickCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quickCalls
}

// DeepCalls returns how many deep-analysis calls were made.
func (c *ScriptClient) DeepCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deepCalls
}

func stepAt(script []ScriptStep, i int) ScriptStep {
	if len(script) == 0 {
		return ScriptStep{}
	}
	if i >= len(script) {
		return script[len(script)-1]
	}
	return script[i]
}

var _ Client = (*ScriptClient)(nil)

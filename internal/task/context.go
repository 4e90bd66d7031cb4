package task

import (
	"context"
	"maps"
	"sync"
	"time"
)

// ExecutionContext is the mutable state of one execution. It is created by
// the orchestrator, owned exclusively by it and passed to conditions and
// executors for the duration of the attempt loop.
type ExecutionContext struct {
	ID         string
	TaskID     string
	TaskType   TaskType
	StartTime  time.Time
	RetryCount int
	LastError  error
	Token      *Token

	mu       sync.Mutex
	metadata map[string]any
}

// NewExecutionContext builds a context seeded with a copy of the task metadata.
func NewExecutionContext(executionID string, cfg TaskConfig, tok *Token) *ExecutionContext {
	md := make(map[string]any, len(cfg.Metadata))
	maps.Copy(md, cfg.Metadata)
	return &ExecutionContext{
		ID:        executionID,
		TaskID:    cfg.ID,
		TaskType:  cfg.Type,
		StartTime: time.Now(),
		Token:     tok,
		metadata:  md,
	}
}

// Get returns a metadata value.
func (c *ExecutionContext) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// GetString returns a metadata value as a string, or "" when absent or not a string.
func (c *ExecutionContext) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set stores a metadata value. Executors use this to pass data between
// attempts and to post-conditions.
func (c *ExecutionContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns a copy of the metadata map.
func (c *ExecutionContext) Metadata() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.metadata)
}

// SetProgress forwards a completion fraction to the token.
func (c *ExecutionContext) SetProgress(f float64) {
	c.Token.SetProgress(f)
}

// Checkpoint is a cooperative suspension point for executors.
func (c *ExecutionContext) Checkpoint(ctx context.Context) error {
	return c.Token.Checkpoint(ctx)
}

// Elapsed returns the time since the execution started.
func (c *ExecutionContext) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

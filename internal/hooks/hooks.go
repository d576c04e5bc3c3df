// Package hooks provides lifecycle observers for the tool surface.
// Observers run outside the payment critical path; a slow or failing
// observer can never block or fail money movement.
package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// maxResultPreview bounds how much tool output observers see.
const maxResultPreview = 200

// ToolCall describes one tool invocation.
type ToolCall struct {
	Tool      string
	SessionID string
	Args      map[string]any
	StartedAt time.Time
}

// ToolResult describes a completed tool invocation.
type ToolResult struct {
	ToolCall
	Preview  string // truncated result text
	IsError  bool
	Duration time.Duration
}

// Observer receives tool lifecycle events.
type Observer interface {
	ToolStart(ctx context.Context, call ToolCall)
	ToolEnd(ctx context.Context, result ToolResult)
}

// Registry fans events out to observers.
type Registry struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewRegistry(observers ...Observer) *Registry {
	return &Registry{observers: observers}
}

// Add registers another observer.
func (r *Registry) Add(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) ToolStart(ctx context.Context, call ToolCall) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		o.ToolStart(ctx, call)
	}
}

func (r *Registry) ToolEnd(ctx context.Context, result ToolResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		o.ToolEnd(ctx, result)
	}
}

// Preview truncates tool output for observer consumption.
func Preview(s string) string {
	if len(s) > maxResultPreview {
		return s[:maxResultPreview]
	}
	return s
}

// LogObserver writes lifecycle events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) ToolStart(ctx context.Context, call ToolCall) {
	l.logger.InfoContext(ctx, "tool call started",
		"tool", call.Tool,
		"session_id", call.SessionID)
}

func (l *LogObserver) ToolEnd(ctx context.Context, result ToolResult) {
	l.logger.InfoContext(ctx, "tool call finished",
		"tool", result.Tool,
		"session_id", result.SessionID,
		"error", result.IsError,
		"duration_ms", result.Duration.Milliseconds(),
		"result", result.Preview)
}

// MemoryObserver keeps recent events in memory, newest last. Useful in
// tests and for a debug endpoint.
type MemoryObserver struct {
	mu      sync.Mutex
	limit   int
	Started []ToolCall
	Ended   []ToolResult
}

func NewMemoryObserver(limit int) *MemoryObserver {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryObserver{limit: limit}
}

func (m *MemoryObserver) ToolStart(ctx context.Context, call ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, call)
	if len(m.Started) > m.limit {
		m.Started = m.Started[len(m.Started)-m.limit:]
	}
}

func (m *MemoryObserver) ToolEnd(ctx context.Context, result ToolResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ended = append(m.Ended, result)
	if len(m.Ended) > m.limit {
		m.Ended = m.Ended[len(m.Ended)-m.limit:]
	}
}

// Events returns copies of the recorded events.
func (m *MemoryObserver) Events() ([]ToolCall, []ToolResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	started := append([]ToolCall(nil), m.Started...)
	ended := append([]ToolResult(nil), m.Ended...)
	return started, ended
}

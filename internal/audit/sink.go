package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/go-logr/logr"
)

// Sink receives delivered events. Emit is called from the dispatcher's
// goroutine only.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a reader through a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.w == nil {
		return
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	_, _ = s.w.Write(line)
	s.mu.Unlock()
}

// LogSink writes events as structured log lines at the given verbosity.
type LogSink struct {
	logger logr.Logger
	level  int
}

func NewLogSink(logger logr.Logger, level int) LogSink {
	return LogSink{logger: logger.WithName("audit"), level: level}
}

func (s LogSink) Emit(_ context.Context, event Event) {
	kv := []any{"success", event.Success}
	for _, f := range []struct{ k, v string }{
		{"user", event.UserID},
		{"cycle", event.CycleID},
		{"method", event.Method},
		{"host", event.Host},
		{"error", event.Error},
	} {
		if f.v != "" {
			kv = append(kv, f.k, f.v)
		}
	}
	if event.Status != 0 {
		kv = append(kv, "status", event.Status)
	}
	s.logger.V(s.level).Info(event.EventType, kv...)
}

// MultiSink fans each event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

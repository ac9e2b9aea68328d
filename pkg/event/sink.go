package event

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Sink receives events. Emit must not block the caller for long and never
// reports failure; delivery is best effort.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, evt Event)

func (f SinkFunc) Emit(ctx context.Context, evt Event) {
	f(ctx, evt)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// LogSink writes events to logrus. Shell output is logged at trace level
// only.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, evt Event) {
	entry := logrus.WithFields(logrus.Fields{
		"stage": evt.Stage,
		"event": evt.Name,
	})
	if evt.Session != "" {
		entry = entry.WithField("session", evt.Session)
	}

	switch evt.Name {
	case Error:
		entry.Error(evt.Value)
	case ShellOutput:
		entry.Tracef("%d bytes", len(evt.Data))
	default:
		entry.Debug(evt.Value)
	}
}

type multiSink []Sink

func (m multiSink) Emit(ctx context.Context, evt Event) {
	for _, s := range m {
		s.Emit(ctx, evt)
	}
}

// Multi fans an event out to every non-nil sink in order
func Multi(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if r, ok := s.(*Reporter); ok && r == nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

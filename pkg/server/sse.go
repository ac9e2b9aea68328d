package server

import (
	"context"
	"encoding/json"
	"net/http"

	"sshstudio/pkg/event"

	"github.com/sirupsen/logrus"
	"github.com/tmaxmax/go-sse"
)

// SSE message types used by the exec stream
const (
	sseTypeOut  = "out"
	sseTypeErr  = "error"
	sseTypeDone = "done"

	// TopicAll carries every session event
	TopicAll = "events"
)

type topicKeyType string

const sseTopicKey topicKeyType = "sseTopicKey"

// EventStream publishes session events to SSE subscribers. Subscribers pick
// a topic with ?topic=<id>; without one they receive every event. It is an
// event.Sink.
type EventStream struct {
	server *sse.Server
}

// NewEventStream creates an EventStream with no subscribers.
func NewEventStream() *EventStream {
	return &EventStream{
		server: &sse.Server{
			OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
				topic := TopicAll
				if t, ok := r.Context().Value(sseTopicKey).(string); ok && t != "" {
					topic = t
				} else if t := r.URL.Query().Get("topic"); t != "" {
					topic = t
				}
				// go-sse sends headers with the first message; subscribers
				// need them before anything is published.
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				if err := http.NewResponseController(w).Flush(); err != nil {
					logrus.Warnf("sse: failed to flush headers: %v", err)
					return nil, false
				}
				return []string{topic}, true
			},
		},
	}
}

func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.ServeHTTP(w, r)
}

func (s *EventStream) publish(msgType, data string, topics ...string) {
	msg := &sse.Message{}
	msg.AppendData(data)
	msg.Type = sse.Type(msgType)

	if err := s.server.Publish(msg, topics...); err != nil {
		logrus.Warnf("sse: failed to publish message: %v", err)
	}
}

// Emit publishes evt as JSON to TopicAll and, when it carries a session id,
// to that id's topic. The SSE event type is the event name.
func (s *EventStream) Emit(_ context.Context, evt event.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		logrus.Warnf("sse: failed to encode event: %v", err)
		return
	}

	topics := []string{TopicAll}
	if evt.Session != "" {
		topics = append(topics, evt.Session)
	}
	s.publish(string(evt.Name), string(data), topics...)
}

// Shutdown disconnects every subscriber.
func (s *EventStream) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

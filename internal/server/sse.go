package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/lmstream/chatd/internal/session"
)

// eventStream adapts an http.ResponseWriter into a session.Sink writing
// server-sent events. Headers are written lazily on the first Send so a
// handler can still reply with a plain JSON error for requests that are
// rejected before streaming starts.
type eventStream struct {
	w       http.ResponseWriter
	r       *http.Request
	once    sync.Once
	started bool
}

func newEventStream(w http.ResponseWriter, r *http.Request) *eventStream {
	return &eventStream{w: w, r: r}
}

// Started reports whether the SSE response has begun. Once true, the handler
// must not write any non-SSE response.
func (s *eventStream) Started() bool {
	return s.started
}

// Send writes one "data: {json}" frame and flushes it. A request context
// cancellation or a write failure is reported as session.ErrClientGone so the
// session takes its abort path.
func (s *eventStream) Send(ev session.Event) error {
	if err := s.r.Context().Err(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrClientGone, err)
	}

	s.once.Do(func() {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	})

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("%w: %v", session.ErrClientGone, err)
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

var _ session.Sink = (*eventStream)(nil)

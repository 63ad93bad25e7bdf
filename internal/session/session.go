// Package session drives one streaming generation call per chat request.
//
// DESIGN: The session is the only stateful part of the request path. It owns
// the Idle → Streaming → {Completed, Aborted, Failed} machine, forwards
// fragments to the client in backend order, and commits the accumulated
// response to history according to how the stream ended:
//
//   - Completed (clean end of stream): commit if any output was produced and
//     send one done event with the full text.
//   - Aborted (client disconnected mid-stream): stop consuming, send nothing
//     further, but still commit partial output so generated work is not lost.
//   - Failed (backend error): send one error event, never commit.
//
// Disconnection is signaled structurally: the sink returns ErrClientGone.
// Error text is never inspected to classify a failure.
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lmstream/chatd/internal/backend"
	"github.com/lmstream/chatd/internal/history"
	"github.com/lmstream/chatd/internal/monitoring"
	"github.com/lmstream/chatd/internal/prompt"
)

// State of the generation session.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

var (
	// ErrClientGone is returned by a Sink when the client can no longer
	// receive events. It selects the Aborted termination path.
	ErrClientGone = errors.New("client disconnected")

	// ErrBusy rejects a chat request while another generation is streaming.
	ErrBusy = errors.New("a generation is already in progress")

	// ErrEmptyMessage rejects a chat request without a message.
	ErrEmptyMessage = errors.New("no message provided")
)

// Event is one unit of the chat response stream.
type Event struct {
	Content      string `json:"content,omitempty"`
	Done         bool   `json:"done,omitempty"`
	FullResponse string `json:"full_response,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ContentEvent carries one generation fragment.
func ContentEvent(fragment string) Event { return Event{Content: fragment} }

// DoneEvent terminates a completed stream with the full accumulated text.
func DoneEvent(full string) Event { return Event{Done: true, FullResponse: full} }

// ErrorEvent terminates a failed stream.
func ErrorEvent(msg string) Event { return Event{Error: msg} }

// Sink receives events in forwarding order. Send returns an error wrapping
// ErrClientGone once the client is unreachable; the session treats any send
// failure as a disconnect, since nothing can reach the client either way.
type Sink interface {
	Send(Event) error
}

// Config wires the session's collaborators.
type Config struct {
	SystemContext string
	MaxTurns      int
	// TokenCount estimates prompt tokens for logging and metrics. Optional;
	// a bytes/4 heuristic is used when nil.
	TokenCount func(string) int
	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// Session is the single-conversation generation state machine. One Session
// exists per process; at most one Run streams at a time.
type Session struct {
	gen  backend.Generator
	hist *history.Store
	cfg  Config

	mu    sync.Mutex
	state State
}

// New creates an idle session.
func New(gen backend.Generator, hist *history.Store, cfg Config) *Session {
	return &Session{gen: gen, hist: hist, cfg: cfg, state: StateIdle}
}

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes one chat request: append the user turn, build the prompt,
// stream fragments to sink, and commit per the termination path. It returns
// the terminal state reached; the session itself is back to Idle on return.
// ErrBusy is returned without any state mutation if a stream is in flight.
func (s *Session) Run(ctx context.Context, message string, sink Sink) (State, error) {
	if strings.TrimSpace(message) == "" {
		return StateIdle, ErrEmptyMessage
	}
	if !s.begin() {
		return StateIdle, ErrBusy
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveStreams.Inc()
	}
	state, err := s.stream(ctx, message, sink)
	s.finish(state)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveStreams.Dec()
		s.cfg.Metrics.StreamOutcomes.WithLabelValues(string(state)).Inc()
	}
	return state, err
}

// begin transitions Idle → Streaming, refusing a concurrent run.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStreaming {
		return false
	}
	s.state = StateStreaming
	return true
}

// finish returns the machine to Idle; the terminal state reached is reported
// to the caller, not stored.
func (s *Session) finish(State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}

func (s *Session) stream(ctx context.Context, message string, sink Sink) (State, error) {
	s.hist.Append(history.Turn{Role: history.RoleUser, Content: message})
	s.hist.EnforceBound(s.cfg.MaxTurns)

	prior := s.hist.SnapshotExcludingLast()
	p := prompt.Build(s.cfg.SystemContext, prior, message)

	tokens := s.estimateTokens(p)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.PromptTokens.Observe(float64(tokens))
	}
	log.Debug().
		Int("prior_turns", len(prior)).
		Int("prompt_tokens", tokens).
		Msg("generation starting")

	stream, err := s.gen.Generate(ctx, p)
	if err != nil {
		log.Error().Err(err).Msg("failed to open generation stream")
		s.sendError(sink, err)
		return StateFailed, err
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		fragment, err := stream.Next()
		if err == io.EOF {
			return s.complete(sink, buf.String()), nil
		}
		if err != nil {
			log.Error().Err(err).Int("partial_len", buf.Len()).Msg("generation stream failed")
			s.sendError(sink, err)
			return StateFailed, err
		}
		if fragment == "" {
			continue
		}
		buf.WriteString(fragment)
		if serr := sink.Send(ContentEvent(fragment)); serr != nil {
			return s.abort(buf.String()), nil
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.FragmentsForwarded.Inc()
		}
	}
}

// complete handles a clean end of stream with the client still connected.
func (s *Session) complete(sink Sink, full string) State {
	if full == "" {
		log.Warn().Msg("generation produced no output")
		return StateCompleted
	}
	s.hist.Append(history.Turn{Role: history.RoleAssistant, Content: full})
	if err := sink.Send(DoneEvent(full)); err != nil {
		// The response is already committed; the client just missed the tail.
		log.Debug().Msg("client disconnected before done event")
	}
	return StateCompleted
}

// abort handles a client disconnect detected while forwarding. Partial output
// already generated is preserved in history.
func (s *Session) abort(partial string) State {
	if partial != "" {
		s.hist.Append(history.Turn{Role: history.RoleAssistant, Content: partial})
	}
	log.Info().Int("partial_len", len(partial)).Msg("client disconnected, generation aborted")
	return StateAborted
}

// sendError forwards an error event, best effort.
func (s *Session) sendError(sink Sink, cause error) {
	if err := sink.Send(ErrorEvent(cause.Error())); err != nil {
		log.Debug().Msg("client disconnected before error event")
	}
}

func (s *Session) estimateTokens(p string) int {
	if s.cfg.TokenCount != nil {
		return s.cfg.TokenCount(p)
	}
	return len(p) / 4
}

// Package relay forwards a knowledge base answer stream to a client as text deltas.
//
// A request goes through two phases. Open performs every check and the upstream
// call, so its failures can still be reported as a plain error response. Forward
// then drains the upstream records into a Sink; once it has started, failures can
// only be signalled by abandoning the transport.
package relay

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gita-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gita-chat/backend/internal/service/knowledge"
)

var (
	ErrKnowledgeBaseNotConfigured = errors.New("Knowledge base ID is not configured. Please set AWS_BEDROCK_KNOWLEDGE_BASE_ID in your environment variables.")
	ErrEmptyConversation          = errors.New("messages must not be empty")
)

// UpstreamError marks a failure of the knowledge base call itself.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream is the retrieve-and-generate collaborator.
type Upstream interface {
	RetrieveAndGenerateStream(ctx context.Context, req knowledge.Request) (*knowledge.Response, error)
}

// Sessions maps client session ids to upstream sessions.
type Sessions interface {
	UpstreamID(ctx context.Context, sessionID string) string
	BindUpstream(ctx context.Context, sessionID, upstreamID string) error
	DeleteSession(ctx context.Context, sessionID string) bool
}

// Sink receives the normalized stream.
type Sink interface {
	Delta(text string) error
	Done() error
}

// Options configures a Relay.
type Options struct {
	KnowledgeBaseID string
	FallbackMessage string
}

// Relay turns chat requests into upstream calls.
type Relay struct {
	upstream Upstream
	sessions Sessions
	opts     Options
}

// New creates a Relay. upstream may be nil when the knowledge base client could
// not be built; sessions may be nil to disable upstream session continuity.
func New(upstream Upstream, sessions Sessions, opts Options) *Relay {
	return &Relay{upstream: upstream, sessions: sessions, opts: opts}
}

// Open validates the request and starts the upstream stream.
func (r *Relay) Open(ctx context.Context, req chat.Request) (*Stream, error) {
	query, ok := req.Query()
	if !ok {
		return nil, ErrEmptyConversation
	}

	if r.opts.KnowledgeBaseID == "" {
		return nil, ErrKnowledgeBaseNotConfigured
	}
	if r.upstream == nil {
		return nil, &UpstreamError{Err: errors.New("knowledge base client unavailable")}
	}

	logger := log.With().Str("session", req.SessionID).Logger()
	logger.Info().
		Str("knowledge_base", r.opts.KnowledgeBaseID).
		Int("turns", len(req.Messages)).
		Str("query", query).
		Msg("processing chat request")

	upstreamSession := r.upstreamSession(ctx, req.SessionID)
	resp, err := r.upstream.RetrieveAndGenerateStream(ctx, knowledge.Request{
		Query:     query,
		SessionID: upstreamSession,
	})
	if err != nil {
		if upstreamSession != "" {
			r.sessions.DeleteSession(ctx, req.SessionID)
		}
		return nil, &UpstreamError{Err: err}
	}
	if resp == nil || resp.Stream == nil {
		return nil, &UpstreamError{Err: knowledge.ErrNoStream}
	}

	if r.sessions != nil && req.SessionID != "" && resp.SessionID != "" {
		if err := r.sessions.BindUpstream(ctx, req.SessionID, resp.SessionID); err != nil {
			logger.Warn().Err(err).Msg("failed to bind upstream session")
		}
	}

	return &Stream{
		reader:   resp.Stream,
		fallback: r.opts.FallbackMessage,
		logger:   logger,
	}, nil
}

func (r *Relay) upstreamSession(ctx context.Context, sessionID string) string {
	if r.sessions == nil || sessionID == "" {
		return ""
	}
	return r.sessions.UpstreamID(ctx, sessionID)
}

// ForgetSession discards upstream state bound to the session.
func (r *Relay) ForgetSession(ctx context.Context, sessionID string) bool {
	if r.sessions == nil || sessionID == "" {
		return false
	}
	return r.sessions.DeleteSession(ctx, sessionID)
}

// Stream is an open upstream answer.
type Stream struct {
	reader   *schema.StreamReader[knowledge.Record]
	fallback string
	logger   zerolog.Logger
}

// Forward writes every text delta to sink in upstream order, then the fallback
// message if no text was produced, then the terminal marker. It returns an error
// without calling sink.Done when the upstream stream or the sink fails.
func (s *Stream) Forward(sink Sink) error {
	defer s.reader.Close()

	var full strings.Builder
	for {
		rec, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error().Err(err).Int("bytes_sent", full.Len()).Msg("upstream stream failed")
			return errors.Wrap(err, "upstream stream")
		}

		ev := knowledge.Classify(rec)
		switch {
		case ev.Err != nil:
			s.logger.Warn().Err(ev.Err).Msg("skipping chunk")
		case ev.Emits():
			full.WriteString(ev.Text)
			if err := sink.Delta(ev.Text); err != nil {
				return errors.Wrap(err, "write delta")
			}
		case ev.Kind == knowledge.KindRetrievalMetadata:
			s.logger.Debug().RawJSON("retrieval", ev.Metadata).Msg("retrieval result")
		case ev.Kind == knowledge.KindUnknown:
			s.logger.Debug().Strs("keys", ev.Keys).Msg("unknown event type")
		}
	}

	if full.Len() == 0 {
		s.logger.Warn().Msg("no response text was generated from knowledge base")
		if err := sink.Delta(s.fallback); err != nil {
			return errors.Wrap(err, "write fallback")
		}
	}

	if err := sink.Done(); err != nil {
		return errors.Wrap(err, "write done")
	}
	s.logger.Info().Int("bytes", full.Len()).Msg("stream completed")
	return nil
}

// Close releases the upstream stream without forwarding it.
func (s *Stream) Close() {
	s.reader.Close()
}

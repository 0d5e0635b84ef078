package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/gita-chat/backend/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Service keeps the mapping from client session ids to upstream knowledge base sessions.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	now      func() time.Time
}

// NewService bootstraps the in-memory session store. State lives for the process lifetime.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BindUpstream records the upstream session id for a client session.
func (s *Service) BindUpstream(_ context.Context, sessionID, upstreamID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if upstreamID == "" {
		return nil
	}

	s.mu.Lock()
	s.sessions[sessionID] = chat.Session{
		ID:         sessionID,
		UpstreamID: upstreamID,
		UpdatedAt:  s.now(),
	}
	s.mu.Unlock()

	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// UpstreamID returns the bound upstream session id, or "" when none is known.
func (s *Service) UpstreamID(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return ""
	}
	return session.UpstreamID
}

// DeleteSession discards any state kept for the session. Unknown ids are not an error.
func (s *Service) DeleteSession(_ context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return false
	}
	delete(s.sessions, sessionID)
	return true
}

// Len returns the number of tracked sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

package core

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	sessionContextKey = "session"
	sessionCookieAge  = 365 * 24 * 60 * 60
)

// Session is the attendee identity of one browser and the set of events it has confirmed.
type Session struct {
	ID        string
	confirmed map[string]struct{}
	// tracked is false when the confirmations could not be resolved, so the store is left alone
	// and the next request rebuilds the session.
	tracked bool
}

func NewSession(id string, eventIDs ...string) *Session {
	s := &Session{ID: id, confirmed: make(map[string]struct{}, len(eventIDs)), tracked: true}
	for _, eventID := range eventIDs {
		s.confirmed[eventID] = struct{}{}
	}

	return s
}

func (s *Session) Has(eventID string) bool {
	_, ok := s.confirmed[eventID]
	return ok
}

func (s *Session) Add(eventID string) {
	s.confirmed[eventID] = struct{}{}
}

func (s *Session) Remove(eventID string) {
	delete(s.confirmed, eventID)
}

// EventIDs returns the confirmed event ids in a stable order.
func (s *Session) EventIDs() []string {
	ids := make([]string, 0, len(s.confirmed))
	for id := range s.confirmed {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// SessionStore persists the confirmed set of each session between requests. Load reports false
// when the id is unknown or its set is empty. Save merges a rebuilt session into the store, while
// Add and Remove change one member so concurrent requests of the same session never overwrite
// each other.
type SessionStore interface {
	Load(ctx context.Context, id string) (*Session, bool, error)
	Save(ctx context.Context, session *Session) error
	Add(ctx context.Context, id string, eventID string) error
	Remove(ctx context.Context, id string, eventID string) error
}

/*
 * Redis
 */

type redisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient) SessionStore {
	return &redisSessionStore{client: client, prefix: "session:"}
}

func (s *redisSessionStore) Load(ctx context.Context, id string) (*Session, bool, error) {
	eventIDs, err := s.client.SMembers(ctx, s.prefix+id).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}

	// redis drops empty sets
	if len(eventIDs) == 0 {
		return nil, false, nil
	}

	return NewSession(id, eventIDs...), true, nil
}

// Sessions never expire.
func (s *redisSessionStore) Save(ctx context.Context, session *Session) error {
	eventIDs := session.EventIDs()
	if len(eventIDs) == 0 {
		return nil
	}

	members := make([]any, 0, len(eventIDs))
	for _, id := range eventIDs {
		members = append(members, id)
	}

	err := s.client.SAdd(ctx, s.prefix+session.ID, members...).Err()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (s *redisSessionStore) Add(ctx context.Context, id string, eventID string) error {
	err := s.client.SAdd(ctx, s.prefix+id, eventID).Err()
	if err != nil {
		return fmt.Errorf("failed to add to session: %w", err)
	}

	return nil
}

func (s *redisSessionStore) Remove(ctx context.Context, id string, eventID string) error {
	err := s.client.SRem(ctx, s.prefix+id, eventID).Err()
	if err != nil {
		return fmt.Errorf("failed to remove from session: %w", err)
	}

	return nil
}

/*
 * Memory
 */

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}
}

func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: make(map[string]map[string]struct{})}
}

func (s *memorySessionStore) Load(_ context.Context, id string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}

	session := NewSession(id)
	for eventID := range members {
		session.Add(eventID)
	}

	return session, true, nil
}

func (s *memorySessionStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, eventID := range session.EventIDs() {
		s.add(session.ID, eventID)
	}

	return nil
}

func (s *memorySessionStore) Add(_ context.Context, id string, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.add(id, eventID)

	return nil
}

func (s *memorySessionStore) Remove(_ context.Context, id string, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sessions[id]
	if !ok {
		return nil
	}

	delete(members, eventID)
	if len(members) == 0 {
		delete(s.sessions, id)
	}

	return nil
}

func (s *memorySessionStore) add(id string, eventID string) {
	members, ok := s.sessions[id]
	if !ok {
		members = make(map[string]struct{})
		s.sessions[id] = members
	}

	members[eventID] = struct{}{}
}

/*
 * Middleware
 */

// SessionMiddleware resolves the caller's session from its cookie, issuing a new identifier when
// the cookie is absent, and makes it available to handlers through SessionFrom.
func SessionMiddleware(attendance Attendance, cookieName string) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		ctx := gctx.Request.Context()

		id, err := gctx.Cookie(cookieName)
		if err != nil || id == "" {
			id = uuid.NewString()
			gctx.SetSameSite(http.SameSiteLaxMode)
			gctx.SetCookie(cookieName, id, sessionCookieAge, "/", "", false, true)

			log.Ctx(ctx).Debug().Str("component", "session").Str("session", id).Msg("session issued")
		}

		gctx.Set(sessionContextKey, attendance.Session(ctx, id))
		gctx.Next()
	}
}

func SessionFrom(gctx *gin.Context) (*Session, bool) {
	value, ok := gctx.Get(sessionContextKey)
	if !ok {
		return nil, false
	}

	session, ok := value.(*Session)

	return session, ok
}

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

const DefaultSessionTTL = 30 * time.Minute

// Action is a client-side instruction produced by a submission, e.g. copying
// the review to the clipboard or opening the review page.
type Action struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

const (
	ActionCopyToClipboard = "copy_to_clipboard"
	ActionOpenURL         = "open_url"
)

// ActionRecorder implements SubmitEffects for remote clients: instead of
// touching a clipboard it records what the browser should do.
type ActionRecorder struct {
	Actions []Action
}

func (r *ActionRecorder) CopyToClipboard(text string) error {
	r.Actions = append(r.Actions, Action{Type: ActionCopyToClipboard, Value: text})
	return nil
}

func (r *ActionRecorder) OpenURL(url string) error {
	r.Actions = append(r.Actions, Action{Type: ActionOpenURL, Value: url})
	return nil
}

// SessionResult is a submission outcome plus the recorded client actions.
type SessionResult struct {
	Response *SurveyResponse `json:"response"`
	Branch   Branch          `json:"branch"`
	Message  string          `json:"message"`
	Actions  []Action        `json:"actions"`
}

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
}

// SessionService keeps in-progress sessions in memory. Abandoned sessions
// expire after ttl of inactivity; nothing about them is persisted.
type SessionService struct {
	settings  *SettingsService
	responses ResponseSubmitter
	generator ReviewGenerator
	ttl       time.Duration
	now       func() time.Time
	idGen     func() string

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func NewSessionService(settings *SettingsService, responses ResponseSubmitter, generator ReviewGenerator, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{
		settings:  settings,
		responses: responses,
		generator: generator,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
		sessions:  map[string]*sessionEntry{},
	}
}

// Start creates a session from the current settings snapshot and moves it to
// the first question.
func (s *SessionService) Start(ctx context.Context) (SessionView, error) {
	doc := s.settings.Current(ctx)
	sess, err := NewSession(s.idGen(), doc)
	if err != nil {
		return SessionView{}, NewInvalidError(err.Error())
	}
	if err := sess.Start(); err != nil {
		return SessionView{}, err
	}
	s.mu.Lock()
	s.sweepLocked()
	s.sessions[sess.ID] = &sessionEntry{session: sess, lastSeen: s.now()}
	s.mu.Unlock()
	return sess.View(), nil
}

func (s *SessionService) Get(id string) (SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	return sess.View(), nil
}

func (s *SessionService) Answer(id string, a Answer) (SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.Answer(a); err != nil {
		return sess.View(), err
	}
	return sess.View(), nil
}

func (s *SessionService) Generate(ctx context.Context, id string) (string, SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return "", SessionView{}, err
	}
	text, err := sess.Generate(ctx, s.generator)
	return text, sess.View(), err
}

func (s *SessionService) SetComment(id, text string) (SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.SetComment(text); err != nil {
		return sess.View(), err
	}
	return sess.View(), nil
}

// Submit persists the session. The session is dropped only on success so a
// failed submission can be retried with the same answers.
func (s *SessionService) Submit(ctx context.Context, id string) (*SessionResult, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	rec := &ActionRecorder{}
	out, err := sess.Submit(ctx, s.responses, rec)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	actions := rec.Actions
	if actions == nil {
		actions = []Action{}
	}
	return &SessionResult{Response: out.Response, Branch: out.Branch, Message: out.Message, Actions: actions}, nil
}

// Len reports the number of live sessions.
func (s *SessionService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionService) lookup(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if now.Sub(e.lastSeen) > s.ttl {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	e.lastSeen = now
	return e.session, nil
}

func (s *SessionService) sweepLocked() {
	now := s.now()
	for id, e := range s.sessions {
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Stage is the coarse state of a survey session.
type Stage string

const (
	StageNotStarted Stage = "not_started"
	StageAsking     Stage = "asking"
	StageCompleted  Stage = "completed"
	StageSubmitted  Stage = "submitted"
)

// Branch is the post-survey path chosen by comparing the overall rating with
// the configured threshold.
type Branch string

const (
	BranchNone Branch = ""
	BranchHigh Branch = "high_rating"
	BranchLow  Branch = "low_rating"
)

// ClassifyRating returns BranchHigh when rating >= threshold.
func ClassifyRating(rating, threshold int) Branch {
	if rating >= threshold {
		return BranchHigh
	}
	return BranchLow
}

var (
	ErrNoQuestions      = errors.New("survey has no questions")
	ErrNoPrimaryRating  = errors.New("primary question is not a rating question")
	ErrNotStarted       = errors.New("session not started")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrNotCompleted     = errors.New("survey not completed")
	ErrSessionClosed    = errors.New("session already submitted")
	ErrWrongBranch      = errors.New("action not available for this branch")
	ErrGeneratorMissing = errors.New("review generator not configured")
)

// ReviewRequest is everything the generator needs to draft a review.
type ReviewRequest struct {
	Answers   Answers
	Questions []SurveyQuestion
	Settings  AppConfig
}

// ReviewGenerator drafts review text. Failures are returned as errors, never
// disguised as generated text.
type ReviewGenerator interface {
	GenerateReview(ctx context.Context, req ReviewRequest) (string, error)
}

// ResponseSubmitter persists a finished survey.
type ResponseSubmitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SurveyResponse, error)
}

// SubmitEffects are the best-effort actions performed after a high-rating
// submission. Errors are logged and never fail the submission.
type SubmitEffects interface {
	CopyToClipboard(text string) error
	OpenURL(url string) error
}

// SubmitOutcome describes a successful submission.
type SubmitOutcome struct {
	Response *SurveyResponse
	Branch   Branch
	// Message is the thanks template on the high branch and the apology
	// template on the low branch.
	Message string
}

// Session drives one respondent through the configured questions. It is safe
// for concurrent use; the configuration snapshot is fixed at creation.
type Session struct {
	ID string

	mu         sync.Mutex
	questions  []SurveyQuestion
	config     AppConfig
	primaryIdx int
	stage      Stage
	step       int
	answers    Answers
	overall    int
	comment    string
	genSeq     uint64
	branch     Branch
}

// NewSession snapshots the settings document for a new respondent.
func NewSession(id string, doc *SettingsDocument) (*Session, error) {
	if doc == nil || len(doc.SurveyItems) == 0 {
		return nil, ErrNoQuestions
	}
	cfg := NormalizeConfig(doc.Settings)
	idx := PrimaryQuestionIndex(cfg, doc.SurveyItems)
	if idx < 0 || doc.SurveyItems[idx].Kind != KindRating {
		return nil, ErrNoPrimaryRating
	}
	return &Session{
		ID:         id,
		questions:  append([]SurveyQuestion{}, doc.SurveyItems...),
		config:     cfg,
		primaryIdx: idx,
		stage:      StageNotStarted,
		answers:    Answers{},
	}, nil
}

// Start moves NotStarted -> Asking(0).
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageNotStarted {
		return ErrAlreadyStarted
	}
	s.stage = StageAsking
	s.step = 0
	return nil
}

// Answer records the answer to the current question and advances. An invalid
// answer leaves the session where it was.
func (s *Session) Answer(a Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.stage {
	case StageNotStarted:
		return ErrNotStarted
	case StageAsking:
	case StageSubmitted:
		return ErrSessionClosed
	default:
		return NewInvalidError("all questions already answered")
	}
	q := s.questions[s.step]
	switch q.Kind {
	case KindRating:
		if a.Rating < 1 || a.Rating > 5 {
			return NewInvalidError(fmt.Sprintf("question %d needs a rating between 1 and 5", q.ID))
		}
		a = RatingAnswer(a.Rating)
	case KindFree:
		text := strings.TrimSpace(a.Text)
		if text == "" {
			return NewInvalidError(fmt.Sprintf("question %d needs a non-empty answer", q.ID))
		}
		a = TextAnswer(text)
	}
	s.answers[q.ID] = a
	if s.step == s.primaryIdx {
		s.overall = a.Rating
	}
	if s.step == len(s.questions)-1 {
		s.stage = StageCompleted
		s.branch = ClassifyRating(s.overall, int(s.config.MinStarsForGoogle))
		return nil
	}
	s.step++
	return nil
}

// Generate asks gen for review text and stores it as the comment. Only the
// high branch can generate. When several calls overlap, the one that started
// last wins; older results are discarded.
func (s *Session) Generate(ctx context.Context, gen ReviewGenerator) (string, error) {
	if gen == nil {
		return "", ErrGeneratorMissing
	}
	s.mu.Lock()
	if err := s.requireBranchLocked(BranchHigh); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.genSeq++
	seq := s.genSeq
	req := ReviewRequest{
		Answers:   s.answers.Clone(),
		Questions: append([]SurveyQuestion{}, s.questions...),
		Settings:  s.config,
	}
	s.mu.Unlock()

	text, err := gen.GenerateReview(ctx, req)
	if err != nil {
		return "", NewBadGatewayError("review generation failed", err)
	}
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageSubmitted {
		return "", ErrSessionClosed
	}
	if seq == s.genSeq {
		s.comment = text
	}
	return text, nil
}

// SetComment replaces the review text with the respondent's own edit.
func (s *Session) SetComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireBranchLocked(BranchHigh); err != nil {
		return err
	}
	s.comment = text
	// a manual edit supersedes any generation still in flight
	s.genSeq++
	return nil
}

// Payload builds the submission from the current answers.
func (s *Session) Payload() (SubmitRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadLocked()
}

func (s *Session) payloadLocked() (SubmitRequest, error) {
	switch s.stage {
	case StageCompleted:
	case StageSubmitted:
		return SubmitRequest{}, ErrSessionClosed
	default:
		return SubmitRequest{}, ErrNotCompleted
	}
	req := SubmitRequest{Rating: s.overall, AllAnswers: s.answers.Clone()}
	if s.branch == BranchHigh {
		req.Comment = strings.TrimSpace(s.comment)
	} else {
		req.Comment = s.firstFreeAnswerLocked()
	}
	return req, nil
}

// Submit persists the finished survey. On failure the session is untouched
// and Submit may be called again. After success the session is closed.
func (s *Session) Submit(ctx context.Context, sink ResponseSubmitter, effects SubmitEffects) (*SubmitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.payloadLocked()
	if err != nil {
		return nil, err
	}
	resp, err := sink.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.stage = StageSubmitted
	out := &SubmitOutcome{Response: resp, Branch: s.branch}
	if s.branch == BranchLow {
		out.Message = s.config.LowRatingMessage
		return out, nil
	}
	out.Message = s.config.ThanksPageContent
	if req.Comment != "" && effects != nil {
		if err := effects.CopyToClipboard(req.Comment); err != nil {
			log.Printf("session %s: clipboard: %v", s.ID, err)
		}
		if url := s.config.GoogleMapURL; url != "" {
			if err := effects.OpenURL(url); err != nil {
				log.Printf("session %s: open review url: %v", s.ID, err)
			}
		}
	}
	return out, nil
}

func (s *Session) requireBranchLocked(b Branch) error {
	switch s.stage {
	case StageCompleted:
	case StageSubmitted:
		return ErrSessionClosed
	default:
		return ErrNotCompleted
	}
	if s.branch != b {
		return ErrWrongBranch
	}
	return nil
}

func (s *Session) firstFreeAnswerLocked() string {
	for _, q := range s.questions {
		if q.Kind == KindFree {
			return s.answers[q.ID].Text
		}
	}
	return ""
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	ID            string          `json:"id"`
	Stage         Stage           `json:"stage"`
	Step          int             `json:"step"`
	Total         int             `json:"total"`
	Question      *SurveyQuestion `json:"question,omitempty"`
	Answers       Answers         `json:"answers"`
	OverallRating int             `json:"overallRating,omitempty"`
	Branch        Branch          `json:"branch,omitempty"`
	Comment       string          `json:"comment,omitempty"`
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SessionView{
		ID:            s.ID,
		Stage:         s.stage,
		Step:          s.step,
		Total:         len(s.questions),
		Answers:       s.answers.Clone(),
		OverallRating: s.overall,
		Branch:        s.branch,
		Comment:       s.comment,
	}
	if s.stage == StageAsking {
		q := s.questions[s.step]
		v.Question = &q
	}
	return v
}

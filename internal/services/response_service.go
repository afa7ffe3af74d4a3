package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResponseStore is the append-only persistence for submissions.
type ResponseStore interface {
	InsertResponse(ctx context.Context, r *SurveyResponse) error
	ListResponses(ctx context.Context) ([]*SurveyResponse, error)
}

// SubmitRequest mirrors the inbound submission payload.
type SubmitRequest struct {
	Rating     int     `json:"rating"`
	Comment    string  `json:"comment"`
	AllAnswers Answers `json:"allAnswers"`
}

// ListOptions controls the reports listing.
type ListOptions struct {
	// SortBy is "date" (newest first, default) or "rating" (highest first,
	// newest first within equal ratings).
	SortBy string
	// Query keeps responses whose comment or any text answer contains it.
	Query string
	Limit int
}

// ResponseService hosts submission and listing of survey responses.
type ResponseService struct {
	store       ResponseStore
	now         func() time.Time
	idGenerator func() string
}

func NewResponseService(store ResponseStore) *ResponseService {
	return &ResponseService{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
	}
}

// Submit validates and inserts one response with a server-assigned timestamp.
// Store failures are reported as retryable.
func (s *ResponseService) Submit(ctx context.Context, req SubmitRequest) (*SurveyResponse, error) {
	if s.store == nil {
		return nil, errors.New("response service store is nil")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, NewInvalidError("rating must be between 1 and 5")
	}
	answers := req.AllAnswers.Clone()
	for id, a := range answers {
		if a.IsRating() && (a.Rating < 1 || a.Rating > 5) {
			return nil, NewInvalidError("answer ratings must be between 1 and 5")
		}
		if id == 0 {
			return nil, NewInvalidError("answer keys must be question ids")
		}
	}
	resp := &SurveyResponse{
		ID:         s.idGenerator(),
		Rating:     req.Rating,
		Comment:    req.Comment,
		AllAnswers: answers,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertResponse(ctx, resp); err != nil {
		return nil, NewUnavailableError("could not save response, please retry", err)
	}
	return resp, nil
}

// List returns stored responses, newest first unless opts says otherwise.
func (s *ResponseService) List(ctx context.Context, opts ListOptions) ([]*SurveyResponse, error) {
	all, err := s.store.ListResponses(ctx)
	if err != nil {
		return nil, NewUnavailableError("responses unavailable", err)
	}
	out := make([]*SurveyResponse, 0, len(all))
	q := strings.ToLower(strings.TrimSpace(opts.Query))
	for _, r := range all {
		if r == nil {
			continue
		}
		if q != "" && !responseMatches(r, q) {
			continue
		}
		out = append(out, r)
	}
	newer := func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) }
	switch opts.SortBy {
	case "rating":
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Rating != out[j].Rating {
				return out[i].Rating > out[j].Rating
			}
			return newer(i, j)
		})
	case "", "date":
		sort.SliceStable(out, newer)
	default:
		return nil, NewInvalidError("sort must be date or rating")
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// All returns every response without filtering, newest first.
func (s *ResponseService) All(ctx context.Context) ([]*SurveyResponse, error) {
	return s.List(ctx, ListOptions{})
}

func responseMatches(r *SurveyResponse, q string) bool {
	if strings.Contains(strings.ToLower(r.Comment), q) {
		return true
	}
	for _, a := range r.AllAnswers {
		if !a.IsRating() && strings.Contains(strings.ToLower(a.Text), q) {
			return true
		}
	}
	return false
}

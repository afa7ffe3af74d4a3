package services

import (
	"context"
	"math"
	"time"
)

// StarBucket is one row of the star distribution.
type StarBucket struct {
	Stars   int     `json:"stars"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type MonthlyCount struct {
	Month string `json:"month"` // YYYY-MM
	Count int    `json:"count"`
}

type QuestionStat struct {
	ID       int64   `json:"id"`
	Text     string  `json:"text"`
	Answered int     `json:"answered"`
	Average  float64 `json:"average"`
}

type Summary struct {
	Total              int            `json:"total"`
	AverageRating      float64        `json:"averageRating"`
	Distribution       []StarBucket   `json:"distribution"`
	RecommendationRate float64        `json:"recommendationRate"`
	WindowDays         int            `json:"windowDays"`
	NewInWindow        int            `json:"newInWindow"`
	Monthly            []MonthlyCount `json:"monthly"`
	Questions          []QuestionStat `json:"questions"`
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(n) * 100 / float64(total))
}

// AverageRating is the mean rating, 0 for no responses.
func AverageRating(rs []*SurveyResponse) float64 {
	if len(rs) == 0 {
		return 0
	}
	sum := 0
	for _, r := range rs {
		sum += r.Rating
	}
	return round1(float64(sum) / float64(len(rs)))
}

// StarDistribution returns buckets for 5 down to 1 stars.
func StarDistribution(rs []*SurveyResponse) []StarBucket {
	counts := [6]int{}
	for _, r := range rs {
		if r.Rating >= 1 && r.Rating <= 5 {
			counts[r.Rating]++
		}
	}
	out := make([]StarBucket, 0, 5)
	for stars := 5; stars >= 1; stars-- {
		out = append(out, StarBucket{Stars: stars, Count: counts[stars], Percent: percent(counts[stars], len(rs))})
	}
	return out
}

// RecommendationRate is the share of responses rated 4 or better.
func RecommendationRate(rs []*SurveyResponse) float64 {
	n := 0
	for _, r := range rs {
		if r.Rating >= 4 {
			n++
		}
	}
	return percent(n, len(rs))
}

// NewInWindow counts responses created within the trailing windowDays.
func NewInWindow(rs []*SurveyResponse, windowDays int, now time.Time) int {
	if windowDays <= 0 {
		return 0
	}
	cutoff := now.Add(-time.Duration(windowDays) * 24 * time.Hour)
	n := 0
	for _, r := range rs {
		if !r.CreatedAt.Before(cutoff) && !r.CreatedAt.After(now) {
			n++
		}
	}
	return n
}

// MonthlyCounts returns counts for the last n calendar months ending with
// the month of now, oldest first.
func MonthlyCounts(rs []*SurveyResponse, n int, now time.Time) []MonthlyCount {
	if n <= 0 {
		return nil
	}
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(n - 1), 0)
	out := make([]MonthlyCount, n)
	index := make(map[string]int, n)
	for i := 0; i < n; i++ {
		key := first.AddDate(0, i, 0).Format("2006-01")
		out[i] = MonthlyCount{Month: key}
		index[key] = i
	}
	for _, r := range rs {
		if i, ok := index[r.CreatedAt.UTC().Format("2006-01")]; ok {
			out[i].Count++
		}
	}
	return out
}

// QuestionStats averages the answers of each rating question.
func QuestionStats(rs []*SurveyResponse, questions []SurveyQuestion) []QuestionStat {
	out := make([]QuestionStat, 0, len(questions))
	for _, q := range questions {
		if q.Kind != KindRating {
			continue
		}
		stat := QuestionStat{ID: q.ID, Text: q.Text}
		sum := 0
		for _, r := range rs {
			if a, ok := r.AllAnswers[q.ID]; ok && a.IsRating() {
				stat.Answered++
				sum += a.Rating
			}
		}
		if stat.Answered > 0 {
			stat.Average = round1(float64(sum) / float64(stat.Answered))
		}
		out = append(out, stat)
	}
	return out
}

// AnalyticsService recomputes the dashboard summary on every call.
type AnalyticsService struct {
	responses *ResponseService
	settings  *SettingsService
	now       func() time.Time
}

func NewAnalyticsService(responses *ResponseService, settings *SettingsService) *AnalyticsService {
	return &AnalyticsService{
		responses: responses,
		settings:  settings,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

const (
	DefaultWindowDays = 30
	summaryMonths     = 6
)

func (s *AnalyticsService) Summary(ctx context.Context, windowDays int) (*Summary, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	rs, err := s.responses.All(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	doc := s.settings.Current(ctx)
	return &Summary{
		Total:              len(rs),
		AverageRating:      AverageRating(rs),
		Distribution:       StarDistribution(rs),
		RecommendationRate: RecommendationRate(rs),
		WindowDays:         windowDays,
		NewInWindow:        NewInWindow(rs, windowDays, now),
		Monthly:            MonthlyCounts(rs, summaryMonths, now),
		Questions:          QuestionStats(rs, doc.SurveyItems),
	}, nil
}

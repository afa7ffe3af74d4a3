package services

import (
	"context"
	"testing"
	"time"
)

func TestAverageAndDistribution(t *testing.T) {
	rs := []*SurveyResponse{{Rating: 5}, {Rating: 4}, {Rating: 2}}
	if got := AverageRating(rs); got != 3.7 {
		t.Fatalf("average = %v want 3.7", got)
	}
	if got := AverageRating(nil); got != 0 {
		t.Fatalf("empty average = %v", got)
	}
	dist := StarDistribution(rs)
	if len(dist) != 5 || dist[0].Stars != 5 || dist[0].Count != 1 || dist[0].Percent != 33.3 {
		t.Fatalf("unexpected distribution %+v", dist)
	}
	if dist[2].Stars != 3 || dist[2].Count != 0 {
		t.Fatalf("missing stars should be zero: %+v", dist[2])
	}
	if got := RecommendationRate(rs); got != 66.7 {
		t.Fatalf("recommendation = %v", got)
	}
	if got := RecommendationRate(nil); got != 0 {
		t.Fatalf("empty recommendation = %v", got)
	}
}

func TestNewInWindowAndMonthly(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	rs := []*SurveyResponse{
		{CreatedAt: now.Add(-time.Hour)},
		{CreatedAt: now.AddDate(0, 0, -29)},
		{CreatedAt: now.AddDate(0, 0, -31)},
		{CreatedAt: time.Date(2024, 10, 3, 0, 0, 0, 0, time.UTC)},
		{CreatedAt: time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)},
	}
	if got := NewInWindow(rs, 30, now); got != 2 {
		t.Fatalf("new in window = %d want 2", got)
	}
	if got := NewInWindow(rs, 0, now); got != 0 {
		t.Fatalf("zero window = %d", got)
	}
	months := MonthlyCounts(rs, 6, now)
	if len(months) != 6 || months[0].Month != "2024-10" || months[5].Month != "2025-03" {
		t.Fatalf("unexpected months %+v", months)
	}
	if months[0].Count != 1 || months[4].Count != 2 || months[5].Count != 1 {
		t.Fatalf("unexpected counts %+v", months)
	}
}

func TestQuestionStats(t *testing.T) {
	questions := []SurveyQuestion{
		{ID: 1, Text: "service", Kind: KindRating},
		{ID: 2, Text: "comment", Kind: KindFree},
		{ID: 3, Text: "taste", Kind: KindRating},
	}
	rs := []*SurveyResponse{
		{AllAnswers: Answers{1: RatingAnswer(5), 2: TextAnswer("x"), 3: RatingAnswer(4)}},
		{AllAnswers: Answers{1: RatingAnswer(4)}},
	}
	stats := QuestionStats(rs, questions)
	if len(stats) != 2 {
		t.Fatalf("only rating questions expected, got %+v", stats)
	}
	if stats[0].Average != 4.5 || stats[0].Answered != 2 || stats[1].Average != 4 || stats[1].Answered != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	store := &stubStore{doc: testDoc()}
	seededResponses(store)
	settings := NewSettingsService(store)
	svc := NewAnalyticsService(NewResponseService(store), settings)
	svc.now = fixedClock(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))

	sum, err := svc.Summary(context.Background(), 0)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 4 || sum.AverageRating != 4 || sum.WindowDays != DefaultWindowDays || sum.NewInWindow != 4 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.RecommendationRate != 75 || len(sum.Monthly) != 6 || sum.Monthly[5].Count != 4 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(sum.Questions) != 2 {
		t.Fatalf("expected stats for the two rating questions: %+v", sum.Questions)
	}
}

func TestAggregationReferenceValues(t *testing.T) {
	mk := func(ratings ...int) []*SurveyResponse {
		out := make([]*SurveyResponse, 0, len(ratings))
		for _, r := range ratings {
			out = append(out, &SurveyResponse{Rating: r})
		}
		return out
	}
	if got := AverageRating(mk(5, 3)); got != 4.0 {
		t.Fatalf("average [5,3] = %v", got)
	}
	dist := StarDistribution(mk(5, 5, 1))
	total := 0.0
	for _, b := range dist {
		total += b.Percent
		switch b.Stars {
		case 5:
			if b.Percent != 66.7 {
				t.Fatalf("5 stars = %v", b.Percent)
			}
		case 1:
			if b.Percent != 33.3 {
				t.Fatalf("1 star = %v", b.Percent)
			}
		default:
			if b.Percent != 0 {
				t.Fatalf("%d stars = %v", b.Stars, b.Percent)
			}
		}
	}
	if total < 99.9 || total > 100.1 {
		t.Fatalf("distribution sums to %v", total)
	}
	for _, b := range StarDistribution(nil) {
		if b.Count != 0 || b.Percent != 0 {
			t.Fatalf("empty distribution should be zero: %+v", b)
		}
	}
	if got := RecommendationRate(mk(3, 4, 5)); got != 66.7 {
		t.Fatalf("recommendation [3,4,5] = %v", got)
	}
}

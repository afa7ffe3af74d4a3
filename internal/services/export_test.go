package services

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"
)

func TestExportResponsesCSV(t *testing.T) {
	questions := []SurveyQuestion{
		{ID: 1, Text: "満足度", Kind: KindRating},
		{ID: 2, Text: "ご意見", Kind: KindFree},
	}
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.FixedZone("JST", 9*60*60))
	rs := []*SurveyResponse{
		{ID: "r1", Rating: 5, Comment: "良い, とても", AllAnswers: Answers{1: RatingAnswer(5), 2: TextAnswer("良い, とても")}, CreatedAt: at},
		{ID: "r2", Rating: 2, AllAnswers: Answers{1: RatingAnswer(2), 9: TextAnswer("removed question"), 7: RatingAnswer(3)}, CreatedAt: at},
	}
	out, err := ExportResponsesCSV(rs, questions)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.HasPrefix(out, utf8BOM) {
		t.Fatalf("missing BOM")
	}
	recs, err := csv.NewReader(bytes.NewReader(out[len(utf8BOM):])).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("want 3 rows, got %d", len(recs))
	}
	header := recs[0]
	want := []string{"id", "created_at", "rating", "comment", "q1: 満足度", "q2: ご意見", "q7", "q9"}
	if len(header) != len(want) {
		t.Fatalf("header = %v", header)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Fatalf("header[%d] = %q want %q", i, header[i], want[i])
		}
	}
	if recs[1][1] != "2025-02-02T19:05:06Z" || recs[1][3] != "良い, とても" || recs[1][6] != "" {
		t.Fatalf("unexpected first row %v", recs[1])
	}
	if recs[2][4] != "2" || recs[2][5] != "" || recs[2][6] != "3" || recs[2][7] != "removed question" {
		t.Fatalf("unexpected second row %v", recs[2])
	}
}

func TestExportResponsesCSVEmpty(t *testing.T) {
	out, err := ExportResponsesCSV(nil, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	recs, err := csv.NewReader(bytes.NewReader(out[len(utf8BOM):])).ReadAll()
	if err != nil || len(recs) != 1 || len(recs[0]) != 4 {
		t.Fatalf("expected header only, got %v %v", recs, err)
	}
}

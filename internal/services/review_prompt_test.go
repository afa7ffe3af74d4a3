package services

import (
	"strings"
	"testing"
)

func TestTasteInstruction(t *testing.T) {
	if TasteInstruction("unknown") != TasteInstruction(TasteFriendly) {
		t.Fatalf("unknown taste should fall back to friendly")
	}
	if TasteInstruction(TasteMinimal) == TasteInstruction(TasteFriendly) {
		t.Fatalf("minimal should have its own voice")
	}
	if !strings.Contains(TasteInstruction(TasteRandom), "1つ選び") {
		t.Fatalf("random taste should ask the model to pick one")
	}
}

func TestAnswerContext(t *testing.T) {
	questions := []SurveyQuestion{
		{ID: 1, Text: "接客", Kind: KindRating},
		{ID: 2, Text: "感想", Kind: KindFree},
		{ID: 3, Text: "未回答", Kind: KindFree},
	}
	got := AnswerContext(questions, Answers{2: TextAnswer("丁寧でした"), 1: RatingAnswer(5)})
	want := "質問: 接客 / 回答: 5点\n質問: 感想 / 回答: 丁寧でした"
	if got != want {
		t.Fatalf("AnswerContext = %q want %q", got, want)
	}
}

func TestBuildReviewPrompt(t *testing.T) {
	req := ReviewRequest{
		Questions: []SurveyQuestion{{ID: 1, Text: "接客", Kind: KindRating}},
		Answers:   Answers{1: RatingAnswer(4)},
		Settings:  AppConfig{AIReviewTaste: TastePolite},
	}
	p := BuildReviewPrompt(req)
	for _, want := range []string{"150文字程度", TasteInstruction(TastePolite), "接客 / 回答: 4点"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	req.Settings.AIReviewLength = 80
	if !strings.Contains(BuildReviewPrompt(req), "80文字程度") {
		t.Fatalf("configured length not used")
	}
}

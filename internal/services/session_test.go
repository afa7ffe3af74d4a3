package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type genFunc func(ctx context.Context, req ReviewRequest) (string, error)

func (f genFunc) GenerateReview(ctx context.Context, req ReviewRequest) (string, error) {
	return f(ctx, req)
}

type stubSubmitter struct {
	mu   sync.Mutex
	err  error
	reqs []SubmitRequest
}

func (s *stubSubmitter) Submit(ctx context.Context, req SubmitRequest) (*SurveyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.reqs = append(s.reqs, req)
	return &SurveyResponse{ID: "resp-1", Rating: req.Rating, Comment: req.Comment, AllAnswers: req.AllAnswers}, nil
}

type failingEffects struct{ ActionRecorder }

func (f *failingEffects) CopyToClipboard(text string) error {
	_ = f.ActionRecorder.CopyToClipboard(text)
	return errors.New("no clipboard")
}

func testDoc() *SettingsDocument {
	doc := DefaultSettings()
	doc.Settings.GoogleMapURL = "https://maps.example/review"
	doc.SurveyItems = []SurveyQuestion{
		{ID: 1, Text: "接客はいかがでしたか？", Kind: KindRating},
		{ID: 2, Text: "味はいかがでしたか？", Kind: KindRating},
		{ID: 3, Text: "良かった点を教えてください", Kind: KindFree},
	}
	return doc
}

func answerAll(t *testing.T, s *Session, overall int, text string) {
	t.Helper()
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, a := range []Answer{RatingAnswer(overall), RatingAnswer(3), TextAnswer(text)} {
		if err := s.Answer(a); err != nil {
			t.Fatalf("answer %v: %v", a, err)
		}
	}
}

func TestClassifyRating(t *testing.T) {
	cases := []struct {
		rating, threshold int
		want              Branch
	}{
		{5, 4, BranchHigh},
		{4, 4, BranchHigh},
		{3, 4, BranchLow},
		{4, 5, BranchLow},
		{3, 3, BranchHigh},
	}
	for _, c := range cases {
		if got := ClassifyRating(c.rating, c.threshold); got != c.want {
			t.Errorf("ClassifyRating(%d,%d)=%s want %s", c.rating, c.threshold, got, c.want)
		}
	}
}

func TestClassifyRatingExhaustive(t *testing.T) {
	for threshold := 3; threshold <= 5; threshold++ {
		for rating := 1; rating <= 5; rating++ {
			want := BranchLow
			if rating >= threshold {
				want = BranchHigh
			}
			if got := ClassifyRating(rating, threshold); got != want {
				t.Fatalf("ClassifyRating(%d,%d)=%s", rating, threshold, got)
			}
		}
	}
}

func TestTwoQuestionLowSession(t *testing.T) {
	doc := DefaultSettings()
	s, err := NewSession("s", doc)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	_ = s.Start()
	if err := s.Answer(RatingAnswer(2)); err != nil {
		t.Fatalf("rating: %v", err)
	}
	if err := s.Answer(TextAnswer("ok")); err != nil {
		t.Fatalf("free: %v", err)
	}
	req, err := s.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if s.View().Branch != BranchLow || req.Comment != "ok" || req.Rating != 2 {
		t.Fatalf("unexpected payload %+v", req)
	}
}

func TestNewSessionRequiresRatingPrimary(t *testing.T) {
	if _, err := NewSession("s", &SettingsDocument{}); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	doc := testDoc()
	doc.Settings.PrimaryQuestionID = 3
	if _, err := NewSession("s", doc); !errors.Is(err, ErrNoPrimaryRating) {
		t.Fatalf("expected ErrNoPrimaryRating, got %v", err)
	}
}

func TestSessionAnswerFlow(t *testing.T) {
	s, err := NewSession("s1", testDoc())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Answer(RatingAnswer(5)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("answer before start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("double start: %v", err)
	}
	v := s.View()
	if v.Stage != StageAsking || v.Step != 0 || v.Question == nil || v.Question.ID != 1 {
		t.Fatalf("unexpected first view: %+v", v)
	}

	// invalid answers leave the session on the same question
	for _, bad := range []Answer{RatingAnswer(0), RatingAnswer(6), TextAnswer("five")} {
		if err := s.Answer(bad); err == nil {
			t.Fatalf("answer %+v should be rejected", bad)
		}
	}
	if v := s.View(); v.Step != 0 || len(v.Answers) != 0 {
		t.Fatalf("rejected answer changed state: %+v", v)
	}

	_ = s.Answer(RatingAnswer(4))
	_ = s.Answer(RatingAnswer(2))
	if err := s.Answer(TextAnswer("   ")); err == nil {
		t.Fatalf("blank free text should be rejected")
	}
	if err := s.Answer(TextAnswer("  店員さんが親切 ")); err != nil {
		t.Fatalf("free answer: %v", err)
	}
	v = s.View()
	if v.Stage != StageCompleted || v.Branch != BranchHigh || v.OverallRating != 4 || v.Question != nil {
		t.Fatalf("unexpected completed view: %+v", v)
	}
	if v.Answers[3].Text != "店員さんが親切" {
		t.Fatalf("free text not trimmed: %q", v.Answers[3].Text)
	}
	if err := s.Answer(RatingAnswer(5)); err == nil {
		t.Fatalf("answer after completion should fail")
	}
}

func TestSessionExplicitPrimaryQuestion(t *testing.T) {
	doc := testDoc()
	doc.Settings.PrimaryQuestionID = 2
	s, _ := NewSession("s", doc)
	answerAll(t, s, 5, "ok")
	// question 2 was answered with 3 and the default threshold is 4
	if v := s.View(); v.OverallRating != 3 || v.Branch != BranchLow {
		t.Fatalf("overall should come from question 2: %+v", v)
	}
}

func TestSessionHighBranchSubmit(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	answerAll(t, s, 5, "雰囲気が良い")
	var seen ReviewRequest
	gen := genFunc(func(ctx context.Context, req ReviewRequest) (string, error) {
		seen = req
		return "  とても良いお店でした。 ", nil
	})
	text, err := s.Generate(context.Background(), gen)
	if err != nil || text != "とても良いお店でした。" {
		t.Fatalf("generate: %q %v", text, err)
	}
	if seen.Answers[3].Text != "雰囲気が良い" || len(seen.Questions) != 3 || seen.Settings.MinStarsForGoogle != 4 {
		t.Fatalf("unexpected review request: %+v", seen)
	}
	if err := s.SetComment("自分で書き直しました"); err != nil {
		t.Fatalf("set comment: %v", err)
	}

	sink := &stubSubmitter{}
	rec := &ActionRecorder{}
	out, err := s.Submit(context.Background(), sink, rec)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Branch != BranchHigh || out.Message != defaultThanksContent {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if got := sink.reqs[0]; got.Rating != 5 || got.Comment != "自分で書き直しました" || len(got.AllAnswers) != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(rec.Actions) != 2 || rec.Actions[0].Type != ActionCopyToClipboard || rec.Actions[1].Value != "https://maps.example/review" {
		t.Fatalf("unexpected actions: %+v", rec.Actions)
	}
	if _, err := s.Submit(context.Background(), sink, rec); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("second submit: %v", err)
	}
	if err := s.SetComment("x"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("edit after submit: %v", err)
	}
}

func TestSessionHighBranchEmptyCommentSkipsEffects(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	answerAll(t, s, 4, "ok")
	rec := &ActionRecorder{}
	if _, err := s.Submit(context.Background(), &stubSubmitter{}, rec); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(rec.Actions) != 0 {
		t.Fatalf("no effects expected without a comment: %+v", rec.Actions)
	}
}

func TestSessionEffectFailuresDoNotFailSubmit(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	answerAll(t, s, 5, "ok")
	_ = s.SetComment("great")
	fx := &failingEffects{}
	if _, err := s.Submit(context.Background(), &stubSubmitter{}, fx); err != nil {
		t.Fatalf("submit should succeed despite clipboard failure: %v", err)
	}
	if len(fx.Actions) != 2 {
		t.Fatalf("open url should still run: %+v", fx.Actions)
	}
}

func TestSessionLowBranch(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	answerAll(t, s, 2, "待ち時間が長かった")
	if _, err := s.Generate(context.Background(), genFunc(func(context.Context, ReviewRequest) (string, error) {
		t.Fatalf("generator must not be called on the low branch")
		return "", nil
	})); !errors.Is(err, ErrWrongBranch) {
		t.Fatalf("generate on low branch: %v", err)
	}
	if err := s.SetComment("x"); !errors.Is(err, ErrWrongBranch) {
		t.Fatalf("set comment on low branch: %v", err)
	}
	sink := &stubSubmitter{}
	rec := &ActionRecorder{}
	out, err := s.Submit(context.Background(), sink, rec)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Branch != BranchLow || out.Message != defaultLowRatingMessage {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if sink.reqs[0].Comment != "待ち時間が長かった" || sink.reqs[0].Rating != 2 {
		t.Fatalf("low branch comment should be the free answer: %+v", sink.reqs[0])
	}
	if len(rec.Actions) != 0 {
		t.Fatalf("low branch must not trigger effects")
	}
}

func TestSessionGenerateFailureKeepsComment(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	answerAll(t, s, 5, "ok")
	_ = s.SetComment("draft")
	_, err := s.Generate(context.Background(), genFunc(func(context.Context, ReviewRequest) (string, error) {
		return "", errors.New("upstream 500")
	}))
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorBadGateway {
		t.Fatalf("expected bad gateway, got %v", err)
	}
	if v := s.View(); v.Comment != "draft" || v.Stage != StageCompleted {
		t.Fatalf("failure must not touch the session: %+v", v)
	}
	if _, err := s.Generate(context.Background(), nil); !errors.Is(err, ErrGeneratorMissing) {
		t.Fatalf("nil generator: %v", err)
	}
}

func TestSessionManualEditBeatsInFlightGeneration(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	answerAll(t, s, 5, "ok")
	entered := make(chan struct{})
	release := make(chan struct{})
	gen := genFunc(func(context.Context, ReviewRequest) (string, error) {
		close(entered)
		<-release
		return "generated", nil
	})
	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(context.Background(), gen)
		done <- err
	}()
	<-entered
	if err := s.SetComment("typed by hand"); err != nil {
		t.Fatalf("set comment: %v", err)
	}
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("generate did not return")
	}
	if v := s.View(); v.Comment != "typed by hand" {
		t.Fatalf("stale generation overwrote the edit: %q", v.Comment)
	}
}

func TestSessionSubmitFailureIsRetryable(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	answerAll(t, s, 3, "ok")
	sink := &stubSubmitter{err: NewUnavailableError("db down", errors.New("locked"))}
	if _, err := s.Submit(context.Background(), sink, nil); !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if v := s.View(); v.Stage != StageCompleted || len(v.Answers) != 3 {
		t.Fatalf("failed submit changed state: %+v", v)
	}
	sink.err = nil
	if _, err := s.Submit(context.Background(), sink, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v := s.View(); v.Stage != StageSubmitted {
		t.Fatalf("expected submitted, got %s", v.Stage)
	}
}

func TestSessionSubmitBeforeCompletion(t *testing.T) {
	s, _ := NewSession("s", testDoc())
	_ = s.Start()
	_ = s.Answer(RatingAnswer(5))
	if _, err := s.Submit(context.Background(), &stubSubmitter{}, nil); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
	if _, err := s.Payload(); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("payload before completion: %v", err)
	}
}

package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuestionKind is the answer format a survey question accepts.
type QuestionKind string

const (
	KindRating QuestionKind = "rating"
	KindFree   QuestionKind = "free"
)

// Taste selects the voice of generated review text.
type Taste string

const (
	TasteFriendly  Taste = "friendly"
	TastePolite    Taste = "polite"
	TasteEnergetic Taste = "energetic"
	TasteEmotional Taste = "emotional"
	TasteMinimal   Taste = "minimal"
	TasteRandom    Taste = "random"
)

func (t Taste) Valid() bool {
	switch t {
	case TasteFriendly, TastePolite, TasteEnergetic, TasteEmotional, TasteMinimal, TasteRandom:
		return true
	}
	return false
}

// MaxSurveyQuestions bounds the configured question list.
const MaxSurveyQuestions = 20

type SurveyQuestion struct {
	ID   int64        `json:"id"`
	Text string       `json:"text"`
	Kind QuestionKind `json:"type"`
}

// FlexInt decodes both JSON numbers and numeric strings ("4"), which older
// settings documents used for thresholds and lengths.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("flexint: %q is not a number", s)
		}
		*n = FlexInt(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = FlexInt(int(f))
	return nil
}

// AppConfig is the settings document body edited by the administrator.
type AppConfig struct {
	AppName           string  `json:"appName"`
	AppSubtitle       string  `json:"appSubtitle"`
	ThemeName         string  `json:"themeName"`
	MinStarsForGoogle FlexInt `json:"minStarsForGoogle"`
	AIReviewLength    FlexInt `json:"aiReviewLength"`
	AIReviewTaste     Taste   `json:"aiReviewTaste"`
	AIReplyTaste      string  `json:"aiReplyTaste,omitempty"`
	ThanksPageContent string  `json:"thanksPageContent"`
	LowRatingMessage  string  `json:"lowRatingMessage"`
	GoogleMapURL      string  `json:"googleMapUrl"`
	// PrimaryQuestionID names the rating question that yields the overall
	// rating. Zero means the first question.
	PrimaryQuestionID int64 `json:"primaryQuestionId,omitempty"`
}

// SettingsDocument is the singleton configuration persisted as one JSON blob.
type SettingsDocument struct {
	Settings    AppConfig        `json:"settings"`
	SurveyItems []SurveyQuestion `json:"surveyItems"`
	Version     int64            `json:"version"`
	UpdatedAt   time.Time        `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy so callers can never mutate a stored snapshot.
func (d *SettingsDocument) Clone() *SettingsDocument {
	if d == nil {
		return nil
	}
	out := *d
	out.SurveyItems = append([]SurveyQuestion{}, d.SurveyItems...)
	return &out
}

// Answer holds either a star rating (1-5) or free text. It is encoded as a
// JSON number or a JSON string respectively.
type Answer struct {
	Rating int
	Text   string
}

func RatingAnswer(stars int) Answer  { return Answer{Rating: stars} }
func TextAnswer(text string) Answer { return Answer{Text: text} }

func (a Answer) IsRating() bool { return a.Rating != 0 }

func (a Answer) String() string {
	if a.IsRating() {
		return strconv.Itoa(a.Rating)
	}
	return a.Text
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.IsRating() {
		return json.Marshal(a.Rating)
	}
	return json.Marshal(a.Text)
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*a = Answer{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &a.Text)
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("answer must be a number or a string: %w", err)
	}
	if f != float64(int(f)) {
		return fmt.Errorf("answer %v is not an integer", f)
	}
	a.Rating = int(f)
	return nil
}

// Answers maps question IDs to answers.
type Answers map[int64]Answer

func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SurveyResponse is one persisted, immutable submission.
type SurveyResponse struct {
	ID         string    `json:"id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	AllAnswers Answers   `json:"allAnswers"`
	CreatedAt  time.Time `json:"createdAt"`
}

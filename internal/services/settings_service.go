package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// ErrVersionConflict is returned by PutSettings when the stored version is no
// longer expectedVersion.
var ErrVersionConflict = errors.New("settings version conflict")

// SettingsStore persists the singleton settings document. GetSettings returns
// (nil, nil) when nothing has been saved yet. PutSettings writes doc only if
// the stored version still equals expectedVersion (0 when nothing is stored)
// and returns ErrVersionConflict otherwise; the check and the write are one
// atomic step.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*SettingsDocument, error)
	PutSettings(ctx context.Context, doc *SettingsDocument, expectedVersion int64) error
}

// saveAttempts bounds retries of a last-writer-wins save that lost a race.
const saveAttempts = 3

const (
	defaultAppName          = "PAL-TRUST"
	defaultAppSubtitle      = "SURVEY"
	defaultThemeName        = "standard"
	defaultMinStars         = 4
	defaultReviewLength     = 150
	defaultReplyTaste       = "professional"
	defaultThanksContent    = "本日はご来店ありがとうございました！またのお越しを心よりお待ちしております。"
	defaultLowRatingMessage = "ご不便をおかけし申し訳ございません。いただいた内容は責任を持って店長へ報告し、サービスの改善に努めさせていただきます。"
)

var knownThemes = map[string]struct{}{
	"standard": {}, "minimal": {}, "feminine": {}, "dark": {}, "pop": {},
}

// DefaultSettings returns the built-in document used when nothing is stored
// or the store cannot be reached.
func DefaultSettings() *SettingsDocument {
	return &SettingsDocument{
		Settings: AppConfig{
			AppName:           defaultAppName,
			AppSubtitle:       defaultAppSubtitle,
			ThemeName:         defaultThemeName,
			MinStarsForGoogle: defaultMinStars,
			AIReviewLength:    defaultReviewLength,
			AIReviewTaste:     TasteFriendly,
			AIReplyTaste:      defaultReplyTaste,
			ThanksPageContent: defaultThanksContent,
			LowRatingMessage:  defaultLowRatingMessage,
		},
		SurveyItems: []SurveyQuestion{
			{ID: 1, Text: "接客の満足度はどうでしたか？", Kind: KindRating},
			{ID: 2, Text: "具体的に良かった点や改善点を教えてください", Kind: KindFree},
		},
	}
}

// NormalizeConfig fills empty or out-of-range fields with defaults. Everything
// read from a store passes through it, so legacy values such as a threshold
// of "2" never reach a session.
func NormalizeConfig(cfg AppConfig) AppConfig {
	cfg = fillDefaults(cfg)
	if cfg.MinStarsForGoogle < 3 || cfg.MinStarsForGoogle > 5 {
		cfg.MinStarsForGoogle = defaultMinStars
	}
	if !cfg.AIReviewTaste.Valid() {
		cfg.AIReviewTaste = TasteFriendly
	}
	return cfg
}

// fillDefaults replaces only missing values. Save uses it so that invalid
// input is rejected instead of silently replaced.
func fillDefaults(cfg AppConfig) AppConfig {
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = defaultAppName
	}
	if _, ok := knownThemes[cfg.ThemeName]; !ok {
		cfg.ThemeName = defaultThemeName
	}
	if cfg.MinStarsForGoogle == 0 {
		cfg.MinStarsForGoogle = defaultMinStars
	}
	if cfg.AIReviewLength <= 0 {
		cfg.AIReviewLength = defaultReviewLength
	}
	if cfg.AIReviewTaste == "" {
		cfg.AIReviewTaste = TasteFriendly
	}
	if cfg.AIReplyTaste == "" {
		cfg.AIReplyTaste = defaultReplyTaste
	}
	if strings.TrimSpace(cfg.ThanksPageContent) == "" {
		cfg.ThanksPageContent = defaultThanksContent
	}
	if strings.TrimSpace(cfg.LowRatingMessage) == "" {
		cfg.LowRatingMessage = defaultLowRatingMessage
	}
	cfg.GoogleMapURL = strings.TrimSpace(cfg.GoogleMapURL)
	return cfg
}

// ValidateDocument checks the invariants a saved document must hold.
func ValidateDocument(doc *SettingsDocument) error {
	if doc == nil {
		return NewInvalidError("settings required")
	}
	cfg := doc.Settings
	if cfg.MinStarsForGoogle < 3 || cfg.MinStarsForGoogle > 5 {
		return NewInvalidError("minStarsForGoogle must be 3, 4 or 5")
	}
	if !cfg.AIReviewTaste.Valid() {
		return NewInvalidError(fmt.Sprintf("unknown aiReviewTaste %q", cfg.AIReviewTaste))
	}
	if len(doc.SurveyItems) > MaxSurveyQuestions {
		return NewInvalidError(fmt.Sprintf("at most %d survey items allowed", MaxSurveyQuestions))
	}
	seen := make(map[int64]struct{}, len(doc.SurveyItems))
	for i, q := range doc.SurveyItems {
		if q.ID == 0 {
			return NewInvalidError(fmt.Sprintf("survey item %d: id required", i))
		}
		if _, dup := seen[q.ID]; dup {
			return NewInvalidError(fmt.Sprintf("survey item %d: duplicate id %d", i, q.ID))
		}
		seen[q.ID] = struct{}{}
		if q.Kind != KindRating && q.Kind != KindFree {
			return NewInvalidError(fmt.Sprintf("survey item %d: unknown type %q", i, q.Kind))
		}
	}
	if len(doc.SurveyItems) == 0 {
		if cfg.PrimaryQuestionID != 0 {
			return NewInvalidError("primaryQuestionId set but no survey items")
		}
		return nil
	}
	idx := PrimaryQuestionIndex(cfg, doc.SurveyItems)
	if idx < 0 {
		return NewInvalidError(fmt.Sprintf("primaryQuestionId %d not found", cfg.PrimaryQuestionID))
	}
	if doc.SurveyItems[idx].Kind != KindRating {
		return NewInvalidError("primary question must be of type rating")
	}
	return nil
}

// PrimaryQuestionIndex locates the question whose answer is the overall
// rating, or -1 when it cannot be found.
func PrimaryQuestionIndex(cfg AppConfig, questions []SurveyQuestion) int {
	if cfg.PrimaryQuestionID == 0 {
		if len(questions) == 0 {
			return -1
		}
		return 0
	}
	for i, q := range questions {
		if q.ID == cfg.PrimaryQuestionID {
			return i
		}
	}
	return -1
}

// SettingsService is the single access point for the settings document.
// Consumers pull a fresh snapshot on every use; nothing is cached.
type SettingsService struct {
	store SettingsStore
	now   func() time.Time
}

func NewSettingsService(store SettingsStore) *SettingsService {
	return &SettingsService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the stored document, creating it from defaults on first read.
func (s *SettingsService) Load(ctx context.Context) (*SettingsDocument, error) {
	doc, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, NewUnavailableError("settings unavailable", err)
	}
	if doc == nil {
		def := DefaultSettings()
		def.Version = 1
		def.UpdatedAt = s.now()
		err := s.store.PutSettings(ctx, def, 0)
		if err == nil {
			return def.Clone(), nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			log.Printf("settings: persist defaults: %v", err)
			return def.Clone(), nil
		}
		// another reader or a save got there first
		if doc, err = s.store.GetSettings(ctx); err != nil {
			return nil, NewUnavailableError("settings unavailable", err)
		}
		if doc == nil {
			return def.Clone(), nil
		}
	}
	out := doc.Clone()
	out.Settings = NormalizeConfig(out.Settings)
	if out.SurveyItems == nil {
		out.SurveyItems = []SurveyQuestion{}
	}
	return out, nil
}

// Current is Load without failure: when the store cannot be read the built-in
// defaults are returned and the error is logged.
func (s *SettingsService) Current(ctx context.Context) *SettingsDocument {
	doc, err := s.Load(ctx)
	if err != nil {
		log.Printf("settings: falling back to defaults: %v", err)
		return DefaultSettings()
	}
	return doc
}

// Save replaces the document wholesale. A non-zero doc.Version must match the
// stored version; zero means last writer wins. The version check is enforced
// by the store in the same step as the write, so of two concurrent saves
// carrying the same version exactly one succeeds.
func (s *SettingsService) Save(ctx context.Context, doc *SettingsDocument) (*SettingsDocument, error) {
	if doc == nil {
		return nil, NewInvalidError("settings required")
	}
	next := doc.Clone()
	if next.SurveyItems == nil {
		next.SurveyItems = []SurveyQuestion{}
	}
	next.Settings = fillDefaults(next.Settings)
	if err := ValidateDocument(next); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		current, err := s.store.GetSettings(ctx)
		if err != nil {
			return nil, NewUnavailableError("settings unavailable", err)
		}
		var currentVersion int64
		if current != nil {
			currentVersion = current.Version
		}
		if doc.Version != 0 && doc.Version != currentVersion {
			return nil, NewConflictError(fmt.Sprintf("settings version %d is stale (current %d)", doc.Version, currentVersion))
		}
		next.Version = currentVersion + 1
		next.UpdatedAt = s.now()
		err = s.store.PutSettings(ctx, next, currentVersion)
		if err == nil {
			return next.Clone(), nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, NewUnavailableError("save settings failed", err)
		}
		if doc.Version != 0 || attempt >= saveAttempts {
			return nil, &ServiceError{Code: ErrorConflict, Message: "settings were changed by another save", Err: err}
		}
	}
}

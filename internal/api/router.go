package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/paltrust/feedback/internal/middleware"
	"github.com/paltrust/feedback/internal/services"
	"github.com/paltrust/feedback/internal/utils"
)

const maxBodyBytes = 1 << 20

type Options struct {
	Store         Store
	Generator     services.ReviewGenerator
	AdminPassword string
	SessionTTL    time.Duration
}

type Router struct {
	settings  *services.SettingsService
	responses *services.ResponseService
	analytics *services.AnalyticsService
	sessions  *services.SessionService
	auth      *services.AuthService
	generator services.ReviewGenerator
	validate  *validator.Validate
}

func NewRouter(opts Options) (*Router, error) {
	if opts.Store == nil {
		return nil, errors.New("api: store required")
	}
	gen := opts.Generator
	settings := services.NewSettingsService(opts.Store)
	responses := services.NewResponseService(opts.Store)
	auth, err := services.NewAuthService(opts.AdminPassword, middleware.SignToken)
	if err != nil {
		return nil, fmt.Errorf("api: init auth: %w", err)
	}
	if !auth.Enabled() {
		log.Printf("admin password not set; admin routes are locked")
	}
	return &Router{
		settings:  settings,
		responses: responses,
		analytics: services.NewAnalyticsService(responses, settings),
		sessions:  services.NewSessionService(settings, responses, gen, opts.SessionTTL),
		auth:      auth,
		generator: gen,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (rt *Router) Register(mux *http.ServeMux) {
	admin := func(h http.HandlerFunc) http.Handler { return middleware.RequireAdmin(h) }

	mux.HandleFunc("GET /api/settings", rt.handleGetSettings)
	mux.Handle("POST /api/settings", admin(rt.handleSaveSettings))
	mux.HandleFunc("POST /api/survey", rt.handleSubmitSurvey)
	mux.Handle("GET /api/surveys", admin(rt.handleListSurveys))
	mux.HandleFunc("POST /api/generate-comment", rt.handleGenerateComment)
	mux.HandleFunc("POST /api/login", rt.handleLogin)

	mux.HandleFunc("POST /api/sessions", rt.handleStartSession)
	mux.HandleFunc("GET /api/sessions/{id}", rt.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/answers", rt.handleAnswer)
	mux.HandleFunc("POST /api/sessions/{id}/generate", rt.handleSessionGenerate)
	mux.HandleFunc("PUT /api/sessions/{id}/comment", rt.handleSetComment)
	mux.HandleFunc("POST /api/sessions/{id}/submit", rt.handleSessionSubmit)

	mux.Handle("GET /api/reports/summary", admin(rt.handleSummary))
	mux.Handle("GET /api/export", admin(rt.handleExport))
}

type surveyItemRequest struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Text string `json:"text" validate:"required,max=500"`
	Type string `json:"type" validate:"required,oneof=rating free"`
}

type settingsRequest struct {
	Settings    services.AppConfig  `json:"settings"`
	SurveyItems []surveyItemRequest `json:"surveyItems" validate:"max=20,dive"`
	Version     int64               `json:"version" validate:"gte=0"`
}

type submitRequest struct {
	Rating     int              `json:"rating" validate:"min=1,max=5"`
	Comment    string           `json:"comment" validate:"max=5000"`
	AllAnswers services.Answers `json:"allAnswers"`
}

type generateRequest struct {
	Answers     services.Answers    `json:"answers" validate:"required"`
	SurveyItems []surveyItemRequest `json:"surveyItems" validate:"max=20,dive"`
	Settings    *services.AppConfig `json:"settings"`
}

type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

type answerRequest struct {
	Value services.Answer `json:"value"`
}

type commentRequest struct {
	Comment string `json:"comment" validate:"max=5000"`
}

// GET /api/settings
func (rt *Router) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.settings.Current(r.Context()))
}

// POST /api/settings
func (rt *Router) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !rt.decode(w, r, &req) {
		return
	}
	doc := &services.SettingsDocument{Settings: req.Settings, SurveyItems: toQuestions(req.SurveyItems), Version: req.Version}
	saved, err := rt.settings.Save(r.Context(), doc)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": saved.Version, "updatedAt": saved.UpdatedAt})
}

// POST /api/survey
func (rt *Router) handleSubmitSurvey(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !rt.decode(w, r, &req) {
		return
	}
	resp, err := rt.responses.Submit(r.Context(), services.SubmitRequest{Rating: req.Rating, Comment: req.Comment, AllAnswers: req.AllAnswers})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": resp.ID, "createdAt": resp.CreatedAt})
}

// GET /api/surveys?sort=date|rating&q=&limit=
func (rt *Router) handleListSurveys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	rs, err := rt.responses.List(r.Context(), services.ListOptions{SortBy: q.Get("sort"), Query: q.Get("q"), Limit: limit})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rs), "responses": rs})
}

// POST /api/generate-comment
// Questions and settings default to the stored document when omitted.
func (rt *Router) handleGenerateComment(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !rt.decode(w, r, &req) {
		return
	}
	if rt.generator == nil {
		writeGenerateFailure(w, r, services.ErrGeneratorMissing)
		return
	}
	doc := rt.settings.Current(r.Context())
	in := services.ReviewRequest{Answers: req.Answers, Questions: doc.SurveyItems, Settings: doc.Settings}
	if len(req.SurveyItems) > 0 {
		in.Questions = toQuestions(req.SurveyItems)
	}
	if req.Settings != nil {
		in.Settings = services.NormalizeConfig(*req.Settings)
	}
	text, err := rt.generator.GenerateReview(r.Context(), in)
	if err != nil {
		writeGenerateFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "comment": strings.TrimSpace(text)})
}

// POST /api/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !rt.decode(w, r, &req) {
		return
	}
	res, err := rt.auth.Login(req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/sessions
func (rt *Router) handleStartSession(w http.ResponseWriter, r *http.Request) {
	view, err := rt.sessions.Start(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GET /api/sessions/{id}
func (rt *Router) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := rt.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/sessions/{id}/answers
func (rt *Router) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !rt.decode(w, r, &req) {
		return
	}
	view, err := rt.sessions.Answer(r.PathValue("id"), req.Value)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/sessions/{id}/generate
func (rt *Router) handleSessionGenerate(w http.ResponseWriter, r *http.Request) {
	text, view, err := rt.sessions.Generate(r.Context(), r.PathValue("id"))
	if err != nil {
		var se *services.ServiceError
		if errors.As(err, &se) && se.Code == services.ErrorBadGateway {
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "reason": generationReason(r, err), "session": view})
			return
		}
		if errors.Is(err, services.ErrGeneratorMissing) {
			writeGenerateFailure(w, r, err)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "comment": text, "session": view})
}

// PUT /api/sessions/{id}/comment
func (rt *Router) handleSetComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !rt.decode(w, r, &req) {
		return
	}
	view, err := rt.sessions.SetComment(r.PathValue("id"), req.Comment)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/sessions/{id}/submit
func (rt *Router) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	res, err := rt.sessions.Submit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/reports/summary?window=30
func (rt *Router) handleSummary(w http.ResponseWriter, r *http.Request) {
	window := services.DefaultWindowDays
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 366 {
			writeServiceError(w, r, services.NewInvalidError("window must be between 1 and 366 days"))
			return
		}
		window = n
	}
	sum, err := rt.analytics.Summary(r.Context(), window)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GET /api/export
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	rs, err := rt.responses.All(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	doc := rt.settings.Current(r.Context())
	b, err := services.ExportResponsesCSV(rs, doc.SurveyItems)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	name := fmt.Sprintf("responses-%s.csv", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	_, _ = w.Write(b)
}

func toQuestions(items []surveyItemRequest) []services.SurveyQuestion {
	out := make([]services.SurveyQuestion, 0, len(items))
	for _, it := range items {
		out = append(out, services.SurveyQuestion{ID: it.ID, Text: strings.TrimSpace(it.Text), Kind: services.QuestionKind(it.Type)})
	}
	return out
}

// decode reads a JSON body into dst and validates its tags. It writes the
// error response itself and reports whether the handler should continue.
func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeServiceError(w, r, services.NewInvalidError("invalid JSON body: "+err.Error()))
		return false
	}
	if err := rt.validate.Struct(dst); err != nil {
		writeServiceError(w, r, services.NewInvalidError(validationMessage(err)))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGenerateFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, services.ErrGeneratorMissing) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": false, "reason": generationReason(r, err)})
}

func generationReason(r *http.Request, err error) string {
	log.Printf("review generation failed: %v", err)
	locale := middleware.LocaleFromContext(r.Context())
	if errors.Is(err, services.ErrGeneratorMissing) {
		return utils.T(locale, "generate.disabled")
	}
	return utils.T(locale, "error.bad_gateway")
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	if code == "unavailable" {
		w.Header().Set("Retry-After", "1")
	}
	locale := middleware.LocaleFromContext(r.Context())
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = utils.T(locale, "error.internal")
	}
	writeJSON(w, status, map[string]any{
		"error":     msg,
		"code":      code,
		"hint":      utils.T(locale, "error."+code),
		"retryable": services.IsRetryable(err),
	})
}

func statusFor(err error) (int, string) {
	if se, ok := services.AsServiceError(err); ok {
		switch se.Code {
		case services.ErrorInvalid:
			return http.StatusBadRequest, string(se.Code)
		case services.ErrorNotFound:
			return http.StatusNotFound, string(se.Code)
		case services.ErrorConflict:
			return http.StatusConflict, string(se.Code)
		case services.ErrorUnauthorized:
			return http.StatusUnauthorized, string(se.Code)
		case services.ErrorBadGateway:
			return http.StatusBadGateway, string(se.Code)
		case services.ErrorUnavailable:
			return http.StatusServiceUnavailable, string(se.Code)
		}
	}
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrNotStarted),
		errors.Is(err, services.ErrAlreadyStarted),
		errors.Is(err, services.ErrNotCompleted),
		errors.Is(err, services.ErrSessionClosed),
		errors.Is(err, services.ErrWrongBranch):
		return http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrGeneratorMissing):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

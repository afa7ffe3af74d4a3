package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/paltrust/feedback/internal/services"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second
	maxOutputTokens    = 800
)

// ErrDisabled is returned by NewReviewGenerator when no API key is configured.
var ErrDisabled = errors.New("review generation disabled: OPENAI_API_KEY not set")

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Attempts bounds calls per review; retries happen only on 429 and 5xx.
	Attempts   int
	Backoff    time.Duration
	HTTPClient *http.Client
}

type reviewOutput struct {
	Comment string `json:"comment" jsonschema:"required,description=Review text only, no quotes"`
}

var reviewSchema = GenerateSchema[reviewOutput]()

// ReviewGenerator drafts reviews with the OpenAI Responses API.
type ReviewGenerator struct {
	client   *openai.Client
	model    string
	attempts int
	backoff  time.Duration
}

var _ services.ReviewGenerator = (*ReviewGenerator)(nil)

func NewReviewGenerator(cfg Config) (*ReviewGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(NormalizeBaseURL(cfg.BaseURL)),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	)
	return &ReviewGenerator{client: &client, model: model, attempts: attempts, backoff: backoff}, nil
}

func (g *ReviewGenerator) GenerateReview(ctx context.Context, req services.ReviewRequest) (string, error) {
	params := responses.ResponseNewParams{
		Model:           g.model,
		Temperature:     openai.Float(DefaultTemperature),
		MaxOutputTokens: openai.Int(maxOutputTokens),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(services.BuildReviewPrompt(req), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "GoogleReview",
					Schema:      reviewSchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Drafted review JSON"),
					Type:        "json_schema",
				},
			},
		},
	}
	resp, err := g.callWithRetry(ctx, params)
	if err != nil {
		return "", err
	}
	var out reviewOutput
	if err := DecodeModelJSON(resp.OutputText(), &out); err != nil {
		return "", err
	}
	text := strings.Trim(strings.TrimSpace(out.Comment), "「」\"")
	if text == "" {
		return "", errors.New("model returned an empty review")
	}
	return text, nil
}

func (g *ReviewGenerator) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	var lastErr error
	for attempt := 0; attempt < g.attempts; attempt++ {
		resp, err := g.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == g.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.backoff * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("openai: %w", lastErr)
}

func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

// NormalizeBaseURL accepts a bare host, a /v1 root or a full endpoint URL and
// returns the API root with a trailing slash.
func NormalizeBaseURL(base string) string {
	endpoint := strings.TrimRight(strings.TrimSpace(base), "/")
	if endpoint == "" {
		return "https://api.openai.com/v1/"
	}
	for _, suffix := range []string{"/chat/completions", "/responses"} {
		endpoint = strings.TrimSuffix(endpoint, suffix)
	}
	if !strings.HasSuffix(endpoint, "/v1") {
		endpoint += "/v1"
	}
	return endpoint + "/"
}

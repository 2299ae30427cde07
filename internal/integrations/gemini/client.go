package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

// TokenSource yields the API key used to build the SDK client.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// generator is the slice of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client completes prompts with the Gemini API. The SDK client is built on
// first use because the key may live in the parameter store, and rebuilt when
// the token source hands out a different key.
type Client struct {
	tokens     TokenSource
	model      string
	httpClient *http.Client

	newGenerator func(ctx context.Context, apiKey string, httpClient *http.Client) (generator, error)

	mu  sync.Mutex
	key string
	gen generator
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(tokens TokenSource, model string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("gemini: token source must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		tokens:       tokens,
		model:        model,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		newGenerator: newSDKGenerator,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newSDKGenerator(ctx context.Context, apiKey string, httpClient *http.Client) (generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

func (c *Client) generator(ctx context.Context) (generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	apiKey, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve token: %w", err)
	}
	if c.gen != nil && c.key == apiKey {
		return c.gen, nil
	}
	gen, err := c.newGenerator(ctx, apiKey, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.key, c.gen = apiKey, gen
	return gen, nil
}

// StatusError is a request the Gemini API rejected with an HTTP status,
// e.g. 429 on quota exhaustion or 403 on a bad key.
type StatusError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: generate content: status %d %s: %v", e.StatusCode, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func asStatusError(err error) (*StatusError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &StatusError{StatusCode: apiErr.Code, Status: apiErr.Status, Err: err}, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code != 0 {
		return &StatusError{StatusCode: apiErrPtr.Code, Status: apiErrPtr.Status, Err: err}, true
	}
	return nil, false
}

// Complete requests a single candidate for prompt and returns its text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	gen, err := c.generator(ctx)
	if err != nil {
		return "", err
	}

	candidates := int32(1)
	res, err := gen.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		CandidateCount: candidates,
	})
	if err != nil {
		if statusErr, ok := asStatusError(err); ok {
			return "", statusErr
		}
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if res == nil || len(res.Candidates) == 0 {
		if res != nil && res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini: prompt blocked: %s", res.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini: no candidates in response")
	}

	text := res.Text()
	if text == "" {
		return "", errors.New("gemini: empty text in response")
	}
	return text, nil
}

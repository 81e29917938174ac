package ai

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/local/pagetrans/internal/stage"
)

// Request represents a single chat request. The image fields are optional.
type Request struct {
    Model        string
    SystemPrompt string
    Prompt       string
    MaxTokens    int
    // Vision fields
    ImageBase64 string // Base64 encoded image
    ImageMIME   string // Image MIME type (image/png)
}

type Response struct {
    Text      string
    TokensIn  int
    TokensOut int
}

// Client interface for providers like OpenAI, Anthropic.
type Client interface {
    Name() string
    Do(ctx context.Context, req Request) (Response, error)
}

// Options configure a provider client. Empty BaseURL uses the provider's
// public endpoint.
type Options struct {
    BaseURL string
    APIKey  string
    Model   string
    Timeout time.Duration
    HTTP    *http.Client
}

func (o Options) httpClient() *http.Client {
    if o.HTTP != nil {
        return o.HTTP
    }
    timeout := o.Timeout
    if timeout <= 0 {
        timeout = 120 * time.Second
    }
    return &http.Client{Timeout: timeout}
}

var (
    ErrRateLimited    = errors.New("rate_limited")
    ErrContentRefused = errors.New("content_refused")
)

func IsRateLimited(err error) bool    { return errors.Is(err, ErrRateLimited) }
func IsContentRefused(err error) bool { return errors.Is(err, ErrContentRefused) }

// HTTPError represents an HTTP status error from AI provider
type HTTPError struct {
    Provider   string
    StatusCode int
    Body       string
}

func (e *HTTPError) Error() string {
    return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

// NewClient builds the client for provider ("openai" or "anthropic").
// A missing API key is reported as a MissingParamsError so the caller can
// tell the user which setting to fill in.
func NewClient(provider string, opts Options) (Client, error) {
    provider = strings.ToLower(strings.TrimSpace(provider))
    if provider == "" {
        provider = "openai"
    }
    if opts.APIKey == "" {
        return nil, &stage.MissingParamsError{Strategy: "llm/" + provider, Param: "LLM_API_KEY"}
    }
    switch provider {
    case "openai":
        return NewOpenAIClient(opts), nil
    case "anthropic":
        return NewAnthropicClient(opts), nil
    }
    return nil, fmt.Errorf("unknown llm provider %q", provider)
}

// statusError maps a non 2xx response to an error.
func statusError(provider string, code int, body []byte) error {
    if code == http.StatusTooManyRequests {
        return fmt.Errorf("%s: %w", provider, ErrRateLimited)
    }
    if len(body) > 512 {
        body = body[:512]
    }
    return &HTTPError{Provider: provider, StatusCode: code, Body: strings.TrimSpace(string(body))}
}

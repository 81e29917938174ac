package ai

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
)

type OpenAIClient struct {
    http    *http.Client
    baseURL string
    apiKey  string
    model   string
}

// NewOpenAIClient talks to any OpenAI compatible chat completions endpoint.
func NewOpenAIClient(opts Options) *OpenAIClient {
    base := strings.TrimRight(opts.BaseURL, "/")
    if base == "" {
        base = "https://api.openai.com/v1"
    }
    return &OpenAIClient{http: opts.httpClient(), baseURL: base, apiKey: opts.APIKey, model: opts.Model}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIMessage struct {
    Role    string                   `json:"role"`
    Content []map[string]interface{} `json:"content"`
}

type openAIChatReq struct {
    Model       string          `json:"model"`
    Messages    []openAIMessage `json:"messages"`
    Temperature float64         `json:"temperature"`
    MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResp struct {
    Choices []struct {
        Message struct {
            Content string `json:"content"`
        } `json:"message"`
        FinishReason string `json:"finish_reason"`
    } `json:"choices"`
    Usage struct {
        PromptTokens     int `json:"prompt_tokens"`
        CompletionTokens int `json:"completion_tokens"`
    } `json:"usage"`
}

func (c *OpenAIClient) Do(ctx context.Context, req Request) (Response, error) {
    model := req.Model
    if model == "" {
        model = c.model
    }

    var messages []openAIMessage
    if req.SystemPrompt != "" {
        messages = append(messages, openAIMessage{
            Role: "system",
            Content: []map[string]interface{}{
                {"type": "text", "text": req.SystemPrompt},
            },
        })
    }

    var userContent []map[string]interface{}
    if req.ImageBase64 != "" {
        imageURL := fmt.Sprintf("data:%s;base64,%s", req.ImageMIME, req.ImageBase64)
        userContent = append(userContent, map[string]interface{}{
            "type":      "image_url",
            "image_url": map[string]string{"url": imageURL},
        })
    }
    userContent = append(userContent, map[string]interface{}{
        "type": "text",
        "text": req.Prompt,
    })
    messages = append(messages, openAIMessage{Role: "user", Content: userContent})

    payload := openAIChatReq{
        Model:       model,
        Messages:    messages,
        Temperature: 0,
        MaxTokens:   req.MaxTokens,
    }

    body, err := json.Marshal(payload)
    if err != nil {
        return Response{}, err
    }
    httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
    if err != nil {
        return Response{}, err
    }
    httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
    httpReq.Header.Set("Content-Type", "application/json")

    resp, err := c.http.Do(httpReq)
    if err != nil {
        return Response{}, err
    }
    defer resp.Body.Close()

    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
        return Response{}, statusError(c.Name(), resp.StatusCode, raw)
    }

    var r openAIChatResp
    if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
        return Response{}, err
    }
    if len(r.Choices) == 0 {
        return Response{}, errors.New("no choices")
    }
    if r.Choices[0].FinishReason == "content_filter" {
        return Response{}, ErrContentRefused
    }

    return Response{
        Text:      r.Choices[0].Message.Content,
        TokensIn:  r.Usage.PromptTokens,
        TokensOut: r.Usage.CompletionTokens,
    }, nil
}

package ai

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "strings"
)

type AnthropicClient struct {
    http    *http.Client
    baseURL string
    apiKey  string
    model   string
}

func NewAnthropicClient(opts Options) *AnthropicClient {
    base := strings.TrimRight(opts.BaseURL, "/")
    if base == "" {
        base = "https://api.anthropic.com/v1"
    }
    return &AnthropicClient{http: opts.httpClient(), baseURL: base, apiKey: opts.APIKey, model: opts.Model}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicBlock struct {
    Type   string           `json:"type"`
    Text   string           `json:"text,omitempty"`
    Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
    Type      string `json:"type"`
    MediaType string `json:"media_type"`
    Data      string `json:"data"`
}

type anthropicMsgReq struct {
    Model     string `json:"model"`
    MaxTokens int    `json:"max_tokens"`
    System    string `json:"system,omitempty"`
    Messages  []struct {
        Role    string           `json:"role"`
        Content []anthropicBlock `json:"content"`
    } `json:"messages"`
}

type anthropicMsgResp struct {
    Content []struct {
        Text string `json:"text"`
    } `json:"content"`
    StopReason string `json:"stop_reason"`
    Usage      struct {
        InputTokens  int `json:"input_tokens"`
        OutputTokens int `json:"output_tokens"`
    } `json:"usage"`
}

func (c *AnthropicClient) Do(ctx context.Context, req Request) (Response, error) {
    model := req.Model
    if model == "" {
        model = c.model
    }
    maxTokens := req.MaxTokens
    if maxTokens <= 0 {
        maxTokens = 1024
    }

    var blocks []anthropicBlock
    if req.ImageBase64 != "" {
        blocks = append(blocks, anthropicBlock{
            Type:   "image",
            Source: &anthropicSource{Type: "base64", MediaType: req.ImageMIME, Data: req.ImageBase64},
        })
    }
    blocks = append(blocks, anthropicBlock{Type: "text", Text: req.Prompt})

    payload := anthropicMsgReq{Model: model, MaxTokens: maxTokens, System: req.SystemPrompt}
    payload.Messages = append(payload.Messages, struct {
        Role    string           `json:"role"`
        Content []anthropicBlock `json:"content"`
    }{Role: "user", Content: blocks})

    body, err := json.Marshal(payload)
    if err != nil {
        return Response{}, err
    }
    httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
    if err != nil {
        return Response{}, err
    }
    httpReq.Header.Set("x-api-key", c.apiKey)
    httpReq.Header.Set("anthropic-version", "2023-06-01")
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

    var r anthropicMsgResp
    if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
        return Response{}, err
    }
    if r.StopReason == "refusal" {
        return Response{}, ErrContentRefused
    }
    if len(r.Content) == 0 {
        return Response{}, errors.New("no content")
    }
    return Response{Text: r.Content[0].Text, TokensIn: r.Usage.InputTokens, TokensOut: r.Usage.OutputTokens}, nil
}

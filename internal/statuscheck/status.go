package statuscheck

import (
    "context"
    "errors"
    "strings"
    "time"
)

// Pinger models the minimal capability we need from a remote dependency.
type Pinger interface {
    Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger, e.g. a Redis client's Ping(ctx).Err.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker aggregates health checks for external dependencies of a run.
type Checker struct {
    redis       Pinger
    artifacts   Pinger
    artifactDir string
    llmProvider string
    llmKey      string
    llmNeeded   bool
}

// Options configures the Checker. A nil Redis means the Redis sinks are off;
// a nil Artifacts means artifacts live in ArtifactDir on local disk.
type Options struct {
    Redis       Pinger
    Artifacts   Pinger
    ArtifactDir string
    LLMProvider string
    LLMKey      string
    // LLMNeeded is set when a selected strategy talks to an LLM.
    LLMNeeded bool
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Redis     Status `json:"redis"`
    Artifacts Status `json:"artifacts"`
    LLM       Status `json:"llm"`
}

// OK reports whether every subsystem is ready.
func (s Summary) OK() bool { return s.Redis.OK && s.Artifacts.OK && s.LLM.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    return &Checker{
        redis:       opts.Redis,
        artifacts:   opts.Artifacts,
        artifactDir: opts.ArtifactDir,
        llmProvider: opts.LLMProvider,
        llmKey:      strings.TrimSpace(opts.LLMKey),
        llmNeeded:   opts.LLMNeeded,
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Redis:     c.checkRedis(ctx),
        Artifacts: c.checkArtifacts(ctx),
        LLM:       c.checkLLM(),
    }
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: true, Message: "Disabled"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkArtifacts(ctx context.Context) Status {
    if c.artifacts == nil {
        return Status{OK: true, Message: "Local " + c.artifactDir}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := c.artifacts.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkLLM() Status {
    if !c.llmNeeded {
        return Status{OK: true, Message: "Not used"}
    }
    if c.llmKey == "" {
        return Status{OK: false, Message: "LLM_API_KEY missing for " + c.llmProvider}
    }
    return Status{OK: true, Message: "Configured (" + c.llmProvider + ")"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}

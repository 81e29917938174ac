package strategy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/local/pagetrans/internal/ai"
	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

const (
	// DefaultTranslateDelay spaces translate requests for rate limited
	// providers.
	DefaultTranslateDelay = 500 * time.Millisecond
	// maxCropSide bounds the longer side of an image sent for recognition.
	maxCropSide = 1024
	// minCropHeight is the height small crops are scaled up to.
	minCropHeight = 32
)

const recognizePrompt = "Transcribe the text in this image exactly. Reply with the text only. Reply with an empty message if there is no text."

func init() {
	Register(stage.Recognize, "llm", func(p Params) (stage.Model, error) {
		return &LLMRecognizer{llm: newLLM(p)}, nil
	})
	Register(stage.Translate, "llm", func(p Params) (stage.Model, error) {
		return &LLMTranslator{
			llm:    newLLM(p),
			target: p.String("TRANSLATE_TARGET_LANG", "English"),
			delay:  p.Duration("LLM_DELAY", DefaultTranslateDelay),
		}, nil
	})
}

// llm holds the lazily created provider client. Load fails with a
// MissingParamsError until LLM_API_KEY is set.
type llm struct {
	stage.Flags
	provider string
	opts     ai.Options

	mu     sync.Mutex
	client ai.Client
	// newClient is replaced in tests.
	newClient func(provider string, opts ai.Options) (ai.Client, error)
}

func newLLM(p Params) *llm {
	return &llm{
		provider: p.String("LLM_PROVIDER", "openai"),
		opts: ai.Options{
			BaseURL: p.String("LLM_BASE_URL", ""),
			APIKey:  p.String("LLM_API_KEY", ""),
			Model:   p.String("LLM_MODEL", "gpt-4o-mini"),
			Timeout: p.Duration("LLM_TIMEOUT", 120*time.Second),
		},
		newClient: ai.NewClient,
	}
}

func (l *llm) Load(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return nil
	}
	c, err := l.newClient(l.provider, l.opts)
	if err != nil {
		return err
	}
	l.client = c
	return nil
}

func (l *llm) Unload() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	had := l.client != nil
	l.client = nil
	return had
}

func (l *llm) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil
}

func (l *llm) do(ctx context.Context, req ai.Request) (string, error) {
	l.mu.Lock()
	c := l.client
	l.mu.Unlock()
	if c == nil {
		return "", fmt.Errorf("llm/%s: client not loaded", l.provider)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// LLMRecognizer sends each region crop to a vision chat model.
type LLMRecognizer struct{ *llm }

func (r *LLMRecognizer) Name() string { return "llm/" + r.provider }

func (r *LLMRecognizer) Recognize(ctx context.Context, img image.Image, regions []*page.Region) error {
	for _, reg := range regions {
		crop := cropRegion(img, reg.Bounds)
		if crop == nil {
			reg.Text = ""
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, crop); err != nil {
			return err
		}
		text, err := r.do(ctx, ai.Request{
			Prompt:      recognizePrompt,
			ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
			ImageMIME:   "image/png",
			MaxTokens:   512,
		})
		if err != nil {
			return fmt.Errorf("region %v: %w", reg.Bounds, err)
		}
		reg.Text = text
	}
	return nil
}

// cropRegion copies rect out of img, scaled so the text is legible and the
// upload stays small. It returns nil for an empty crop.
func cropRegion(img image.Image, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	w, h := rect.Dx(), rect.Dy()
	scale := 1.0
	if h < minCropHeight {
		scale = float64(minCropHeight) / float64(h)
	}
	if side := float64(max(w, h)) * scale; side > maxCropSide {
		scale = maxCropSide / float64(max(w, h))
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, rect, draw.Src, nil)
	return dst
}

// LLMTranslator translates every kept region of a page in one request. The
// texts travel as a JSON array and come back as one.
type LLMTranslator struct {
	*llm
	target string
	delay  time.Duration
}

func (t *LLMTranslator) Name() string         { return "llm/" + t.provider }
func (t *LLMTranslator) Delay() time.Duration { return t.delay }

func (t *LLMTranslator) Translate(ctx context.Context, regions []*page.Region) error {
	var todo []*page.Region
	var texts []string
	for _, r := range regions {
		if r.Discard || r.TextEmpty() {
			continue
		}
		todo = append(todo, r)
		texts = append(texts, r.Text)
	}
	if len(todo) == 0 {
		return nil
	}
	in, err := json.Marshal(texts)
	if err != nil {
		return err
	}
	out, err := t.do(ctx, ai.Request{
		SystemPrompt: fmt.Sprintf("You translate text from comics and scanned documents into %s. "+
			"The input is a JSON array of strings. Reply with a JSON array of the translations, same length and order, and nothing else.", t.target),
		Prompt:    string(in),
		MaxTokens: 4096,
	})
	if err != nil {
		return err
	}
	translated, err := parseTranslations(out, len(todo))
	if err != nil {
		return err
	}
	for i, r := range todo {
		r.Translation = translated[i]
	}
	return nil
}

// parseTranslations decodes the model's JSON array, tolerating a fenced
// code block around it.
func parseTranslations(s string, want int) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	var out []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil {
		return nil, fmt.Errorf("decode translations: %w", err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("got %d translations for %d texts", len(out), want)
	}
	return out, nil
}

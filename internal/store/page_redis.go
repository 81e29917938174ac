package store

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"

    redis "github.com/redis/go-redis/v9"

    "github.com/local/pagetrans/internal/page"
)

// PageStore keeps completed page texts per run, one hash per absolute page
// index, plus a per page set of finished stages.
type PageStore struct {
    client *redis.Client
}

func NewPageStore(c *redis.Client) *PageStore { return &PageStore{client: c} }

func (s *PageStore) Close() error { return s.client.Close() }

func (s *PageStore) pageKey(runID string, index int) string {
    return fmt.Sprintf("run:%s:page:%d", runID, index)
}

func (s *PageStore) stagesKey(runID, key string) string {
    return fmt.Sprintf("run:%s:stages:%s", runID, key)
}

// PageText is the stored view of one page.
type PageText struct {
    Key         string         `json:"key"`
    Text        string         `json:"text"`
    Translation string         `json:"translation"`
    Regions     []*page.Region `json:"regions,omitempty"`
}

// NewPageText flattens the page regions into newline separated texts.
func NewPageText(p *page.Page) PageText {
    pt := PageText{Key: p.Key, Regions: p.Regions}
    var src, dst []string
    for _, r := range p.Regions {
        if r.Discard { continue }
        src = append(src, r.Text)
        dst = append(dst, r.Translation)
    }
    pt.Text = strings.Join(src, "\n")
    pt.Translation = strings.Join(dst, "\n")
    return pt
}

func (s *PageStore) SavePage(ctx context.Context, runID string, index int, pt PageText) error {
    regions, err := json.Marshal(pt.Regions)
    if err != nil { return fmt.Errorf("encode regions: %w", err) }
    m := map[string]interface{}{
        "key":         pt.Key,
        "text":        pt.Text,
        "translation": pt.Translation,
        "regions":     string(regions),
    }
    return s.client.HSet(ctx, s.pageKey(runID, index), m).Err()
}

func (s *PageStore) GetPage(ctx context.Context, runID string, index int) (PageText, bool, error) {
    res, err := s.client.HGetAll(ctx, s.pageKey(runID, index)).Result()
    if err != nil { return PageText{}, false, err }
    if len(res) == 0 { return PageText{}, false, nil }
    pt := PageText{Key: res["key"], Text: res["text"], Translation: res["translation"]}
    if v := res["regions"]; v != "" {
        _ = json.Unmarshal([]byte(v), &pt.Regions)
    }
    return pt, true, nil
}

// MarkStage records that stage finished for the page key.
func (s *PageStore) MarkStage(ctx context.Context, runID, key, stage string) error {
    return s.client.SAdd(ctx, s.stagesKey(runID, key), stage).Err()
}

func (s *PageStore) Stages(ctx context.Context, runID, key string) ([]string, error) {
    return s.client.SMembers(ctx, s.stagesKey(runID, key)).Result()
}

// AggregateTranslation joins the stored translations of the given absolute
// indices in order, skipping pages that were never stored.
func (s *PageStore) AggregateTranslation(ctx context.Context, runID string, indices []int) (string, error) {
    var parts []string
    for _, i := range indices {
        pt, ok, err := s.GetPage(ctx, runID, i)
        if err != nil { return strings.Join(parts, "\n\n"), err }
        if ok && pt.Translation != "" {
            parts = append(parts, pt.Translation)
        }
    }
    return strings.Join(parts, "\n\n"), nil
}

package store

import (
    "context"
    "fmt"
    "strconv"
    "strings"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Run status values.
const (
    StatusRunning  = "running"
    StatusFinished = "finished"
    StatusStopped  = "stopped"
)

type Status struct {
    Status    string         `json:"status"`
    Progress  int            `json:"progress"`
    Message   string         `json:"message"`
    Total     int            `json:"total"`
    Watermark int            `json:"watermark"`
    Stages    map[string]int `json:"stages,omitempty"`
    Start     *time.Time     `json:"start_time,omitempty"`
    End       *time.Time     `json:"end_time,omitempty"`
}

// StagePercent is the share of targeted pages a stage finished, 0-100.
func (s Status) StagePercent(stage string) int {
    if s.Total <= 0 {
        return 0
    }
    return s.Stages[stage] * 100 / s.Total
}

// RedisStatus keeps one hash per run.
type RedisStatus struct {
    client *redis.Client
    keyNS  string
    ttl    time.Duration
}

func NewRedisStatus(c *redis.Client) *RedisStatus {
    return &RedisStatus{client: c, keyNS: "run", ttl: 7 * 24 * time.Hour}
}

func (s *RedisStatus) key(runID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, runID) }

func stageField(stage string) string { return "stage:" + stage }

func (s *RedisStatus) Set(ctx context.Context, runID string, st Status) error {
    m := map[string]interface{}{
        "status":    st.Status,
        "progress":  st.Progress,
        "message":   st.Message,
        "total":     st.Total,
        "watermark": st.Watermark,
    }
    for name, n := range st.Stages {
        m[stageField(name)] = n
    }
    if st.Start != nil { m["start"] = st.Start.Format(time.RFC3339Nano) }
    if st.End != nil { m["end"] = st.End.Format(time.RFC3339Nano) }
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, s.key(runID), m)
    pipe.Expire(ctx, s.key(runID), s.ttl)
    _, err := pipe.Exec(ctx)
    return err
}

// SetFields updates selected fields without touching the rest of the hash.
func (s *RedisStatus) SetFields(ctx context.Context, runID string, fields map[string]interface{}) error {
    return s.client.HSet(ctx, s.key(runID), fields).Err()
}

// SetStage records the completed count of one stage and the overall progress.
func (s *RedisStatus) SetStage(ctx context.Context, runID, stage string, count, progress int) error {
    return s.SetFields(ctx, runID, map[string]interface{}{stageField(stage): count, "progress": progress})
}

func (s *RedisStatus) Get(ctx context.Context, runID string) (Status, bool, error) {
    res, err := s.client.HGetAll(ctx, s.key(runID)).Result()
    if err != nil { return Status{}, false, err }
    if len(res) == 0 { return Status{}, false, nil }
    return parseStatus(res), true, nil
}

func parseStatus(res map[string]string) Status {
    st := Status{Status: res["status"], Message: res["message"], Watermark: -1}
    st.Progress, _ = strconv.Atoi(res["progress"])
    st.Total, _ = strconv.Atoi(res["total"])
    if v, ok := res["watermark"]; ok {
        if w, err := strconv.Atoi(v); err == nil { st.Watermark = w }
    }
    for field, v := range res {
        name, ok := strings.CutPrefix(field, "stage:")
        if !ok || name == "" { continue }
        n, err := strconv.Atoi(v)
        if err != nil { continue }
        if st.Stages == nil { st.Stages = map[string]int{} }
        st.Stages[name] = n
    }
    if v := res["start"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Start = &t }
    }
    if v := res["end"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.End = &t }
    }
    return st
}

func (s *RedisStatus) Close() error { return s.client.Close() }

// Client returns the underlying Redis client
func (s *RedisStatus) Client() *redis.Client { return s.client }

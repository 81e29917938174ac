package config

import (
    "errors"
    "io/fs"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"

    "github.com/local/pagetrans/internal/stage"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
    Level         string
}

// PipelineConfig selects what a run does and the coordinator policies.
type PipelineConfig struct {
    Stages      stage.Set
    Pages       []string
    LowResource bool

    LowVRAM                 bool
    KeepExistingRegions     bool
    DiscardEmptyOCR         bool
    RightToLeft             bool
    AsyncTranslate          bool
    DeferIntensiveTranslate bool
    StopPollInterval        time.Duration
    StopPollLimit           int
    // TranslateDelay overrides the translator's own delay when set.
    TranslateDelay time.Duration
}

// StrategiesConfig names the strategy per stage and carries their params.
type StrategiesConfig struct {
    Detector   string
    Recognizer string
    Translator string
    Restorer   string
    Params     map[string]string
}

// StorageConfig defines where pages come from and where artifacts go.
type StorageConfig struct {
    ProjectDir      string
    ProjectPDF      string
    PDFDPI          int
    ArtifactBackend string // "fs"|"s3"
    ArtifactDir     string
    S3Bucket        string
    S3Prefix        string
    AWSRegion       string
    AWSAccessKey    string
    AWSSecretKey    string
}

// RedisConfig enables the Redis progress and error sinks. Empty URL disables them.
type RedisConfig struct {
    URL         string
    ErrorStream string
}

// ServerConfig is the HTTP surface for health, metrics and progress.
type ServerConfig struct {
    Addr string
}

// Config is the top-level configuration.
type Config struct {
    Logging    LoggingConfig
    Axiom      AxiomConfig
    Pipeline   PipelineConfig
    Strategies StrategiesConfig
    Storage    StorageConfig
    Redis      RedisConfig
    Server     ServerConfig
}

// strategyParams are passed through to strategy factories untouched.
var strategyParams = []string{
    "LLM_PROVIDER", "LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_TIMEOUT", "LLM_DELAY",
    "TRANSLATE_TARGET_LANG", "SIDECAR_DIR", "BLOB_THRESHOLD", "BLOB_MIN_PIXELS", "BLOB_GAP",
    "RESTORE_RING",
}

// Load reads .env style files into the environment. Variables already set
// win, and missing files are skipped.
func Load(files ...string) error {
    if len(files) == 0 {
        files = []string{".env"}
    }
    for _, f := range files {
        if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
            return err
        }
    }
    return nil
}

// FromEnv loads configuration from environment with sensible defaults. It
// fails only on a stage list it cannot parse.
func FromEnv() (Config, error) {
    cfg := Config{}

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/pagetrans.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    // Axiom defaults
    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_pagetrans",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
        Level:         getEnv("AXIOM_LEVEL", "info"),
    }

    stages, err := stage.ParseSet(getEnv("PIPELINE_STAGES", ""))
    if err != nil {
        return cfg, err
    }
    cfg.Pipeline = PipelineConfig{
        Stages:                  stages,
        Pages:                   parseList(getEnv("PIPELINE_PAGES", "")),
        LowResource:             parseBool(getEnv("PIPELINE_LOW_RESOURCE", "0")),
        LowVRAM:                 parseBool(getEnv("PIPELINE_LOW_VRAM", "0")),
        KeepExistingRegions:     parseBool(getEnv("PIPELINE_KEEP_EXISTING_REGIONS", "0")),
        DiscardEmptyOCR:         parseBool(getEnv("PIPELINE_DISCARD_EMPTY_OCR", "0")),
        RightToLeft:             parseBool(getEnv("PIPELINE_RIGHT_TO_LEFT", "0")),
        AsyncTranslate:          parseBool(getEnv("PIPELINE_ASYNC_TRANSLATE", "true")),
        DeferIntensiveTranslate: parseBool(getEnv("PIPELINE_DEFER_INTENSIVE_TRANSLATE", "true")),
        StopPollInterval:        parseDuration(getEnv("PIPELINE_STOP_POLL_INTERVAL", "50ms"), 50*time.Millisecond),
        StopPollLimit:           parseInt(getEnv("PIPELINE_STOP_POLL_LIMIT", "200"), 200),
        TranslateDelay:          parseDuration(getEnv("PIPELINE_TRANSLATE_DELAY", ""), -1),
    }

    cfg.Strategies = StrategiesConfig{
        Detector:   getEnv("DETECTOR", "blob"),
        Recognizer: getEnv("RECOGNIZER", "llm"),
        Translator: getEnv("TRANSLATOR", "llm"),
        Restorer:   getEnv("RESTORER", "fill"),
        Params:     map[string]string{},
    }
    for _, k := range strategyParams {
        if v := os.Getenv(k); v != "" {
            cfg.Strategies.Params[k] = v
        }
    }

    cfg.Storage = StorageConfig{
        ProjectDir:      getEnv("PROJECT_DIR", ""),
        ProjectPDF:      getEnv("PROJECT_PDF", ""),
        PDFDPI:          parseInt(getEnv("PDF_DPI", "150"), 150),
        ArtifactBackend: strings.ToLower(getEnv("ARTIFACT_BACKEND", "fs")),
        ArtifactDir:     getEnv("ARTIFACT_DIR", "uploads/artifacts"),
        S3Bucket:        getEnv("AWS_S3_BUCKET", ""),
        S3Prefix:        getEnv("AWS_S3_PREFIX", "pagetrans"),
        AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
        AWSAccessKey:    getEnv("AWS_ACCESS_KEY_ID", ""),
        AWSSecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
    }

    cfg.Redis = RedisConfig{
        URL:         getEnv("REDIS_URL", ""),
        ErrorStream: getEnv("REDIS_ERROR_STREAM", "pagetrans:errors"),
    }

    cfg.Server = ServerConfig{Addr: getEnv("HTTP_ADDR", ":8080")}

    return cfg, nil
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func parseList(s string) []string {
    var out []string
    for _, part := range strings.Split(s, ",") {
        if v := strings.TrimSpace(part); v != "" {
            out = append(out, v)
        }
    }
    return out
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}

package main

import (
    "context"
    "errors"
    "net/http"
    "os/signal"
    "syscall"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    "github.com/local/pagetrans/internal/api"
    "github.com/local/pagetrans/internal/artifact"
    cfgpkg "github.com/local/pagetrans/internal/config"
    logpkg "github.com/local/pagetrans/internal/logger"
    "github.com/local/pagetrans/internal/metrics"
    "github.com/local/pagetrans/internal/page"
    "github.com/local/pagetrans/internal/pipeline"
    "github.com/local/pagetrans/internal/report"
    "github.com/local/pagetrans/internal/source"
    "github.com/local/pagetrans/internal/stage"
    "github.com/local/pagetrans/internal/statuscheck"
    "github.com/local/pagetrans/internal/store"
    "github.com/local/pagetrans/internal/strategy"
)

func main() {
    _ = cfgpkg.Load()
    cfg, cfgErr := cfgpkg.FromEnv()

    // Init logging
    _ = logpkg.Init(logpkg.Options{
        Level:        cfg.Logging.Level,
        Pretty:       cfg.Logging.Pretty,
        File:         cfg.Logging.File,
        MaxSizeMB:    cfg.Logging.MaxSizeMB,
        MaxBackups:   cfg.Logging.MaxBackups,
        MaxAgeDays:   cfg.Logging.MaxAgeDays,
        Compress:     cfg.Logging.Compress,
        SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey:  cfg.Axiom.APIKey,
        AxiomOrgID:   cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush:   cfg.Axiom.FlushInterval,
        AxiomLevel:   cfg.Axiom.Level,
    })
    defer logpkg.Close()
    if cfgErr != nil {
        log.Fatal().Err(cfgErr).Msg("invalid configuration")
    }
    metrics.Init()

    // SIGINT/SIGTERM cancel ctx, which stops the run after in-flight pages
    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    // Pages
    project, closeSource, err := openProject(cfg.Storage)
    if err != nil {
        log.Fatal().Err(err).Msg("failed to open project")
    }
    defer closeSource()

    // Artifacts
    var artifacts pipeline.ArtifactStore
    var bucket statuscheck.Pinger
    switch cfg.Storage.ArtifactBackend {
    case "s3":
        s3s, err := artifact.NewS3(ctx, artifact.S3Options{
            Bucket:          cfg.Storage.S3Bucket,
            Prefix:          cfg.Storage.S3Prefix,
            Region:          cfg.Storage.AWSRegion,
            AccessKeyID:     cfg.Storage.AWSAccessKey,
            SecretAccessKey: cfg.Storage.AWSSecretKey,
        })
        if err != nil {
            log.Fatal().Err(err).Msg("failed to init s3 artifact store")
        }
        artifacts, bucket = s3s, s3s
    default:
        local, err := artifact.NewFS(cfg.Storage.ArtifactDir)
        if err != nil {
            log.Fatal().Err(err).Msg("failed to init artifact dir")
        }
        artifacts = local
    }

    // Progress and error sinks
    var notifiers pipeline.Notifiers
    reporters := report.Multi{report.NewLogReporter()}
    var rdb *redis.Client
    var status *store.RedisStatus
    var pages *store.PageStore
    var coord *pipeline.Coordinator
    if cfg.Redis.URL != "" {
        rdb, err = store.Open(cfg.Redis.URL)
        if err != nil {
            log.Fatal().Err(err).Msg("failed to connect to redis")
        }
        defer rdb.Close()
        status = store.NewRedisStatus(rdb)
        pages = store.NewPageStore(rdb)
        sink := store.NewRunSink(status, pages)
        defer sink.Close()
        notifiers = append(notifiers, sink)

        stream := report.NewStreamReporter(rdb, cfg.Redis.ErrorStream, func() string {
            if h := coord.Active(); h != nil {
                return h.ID()
            }
            return ""
        })
        defer stream.Close()
        reporters = append(reporters, stream)
    }

    opts := pipeline.Options{
        KeepExistingRegions:     cfg.Pipeline.KeepExistingRegions,
        DiscardEmpty:            cfg.Pipeline.DiscardEmptyOCR,
        RightToLeft:             cfg.Pipeline.RightToLeft,
        LowVRAM:                 cfg.Pipeline.LowVRAM,
        AsyncTranslate:          cfg.Pipeline.AsyncTranslate,
        DeferIntensiveTranslate: cfg.Pipeline.DeferIntensiveTranslate,
        PollInterval:            cfg.Pipeline.StopPollInterval,
        PollLimit:               cfg.Pipeline.StopPollLimit,
    }
    coord = pipeline.New(pipeline.Dependencies{
        Project:   project,
        Artifacts: artifacts,
        Notifier:  notifiers,
        Reporter:  reporters,
    }, opts)

    // Strategies for the enabled stages only
    names := map[stage.Kind]string{
        stage.Detect:    cfg.Strategies.Detector,
        stage.Recognize: cfg.Strategies.Recognizer,
        stage.Translate: cfg.Strategies.Translator,
        stage.Restore:   cfg.Strategies.Restorer,
    }
    usesLLM := false
    for _, k := range cfg.Pipeline.Stages.Kinds() {
        m, err := strategy.Build(k, names[k], strategy.Params(cfg.Strategies.Params))
        if err != nil {
            log.Fatal().Err(err).Str("stage", k.String()).Msg("failed to build strategy")
        }
        if err := coord.SetStrategy(k, m); err != nil {
            log.Fatal().Err(err).Str("stage", k.String()).Msg("failed to set strategy")
        }
        usesLLM = usesLLM || names[k] == "llm"
    }
    if cfg.Pipeline.TranslateDelay >= 0 {
        coord.Translator().SetDelay(cfg.Pipeline.TranslateDelay)
    }

    // HTTP: health, metrics, progress, stop
    var redisPing statuscheck.Pinger
    if rdb != nil {
        redisPing = statuscheck.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
    }
    deps := api.Dependencies{
        Pipeline: coord,
        Health: statuscheck.New(statuscheck.Options{
            Redis:       redisPing,
            Artifacts:   bucket,
            ArtifactDir: cfg.Storage.ArtifactDir,
            LLMProvider: cfg.Strategies.Params["LLM_PROVIDER"],
            LLMKey:      cfg.Strategies.Params["LLM_API_KEY"],
            LLMNeeded:   usesLLM,
        }),
    }
    if status != nil {
        deps.Status, deps.Pages = status, pages
    }
    mux := http.NewServeMux()
    api.New(deps).RegisterRoutes(mux)
    srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
    go func() {
        log.Info().Msgf("HTTP server listening on %s", cfg.Server.Addr)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Error().Err(err).Msg("http server error")
        }
    }()

    mode := pipeline.Normal
    if cfg.Pipeline.LowResource {
        mode = pipeline.LowResource
    }
    h, err := coord.StartRun(ctx, pipeline.RunRequest{
        Stages: cfg.Pipeline.Stages,
        Pages:  cfg.Pipeline.Pages,
        Mode:   mode,
    })
    if err != nil {
        log.Fatal().Err(err).Msg("failed to start run")
    }
    outcome := h.Wait()
    log.Info().Str("run_id", h.ID()).Str("outcome", outcome.String()).Int("watermark", h.Watermark()).Msg("run complete")

    shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancelShutdown()
    _ = srv.Shutdown(shutdownCtx)
}

// openProject builds the page set from PROJECT_PDF or PROJECT_DIR.
func openProject(sc cfgpkg.StorageConfig) (*page.Project, func(), error) {
    if sc.ProjectPDF != "" {
        doc, err := source.OpenPDF(sc.ProjectPDF, sc.PDFDPI)
        if err != nil {
            return nil, nil, err
        }
        return doc.Project(), func() { _ = doc.Close() }, nil
    }
    if sc.ProjectDir == "" {
        return nil, nil, errors.New("PROJECT_DIR or PROJECT_PDF is required")
    }
    pr, err := source.FromDir(sc.ProjectDir)
    if err != nil {
        return nil, nil, err
    }
    return pr, func() {}, nil
}

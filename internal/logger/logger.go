package logger

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Field names shared by every package that logs about runs.
const (
    FieldService   = "service"
    FieldComponent = "component"
    FieldRun       = "run_id"
    FieldStage     = "stage"
    FieldPage      = "page"
)

// Options defines logger initialization parameters.
type Options struct {
    Level      string
    Pretty     bool
    Service    string    // defaults to "pagetrans"
    Output     io.Writer // defaults to stdout
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool

    SendToAxiom  bool
    AxiomAPIKey  string
    AxiomOrgID   string
    AxiomDataset string
    AxiomFlush   time.Duration
    AxiomLevel   string // lowest level shipped, defaults to info
}

var (
    // base carries the service field but no component; With derives from it
    // so a component is never written twice.
    base = log.Logger
    ax   *axiomClient
)

// Init builds the process logger. The global zerolog logger is tagged
// component=main; packages take their own child through With.
func Init(opts Options) error {
    if opts.Service == "" {
        opts.Service = "pagetrans"
    }
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || opts.Level == "" {
        lvl = zerolog.InfoLevel
    }
    ws, err := writers(opts)
    if err != nil {
        return err
    }

    zerolog.TimeFieldFormat = time.RFC3339
    base = zerolog.New(io.MultiWriter(ws...)).Level(lvl).With().
        Timestamp().
        Str(FieldService, opts.Service).
        Logger()
    log.Logger = With("main")
    return nil
}

// writers assembles the outputs: the rotating file when set, the console or
// Output, and Axiom when enabled. An Axiom setup failure leaves it out.
func writers(opts Options) ([]io.Writer, error) {
    var ws []io.Writer
    if opts.File != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
            return nil, fmt.Errorf("create logs dir: %w", err)
        }
        ws = append(ws, &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    opts.MaxSizeMB,
            MaxBackups: opts.MaxBackups,
            MaxAge:     opts.MaxAgeDays,
            Compress:   opts.Compress,
        })
    }

    out := opts.Output
    if out == nil {
        out = os.Stdout
    }
    if opts.Pretty {
        ws = append(ws, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
    } else {
        ws = append(ws, out)
    }

    if opts.SendToAxiom && opts.AxiomAPIKey != "" {
        client, err := newAxiomClient(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
        if err != nil {
            fmt.Fprintf(os.Stderr, "axiom disabled: %v\n", err)
        } else {
            ax = client
            floor, err := zerolog.ParseLevel(opts.AxiomLevel)
            if err != nil || opts.AxiomLevel == "" {
                floor = zerolog.InfoLevel
            }
            ws = append(ws, &axiomWriter{send: client.Send, min: floor})
        }
    }
    return ws, nil
}

// Close flushes any buffered external loggers.
func Close() {
    if ax != nil {
        _ = ax.Close()
        ax = nil
    }
}

// With returns a child of the process logger tagged with component.
func With(component string) zerolog.Logger {
    return base.With().Str(FieldComponent, component).Logger()
}

// ForRun tags l with a run id.
func ForRun(l zerolog.Logger, runID string) zerolog.Logger {
    return l.With().Str(FieldRun, runID).Logger()
}

// ForStage tags l with a stage name.
func ForStage(l zerolog.Logger, stage string) zerolog.Logger {
    return l.With().Str(FieldStage, stage).Logger()
}

// axiomWriter forwards JSON lines at or above min to Axiom.
type axiomWriter struct {
    send func(axiom.Event)
    min  zerolog.Level
}

func (w *axiomWriter) Write(p []byte) (int, error) {
    var ev map[string]interface{}
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = map[string]interface{}{"message": string(p), zerolog.LevelFieldName: zerolog.InfoLevel.String()}
    }
    if s, ok := ev[zerolog.LevelFieldName].(string); ok {
        if lvl, err := zerolog.ParseLevel(s); err == nil && lvl < w.min {
            return len(p), nil
        }
    }
    if _, ok := ev[ingest.TimestampField]; !ok {
        ev[ingest.TimestampField] = time.Now()
    }
    w.send(axiom.Event(ev))
    return len(p), nil
}

// axiomClient batches events and ingests them on a timer or when a batch
// fills up. Events are dropped when the buffer is full.
type axiomClient struct {
    client  *axiom.Client
    dataset string
    ch      chan axiom.Event
    wg      sync.WaitGroup
    cancel  context.CancelFunc
}

const axiomBatch = 200

func newAxiomClient(token, orgID, dataset string, flushEvery time.Duration) (*axiomClient, error) {
    if dataset == "" {
        dataset = "dev_pagetrans"
    }
    if flushEvery <= 0 {
        flushEvery = 10 * time.Second
    }
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" {
        opts = append(opts, axiom.SetOrganizationID(orgID))
    }
    c, err := axiom.NewClient(opts...)
    if err != nil {
        return nil, err
    }
    ctx, cancel := context.WithCancel(context.Background())
    ac := &axiomClient{client: c, dataset: dataset, ch: make(chan axiom.Event, 1000), cancel: cancel}
    ac.wg.Add(1)
    go ac.loop(ctx, flushEvery)
    return ac, nil
}

func (a *axiomClient) Send(ev axiom.Event) {
    select {
    case a.ch <- ev:
    default:
    }
}

func (a *axiomClient) loop(ctx context.Context, flushEvery time.Duration) {
    defer a.wg.Done()
    ticker := time.NewTicker(flushEvery)
    defer ticker.Stop()
    batch := make([]axiom.Event, 0, axiomBatch)
    flush := func() {
        if len(batch) == 0 {
            return
        }
        fctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        _, _ = a.client.IngestEvents(fctx, a.dataset, batch)
        cancel()
        batch = batch[:0]
    }
    for {
        select {
        case <-ctx.Done():
            for {
                select {
                case ev := <-a.ch:
                    batch = append(batch, ev)
                default:
                    flush()
                    return
                }
            }
        case <-ticker.C:
            flush()
        case ev := <-a.ch:
            batch = append(batch, ev)
            if len(batch) >= axiomBatch {
                flush()
            }
        }
    }
}

func (a *axiomClient) Close() error {
    a.cancel()
    a.wg.Wait()
    return nil
}

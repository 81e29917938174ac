package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevLog, prevBase := log.Logger, base
	t.Cleanup(func() { log.Logger, base = prevLog, prevBase })
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestInitTagsServiceAndComponent(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: "debug", Output: &buf}))

	log.Info().Msg("starting")
	ForRun(With("pipeline"), "r1").Info().Msg("run started")
	ForStage(ForRun(With("worker"), "r1"), "detect").Debug().Str(FieldPage, "p0").Msg("page done")

	got := lines(t, &buf)
	require.Len(t, got, 3)
	assert.Equal(t, "main", got[0][FieldComponent])
	assert.Equal(t, "pagetrans", got[0][FieldService])

	assert.Equal(t, "pipeline", got[1][FieldComponent])
	assert.Equal(t, "r1", got[1][FieldRun])
	assert.Equal(t, "pagetrans", got[1][FieldService])

	assert.Equal(t, "worker", got[2][FieldComponent])
	assert.Equal(t, "detect", got[2][FieldStage])
	assert.Equal(t, "p0", got[2][FieldPage])
	assert.Equal(t, 1, strings.Count(strings.Split(buf.String(), "\n")[2], `"component"`))
}

func TestInitLevel(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	require.NoError(t, Init(Options{Level: "warn", Output: &buf, Service: "ocr", File: filepath.Join(t.TempDir(), "logs", "app.log")}))
	assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
	With("x").Info().Msg("hidden")
	With("x").Warn().Msg("shown")
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "ocr", got[0][FieldService])

	require.NoError(t, Init(Options{Level: "chatty", Output: &buf}))
	assert.Equal(t, zerolog.InfoLevel, log.Logger.GetLevel())
}

func TestAxiomWriterFiltersLevel(t *testing.T) {
	var sent []axiom.Event
	w := &axiomWriter{send: func(ev axiom.Event) { sent = append(sent, ev) }, min: zerolog.WarnLevel}

	for _, l := range []string{
		`{"level":"debug","message":"a"}`,
		`{"level":"info","message":"b"}`,
		`{"level":"error","message":"c","service":"pagetrans"}`,
		`not json`,
	} {
		n, err := w.Write([]byte(l))
		require.NoError(t, err)
		assert.Equal(t, len(l), n)
	}

	require.Len(t, sent, 1)
	assert.Equal(t, "c", sent[0]["message"])
	assert.Equal(t, "pagetrans", sent[0]["service"])
	assert.Contains(t, sent[0], "_time")
}

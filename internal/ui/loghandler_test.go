package ui_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/snapshot"
	"github.com/bamsammich/strata/internal/store"
	"github.com/bamsammich/strata/internal/ui"
)

// consoleAndFile builds the handler pair the CLI installs: text on the
// console at the chosen level, JSON for the log file at debug.
func consoleAndFile(console, file *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(ui.NewMultiHandler(
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	))
}

func jsonMessages(t *testing.T, buf *bytes.Buffer) map[string]map[string]any {
	t.Helper()
	out := make(map[string]map[string]any)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out[rec["msg"].(string)] = rec
	}
	return out
}

// cycleRepo takes two snapshots, then points the first record back at the
// second so resolving either walks a cycle.
func cycleRepo(t *testing.T, logger *slog.Logger) (*snapshot.Repository, domain.SnapshotID) {
	t.Helper()
	root := t.TempDir()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	repo, err := snapshot.Open(context.Background(), snapshot.Options{
		Root:   root,
		Now:    func() time.Time { return now },
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("one"), 0o644))
	first, err := repo.Take(context.Background())
	require.NoError(t, err)
	now = now.Add(time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("two"), 0o644))
	second, err := repo.Take(context.Background())
	require.NoError(t, err)

	looped, err := json.Marshal(domain.Record{ID: first, Data: json.RawMessage(`{}`), PrevID: &second})
	require.NoError(t, err)
	path := filepath.Join(repo.BackupDir(), store.RecordName(first))
	require.NoError(t, os.WriteFile(path, looped, 0o644))
	return repo, second
}

func TestRepositoryLogLevels(t *testing.T) {
	tests := []struct {
		name        string
		level       slog.Level
		wantWritten bool
		wantAnomaly bool
	}{
		{"default", slog.LevelWarn, false, true},
		{"verbose", slog.LevelDebug, true, true},
		{"quiet", slog.LevelError, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var console, file bytes.Buffer
			logger := consoleAndFile(&console, &file, tt.level)
			repo, latest := cycleRepo(t, logger)

			res, err := repo.State(context.Background(), latest)
			require.NoError(t, err)
			require.NotNil(t, res.Anomaly)
			assert.Equal(t, domain.AnomalyCycle, res.Anomaly.Kind)

			assert.Equal(t, tt.wantWritten, strings.Contains(console.String(), "msg=\"snapshot written\""))
			assert.Equal(t, tt.wantAnomaly, strings.Contains(console.String(), "msg=\"snapshot chain anomaly\""))

			// The log file gets everything regardless of the console level.
			msgs := jsonMessages(t, &file)
			require.Contains(t, msgs, "snapshot written")
			assert.Equal(t, "INFO", msgs["snapshot written"]["level"])
			require.Contains(t, msgs, "snapshot chain anomaly")
			anomaly := msgs["snapshot chain anomaly"]
			assert.Equal(t, "WARN", anomaly["level"])
			assert.Equal(t, "cycle", anomaly["kind"])
			assert.Equal(t, string(latest), anomaly["snapshot"])
		})
	}
}

func TestMultiHandlerCarriesAttrsAndGroups(t *testing.T) {
	var console, file bytes.Buffer
	logger := consoleAndFile(&console, &file, slog.LevelInfo).
		With("root", "/srv/data").
		WithGroup("chain")

	logger.Info("resolved", "depth", 3)

	assert.Contains(t, console.String(), "root=/srv/data")
	assert.Contains(t, console.String(), "chain.depth=3")

	msgs := jsonMessages(t, &file)
	require.Contains(t, msgs, "resolved")
	assert.Equal(t, "/srv/data", msgs["resolved"]["root"])
	assert.Equal(t, map[string]any{"depth": float64(3)}, msgs["resolved"]["chain"])
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiHandlerKeepsWritingPastAFailure(t *testing.T) {
	var console bytes.Buffer
	h := ui.NewMultiHandler(
		slog.NewJSONHandler(brokenWriter{}, nil),
		slog.NewTextHandler(&console, nil),
	)

	r := slog.NewRecord(time.Now(), slog.LevelWarn, "catalog insert failed", 0)
	err := h.Handle(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, console.String(), "catalog insert failed")
}

func TestMultiHandlerEnabled(t *testing.T) {
	var a, b bytes.Buffer
	h := ui.NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	ctx := context.Background()
	assert.True(t, h.Enabled(ctx, slog.LevelInfo))
	assert.False(t, h.Enabled(ctx, slog.LevelDebug))

	require.NoError(t, h.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "snapshot restored", 0)))
	assert.Empty(t, a.String())
	assert.Contains(t, b.String(), "snapshot restored")
}

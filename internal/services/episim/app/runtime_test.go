package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/id"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage/sqlite"
)

const runtimeScenario = `
name: village
seed: 3
start: "2020-03-02"
days: 6
population: persons.tsv
mobility: visits.tsv
infection:
  calibration: 0.0001
  activities:
    - {name: home, contact_intensity: 1, home: true}
    - {name: work, contact_intensity: 1}
seeding:
  initial:
    "": 2
`

func writeRuntimeScenario(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	var persons, visits strings.Builder
	persons.WriteString("id\tage\thousehold\tdistrict\n")
	visits.WriteString("weekday\tcontainer\tactivity\tspaces\tperson\tenter\texit\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&persons, "p%02d\t%d\th%d\tcentre\n", i, 20+i, i/2)
		for _, wd := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
			fmt.Fprintf(&visits, "%s\thome-%d\thome\t1\tp%02d\t64800\t111600\n", wd, i/2, i)
			fmt.Fprintf(&visits, "%s\twork-%d\twork\t10\tp%02d\t28800\t57600\n", wd, i%2, i)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "persons.tsv"), []byte(persons.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visits.tsv"), []byte(visits.String()), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(runtimeScenario), 0o644))
	return path
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestRunCompletesAndRecordsReports(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	runID := id.NewRunID()
	var summary bytes.Buffer
	cfg := RuntimeConfig{
		ScenarioPath:    writeRuntimeScenario(t),
		RunID:           runID,
		CheckpointEvery: 2,
		DBPath:          filepath.Join(dir, "db", "episim.db"),
		ReportPath:      filepath.Join(dir, "report.tsv"),
		Locale:          "en",
		Summary:         &summary,
		Logger:          quietLogger(),
	}

	require.NoError(t, Run(ctx, cfg))

	store, err := sqlite.Open(ctx, cfg.DBPath)
	require.NoError(t, err)
	defer store.Close()

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunCompleted, run.Status)
	assert.Equal(t, "village", run.Scenario)
	assert.Equal(t, int64(3), run.Seed)

	snaps, err := store.ListSnapshots(ctx, runID)
	require.NoError(t, err)
	require.Len(t, snaps, 6)
	for i, snap := range snaps {
		assert.Equal(t, i, snap.Day)
	}
	total := 0
	for _, n := range snaps[len(snaps)-1].Status {
		total += n
	}
	assert.Equal(t, 20, total)

	tsv, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(tsv)), "\n")
	assert.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "day\tdate"))

	assert.Contains(t, summary.String(), "run "+runID+" finished day 5")
}

func TestRunIsReproducibleForSameSeed(t *testing.T) {
	ctx := context.Background()
	path := writeRuntimeScenario(t)
	dir := t.TempDir()

	infections := func(dbName string) []int {
		runID := id.NewRunID()
		cfg := RuntimeConfig{ScenarioPath: path, RunID: runID, Seed: 11, DBPath: filepath.Join(dir, dbName), Logger: quietLogger()}
		require.NoError(t, Run(ctx, cfg))
		store, err := sqlite.Open(ctx, cfg.DBPath)
		require.NoError(t, err)
		defer store.Close()
		snaps, err := store.ListSnapshots(ctx, runID)
		require.NoError(t, err)
		out := make([]int, len(snaps))
		for i, snap := range snaps {
			out[i] = snap.NewInfections
		}
		return out
	}

	assert.Equal(t, infections("a.db"), infections("b.db"))
}

func TestRunResumeContinuesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	path := writeRuntimeScenario(t)
	dbPath := filepath.Join(t.TempDir(), "episim.db")
	runID := id.NewRunID()

	require.NoError(t, Run(ctx, RuntimeConfig{ScenarioPath: path, RunID: runID, Days: 3, CheckpointEvery: 1, DBPath: dbPath, Logger: quietLogger()}))
	require.NoError(t, Run(ctx, RuntimeConfig{ScenarioPath: path, RunID: runID, Resume: true, CheckpointEvery: 1, DBPath: dbPath, Logger: quietLogger()}))

	store, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()
	snaps, err := store.ListSnapshots(ctx, runID)
	require.NoError(t, err)
	require.Len(t, snaps, 6)
	assert.Equal(t, 5, snaps[5].Day)
}

func TestRunWithoutSeedRecordsGeneratedSeed(t *testing.T) {
	ctx := context.Background()
	path := writeRuntimeScenario(t)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(raw), "seed: 3", "seed: 0", 1)), 0o644))
	dbPath := filepath.Join(t.TempDir(), "episim.db")
	runID := id.NewRunID()

	require.NoError(t, Run(ctx, RuntimeConfig{ScenarioPath: path, RunID: runID, Days: 2, CheckpointEvery: 1, DBPath: dbPath, Logger: quietLogger()}))
	seedOf := func() int64 {
		store, err := sqlite.Open(ctx, dbPath)
		require.NoError(t, err)
		defer store.Close()
		run, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		return run.Seed
	}
	first := seedOf()
	assert.NotZero(t, first)

	require.NoError(t, Run(ctx, RuntimeConfig{ScenarioPath: path, RunID: runID, Days: 4, Resume: true, CheckpointEvery: 1, DBPath: dbPath, Logger: quietLogger()}))
	assert.Equal(t, first, seedOf())
}

func TestRunCanceledRecordsStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dbPath := filepath.Join(t.TempDir(), "episim.db")
	runID := id.NewRunID()

	err := Run(ctx, RuntimeConfig{ScenarioPath: writeRuntimeScenario(t), RunID: runID, DBPath: dbPath, Logger: quietLogger()})
	require.ErrorIs(t, err, context.Canceled)

	store, err := sqlite.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunCanceled, run.Status)
}

func TestRunRejectsBadInputs(t *testing.T) {
	ctx := context.Background()

	err := Run(ctx, RuntimeConfig{Logger: quietLogger()})
	require.Error(t, err)

	err = Run(ctx, RuntimeConfig{ScenarioPath: writeRuntimeScenario(t), RunID: "not-a-uuid", DBPath: ":memory:", Logger: quietLogger()})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidConfig, apperrors.GetCode(err))

	err = Run(ctx, RuntimeConfig{ScenarioPath: filepath.Join(t.TempDir(), "missing.yaml"), DBPath: ":memory:", Logger: quietLogger()})
	require.Error(t, err)
}

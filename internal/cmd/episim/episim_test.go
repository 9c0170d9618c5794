package episim

import (
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("episim", flag.ContinueOnError)
	t.Setenv("EPISIM_DB_PATH", "/tmp/runs.db")
	t.Setenv("EPISIM_SEED", "99")

	cfg, err := ParseConfig(fs, []string{"-days", "30", "-resume", "scenarios/base.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/runs.db", cfg.DBPath)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 30, cfg.Days)
	assert.True(t, cfg.Resume)
	assert.Equal(t, "scenarios/base.yaml", cfg.Scenario)
	assert.Equal(t, 7, cfg.CheckpointEvery)
	assert.Equal(t, "en", cfg.Locale)
}

func TestParseConfig_ScenarioFlagWinsOverPositional(t *testing.T) {
	fs := flag.NewFlagSet("episim", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, []string{"-scenario", "a.yaml", "b.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "a.yaml", cfg.Scenario)
}

func TestParseConfig_RejectsBadEnv(t *testing.T) {
	fs := flag.NewFlagSet("episim", flag.ContinueOnError)
	t.Setenv("EPISIM_DAYS", "many")

	_, err := ParseConfig(fs, nil)
	require.Error(t, err)
}

func TestRun_RequiresScenario(t *testing.T) {
	t.Setenv("EPISIM_OTEL_ENDPOINT", "")
	err := Run(context.Background(), Config{DBPath: ":memory:", Quiet: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario path is required")
}

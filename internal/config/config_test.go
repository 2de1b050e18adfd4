package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambuplan/internal/planner"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := fromLookup(env(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr())
	assert.Equal(t, "swarm", c.Planner)
	assert.True(t, c.Migrate)
	assert.Equal(t, planner.DefaultConfig(), c.Solver)
	assert.Zero(t, c.RateRPS)
}

func TestFromEnvironment(t *testing.T) {
	c, err := fromLookup(env(map[string]string{
		"PORT":         "9000",
		"DATABASE_URL": "postgres://x",
		"REDIS_URL":    "redis://localhost:6379/0",
		"RATE_RPS":     "2.5",
		"PLANNER":      " Exact ",
		"DB_MIGRATE":   "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Addr())
	assert.Equal(t, "exact", c.Planner)
	assert.Equal(t, 3, c.RateBurst)
	assert.False(t, c.Migrate)
	red := c.Redacted()
	assert.Equal(t, true, red["HAS_DATABASE_URL"])
	assert.Equal(t, false, red["HAS_SQLITE_PATH"])
	assert.NotContains(t, red, "DATABASE_URL")
}

func TestBadEnvironment(t *testing.T) {
	_, err := fromLookup(env(map[string]string{"RATE_RPS": "fast", "RATE_BURST": "-1", "PLANNER": "greedy"}))
	require.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, planner.ErrUnknownPlanner)
	assert.Contains(t, err.Error(), "RATE_RPS")
	assert.Contains(t, err.Error(), "RATE_BURST")
}

func TestPlannerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 77
swarm:
  size: 12
  maxIterations: 200
  inertia: 0.5
  timeBudget: 250ms
coverage:
  rounds: 3
`), 0o600))

	c, err := fromLookup(env(map[string]string{"PLANNER_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, int64(77), c.Solver.Seed)
	assert.Equal(t, 12, c.Solver.Swarm.SwarmSize)
	assert.Equal(t, 200, c.Solver.Swarm.MaxIterations)
	assert.Equal(t, 0.5, c.Solver.Swarm.Inertia)
	assert.Equal(t, 250*time.Millisecond, c.Solver.Swarm.TimeBudget)
	assert.Equal(t, 3, c.Solver.Coverage.Rounds)
	// untouched keys keep their defaults
	def := planner.DefaultConfig()
	assert.Equal(t, def.Swarm.Social, c.Solver.Swarm.Social)
	assert.Equal(t, def.Coverage.Seedings, c.Solver.Coverage.Seedings)
}

func TestParsePlannerRejects(t *testing.T) {
	base := planner.DefaultConfig()
	for name, doc := range map[string]string{
		"unknown key":   "swarm:\n  speed: 3\n",
		"negative":      "swarm:\n  size: -2\n",
		"bad duration":  "swarm:\n  timeBudget: soon\n",
		"not a mapping": "- 1\n- 2\n",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ParsePlanner([]byte(doc), base)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Equal(t, base, got)
		})
	}
	got, err := ParsePlanner(nil, base)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestMissingPlannerFile(t *testing.T) {
	_, err := fromLookup(env(map[string]string{"PLANNER_CONFIG": "/nonexistent/planner.yaml"}))
	assert.Error(t, err)
}

func TestSamplePlannerFile(t *testing.T) {
	c, err := LoadPlanner(filepath.Join("..", "..", "configs", "planner.yaml"), planner.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.Seed)
	assert.Equal(t, 2*time.Second, c.Swarm.TimeBudget)
	assert.Equal(t, 19, c.Coverage.Seedings)
}

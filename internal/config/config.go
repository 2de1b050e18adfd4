// Package config collects process settings from the environment and the
// optional planner YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ambuplan/internal/planner"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Port          string
	DatabaseURL   string
	SQLitePath    string
	RedisURL      string
	RateRPS       float64
	RateBurst     int
	Planner       string
	PlannerConfig string
	Migrate       bool
	// Solver holds defaults for every planner the process builds.
	Solver planner.Config
}

// FromEnv reads PORT, DATABASE_URL, SQLITE_PATH, REDIS_URL, RATE_RPS,
// RATE_BURST, PLANNER, PLANNER_CONFIG and DB_MIGRATE. PLANNER_CONFIG names
// a YAML file loaded over the solver defaults.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	c := Config{
		Port:          "8080",
		DatabaseURL:   get("DATABASE_URL"),
		SQLitePath:    get("SQLITE_PATH"),
		RedisURL:      get("REDIS_URL"),
		Planner:       strings.ToLower(get("PLANNER")),
		PlannerConfig: get("PLANNER_CONFIG"),
		Migrate:       get("DB_MIGRATE") != "false",
		Solver:        planner.DefaultConfig(),
	}
	if v := get("PORT"); v != "" {
		c.Port = v
	}
	if c.Planner == "" {
		c.Planner = "swarm"
	}
	var errs []error
	if _, err := planner.New(c.Planner, c.Solver); err != nil {
		errs = append(errs, err)
	}
	if v := get("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			errs = append(errs, fmt.Errorf("%w: RATE_RPS=%q", ErrInvalid, v))
		}
		c.RateRPS = f
	}
	if v := get("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%w: RATE_BURST=%q", ErrInvalid, v))
		}
		c.RateBurst = n
	}
	if c.RateRPS > 0 && c.RateBurst == 0 {
		c.RateBurst = int(c.RateRPS) + 1
	}
	if c.PlannerConfig != "" {
		s, err := LoadPlanner(c.PlannerConfig, c.Solver)
		if err != nil {
			errs = append(errs, err)
		}
		c.Solver = s
	}
	return c, errors.Join(errs...)
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + c.Port }

// Redacted is the config as reported by the debug endpoint.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"PORT":             c.Port,
		"PLANNER":          c.Planner,
		"PLANNER_CONFIG":   c.PlannerConfig,
		"RATE_RPS":         c.RateRPS,
		"RATE_BURST":       c.RateBurst,
		"HAS_DATABASE_URL": c.DatabaseURL != "",
		"HAS_SQLITE_PATH":  c.SQLitePath != "",
		"HAS_REDIS_URL":    c.RedisURL != "",
	}
}

// PlannerFile is the YAML layout of a planner settings file. Absent keys keep
// their defaults.
type PlannerFile struct {
	Seed  *int64 `yaml:"seed"`
	Swarm struct {
		Size            *int     `yaml:"size"`
		MaxIterations   *int     `yaml:"maxIterations"`
		StallIterations *int     `yaml:"stallIterations"`
		Inertia         *float64 `yaml:"inertia"`
		Cognitive       *float64 `yaml:"cognitive"`
		Social          *float64 `yaml:"social"`
		TimeBudget      string   `yaml:"timeBudget"`
		Workers         *int     `yaml:"workers"`
	} `yaml:"swarm"`
	Coverage struct {
		Seedings *int `yaml:"seedings"`
		Rounds   *int `yaml:"rounds"`
	} `yaml:"coverage"`
}

func LoadPlanner(path string, base planner.Config) (planner.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: planner file: %w", err)
	}
	return ParsePlanner(data, base)
}

// ParsePlanner overlays a planner YAML document on base.
func ParsePlanner(data []byte, base planner.Config) (planner.Config, error) {
	var f PlannerFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("%w: planner yaml: %v", ErrInvalid, err)
	}
	c := base
	if f.Seed != nil {
		c.Seed = *f.Seed
	}
	set := func(dst *int, src *int, name string) error {
		if src == nil {
			return nil
		}
		if *src < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalid, name)
		}
		*dst = *src
		return nil
	}
	setf := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	var errs []error
	errs = append(errs,
		set(&c.Swarm.SwarmSize, f.Swarm.Size, "swarm.size"),
		set(&c.Swarm.MaxIterations, f.Swarm.MaxIterations, "swarm.maxIterations"),
		set(&c.Swarm.StallIterations, f.Swarm.StallIterations, "swarm.stallIterations"),
		set(&c.Swarm.Workers, f.Swarm.Workers, "swarm.workers"),
		set(&c.Coverage.Seedings, f.Coverage.Seedings, "coverage.seedings"),
		set(&c.Coverage.Rounds, f.Coverage.Rounds, "coverage.rounds"),
	)
	setf(&c.Swarm.Inertia, f.Swarm.Inertia)
	setf(&c.Swarm.Cognitive, f.Swarm.Cognitive)
	setf(&c.Swarm.Social, f.Swarm.Social)
	if f.Swarm.TimeBudget != "" {
		d, err := time.ParseDuration(f.Swarm.TimeBudget)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%w: swarm.timeBudget=%q", ErrInvalid, f.Swarm.TimeBudget))
		} else {
			c.Swarm.TimeBudget = d
		}
	}
	if err := errors.Join(errs...); err != nil {
		return base, err
	}
	return c, nil
}

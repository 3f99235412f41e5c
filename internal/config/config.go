// Package config defines the market's settings as an explicit value type
// threaded through constructors, rather than a global. Defaults match the
// canonical constants of the collaborative forecasting market; a YAML file
// can override tunables, and a fixed set of environment variables override
// connection secrets regardless of what the YAML says.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the full configuration of one market run. It is passed by
// value (or pointer-to-value) to every constructor that needs it; nothing
// in this module reads a process-wide global.
type Settings struct {
	Market   MarketSettings   `yaml:"market"`
	Strategy StrategySettings `yaml:"strategy"`
	League   LeagueSettings   `yaml:"league"`
	Outlier  OutlierSettings  `yaml:"outlier"`
	Scoring  ScoringSettings  `yaml:"scoring"`
	Jobs     JobsSettings     `yaml:"jobs"`
	API      APISettings      `yaml:"-"`
	Postgres PostgresSettings `yaml:"-"`
}

// MarketSettings holds the physical/temporal constants of the market.
type MarketSettings struct {
	TimeResolution       time.Duration `yaml:"time_resolution"`
	ForecastHorizonSteps int           `yaml:"forecast_horizon_steps"`
	Quantiles            []string      `yaml:"quantiles"`
	GateClosureHourCET   int           `yaml:"gate_closure_hour_cet"`
}

// StrategySettings configures the ensemble engine.
type StrategySettings struct {
	Default               string             `yaml:"default"`
	PerResource           map[string][]string `yaml:"per_resource"`
	Beta                  float64            `yaml:"beta"`
	DefaultScore          float64            `yaml:"default_score"`
	NScoreDays            int                `yaml:"n_score_days"`
	MinSubmissionDays     int                `yaml:"min_submission_days"`
	MinSubmissionLookback int                `yaml:"min_submission_lookback_days"`
	ValidateMinSamples    int                `yaml:"validate_min_samples"`
}

// OutlierSettings configures the outlier detector.
type OutlierSettings struct {
	Enabled        bool    `yaml:"enabled"`
	Alpha          float64 `yaml:"alpha"`
	MinForecasters int     `yaml:"min_forecasters"`
}

// ScoringSettings configures recomputation and skill-score evaluation.
type ScoringSettings struct {
	GracePeriodDays     int     `yaml:"grace_period_days"`
	WinklerAlpha        float64 `yaml:"winkler_alpha"`
	PenaltyQuantile     float64 `yaml:"penalty_quantile"`
	DisqualifyMissDays  int     `yaml:"disqualify_missing_days"`
}

// LeagueSettings configures rank cutoffs for league assignment.
type LeagueSettings struct {
	EliteCutoff      int `yaml:"elite_cutoff"`
	ChallengerCutoff int `yaml:"challenger_cutoff"`
	RunnerUpCutoff   int `yaml:"runner_up_cutoff"`
}

// JobsSettings configures concurrency.
type JobsSettings struct {
	NJobs             int `yaml:"n_jobs"`
	NRequestRetries   int `yaml:"n_request_retries"`
}

// APISettings configures the REST client to the external market backend.
// Always sourced from environment variables, never from the YAML file.
type APISettings struct {
	Protocol string
	Host     string
	Port     string
	Email    string
	Password string
}

// BaseURL returns the scheme://host:port root of the market API.
func (a APISettings) BaseURL() string {
	return fmt.Sprintf("%s://%s:%s", a.Protocol, a.Host, a.Port)
}

// PostgresSettings configures the relational store connection.
type PostgresSettings struct {
	Host     string
	Port     string
	User     string
	Password string
	DB       string
}

// DSN renders a libpq connection string.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DB)
}

// Defaults returns the canonical constants from the market specification.
func Defaults() Settings {
	return Settings{
		Market: MarketSettings{
			TimeResolution:       15 * time.Minute,
			ForecastHorizonSteps: 96,
			Quantiles:            []string{"q10", "q50", "q90"},
			GateClosureHourCET:   10,
		},
		Strategy: StrategySettings{
			Default:               "weighted_avg",
			Beta:                  0.001,
			DefaultScore:          999999,
			NScoreDays:            6,
			MinSubmissionDays:     6,
			MinSubmissionLookback: 7,
			ValidateMinSamples:    96 * 31,
		},
		Outlier: OutlierSettings{
			Enabled:        true,
			Alpha:          20.0,
			MinForecasters: 4,
		},
		Scoring: ScoringSettings{
			GracePeriodDays:    7,
			WinklerAlpha:       0.2,
			PenaltyQuantile:    0.75,
			DisqualifyMissDays: 5,
		},
		League: LeagueSettings{
			EliteCutoff:      5,
			ChallengerCutoff: 10,
			RunnerUpCutoff:   11,
		},
		Jobs: JobsSettings{
			NJobs:           1,
			NRequestRetries: 3,
		},
	}
}

// Load reads YAML overrides from path (if non-empty and it exists) on top of
// Defaults, then applies the fixed environment-variable contract for API and
// Postgres secrets, which always wins regardless of YAML content.
func Load(path string) (Settings, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.API = APISettings{
		Protocol: envOr("RESTAPI_PROTOCOL", "https"),
		Host:     envOr("RESTAPI_HOST", "localhost"),
		Port:     envOr("RESTAPI_PORT", "443"),
		Email:    os.Getenv("MARKET_EMAIL"),
		Password: os.Getenv("MARKET_PASSWORD"),
	}
	cfg.Postgres = PostgresSettings{
		Host:     envOr("POSTGRES_HOST", "localhost"),
		Port:     envOr("POSTGRES_PORT", "5432"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		DB:       os.Getenv("POSTGRES_DB"),
	}
	if v := os.Getenv("N_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Jobs.NJobs = n
		}
	}
	if v := os.Getenv("N_REQUEST_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Jobs.NRequestRetries = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the settings.
func (s Settings) Validate() error {
	if s.Market.GateClosureHourCET < 0 || s.Market.GateClosureHourCET > 23 {
		return fmt.Errorf("gate_closure_hour_cet must be in [0,23], got %d", s.Market.GateClosureHourCET)
	}
	if len(s.Market.Quantiles) == 0 {
		return fmt.Errorf("at least one quantile must be configured")
	}
	if s.Jobs.NJobs <= 0 {
		return fmt.Errorf("n_jobs must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

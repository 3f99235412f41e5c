// Command collabforecast is the entry point invoked by the external
// scheduler for the four market operations (§6): open_session,
// run_session, calculate_scores, aggregate_scores. Grounded on the
// teacher's cmd/cryptorun/main.go cobra + zerolog + TTY-detection wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/config"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/domain"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/forecastengine"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/logging"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/orchestrator"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/restclient"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/store/postgres"
	"github.com/INESCTEC/predico-collabforecast-sub000/internal/strategy"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "collabforecast",
		Short: "Collaborative day-ahead forecasting market orchestrator",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logLevel, term.IsTerminal(int(os.Stderr.Fd())))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML settings file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(openSessionCmd(), runSessionCmd(), calculateScoresCmd(), aggregateScoresCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadSettings() (config.Settings, error) {
	return config.Load(configPath)
}

func newClient(ctx context.Context, settings config.Settings) (*restclient.Client, error) {
	client := restclient.New(settings.API, settings.Jobs.NRequestRetries)
	if err := client.Login(ctx, settings.API.Email, settings.API.Password); err != nil {
		return nil, err
	}
	return client, nil
}

func newEngine(settings config.Settings) *forecastengine.Engine {
	return forecastengine.NewEngine(strategy.Default, settings)
}

// sessionFromID builds the minimal domain.Session RunSession needs to
// authorise the open->closed transition; the API is the source of truth
// for the session's actual state, but the CLI only has the id on hand.
func sessionFromID(id string) domain.Session {
	return domain.Session{ID: id, State: domain.SessionOpen}
}

// openSessionCmd computes the next gate-closure instant and asks the API
// to create a session for it. Exit codes: 0 success, 1 config/API error,
// 2 invalid gate_closure_hour override.
func openSessionCmd() *cobra.Command {
	var gateClosureHour int
	cmd := &cobra.Command{
		Use:   "open_session",
		Short: "Open a new market session at the next configured gate closure",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				os.Exit(1)
			}
			if gateClosureHour >= 0 {
				if gateClosureHour > 23 {
					fmt.Fprintln(os.Stderr, "gate_closure_hour must be in [0,23]")
					os.Exit(2)
				}
				settings.Market.GateClosureHourCET = gateClosureHour
			}

			ctx := cmd.Context()
			client, err := newClient(ctx, settings)
			if err != nil {
				os.Exit(1)
			}
			o := orchestrator.New(settings, client, nil, newEngine(settings))
			session, err := o.OpenSession(ctx, time.Now().UTC())
			if err != nil {
				log.Error().Err(err).Msg("open_session failed")
				os.Exit(1)
			}
			fmt.Println(session.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&gateClosureHour, "gate_closure_hour", -1, "override the configured gate-closure hour (CET, 0-23)")
	return cmd
}

// runSessionCmd drives one full session: close, fan out forecasts, publish,
// finish. Exit codes: 0 success, 1 no open session or API/data errors.
func runSessionCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "run_session",
		Short: "Run forecasts for the current open session and publish ensembles",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				os.Exit(1)
			}
			ctx := cmd.Context()
			client, err := newClient(ctx, settings)
			if err != nil {
				os.Exit(1)
			}
			store, err := postgres.Open(settings.Postgres)
			if err != nil {
				log.Error().Err(err).Msg("connect to store failed")
				os.Exit(1)
			}
			defer store.Close()

			o := orchestrator.New(settings, client, store, newEngine(settings))

			challenges, err := client.ListChallenges(ctx, sessionID)
			if err != nil {
				log.Error().Err(err).Msg("list_challenges failed")
				os.Exit(1)
			}

			session := sessionFromID(sessionID)
			if err := o.RunSession(ctx, session, challenges, time.Now().UTC()); err != nil {
				log.Error().Err(err).Msg("run_session failed")
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session_id", "", "session id to run (required)")
	cmd.MarkFlagRequired("session_id")
	return cmd
}

// calculateScoresCmd recomputes scores in the configured scoring window: with
// --update_scores, a destructive backup-delete-recompute of the whole window;
// without it, a non-destructive compute+publish pass limited to challenges
// that don't have scores yet (§4.7.1). Exit codes: 0 success, 1 failure.
func calculateScoresCmd() *cobra.Command {
	var updateScores bool
	var backupDir string
	cmd := &cobra.Command{
		Use:   "calculate_scores",
		Short: "Recompute submission and ensemble scores in the scoring window",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				os.Exit(1)
			}

			ctx := cmd.Context()
			store, err := postgres.Open(settings.Postgres)
			if err != nil {
				log.Error().Err(err).Msg("connect to store failed")
				os.Exit(1)
			}
			defer store.Close()

			o := orchestrator.New(settings, nil, store, newEngine(settings))
			now := time.Now().UTC()

			if !updateScores {
				if err := o.CalculateScoresNonDestructive(ctx, store, now); err != nil {
					log.Error().Err(err).Msg("calculate_scores failed")
					os.Exit(1)
				}
				return nil
			}

			from, to := orchestrator.ScoringWindow(true, settings.Scoring.GracePeriodDays, now)
			err = o.CalculateScores(ctx, store, now, backupDir, func() ([]domain.SubmissionScore, []domain.EnsembleScore, error) {
				return o.RecomputeScores(ctx, store, from, to)
			})
			if err != nil {
				log.Error().Err(err).Msg("calculate_scores failed")
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&updateScores, "update_scores", false, "destructively recompute the whole window (default: only compute+publish scores for challenges missing them)")
	cmd.Flags().StringVar(&backupDir, "backup_dir", "./backups", "directory to write the pre-delete CSV backup to")
	return cmd
}

// aggregateScoresCmd runs the KPI/League engine for the requested month,
// once per track (§4.8 computes deterministic and probabilistic rankings
// independently). Exit codes: 0 all tracks ok, 1 one track failed, 2 both
// tracks failed or the month args are invalid.
func aggregateScoresCmd() *cobra.Command {
	var previousMonth bool
	var year, month int
	cmd := &cobra.Command{
		Use:   "aggregate_scores",
		Short: "Recompute and upload monthly KPI/league records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !previousMonth && (year == 0 || month == 0) {
				fmt.Fprintln(os.Stderr, "either --previous_month or both --year and --month must be set")
				os.Exit(2)
			}
			if previousMonth {
				now := time.Now().UTC()
				prevMonth := now.AddDate(0, -1, 0)
				year, month = prevMonth.Year(), int(prevMonth.Month())
			}

			settings, err := loadSettings()
			if err != nil {
				os.Exit(1)
			}

			ctx := cmd.Context()
			store, err := postgres.Open(settings.Postgres)
			if err != nil {
				log.Error().Err(err).Msg("connect to store failed")
				os.Exit(1)
			}
			defer store.Close()

			o := orchestrator.New(settings, nil, store, newEngine(settings))
			tracks := []domain.Track{domain.TrackDeterministic, domain.TrackProbabilistic}
			failures := 0
			for _, track := range tracks {
				if err := o.AggregateAllResources(ctx, store, track, year, month); err != nil {
					log.Error().Err(err).Str("track", string(track)).Msg("aggregate_scores failed for track")
					failures++
				}
			}
			switch failures {
			case 0:
				return nil
			case len(tracks):
				os.Exit(2)
			default:
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&previousMonth, "previous_month", false, "aggregate the previous calendar month")
	cmd.Flags().IntVar(&year, "year", 0, "year to aggregate")
	cmd.Flags().IntVar(&month, "month", 0, "month to aggregate (1-12)")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/decision"
	"coffee-location-dedup/internal/dedup"
	"coffee-location-dedup/internal/generator"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/pricing"
	"coffee-location-dedup/internal/storage"
	"coffee-location-dedup/pkg/database"
	"coffee-location-dedup/pkg/logging"
)

var logger zerolog.Logger

func main() {
	logger = logging.NewLogger("dev", os.Getenv("LOG_LEVEL"))
	logging.SetGlobal(logger)

	rootCmd := &cobra.Command{
		Use:   "dedupctl",
		Short: "Coffee-shop location dedup toolkit",
		Long:  `Batch tooling for the location dedup engine: generate fixtures, run detection over files or the embedded store, and inspect the result.`,
	}

	rootCmd.AddCommand(createGenerateCmd())
	rootCmd.AddCommand(createDetectCmd())
	rootCmd.AddCommand(createInitDBCmd())
	rootCmd.AddCommand(createPingCmd())
	rootCmd.AddCommand(createPredictCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(path string) (*storage.Store, error) {
	if path == "" {
		path = os.Getenv("SQLITE_PATH")
	}
	if path == "" {
		return nil, fmt.Errorf("no store path: pass --store or set SQLITE_PATH")
	}
	return storage.Open(path)
}

func createGenerateCmd() *cobra.Command {
	var (
		count     int
		seed      int64
		pairs     int
		out       string
		storePath string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a deterministic coffee-shop fixture batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := generator.DefaultConfig()
			if count > 0 {
				cfg.Count = count
			}
			cfg.Seed = seed
			if pairs > 0 {
				cfg.DuplicatePairs = pairs
			}
			locations := generator.New(cfg).Generate()

			if storePath != "" {
				store, err := openStore(storePath)
				if err != nil {
					return err
				}
				defer store.Close()
				n, err := store.SaveLocations(cmd.Context(), locations)
				if err != nil {
					return fmt.Errorf("save batch: %w", err)
				}
				logger.Info().Int("generated", len(locations)).Int("saved", n).Str("store", storePath).Msg("batch stored")
				return nil
			}

			if out == "" {
				out = "locations.csv"
			}
			if err := writeLocations(out, locations); err != nil {
				return err
			}
			logger.Info().Int("generated", len(locations)).Str("file", out).Msg("batch written")
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "records to generate (default 50)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed; 0 derives one from the clock")
	cmd.Flags().IntVar(&pairs, "pairs", 0, "planted near-duplicate pairs")
	cmd.Flags().StringVar(&out, "out", "", "output file, .csv or .json (default locations.csv)")
	cmd.Flags().StringVar(&storePath, "store", "", "write into the embedded store instead of a file")
	return cmd
}

func createDetectCmd() *cobra.Command {
	var (
		input         string
		storePath     string
		cleanedOut    string
		logOut        string
		textThreshold float64
		distThreshold float64
		flagMargin    float64
		policyName    string
		dryRun        bool
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run duplicate detection over a file or the embedded store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				records []models.Location
				store   *storage.Store
				err     error
			)
			switch {
			case input != "":
				records, err = readLocations(input)
				if err != nil {
					return err
				}
			default:
				store, err = openStore(storePath)
				if err != nil {
					return fmt.Errorf("no --input given and %w", err)
				}
				defer store.Close()
				records, err = store.ActiveLocations(ctx)
				if err != nil {
					return fmt.Errorf("load store: %w", err)
				}
			}

			detCfg := dedup.DefaultConfig()
			detCfg.Policy = decision.Config{
				TextThreshold:      textThreshold,
				DistanceThresholdM: distThreshold,
				FlagMargin:         flagMargin,
			}
			detector := dedup.NewDetector(detCfg, logger)
			policy, err := dedup.PolicyByName(policyName)
			if err != nil {
				return err
			}
			resolver := dedup.NewResolver(policy, detector.Scorer())

			runID := uuid.NewString()
			started := time.Now()
			detection, err := detector.Detect(ctx, records)
			if err != nil {
				return fmt.Errorf("detect: %w", err)
			}
			resolution, err := resolver.Resolve(detection)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			report, err := dedup.AssembleReport(dedup.AssembleInput{
				RunID:      runID,
				Detection:  detection,
				Resolution: resolution,
			})
			if err != nil {
				return err
			}

			st := report.Stats
			logger.Info().
				Str("run_id", runID).
				Int("records", st.TotalRecords).
				Int("skipped", st.SkippedRecords).
				Int("pairs_scored", st.PairsScored).
				Int("clusters", st.Clusters).
				Int("merged", st.Merged).
				Int("flagged", st.Flagged).
				Int("survivors", len(report.Survivors)).
				Dur("took", time.Since(started)).
				Msg("detection finished")
			for _, s := range report.Skipped {
				logger.Warn().Int64("id", s.Location.ID).Str("reason", s.Reason.Code).Msg("record skipped")
			}

			if cleanedOut != "" {
				if err := writeLocations(cleanedOut, report.Survivors); err != nil {
					return err
				}
				logger.Info().Str("file", cleanedOut).Msg("cleaned batch written")
			}
			if logOut != "" {
				if err := writeLogEntries(logOut, report.LogEntries); err != nil {
					return err
				}
				logger.Info().Str("file", logOut).Msg("duplicate log written")
			}

			if store != nil && !dryRun {
				run := &models.Run{
					ID:                 runID,
					Status:             constants.RunStatusCompleted,
					Source:             constants.SourceDatabase,
					TextThreshold:      textThreshold,
					DistanceThresholdM: distThreshold,
					TotalRecords:       st.TotalRecords,
					SkippedRecords:     st.SkippedRecords,
					Clusters:           st.Clusters,
					Merged:             st.Merged,
					Flagged:            st.Flagged,
					StartedAt:          started.UTC(),
				}
				if err := store.RecordRun(ctx, run); err != nil {
					return fmt.Errorf("record run: %w", err)
				}
				for _, c := range report.Clusters {
					if err := store.MarkMerged(ctx, c.CanonicalID, c.DiscardedIDs); err != nil {
						return fmt.Errorf("mark merged: %w", err)
					}
				}
				if err := store.AppendLogEntries(ctx, report.LogEntries); err != nil {
					return fmt.Errorf("append log: %w", err)
				}
				if err := store.FinishRun(ctx, run); err != nil {
					return fmt.Errorf("finish run: %w", err)
				}
				logger.Info().Str("run_id", runID).Msg("store updated")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input batch, .csv or .json; omit to read the store")
	cmd.Flags().StringVar(&storePath, "store", "", "embedded store path")
	cmd.Flags().StringVar(&cleanedOut, "out", "", "write survivors to this file")
	cmd.Flags().StringVar(&logOut, "log-out", "", "write the duplicate log to this file")
	cmd.Flags().Float64Var(&textThreshold, "text-threshold", constants.DefaultTextThreshold, "similarity at or above which close pairs merge")
	cmd.Flags().Float64Var(&distThreshold, "distance-threshold", constants.DefaultDistanceThresholdM, "meters within which pairs count as close")
	cmd.Flags().Float64Var(&flagMargin, "flag-margin", constants.DefaultFlagMargin, "near-miss band below the text threshold routed to review")
	cmd.Flags().StringVar(&policyName, "policy", constants.PolicyMostFollowers, "canonical selection: most_followers, lowest_id, most_complete")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "detect only, leave the store untouched")
	return cmd
}

func createInitDBCmd() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create the schema in MySQL (DATABASE_URL) or the embedded store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url := os.Getenv("DATABASE_URL"); url != "" && storePath == "" {
				db, err := database.New(url)
				if err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				defer db.Close()
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				if err := db.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("ensure schema: %w", err)
				}
				logger.Info().Msg("mysql schema ready")
				return nil
			}

			store, err := openStore(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Info().Msg("embedded store ready")
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "embedded store path; overrides DATABASE_URL")
	return cmd
}

func createPingCmd() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check store connectivity and show record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if url := os.Getenv("DATABASE_URL"); url != "" && storePath == "" {
				db, err := database.New(url)
				if err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				defer db.Close()
				stats, err := db.GetLocationStatisticsCtx(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("mysql reachable: %d locations (%d active, %d merged), %d flags open\n",
					stats.Total, stats.Active, stats.Merged, stats.Flagged)
				return nil
			}

			store, err := openStore(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			active, err := store.ActiveLocations(ctx)
			if err != nil {
				return err
			}
			runs, err := store.RecentRuns(ctx, 1)
			if err != nil {
				return err
			}
			fmt.Printf("store reachable: %d active locations\n", len(active))
			if len(runs) > 0 {
				fmt.Printf("last run %s: %s, %d merged, %d flagged\n",
					runs[0].ID, runs[0].Status, runs[0].Merged, runs[0].Flagged)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "embedded store path; overrides DATABASE_URL")
	return cmd
}

func createPredictCmd() *cobra.Command {
	var (
		storePath string
		input     string
		id        int64
		neighbors int
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict rent per sqm for a location from its nearest neighbors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var records []models.Location
			var err error
			if input != "" {
				records, err = readLocations(input)
			} else {
				var store *storage.Store
				store, err = openStore(storePath)
				if err != nil {
					return err
				}
				defer store.Close()
				records, err = store.ActiveLocations(ctx)
			}
			if err != nil {
				return err
			}

			var target *models.Location
			training := make([]models.Location, 0, len(records))
			for i := range records {
				if records[i].ID == id {
					target = &records[i]
					continue
				}
				training = append(training, records[i])
			}
			if target == nil {
				return fmt.Errorf("location %d not found", id)
			}

			cfg := pricing.DefaultConfig()
			if neighbors > 0 {
				cfg.K = neighbors
			}
			predictor := pricing.New(cfg)
			if err := predictor.Fit(training); err != nil {
				return err
			}
			predicted, err := predictor.Predict(*target)
			if err != nil {
				return err
			}
			ranked, err := predictor.FindSimilar(*target, cfg.K)
			if err != nil {
				return err
			}

			fmt.Printf("%s: predicted %.0f per sqm\n", target.Name, predicted)
			for _, n := range ranked {
				price := "-"
				if n.Location.PricePerSqm != nil {
					price = fmt.Sprintf("%.0f", *n.Location.PricePerSqm)
				}
				fmt.Printf("  %-40s distance %.3f, price %s\n",
					strings.TrimSpace(n.Location.Name), n.Distance, price)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "embedded store path")
	cmd.Flags().StringVar(&input, "input", "", "read the batch from a file instead of the store")
	cmd.Flags().Int64Var(&id, "id", 0, "target location id")
	cmd.Flags().IntVar(&neighbors, "n", 0, "neighbor count (default 5)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"competition-protocol/config"
	"competition-protocol/events"
	"competition-protocol/models"
	"competition-protocol/services"
	"competition-protocol/utils"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"gorm.io/gorm"
)

const programName = "competition-protocol"

// stack is everything both commands need.
type stack struct {
	cfg         *config.Config
	db          *gorm.DB
	registry    *prometheus.Registry
	bus         *events.EventBus
	custody     *services.LedgerCustody
	scheduler   *services.RoundScheduler
	protocol    *services.CompetitionProtocol
	communities *services.CommunityService
}

func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	db, err := utils.OpenDatabase(utils.DatabaseOptions{
		Driver:  cfg.DatabaseDriver,
		DSN:     cfg.DatabaseURL,
		Tracing: cfg.TracingEnabled,
	})
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := events.NewEventBus(registry)
	custody := services.NewLedgerCustody(db)
	scheduler := services.NewRoundScheduler(db, clockwork.NewRealClock(), bus)
	scheduler.Interval = cfg.SchedulerInterval

	protocol := services.NewCompetitionProtocol(db, scheduler, custody, bus)
	protocol.Metrics = services.NewProtocolMetrics(registry)
	if cfg.ContentStoreEnabled() {
		store, err := utils.NewR2Store(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			CDNBaseURL:      cfg.R2PublicURL,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize R2 client: %w", err)
		}
		protocol.Content = store
	} else {
		log.Println("⚠️  R2 not configured, entry content uploads are disabled")
	}
	if cfg.ProofVerifierURL != "" {
		protocol.Verifier = services.NewProofVerifierClient(cfg.ProofVerifierURL, cfg.ServiceToken)
	} else {
		log.Println("⚠️  PROOF_VERIFIER_URL not set, anonymous ballots are disabled")
	}

	communities := services.NewCommunityService(protocol)
	scheduler.Rounds = communities

	return &stack{
		cfg:         cfg,
		db:          db,
		registry:    registry,
		bus:         bus,
		custody:     custody,
		scheduler:   scheduler,
		protocol:    protocol,
		communities: communities,
	}, nil
}

func main() {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:          programName,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
				return err
			}
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, round scheduler and deposit worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), cfg)
		},
	})

	var seedFile string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Whitelist tokens, mint balances and create communities from a seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedFile == "" {
				seedFile = cfg.SeedFile
			}
			return seedRun(cmd.Context(), cfg, seedFile)
		},
	}
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "seed file (defaults to SEED_FILE)")
	rootCmd.AddCommand(seedCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func seedRun(ctx context.Context, cfg *config.Config, path string) error {
	if path == "" {
		return fmt.Errorf("no seed file given (use --file or SEED_FILE)")
	}
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	if err := services.ApplySeed(ctx, st.custody, st.communities, seed, cfg.DefaultRoyaltyBps); err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	log.Printf("✅ Seed %s applied", path)
	return nil
}

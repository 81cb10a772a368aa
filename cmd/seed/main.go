package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"shelfshare/internal/auth"
	"shelfshare/internal/cache"
	"shelfshare/internal/config"
	"shelfshare/internal/db"
	"shelfshare/internal/observability"
	"shelfshare/internal/repository"
	"shelfshare/internal/seed"
	"shelfshare/internal/service"
)

var (
	fixturePath string
	resetFirst  bool
)

var rootCmd = &cobra.Command{
	Use:           "seed",
	Short:         "Prepare a shelfshare database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, gormDB, logger, err := connect()
		if err != nil {
			return err
		}
		if err := db.Migrate(gormDB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("schema up to date")
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a YAML fixture through the engine services",
	Long: `Load users, shelves and forums from a YAML fixture.

Every row is created through the same services the API uses, so forums
always end up with an admin and membership is written on both sides.

Examples:
  seed load --file internal/seed/testdata/demo.yaml
  seed load --file demo.yaml --reset     # drop all tables first`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, loadCmd)

	loadCmd.Flags().StringVarP(&fixturePath, "file", "f", "", "fixture file (YAML)")
	loadCmd.Flags().BoolVar(&resetFirst, "reset", false, "drop all tables before loading")
	_ = loadCmd.MarkFlagRequired("file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect() (*config.Config, *gorm.DB, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	logger := observability.InitLogger("shelfshare-seed", cfg.LogLevel, cfg.LogPretty)

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, logger, fmt.Errorf("connect: %w", err)
	}
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")
	return cfg, gormDB, logger, nil
}

func runLoad(ctx context.Context) error {
	fixture, err := seed.Load(fixturePath)
	if err != nil {
		return err
	}

	cfg, gormDB, logger, err := connect()
	if err != nil {
		return err
	}
	if resetFirst {
		logger.Warn().Msg("dropping all tables")
		if err := db.Reset(gormDB); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	store := repository.NewStore(gormDB,
		repository.WithMaxRetries(cfg.TxMaxRetries),
		repository.WithLogger(logger),
	)
	// Seeding never touches the shelf cache or the token blacklist.
	var noCache *cache.Client
	svc := seed.Services{
		Auth:    service.NewAuthService(store.Repositories().Users, auth.NewBcryptHasher(), auth.NewJWTService(cfg.JWTSecret), auth.NewTokenStore(noCache)),
		Catalog: service.NewCatalogService(store, noCache, logger),
		Forums:  service.NewForumService(store, logger),
	}

	res, err := seed.Apply(ctx, svc, fixture, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Int("users", res.Users).
		Int("books", res.Books).
		Int("forums", res.Forums).
		Str("file", fixturePath).
		Msg("fixture loaded")
	return nil
}

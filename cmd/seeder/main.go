// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

var (
	cfgFile       string
	audienceCount int
	audienceSeed  uint64
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Prepare a campaign database",
	Long:  `Applies the schema, seeds the default criteria blocks and generates a fake audience.`,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB, log zerolog.Logger) error {
			if err := db.Migrate(ctx, conn); err != nil {
				return err
			}
			log.Info().Msg("schema ready")
			return nil
		})
	},
}

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Insert the default criteria blocks that are missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB, log zerolog.Logger) error {
			svc := &service.CriteriaService{Repo: app.NewRepositories(conn).Criteria}
			inserted, existing, err := seedCriteria(ctx, svc, log)
			if err != nil {
				return err
			}
			log.Info().Int("inserted", inserted).Int("existing", existing).Msg("criteria blocks ready")
			return nil
		})
	},
}

var audienceCmd = &cobra.Command{
	Use:   "audience",
	Short: "Generate fake audience members",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB, log zerolog.Logger) error {
			svc := service.NewAudienceService(app.NewRepositories(conn).Audience, nil)
			members := fakeAudience(rand.New(rand.NewPCG(audienceSeed, audienceSeed>>1|1)), audienceCount)
			inserted, dup, err := seedAudience(ctx, svc, members)
			if err != nil {
				return err
			}
			log.Info().Int("inserted", inserted).Int("duplicates", dup).Msg("fake audience inserted")
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path (optional)")
	audienceCmd.Flags().IntVarP(&audienceCount, "count", "n", 10_000, "number of members to generate")
	audienceCmd.Flags().Uint64Var(&audienceSeed, "seed", 42, "random seed")

	rootCmd.AddCommand(migrateCmd, criteriaCmd, audienceCmd)
}

func withDB(ctx context.Context, fn func(ctx context.Context, conn *sql.DB, log zerolog.Logger) error) error {
	cfg, err := config.LoadFromEnv(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, "console")

	conn, err := db.Connect(ctx, cfg.Database.DSN(), 4, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn, log)
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"autosave/internal/config"
	"autosave/internal/domain"
	"autosave/internal/repository/sqlite"
	"autosave/internal/service"

	"github.com/spf13/cobra"
)

func newAnalyticsCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		userID string
		period string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print a user's savings analytics from the SQLite store as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Storage.SQLitePath = dbPath
			}
			logger := setupLogger(os.Stderr, cfg)

			store, err := sqlite.Open(cfg.Storage.SQLitePath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			svc := service.NewAnalyticsService(store.Rules(), store.RoundUps(), store.Goals(), logger)
			analytics, err := svc.GetAnalytics(cmd.Context(), userID, domain.Period(period))
			if err != nil {
				return fmt.Errorf("computing analytics: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(analytics)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&period, "period", string(domain.PeriodMonth), "week, month, quarter or year")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path, overriding storage.sqlite_path")

	return cmd
}

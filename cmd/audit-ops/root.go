package main

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/mmdatafocus/card_audit_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const expireConfirmToken = "EXPIRE"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "audit-ops",
		Short:        "Maintenance jobs for collection audit sessions",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newExpireCmd())
	cmd.AddCommand(newSeedDemoCmd())
	return cmd
}

func connect() (*gorm.DB, error) {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized; set DB_* env vars")
	}
	return db, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run AutoMigrate for the audit tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			if err := models.MigrateTables(db); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	}
}

func newExpireCmd() *cobra.Command {
	var (
		dryRun  bool
		confirm string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "expire-sessions",
		Short: "Cancel active audit sessions past their expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && confirm != expireConfirmToken {
				return errors.New("refusing to cancel sessions without --confirm=" + expireConfirmToken + " (or use --dry-run)")
			}
			if _, err := connect(); err != nil {
				return err
			}
			logger := config.GetLogger()
			ctx := utils.SetSkipOwnerScopeInContext(cmd.Context(), true)

			result, err := workflow.ExpireAuditSessions(ctx, logger, time.Now().UTC(), limit, dryRun)
			if err != nil {
				return err
			}
			for _, s := range result.Expired {
				cmd.Printf("session %d owner=%s scope=%s expired_at=%s\n",
					s.ID, s.OwnerId, s.Scope, s.ExpiresAt.Format(time.RFC3339))
			}
			logger.WithFields(logrus.Fields{
				"field":     "expireSessions",
				"dry_run":   dryRun,
				"expired":   len(result.Expired),
				"cancelled": result.Cancelled,
				"failed":    result.Failed,
			}).Warn("expiry sweep finished")
			if result.Failed > 0 {
				return errors.New("some sessions could not be cancelled; see log")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list expired sessions without cancelling them")
	cmd.Flags().StringVar(&confirm, "confirm", "", "must be "+expireConfirmToken+" to cancel")
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum sessions per run")
	return cmd
}

// Command sendgatectl runs operator tasks against a sendgate deployment.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sendgate/internal/config"
	"sendgate/internal/repository"
	"sendgate/internal/util"
	"sendgate/pkg/db"
	"sendgate/pkg/logger"
	"sendgate/pkg/mq"
	"sendgate/pkg/outbox"
	"sendgate/pkg/rbac"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sendgatectl",
		Short:         "Operator commands for sendgate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCmd(), newMigrateCmd(), newReplayCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	var userID, role, secret string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				secret = cfg.JWT.Secret
			}
			tok, err := util.GenerateJWT(userID, rbac.NormalizeRole(role), secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (u_...)")
	cmd.Flags().StringVar(&role, "role", rbac.RoleUser, "role: user or admin")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to jwt.secret from config)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := db.NewConnection(cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			log.Info("Schema is up to date")
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	var (
		eventID int64
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Republish failed outbox events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := db.NewConnection(cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			publisher, err := mq.NewPublisher(cfg.MQ.URL)
			if err != nil {
				return err
			}
			defer publisher.Close()

			svc := outbox.NewReplayService(outbox.NewRepository(pool), publisher, log)
			return runReplay(cmd.Context(), svc, eventID, limit, cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "id", 0, "replay a single event")
	cmd.Flags().IntVar(&limit, "limit", 100, "max failed events to replay")
	return cmd
}

type replayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

func runReplay(ctx context.Context, svc replayer, eventID int64, limit int, cmd *cobra.Command) error {
	if eventID > 0 {
		if err := svc.ReplayEvent(ctx, eventID); err != nil {
			return fmt.Errorf("replay event %d: %w", eventID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replayed event %d\n", eventID)
		return nil
	}
	n, err := svc.ReplayFailedEvents(ctx, limit)
	if err != nil {
		return fmt.Errorf("replay failed events: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", n)
	return nil
}

func load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLogger(cfg.Log.Level), nil
}

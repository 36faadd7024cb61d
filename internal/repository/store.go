// Package repository holds the PostgreSQL stores. The interfaces in this file
// are what services depend on; memrepo implements the same set in memory.
package repository

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sendgate/internal/model"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// DeductCredit decrements the balance when it is positive and reports
	// whether a row changed.
	DeductCredit(ctx context.Context, id string) (bool, error)
	// SetPlan changes the plan. A non-nil credits also overwrites the balance.
	SetPlan(ctx context.Context, id string, plan model.Plan, credits *int) (*model.User, error)
}

type AppStore interface {
	GetByID(ctx context.Context, id string) (*model.App, error)
}

type ProviderStore interface {
	GetByID(ctx context.Context, id int64) (*model.Provider, error)
	List(ctx context.Context) ([]model.Provider, error)
}

type ConfigStore interface {
	// GetActive returns the active configuration with its Provider loaded.
	GetActive(ctx context.Context, appID string) (*model.SendingConfiguration, error)
	GetByID(ctx context.Context, id int64) (*model.SendingConfiguration, error)
	// Bind makes providerID the app's only active configuration.
	Bind(ctx context.Context, appID string, providerID int64) (*model.SendingConfiguration, error)
	// MarkPending moves an active credential-less idle or error row to
	// pending and reports whether it did.
	MarkPending(ctx context.Context, id int64) (bool, error)
	MarkSuccess(ctx context.Context, id int64, creds model.Credentials) error
	MarkError(ctx context.Context, id int64, msg string) error
}

type UsageStore interface {
	Increment(ctx context.Context, appID, userID string, day time.Time, outcome model.UsageOutcome) error
	List(ctx context.Context, appID string, from, to time.Time) ([]model.EmailUsage, error)
}

type SentLogStore interface {
	CreateQueued(ctx context.Context, entry *model.SentEmailLog) error
	Finalize(ctx context.Context, tag string, status model.EmailStatus, errMsg string, at time.Time) error
	// MarkDelivered confirms a not yet confirmed attempt by tag.
	MarkDelivered(ctx context.Context, tag, messageID string, at time.Time) (bool, error)
	// MarkOpened returns the updated row, or nil when nothing matched.
	MarkOpened(ctx context.Context, messageID string, at time.Time) (*model.SentEmailLog, error)
	// MarkBounced matches by message id, falling back to tag.
	MarkBounced(ctx context.Context, messageID, tag string, at time.Time) (bool, error)
	FindByTag(ctx context.Context, tag string) (*model.SentEmailLog, error)
	FindByMessageID(ctx context.Context, messageID string) (*model.SentEmailLog, error)
	ListRecent(ctx context.Context, appID string, limit int) ([]model.SentEmailLog, error)
}

//go:embed schema.sql
var schemaFS embed.FS

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	ddl, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

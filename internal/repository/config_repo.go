package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
)

type ConfigRepository struct {
	db *pgxpool.Pool
}

func NewConfigRepository(db *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{db: db}
}

const configColumns = `c.id, c.app_id, c.user_id, c.provider_id, c.credentials, c.is_active,
           c.provisioning_status, c.provisioning_error, c.created_at, c.updated_at`

func scanConfig(row pgx.Row, extra ...any) (*model.SendingConfiguration, error) {
	var c model.SendingConfiguration
	var creds []byte
	dest := append([]any{
		&c.ID, &c.AppID, &c.UserID, &c.ProviderID, &creds, &c.IsActive,
		&c.Status, &c.ProvisioningError, &c.CreatedAt, &c.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	decoded, err := decodeCredentials(creds)
	if err != nil {
		return nil, err
	}
	c.Credentials = decoded
	return &c, nil
}

func (r *ConfigRepository) GetActive(ctx context.Context, appID string) (*model.SendingConfiguration, error) {
	query := `
        SELECT ` + configColumns + `,
               p.id, p.name, p.provider_type, p.master_credentials
        FROM sending_configurations c
        JOIN providers p ON p.id = c.provider_id
        WHERE c.app_id = $1 AND c.is_active
    `
	var p model.Provider
	var master []byte
	c, err := scanConfig(r.db.QueryRow(ctx, query, appID), &p.ID, &p.Name, &p.Type, &master)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNoActiveConfig
	}
	if err != nil {
		return nil, err
	}
	if p.MasterCredentials, err = decodeCredentials(master); err != nil {
		return nil, err
	}
	c.Provider = &p
	return c, nil
}

func (r *ConfigRepository) GetByID(ctx context.Context, id int64) (*model.SendingConfiguration, error) {
	query := `SELECT ` + configColumns + ` FROM sending_configurations c WHERE c.id = $1`
	c, err := scanConfig(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrConfigNotFound
	}
	return c, err
}

// Bind runs under a row lock on the app so concurrent binds serialize and no
// reader sees zero or two active rows. Binding the provider that is already
// active returns the row unchanged; switching to any other provider resets
// that provider's row to idle with no credentials.
func (r *ConfigRepository) Bind(ctx context.Context, appID string, providerID int64) (*model.SendingConfiguration, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bind: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerID string
	err = tx.QueryRow(ctx, `SELECT owner_id FROM apps WHERE id = $1 FOR UPDATE`, appID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrAppNotFound
	}
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)`, providerID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.ErrProviderNotFound
	}

	current, err := scanConfig(tx.QueryRow(ctx,
		`SELECT `+configColumns+` FROM sending_configurations c WHERE c.app_id = $1 AND c.is_active`, appID))
	switch {
	case err == nil && current.ProviderID == providerID:
		return current, tx.Commit(ctx)
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
        UPDATE sending_configurations
        SET is_active = FALSE, updated_at = NOW()
        WHERE app_id = $1 AND is_active
    `, appID); err != nil {
		return nil, fmt.Errorf("deactivate previous config: %w", err)
	}

	query := `
        INSERT INTO sending_configurations AS c
            (app_id, user_id, provider_id, credentials, is_active, provisioning_status)
        VALUES ($1, $2, $3, '{}'::jsonb, TRUE, 'idle')
        ON CONFLICT (app_id, provider_id) DO UPDATE
        SET user_id = EXCLUDED.user_id,
            credentials = '{}'::jsonb,
            is_active = TRUE,
            provisioning_status = 'idle',
            provisioning_error = NULL,
            updated_at = NOW()
        RETURNING ` + configColumns
	cfg, err := scanConfig(tx.QueryRow(ctx, query, appID, ownerID, providerID))
	if err != nil {
		return nil, fmt.Errorf("activate config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bind: %w", err)
	}
	return cfg, nil
}

func (r *ConfigRepository) MarkPending(ctx context.Context, id int64) (bool, error) {
	query := `
        UPDATE sending_configurations
        SET provisioning_status = 'pending', provisioning_error = NULL, updated_at = NOW()
        WHERE id = $1
          AND is_active
          AND provisioning_status IN ('idle', 'error')
          AND credentials = '{}'::jsonb
    `
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConfigRepository) MarkSuccess(ctx context.Context, id int64, creds model.Credentials) error {
	encoded, err := encodeCredentials(creds)
	if err != nil {
		return err
	}
	query := `
        UPDATE sending_configurations
        SET provisioning_status = 'success', credentials = $2::jsonb,
            provisioning_error = NULL, updated_at = NOW()
        WHERE id = $1 AND provisioning_status = 'pending'
    `
	_, err = r.db.Exec(ctx, query, id, encoded)
	return err
}

func (r *ConfigRepository) MarkError(ctx context.Context, id int64, msg string) error {
	query := `
        UPDATE sending_configurations
        SET provisioning_status = 'error', provisioning_error = $2, updated_at = NOW()
        WHERE id = $1 AND provisioning_status = 'pending'
    `
	_, err := r.db.Exec(ctx, query, id, msg)
	return err
}

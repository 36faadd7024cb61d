package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
)

type AppRepository struct {
	db *pgxpool.Pool
}

func NewAppRepository(db *pgxpool.Pool) *AppRepository {
	return &AppRepository{db: db}
}

func (r *AppRepository) GetByID(ctx context.Context, id string) (*model.App, error) {
	query := `
        SELECT id, owner_id, active, created_at
        FROM apps
        WHERE id = $1
    `
	var a model.App
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.OwnerID, &a.Active, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrAppNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type ProviderRepository struct {
	db *pgxpool.Pool
}

func NewProviderRepository(db *pgxpool.Pool) *ProviderRepository {
	return &ProviderRepository{db: db}
}

const selectProvider = `
    SELECT id, name, provider_type, credentials_format, master_credentials
    FROM providers
`

func scanProvider(row pgx.Row) (*model.Provider, error) {
	var p model.Provider
	var format, master []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &format, &master); err != nil {
		return nil, err
	}
	p.CredentialsFormat = format
	creds, err := decodeCredentials(master)
	if err != nil {
		return nil, err
	}
	p.MasterCredentials = creds
	return &p, nil
}

func (r *ProviderRepository) GetByID(ctx context.Context, id int64) (*model.Provider, error) {
	p, err := scanProvider(r.db.QueryRow(ctx, selectProvider+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrProviderNotFound
	}
	return p, err
}

func (r *ProviderRepository) List(ctx context.Context) ([]model.Provider, error) {
	rows, err := r.db.Query(ctx, selectProvider+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	providers := []model.Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

func decodeCredentials(raw []byte) (model.Credentials, error) {
	creds := model.Credentials{}
	if len(raw) == 0 {
		return creds, nil
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

func encodeCredentials(creds model.Credentials) (string, error) {
	if creds == nil {
		return "{}", nil
	}
	b, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return string(b), nil
}

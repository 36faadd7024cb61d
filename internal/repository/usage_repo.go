package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sendgate/internal/model"
)

type UsageRepository struct {
	db *pgxpool.Pool
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

func counterDeltas(outcome model.UsageOutcome) (sent, failed, read int, err error) {
	switch outcome {
	case model.UsageSent:
		return 1, 0, 0, nil
	case model.UsageFail:
		return 0, 1, 0, nil
	case model.UsageRead:
		return 0, 0, 1, nil
	default:
		return 0, 0, 0, fmt.Errorf("unknown usage outcome %q", outcome)
	}
}

// Increment creates the day's row on first use and bumps one counter.
func (r *UsageRepository) Increment(ctx context.Context, appID, userID string, day time.Time, outcome model.UsageOutcome) error {
	sent, failed, read, err := counterDeltas(outcome)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO email_usage AS u (app_id, user_id, date, sent_count, failed_count, read_count)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (app_id, date) DO UPDATE
        SET sent_count = u.sent_count + EXCLUDED.sent_count,
            failed_count = u.failed_count + EXCLUDED.failed_count,
            read_count = u.read_count + EXCLUDED.read_count
    `
	_, err = r.db.Exec(ctx, query, appID, userID, model.Day(day), sent, failed, read)
	return err
}

func (r *UsageRepository) List(ctx context.Context, appID string, from, to time.Time) ([]model.EmailUsage, error) {
	query := `
        SELECT app_id, user_id, date, sent_count, failed_count, read_count
        FROM email_usage
        WHERE app_id = $1 AND date BETWEEN $2 AND $3
        ORDER BY date DESC
    `
	rows, err := r.db.Query(ctx, query, appID, model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []model.EmailUsage{}
	for rows.Next() {
		var u model.EmailUsage
		if err := rows.Scan(&u.AppID, &u.UserID, &u.Date, &u.SentCount, &u.FailedCount, &u.ReadCount); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
)

type SentLogRepository struct {
	db *pgxpool.Pool
}

func NewSentLogRepository(db *pgxpool.Pool) *SentLogRepository {
	return &SentLogRepository{db: db}
}

const logColumns = `id, app_id, user_id, provider, to_email, subject, status, message_tag,
           message_id, time_sent, time_read, error_message, created_at`

func scanLog(row pgx.Row) (*model.SentEmailLog, error) {
	var l model.SentEmailLog
	err := row.Scan(
		&l.ID, &l.AppID, &l.UserID, &l.Provider, &l.ToEmail, &l.Subject, &l.Status, &l.MessageTag,
		&l.MessageID, &l.TimeSent, &l.TimeRead, &l.ErrorMessage, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *SentLogRepository) CreateQueued(ctx context.Context, e *model.SentEmailLog) error {
	query := `
        INSERT INTO sent_email_logs (app_id, user_id, provider, to_email, subject, status, message_tag)
        VALUES ($1, $2, $3, $4, $5, 'queued', $6)
        RETURNING id, created_at
    `
	e.Status = model.EmailQueued
	return r.db.QueryRow(ctx, query, e.AppID, e.UserID, e.Provider, e.ToEmail, e.Subject, e.MessageTag).
		Scan(&e.ID, &e.CreatedAt)
}

// Finalize 只更新 queued 状态的行
func (r *SentLogRepository) Finalize(ctx context.Context, tag string, status model.EmailStatus, errMsg string, at time.Time) error {
	query := `
        UPDATE sent_email_logs
        SET status = $2,
            error_message = $3,
            time_sent = CASE WHEN $2 = 'sent' THEN $4::timestamptz ELSE time_sent END
        WHERE message_tag = $1 AND status = 'queued'
    `
	_, err := r.db.Exec(ctx, query, tag, string(status), errMsg, at)
	return err
}

func (r *SentLogRepository) MarkDelivered(ctx context.Context, tag, messageID string, at time.Time) (bool, error) {
	query := `
        UPDATE sent_email_logs
        SET status = 'delivered', message_id = $2, time_sent = $3
        WHERE message_tag = $1 AND status IN ('queued', 'sent', 'failed')
    `
	res, err := r.db.Exec(ctx, query, tag, messageID, at)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (r *SentLogRepository) MarkOpened(ctx context.Context, messageID string, at time.Time) (*model.SentEmailLog, error) {
	query := `
        UPDATE sent_email_logs
        SET status = 'opened', time_read = $2
        WHERE message_id = $1 AND status <> 'opened'
        RETURNING ` + logColumns
	l, err := scanLog(r.db.QueryRow(ctx, query, messageID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (r *SentLogRepository) MarkBounced(ctx context.Context, messageID, tag string, at time.Time) (bool, error) {
	query := `
        UPDATE sent_email_logs
        SET status = 'bounced',
            message_id = COALESCE(message_id, NULLIF($1, '')),
            time_sent = COALESCE(time_sent, $3)
        WHERE status <> 'bounced'
          AND (($1 <> '' AND message_id = $1) OR ($2 <> '' AND message_tag = $2))
    `
	res, err := r.db.Exec(ctx, query, messageID, tag, at)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (r *SentLogRepository) FindByTag(ctx context.Context, tag string) (*model.SentEmailLog, error) {
	l, err := scanLog(r.db.QueryRow(ctx, `SELECT `+logColumns+` FROM sent_email_logs WHERE message_tag = $1`, tag))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNoMatchingLog
	}
	return l, err
}

func (r *SentLogRepository) FindByMessageID(ctx context.Context, messageID string) (*model.SentEmailLog, error) {
	query := `SELECT ` + logColumns + ` FROM sent_email_logs WHERE message_id = $1 ORDER BY id DESC LIMIT 1`
	l, err := scanLog(r.db.QueryRow(ctx, query, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNoMatchingLog
	}
	return l, err
}

func (r *SentLogRepository) ListRecent(ctx context.Context, appID string, limit int) ([]model.SentEmailLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + logColumns + ` FROM sent_email_logs WHERE app_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, appID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []model.SentEmailLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

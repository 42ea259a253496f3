package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gsarma/mailer/internal/mail"
)

const mailLogsTable = "mail_logs"

var logColumns = []string{
	"id",
	"recipient_email",
	"user_id",
	"kind",
	"subject",
	"variables",
	"status",
	"error_message",
	"provider_message_id",
	"sent_at",
	"retry_count",
	"created_at",
	"updated_at",
}

// MailLogs is the Postgres implementation of mail.LogStore.
type MailLogs struct {
	db DBTX
	sb sq.StatementBuilderType
}

func NewMailLogs(db DBTX) *MailLogs {
	return &MailLogs{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var _ mail.LogStore = (*MailLogs)(nil)

func (s *MailLogs) createQuery(in mail.NewLog) (sq.InsertBuilder, error) {
	vars, err := marshalVariables(in.Variables)
	if err != nil {
		return sq.InsertBuilder{}, err
	}
	return s.sb.
		Insert(mailLogsTable).
		Columns("recipient_email", "user_id", "kind", "subject", "variables", "status").
		Values(in.RecipientEmail, in.UserID, string(in.Kind), in.Subject, vars, string(mail.StatusPending)).
		Suffix("RETURNING " + strings.Join(logColumns, ", ")), nil
}

func (s *MailLogs) Create(ctx context.Context, in mail.NewLog) (*mail.Log, error) {
	q, err := s.createQuery(in)
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build mail log insert: %w", err)
	}
	l, err := scanLog(s.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return nil, fmt.Errorf("insert mail log: %w", err)
	}
	return l, nil
}

func (s *MailLogs) FindByID(ctx context.Context, id uuid.UUID) (*mail.Log, error) {
	sqlStr, args, err := s.sb.
		Select(logColumns...).
		From(mailLogsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build mail log select: %w", err)
	}
	l, err := scanLog(s.db.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mail.ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select mail log: %w", err)
	}
	return l, nil
}

func (s *MailLogs) recentByUserQuery(userID uuid.UUID, limit int) sq.SelectBuilder {
	if limit <= 0 {
		limit = mail.DefaultRecentLimit
	}
	return s.sb.
		Select(logColumns...).
		From(mailLogsTable).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
}

func (s *MailLogs) FindRecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]mail.Log, error) {
	sqlStr, args, err := s.recentByUserQuery(userID, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent mail logs select: %w", err)
	}
	return s.queryLogs(ctx, sqlStr, args)
}

func (s *MailLogs) updateStatusQuery(id uuid.UUID, status mail.Status, providerMessageID *string) sq.UpdateBuilder {
	q := s.sb.
		Update(mailLogsTable).
		Set("status", string(status)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id})
	if status == mail.StatusSent {
		q = q.Set("sent_at", sq.Expr("now()"))
		if providerMessageID != nil {
			q = q.Set("provider_message_id", *providerMessageID)
		}
	}
	return q
}

// UpdateStatus returns mail.ErrLogNotFound when no row matched.
func (s *MailLogs) UpdateStatus(ctx context.Context, id uuid.UUID, status mail.Status, providerMessageID *string) error {
	sqlStr, args, err := s.updateStatusQuery(id, status, providerMessageID).ToSql()
	if err != nil {
		return fmt.Errorf("build mail log status update: %w", err)
	}
	tag, err := s.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update mail log status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mail.ErrLogNotFound
	}
	return nil
}

func (s *MailLogs) incrementRetryQuery(id uuid.UUID, errorMessage string) sq.UpdateBuilder {
	return s.sb.
		Update(mailLogsTable).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("error_message", errorMessage).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id})
}

// IncrementRetry is a single atomic UPDATE so concurrent failures never lose a count.
func (s *MailLogs) IncrementRetry(ctx context.Context, id uuid.UUID, errorMessage string) error {
	sqlStr, args, err := s.incrementRetryQuery(id, errorMessage).ToSql()
	if err != nil {
		return fmt.Errorf("build mail log retry update: %w", err)
	}
	if _, err := s.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("increment mail log retry: %w", err)
	}
	return nil
}

func (s *MailLogs) deleteOlderThanQuery(cutoff time.Time, status mail.Status) sq.DeleteBuilder {
	return s.sb.
		Delete(mailLogsTable).
		Where(sq.Eq{"status": string(status)}).
		Where(sq.Lt{"created_at": cutoff})
}

func (s *MailLogs) DeleteOlderThanWithStatus(ctx context.Context, cutoff time.Time, status mail.Status) (int64, error) {
	sqlStr, args, err := s.deleteOlderThanQuery(cutoff, status).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build mail log cleanup: %w", err)
	}
	tag, err := s.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup mail logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *MailLogs) stalePendingQuery(olderThan time.Time, limit int) sq.SelectBuilder {
	if limit <= 0 {
		limit = 100
	}
	return s.sb.
		Select(logColumns...).
		From(mailLogsTable).
		Where(sq.Eq{"status": string(mail.StatusPending), "retry_count": 0}).
		Where(sq.Lt{"created_at": olderThan}).
		OrderBy("created_at ASC").
		Limit(uint64(limit))
}

func (s *MailLogs) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]mail.Log, error) {
	sqlStr, args, err := s.stalePendingQuery(olderThan, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale pending select: %w", err)
	}
	return s.queryLogs(ctx, sqlStr, args)
}

func (s *MailLogs) queryLogs(ctx context.Context, sqlStr string, args []any) ([]mail.Log, error) {
	rows, err := s.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query mail logs: %w", err)
	}
	defer rows.Close()

	var out []mail.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mail log row: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mail log rows: %w", err)
	}
	return out, nil
}

func scanLog(row pgx.Row) (*mail.Log, error) {
	var (
		l          mail.Log
		id         pgtype.UUID
		userID     pgtype.UUID
		kind       string
		status     string
		vars       []byte
		errMsg     pgtype.Text
		providerID pgtype.Text
		sentAt     pgtype.Timestamptz
	)
	if err := row.Scan(
		&id,
		&l.RecipientEmail,
		&userID,
		&kind,
		&l.Subject,
		&vars,
		&status,
		&errMsg,
		&providerID,
		&sentAt,
		&l.RetryCount,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	l.ID = uuid.UUID(id.Bytes)
	l.Kind = mail.Kind(kind)
	l.Status = mail.Status(status)
	if userID.Valid {
		u := uuid.UUID(userID.Bytes)
		l.UserID = &u
	}
	if errMsg.Valid {
		s := errMsg.String
		l.ErrorMessage = &s
	}
	if providerID.Valid {
		s := providerID.String
		l.ProviderMessageID = &s
	}
	if sentAt.Valid {
		t := sentAt.Time
		l.SentAt = &t
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &l.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	if l.Variables == nil {
		l.Variables = mail.Variables{}
	}
	return &l, nil
}

func marshalVariables(v mail.Variables) ([]byte, error) {
	if v == nil {
		v = mail.Variables{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	return b, nil
}


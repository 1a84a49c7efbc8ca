package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/jobconnect/internal/model"
)

// expiredBatchSize は期限切れセッション削除の1回あたりの最大件数。
// 大量の期限切れがあってもロックを短く保つ。
const expiredBatchSize = 1000

// PostgresSessionRepo はsessionsテーブルを扱う。
type PostgresSessionRepo struct {
	db        *sql.DB
	batchSize int
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, batchSize: expiredBatchSize}
}

// Create はセッションを保存する。Providerが空ならメール認証として扱う。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	provider := session.Provider
	if provider == "" {
		provider = model.IdentityProviderEmail
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, provider, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.UserID, provider, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効なセッションを返す。期限切れや存在しない場合はnil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&s.ID, &s.UserID, &s.Provider, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}

func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの全セッションを破棄する（全端末からのサインアウト）。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションをbatchSize件ずつ削除し、合計件数を返す。
// 途中で失敗した場合もそれまでの削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var total int64
	for {
		result, err := r.db.ExecContext(ctx,
			`DELETE FROM sessions
			 WHERE id IN (
			     SELECT id FROM sessions
			     WHERE expires_at <= now()
			     LIMIT $1
			 )`,
			r.batchSize,
		)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
		if n < int64(r.batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)

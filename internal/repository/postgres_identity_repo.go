package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/jobconnect/internal/model"
)

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresIdentityRepo はサインイン手段（identities）を管理する。
// 1ユーザーは複数のidentityを持てるが、(provider, provider_user_id) は全体で一意。
type PostgresIdentityRepo struct {
	db *sql.DB
}

func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID は外部アカウントに紐づくidentityを返す。未登録ならnil。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var id model.Identity
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	)
	switch err := row.Scan(&id.ID, &id.UserID, &id.Provider, &id.ProviderUserID, &id.CreatedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find identity %s/%s: %w", provider, providerUserID, err)
	}
	return &id, nil
}

// Create は既存ユーザーにidentityを追加する。登録済みならErrDuplicate。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	return insertIdentity(ctx, r.db, identity)
}

// insertIdentity はユーザー作成時のトランザクションからも使う。
func insertIdentity(ctx context.Context, ex execer, identity *model.Identity) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	return wrapWriteErr("insert identity", err)
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)

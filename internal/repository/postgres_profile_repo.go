package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/jobconnect/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// SelectByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) SelectByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, role, created_at FROM profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &p.FullName, &role, &p.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select profile: %w", err)
	}
	p.Role = model.Role(role)
	return p, nil
}

// Insert はプロフィールを作成する。
func (r *PostgresProfileRepo) Insert(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, full_name, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Email, p.FullName, string(p.Role), p.CreatedAt,
	)
	return wrapWriteErr("insert profile", err)
}

// InsertIfAbsent はプロフィールが存在しない場合のみ作成する。
// 既存行のロールや表示名は変更しない。
func (r *PostgresProfileRepo) InsertIfAbsent(ctx context.Context, p *model.Profile) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, full_name, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Email, p.FullName, string(p.Role), p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/jobconnect/internal/model"
)

func TestPostgresSessionRepo_Create(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		provider string
		want     string
	}{
		{"OAuthのプロバイダーを保存する", "google", "google"},
		{"空ならemail", "", model.IdentityProviderEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewPostgresSessionRepo(db)
			session := &model.Session{ID: "s-1", UserID: "u-1", Provider: tt.provider, ExpiresAt: now.Add(time.Hour), CreatedAt: now}

			mock.ExpectExec(`INSERT INTO sessions \(id, user_id, provider, expires_at, created_at\)`).
				WithArgs("s-1", "u-1", tt.want, session.ExpiresAt, now).
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := repo.Create(context.Background(), session); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresSessionRepo_FindByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepo(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, user_id, provider, expires_at, created_at\s+FROM sessions`).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "provider", "expires_at", "created_at"}).
			AddRow("s-1", "u-1", "apple", now.Add(time.Hour), now))

	session, err := repo.FindByID(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil || session.UserID != "u-1" || session.Provider != "apple" {
		t.Errorf("session = %+v", session)
	}
}

// 期限切れセッションはSQL側で除外され、nilが返る
func TestPostgresSessionRepo_FindByID_Expired(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepo(db)

	mock.ExpectQuery(`FROM sessions\s+WHERE id = \$1 AND expires_at > now\(\)`).
		WithArgs("expired-session").
		WillReturnError(sql.ErrNoRows)

	session, err := repo.FindByID(context.Background(), "expired-session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session, got %+v", session)
	}
}

func TestPostgresSessionRepo_DeleteByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepo(db)

	mock.ExpectExec(`DELETE FROM sessions WHERE id = \$1`).
		WithArgs("session-to-delete").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteByID(context.Background(), "session-to-delete"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSessionRepo_DeleteExpired(t *testing.T) {
	t.Run("1回で収まる", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgresSessionRepo(db)

		mock.ExpectExec(`DELETE FROM sessions\s+WHERE id IN`).
			WithArgs(expiredBatchSize).
			WillReturnResult(sqlmock.NewResult(0, 7))

		n, err := repo.DeleteExpired(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 7 {
			t.Errorf("deleted = %d, want %d", n, 7)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("バッチが埋まる間は繰り返す", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgresSessionRepo(db)
		repo.batchSize = 2

		mock.ExpectExec(`DELETE FROM sessions`).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM sessions`).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM sessions`).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := repo.DeleteExpired(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 5 {
			t.Errorf("deleted = %d, want 5", n)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("途中の失敗はそれまでの件数と共に返す", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewPostgresSessionRepo(db)
		repo.batchSize = 2

		mock.ExpectExec(`DELETE FROM sessions`).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM sessions`).WithArgs(2).WillReturnError(sql.ErrConnDone)

		n, err := repo.DeleteExpired(context.Background())
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if n != 2 {
			t.Errorf("deleted = %d, want 2", n)
		}
	})
}

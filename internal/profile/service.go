// Package profile はプロフィールの取得と作成（EnsureProfile）を提供する。
package profile

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/jobconnect/internal/model"
	"github.com/hitoshi/jobconnect/internal/repository"
	"github.com/hitoshi/jobconnect/internal/security"
)

// Service はプロフィールに関するビジネスロジックを提供する。
type Service struct {
	repo      repository.ProfileRepository
	sanitizer security.NameSanitizerService
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.ProfileRepository, sanitizer security.NameSanitizerService) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Get は指定IDのプロフィールを取得する。
// mustExistがtrueで行が無い場合はPROFILE_NOT_FOUND、falseの場合はnilを返す。
// リポジトリの失敗はPROFILE_LOOKUP_FAILEDとして返す。
func (s *Service) Get(ctx context.Context, id string, mustExist bool) (*model.Profile, error) {
	p, err := s.repo.SelectByID(ctx, id)
	if err != nil {
		slog.Error("failed to select profile",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProfileLookupError()
	}
	if p == nil && mustExist {
		return nil, model.NewProfileNotFoundError()
	}
	return p, nil
}

// EnsureProfile はPrincipalのプロフィールが無ければ指定ロールで作成し、保存されている行を返す。
// 既存の行がある場合はその行が優先され、ロールは変更しない。
// createdは今回の呼び出しで行を作成した場合にtrue。
func (s *Service) EnsureProfile(ctx context.Context, principal *model.Principal, role model.Role) (p *model.Profile, created bool, err error) {
	if principal == nil {
		return nil, false, model.NewSessionRequiredError()
	}
	if !role.Valid() {
		return nil, false, model.NewRoleRequiredError(false)
	}

	candidate := &model.Profile{
		ID:        principal.ID,
		Email:     principal.Email,
		FullName:  s.sanitizer.SanitizeName(principal.Metadata.DisplayName()),
		Role:      role,
		CreatedAt: s.now(),
	}

	created, err = s.repo.InsertIfAbsent(ctx, candidate)
	if err != nil {
		slog.Error("failed to insert profile",
			slog.String("user_id", principal.ID),
			slog.String("error", err.Error()),
		)
		return nil, false, model.NewProfileInsertError()
	}

	if created {
		slog.Info("profile created",
			slog.String("user_id", principal.ID),
			slog.String("role", string(role)),
		)
		return candidate, true, nil
	}

	existing, err := s.Get(ctx, principal.ID, true)
	if err != nil {
		return nil, false, err
	}
	if existing.Role != role {
		slog.Info("existing profile kept",
			slog.String("user_id", principal.ID),
			slog.String("role", string(existing.Role)),
			slog.String("requested_role", string(role)),
		)
	}
	return existing, false, nil
}

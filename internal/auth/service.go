// Package auth はセッションストア（メール/パスワード、OAuth、セッション、認証イベント）を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/jobconnect/internal/model"
	"github.com/hitoshi/jobconnect/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	FullName       string
	Name           string
}

// OAuthProvider はOAuth/OIDC認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL はstateとnonceを埋め込んだ認可URLを生成する。
	AuthCodeURL(ctx context.Context, state, nonce string) (string, error)
	// Exchange は認可コードをトークンに交換し、IDトークンを検証してユーザー情報を返す。
	Exchange(ctx context.Context, code, nonce string) (*OAuthUserInfo, error)
}

// OAuthCallback はコールバックで受け取ったパラメータ。
type OAuthCallback struct {
	State string
	Code  string
	// User はAppleが初回認可時だけform_postで送るユーザー情報（JSON）。署名されていないので表示名にのみ使う。
	User string
}

// SignUpInput はメール/パスワードでのサインアップ入力。
type SignUpInput struct {
	Email    string
	Password string
	FullName string
	Role     model.Role
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int    // セッション有効期間（秒）
	StateSecret   []byte // OAuth stateの署名鍵
	StateTTL      time.Duration
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers   map[string]OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	state       *stateSigner
	bus         *eventBus
	now         func() time.Time
}

// NewService はServiceを生成する。providersのキーはプロバイダー名（"google" 等）。
func NewService(
	providers map[string]OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if providers == nil {
		providers = map[string]OAuthProvider{}
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	s := &Service{
		providers:   providers,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		bus:         newEventBus(),
		now:         time.Now,
	}
	s.state = newStateSigner(config.StateSecret, config.StateTTL, func() time.Time { return s.now() })
	return s
}

// Providers は有効なOAuthプロバイダー名をソートして返す。
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderEnabled は指定プロバイダーが設定済みかを返す。
func (s *Service) ProviderEnabled(provider string) bool {
	_, ok := s.providers[provider]
	return ok
}

// CurrentPrincipal はセッションから現在のユーザーを取得する。
// セッションが無い、または期限切れの場合はnilを返す。
func (s *Service) CurrentPrincipal(ctx context.Context, sessionID string) (*model.Principal, error) {
	_, user, err := s.loadSession(ctx, sessionID)
	return user, err
}

// loadSession は有効なセッションとそのユーザーを返す。無効な場合は両方nil。
func (s *Service) loadSession(ctx context.Context, sessionID string) (*model.Session, *model.Principal, error) {
	if sessionID == "" {
		return nil, nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, nil
	}
	return session, user, nil
}

// SignUp はメール/パスワードでユーザーを作成し、セッションを発行する。
// メタデータにはfull_nameとroleを保存する。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*model.Session, *model.Principal, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, nil, model.NewInvalidInputError("Email")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, nil, model.NewInvalidInputError("A valid email")
	}
	if in.Password == "" {
		return nil, nil, model.NewInvalidInputError("Password")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return nil, nil, model.NewWeakPasswordError(MinPasswordLength)
	}
	if len(in.Password) > MaxPasswordBytes {
		return nil, nil, model.NewPasswordTooLongError(MaxPasswordBytes)
	}
	if in.Role != "" && !in.Role.Valid() {
		return nil, nil, model.NewRoleRequiredError(false)
	}

	hash, err := hashPassword(in.Password, s.config.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	user := &model.Principal{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Metadata: model.Metadata{
			FullName: strings.TrimSpace(in.FullName),
			Role:     in.Role,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       model.IdentityProviderEmail,
		ProviderUserID: email,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, model.NewDuplicateAccountError()
		}
		return nil, nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	session, err := s.createSession(ctx, user.ID, model.IdentityProviderEmail)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("role", string(in.Role)),
	)
	s.bus.emit(ctx, Event{Type: EventSignedIn, SessionID: session.ID, Principal: user, Provider: model.IdentityProviderEmail})

	return session, user, nil
}

// SignInWithPassword はメール/パスワードで認証し、セッションを発行する。
// メールアドレスの存在有無はエラー内容から判別できない。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, *model.Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	ok, err := checkPassword(user.PasswordHash, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID, model.IdentityProviderEmail)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID), slog.String("provider", model.IdentityProviderEmail))
	s.bus.emit(ctx, Event{Type: EventSignedIn, SessionID: session.ID, Principal: user, Provider: model.IdentityProviderEmail})

	return session, user, nil
}

// SignInWithOAuth はプロバイダーの認可URLを返す。
// stateには署名付きでプロバイダー、nonce、リダイレクト先（flowトークン付き）を載せる。
func (s *Service) SignInWithOAuth(ctx context.Context, provider, redirectTo, flowToken string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", model.NewUnsupportedProviderError(provider)
	}

	nonce, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	target := withFlowToken(safeRedirectPath(redirectTo), flowToken)
	state, err := s.state.sign(provider, nonce, target)
	if err != nil {
		return "", err
	}

	authURL, err := p.AuthCodeURL(ctx, state, nonce)
	if err != nil {
		slog.Error("failed to build authorization URL",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return "", model.NewProviderError(ProviderDisplayName(provider))
	}
	return authURL, nil
}

// CompleteOAuth はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に作成する。
// 戻り値のredirectToはSignInWithOAuthで指定したリダイレクト先。
func (s *Service) CompleteOAuth(ctx context.Context, provider string, cb OAuthCallback) (*model.Session, *model.Principal, string, error) {
	claims, err := s.state.parse(cb.State)
	if err != nil {
		slog.Warn("invalid oauth state", slog.String("provider", provider), slog.String("error", err.Error()))
		return nil, nil, "", model.NewInvalidFlowError()
	}
	if claims.Provider != provider {
		return nil, nil, "", model.NewInvalidFlowError()
	}

	p, ok := s.providers[provider]
	if !ok {
		return nil, nil, "", model.NewUnsupportedProviderError(provider)
	}
	if cb.Code == "" {
		return nil, nil, "", model.NewProviderError(ProviderDisplayName(provider))
	}

	// 1. 認可コードを交換し、IDトークンを検証
	info, err := p.Exchange(ctx, cb.Code, claims.Nonce)
	if err != nil {
		slog.Error("failed to exchange oauth code",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return nil, nil, "", model.NewProviderError(ProviderDisplayName(provider))
	}
	info.Provider = provider
	// AppleのIDトークンには名前が入らない
	if provider == ProviderApple && info.FullName == "" && info.Name == "" {
		info.FullName = appleUserName(cb.User)
	}

	// 2. ユーザーを特定または作成
	user, err := s.findOrCreateOAuthUser(ctx, info)
	if err != nil {
		return nil, nil, "", err
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, user.ID, provider)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	s.bus.emit(ctx, Event{Type: EventSignedIn, SessionID: session.ID, Principal: user, Provider: provider})

	return session, user, safeRedirectPath(claims.RedirectTo), nil
}

func (s *Service) findOrCreateOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.Principal, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	metadata := model.Metadata{FullName: strings.TrimSpace(info.FullName), Name: strings.TrimSpace(info.Name)}

	if identity != nil {
		// 既存ユーザー: プロバイダー側の名前を反映する
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("user %s for identity %s not found", identity.UserID, identity.ID)
		}
		if metadata.FullName != "" || metadata.Name != "" {
			if err := s.userRepo.UpdateMetadata(ctx, user.ID, metadata); err != nil {
				return nil, err
			}
			if metadata.FullName != "" {
				user.Metadata.FullName = metadata.FullName
			}
			if metadata.Name != "" {
				user.Metadata.Name = metadata.Name
			}
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
		return user, nil
	}

	email := normalizeEmail(info.Email)
	now := s.now()
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	// 検証済みメールアドレスが既存ユーザーと一致する場合はidentityを紐付ける
	if email != "" && info.EmailVerified {
		existing, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			newIdentity.UserID = existing.ID
			if err := s.identRepo.Create(ctx, newIdentity); err != nil {
				return nil, err
			}
			slog.Info("identity linked to existing user",
				slog.String("user_id", existing.ID),
				slog.String("provider", info.Provider),
			)
			return existing, nil
		}
	}

	if email == "" {
		return nil, model.NewProviderError(ProviderDisplayName(info.Provider))
	}

	user := &model.Principal{
		ID:        uuid.New().String(),
		Email:     email,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity.UserID = user.ID

	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 未検証メールで既存アカウントと衝突した
			return nil, model.NewDuplicateAccountError()
		}
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// SignOut はセッションを破棄し、SIGNED_OUTを通知する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, principal, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	ev := Event{Type: EventSignedOut, SessionID: sessionID, Principal: principal}
	if session != nil {
		ev.Provider = session.Provider
	}
	slog.Info("user logged out", slog.String("session_id", sessionID), slog.String("provider", ev.Provider))
	s.bus.emit(ctx, ev)
	return nil
}

// DiscardSignUp はSignUpで作ったばかりのアカウントを取り消す。
// プロフィールを作れなかったときに呼び、同じメールアドレスで再登録できる状態に戻す。
// サインアウトに失敗してもユーザーの削除は行う（セッションはCASCADEで消える）。
func (s *Service) DiscardSignUp(ctx context.Context, session *model.Session) error {
	if session == nil {
		return nil
	}

	signOutErr := s.SignOut(ctx, session.ID)
	if err := s.userRepo.Delete(ctx, session.UserID); err != nil {
		return errors.Join(signOutErr, fmt.Errorf("failed to discard user: %w", err))
	}

	slog.Warn("sign-up discarded", slog.String("user_id", session.UserID))
	return signOutErr
}

// OnAuthStateChange はセッションに紐づく認証イベントのリスナーを登録する。
// 登録直後に現在の状態をINITIAL_SESSIONとして同期的に配送する。
// sessionIDが空の場合はINITIAL_SESSIONのみ配送し、以降のイベントは届かない。
func (s *Service) OnAuthStateChange(ctx context.Context, sessionID string, fn Listener) (*Subscription, error) {
	session, principal, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{}
	initial := Event{Type: EventInitialSession}
	if session != nil {
		sub = s.bus.add(listenerEntry{sessionID: sessionID, fn: fn})
		initial.SessionID = sessionID
		initial.Principal = principal
		initial.Provider = session.Provider
	}

	fn(ctx, initial)
	return sub, nil
}

// Subscribe は全セッションの認証イベントを受け取るリスナーを登録する。
// INITIAL_SESSIONは配送されない。
func (s *Service) Subscribe(fn Listener) *Subscription {
	return s.bus.add(listenerEntry{global: true, fn: fn})
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID, provider string) (*model.Session, error) {
	sessionID, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Provider:  provider,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// randomToken は暗号的に安全なランダム値を16進文字列で返す。
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

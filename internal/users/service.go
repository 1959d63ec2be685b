package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prendiax/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultNameCacheSize = 1024

// ServiceConfig describes the dependencies required by the user service.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	Logger        *zap.Logger
	NameCacheSize int
}

// Service manages accounts, device registrations and block relationships.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	names  *lru.Cache[auth.Identity, string]
}

// RegisterInput carries the fields of an email sign-up.
type RegisterInput struct {
	Name         string
	Email        string
	Password     string
	Kind         string
	BusinessName string
	Category     string
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	size := cfg.NameCacheSize
	if size <= 0 {
		size = defaultNameCacheSize
	}
	names, err := lru.New[auth.Identity, string](size)
	if err != nil {
		return nil, newServiceError(opServiceNew, "cache_init_failed", err)
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
		names:  names,
	}, nil
}

// Register creates an email and password account.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	email := normalizeEmail(input.Email)
	name := normalize(input.Name)
	if email == "" || !strings.Contains(email, "@") || name == "" {
		return User{}, newServiceError(opRegister, "invalid_input", ErrInvalidInput)
	}
	kind, err := normalizeKind(input.Kind)
	if err != nil {
		return User{}, newServiceError(opRegister, "invalid_kind", err)
	}
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return User{}, newServiceError(opRegister, "weak_password", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	taken, err := s.emailTaken(ctx, email)
	if err != nil {
		s.logError(opRegister, "lookup_failed", err)
		return User{}, newServiceError(opRegister, "lookup_failed", err)
	}
	if taken {
		return User{}, newServiceError(opRegister, "email_taken", ErrEmailTaken)
	}

	user := User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		BusinessName: normalize(input.BusinessName),
		Category:     normalize(input.Category),
		Kind:         kind,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logError(opRegister, "insert_failed", err)
		return User{}, newServiceError(opRegister, "insert_failed", err)
	}
	return user, nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, newServiceError(opAuthenticate, "unknown_email", ErrInvalidCredentials)
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err)
		return User{}, newServiceError(opAuthenticate, "lookup_failed", err)
	}
	if user.PasswordHash == "" {
		return User{}, newServiceError(opAuthenticate, "no_password", ErrInvalidCredentials)
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return User{}, newServiceError(opAuthenticate, "password_mismatch", ErrInvalidCredentials)
	}
	return user, nil
}

// ResolveProviderUser returns the account linked to a Google or Apple identity.
// Unknown subjects are linked to an existing account with the same verified email, or a new
// explorer account is created.
func (s *Service) ResolveProviderUser(ctx context.Context, claims auth.ProviderClaims) (User, error) {
	column, err := providerColumn(claims.Provider)
	if err != nil {
		return User{}, newServiceError(opResolveProvider, "unknown_provider", err)
	}
	subject := normalize(claims.Subject)
	if subject == "" {
		return User{}, newServiceError(opResolveProvider, "missing_subject", ErrInvalidInput)
	}

	var user User
	err = s.db.WithContext(ctx).Where(column+" = ?", subject).Take(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opResolveProvider, "subject_lookup_failed", err, zap.String("provider", claims.Provider))
		return User{}, newServiceError(opResolveProvider, "subject_lookup_failed", err)
	}

	email := normalizeEmail(claims.Email)
	if email == "" {
		return User{}, newServiceError(opResolveProvider, "missing_email", ErrInvalidInput)
	}

	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	switch {
	case err == nil:
		if !claims.EmailVerified {
			return User{}, newServiceError(opResolveProvider, "unverified_email", ErrEmailTaken)
		}
		if err := s.db.WithContext(ctx).Model(&user).Update(column, subject).Error; err != nil {
			s.logError(opResolveProvider, "link_failed", err, zap.Int64("user_id", user.ID))
			return User{}, newServiceError(opResolveProvider, "link_failed", err)
		}
		return user, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.logError(opResolveProvider, "email_lookup_failed", err)
		return User{}, newServiceError(opResolveProvider, "email_lookup_failed", err)
	}

	name := normalize(claims.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user = User{Name: name, Email: email, Kind: KindExplorer}
	linked := subject
	if column == "google_sub" {
		user.GoogleSubject = &linked
	} else {
		user.AppleSubject = &linked
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logError(opResolveProvider, "insert_failed", err)
		return User{}, newServiceError(opResolveProvider, "insert_failed", err)
	}
	return user, nil
}

// Get loads the account for the identity.
func (s *Service) Get(ctx context.Context, identity auth.Identity) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", identity.Int64()).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, newServiceError(opGet, "not_found", ErrUserNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.Int64("user_id", identity.Int64()))
		return User{}, newServiceError(opGet, "query_failed", err)
	}
	return user, nil
}

// Exists reports whether an account exists for the identity.
func (s *Service) Exists(ctx context.Context, identity auth.Identity) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", identity.Int64()).Count(&count).Error; err != nil {
		s.logError(opGet, "count_failed", err, zap.Int64("user_id", identity.Int64()))
		return false, newServiceError(opGet, "count_failed", err)
	}
	return count > 0, nil
}

// DisplayName returns the public name of the identity, served from an LRU cache.
func (s *Service) DisplayName(ctx context.Context, identity auth.Identity) (string, error) {
	if name, ok := s.names.Get(identity); ok {
		return name, nil
	}
	user, err := s.Get(ctx, identity)
	if err != nil {
		return "", err
	}
	name := user.DisplayName()
	s.names.Add(identity, name)
	return name, nil
}

// Profile returns the public view of the identity.
func (s *Service) Profile(ctx context.Context, identity auth.Identity) (Profile, error) {
	user, err := s.Get(ctx, identity)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		BusinessName: user.BusinessName,
		Category:     user.Category,
		Kind:         user.Kind,
		DisplayName:  user.DisplayName(),
	}, nil
}

// RegisterDeviceToken attaches a push token to the identity, moving it away from any previous owner.
func (s *Service) RegisterDeviceToken(ctx context.Context, identity auth.Identity, token, platform string) error {
	token = normalize(token)
	if token == "" {
		return newServiceError(opDeviceTokens, "missing_token", ErrInvalidInput)
	}
	record := DeviceToken{
		UserID:   identity.Int64(),
		Token:    token,
		Platform: strings.ToLower(normalize(platform)),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "actualizado_en"}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opDeviceTokens, "upsert_failed", err, zap.Int64("user_id", identity.Int64()))
		return newServiceError(opDeviceTokens, "upsert_failed", err)
	}
	return nil
}

// RemoveDeviceToken forgets a push token regardless of its owner.
func (s *Service) RemoveDeviceToken(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).Where("token = ?", normalize(token)).Delete(&DeviceToken{}).Error; err != nil {
		s.logError(opDeviceTokens, "delete_failed", err)
		return newServiceError(opDeviceTokens, "delete_failed", err)
	}
	return nil
}

// DeviceTokens lists the push tokens registered for the identity.
func (s *Service) DeviceTokens(ctx context.Context, identity auth.Identity) ([]string, error) {
	var tokens []string
	err := s.db.WithContext(ctx).Model(&DeviceToken{}).
		Where("user_id = ?", identity.Int64()).
		Order("id ASC").
		Pluck("token", &tokens).Error
	if err != nil {
		s.logError(opDeviceTokens, "query_failed", err, zap.Int64("user_id", identity.Int64()))
		return nil, newServiceError(opDeviceTokens, "query_failed", err)
	}
	return tokens, nil
}

// Block records that blocker refuses contact with blocked. Repeating a block is a no-op.
func (s *Service) Block(ctx context.Context, blocker, blocked auth.Identity) error {
	if blocker == blocked {
		return newServiceError(opBlock, "self_block", ErrInvalidInput)
	}
	exists, err := s.Exists(ctx, blocked)
	if err != nil {
		return err
	}
	if !exists {
		return newServiceError(opBlock, "unknown_user", ErrUserNotFound)
	}
	record := Block{BlockerID: blocker.Int64(), BlockedID: blocked.Int64(), CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		s.logError(opBlock, "insert_failed", err, zap.Int64("user_id", blocker.Int64()))
		return newServiceError(opBlock, "insert_failed", err)
	}
	return nil
}

// Unblock removes a block created by blocker.
func (s *Service) Unblock(ctx context.Context, blocker, blocked auth.Identity) error {
	err := s.db.WithContext(ctx).
		Where("bloqueador_id = ? AND bloqueado_id = ?", blocker.Int64(), blocked.Int64()).
		Delete(&Block{}).Error
	if err != nil {
		s.logError(opBlock, "delete_failed", err, zap.Int64("user_id", blocker.Int64()))
		return newServiceError(opBlock, "delete_failed", err)
	}
	return nil
}

// IsBlocked reports whether either user has blocked the other.
func (s *Service) IsBlocked(ctx context.Context, first, second auth.Identity) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Block{}).
		Where("(bloqueador_id = ? AND bloqueado_id = ?) OR (bloqueador_id = ? AND bloqueado_id = ?)",
			first.Int64(), second.Int64(), second.Int64(), first.Int64()).
		Count(&count).Error
	if err != nil {
		s.logError(opBlock, "query_failed", err)
		return false, newServiceError(opBlock, "query_failed", err)
	}
	return count > 0, nil
}

func (s *Service) emailTaken(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

func normalizeKind(kind string) (string, error) {
	switch strings.ToLower(normalize(kind)) {
	case "", KindExplorer:
		return KindExplorer, nil
	case KindEntrepreneur:
		return KindEntrepreneur, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
}

func providerColumn(provider string) (string, error) {
	switch provider {
	case auth.ProviderGoogle:
		return "google_sub", nil
	case auth.ProviderApple:
		return "apple_sub", nil
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, provider)
	}
}

package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prendiax/backend/internal/auth"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &DeviceToken{}, &Block{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func mustRegister(t *testing.T, service *Service, name, email string) User {
	t.Helper()
	user, err := service.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: "secreto123"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

func identityOf(t *testing.T, user User) auth.Identity {
	t.Helper()
	identity, err := auth.NewIdentity(user.ID)
	if err != nil {
		t.Fatalf("invalid identity: %v", err)
	}
	return identity
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, RegisterInput{
		Name:         "Lucia",
		Email:        " Lucia@Example.com ",
		Password:     "secreto123",
		Kind:         KindEntrepreneur,
		BusinessName: "Panaderia Lucia",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID <= 0 || user.Email != "lucia@example.com" || user.Kind != KindEntrepreneur {
		t.Fatalf("unexpected user %+v", user)
	}

	authenticated, err := service.Authenticate(ctx, "LUCIA@example.com", "secreto123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authenticated.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, authenticated.ID)
	}

	if _, err := service.Authenticate(ctx, "lucia@example.com", "incorrecta"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nadie@example.com", "secreto123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service, _ := newTestService(t)
	mustRegister(t, service, "Ana", "ana@example.com")

	_, err := service.Register(context.Background(), RegisterInput{Name: "Otra", Email: "ANA@example.com", Password: "secreto123"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "users.register.email_taken" {
		t.Fatalf("unexpected service error %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	service, _ := newTestService(t)
	testCases := []RegisterInput{
		{Name: "", Email: "a@example.com", Password: "secreto123"},
		{Name: "A", Email: "no-at-sign", Password: "secreto123"},
		{Name: "A", Email: "a@example.com", Password: "123"},
		{Name: "A", Email: "a@example.com", Password: "secreto123", Kind: "admin"},
	}
	for _, input := range testCases {
		if _, err := service.Register(context.Background(), input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", input, err)
		}
	}
}

func TestResolveProviderUserLinksAndCreates(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	existing := mustRegister(t, service, "Marta", "marta@example.com")

	linked, err := service.ResolveProviderUser(ctx, auth.ProviderClaims{
		Provider:      auth.ProviderGoogle,
		Subject:       "google-1",
		Email:         "marta@example.com",
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("resolve linked: %v", err)
	}
	if linked.ID != existing.ID {
		t.Fatalf("expected link to user %d, got %d", existing.ID, linked.ID)
	}

	again, err := service.ResolveProviderUser(ctx, auth.ProviderClaims{Provider: auth.ProviderGoogle, Subject: "google-1"})
	if err != nil {
		t.Fatalf("resolve by subject: %v", err)
	}
	if again.ID != existing.ID {
		t.Fatalf("expected subject lookup to find user %d, got %d", existing.ID, again.ID)
	}

	created, err := service.ResolveProviderUser(ctx, auth.ProviderClaims{
		Provider: auth.ProviderApple,
		Subject:  "apple-1",
		Email:    "nuevo@privaterelay.appleid.com",
	})
	if err != nil {
		t.Fatalf("resolve created: %v", err)
	}
	if created.ID == existing.ID || created.Name != "nuevo" || created.AppleSubject == nil {
		t.Fatalf("unexpected created user %+v", created)
	}
}

func TestResolveProviderUserRefusesUnverifiedTakeover(t *testing.T) {
	service, _ := newTestService(t)
	mustRegister(t, service, "Marta", "marta@example.com")

	_, err := service.ResolveProviderUser(context.Background(), auth.ProviderClaims{
		Provider: auth.ProviderGoogle,
		Subject:  "google-2",
		Email:    "marta@example.com",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestDisplayNamePrefersBusinessAndCaches(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	user, err := service.Register(ctx, RegisterInput{
		Name: "Pablo", Email: "pablo@example.com", Password: "secreto123",
		Kind: KindEntrepreneur, BusinessName: "Taller Pablo",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	identity := identityOf(t, user)

	name, err := service.DisplayName(ctx, identity)
	if err != nil || name != "Taller Pablo" {
		t.Fatalf("expected business name, got %q, %v", name, err)
	}

	if err := db.Model(&User{}).Where("id = ?", user.ID).Update("nombre_empresa", "Otro").Error; err != nil {
		t.Fatalf("update: %v", err)
	}
	cached, err := service.DisplayName(ctx, identity)
	if err != nil || cached != "Taller Pablo" {
		t.Fatalf("expected cached name, got %q, %v", cached, err)
	}

	if _, err := service.DisplayName(ctx, auth.Identity(9999)); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDeviceTokensMoveBetweenOwners(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	first := identityOf(t, mustRegister(t, service, "Uno", "uno@example.com"))
	second := identityOf(t, mustRegister(t, service, "Dos", "dos@example.com"))

	if err := service.RegisterDeviceToken(ctx, first, "token-a", "android"); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := service.RegisterDeviceToken(ctx, first, "token-b", "ios"); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := service.RegisterDeviceToken(ctx, second, "token-a", "android"); err != nil {
		t.Fatalf("re-register token: %v", err)
	}

	firstTokens, err := service.DeviceTokens(ctx, first)
	if err != nil {
		t.Fatalf("device tokens: %v", err)
	}
	if len(firstTokens) != 1 || firstTokens[0] != "token-b" {
		t.Fatalf("unexpected tokens for first user %v", firstTokens)
	}
	secondTokens, err := service.DeviceTokens(ctx, second)
	if err != nil {
		t.Fatalf("device tokens: %v", err)
	}
	if len(secondTokens) != 1 || secondTokens[0] != "token-a" {
		t.Fatalf("unexpected tokens for second user %v", secondTokens)
	}

	if err := service.RemoveDeviceToken(ctx, "token-b"); err != nil {
		t.Fatalf("remove token: %v", err)
	}
	firstTokens, _ = service.DeviceTokens(ctx, first)
	if len(firstTokens) != 0 {
		t.Fatalf("expected no tokens after removal, got %v", firstTokens)
	}
}

func TestBlockIsCheckedInBothDirections(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	alice := identityOf(t, mustRegister(t, service, "Alicia", "alicia@example.com"))
	bob := identityOf(t, mustRegister(t, service, "Roberto", "roberto@example.com"))

	if err := service.Block(ctx, alice, bob); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := service.Block(ctx, alice, bob); err != nil {
		t.Fatalf("repeated block: %v", err)
	}
	for _, pair := range [][2]auth.Identity{{alice, bob}, {bob, alice}} {
		blocked, err := service.IsBlocked(ctx, pair[0], pair[1])
		if err != nil || !blocked {
			t.Fatalf("expected block between %d and %d, got %v, %v", pair[0], pair[1], blocked, err)
		}
	}

	if err := service.Unblock(ctx, alice, bob); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	blocked, err := service.IsBlocked(ctx, bob, alice)
	if err != nil || blocked {
		t.Fatalf("expected no block after unblock, got %v, %v", blocked, err)
	}

	if err := service.Block(ctx, alice, alice); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for self block, got %v", err)
	}
	if err := service.Block(ctx, alice, auth.Identity(9999)); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

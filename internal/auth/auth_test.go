package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/quill/pkg/models"
)

func TestServiceValidateAPIKey(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "abc123", UserID: "user-1", Email: "user@example.com"}}})
	user, err := service.ValidateAPIKey("abc123")
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("expected user id, got %q", user.ID)
	}
	if user.Email != "user@example.com" {
		t.Fatalf("expected email, got %q", user.Email)
	}
	if _, err := service.ValidateAPIKey("nope"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("ValidateAPIKey(nope) error = %v", err)
	}
}

func TestServiceAPIKeyDerivesUserID(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "k"}}})
	user, err := service.ValidateAPIKey("k")
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if len(user.ID) != len("api_")+16 {
		t.Errorf("derived id = %q", user.ID)
	}
}

func TestServiceAuthenticate(t *testing.T) {
	service := NewService(Config{
		JWTSecret:   "secret",
		TokenExpiry: time.Hour,
		APIKeys:     []APIKeyConfig{{Key: "key-1", UserID: "api-user"}},
	})
	token, err := service.GenerateJWT(&models.User{ID: "jwt-user"})
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	tests := []struct {
		name       string
		credential string
		wantID     string
		wantErr    error
	}{
		{name: "jwt", credential: token, wantID: "jwt-user"},
		{name: "api key", credential: "key-1", wantID: "api-user"},
		{name: "empty", credential: "  ", wantErr: ErrNoCredential},
		{name: "unknown", credential: "a.b.c", wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := service.Authenticate(context.Background(), tt.credential)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if user.ID != tt.wantID {
				t.Errorf("user = %q, want %q", user.ID, tt.wantID)
			}
		})
	}
}

func TestServiceDisabled(t *testing.T) {
	service := NewService(Config{})
	if service.Enabled() {
		t.Fatal("expected disabled service")
	}
	if _, err := service.Authenticate(context.Background(), "x"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("Authenticate() error = %v, want ErrAuthDisabled", err)
	}
}

func TestUserFromContext(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("empty context must have no user")
	}
	if _, ok := UserFromContext(WithUser(context.Background(), &models.User{})); ok {
		t.Error("a user without id must count as absent")
	}
	user, ok := UserFromContext(WithUser(context.Background(), &models.User{ID: "u1"}))
	if !ok || user.ID != "u1" {
		t.Errorf("UserFromContext() = %v, %v", user, ok)
	}
}

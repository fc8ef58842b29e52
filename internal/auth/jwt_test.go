package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/quill/pkg/models"
)

func TestJWTServiceGenerateValidate(t *testing.T) {
	service := NewJWTService("secret", "quill", time.Hour)
	token, err := service.Generate(&models.User{ID: "user-1", Email: "user@example.com", Name: "User"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	user, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("expected user id, got %q", user.ID)
	}
	if user.Email != "user@example.com" {
		t.Fatalf("expected email, got %q", user.Email)
	}
	if user.Name != "User" {
		t.Fatalf("expected name, got %q", user.Name)
	}
}

func TestJWTServiceRejects(t *testing.T) {
	service := NewJWTService("secret", "quill", time.Hour)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "quill",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	expiredToken, _ := expired.SignedString([]byte("secret"))

	wrongIssuer, _ := NewJWTService("secret", "other", time.Hour).Generate(&models.User{ID: "user-1"})
	wrongSecret, _ := NewJWTService("other-secret", "quill", time.Hour).Generate(&models.User{ID: "user-1"})

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "quill"}})
	noSubjectToken, _ := noSubject.SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expiredToken},
		{"wrong issuer", wrongIssuer},
		{"wrong secret", wrongSecret},
		{"missing subject", noSubjectToken},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTServiceNoExpiry(t *testing.T) {
	service := NewJWTService("secret", "", 0)
	token, err := service.Generate(&models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := service.Validate(token); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

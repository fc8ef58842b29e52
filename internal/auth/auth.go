// Package auth resolves request principals from JWTs and static API keys.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/quill/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
	ErrNoCredential = errors.New("missing credentials")
)

// Config configures authentication.
type Config struct {
	JWTSecret   string
	Issuer      string
	TokenExpiry time.Duration
	APIKeys     []APIKeyConfig
	// CookieName is the session cookie carrying a JWT for browser clients.
	CookieName string
}

// APIKeyConfig declares a static API key and associated identity.
type APIKeyConfig struct {
	Key    string
	UserID string
	Email  string
	Name   string
}

// Service validates JWTs and API keys.
type Service struct {
	jwt        *JWTService
	apiKeys    map[string]*models.User
	cookieName string
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{cookieName: cfg.CookieName}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.Issuer, cfg.TokenExpiry)
	}
	if service.cookieName == "" {
		service.cookieName = "quill_session"
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	return service
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// Authenticate resolves a credential that may be either a JWT or an API key.
func (s *Service) Authenticate(ctx context.Context, credential string) (*models.User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrNoCredential
	}
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	if s.jwt != nil && strings.Count(credential, ".") == 2 {
		if user, err := s.jwt.Validate(credential); err == nil {
			return user, nil
		}
	}
	if len(s.apiKeys) > 0 {
		if user, err := s.ValidateAPIKey(credential); err == nil {
			return user, nil
		}
	}
	return nil, ErrInvalidToken
}

// GenerateJWT issues a signed token for the given user.
func (s *Service) GenerateJWT(user *models.User) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(user)
}

// ValidateJWT validates a JWT and returns the associated user.
func (s *Service) ValidateJWT(token string) (*models.User, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey validates an API key and returns the associated user.
// Every stored key is compared in constant time.
func (s *Service) ValidateAPIKey(key string) (*models.User, error) {
	if s == nil || len(s.apiKeys) == 0 {
		return nil, ErrAuthDisabled
	}
	inputKey := strings.TrimSpace(key)
	var matchedUser *models.User
	for storedKey, user := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(inputKey), []byte(storedKey)) == 1 {
			matchedUser = user
		}
	}
	if matchedUser == nil {
		return nil, ErrInvalidKey
	}
	u := *matchedUser
	return &u, nil
}

func buildAPIKeyMap(keys []APIKeyConfig) map[string]*models.User {
	out := map[string]*models.User{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			sum := sha256.Sum256([]byte(key))
			userID = "api_" + hex.EncodeToString(sum[:8])
		}
		out[key] = &models.User{
			ID:    userID,
			Email: strings.TrimSpace(entry.Email),
			Name:  strings.TrimSpace(entry.Name),
		}
	}
	return out
}

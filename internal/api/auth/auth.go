// Package auth issues and verifies client bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// ErrInvalidToken is returned for a missing, malformed, forged or expired token
var ErrInvalidToken = errors.New("invalid or expired token")

// ClientStore looks up tenants
type ClientStore interface {
	GetClientByID(ctx context.Context, id string) (*domain.Client, error)
	GetClientByAPIKey(ctx context.Context, apiKey string) (*domain.Client, error)
}

// Config holds token and cache settings
type Config struct {
	Secret    string
	TokenTTL  time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// Claims is the token payload
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Service logs clients in and resolves tokens back to clients
type Service struct {
	secret []byte
	ttl    time.Duration
	store  ClientStore
	cache  *expirable.LRU[string, *domain.Client]
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new auth Service
func NewService(cfg Config, store ClientStore, logger *slog.Logger) *Service {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Service{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		store:  store,
		cache:  expirable.NewLRU[string, *domain.Client](size, nil, cacheTTL),
		logger: logger,
		now:    time.Now,
	}
}

// Login exchanges an API key for a signed token
func (s *Service) Login(ctx context.Context, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", domain.Validationf("api_key is required")
	}

	client, err := s.store.GetClientByAPIKey(ctx, apiKey)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("%w: invalid api key or inactive client", domain.ErrAuthorization)
	}
	if err != nil {
		return "", err
	}
	if !client.Active {
		return "", fmt.Errorf("%w: invalid api key or inactive client", domain.ErrAuthorization)
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ClientID: client.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info("Client logged in", slog.String("client_id", client.ID))
	return signed, nil
}

// Authenticate verifies a token and returns its active client
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*domain.Client, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.ClientID == "" {
		return nil, ErrInvalidToken
	}

	client, err := s.client(ctx, claims.ClientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid or inactive client", domain.ErrAuthorization)
	}
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, fmt.Errorf("%w: invalid or inactive client", domain.ErrAuthorization)
	}

	return client, nil
}

func (s *Service) client(ctx context.Context, id string) (*domain.Client, error) {
	if client, ok := s.cache.Get(id); ok {
		return client, nil
	}

	client, err := s.store.GetClientByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, client)
	return client, nil
}

// Package services holds the business logic between the transport layer
// (handlers, ws) and the repositories. Services never see http types and
// never run SQL directly.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
	"github.com/serofero/server/pkg/cache"
	"github.com/serofero/server/repository"
)

const userCacheTTL = 30 * time.Second

// AuthService issues and verifies access tokens. Credential checks live in
// the account service; this one only trusts tokens it can verify.
type AuthService interface {
	IssueAccessToken(user *models.User) (string, error)

	// ValidateAccessToken checks signature, expiry and token type.
	// Any failure wraps pkg.ErrUnauthorized.
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)

	// ResolveUser validates the token and loads its active user.
	ResolveUser(ctx context.Context, tokenString string) (*models.User, error)

	Close()
}

type authService struct {
	userRepo  repository.UserRepository
	users     *cache.TTLCache[int64, *models.User]
	jwtSecret []byte
	accessExp time.Duration
	now       func() time.Time
}

// NewAuthService builds an AuthService signing HS256 tokens with jwtSecret.
func NewAuthService(userRepo repository.UserRepository, jwtSecret string, accessExp time.Duration) AuthService {
	return &authService{
		userRepo:  userRepo,
		users:     cache.New[int64, *models.User](userCacheTTL, time.Minute),
		jwtSecret: []byte(jwtSecret),
		accessExp: accessExp,
		now:       time.Now,
	}
}

func (s *authService) IssueAccessToken(user *models.User) (string, error) {
	now := s.now()
	claims := models.TokenClaims{
		UserID:    user.ID,
		Username:  user.Username,
		TokenType: models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExp)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (s *authService) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", pkg.ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", pkg.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", pkg.ErrUnauthorized)
	}
	if claims.TokenType != models.TokenTypeAccess {
		return nil, fmt.Errorf("%w: not an access token", pkg.ErrUnauthorized)
	}

	id, err := subjectID(claims)
	if err != nil {
		return nil, err
	}
	claims.UserID = id

	return claims, nil
}

// subjectID reads the user id from sub, falling back to user_id for tokens
// that carry only the latter. When both are present they must agree.
func subjectID(claims *models.TokenClaims) (int64, error) {
	if claims.Subject == "" {
		if claims.UserID <= 0 {
			return 0, fmt.Errorf("%w: token has no subject", pkg.ErrUnauthorized)
		}
		return claims.UserID, nil
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed subject", pkg.ErrUnauthorized)
	}
	if claims.UserID != 0 && claims.UserID != id {
		return 0, fmt.Errorf("%w: subject mismatch", pkg.ErrUnauthorized)
	}
	return id, nil
}

func (s *authService) ResolveUser(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}

	if u, ok := s.users.Get(claims.UserID); ok {
		return u, nil
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pkg.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", pkg.ErrUnauthorized)
		}
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user is inactive", pkg.ErrUnauthorized)
	}

	s.users.Set(user.ID, user)
	return user, nil
}

func (s *authService) Close() {
	s.users.Close()
}

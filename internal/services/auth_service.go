package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/models"
	"github.com/smarttransit/busticket-backend/pkg/jwt"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrAccountInactive is returned when a disabled account tries to log in
var ErrAccountInactive = errors.New("account is inactive")

// ErrInvalidRefreshToken is returned for a malformed or expired refresh token
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// AuthService handles staff authentication
type AuthService struct {
	store      database.Store
	jwtService *jwt.Service
	logger     *logrus.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(store database.Store, jwtService *jwt.Service, logger *logrus.Logger) *AuthService {
	return &AuthService{store: store, jwtService: jwtService, logger: logger}
}

// Login checks the password and issues tokens carrying the role's permissions
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	resp, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateLastLogin(ctx, user.ID.String()); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to update last login")
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.Role,
	}).Info("User logged in")
	return resp, nil
}

// Refresh issues a new access token from a refresh token. Permissions are
// resolved again so role changes apply.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.LoginResponse, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	user, err := s.store.GetUserByUsername(ctx, claims.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.ID != claims.UserID {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

func (s *AuthService) issue(ctx context.Context, user *models.User) (*models.LoginResponse, error) {
	if !user.IsActive() {
		return nil, ErrAccountInactive
	}

	permissions, err := s.permissionsFor(ctx, user.Role)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(permissions))
	for i, p := range permissions {
		names[i] = string(p)
	}

	accessToken, expiresAt, err := s.jwtService.GenerateAccessToken(user.ID, user.Username, user.Role, names)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := s.jwtService.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
		Permissions:  permissions,
	}, nil
}

// permissionsFor resolves a role's permissions; admin has them all
func (s *AuthService) permissionsFor(ctx context.Context, roleName string) ([]models.Permission, error) {
	if roleName == "admin" {
		return models.AllPermissions, nil
	}
	role, err := s.store.GetRole(ctx, roleName)
	if errors.Is(err, database.ErrNotFound) {
		return []models.Permission{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}

	permissions := make([]models.Permission, 0, len(role.Permissions))
	for _, name := range role.Permissions {
		permissions = append(permissions, models.Permission(name))
	}
	return permissions, nil
}

// HashPassword hashes a password with the given bcrypt cost
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

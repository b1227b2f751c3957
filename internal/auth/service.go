// Package auth registers farmers, verifies passwords and issues the bearer
// tokens the API and field client use.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"agridetect/internal/models"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrValidation         = errors.New("validation failed")
)

const DefaultTokenTTL = 7 * 24 * time.Hour

// UserStore is the persistence the service needs; store.UserRepo satisfies it.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	ByEmail(ctx context.Context, email string) (*models.User, error)
	ByID(ctx context.Context, id string) (*models.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

type Options struct {
	SigningKey  []byte
	TokenTTL    time.Duration
	AdminEmails []string
	Logger      *zap.Logger
}

type Service struct {
	users    UserStore
	key      []byte
	ttl      time.Duration
	admins   map[string]bool
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(users UserStore, opts Options) (*Service, error) {
	if len(opts.SigningKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	admins := make(map[string]bool, len(opts.AdminEmails))
	for _, e := range opts.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &Service{
		users:    users,
		key:      opts.SigningKey,
		ttl:      opts.TokenTTL,
		admins:   admins,
		validate: validator.New(),
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// CurrentUser loads the account behind a verified token.
func (s *Service) CurrentUser(ctx context.Context, claims *Claims) (*models.User, error) {
	if claims == nil {
		return nil, ErrInvalidToken
	}
	u, err := s.users.ByID(ctx, claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return u, nil
}

// HashPassword hashes a password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash checks a password hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agridetect/internal/models"
	"agridetect/internal/store"
)

type memUsers struct {
	mu    sync.Mutex
	byID  map[string]*models.User
	email map[string]string
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}, email: map[string]string{}}
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.email[u.Email]; ok {
		return store.ErrDuplicate
	}
	cp := *u
	m.byID[u.ID] = &cp
	m.email[u.Email] = u.ID
	return nil
}

func (m *memUsers) ByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memUsers) ByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) TouchLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.LastLogin = at
	return nil
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) (*Service, *memUsers) {
	t.Helper()
	users := newMemUsers()
	svc, err := NewService(users, Options{SigningKey: testKey, AdminEmails: []string{"Boss@Example.com"}})
	require.NoError(t, err)
	return svc, users
}

func TestNewServiceRejectsShortKey(t *testing.T) {
	_, err := NewService(newMemUsers(), Options{SigningKey: []byte("short")})
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterRequest{Email: " Farmer@Example.com", FullName: "Ana", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, "farmer@example.com", u.Email)
	assert.Equal(t, models.RoleFarmer, u.Role)
	assert.NotEqual(t, "longenough", u.PasswordHash)
	assert.True(t, CheckPasswordHash("longenough", u.PasswordHash))

	admin, err := svc.Register(ctx, RegisterRequest{Email: "boss@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	_, err = svc.Register(ctx, RegisterRequest{Email: "farmer@example.com", Password: "longenough"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Email: "not-an-email", Password: "longenough"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "valid email")

	_, err = svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "short"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "at least 8")

	_, err = svc.Register(ctx, RegisterRequest{Password: "longenough"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoginAndToken(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "longenough"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Email: "a@example.com", Password: "wrongpass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "longenough"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := svc.Login(ctx, LoginRequest{Email: "a@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), resp.ExpiresAt, time.Minute)

	stored, _ := users.ByID(ctx, u.ID)
	assert.False(t, stored.LastLogin.IsZero())

	claims, err := svc.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID())
	assert.Equal(t, "a@example.com", claims.Email)
	assert.False(t, claims.IsAdmin())

	me, err := svc.CurrentUser(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, u.ID, me.ID)
}

func TestParseTokenRejects(t *testing.T) {
	svc, _ := newTestService(t)
	u := &models.User{ID: "u--1", Email: "a@example.com", Role: models.RoleFarmer}

	_, err := svc.ParseToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewService(newMemUsers(), Options{SigningKey: []byte("ffffffffffffffffffffffffffffffff")})
	require.NoError(t, err)
	foreign, _, err := other.IssueToken(u)
	require.NoError(t, err)
	_, err = svc.ParseToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }
	expired, _, err := svc.IssueToken(u)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().UTC() }
	_, err = svc.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	farmer := &models.User{ID: "u--1", Email: "a@example.com", Role: models.RoleFarmer}
	admin := &models.User{ID: "u--2", Email: "boss@example.com", Role: models.RoleAdmin}
	farmerTok, _, err := svc.IssueToken(farmer)
	require.NoError(t, err)
	adminTok, _, err := svc.IssueToken(admin)
	require.NoError(t, err)

	var seen *Claims
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	protected := svc.Middleware(ok)
	adminOnly := svc.Middleware(RequireRole(models.RoleAdmin)(ok))

	do := func(h http.Handler, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(protected, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(401), body["code"])

	assert.Equal(t, http.StatusUnauthorized, do(protected, "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, do(protected, "Basic abc").Code)

	assert.Equal(t, http.StatusNoContent, do(protected, "bearer "+farmerTok).Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u--1", seen.UserID())

	assert.Equal(t, http.StatusForbidden, do(adminOnly, "Bearer "+farmerTok).Code)
	assert.Equal(t, http.StatusNoContent, do(adminOnly, "Bearer "+adminTok).Code)

	// RequireRole without Middleware in front
	assert.Equal(t, http.StatusUnauthorized, do(RequireRole(models.RoleAdmin)(ok), "").Code)
}

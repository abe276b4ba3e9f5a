package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

type memoryAuthRepo struct {
	users    map[string]*User
	sessions map[string]int64
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{users: make(map[string]*User), sessions: make(map[string]int64)}
}

func (m *memoryAuthRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memoryAuthRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	m.sessions[id] = userID
	return nil
}

func (m *memoryAuthRepo) DeleteSession(ctx context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

type recordRegistry struct {
	registered []string
	released   []string
}

func (r *recordRegistry) Register(ctx context.Context, userID int64, sessionID string) error {
	r.registered = append(r.registered, sessionID)
	return nil
}

func (r *recordRegistry) Release(ctx context.Context, userID int64, sessionID string) error {
	r.released = append(r.released, sessionID)
	return nil
}

type recordCloser struct {
	closed []int64
}

func (c *recordCloser) CloseSessions(ctx context.Context, userID int64) error {
	c.closed = append(c.closed, userID)
	return nil
}

type handlerFixture struct {
	handler  *Handler
	repo     *memoryAuthRepo
	registry *recordRegistry
	closer   *recordCloser
	sessions *shared.SessionManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryAuthRepo()
	registry := &recordRegistry{}
	closer := &recordCloser{}
	sm := shared.NewSessionManager(client, "meridian_session", "test-secret", time.Hour, false)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, NewService(repo), sm, shared.NewCSRFManager("test-secret"), registry, closer)
	return &handlerFixture{handler: h, repo: repo, registry: registry, closer: closer, sessions: sm}
}

func (f *handlerFixture) seedUser(t *testing.T, email, password string, active bool) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &User{ID: int64(len(f.repo.users) + 1), Email: email, Name: "Test User", PasswordHash: string(hash), IsActive: active}
	f.repo.users[email] = u
	return u
}

func (f *handlerFixture) request(t *testing.T, method, path, body string) (*http.Request, *shared.Session) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	sess, err := f.sessions.Load(req.Context(), req)
	require.NoError(t, err)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func TestLoginSuccess(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.seedUser(t, "doc@hospital.test", "password-123", true)

	req, sess := f.request(t, http.MethodPost, "/login", `{"email":"doc@hospital.test","password":"password-123"}`)
	rr := httptest.NewRecorder()
	f.handler.handleLogin(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		User struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, user.ID, body.User.ID)
	require.Equal(t, "doc@hospital.test", body.User.Email)
	require.NotEmpty(t, body.CSRFToken)

	require.Equal(t, "1", sess.User())
	require.Equal(t, user.ID, f.repo.sessions[sess.ID])
	require.Equal(t, []string{sess.ID}, f.registry.registered)

	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, "meridian_session", cookies[0].Name)
	require.Equal(t, sess.ID, cookies[0].Value)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedUser(t, "doc@hospital.test", "password-123", true)

	req, _ := f.request(t, http.MethodPost, "/login", `{"email":"doc@hospital.test","password":"wrong-password"}`)
	rr := httptest.NewRecorder()
	f.handler.handleLogin(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, f.registry.registered)
}

func TestLoginInactiveAccountRejected(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedUser(t, "former@hospital.test", "password-123", false)

	req, _ := f.request(t, http.MethodPost, "/login", `{"email":"former@hospital.test","password":"password-123"}`)
	rr := httptest.NewRecorder()
	f.handler.handleLogin(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginValidation(t *testing.T) {
	f := newHandlerFixture(t)

	req, _ := f.request(t, http.MethodPost, "/login", `{"email":"not-an-email","password":"short"}`)
	rr := httptest.NewRecorder()
	f.handler.handleLogin(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogoutReleasesEverything(t *testing.T) {
	f := newHandlerFixture(t)
	user := f.seedUser(t, "doc@hospital.test", "password-123", true)

	loginReq, sess := f.request(t, http.MethodPost, "/login", `{"email":"doc@hospital.test","password":"password-123"}`)
	f.handler.handleLogin(httptest.NewRecorder(), loginReq)
	require.Contains(t, f.repo.sessions, sess.ID)

	logoutReq, _ := f.request(t, http.MethodPost, "/logout", "")
	logoutReq = logoutReq.WithContext(shared.ContextWithSession(logoutReq.Context(), sess))
	rr := httptest.NewRecorder()
	f.handler.handleLogout(rr, logoutReq)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotContains(t, f.repo.sessions, sess.ID)
	require.Equal(t, []string{sess.ID}, f.registry.released)
	require.Equal(t, []int64{user.ID}, f.closer.closed)

	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, -1, cookies[len(cookies)-1].MaxAge)
}

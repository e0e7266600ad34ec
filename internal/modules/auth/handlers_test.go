package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akontos/tradeledger/internal/database"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	repo := NewRepository(db.Conn(), log)
	return NewHandler(repo, "test-jwt-secret", time.Hour, log)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	handler := setupTestHandler(t)

	creds := credentials{Email: "trader@example.com", Password: "hunter2hunter2"}

	w := postJSON(t, handler.HandleRegister, "/api/auth/register", creds)
	require.Equal(t, http.StatusOK, w.Code)

	var registered tokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&registered))
	assert.NotEmpty(t, registered.Token)

	w = postJSON(t, handler.HandleLogin, "/api/auth/login", creds)
	require.Equal(t, http.StatusOK, w.Code)

	var loggedIn tokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&loggedIn))
	assert.NotEmpty(t, loggedIn.Token)
}

func TestRegister_RejectsWeakCredentials(t *testing.T) {
	handler := setupTestHandler(t)

	w := postJSON(t, handler.HandleRegister, "/api/auth/register", credentials{Email: "not-an-email", Password: "hunter2hunter2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, handler.HandleRegister, "/api/auth/register", credentials{Email: "trader@example.com", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	handler := setupTestHandler(t)

	creds := credentials{Email: "trader@example.com", Password: "hunter2hunter2"}
	w := postJSON(t, handler.HandleRegister, "/api/auth/register", creds)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, handler.HandleRegister, "/api/auth/register", creds)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_WrongPassword(t *testing.T) {
	handler := setupTestHandler(t)

	w := postJSON(t, handler.HandleRegister, "/api/auth/register", credentials{Email: "trader@example.com", Password: "hunter2hunter2"})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, handler.HandleLogin, "/api/auth/login", credentials{Email: "trader@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_UnknownUser(t *testing.T) {
	handler := setupTestHandler(t)

	w := postJSON(t, handler.HandleLogin, "/api/auth/login", credentials{Email: "nobody@example.com", Password: "hunter2hunter2"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_InjectsUserID(t *testing.T) {
	handler := setupTestHandler(t)

	w := postJSON(t, handler.HandleRegister, "/api/auth/register", credentials{Email: "trader@example.com", Password: "hunter2hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp tokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	var gotUserID int64
	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserID(r.Context())
		require.True(t, ok)
		gotUserID = id
	}))

	req := httptest.NewRequest("GET", "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gotUserID)
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	handler := setupTestHandler(t)

	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a valid token")
	}))

	req := httptest.NewRequest("GET", "/api/accounts", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsTokenSignedWithOtherSecret(t *testing.T) {
	handler := setupTestHandler(t)
	other := setupTestHandler(t)
	other.secret = []byte("different-secret")

	w := postJSON(t, other.HandleRegister, "/api/auth/register", credentials{Email: "trader@example.com", Password: "hunter2hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp tokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a foreign token")
	}))

	req := httptest.NewRequest("GET", "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

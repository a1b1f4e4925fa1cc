package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/carebridge/carebridge/internal/api"
	"github.com/carebridge/carebridge/internal/app"
	iauth "github.com/carebridge/carebridge/internal/auth"
	sharedtestutil "github.com/carebridge/carebridge/internal/database/testutil"
	"github.com/carebridge/carebridge/pkg/response"
)

// DefaultPassword satisfies the password policy and is used for every test account.
const DefaultPassword = "Passw0rd1"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Services *api.Services
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Invitations: app.InvitationConfig{TTL: 15 * 24 * time.Hour},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	svc, err := api.NewServices(db, cfg)
	require.NoError(t, err)

	router, err := api.NewRouter(db, jwtSvc, cfg, svc)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Services: svc,
	}
}

// Account is a registered user together with a valid access token.
type Account struct {
	ID       string
	HealthID string
	Email    string
	Token    string
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID       string         `json:"id"`
	HealthID string         `json:"health_id"`
	Name     string         `json:"name"`
	Emails   []EmailPayload `json:"emails"`
}

// EmailPayload mirrors a user email in API responses.
type EmailPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	IsPrimary bool   `json:"is_primary"`
	Verified  bool   `json:"verified"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int         `json:"expires_in"`
	User        UserPayload `json:"user"`
}

// Register creates an account through the API with a fresh health ID and
// email, verifies the email when verify is set, and logs in.
func (e *Env) Register(verify bool) Account {
	e.T.Helper()

	suffix := uuid.NewString()[:8]
	healthID := "HID" + suffix
	email := fmt.Sprintf("user-%s@example.com", suffix)

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"health_id": healthID,
		"name":      "Test " + suffix,
		"email":     email,
		"password":  DefaultPassword,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var user UserPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &user)

	login := e.Login(healthID, DefaultPassword)
	account := Account{ID: user.ID, HealthID: healthID, Email: email, Token: login.AccessToken}

	if verify {
		require.Len(e.T, user.Emails, 1)
		w = e.Request(http.MethodPost, "/api/auth/emails/"+user.Emails[0].ID+"/verify", nil, account.Token)
		require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	}
	return account
}

// Login authenticates and returns the issued token.
func (e *Env) Login(identifier, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Greater(e.T, result.ExpiresIn, 0)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

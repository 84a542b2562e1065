package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Darkvarin/Learnyzer-sub003/internal/app"
	iauth "github.com/Darkvarin/Learnyzer-sub003/internal/auth"
	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/models"
	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	"github.com/Darkvarin/Learnyzer-sub003/internal/services"
)

type routerFixture struct {
	engine  *gin.Engine
	jwt     *iauth.JWTService
	manager *battle.Manager
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.BattleResult{}))
	t.Cleanup(func() {
		require.NoError(t, db.Migrator().DropTable(&models.BattleResult{}))
	})

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "learnyzer"})
	require.NoError(t, err)

	results, err := services.NewBattleResultService(db)
	require.NoError(t, err)

	registry := realtime.NewRegistry()
	manager := battle.NewManager(battle.DefaultConfig(), registry, nil, nil, results)

	cfg := &app.Config{}
	cfg.Monitoring.Prometheus.Enabled = true

	engine, err := NewRouter(db, jwt, cfg, registry, manager, results)
	require.NoError(t, err)

	return &routerFixture{engine: engine, jwt: jwt, manager: manager}
}

func (f *routerFixture) request(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *routerFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID, Username: "Tester"})
	require.NoError(t, err)
	return token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealthEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	w := f.request(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	require.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestBattleEndpointsRequireAuth(t *testing.T) {
	f := newRouterFixture(t)

	w := f.request(t, http.MethodPost, "/api/battles", `{"questionCount":5}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	env := decodeEnvelope(t, w)
	require.False(t, env.Success)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	w = f.request(t, http.MethodPost, "/api/battles", `{"questionCount":5}`, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateStartProgressAbort(t *testing.T) {
	f := newRouterFixture(t)
	token := f.token(t, "u1")

	w := f.request(t, http.MethodPost, "/api/battles", `{"battleId":"b1","questionCount":5}`, token)
	require.Equal(t, http.StatusCreated, w.Code)

	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	require.Contains(t, string(env.Data), `"battleId":"b1"`)
	require.Contains(t, string(env.Data), `"state":"forming"`)

	// Duplicate creation is rejected.
	w = f.request(t, http.MethodPost, "/api/battles", `{"battleId":"b1","questionCount":5}`, token)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "BATTLE_EXISTS", decodeEnvelope(t, w).Error.Code)

	w = f.request(t, http.MethodPost, "/api/battles/b1/start", "", token)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodGet, "/api/battles/b1/progress", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, string(decodeEnvelope(t, w).Data), `"state":"active"`)

	w = f.request(t, http.MethodPost, "/api/battles/b1/abort", "", token)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodGet, "/api/battles/b1/progress", "", token)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateValidation(t *testing.T) {
	f := newRouterFixture(t)
	token := f.token(t, "u1")

	w := f.request(t, http.MethodPost, "/api/battles", `{"questionCount":0}`, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", decodeEnvelope(t, w).Error.Code)

	w = f.request(t, http.MethodPost, "/api/battles", `{broken`, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResultNotFound(t *testing.T) {
	f := newRouterFixture(t)
	token := f.token(t, "u1")

	w := f.request(t, http.MethodGet, "/api/battles/nope/result", "", token)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", decodeEnvelope(t, w).Error.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	f := newRouterFixture(t)

	w := f.request(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestUnknownRoute(t *testing.T) {
	f := newRouterFixture(t)

	w := f.request(t, http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

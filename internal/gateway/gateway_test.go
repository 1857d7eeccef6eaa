package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/runtime/internal/audit"
	"github.com/sentineld/runtime/internal/auth"
	"github.com/sentineld/runtime/internal/crypto"
	"github.com/sentineld/runtime/internal/executor"
	"github.com/sentineld/runtime/internal/ratelimit"
	"github.com/sentineld/runtime/internal/rbac"
)

// jsonBody marshals v into a request body reader for tests that need to
// POST JSON without pulling in an HTTP client.
func jsonBody(v interface{}) *bytes.Reader {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bytes.NewReader(b)
}

const testAdminPassword = "admin-password"

func newTestGateway(t *testing.T) (*Gateway, auth.ApiKeyStore) {
	t.Helper()

	chain, err := audit.New(audit.NewMemoryStorage(), []byte("gateway-test-signing-key-32byte!"), nil)
	require.NoError(t, err)
	require.NoError(t, chain.Initialize(context.Background()))

	engine := rbac.New(rbac.NewMemoryStorage(), nil)
	require.NoError(t, engine.Load(context.Background()))

	limiter := ratelimit.New(ratelimit.DefaultRules(), nil)
	tokens := auth.NewTokenManager("sentineld-runtime", []byte("token-secret-32-bytes-long-enough"))
	blacklist := auth.NewBlacklist()
	apiKeys := auth.NewMemoryApiKeyStore()
	passwordHash := crypto.SHA256Hex([]byte(testAdminPassword))
	authSvc := auth.NewService(tokens, blacklist, apiKeys, auth.NewMemoryRefreshTokenStore(), limiter, chain, passwordHash, nil)

	exec := executor.New(executor.Config{MaxConcurrent: 2, DefaultTimeoutMs: 1000, MaxTimeoutMs: 5000}, engine, limiter, chain, nil, nil)

	gw := New(Config{BindHost: "127.0.0.1", BindPort: "0", CORSOrigins: []string{"*"}}, authSvc, apiKeys, engine, limiter, chain, exec, nil)
	return gw, apiKeys
}

func doRequest(gw *Gateway, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:54321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	gw.Engine().ServeHTTP(rec, req)
	return rec
}

// TestGateway_DefaultDenyUnmappedRoute is the §8 scenario 6 default-deny
// check: a route absent from ROUTE_PERMISSIONS is admin-only regardless
// of what permissions a non-admin role otherwise holds.
func TestGateway_DefaultDenyUnmappedRoute(t *testing.T) {
	gw, apiKeys := newTestGateway(t)
	gw.Engine().GET("/api/v1/admin/danger", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "dangerous"})
	})

	viewerResult, err := auth.CreateApiKey(context.Background(), apiKeys, auth.CreateApiKeyRequest{
		Name: "viewer-key", Role: rbac.RoleViewer, UserID: "viewer-1",
	})
	require.NoError(t, err)

	rec := doRequest(gw, http.MethodGet, "/api/v1/admin/danger", map[string]string{"X-API-Key": viewerResult.Key})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", jsonBody(map[string]interface{}{"password": testAdminPassword}))
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("Content-Type", "application/json")
	loginRecorder := httptest.NewRecorder()
	gw.Engine().ServeHTTP(loginRecorder, req)
	require.Equal(t, http.StatusOK, loginRecorder.Code)

	var loginResp struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(loginRecorder.Body.Bytes(), &loginResp))

	rec2 := doRequest(gw, http.MethodGet, "/api/v1/admin/danger", map[string]string{"Authorization": "Bearer " + loginResp.AccessToken})
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestGateway_LocalNetworkGuardRejectsNonLocalPeers(t *testing.T) {
	gw, _ := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	gw.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGateway_HealthIsPublic(t *testing.T) {
	gw, _ := newTestGateway(t)
	rec := doRequest(gw, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateway_MissingCredentialsRejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	rec := doRequest(gw, http.MethodGet, "/api/v1/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestGateway_RefreshRotatesAccessToken drives the full login -> refresh
// round trip through the HTTP surface: the refresh endpoint must mint a
// genuinely new, usable access token rather than echoing the caller back
// to themselves.
func TestGateway_RefreshRotatesAccessToken(t *testing.T) {
	gw, _ := newTestGateway(t)

	loginReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", jsonBody(map[string]interface{}{"password": testAdminPassword}))
	loginReq.RemoteAddr = "127.0.0.1:54321"
	loginReq.Header.Set("Content-Type", "application/json")
	loginRec := httptest.NewRecorder()
	gw.Engine().ServeHTTP(loginRec, loginReq)
	require.Equal(t, http.StatusOK, loginRec.Code)

	var loginResp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(loginRec.Body.Bytes(), &loginResp))
	require.NotEmpty(t, loginResp.RefreshToken)

	refreshReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", jsonBody(map[string]interface{}{"refreshToken": loginResp.RefreshToken}))
	refreshReq.RemoteAddr = "127.0.0.1:54321"
	refreshReq.Header.Set("Content-Type", "application/json")
	refreshReq.Header.Set("Authorization", "Bearer "+loginResp.AccessToken)
	refreshRec := httptest.NewRecorder()
	gw.Engine().ServeHTTP(refreshRec, refreshReq)
	require.Equal(t, http.StatusOK, refreshRec.Code)

	var refreshResp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(refreshRec.Body.Bytes(), &refreshResp))
	assert.NotEqual(t, loginResp.AccessToken, refreshResp.AccessToken)
	assert.NotEqual(t, loginResp.RefreshToken, refreshResp.RefreshToken)

	verifyRec := doRequest(gw, http.MethodPost, "/api/v1/auth/verify", map[string]string{"Authorization": "Bearer " + refreshResp.AccessToken})
	assert.Equal(t, http.StatusOK, verifyRec.Code)

	reuseReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", jsonBody(map[string]interface{}{"refreshToken": loginResp.RefreshToken}))
	reuseReq.RemoteAddr = "127.0.0.1:54321"
	reuseReq.Header.Set("Content-Type", "application/json")
	reuseReq.Header.Set("Authorization", "Bearer "+refreshResp.AccessToken)
	reuseRec := httptest.NewRecorder()
	gw.Engine().ServeHTTP(reuseRec, reuseReq)
	assert.NotEqual(t, http.StatusOK, reuseRec.Code, "a rotated refresh token must not be redeemable a second time")
}

func TestGateway_TaskSubmissionRoundTrip(t *testing.T) {
	gw, apiKeys := newTestGateway(t)
	gw.executor.RegisterHandler(executor.HandlerFunc{
		TaskName: "echo",
		Fn: func(ctx context.Context, task *executor.Task) (interface{}, error) {
			return task.Input, nil
		},
	})
	go func() { _ = gw.executor.Start(context.Background()) }()

	result, err := auth.CreateApiKey(context.Background(), apiKeys, auth.CreateApiKeyRequest{
		Name: "op-key", Role: rbac.RoleOperator, UserID: "op-1",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", jsonBody(map[string]interface{}{
		"type": "echo", "name": "t1", "input": "hi",
	}))
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", result.Key)
	rec := httptest.NewRecorder()
	gw.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

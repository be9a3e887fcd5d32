package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governance/internal/admin"
	"github.com/xela07ax/spaceai-governance/internal/console/handler"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/engine"
	"github.com/xela07ax/spaceai-governance/internal/infra/auth"
	"go.uber.org/zap/zaptest"
)

type fakePipeline struct {
	mu   sync.Mutex
	last *domain.Request
	res  *engine.Result
}

func (f *fakePipeline) ProcessRequest(ctx context.Context, req *domain.Request) *engine.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	res := *f.res
	res.RequestID = engine.TraceID(ctx)
	return &res
}

func (f *fakePipeline) Status() engine.Status {
	return engine.Status{ActiveRequests: 3}
}

type fakePlane struct {
	key string
	got []admin.Command
}

func (f *fakePlane) ExecuteMasterCommand(_ context.Context, cmd admin.Command, key string) admin.CommandResult {
	f.got = append(f.got, cmd)
	if key != f.key {
		return admin.CommandResult{Command: cmd.Command, Error: "Unauthorized", ErrorKind: domain.ErrUnauthorizedAdmin.Error()}
	}
	return admin.CommandResult{Success: true, Command: cmd.Command}
}

type env struct {
	srv   *httptest.Server
	pipe  *fakePipeline
	plane *fakePlane
	key   *rsa.PrivateKey
}

func newEnv(t *testing.T, withAuth bool) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)
	e := &env{
		pipe:  &fakePipeline{res: &engine.Result{Success: true}},
		plane: &fakePlane{key: "master"},
	}
	var validator auth.TokenValidator
	if withAuth {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		e.key = key
		validator = auth.NewBaseValidator(&key.PublicKey)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("governance_requests_total 1\n"))
	})
	s := NewConsoleServer(logger, validator,
		handler.NewRequestHandler(e.pipe, logger),
		handler.NewAdminHandler(e.plane),
		metrics)
	e.srv = httptest.NewServer(s)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) token(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &domain.CustomClaims{
		UserID:     "u-7",
		LicenseKey: "lic-7",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString(e.key)
	require.NoError(t, err)
	return "Bearer " + s
}

func (e *env) post(t *testing.T, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

const paymentBody = `{"kind":"capability","action":"stripe_payment","params":{"amount":5},"context":{"user_id":"spoofed","priority":"normal"}}`

func TestServer_ProcessRequestAppliesClaims(t *testing.T) {
	e := newEnv(t, true)

	resp := e.post(t, "/v1/requests", paymentBody, map[string]string{
		"Authorization": e.token(t),
		"X-Trace-ID":    "trace-9",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-9", resp.Header.Get("X-Trace-ID"))

	var res engine.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "trace-9", res.RequestID)

	assert.Equal(t, "u-7", e.pipe.last.Context.UserID)
	assert.Equal(t, "lic-7", e.pipe.last.Context.LicenseKey)
	assert.Equal(t, domain.KindCapability, e.pipe.last.Kind)
}

func TestServer_RequiresToken(t *testing.T) {
	e := newEnv(t, true)

	resp := e.post(t, "/v1/requests", paymentBody, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.post(t, "/v1/requests", paymentBody, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Nil(t, e.pipe.last)
}

func TestServer_ErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		kind string
		want int
	}{
		{domain.ErrValidation.Error(), http.StatusBadRequest},
		{domain.ErrAuthorization.Error(), http.StatusForbidden},
		{domain.ErrCapacity.Error(), http.StatusTooManyRequests},
		{domain.ErrSystemHalt.Error(), http.StatusServiceUnavailable},
		{domain.ErrConfiguration.Error(), http.StatusConflict},
		{domain.ErrExecution.Error(), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			e := newEnv(t, false)
			e.pipe.res = &engine.Result{ErrorKind: tt.kind, Errors: []string{"nope"}}

			resp := e.post(t, "/v1/requests", paymentBody, nil)
			assert.Equal(t, tt.want, resp.StatusCode)

			var res engine.Result
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
			assert.Equal(t, []string{"nope"}, res.Errors)
		})
	}
}

func TestServer_BadBody(t *testing.T) {
	e := newEnv(t, false)
	resp := e.post(t, "/v1/requests", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, e.pipe.last)
}

func TestServer_AdminCommands(t *testing.T) {
	e := newEnv(t, true)
	body := `{"command":"EMERGENCY_STOP","params":{"reason":"drill"}}`

	resp := e.post(t, "/v1/admin/commands", body, map[string]string{handler.MasterKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.post(t, "/v1/admin/commands", body, map[string]string{handler.MasterKeyHeader: "master"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res admin.CommandResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)

	require.Len(t, e.plane.got, 2)
	assert.Equal(t, admin.CmdEmergencyStop, e.plane.got[1].Command)
	assert.Equal(t, "drill", e.plane.got[1].Params["reason"])

	list, err := http.Get(e.srv.URL + "/v1/admin/commands")
	require.NoError(t, err)
	defer list.Body.Close()
	var names struct {
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&names))
	assert.Len(t, names.Commands, 21)
}

func TestServer_HealthMetricsStatus(t *testing.T) {
	e := newEnv(t, false)

	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st engine.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, 3, st.ActiveRequests)
}

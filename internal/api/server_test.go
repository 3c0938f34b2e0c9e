package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/health"
	"github.com/energizer-project/rconctl/internal/network"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubHistory struct {
	filter db.HistoryFilter
}

func (h *stubHistory) List(ctx context.Context, filter db.HistoryFilter) ([]db.HistoryEntry, error) {
	h.filter = filter
	return []db.HistoryEntry{{ID: "1", Profile: "mock", Command: "status"}}, nil
}

type gateway struct {
	t      *testing.T
	server *Server
	mock   *network.MockServer
	cfg    *config.Config
	token  string
}

func newGateway(t *testing.T, tweak func(cfg *config.Config)) *gateway {
	t.Helper()

	mock := network.NewMockServer("secret", nil)
	require.NoError(t, mock.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() {
		mock.Close()
		mock.Wait()
	})

	cfg := config.DefaultConfig()
	cfg.Security.JWTSecret = testSecret
	cfg.Security.RateLimitRPS = 0
	cfg.SetProfile(config.Profile{Name: "mock", Host: mock.Host(), Port: mock.Port(), Password: "secret", TimeoutSec: 2})
	cfg.SetProfile(config.Profile{Name: "badpw", Host: mock.Host(), Port: mock.Port(), Password: "wrong", TimeoutSec: 2})
	if tweak != nil {
		tweak(cfg)
	}

	s := NewServer(cfg, nil, console.NewRunner(cfg, nil), &stubHistory{})
	token, err := s.Tokens().Issue("tester", time.Minute)
	require.NoError(t, err)

	return &gateway{t: t, server: s, mock: mock, cfg: cfg, token: token}
}

func (g *gateway) do(method, path, body string, authed bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	g.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	w := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(g.t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

func TestPublicPing(t *testing.T) {
	g := newGateway(t, nil)
	w, body := g.do(http.MethodGet, "/api/public/ping", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rconctl", body["service"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestPublicInfo(t *testing.T) {
	g := newGateway(t, nil)
	w, body := g.do(http.MethodGet, "/api/public/info", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["profiles"])
	assert.Equal(t, true, body["history"])
}

func TestProtectedRequiresToken(t *testing.T) {
	g := newGateway(t, nil)

	w, _ := g.do(http.MethodGet, "/api/profiles", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabledSkipsToken(t *testing.T) {
	g := newGateway(t, func(cfg *config.Config) { cfg.Security.AuthDisabled = true })
	w, _ := g.do(http.MethodGet, "/api/profiles", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListProfilesHidesPasswords(t *testing.T) {
	g := newGateway(t, nil)
	w, body := g.do(http.MethodGet, "/api/profiles", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
	assert.NotContains(t, w.Body.String(), "password")
	assert.Len(t, body["profiles"], 3)
}

func TestExecuteProfile(t *testing.T) {
	g := newGateway(t, nil)
	w, body := g.do(http.MethodPost, "/api/profiles/mock/execute", `{"command":"status"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "echo: status", body["response"])
	assert.Equal(t, "mock", body["profile"])
	assert.Equal(t, "status", body["command"])
	assert.Len(t, body["id"], 36)
	assert.Contains(t, body, "duration_ms")
}

func TestExecuteErrors(t *testing.T) {
	g := newGateway(t, nil)

	w, _ := g.do(http.MethodPost, "/api/profiles/nope/execute", `{"command":"status"}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := g.do(http.MethodPost, "/api/profiles/badpw/execute", `{"command":"status"}`, true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication", body["kind"])

	w, _ = g.do(http.MethodPost, "/api/profiles/mock/execute", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	long := strings.Repeat("x", 5000)
	w, body = g.do(http.MethodPost, "/api/profiles/mock/execute", `{"command":"`+long+`"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "command_too_long", body["kind"])
}

func TestExecuteAdhoc(t *testing.T) {
	g := newGateway(t, nil)
	payload := `{"host":"` + g.mock.Host() + `","port":` + strconv.Itoa(g.mock.Port()) +
		`,"password":"secret","command":"list"}`

	w, _ := g.do(http.MethodPost, "/api/execute", payload, true)
	assert.Equal(t, http.StatusForbidden, w.Code)

	g.cfg.Gateway.AllowAdhoc = true
	w, body := g.do(http.MethodPost, "/api/execute", payload, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "echo: list", body["response"])
	assert.Equal(t, "adhoc", body["profile"])
}

func TestHistoryEndpoint(t *testing.T) {
	g := newGateway(t, nil)

	w, body := g.do(http.MethodGet, "/api/history?limit=5&profile=mock", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["entries"], 1)
	h := g.server.history.(*stubHistory)
	assert.Equal(t, 5, h.filter.Limit)
	assert.Equal(t, "mock", h.filter.Profile)

	w, _ = g.do(http.MethodGet, "/api/history?limit=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type stubHealth []health.Status

func (h stubHealth) Statuses() []health.Status { return h }

func TestHealthEndpoint(t *testing.T) {
	g := newGateway(t, nil)

	w, _ := g.do(http.MethodGet, "/api/health", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	g.server.SetHealth(stubHealth{
		{Profile: "a", Reachable: true, Authenticated: true},
		{Profile: "b", Reachable: true, ErrorKind: "authentication"},
	})
	w, body := g.do(http.MethodGet, "/api/health", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["healthy"])
	assert.Len(t, body["profiles"], 2)
}

func TestRateLimiter(t *testing.T) {
	g := newGateway(t, func(cfg *config.Config) { cfg.Security.RateLimitRPS = 1 })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w, _ := g.do(http.MethodGet, "/api/public/ping", "", false)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestIPWhitelist(t *testing.T) {
	g := newGateway(t, func(cfg *config.Config) { cfg.Security.IPWhitelist = []string{"10.0.0.0/8"} })

	w, _ := g.do(http.MethodGet, "/api/profiles", "", true)
	assert.Equal(t, http.StatusForbidden, w.Code, "httptest requests come from 192.0.2.1")

	w, _ = g.do(http.MethodGet, "/api/public/ping", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	g := newGateway(t, nil)
	w, _ := g.do(http.MethodGet, "/api/nothing", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

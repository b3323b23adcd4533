package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/20SB/saba/internal/console/service"
	"github.com/20SB/saba/internal/domain"
)

type stubCommander struct {
	agents    map[string]*domain.AgentView
	createErr error
	issuedBy  []string
}

func newStubCommander(agents ...*domain.AgentView) *stubCommander {
	s := &stubCommander{agents: make(map[string]*domain.AgentView)}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func (s *stubCommander) CreateAgent(_ context.Context, req service.CreateAgentRequest, issuedBy string) (string, error) {
	s.issuedBy = append(s.issuedBy, issuedBy)
	if s.createErr != nil {
		return "", s.createErr
	}
	return "cmd-create", nil
}

func (s *stubCommander) lifecycle(agentID, issuedBy, cmdID string) (string, error) {
	s.issuedBy = append(s.issuedBy, issuedBy)
	if _, ok := s.agents[agentID]; !ok {
		return "", domain.ErrNotFound
	}
	return cmdID, nil
}

func (s *stubCommander) StopAgent(_ context.Context, agentID, issuedBy string) (string, error) {
	return s.lifecycle(agentID, issuedBy, "cmd-stop")
}

func (s *stubCommander) StartAgent(_ context.Context, agentID, issuedBy string) (string, error) {
	return s.lifecycle(agentID, issuedBy, "cmd-start")
}

func (s *stubCommander) DeleteAgent(_ context.Context, agentID, issuedBy string) (string, error) {
	return s.lifecycle(agentID, issuedBy, "cmd-delete")
}

func (s *stubCommander) GetAgent(_ context.Context, agentID string) (*domain.AgentView, error) {
	a, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	return a, nil
}

func (s *stubCommander) ListAgents(_ context.Context) ([]*domain.AgentView, error) {
	out := make([]*domain.AgentView, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}

func testRouter(h *AgentHandler) http.Handler {
	r := chi.NewRouter()
	// user_id кладет auth-мидлварь; тут подменяем ее напрямую
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), "user_id", "operator") //nolint:staticcheck
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/v1/agents", h.List)
	r.Post("/v1/agents", h.Create)
	r.Get("/v1/agents/{id}", h.Get)
	r.Post("/v1/agents/{id}/stop", h.Stop)
	r.Post("/v1/agents/{id}/start", h.Start)
	r.Delete("/v1/agents/{id}", h.Delete)
	return r
}

func activeAgentView(id, name string) *domain.AgentView {
	return &domain.AgentView{
		Agent: domain.Agent{
			ID:    id,
			Name:  name,
			State: domain.StateActive,
		},
		ProgressPercent:  100,
		StateDescription: "Running",
	}
}

func TestCreateAgentAccepted(t *testing.T) {
	cmdr := newStubCommander()
	srv := httptest.NewServer(testRouter(NewAgentHandler(cmdr)))
	defer srv.Close()

	body := `{"name":"digest-bot","goal":"summarize notes","risk_level":"SAFE","deployment_target":"container"}`
	resp, err := http.Post(srv.URL+"/v1/agents", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted commandAccepted
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, "cmd-create", accepted.CommandID)

	// ID оператора снят с контекста авторизации
	require.Len(t, cmdr.issuedBy, 1)
	assert.Equal(t, "operator", cmdr.issuedBy[0])
}

func TestCreateAgentConflict(t *testing.T) {
	cmdr := newStubCommander()
	cmdr.createErr = fmt.Errorf(`agent "digest-bot" already exists`)
	srv := httptest.NewServer(testRouter(NewAgentHandler(cmdr)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/agents", "application/json", strings.NewReader(`{"name":"digest-bot"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateAgentBadRequest(t *testing.T) {
	cmdr := newStubCommander()
	cmdr.createErr = fmt.Errorf("agent name is required")
	srv := httptest.NewServer(testRouter(NewAgentHandler(cmdr)))
	defer srv.Close()

	t.Run("validation error", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/agents", "application/json", strings.NewReader(`{"goal":"x"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed json", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/agents", "application/json", strings.NewReader(`{not json`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetAgent(t *testing.T) {
	cmdr := newStubCommander(activeAgentView("a1", "digest-bot"))
	srv := httptest.NewServer(testRouter(NewAgentHandler(cmdr)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/agents/a1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view domain.AgentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "digest-bot", view.Name)
	assert.Equal(t, 100, view.ProgressPercent)
	assert.Equal(t, "Running", view.StateDescription)
}

func TestGetAgentNotFound(t *testing.T) {
	srv := httptest.NewServer(testRouter(NewAgentHandler(newStubCommander())))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/agents/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAgents(t *testing.T) {
	cmdr := newStubCommander(activeAgentView("a1", "digest-bot"), activeAgentView("a2", "weather-bot"))
	srv := httptest.NewServer(testRouter(NewAgentHandler(cmdr)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []*domain.AgentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	assert.Len(t, views, 2)
}

func TestLifecycleCommands(t *testing.T) {
	cmdr := newStubCommander(activeAgentView("a1", "digest-bot"))
	srv := httptest.NewServer(testRouter(NewAgentHandler(cmdr)))
	defer srv.Close()
	client := srv.Client()

	cases := []struct {
		method, path, wantCmd string
	}{
		{http.MethodPost, "/v1/agents/a1/stop", "cmd-stop"},
		{http.MethodPost, "/v1/agents/a1/start", "cmd-start"},
		{http.MethodDelete, "/v1/agents/a1", "cmd-delete"},
	}
	for _, c := range cases {
		req, err := http.NewRequest(c.method, srv.URL+c.path, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)

		assert.Equal(t, http.StatusAccepted, resp.StatusCode, c.path)
		var accepted commandAccepted
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
		resp.Body.Close()
		assert.Equal(t, c.wantCmd, accepted.CommandID)
	}
}

func TestLifecycleUnknownAgent(t *testing.T) {
	srv := httptest.NewServer(testRouter(NewAgentHandler(newStubCommander())))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/agents/ghost/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

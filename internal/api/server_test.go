package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/api"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/logging"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/taskstore"
	"github.com/taskforge/taskforge/internal/testutil"
	"github.com/taskforge/taskforge/internal/worktree"
)

type noopBackend struct{ name string }

func (b *noopBackend) Name() string                  { return b.name }
func (b *noopBackend) Kind() core.BackendKind         { return core.BackendCLI }
func (b *noopBackend) Available(ctx context.Context) bool { return true }
func (b *noopBackend) Run(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
	return &core.AgentResult{Text: "ok"}, nil
}

func newTestServer(t *testing.T, authToken string) (*httptest.Server, string) {
	t.Helper()
	dir := testutil.TempDir(t)

	store, err := taskstore.New(filepath.Join(dir, "tasks.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.NewNop()
	wm := worktree.NewManager(filepath.Join(dir, "bare"), filepath.Join(dir, "trees"), logger)

	registry := agent.NewRegistry(config.AgentsConfig{DefaultCLI: "claude"}, "")
	registry.Register("claude", &noopBackend{name: "claude"})

	hubs := events.NewManager()

	upstream := testutil.NewGitRepo(t)
	upstream.WriteFile("README.md", "hello\n")
	upstream.Commit("initial commit")

	orch := orchestrator.New(store, wm, registry, hubs, fakeSecretStore{}, fakeForgeClient{},
		orchestrator.WithLogger(logger),
	)

	opts := []api.Option{api.WithLogger(logger)}
	if authToken != "" {
		opts = append(opts, api.WithAuthToken(authToken))
	}
	srv := api.NewServer(orch, hubs, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, upstream.Path
}

type fakeSecretStore struct{}

func (fakeSecretStore) Save(ctx context.Context, kind core.SecretKind, provider, plaintext string, meta core.SecretMetadata) error {
	return nil
}
func (fakeSecretStore) Delete(ctx context.Context, kind core.SecretKind, provider string) error {
	return nil
}
func (fakeSecretStore) GetPlaintext(ctx context.Context, kind core.SecretKind, provider string) (string, error) {
	return "", core.ErrNotFound("secret", provider)
}
func (fakeSecretStore) GetStatus(ctx context.Context, kind core.SecretKind, provider string) (core.SecretStatus, error) {
	return core.SecretStatus{Kind: kind, Provider: provider}, nil
}

type fakeForgeClient struct{}

func (fakeForgeClient) CreatePR(ctx context.Context, repoURL, branch, targetBranch, title, body string) (string, error) {
	return "https://github.com/acme/widget/pull/1", nil
}
func (fakeForgeClient) ListPRComments(ctx context.Context, prURL string) ([]core.PRComment, error) {
	return nil, nil
}
func (fakeForgeClient) RewriteRemoteWithToken(repoURL, token string) string { return repoURL }

func postJSON(t *testing.T, url string, body interface{}, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	testutil.AssertNoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	testutil.AssertNoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	testutil.AssertNoError(t, err)
	return resp
}

func TestCreateAndGetTask(t *testing.T) {
	ts, repoURL := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/tasks", map[string]interface{}{
		"title":    "Add widgets",
		"repo_url": repoURL,
	}, "")
	defer resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusCreated)

	var created core.Task
	testutil.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&created))
	testutil.AssertTrue(t, created.ID != "", "task id should be set")
	testutil.AssertEqual(t, created.Status, core.StatusDraft)

	getResp, err := http.Get(ts.URL + "/tasks/" + string(created.ID))
	testutil.AssertNoError(t, err)
	defer getResp.Body.Close()
	testutil.AssertEqual(t, getResp.StatusCode, http.StatusOK)
}

func TestCreateTask_MissingTitleIsRejected(t *testing.T) {
	ts, repoURL := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/tasks", map[string]interface{}{
		"repo_url": repoURL,
	}, "")
	defer resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusUnprocessableEntity)

	var body map[string]interface{}
	testutil.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&body))
	testutil.AssertEqual(t, body["error"].(string), "Validation failed")
}

func TestGetTask_InvalidIDIsRejectedBeforeLookup(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/tasks/not-a-uuid")
	testutil.AssertNoError(t, err)
	defer resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusBadRequest)
}

func TestAuth_MissingAndValidToken(t *testing.T) {
	ts, repoURL := newTestServer(t, "s3cret")

	resp, err := http.Get(ts.URL + "/tasks")
	testutil.AssertNoError(t, err)
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusUnauthorized)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/tasks", nil)
	testutil.AssertNoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp2, err := http.DefaultClient.Do(req)
	testutil.AssertNoError(t, err)
	defer resp2.Body.Close()
	testutil.AssertEqual(t, resp2.StatusCode, http.StatusOK)

	jwtTok, err := api.MintAuthToken("s3cret", time.Hour)
	testutil.AssertNoError(t, err)
	req3, err := http.NewRequest(http.MethodGet, ts.URL+"/tasks", nil)
	testutil.AssertNoError(t, err)
	req3.Header.Set("Authorization", "Bearer "+jwtTok)
	resp3, err := http.DefaultClient.Do(req3)
	testutil.AssertNoError(t, err)
	defer resp3.Body.Close()
	testutil.AssertEqual(t, resp3.StatusCode, http.StatusOK)

	_ = repoURL
}

func TestLogsSSE_RepliesStatusThenStream(t *testing.T) {
	ts, repoURL := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/tasks", map[string]interface{}{
		"title":    "Stream me",
		"repo_url": repoURL,
	}, "")
	var created core.Task
	testutil.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/tasks/"+string(created.ID)+"/logs", nil)
	testutil.AssertNoError(t, err)
	client := &http.Client{Timeout: 2 * time.Second}
	sseResp, err := client.Do(req)
	testutil.AssertNoError(t, err)
	defer sseResp.Body.Close()
	testutil.AssertEqual(t, sseResp.StatusCode, http.StatusOK)

	scanner := bufio.NewScanner(sseResp.Body)
	var sawStatus bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: status") {
			sawStatus = true
			break
		}
	}
	testutil.AssertTrue(t, sawStatus, "expected a status event in the replay")
}

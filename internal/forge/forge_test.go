package forge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/forge"
	"github.com/taskforge/taskforge/internal/testutil"
)

func TestClient_CreatePR_GitHub(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Method, http.MethodPost)
		var body map[string]string
		testutil.AssertNoError(t, json.NewDecoder(r.Body).Decode(&body))
		testutil.AssertEqual(t, body["head"], "task/fix-flaky")
		testutil.AssertEqual(t, body["base"], "main")
		fmt.Fprint(w, `{"html_url":"https://github.com/acme/widgets/pull/7"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	base, err := url.Parse(server.URL + "/")
	testutil.AssertNoError(t, err)

	client := forge.NewClient(config.ForgeConfig{GitHubToken: "tok"}, forge.WithGitHubBaseURL(base))

	prURL, err := client.CreatePR(context.Background(), "https://github.com/acme/widgets.git", "task/fix-flaky", "main", "fix flaky test", "body")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, prURL, "https://github.com/acme/widgets/pull/7")
}

func TestClient_ListPRComments_GitHub(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"body":"looks good","user":{"login":"reviewer"},"created_at":"2026-01-01T00:00:00Z"}]`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	base, err := url.Parse(server.URL + "/")
	testutil.AssertNoError(t, err)

	client := forge.NewClient(config.ForgeConfig{GitHubToken: "tok"}, forge.WithGitHubBaseURL(base))

	comments, err := client.ListPRComments(context.Background(), "https://github.com/acme/widgets/pull/7")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, comments, 1)
	testutil.AssertEqual(t, comments[0].Author, "reviewer")
	testutil.AssertEqual(t, comments[0].Body, "looks good")
}

func TestClient_CreatePR_GitLab(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/acme%2Fwidgets/merge_requests", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Method, http.MethodPost)
		testutil.AssertEqual(t, r.Header.Get("PRIVATE-TOKEN"), "glpat")
		fmt.Fprint(w, `{"web_url":"https://gitlab.com/acme/widgets/-/merge_requests/9"}`)
	})
	// GitLab's REST client always dials "https://<gitlabHost>", so the
	// fake server must present TLS; server.Client() trusts its own cert.
	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)

	serverURL, err := url.Parse(server.URL)
	testutil.AssertNoError(t, err)

	client := forge.NewClient(config.ForgeConfig{GitLabToken: "glpat"},
		forge.WithGitLabHost(serverURL.Host), forge.WithHTTPClient(server.Client()))

	prURL, err := client.CreatePR(context.Background(), "https://"+serverURL.Host+"/acme/widgets.git", "task/fix", "main", "fix", "body")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, prURL, "https://gitlab.com/acme/widgets/-/merge_requests/9")
}

func TestClient_RewriteRemoteWithToken(t *testing.T) {
	client := forge.NewClient(config.ForgeConfig{})

	githubRewritten := client.RewriteRemoteWithToken("https://github.com/acme/widgets.git", "ghp_secret")
	testutil.AssertContains(t, githubRewritten, "ghp_secret@github.com")

	gitlabRewritten := client.RewriteRemoteWithToken("https://gitlab.com/acme/widgets.git", "glpat-secret")
	testutil.AssertContains(t, gitlabRewritten, "oauth2:glpat-secret@gitlab.com")
}

func TestClient_RewriteRemoteWithToken_EmptyTokenIsNoop(t *testing.T) {
	client := forge.NewClient(config.ForgeConfig{})
	original := "https://github.com/acme/widgets.git"
	testutil.AssertEqual(t, client.RewriteRemoteWithToken(original, ""), original)
}

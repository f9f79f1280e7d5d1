package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/taskforge/taskforge/internal/core"
)

// probeResult carries whatever identity metadata a validation probe
// discovered, to be merged into the caller-supplied SecretMetadata.
type probeResult struct {
	Label     string
	AvatarURL string
}

// validate issues the save-time probe spec.md §4.6 requires: a
// low-cost model-list call for AI keys, a "who am I" call for forge
// tokens. Any non-2xx response rejects the save.
func (s *Store) validate(ctx context.Context, kind core.SecretKind, provider, plaintext string) (probeResult, error) {
	switch kind {
	case core.SecretKindAIKey:
		return s.validateAIKey(ctx, provider, plaintext)
	case core.SecretKindForgeToken:
		return s.validateForgeToken(ctx, provider, plaintext)
	default:
		return probeResult{}, core.ErrValidation("UNKNOWN_SECRET_KIND", fmt.Sprintf("unknown secret kind %q", kind))
	}
}

func (s *Store) validateAIKey(ctx context.Context, provider, plaintext string) (probeResult, error) {
	var req *http.Request
	var err error

	switch strings.ToLower(provider) {
	case "anthropic":
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.anthropicBaseURL+"/v1/models", nil)
		if err == nil {
			req.Header.Set("x-api-key", plaintext)
			req.Header.Set("anthropic-version", "2023-06-01")
		}
	case "openai", "openrouter":
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.openaiBaseURL+"/v1/models", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+plaintext)
		}
	default:
		return probeResult{}, core.ErrValidation("UNSUPPORTED_AI_PROVIDER", fmt.Sprintf("unrecognized AI key provider %q", provider))
	}
	if err != nil {
		return probeResult{}, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return probeResult{}, core.ErrAuth(fmt.Sprintf("probing %s failed: %v", provider, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return probeResult{}, core.ErrAuth(fmt.Sprintf("%s rejected the API key (status %d)", provider, resp.StatusCode))
	}
	return probeResult{Label: provider}, nil
}

type githubUser struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

type gitlabUser struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func (s *Store) validateForgeToken(ctx context.Context, provider, plaintext string) (probeResult, error) {
	switch strings.ToLower(provider) {
	case "github":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.githubBaseURL+"/user", nil)
		if err != nil {
			return probeResult{}, err
		}
		req.Header.Set("Authorization", "token "+plaintext)
		req.Header.Set("Accept", "application/vnd.github+json")

		var u githubUser
		if err := s.doWhoAmI(req, &u); err != nil {
			return probeResult{}, err
		}
		return probeResult{Label: u.Login, AvatarURL: u.AvatarURL}, nil

	case "gitlab":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gitlabBaseURL+"/api/v4/user", nil)
		if err != nil {
			return probeResult{}, err
		}
		req.Header.Set("PRIVATE-TOKEN", plaintext)

		var u gitlabUser
		if err := s.doWhoAmI(req, &u); err != nil {
			return probeResult{}, err
		}
		return probeResult{Label: u.Username, AvatarURL: u.AvatarURL}, nil

	default:
		return probeResult{}, core.ErrValidation("UNSUPPORTED_FORGE_PROVIDER", fmt.Sprintf("unrecognized forge token provider %q", provider))
	}
}

func (s *Store) doWhoAmI(req *http.Request, out any) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return core.ErrAuth(fmt.Sprintf("who-am-I probe failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.ErrAuth(fmt.Sprintf("who-am-I probe rejected the token (status %d)", resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package secrets implements core.SecretStore: OpenPGP-symmetrically
// encrypted-at-rest credential storage, one ciphertext blob per
// (kind, provider) pair.
package secrets

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/renameio/v2"

	"github.com/taskforge/taskforge/internal/core"
)

const (
	keyFileName = "secrets.key"
	keySize     = 32 // 256-bit passphrase fed to OpenPGP's symmetric cipher
)

// Store implements core.SecretStore. Ciphertext and cleartext metadata
// live in one JSON record per secret under dir; the server key is
// generated once at first boot and persisted to a keyfile the operator
// controls (mode 0600).
type Store struct {
	dir        string
	passphrase []byte
	httpClient *http.Client
	mu         sync.RWMutex

	// Provider probe base URLs, overridden in tests to point at an
	// httptest.Server instead of the real APIs.
	anthropicBaseURL string
	openaiBaseURL    string
	githubBaseURL    string
	gitlabBaseURL    string
}

type record struct {
	Ciphertext []byte              `json:"ciphertext"`
	Metadata   core.SecretMetadata `json:"metadata"`
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient overrides the client used for save-time validation
// probes (tests point this at an httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Store) { s.httpClient = hc }
}

// WithProviderBaseURLs overrides the four validation-probe endpoints;
// empty strings leave the corresponding default untouched. Tests use
// this to redirect probes at an httptest.Server.
func WithProviderBaseURLs(anthropic, openai, github, gitlab string) Option {
	return func(s *Store) {
		if anthropic != "" {
			s.anthropicBaseURL = anthropic
		}
		if openai != "" {
			s.openaiBaseURL = openai
		}
		if github != "" {
			s.githubBaseURL = github
		}
		if gitlab != "" {
			s.gitlabBaseURL = gitlab
		}
	}
}

// New opens (or initializes) a Store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating secrets directory: %w", err)
	}

	passphrase, err := loadOrCreateKey(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:              dir,
		passphrase:       passphrase,
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		anthropicBaseURL: "https://api.anthropic.com",
		openaiBaseURL:    "https://api.openai.com",
		githubBaseURL:    "https://api.github.com",
		gitlabBaseURL:    "https://gitlab.com",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	existing, err := os.ReadFile(path)
	if err == nil {
		return existing, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading secret store keyfile: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating secret store key: %w", err)
	}
	if err := renameio.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("persisting secret store keyfile: %w", err)
	}
	return key, nil
}

func recordPath(dir string, kind core.SecretKind, provider string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", kind, sanitizeProvider(provider)))
}

func sanitizeProvider(provider string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(provider)
}

// Save validates the credential against its provider, encrypts it, and
// persists it alongside whatever metadata the probe discovered.
func (s *Store) Save(ctx context.Context, kind core.SecretKind, provider, plaintext string, meta core.SecretMetadata) error {
	if provider == "" {
		return core.ErrValidation("MISSING_PROVIDER", "secret provider cannot be empty")
	}
	if plaintext == "" {
		return core.ErrValidation("MISSING_SECRET", "secret plaintext cannot be empty")
	}

	probed, err := s.validate(ctx, kind, provider, plaintext)
	if err != nil {
		return err
	}
	if probed.Label != "" {
		meta.Label = probed.Label
	}
	if probed.AvatarURL != "" {
		meta.AvatarURL = probed.AvatarURL
	}

	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return core.ErrExecution("ENCRYPTION_FAILED", err.Error())
	}

	rec := record{Ciphertext: ciphertext, Metadata: meta}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return renameio.WriteFile(recordPath(s.dir, kind, provider), data, 0o600)
}

// Delete removes a stored secret; deleting an absent one is a no-op.
func (s *Store) Delete(ctx context.Context, kind core.SecretKind, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(recordPath(s.dir, kind, provider))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetPlaintext decrypts and returns a secret's plaintext. Callers must
// not persist or log the result.
func (s *Store) GetPlaintext(ctx context.Context, kind core.SecretKind, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.load(kind, provider)
	if err != nil {
		return "", err
	}
	plaintext, err := s.decrypt(rec.Ciphertext)
	if err != nil {
		return "", core.ErrExecution("DECRYPTION_FAILED", err.Error())
	}
	return plaintext, nil
}

// GetStatus reports presence and metadata without ever touching
// plaintext.
func (s *Store) GetStatus(ctx context.Context, kind core.SecretKind, provider string) (core.SecretStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.load(kind, provider)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return core.SecretStatus{Kind: kind, Provider: provider, Present: false}, nil
		}
		return core.SecretStatus{}, err
	}
	return core.SecretStatus{Kind: kind, Provider: provider, Present: true, Metadata: rec.Metadata}, nil
}

func (s *Store) load(kind core.SecretKind, provider string) (record, error) {
	data, err := os.ReadFile(recordPath(s.dir, kind, provider))
	if err != nil {
		if os.IsNotExist(err) {
			return record{}, core.ErrNotFound("secret", string(kind)+":"+provider)
		}
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decoding secret record: %w", err)
	}
	return rec, nil
}

func (s *Store) encrypt(plaintext string) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := openpgp.SymmetricallyEncrypt(buf, s.passphrase, nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) decrypt(ciphertext []byte) (string, error) {
	md, err := openpgp.ReadMessage(bytes.NewReader(ciphertext), nil, func(_ []openpgp.Key, _ bool) ([]byte, error) {
		return s.passphrase, nil
	}, nil)
	if err != nil {
		return "", err
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

var _ core.SecretStore = (*Store)(nil)

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgegeo/aicache/vault"
)

// ErrNoEdgeCredentials is returned when a client has no usable edge
// configuration (account, namespace or API token missing).
var ErrNoEdgeCredentials = errors.New("registry: edge credentials not configured")

// ErrNoLLMKey is returned when neither the client nor the deployment
// carries an LLM API key.
var ErrNoLLMKey = errors.New("registry: no llm api key configured")

// Registry is the tenant registry service. It owns the client store and
// seals credentials at rest; plaintext secrets only exist in memory while
// a request is being served.
type Registry struct {
	store  *Store
	sealer vault.Sealer

	// fallbackLLMKey is the deployment-wide key used when a client has
	// no key of its own.
	fallbackLLMKey string

	logger *slog.Logger
}

// New creates a Registry. The sealer is required; fallbackLLMKey may be
// empty, in which case clients without their own key cannot rewrite.
func New(store *Store, sealer vault.Sealer, fallbackLLMKey string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, sealer: sealer, fallbackLLMKey: fallbackLLMKey, logger: logger}
}

// Store exposes the underlying client store.
func (r *Registry) Store() *Store { return r.store }

// CreateClient registers a new client. Plaintext credentials, when given,
// are sealed before the row is written.
func (r *Registry) CreateClient(ctx context.Context, c *Client, edgeToken, llmKey string) error {
	if c.Name == "" || c.Domain == "" {
		return errors.New("registry: name and domain are required")
	}
	if err := r.sealInto(c, edgeToken, llmKey); err != nil {
		return err
	}
	if err := r.store.Create(ctx, c); err != nil {
		return err
	}
	r.logger.Info("client created", "client_id", c.ID, "domain", c.Domain)
	return nil
}

// UpdateClient updates a client's profile. Empty credential strings leave
// the stored ciphertext untouched; non-empty ones replace it.
func (r *Registry) UpdateClient(ctx context.Context, c *Client, edgeToken, llmKey string) error {
	existing, err := r.store.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	c.EdgeAPIToken = existing.EdgeAPIToken
	c.LLMAPIKey = existing.LLMAPIKey
	if err := r.sealInto(c, edgeToken, llmKey); err != nil {
		return err
	}
	return r.store.Update(ctx, c)
}

func (r *Registry) sealInto(c *Client, edgeToken, llmKey string) error {
	if edgeToken != "" {
		sealed, err := r.sealer.Seal(edgeToken)
		if err != nil {
			return fmt.Errorf("registry: seal edge token: %w", err)
		}
		c.EdgeAPIToken = sealed
	}
	if llmKey != "" {
		sealed, err := r.sealer.Seal(llmKey)
		if err != nil {
			return fmt.Errorf("registry: seal llm key: %w", err)
		}
		c.LLMAPIKey = sealed
	}
	return nil
}

// EdgeToken returns the client's plaintext edge API token. There is no
// deployment-wide fallback for edge credentials: each client publishes
// into its own account.
func (r *Registry) EdgeToken(c *Client) (string, error) {
	if c.EdgeAccountID == "" || c.EdgeKVNamespaceID == "" || len(c.EdgeAPIToken) == 0 {
		return "", ErrNoEdgeCredentials
	}
	token, err := r.sealer.Open(c.EdgeAPIToken)
	if err != nil {
		return "", fmt.Errorf("registry: open edge token: %w", err)
	}
	return token, nil
}

// RevealSecrets unseals a client's stored credentials into a SecretView
// for an explicit include-secrets read. Absent credentials stay empty;
// no fallback key is substituted.
func (r *Registry) RevealSecrets(c *Client) (*SecretView, error) {
	sv := &SecretView{View: c.AsView()}
	if len(c.EdgeAPIToken) > 0 {
		token, err := r.sealer.Open(c.EdgeAPIToken)
		if err != nil {
			return nil, fmt.Errorf("registry: open edge token: %w", err)
		}
		sv.EdgeAPIToken = token
	}
	if len(c.LLMAPIKey) > 0 {
		key, err := r.sealer.Open(c.LLMAPIKey)
		if err != nil {
			return nil, fmt.Errorf("registry: open llm key: %w", err)
		}
		sv.LLMAPIKey = key
	}
	return sv, nil
}

// LLMKey resolves the key used for content rewriting: the client's own
// key when present, otherwise the deployment fallback.
func (r *Registry) LLMKey(c *Client) (string, error) {
	if len(c.LLMAPIKey) > 0 {
		key, err := r.sealer.Open(c.LLMAPIKey)
		if err != nil {
			return "", fmt.Errorf("registry: open llm key: %w", err)
		}
		return key, nil
	}
	if r.fallbackLLMKey != "" {
		return r.fallbackLLMKey, nil
	}
	return "", ErrNoLLMKey
}

package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/config"
)

// ErrUnknownCredential is returned by a provider that does not recognise
// the credential. Resolvers cache this answer negatively.
var ErrUnknownCredential = errors.New("unknown credential")

// Subscription is a provider's answer for a credential.
type Subscription struct {
	Subject string `json:"subject"`
	Tier    string `json:"tier"`
}

// Provider is the authoritative identity and tier store.
type Provider interface {
	Lookup(ctx context.Context, cred Credential) (Subscription, error)
}

// StaticProvider answers from API keys listed in configuration. Bearer
// tokens are looked up in the same table.
type StaticProvider struct {
	keys map[string]Subscription
}

// NewStaticProvider creates a provider from configured API keys.
func NewStaticProvider(keys map[string]config.APIKeyEntry) *StaticProvider {
	p := &StaticProvider{keys: make(map[string]Subscription, len(keys))}
	for k, e := range keys {
		p.keys[k] = Subscription{Subject: e.Subject, Tier: e.Tier}
	}
	return p
}

// Lookup implements Provider.
func (p *StaticProvider) Lookup(_ context.Context, cred Credential) (Subscription, error) {
	sub, ok := p.keys[cred.Value]
	if !ok {
		return Subscription{}, ErrUnknownCredential
	}
	return sub, nil
}

// maxProviderBody bounds the provider response we are willing to decode.
const maxProviderBody = 64 << 10

// HTTPProvider asks an external service for the caller's subscription. The
// credential is forwarded in the header it arrived in.
type HTTPProvider struct {
	url          string
	client       *http.Client
	timeout      time.Duration
	apiKeyHeader string
}

// NewHTTPProvider creates an HTTP provider. A nil client uses a default one.
func NewHTTPProvider(url string, timeout time.Duration, apiKeyHeader string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{
		url:          url,
		client:       client,
		timeout:      timeout,
		apiKeyHeader: apiKeyHeader,
	}
}

// Lookup implements Provider. 401, 403 and 404 mean the credential is
// unknown; any other non-200 status is a provider failure.
func (p *HTTPProvider) Lookup(ctx context.Context, cred Credential) (Subscription, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return Subscription{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cred.Kind == CredentialAPIKey {
		req.Header.Set(p.apiKeyHeader, cred.Value)
	} else {
		req.Header.Set("Authorization", "Bearer "+cred.Value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Subscription{}, fmt.Errorf("tier provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return Subscription{}, ErrUnknownCredential
	default:
		return Subscription{}, fmt.Errorf("tier provider returned status %d", resp.StatusCode)
	}

	var sub Subscription
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderBody)).Decode(&sub); err != nil {
		return Subscription{}, fmt.Errorf("decode tier provider response: %w", err)
	}
	if sub.Subject == "" {
		return Subscription{}, errors.New("tier provider response without subject")
	}
	return sub, nil
}

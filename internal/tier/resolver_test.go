package tier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tiergate/internal/cache"
	"github.com/vyrodovalexey/tiergate/internal/config"
)

// countingProvider wraps a provider and counts lookups.
type countingProvider struct {
	calls atomic.Int32
	fn    func(Credential) (Subscription, error)
}

func (p *countingProvider) Lookup(_ context.Context, cred Credential) (Subscription, error) {
	p.calls.Add(1)
	return p.fn(cred)
}

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(config.DefaultTiers(), "free")
	require.NoError(t, err)
	return table
}

func TestNewTable(t *testing.T) {
	table := testTable(t)

	assert.Equal(t, "free", table.Default().Name)
	p, ok := table.Get("unlimited")
	require.True(t, ok)
	assert.True(t, p.Unlimited)
	assert.Len(t, table.All(), 5)

	_, err := NewTable(config.DefaultTiers(), "gold")
	assert.Error(t, err)
}

func TestResolver_Anonymous(t *testing.T) {
	provider := &countingProvider{fn: func(Credential) (Subscription, error) { return Subscription{}, nil }}
	r := NewResolver(testTable(t), provider)

	id := r.Resolve(context.Background(), Credential{}, "10.0.0.1")

	assert.True(t, id.Anonymous)
	assert.Equal(t, "10.0.0.1", id.Subject)
	assert.Equal(t, "ip:10.0.0.1", id.Key())
	assert.Equal(t, "free", id.Tier.Name)
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestResolver_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		sub           Subscription
		err           error
		wantAnonymous bool
		wantTier      string
	}{
		{name: "resolved", sub: Subscription{Subject: "alice", Tier: "professional"}, wantTier: "professional"},
		{name: "unknown tier name", sub: Subscription{Subject: "bob", Tier: "platinum"}, wantTier: "free"},
		{name: "unknown credential", err: ErrUnknownCredential, wantAnonymous: true, wantTier: "free"},
		{name: "provider down", err: errors.New("dial tcp: refused"), wantAnonymous: true, wantTier: "free"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &countingProvider{fn: func(Credential) (Subscription, error) { return tt.sub, tt.err }}
			r := NewResolver(testTable(t), provider)

			id := r.Resolve(context.Background(), Credential{Kind: CredentialBearer, Value: "tok"}, "10.0.0.2")

			assert.Equal(t, tt.wantAnonymous, id.Anonymous)
			assert.Equal(t, tt.wantTier, id.Tier.Name)
			if !tt.wantAnonymous {
				assert.Equal(t, "user:"+tt.sub.Subject, id.Key())
			}
		})
	}
}

func TestResolver_CachesPositiveAndNegative(t *testing.T) {
	provider := &countingProvider{fn: func(c Credential) (Subscription, error) {
		if c.Value == "good" {
			return Subscription{Subject: "alice", Tier: "starter"}, nil
		}
		return Subscription{}, ErrUnknownCredential
	}}
	c := cache.NewMemoryCache(100, time.Minute)
	defer c.Close()

	r := NewResolver(testTable(t), provider, WithCache(c, time.Minute, time.Minute))
	ctx := context.Background()
	good := Credential{Kind: CredentialAPIKey, Value: "good"}
	bad := Credential{Kind: CredentialAPIKey, Value: "bad"}

	for i := 0; i < 3; i++ {
		id := r.Resolve(ctx, good, "1.1.1.1")
		assert.Equal(t, "starter", id.Tier.Name)
		assert.True(t, r.Resolve(ctx, bad, "1.1.1.1").Anonymous)
	}

	assert.Equal(t, int32(2), provider.calls.Load(), "one lookup per credential")
}

func TestResolver_DoesNotCacheFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	provider := &countingProvider{fn: func(Credential) (Subscription, error) {
		if fail.Load() {
			return Subscription{}, errors.New("timeout")
		}
		return Subscription{Subject: "alice", Tier: "enterprise"}, nil
	}}
	c := cache.NewMemoryCache(100, time.Minute)
	defer c.Close()

	r := NewResolver(testTable(t), provider, WithCache(c, time.Minute, time.Minute))
	cred := Credential{Kind: CredentialBearer, Value: "tok"}

	assert.Equal(t, "free", r.Resolve(context.Background(), cred, "1.1.1.1").Tier.Name)

	fail.Store(false)
	assert.Equal(t, "enterprise", r.Resolve(context.Background(), cred, "1.1.1.1").Tier.Name)
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(map[string]config.APIKeyEntry{"k1": {Subject: "alice", Tier: "starter"}})

	sub, err := p.Lookup(context.Background(), Credential{Kind: CredentialAPIKey, Value: "k1"})
	require.NoError(t, err)
	assert.Equal(t, Subscription{Subject: "alice", Tier: "starter"}, sub)

	_, err = p.Lookup(context.Background(), Credential{Kind: CredentialAPIKey, Value: "nope"})
	assert.ErrorIs(t, err, ErrUnknownCredential)
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Header.Get("Authorization") == "Bearer good" || r.Header.Get("X-API-Key") == "good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"subject":"alice","tier":"professional"}`))
		case r.Header.Get("Authorization") == "Bearer slow":
			time.Sleep(200 * time.Millisecond)
		case r.Header.Get("Authorization") == "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 50*time.Millisecond, "X-API-Key", nil)
	ctx := context.Background()

	sub, err := p.Lookup(ctx, Credential{Kind: CredentialBearer, Value: "good"})
	require.NoError(t, err)
	assert.Equal(t, "professional", sub.Tier)

	sub, err = p.Lookup(ctx, Credential{Kind: CredentialAPIKey, Value: "good"})
	require.NoError(t, err)
	assert.Equal(t, "alice", sub.Subject)

	_, err = p.Lookup(ctx, Credential{Kind: CredentialBearer, Value: "who"})
	assert.ErrorIs(t, err, ErrUnknownCredential)

	_, err = p.Lookup(ctx, Credential{Kind: CredentialBearer, Value: "broken"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownCredential)

	_, err = p.Lookup(ctx, Credential{Kind: CredentialBearer, Value: "slow"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownCredential)
}

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    Credential
	}{
		{name: "none", want: Credential{}},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer abc"}, want: Credential{Kind: CredentialBearer, Value: "abc"}},
		{name: "bearer lowercase", headers: map[string]string{"Authorization": "bearer abc"}, want: Credential{Kind: CredentialBearer, Value: "abc"}},
		{name: "basic ignored", headers: map[string]string{"Authorization": "Basic abc"}, want: Credential{}},
		{name: "api key", headers: map[string]string{"X-API-Key": "k1"}, want: Credential{Kind: CredentialAPIKey, Value: "k1"}},
		{
			name:    "bearer wins",
			headers: map[string]string{"Authorization": "Bearer abc", "X-API-Key": "k1"},
			want:    Credential{Kind: CredentialBearer, Value: "abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractCredential(r, "X-API-Key"))
		})
	}
}

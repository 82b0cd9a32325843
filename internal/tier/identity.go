package tier

import (
	"net/http"
	"strings"
)

// CredentialKind tells how a credential was presented.
type CredentialKind string

// Credential kinds.
const (
	CredentialNone   CredentialKind = ""
	CredentialBearer CredentialKind = "bearer"
	CredentialAPIKey CredentialKind = "apikey"
)

// Credential is the raw token presented by the caller. It is never logged.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// Empty reports whether no credential was presented.
func (c Credential) Empty() bool {
	return c.Kind == CredentialNone || c.Value == ""
}

// ExtractCredential reads a bearer token from Authorization, falling back
// to the API key header.
func ExtractCredential(r *http.Request, apiKeyHeader string) Credential {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return Credential{Kind: CredentialBearer, Value: token}
			}
		}
	}
	if apiKeyHeader != "" {
		if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
			return Credential{Kind: CredentialAPIKey, Value: key}
		}
	}
	return Credential{}
}

// Identity is the caller as resolved by the gateway.
type Identity struct {
	// Subject is the authenticated subject id, or the client address for
	// anonymous callers.
	Subject string
	// Anonymous is true when no credential resolved to a subject.
	Anonymous bool
	Tier      Policy
}

// Key returns the identity's rate-limit and usage key. Anonymous and
// authenticated namespaces never collide.
func (i Identity) Key() string {
	if i.Anonymous {
		return "ip:" + i.Subject
	}
	return "user:" + i.Subject
}

package core

import "context"

// Request is a single authenticated call to the remote service. Body is the
// encoded JSON envelope; the transport adds framing.
type Request struct {
	Token string
	Body  []byte
}

// Transport defines the contract for talking to the authoritative service.
// Implementations report rejected credentials as *AuthError, transient
// failures as *NetworkError and the server's resync signal as
// *ResyncRequiredError. Response bodies are returned undecoded so that parse
// failures stay distinguishable from network failures.
type Transport interface {
	// Changes pushes local deltas and returns remote changes since the
	// request's target version.
	Changes(ctx context.Context, req Request) ([]byte, error)

	// FullDump pushes local deltas and returns the entire remote node set.
	FullDump(ctx context.Context, req Request) ([]byte, error)
}

// Authenticator supplies bearer credentials. Acquiring the initial credential
// is the caller's business.
type Authenticator interface {
	// Token returns the current credential.
	Token(ctx context.Context) (string, error)

	// Refresh discards the current credential and obtains a new one. It is
	// invoked after the server rejects a credential.
	Refresh(ctx context.Context) (string, error)
}

// IDAllocator issues provisional node IDs before the server assigns
// permanent ones.
type IDAllocator interface {
	Next() string
	IsProvisional(id string) bool
}

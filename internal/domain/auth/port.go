package auth

import "context"

// CredentialStore port (secure key-value collaborator holding the PIN
// credential). Get returns ErrCredentialNotFound when nothing is enrolled.
type CredentialStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, credential string) error
	Delete(ctx context.Context) error
}

// Biometric port. Attempt returns (true, nil) on success; any failure is a
// *BiometricError.
type Biometric interface {
	Available(ctx context.Context) bool
	Kind() BiometricKind
	Attempt(ctx context.Context, reason string) (bool, error)
}

// PinHasher turns a PIN into the stored credential and checks it back.
type PinHasher interface {
	Hash(pin string) (string, error)
	Verify(pin, credential string) (bool, error)
}

package dispatch

import "context"

// Authenticator verifies a student identifier and credential pair.
type Authenticator interface {
	Verify(ctx context.Context, studentID, credential string) (bool, error)
}

// AcceptAll accepts every credential. It is a placeholder that keeps the
// login flow usable until a real student directory is plugged in.
type AcceptAll struct{}

// Verify always reports true.
func (AcceptAll) Verify(context.Context, string, string) (bool, error) {
	return true, nil
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, studentID, credential string) (bool, error)

// Verify calls f.
func (f AuthenticatorFunc) Verify(ctx context.Context, studentID, credential string) (bool, error) {
	return f(ctx, studentID, credential)
}

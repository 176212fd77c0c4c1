package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"

	"hadydotai/beacon/admission"
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Authenticator verifies Firebase ID tokens.
type Authenticator struct {
	client idTokenVerifier
}

func NewAuthenticator(client idTokenVerifier) *Authenticator {
	return &Authenticator{client: client}
}

func (a *Authenticator) Verify(ctx context.Context, token string) (admission.Subject, error) {
	tok, err := a.client.VerifyIDToken(ctx, token)
	if err != nil {
		return admission.Subject{}, fmt.Errorf("%w: %v", admission.ErrInvalidToken, err)
	}
	return admission.Subject{ID: tok.UID, Claims: tok.Claims}, nil
}

package admission

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrInvalidToken = errors.New("admission: token rejected")

// Subject is the verified identity behind a bearer token.
type Subject struct {
	ID     string
	Claims map[string]any
}

// Verifier checks a bearer token, typically over the network.
type Verifier interface {
	Verify(ctx context.Context, token string) (Subject, error)
}

type subjectKey struct{}

func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

func SubjectFrom(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(subjectKey{}).(Subject)
	return s, ok
}

// BearerToken extracts the credential from "Authorization: Bearer <token>".
func BearerToken(h http.Header) (string, bool) {
	value := strings.TrimSpace(h.Get("Authorization"))
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// StaticVerifier accepts a fixed token to subject table. Meant for local runs
// and tests where no identity provider is reachable.
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	cp := make(map[string]string, len(tokens))
	for token, subject := range tokens {
		cp[token] = subject
	}
	return &StaticVerifier{tokens: cp}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (Subject, error) {
	for known, subject := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return Subject{ID: subject}, nil
		}
	}
	return Subject{}, ErrInvalidToken
}

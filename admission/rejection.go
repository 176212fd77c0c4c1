package admission

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies why a request was refused at the gate.
type Kind uint8

const (
	KindInvalidInput Kind = iota + 1
	KindUnauthenticated
	KindForbidden
	KindTooManyRequests
	KindPayloadTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindPayloadTooLarge:
		return "payload_too_large"
	default:
		return "unknown"
	}
}

// Rejection is returned by Pipeline.Admit when a request fails a gate. None of
// the kinds are worth retrying as-is, except TooManyRequests after RetryAfter.
type Rejection struct {
	Kind       Kind
	Fields     []string
	RetryAfter time.Duration
	Err        error
}

func (r *Rejection) Error() string {
	switch r.Kind {
	case KindInvalidInput:
		if len(r.Fields) > 0 {
			return "missing or invalid fields: " + strings.Join(r.Fields, ", ")
		}
		if r.Err != nil {
			return "invalid request body: " + r.Err.Error()
		}
		return "invalid request body"
	case KindUnauthenticated:
		return "missing bearer token"
	case KindForbidden:
		return "invalid bearer token"
	case KindTooManyRequests:
		return fmt.Sprintf("rate limit exceeded, retry in %s", r.RetryAfter.Round(time.Second))
	case KindPayloadTooLarge:
		var mbe *http.MaxBytesError
		if errors.As(r.Err, &mbe) {
			return fmt.Sprintf("request body exceeds %d bytes", mbe.Limit)
		}
		return "request body too large"
	default:
		return "request rejected"
	}
}

func (r *Rejection) Unwrap() error { return r.Err }

// Status maps the rejection onto an HTTP status code.
func (r *Rejection) Status() int {
	switch r.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (r *Rejection) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	return max(secs, 1)
}

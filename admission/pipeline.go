package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"hadydotai/beacon/events"
)

const maxBodyBytes = 1 << 20

// Gates selects which checks a route runs after shape validation.
type Gates struct {
	Authenticate bool
	RateLimit    bool
}

var (
	GatesNone = Gates{}
	GatesAuth = Gates{Authenticate: true}
	GatesFull = Gates{Authenticate: true, RateLimit: true}
)

// ParseGates maps the configuration names none, auth and full onto Gates.
func ParseGates(name string) (Gates, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return GatesNone, nil
	case "auth":
		return GatesAuth, nil
	case "full":
		return GatesFull, nil
	default:
		return Gates{}, fmt.Errorf("admission: unknown gate preset %q", name)
	}
}

func (g Gates) String() string {
	switch g {
	case GatesNone:
		return "none"
	case GatesAuth:
		return "auth"
	case GatesFull:
		return "full"
	default:
		return "ratelimit"
	}
}

type PipelineConfig struct {
	Verifier   Verifier
	Limiter    *Limiter
	TrustProxy bool
	Logger     *slog.Logger
}

type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewLimiter(DefaultRateLimit, DefaultRateWindow)
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger.With("component", "admission")}
}

// Admit reads the body, hands it to decode and then runs the gates in order:
// authentication, then rate limiting. The first failure is returned as a
// *Rejection; only the rate limit counter is touched on the way. The returned
// context carries the verified Subject when authentication ran.
func (p *Pipeline) Admit(r *http.Request, gates Gates, decode func([]byte) error) (context.Context, error) {
	ctx := r.Context()

	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return ctx, &Rejection{Kind: KindPayloadTooLarge, Err: err}
		}
		return ctx, &Rejection{Kind: KindInvalidInput, Err: err}
	}
	if err := decode(raw); err != nil {
		var fe *events.FieldError
		if errors.As(err, &fe) {
			return ctx, &Rejection{Kind: KindInvalidInput, Fields: fe.Fields, Err: err}
		}
		return ctx, &Rejection{Kind: KindInvalidInput, Err: err}
	}

	return p.gate(r, gates)
}

// Guard runs only the auth and rate limit gates, for routes without a body.
func (p *Pipeline) Guard(r *http.Request, gates Gates) (context.Context, error) {
	return p.gate(r, gates)
}

func (p *Pipeline) gate(r *http.Request, gates Gates) (context.Context, error) {
	ctx := r.Context()

	if gates.Authenticate {
		token, ok := BearerToken(r.Header)
		if !ok {
			return ctx, &Rejection{Kind: KindUnauthenticated}
		}
		if p.cfg.Verifier == nil {
			return ctx, &Rejection{Kind: KindForbidden, Err: errors.New("admission: no verifier configured")}
		}
		subject, err := p.cfg.Verifier.Verify(ctx, token)
		if err != nil {
			p.logger.InfoContext(ctx, "token verification failed", "err", err)
			return ctx, &Rejection{Kind: KindForbidden, Err: err}
		}
		ctx = WithSubject(ctx, subject)
	}

	if gates.RateLimit {
		key := ClientIdentity(r, p.cfg.TrustProxy)
		if ok, retryAfter := p.cfg.Limiter.Allow(key); !ok {
			p.logger.InfoContext(ctx, "rate limit exceeded", "client", key, "retry_after", retryAfter)
			return ctx, &Rejection{Kind: KindTooManyRequests, RetryAfter: retryAfter}
		}
	}
	return ctx, nil
}

// ClientIdentity is the key requests are rate limited under: the remote host,
// or the first X-Forwarded-For hop when the service sits behind a proxy.
func ClientIdentity(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

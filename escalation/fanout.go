package escalation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"hadydotai/beacon/events"
)

const AlertTitle = "Emergency alert"

// Directory resolves the push tokens of everyone who should hear about a
// subject's escalation.
type Directory interface {
	TokensFor(ctx context.Context, subjectID string) ([]string, error)
}

// Notifier delivers one push notification to one device token.
type Notifier interface {
	Send(ctx context.Context, token string, n Notification) error
}

type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

type Failure struct {
	Token string `json:"token"`
	Err   error  `json:"-"`
}

// Report summarises one fan-out. Attempted always equals Succeeded + Failed.
type Report struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"-"`
}

type Config struct {
	MaxParallel int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

type Fanout struct {
	directory Directory
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
}

func NewFanout(directory Directory, notifier Notifier, cfg Config) (*Fanout, error) {
	if directory == nil || notifier == nil {
		return nil, errors.New("escalation: directory and notifier are required")
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 16
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fanout{
		directory: directory,
		notifier:  notifier,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "fanout"),
	}, nil
}

// Escalate notifies every recipient of evt.SubjectID concurrently. A failed
// send is recorded in the report and never stops the others; the only error
// returned is a failed directory lookup.
func (f *Fanout) Escalate(ctx context.Context, evt events.EscalationEvent) (Report, error) {
	tokens, err := f.directory.TokensFor(ctx, evt.SubjectID)
	if err != nil {
		return Report{}, fmt.Errorf("escalation: lookup recipients for %q: %w", evt.SubjectID, err)
	}
	tokens = uniqueTokens(tokens)
	if len(tokens) == 0 {
		f.logger.InfoContext(ctx, "no recipients for escalation", "uid", evt.SubjectID)
		return Report{}, nil
	}

	msg := BuildNotification(evt)
	errs := make([]error, len(tokens))
	sem := make(chan struct{}, f.cfg.MaxParallel)

	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			sendCtx, cancel := context.WithTimeout(ctx, f.cfg.SendTimeout)
			defer cancel()
			errs[i] = f.notifier.Send(sendCtx, token, msg)
		})
	}
	wg.Wait()

	report := Report{Attempted: len(tokens)}
	for i, err := range errs {
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, Failure{Token: tokens[i], Err: err})
			f.logger.WarnContext(ctx, "push notification failed", "uid", evt.SubjectID, "err", err)
			continue
		}
		report.Succeeded++
	}
	f.logger.InfoContext(ctx, "escalation fan-out complete",
		"uid", evt.SubjectID,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

// BuildNotification renders the alert text and carries the structured event
// alongside it.
func BuildNotification(evt events.EscalationEvent) Notification {
	data := evt.Strings()
	data["uid"] = evt.SubjectID
	return Notification{
		Title: AlertTitle,
		Body: fmt.Sprintf("%s needs help at %s, %s (phone %s, %s)",
			evt.Name,
			strconv.FormatFloat(evt.Latitude, 'f', -1, 64),
			strconv.FormatFloat(evt.Longitude, 'f', -1, 64),
			evt.PhoneNo,
			evt.Time,
		),
		Data: data,
	}
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// LogNotifier writes notifications to the log instead of pushing them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, token string, msg Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "push notification", "token_hash", TokenHash(token), "title", msg.Title, "body", msg.Body)
	return nil
}

// TokenHash is a short stable fingerprint of a device token, safe to log.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

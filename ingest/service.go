package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hadydotai/beacon/escalation"
	"hadydotai/beacon/events"
	"hadydotai/beacon/relay"
)

// Store is the durable append log events land in before anything else
// happens to them.
type Store interface {
	Append(ctx context.Context, rec events.Record) (string, error)
	ReadAll(ctx context.Context) ([]events.Record, error)
}

// Distributor hands an event to one live subscriber.
type Distributor interface {
	Distribute(evt events.Event) (relay.Delivery, error)
}

// Escalator notifies a subject's recipients.
type Escalator interface {
	Escalate(ctx context.Context, evt events.EscalationEvent) (escalation.Report, error)
}

// UpstreamError wraps a failure of the store. Nothing has been distributed
// when it is returned.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("ingest: %s: %v", e.Op, e.Err) }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Result describes what happened to an accepted event.
type Result struct {
	ID       string
	Delivery relay.Delivery
	Report   *escalation.Report
}

type Service struct {
	store       Store
	distributor Distributor
	escalator   Escalator
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store Store, distributor Distributor, escalator Escalator, logger *slog.Logger) (*Service, error) {
	if store == nil || distributor == nil {
		return nil, errors.New("ingest: store and distributor are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		distributor: distributor,
		escalator:   escalator,
		logger:      logger.With("component", "ingest"),
		now:         time.Now,
	}, nil
}

// Ingest persists evt and then hands it to the distributor. Distribution
// trouble is logged, not returned: once the event is stored the request has
// succeeded.
func (s *Service) Ingest(ctx context.Context, evt events.Event) (Result, error) {
	id, err := s.store.Append(ctx, events.Record{Event: evt, ReceivedAt: s.now().UTC()})
	if err != nil {
		return Result{}, &UpstreamError{Op: "append", Err: err}
	}

	res := Result{ID: id}
	delivery, err := s.distributor.Distribute(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "distribution failed", "id", id, "err", err)
		return res, nil
	}
	res.Delivery = delivery
	return res, nil
}

// Escalate runs Ingest and then waits for the notification fan-out. Fan-out
// failures end up in Result.Report and the log, never in the returned error.
func (s *Service) Escalate(ctx context.Context, evt events.EscalationEvent) (Result, error) {
	res, err := s.Ingest(ctx, evt.Event)
	if err != nil {
		return Result{}, err
	}
	if s.escalator == nil {
		s.logger.WarnContext(ctx, "escalation requested but no escalator configured", "id", res.ID, "uid", evt.SubjectID)
		return res, nil
	}

	report, err := s.escalator.Escalate(ctx, evt)
	if err != nil {
		s.logger.ErrorContext(ctx, "escalation fan-out failed", "id", res.ID, "uid", evt.SubjectID, "err", err)
	}
	res.Report = &report
	return res, nil
}

func (s *Service) Events(ctx context.Context) ([]events.Record, error) {
	recs, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, &UpstreamError{Op: "read", Err: err}
	}
	return recs, nil
}

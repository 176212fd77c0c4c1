package firebase

import (
	"context"
	"fmt"
	"slices"
	"time"

	"hadydotai/beacon/events"
)

// storedEvent is the document shape under the events node. Keys match the
// fields the mobile clients already read.
type storedEvent struct {
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Time       string  `json:"time"`
	Name       string  `json:"name"`
	PhoneNo    string  `json:"phoneNo"`
	ReceivedAt int64   `json:"receivedAt"`
}

// Store appends events as pushed children of one database node.
type Store struct {
	node Node
}

func NewStore(node Node) *Store { return &Store{node: node} }

// Append pushes rec and returns the generated push key. rec.ID is ignored;
// the database assigns ids.
func (s *Store) Append(ctx context.Context, rec events.Record) (string, error) {
	received := rec.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	key, err := s.node.Push(ctx, storedEvent{
		Longitude:  rec.Event.Longitude,
		Latitude:   rec.Event.Latitude,
		Time:       rec.Event.Time,
		Name:       rec.Event.Name,
		PhoneNo:    rec.Event.PhoneNo,
		ReceivedAt: received.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("firebase: push event: %w", err)
	}
	return key, nil
}

// ReadAll loads the whole node. Push keys sort chronologically, so records
// come back in append order.
func (s *Store) ReadAll(ctx context.Context) ([]events.Record, error) {
	var docs map[string]storedEvent
	if err := s.node.Get(ctx, &docs); err != nil {
		return nil, fmt.Errorf("firebase: read events: %w", err)
	}
	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]events.Record, 0, len(keys))
	for _, k := range keys {
		doc := docs[k]
		rec := events.Record{
			ID: k,
			Event: events.Event{
				Longitude: doc.Longitude,
				Latitude:  doc.Latitude,
				Time:      doc.Time,
				Name:      doc.Name,
				PhoneNo:   doc.PhoneNo,
			},
		}
		if doc.ReceivedAt > 0 {
			rec.ReceivedAt = time.UnixMilli(doc.ReceivedAt).UTC()
		}
		out = append(out, rec)
	}
	return out, nil
}

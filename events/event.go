package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedBody = errors.New("events: body is not a JSON object")

// Event is a single location report. It is a value type and is never mutated
// after decoding.
type Event struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Time      string  `json:"time"`
	Name      string  `json:"name"`
	PhoneNo   string  `json:"phoneNo"`
}

// EscalationEvent is an Event raised on behalf of a subject whose contacts
// must be notified.
type EscalationEvent struct {
	Event
	SubjectID string `json:"uid"`
}

// Record is the stored form of an Event.
type Record struct {
	ID         string    `json:"id"`
	Event      Event     `json:"event"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// FieldError lists the fields that were missing or carried the wrong JSON type.
type FieldError struct {
	Fields []string
}

func (e *FieldError) Error() string {
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

// Strings flattens the event into string pairs, used for push payload data.
func (e Event) Strings() map[string]string {
	return map[string]string{
		"longitude": strconv.FormatFloat(e.Longitude, 'f', -1, 64),
		"latitude":  strconv.FormatFloat(e.Latitude, 'f', -1, 64),
		"time":      e.Time,
		"name":      e.Name,
		"phoneNo":   e.PhoneNo,
	}
}

// DecodeEvent decodes and validates an ingest body. Every field is required:
// coordinates must be JSON numbers and the rest JSON strings. A *FieldError is
// returned listing all offending fields, not just the first.
func DecodeEvent(raw []byte) (Event, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Event{}, err
	}
	var (
		evt     Event
		invalid []string
	)
	collectEvent(obj, &evt, &invalid)
	if len(invalid) > 0 {
		return Event{}, &FieldError{Fields: invalid}
	}
	return evt, nil
}

// DecodeEscalation is DecodeEvent plus a non-empty "uid".
func DecodeEscalation(raw []byte) (EscalationEvent, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return EscalationEvent{}, err
	}
	var (
		evt     EscalationEvent
		invalid []string
	)
	collectEvent(obj, &evt.Event, &invalid)
	if !stringField(obj, "uid", &evt.SubjectID) || evt.SubjectID == "" {
		invalid = append(invalid, "uid")
	}
	if len(invalid) > 0 {
		return EscalationEvent{}, &FieldError{Fields: invalid}
	}
	return evt, nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if obj == nil {
		return nil, ErrMalformedBody
	}
	return obj, nil
}

func collectEvent(obj map[string]json.RawMessage, evt *Event, invalid *[]string) {
	if !numberField(obj, "longitude", &evt.Longitude) {
		*invalid = append(*invalid, "longitude")
	}
	if !numberField(obj, "latitude", &evt.Latitude) {
		*invalid = append(*invalid, "latitude")
	}
	if !stringField(obj, "time", &evt.Time) {
		*invalid = append(*invalid, "time")
	}
	if !stringField(obj, "name", &evt.Name) {
		*invalid = append(*invalid, "name")
	}
	if !stringField(obj, "phoneNo", &evt.PhoneNo) {
		*invalid = append(*invalid, "phoneNo")
	}
}

var jsonNull = []byte("null")

func numberField(obj map[string]json.RawMessage, key string, dst *float64) bool {
	raw, ok := obj[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func stringField(obj map[string]json.RawMessage, key string, dst *string) bool {
	raw, ok := obj[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// Package event defines the telemetry event record shared by the queue,
// storage, and transport layers.
package event

import (
	"fmt"
	"time"

	"github.com/apptracker/apptracker-go/internal/property"
)

// Event is the atomic unit of the pipeline. The caller supplies Name,
// Timestamp, and Properties; AnonymousID, UserID, and SessionID are filled in
// by the queue at enqueue time (enrichment never overwrites a field already
// set). Once persisted, an event is immutable: it is deleted only after a
// batch containing it is acknowledged by the collector.
type Event struct {
	Name        string       `json:"eventName"`
	Timestamp   string       `json:"timestamp"` // ISO 8601 / RFC 3339
	AnonymousID string       `json:"anonymousId,omitempty"`
	UserID      string       `json:"userId,omitempty"`
	SessionID   string       `json:"sessionId,omitempty"`
	Properties  property.Map `json:"properties,omitempty"`
}

// New builds an event stamped with the current UTC time.
func New(name string, props property.Map) Event {
	return Event{
		Name:       name,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Properties: props,
	}
}

// Validate ensures the event carries the required fields.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("eventName is required")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

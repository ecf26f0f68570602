// Package testutil provides shared fakes for package tests.
package testutil

import (
	"sync"

	"github.com/dontdude/coderoom/internal/domain"
)

// Delivery is one event delivered to one connection.
type Delivery struct {
	ConnID  string
	Event   string
	Payload any
}

// Recorder is a domain.Broadcaster that records every delivery.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

var _ domain.Broadcaster = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send implements domain.Broadcaster.
func (r *Recorder) Send(connID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{ConnID: connID, Event: event, Payload: payload})
}

// Broadcast implements domain.Broadcaster.
func (r *Recorder) Broadcast(members []domain.Member, event string, payload any, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range members {
		if m.ID == except {
			continue
		}
		r.deliveries = append(r.deliveries, Delivery{ConnID: m.ID, Event: event, Payload: payload})
	}
}

// For returns the deliveries of one event to one connection, in order.
func (r *Recorder) For(connID, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, d := range r.deliveries {
		if d.ConnID == connID && d.Event == event {
			out = append(out, d.Payload)
		}
	}
	return out
}

// Events returns the names of all events delivered to connID, in order.
func (r *Recorder) Events(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.deliveries {
		if d.ConnID == connID {
			out = append(out, d.Event)
		}
	}
	return out
}

// Reset forgets all recorded deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

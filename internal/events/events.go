// Package events announces committed domain changes to external subscribers.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const TopicLedgerStatusChanged = "ledger/status_changed"

var ErrPublisherClosed = errors.New("publisher_closed")

// Publisher delivers an event payload on a topic. Implementations must be
// safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// LedgerStatusChanged is published after a ledger status transition commits.
type LedgerStatusChanged struct {
	LedgerID            string    `json:"ledger_id"`
	UserID              string    `json:"user_id"`
	Year                int       `json:"year"`
	From                string    `json:"from"`
	To                  string    `json:"to"`
	TotalCO2Tonnes      string    `json:"total_co2_tonnes"`
	RequiredOffsetUnits int64     `json:"required_offset_units"`
	ApprovedOffsetUnits int64     `json:"approved_offset_units"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

type Recorded struct {
	Topic   string
	Payload any
}

func (r *Recorder) Publish(_ context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Topic: topic, Payload: payload})
	return nil
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// JoinTopic prefixes topic, trimming stray slashes.
func JoinTopic(prefix, topic string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

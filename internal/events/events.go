// Package events publishes reconciliation outcomes to a message bus so
// other services can react to ledger changes.
package events

import (
	"context"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
)

const (
	TopicRowInserted      = "ledger.row.inserted"
	TopicRowDeleted       = "ledger.row.deleted"
	TopicPassCompleted    = "ledger.pass.completed"
	TopicMessageRefreshed = "ledger.message.refreshed"
)

type RowInserted struct {
	PassID   string     `json:"pass_id"`
	Identity string     `json:"identity"`
	Row      ledger.Row `json:"row"`
	Handle   string     `json:"handle,omitempty"`
	// Delivered is false when the notification could not be sent.
	Delivered bool `json:"delivered"`
}

type RowDeleted struct {
	PassID   string     `json:"pass_id"`
	Identity string     `json:"identity"`
	Row      ledger.Row `json:"row"`
	Handle   string     `json:"handle,omitempty"`
}

type PassCompleted struct {
	PassID       string        `json:"pass_id"`
	Bootstrap    bool          `json:"bootstrap"`
	Fetched      int           `json:"fetched"`
	Inserted     int           `json:"inserted"`
	Deleted      int           `json:"deleted"`
	Unchanged    int           `json:"unchanged"`
	SendFailures int           `json:"send_failures"`
	Saved        bool          `json:"saved"`
	Duration     time.Duration `json:"duration_ns"`
}

type MessageRefreshed struct {
	PassID   string `json:"pass_id"`
	Identity string `json:"identity"`
	Handle   string `json:"handle"`
	// Missing is set when the message no longer exists in the channel.
	Missing bool `json:"missing"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NewPublisher connects to NATS when url is set and otherwise returns a
// publisher that drops everything.
func NewPublisher(url string) (Publisher, error) {
	if url == "" {
		return &NoopPublisher{}, nil
	}
	return NewNATSPublisher(url)
}

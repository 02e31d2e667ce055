// Package notify defines the contract between the reconciler and the chat
// service that receives one message per ledger row.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrNotFound = errors.New("message not found")

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich message card.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
	Timestamp   time.Time
}

type Message struct {
	Content string
	Embeds  []Embed
}

// Notifier posts and edits messages in one configured channel. The
// returned handle identifies the created message for later edits.
type Notifier interface {
	CreateMessage(ctx context.Context, msg Message) (string, error)
	EditMessage(ctx context.Context, handle string, msg Message) error
}

// SendError is returned by notifier implementations for any failed call.
// It matches ErrNotFound when the service reported the target missing.
type SendError struct {
	Op         string
	Handle     string
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	target := e.Op
	if e.Handle != "" {
		target = fmt.Sprintf("%s %s", e.Op, e.Handle)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", target, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func (e *SendError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

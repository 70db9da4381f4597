// Package queue implements the two queue backends selectable via
// queue_request_url (spec §4.1, §6): a remote HTTP long-poll client and a
// local filesystem backend for queue_request_url=="local".
package queue

import (
	"context"
	"time"
)

// Kind distinguishes a session request from a local-mode status query
// (spec §6 "Local filesystem mode").
type Kind string

const (
	KindRequest     Kind = "request"
	KindStatusQuery Kind = "status_query"
)

// Message is one fetched queue entry: the raw bytes (so a parse failure can
// still be deleted as poison) plus an opaque receipt handle for
// delete/extend.
type Message struct {
	Body          []byte
	ReceiptHandle string
	Kind          Kind
}

// Queue is the consumer-facing contract the Request Dispatcher polls.
type Queue interface {
	// Fetch long-polls for up to max messages, waiting as long as wait
	// for at least one to arrive.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Delete removes a message permanently (poison, success, or a
	// successfully handled delete-action).
	Delete(ctx context.Context, receiptHandle string) error
	// Extend sets a message's visibility timeout to delta from now, hiding
	// it from consumers for that long; a zero delta returns it to the
	// queue immediately (spec §4.5 step 4).
	Extend(ctx context.Context, receiptHandle string, delta time.Duration) error
	// Respond delivers a response payload to the distinct response
	// channel, when configured; local-mode queues may no-op.
	Respond(ctx context.Context, body []byte) error
}
